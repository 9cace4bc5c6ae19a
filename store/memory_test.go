package store

import (
	"context"
	"sort"
	"testing"
	"time"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	if err := s.Put(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("expected v1, got %q", got)
	}

	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "k1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreDeleteAbsentKeyIsNoop(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()

	if err := s.Delete(context.Background(), "never-existed"); err != nil {
		t.Fatalf("expected nil deleting absent key, got %v", err)
	}
}

func TestMemoryStoreLazyExpiry(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	if err := s.Put(ctx, "short", []byte("x"), 50*time.Millisecond); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	// The sweep interval is one hour here, so only lazy expiry can make
	// the key absent.
	if _, err := s.Get(ctx, "short"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after TTL elapsed, got %v", err)
	}
}

func TestMemoryStoreSweepRemovesExpiredEntries(t *testing.T) {
	s := NewMemoryStore(20 * time.Millisecond)
	defer s.Close()
	ctx := context.Background()

	if err := s.Put(ctx, "doomed", []byte("x"), 10*time.Millisecond); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.RLock()
		_, present := s.values["doomed"]
		s.mu.RUnlock()
		if !present {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected sweep to remove expired entry")
}

func TestMemoryStoreSetOperations(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	if err := s.AddToSet(ctx, "set", "a"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := s.AddToSet(ctx, "set", "b"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := s.AddToSet(ctx, "set", "a"); err != nil {
		t.Fatalf("duplicate add failed: %v", err)
	}

	members, err := s.MembersOf(ctx, "set")
	if err != nil {
		t.Fatalf("members failed: %v", err)
	}
	sort.Strings(members)
	if len(members) != 2 || members[0] != "a" || members[1] != "b" {
		t.Fatalf("expected [a b], got %v", members)
	}

	if err := s.RemoveFromSet(ctx, "set", "a"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	members, err = s.MembersOf(ctx, "set")
	if err != nil {
		t.Fatalf("members failed: %v", err)
	}
	if len(members) != 1 || members[0] != "b" {
		t.Fatalf("expected [b], got %v", members)
	}

	if err := s.RemoveFromSet(ctx, "set", "missing"); err != nil {
		t.Fatalf("expected nil removing absent member, got %v", err)
	}
	if members, _ := s.MembersOf(ctx, "absent-set"); len(members) != 0 {
		t.Fatalf("expected empty members for absent set, got %v", members)
	}
}

func TestMemoryStoreValueIsolation(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	original := []byte("immutable")
	if err := s.Put(ctx, "k", original, time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	original[0] = 'X'

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != "immutable" {
		t.Fatalf("stored value mutated through caller slice: %q", got)
	}

	got[0] = 'Y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "immutable" {
		t.Fatalf("stored value mutated through returned slice: %q", again)
	}
}

func TestKeyNamespacingIsTenantScoped(t *testing.T) {
	if SessionKey("t1", "s1") == SessionKey("t2", "s1") {
		t.Fatal("session keys for different tenants must differ")
	}
	if SubjectSessionsKey("", "u1") != SubjectSessionsKey("0", "u1") {
		t.Fatal("empty tenant must normalize to the default tenant")
	}
	if SessionKey("t1", "s1") == RefreshKey("t1", "s1") {
		t.Fatal("session and refresh keys must not collide")
	}
}
