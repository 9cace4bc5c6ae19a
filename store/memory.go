package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultSweepInterval = 60 * time.Second

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is the in-process fallback used when no shared backend is
// configured or reachable at startup. It holds identical shapes to the
// Redis store in mutex-guarded maps and runs a single background sweep
// that deletes entries whose TTL has elapsed. Degraded, not broken:
// every engine operation works against it, but state is lost on restart
// and not shared across processes.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]memoryEntry
	sets   map[string]map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore creates a MemoryStore and starts its expiry sweep.
// sweepInterval <= 0 selects the 60s default. Call Close to stop the
// sweep goroutine.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}

	s := &MemoryStore{
		values: make(map[string]memoryEntry),
		sets:   make(map[string]map[string]struct{}),
		done:   make(chan struct{}),
	}

	go s.sweep(sweepInterval)

	return s
}

// sweep runs on exactly one goroutine per store; it is started once in
// NewMemoryStore and never restarted, so it cannot overlap with itself.
func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.mu.Lock()
			for key, entry := range s.values {
				if now.After(entry.expiresAt) {
					delete(s.values, key)
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// Close stops the expiry sweep. Safe to call more than once.
func (s *MemoryStore) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("store: ttl must be positive")
	}

	copied := make([]byte, len(value))
	copy(copied, value)

	s.mu.Lock()
	s.values[key] = memoryEntry{
		value:     copied,
		expiresAt: time.Now().Add(ttl),
	}
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.values[key]
	s.mu.RUnlock()

	// Lazy expiry: a key past its TTL must read as absent even if the
	// sweep has not reached it yet.
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}

	copied := make([]byte, len(entry.value))
	copy(copied, entry.value)
	return copied, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) AddToSet(_ context.Context, setKey, member string) error {
	s.mu.Lock()
	set, ok := s.sets[setKey]
	if !ok {
		set = make(map[string]struct{})
		s.sets[setKey] = set
	}
	set[member] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) RemoveFromSet(_ context.Context, setKey, member string) error {
	s.mu.Lock()
	if set, ok := s.sets[setKey]; ok {
		delete(set, member)
		if len(set) == 0 {
			delete(s.sets, setKey)
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) MembersOf(_ context.Context, setKey string) ([]string, error) {
	s.mu.RLock()
	set := s.sets[setKey]
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	s.mu.RUnlock()
	return members, nil
}
