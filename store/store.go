// Package store provides the key/value abstraction behind sessions,
// refresh-token records, and short-lived identity caches. Two
// implementations exist: a Redis-backed store for shared deployments and
// an in-process fallback for single-node or degraded operation. Callers
// depend only on the [Store] interface; the backend is chosen once at
// startup and never changes for the process lifetime.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = errors.New("store: key not found")

// ErrUnavailable wraps backend transport failures. It never indicates a
// missing key.
var ErrUnavailable = errors.New("store: backend unavailable")

// Store is the narrow contract every upstream component uses. All
// operations are single-key and atomic; the engine deliberately avoids
// multi-key transactions (see the refresh rotation notes in the session
// package).
type Store interface {
	// Put writes value under key with the given TTL. A non-positive TTL
	// is invalid.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// AddToSet adds member to the set stored at setKey, creating the set
	// if needed.
	AddToSet(ctx context.Context, setKey, member string) error

	// RemoveFromSet removes member from the set at setKey. Removing an
	// absent member is not an error.
	RemoveFromSet(ctx context.Context, setKey, member string) error

	// MembersOf returns the members of the set at setKey. An absent set
	// reads as empty, not as an error.
	MembersOf(ctx context.Context, setKey string) ([]string, error)
}

// Key layout. Everything the engine stores is namespaced by tenant first
// and subject second, so enumeration, cache eviction, and revocation are
// always tenant-scoped. This is a security boundary, not an optimization:
// no key ever addresses another tenant's data by accident.

func normalizeTenant(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

// SessionKey addresses a single session record.
func SessionKey(tenantID, sessionID string) string {
	return "tenant:" + normalizeTenant(tenantID) + ":session:" + sessionID
}

// RefreshKey addresses the hash of the single current refresh token for a
// session.
func RefreshKey(tenantID, sessionID string) string {
	return "tenant:" + normalizeTenant(tenantID) + ":session:" + sessionID + ":refresh"
}

// SubjectSessionsKey addresses the set of live session IDs for a subject.
func SubjectSessionsKey(tenantID, subjectID string) string {
	return "tenant:" + normalizeTenant(tenantID) + ":user:" + subjectID + ":sessions"
}

// IdentityKey addresses the cached resolved identity for a subject.
func IdentityKey(tenantID, subjectID string) string {
	return "tenant:" + normalizeTenant(tenantID) + ":user:" + subjectID + ":identity"
}
