package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/authgate/authgate/internal"
	"github.com/authgate/authgate/store"
	"github.com/authgate/authgate/token"
)

// ErrNotFound is returned when the session behind a token no longer
// exists or has expired.
var ErrNotFound = errors.New("session: not found")

// ErrRefreshMismatch is returned when a presented refresh token is not
// the current one for its session. The session is revoked before this
// error is returned: a replayed refresh token is treated as theft.
var ErrRefreshMismatch = errors.New("session: refresh token mismatch")

const (
	defaultMaxPerSubject = 5
	defaultTTL           = 7 * 24 * time.Hour
	defaultRememberTTL   = 30 * 24 * time.Hour
	csrfTokenBytes       = 32
)

// Config bounds session lifetimes and concurrency.
type Config struct {
	// TTL is the absolute session lifetime. RememberTTL replaces it for
	// remember-me logins. Both should not exceed the refresh token TTL of
	// the issuer, since a session that outlives its refresh token can
	// never be renewed.
	TTL         time.Duration
	RememberTTL time.Duration

	// MaxPerSubject caps concurrent sessions per subject and tenant.
	// Logging in past the cap evicts the oldest session rather than
	// failing the login.
	MaxPerSubject int

	// OnEvict, when set, is called for each session removed by the
	// concurrent-session cap, after its revocation has completed.
	OnEvict func(ctx context.Context, evicted *Session)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.TTL <= 0 {
		out.TTL = defaultTTL
	}
	if out.RememberTTL <= 0 {
		out.RememberTTL = defaultRememberTTL
	}
	if out.MaxPerSubject <= 0 {
		out.MaxPerSubject = defaultMaxPerSubject
	}
	return out
}

// Metadata is the per-login request context recorded on the session.
type Metadata struct {
	IPAddress string
	UserAgent string
	Remember  bool
}

// Manager creates, rotates, and revokes sessions on top of a [store.Store].
type Manager struct {
	store  store.Store
	issuer *token.Issuer
	cfg    Config
	log    zerolog.Logger
}

// NewManager wires a Manager. Zero config fields take defaults.
func NewManager(s store.Store, issuer *token.Issuer, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		store:  s,
		issuer: issuer,
		cfg:    cfg.withDefaults(),
		log:    log.With().Str("component", "session").Logger(),
	}
}

// Login creates a new session for the subject and issues its first
// token pair. When the subject is at the concurrent-session cap, the
// oldest session is evicted first.
func (m *Manager) Login(ctx context.Context, subjectID, tenantID string, meta Metadata) (*Session, token.Pair, error) {
	if err := m.evictForCap(ctx, subjectID, tenantID); err != nil {
		return nil, token.Pair{}, err
	}

	csrf, err := internal.NewToken(csrfTokenBytes)
	if err != nil {
		return nil, token.Pair{}, err
	}

	ttl := m.cfg.TTL
	if meta.Remember {
		ttl = m.cfg.RememberTTL
	}

	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		TenantID:  tenantID,
		CSRFToken: csrf,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Remember:  meta.Remember,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	pair, err := m.issuer.Issue(subjectID, sess.ID, tenantID)
	if err != nil {
		return nil, token.Pair{}, err
	}

	if err := m.persist(ctx, sess, pair.RefreshToken, ttl); err != nil {
		return nil, token.Pair{}, err
	}
	if err := m.store.AddToSet(ctx, store.SubjectSessionsKey(tenantID, subjectID), sess.ID); err != nil {
		return nil, token.Pair{}, err
	}

	return sess, pair, nil
}

// Refresh rotates a session's token pair. The presented refresh token
// must verify as a refresh token AND hash-match the stored current one;
// the old pair is dead the moment the new one is written. A presented
// token that verifies but does not match the stored hash revokes the
// whole session, because someone is holding a superseded token.
//
// Concurrent refreshes of the same session race on the stored hash; the
// loser reads back the winner's hash and gets ErrRefreshMismatch, which
// is the intended single-use outcome.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*Session, token.Pair, error) {
	claims, err := m.issuer.Verify(refreshToken, token.TypeRefresh)
	if err != nil {
		return nil, token.Pair{}, err
	}

	sess, err := m.Get(ctx, claims.TenantID, claims.SessionID)
	if err != nil {
		return nil, token.Pair{}, err
	}

	currentHash, err := m.store.Get(ctx, store.RefreshKey(sess.TenantID, sess.ID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, token.Pair{}, ErrNotFound
		}
		return nil, token.Pair{}, err
	}

	presented := internal.HashToken(refreshToken)
	if subtle.ConstantTimeCompare([]byte(presented), currentHash) != 1 {
		m.log.Warn().
			Str("session_id", sess.ID).
			Str("subject_id", sess.SubjectID).
			Msg("stale refresh token replayed, revoking session")
		if err := m.Revoke(ctx, sess.TenantID, sess.SubjectID, sess.ID); err != nil {
			m.log.Error().Err(err).Str("session_id", sess.ID).Msg("revoke after replay failed")
		}
		return nil, token.Pair{}, ErrRefreshMismatch
	}

	pair, err := m.issuer.Issue(sess.SubjectID, sess.ID, sess.TenantID)
	if err != nil {
		return nil, token.Pair{}, err
	}

	// The session keeps its absolute expiry across rotations.
	remaining := time.Until(sess.ExpiresAt)
	if remaining <= 0 {
		return nil, token.Pair{}, ErrNotFound
	}
	if err := m.persist(ctx, sess, pair.RefreshToken, remaining); err != nil {
		return nil, token.Pair{}, err
	}

	return sess, pair, nil
}

// Get loads a live session. Expired or missing records both read as
// ErrNotFound.
func (m *Manager) Get(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	raw, err := m.store.Get(ctx, store.SessionKey(tenantID, sessionID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	sess, err := decodeSession(raw)
	if err != nil {
		return nil, fmt.Errorf("session: corrupt record %s: %w", sessionID, err)
	}
	if sess.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Sessions lists the subject's live sessions, pruning index entries
// whose records have already expired out of the store.
func (m *Manager) Sessions(ctx context.Context, tenantID, subjectID string) ([]*Session, error) {
	ids, err := m.store.MembersOf(ctx, store.SubjectSessionsKey(tenantID, subjectID))
	if err != nil {
		return nil, err
	}

	live := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := m.Get(ctx, tenantID, id)
		if errors.Is(err, ErrNotFound) {
			_ = m.store.RemoveFromSet(ctx, store.SubjectSessionsKey(tenantID, subjectID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		live = append(live, sess)
	}

	sort.Slice(live, func(i, j int) bool {
		if live[i].CreatedAt.Equal(live[j].CreatedAt) {
			return live[i].ID < live[j].ID
		}
		return live[i].CreatedAt.Before(live[j].CreatedAt)
	})
	return live, nil
}

// Revoke deletes one session. Revoking an absent session is a no-op.
func (m *Manager) Revoke(ctx context.Context, tenantID, subjectID, sessionID string) error {
	if err := m.store.Delete(ctx, store.SessionKey(tenantID, sessionID)); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, store.RefreshKey(tenantID, sessionID)); err != nil {
		return err
	}
	return m.store.RemoveFromSet(ctx, store.SubjectSessionsKey(tenantID, subjectID), sessionID)
}

// RevokeAll deletes every session of the subject and returns how many
// index entries were cleared.
func (m *Manager) RevokeAll(ctx context.Context, tenantID, subjectID string) (int, error) {
	ids, err := m.store.MembersOf(ctx, store.SubjectSessionsKey(tenantID, subjectID))
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := m.Revoke(ctx, tenantID, subjectID, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// persist writes the session record and the hash of its current refresh
// token under matching TTLs. Only the digest of the refresh token ever
// touches the store.
func (m *Manager) persist(ctx context.Context, sess *Session, refreshToken string, ttl time.Duration) error {
	raw, err := encodeSession(sess)
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, store.SessionKey(sess.TenantID, sess.ID), raw, ttl); err != nil {
		return err
	}
	return m.store.Put(ctx, store.RefreshKey(sess.TenantID, sess.ID), []byte(internal.HashToken(refreshToken)), ttl)
}

// evictForCap makes room for one more session, evicting oldest-first by
// CreatedAt with the lexically smallest ID breaking ties.
func (m *Manager) evictForCap(ctx context.Context, subjectID, tenantID string) error {
	live, err := m.Sessions(ctx, tenantID, subjectID)
	if err != nil {
		return err
	}
	if len(live) < m.cfg.MaxPerSubject {
		return nil
	}

	// Sessions returns oldest-first, so eviction walks from the front.
	excess := len(live) - m.cfg.MaxPerSubject + 1
	for _, victim := range live[:excess] {
		m.log.Info().
			Str("subject_id", subjectID).
			Str("session_id", victim.ID).
			Time("created_at", victim.CreatedAt).
			Msg("session cap reached, evicting oldest session")
		if err := m.Revoke(ctx, tenantID, subjectID, victim.ID); err != nil {
			return err
		}
		if m.cfg.OnEvict != nil {
			m.cfg.OnEvict(ctx, victim)
		}
	}
	return nil
}
