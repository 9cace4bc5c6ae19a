package authgate

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/authgate/authgate/password"
	"github.com/authgate/authgate/permission"
	"github.com/authgate/authgate/session"
	"github.com/authgate/authgate/store"
	"github.com/authgate/authgate/token"
)

// Engine is the authentication core: credential verification, session
// lifecycle, token rotation, and identity resolution behind one API.
// Construct it with a [Builder]; a zero Engine is not usable. All
// methods are safe for concurrent use.
type Engine struct {
	cfg      Config
	store    store.Store
	issuer   *token.Issuer
	sessions *session.Manager
	resolver *permission.Resolver
	hasher   *password.Hasher
	provider IdentityProvider
	log      zerolog.Logger
	audit    *auditDispatcher

	// tenantRef -> tenant UUID, filled on first lookup.
	tenants sync.Map

	ownedStore *store.MemoryStore
}

// Login verifies credentials and opens a new session. Unknown emails
// and wrong passwords both come back as ErrInvalidCredentials; a
// malformed stored hash is treated the same way and logged server-side.
func (e *Engine) Login(ctx context.Context, email, plaintext string, remember bool) (*LoginResult, error) {
	account, err := e.provider.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.auditFailure(ctx, AuditLoginFailed, "", "", "unknown account")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := e.hasher.Verify(plaintext, account.PasswordHash)
	if err != nil {
		e.log.Error().Err(err).Str("subject_id", account.SubjectID).Msg("stored password hash unusable")
		e.auditFailure(ctx, AuditLoginFailed, account.SubjectID, "", "corrupt hash")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		e.auditFailure(ctx, AuditLoginFailed, account.SubjectID, "", "wrong password")
		return nil, ErrInvalidCredentials
	}
	if !account.IsActive {
		e.auditFailure(ctx, AuditLoginFailed, account.SubjectID, "", "account disabled")
		return nil, ErrAccountDisabled
	}

	tenantID, err := e.tenantID(ctx, account.TenantRef)
	if err != nil {
		return nil, err
	}

	sess, pair, err := e.sessions.Login(ctx, account.SubjectID, tenantID, session.Metadata{
		IPAddress: clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Remember:  remember,
	})
	if err != nil {
		return nil, e.mapStoreErr(err)
	}

	identity, err := e.resolver.Resolve(ctx, account.SubjectID, tenantID)
	if err != nil {
		e.log.Warn().Err(err).Str("subject_id", account.SubjectID).Msg("identity resolution failed at login")
		identity = &permission.Identity{SubjectID: account.SubjectID, Email: account.Email, TenantID: tenantID}
	}

	e.audit.Emit(ctx, AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditLogin,
		SubjectID: account.SubjectID,
		TenantID:  tenantID,
		SessionID: sess.ID,
		IP:        clientIPFromContext(ctx),
		Success:   true,
	})

	return &LoginResult{
		Account:  account,
		Identity: identity,
		Session:  sess,
		Tokens:   pair,
	}, nil
}

// Refresh rotates a token pair. Superseded tokens surface as
// ErrInvalidRefreshToken after their session has been revoked; a
// missing or expired session surfaces as ErrSessionExpired.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	sess, pair, err := e.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshMismatch):
			e.audit.Emit(ctx, AuditEvent{
				Timestamp: time.Now(),
				EventType: AuditRefreshReplay,
				IP:        clientIPFromContext(ctx),
				Error:     "superseded refresh token replayed",
			})
			return nil, ErrInvalidRefreshToken
		case errors.Is(err, session.ErrNotFound):
			return nil, ErrSessionExpired
		case errors.Is(err, token.ErrExpired),
			errors.Is(err, token.ErrBadSignature),
			errors.Is(err, token.ErrInvalidType):
			return nil, ErrInvalidRefreshToken
		default:
			return nil, e.mapStoreErr(err)
		}
	}

	e.audit.Emit(ctx, AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditRefresh,
		SubjectID: sess.SubjectID,
		TenantID:  sess.TenantID,
		SessionID: sess.ID,
		IP:        clientIPFromContext(ctx),
		Success:   true,
	})

	return &RefreshResult{Session: sess, Tokens: pair}, nil
}

// Authenticate validates an access token and confirms its session is
// still alive, then returns the resolved identity. Every failure is
// ErrUnauthorized; the distinguishing reason is logged, not returned.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*permission.Identity, *session.Session, error) {
	claims, err := e.issuer.Verify(accessToken, token.TypeAccess)
	if err != nil {
		e.log.Debug().Err(err).Msg("access token rejected")
		return nil, nil, ErrUnauthorized
	}

	// Session absence overrides token validity: a revoked session kills
	// its still-unexpired tokens.
	sess, err := e.sessions.Get(ctx, claims.TenantID, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.log.Debug().Str("session_id", claims.SessionID).Msg("token references dead session")
			return nil, nil, ErrUnauthorized
		}
		return nil, nil, e.mapStoreErr(err)
	}

	identity, err := e.resolver.Resolve(ctx, sess.SubjectID, sess.TenantID)
	if err != nil {
		return nil, nil, e.mapStoreErr(err)
	}
	return identity, sess, nil
}

// Require enforces a permission on an already-authenticated identity.
func (e *Engine) Require(identity *permission.Identity, perm string) error {
	if identity == nil {
		return ErrUnauthorized
	}
	if err := e.resolver.Require(identity, perm); err != nil {
		return ErrForbidden
	}
	return nil
}

// Logout revokes one session. Revoking an already-dead session is a
// no-op, so logout is idempotent.
func (e *Engine) Logout(ctx context.Context, sess *session.Session) error {
	if sess == nil {
		return nil
	}
	if err := e.sessions.Revoke(ctx, sess.TenantID, sess.SubjectID, sess.ID); err != nil {
		return e.mapStoreErr(err)
	}

	e.audit.Emit(ctx, AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditLogout,
		SubjectID: sess.SubjectID,
		TenantID:  sess.TenantID,
		SessionID: sess.ID,
		IP:        clientIPFromContext(ctx),
		Success:   true,
	})
	return nil
}

// RevokeAll signs the subject out everywhere and drops their cached
// identity. Used on password change and forced sign-out.
func (e *Engine) RevokeAll(ctx context.Context, tenantID, subjectID string) (int, error) {
	n, err := e.sessions.RevokeAll(ctx, tenantID, subjectID)
	if err != nil {
		return 0, e.mapStoreErr(err)
	}
	if err := e.resolver.Invalidate(ctx, tenantID, subjectID); err != nil {
		e.log.Warn().Err(err).Str("subject_id", subjectID).Msg("identity cache invalidation failed")
	}

	e.audit.Emit(ctx, AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditRevokeAll,
		SubjectID: subjectID,
		TenantID:  tenantID,
		Success:   true,
		Metadata:  map[string]string{"revoked": strconv.Itoa(n)},
	})
	return n, nil
}

// Sessions enumerates the subject's live sessions, oldest first.
func (e *Engine) Sessions(ctx context.Context, tenantID, subjectID string) ([]*session.Session, error) {
	out, err := e.sessions.Sessions(ctx, tenantID, subjectID)
	if err != nil {
		return nil, e.mapStoreErr(err)
	}
	return out, nil
}

// InvalidateIdentity drops a subject's cached identity so the next
// request re-reads roles and permissions from the provider.
func (e *Engine) InvalidateIdentity(ctx context.Context, tenantID, subjectID string) error {
	return e.resolver.Invalidate(ctx, tenantID, subjectID)
}

// HashPassword produces a stored-form hash for account provisioning.
func (e *Engine) HashPassword(plaintext string) (string, error) {
	return e.hasher.Hash(plaintext)
}

// AuditDropped reports audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// Close flushes the audit dispatcher and stops the in-process store's
// sweep if the engine owns one.
func (e *Engine) Close() {
	e.audit.Close()
	if e.ownedStore != nil {
		e.ownedStore.Close()
	}
}

func (e *Engine) tenantID(ctx context.Context, tenantRef string) (string, error) {
	if tenantRef == "" {
		return "", nil
	}
	if cached, ok := e.tenants.Load(tenantRef); ok {
		return cached.(string), nil
	}

	id, err := e.provider.TenantUUID(ctx, tenantRef)
	if err != nil {
		return "", err
	}
	e.tenants.Store(tenantRef, id)
	return id, nil
}

func (e *Engine) mapStoreErr(err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return ErrStoreUnavailable
	}
	return err
}

func (e *Engine) auditFailure(ctx context.Context, eventType, subjectID, tenantID, reason string) {
	e.audit.Emit(ctx, AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		SubjectID: subjectID,
		TenantID:  tenantID,
		IP:        clientIPFromContext(ctx),
		Error:     reason,
	})
}
