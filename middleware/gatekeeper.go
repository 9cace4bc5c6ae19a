// Package middleware guards HTTP routes with the authgate engine. The
// gatekeeper extracts a token from cookie or bearer header, validates
// it against the live session, attaches the resolved identity to the
// request context, and enforces CSRF on cookie-authenticated mutating
// requests.
package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/authgate/authgate"
	"github.com/authgate/authgate/permission"
	"github.com/authgate/authgate/session"
)

// AccessCookie is the cookie the gatekeeper reads access tokens from.
const AccessCookie = "accessToken"

// CSRFHeader must carry the session's CSRF token on cookie-authenticated
// mutating requests.
const CSRFHeader = "X-CSRF-Token"

const defaultAuthPrefix = "/auth/"

type identityContextKey struct{}
type sessionContextKey struct{}

// IdentityFromContext returns the identity the gatekeeper attached.
func IdentityFromContext(ctx context.Context) (*permission.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*permission.Identity)
	return id, ok
}

// SessionFromContext returns the session the gatekeeper attached.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*session.Session)
	return s, ok
}

// Gatekeeper is the per-request authentication entry point.
type Gatekeeper struct {
	engine     *authgate.Engine
	log        zerolog.Logger
	authPrefix string
}

// Option adjusts gatekeeper behavior.
type Option func(*Gatekeeper)

// WithAuthPrefix overrides the path prefix exempt from CSRF checks.
// Requests under it bootstrap the CSRF token in the first place.
func WithAuthPrefix(prefix string) Option {
	return func(g *Gatekeeper) { g.authPrefix = prefix }
}

// NewGatekeeper wires a Gatekeeper around an engine.
func NewGatekeeper(engine *authgate.Engine, log zerolog.Logger, opts ...Option) *Gatekeeper {
	g := &Gatekeeper{
		engine:     engine,
		log:        log.With().Str("component", "gatekeeper").Logger(),
		authPrefix: defaultAuthPrefix,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Protect authenticates every request before it reaches next. Failures
// are answered with the generic envelope; the specific reason is logged
// but never echoed to the client.
func (g *Gatekeeper) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, fromCookie := extractToken(r)
		if tok == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}

		ctx := authgate.WithClientIP(r.Context(), clientIP(r))
		ctx = authgate.WithUserAgent(ctx, r.UserAgent())

		identity, sess, err := g.engine.Authenticate(ctx, tok)
		if err != nil {
			if errors.Is(err, authgate.ErrStoreUnavailable) {
				g.log.Error().Err(err).Msg("session store unavailable")
				writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "please retry")
				return
			}
			g.log.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}

		// Bearer clients carry no ambient credential a third party could
		// forge, so only cookie authentication needs CSRF proof.
		if fromCookie && g.csrfRequired(r) && !csrfMatches(r, sess) {
			g.log.Warn().
				Str("subject_id", sess.SubjectID).
				Str("path", r.URL.Path).
				Msg("csrf token missing or wrong")
			writeError(w, http.StatusForbidden, "FORBIDDEN", "csrf token required")
			return
		}

		ctx = context.WithValue(ctx, identityContextKey{}, identity)
		ctx = context.WithValue(ctx, sessionContextKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission gates a route on one permission. It must run after
// Protect; an unauthenticated request gets 401, never 403.
func (g *Gatekeeper) RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}
			if err := g.engine.Require(identity, perm); err != nil {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "insufficient permission")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Gatekeeper) csrfRequired(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return !strings.HasPrefix(r.URL.Path, g.authPrefix)
}

func csrfMatches(r *http.Request, sess *session.Session) bool {
	presented := r.Header.Get(CSRFHeader)
	if presented == "" || sess.CSRFToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(sess.CSRFToken)) == 1
}

// extractToken prefers the same-site cookie and falls back to a bearer
// header. The bool reports whether the cookie path was used.
func extractToken(r *http.Request) (string, bool) {
	if c, err := r.Cookie(AccessCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok && token != "" {
		return token, false
	}
	return "", false
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Success: false,
		Error:   code,
		Message: message,
	})
}
