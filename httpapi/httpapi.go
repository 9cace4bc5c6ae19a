// Package httpapi exposes the engine's auth endpoints over HTTP:
// login, refresh, logout, identity introspection, and CSRF priming.
// Responses use the envelope {success, error, message}; failure codes
// are the taxonomy constants, never raw error text.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/authgate/authgate"
	"github.com/authgate/authgate/middleware"
)

// RefreshCookie holds the refresh token between rotations.
const RefreshCookie = "refreshToken"

// Config controls cookie issuance.
type Config struct {
	CookieDomain string
	CookieSecure bool

	// AccessTTL bounds the access cookie. RefreshTTL bounds the refresh
	// cookie for remember-me logins; without remember-me the refresh
	// cookie is session-scoped and dies with the browser.
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.AccessTTL <= 0 {
		c.AccessTTL = 15 * time.Minute
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 30 * 24 * time.Hour
	}
	return c
}

// Handler serves the auth endpoints.
type Handler struct {
	engine *authgate.Engine
	gate   *middleware.Gatekeeper
	cfg    Config
	log    zerolog.Logger
}

// NewHandler wires the endpoint handler.
func NewHandler(engine *authgate.Engine, log zerolog.Logger, cfg Config) *Handler {
	return &Handler{
		engine: engine,
		gate:   middleware.NewGatekeeper(engine, log),
		cfg:    cfg.withDefaults(),
		log:    log.With().Str("component", "httpapi").Logger(),
	}
}

// Router returns the /auth route tree, ready to mount on a host mux.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Post("/auth/login", h.login)
	r.Post("/auth/refresh", h.refresh)
	r.Post("/auth/logout", h.logout)

	r.Group(func(pr chi.Router) {
		pr.Use(h.gate.Protect)
		pr.Get("/auth/me", h.me)
		pr.Get("/auth/csrf-token", h.csrfToken)
	})

	return r
}

// Gatekeeper exposes the underlying middleware so applications can
// protect their own routes with the same engine.
func (h *Handler) Gatekeeper() *middleware.Gatekeeper {
	return h.gate
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type userPayload struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		h.fail(w, http.StatusBadRequest, "INVALID_REQUEST", "email and password are required")
		return
	}

	ctx := authgate.WithClientIP(r.Context(), clientIP(r))
	ctx = authgate.WithUserAgent(ctx, r.UserAgent())

	res, err := h.engine.Login(ctx, req.Email, req.Password, req.RememberMe)
	if err != nil {
		h.failFromErr(w, err)
		return
	}

	h.setAuthCookies(w, res.Tokens.AccessToken, res.Tokens.RefreshToken, req.RememberMe)
	h.respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user": userPayload{
			ID:          res.Identity.SubjectID,
			Email:       res.Identity.Email,
			Roles:       res.Identity.Roles,
			Permissions: res.Identity.Permissions,
		},
		"accessToken":  res.Tokens.AccessToken,
		"refreshToken": res.Tokens.RefreshToken,
		"expiresIn":    res.Tokens.ExpiresIn,
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshCookie)
	if err != nil || cookie.Value == "" {
		h.fail(w, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "refresh token required")
		return
	}

	ctx := authgate.WithClientIP(r.Context(), clientIP(r))
	res, err := h.engine.Refresh(ctx, cookie.Value)
	if err != nil {
		h.clearAuthCookies(w)
		h.failFromErr(w, err)
		return
	}

	h.setAuthCookies(w, res.Tokens.AccessToken, res.Tokens.RefreshToken, res.Session.Remember)
	h.respond(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"accessToken":  res.Tokens.AccessToken,
		"refreshToken": res.Tokens.RefreshToken,
		"expiresIn":    res.Tokens.ExpiresIn,
	})
}

// logout clears cookies unconditionally; store-side revocation is
// best-effort in this flow. A client with dead cookies is logged out
// either way.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if tok := accessTokenFrom(r); tok != "" {
		ctx := authgate.WithClientIP(r.Context(), clientIP(r))
		if _, sess, err := h.engine.Authenticate(ctx, tok); err == nil {
			if err := h.engine.Logout(ctx, sess); err != nil {
				h.log.Warn().Err(err).Str("session_id", sess.ID).Msg("store-side logout failed")
			}
		}
	}

	h.clearAuthCookies(w)
	h.respond(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		h.fail(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}
	h.respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user": userPayload{
			ID:          identity.SubjectID,
			Email:       identity.Email,
			Roles:       identity.Roles,
			Permissions: identity.Permissions,
		},
	})
}

func (h *Handler) csrfToken(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.fail(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}
	h.respond(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"csrfToken": sess.CSRFToken,
	})
}

func (h *Handler) setAuthCookies(w http.ResponseWriter, access, refresh string, remember bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessCookie,
		Value:    access,
		Path:     "/",
		Domain:   h.cfg.CookieDomain,
		MaxAge:   int(h.cfg.AccessTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	refreshCookie := &http.Cookie{
		Name:     RefreshCookie,
		Value:    refresh,
		Path:     "/",
		Domain:   h.cfg.CookieDomain,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if remember {
		refreshCookie.MaxAge = int(h.cfg.RefreshTTL / time.Second)
	}
	http.SetCookie(w, refreshCookie)
}

func (h *Handler) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{middleware.AccessCookie, RefreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   h.cfg.CookieDomain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.cfg.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func (h *Handler) respond(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("response encoding failed")
	}
}

func (h *Handler) fail(w http.ResponseWriter, status int, code, message string) {
	h.respond(w, status, map[string]interface{}{
		"success": false,
		"error":   code,
		"message": message,
	})
}

func (h *Handler) failFromErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authgate.ErrInvalidCredentials):
		h.fail(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
	case errors.Is(err, authgate.ErrAccountDisabled):
		h.fail(w, http.StatusForbidden, "ACCOUNT_DISABLED", "account is disabled")
	case errors.Is(err, authgate.ErrInvalidRefreshToken):
		h.fail(w, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "refresh token is invalid")
	case errors.Is(err, authgate.ErrSessionExpired):
		h.fail(w, http.StatusUnauthorized, "SESSION_EXPIRED", "session has expired")
	case errors.Is(err, authgate.ErrUnauthorized):
		h.fail(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
	case errors.Is(err, authgate.ErrForbidden):
		h.fail(w, http.StatusForbidden, "FORBIDDEN", "insufficient permission")
	case errors.Is(err, authgate.ErrStoreUnavailable):
		h.fail(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "please retry")
	default:
		h.log.Error().Err(err).Msg("unhandled auth error")
		h.fail(w, http.StatusInternalServerError, "INTERNAL_ERROR", "something went wrong")
	}
}

func accessTokenFrom(r *http.Request) string {
	if c, err := r.Cookie(middleware.AccessCookie); err == nil && c.Value != "" {
		return c.Value
	}
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware has already folded X-Forwarded-For into
	// RemoteAddr when present.
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
