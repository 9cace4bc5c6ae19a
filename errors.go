package authgate

import "errors"

var (
	// ErrUnauthorized covers missing, invalid, or expired tokens and
	// sessions that no longer exist. It always takes priority over
	// ErrForbidden.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when an authenticated subject lacks the
	// required permission, or on a CSRF mismatch.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials is returned on login for a wrong password AND
	// for an unknown email. The two cases are intentionally
	// indistinguishable to prevent account enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled is returned when credentials verify but the
	// account is deactivated.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrSessionExpired is returned when the session behind a refresh
	// token has expired or been revoked.
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidRefreshToken is returned for malformed, mistyped, or
	// superseded refresh tokens. A superseded token is a replay/theft
	// signal; the session it pointed at has already been revoked.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrStoreUnavailable is returned when the durable backend is
	// unreachable and the operation cannot degrade.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrEngineNotReady is returned by Build when required collaborators
	// are missing.
	ErrEngineNotReady = errors.New("engine not initialized")
)
