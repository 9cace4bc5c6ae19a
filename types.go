package authgate

import (
	"context"
	"errors"

	"github.com/authgate/authgate/permission"
	"github.com/authgate/authgate/session"
	"github.com/authgate/authgate/token"
)

// ErrAccountNotFound is what an [IdentityProvider] returns for an
// unknown email. The engine folds it into ErrInvalidCredentials before
// anything reaches a client.
var ErrAccountNotFound = errors.New("account not found")

// Account is the minimal view of a stored principal the engine needs.
// PasswordHash is the argon2id PHC string; it never leaves the engine.
type Account struct {
	SubjectID    string
	Email        string
	PasswordHash string
	IsActive     bool
	TenantRef    string
}

// IdentityProvider is the read-only collaborator backing login and
// permission resolution, typically an ORM layer. Implementations must
// be safe for concurrent use.
type IdentityProvider interface {
	permission.Directory

	// FindAccountByEmail returns ErrAccountNotFound for unknown emails.
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)

	// TenantUUID maps an account's tenant reference to the stable tenant
	// identifier used to namespace store keys. The engine caches the
	// mapping after the first lookup.
	TenantUUID(ctx context.Context, tenantRef string) (string, error)
}

// LoginResult is everything a transport layer needs to answer a
// successful login.
type LoginResult struct {
	Account  *Account
	Identity *permission.Identity
	Session  *session.Session
	Tokens   token.Pair
}

// RefreshResult is the rotated state after a successful refresh.
type RefreshResult struct {
	Session *session.Session
	Tokens  token.Pair
}
