package authgate

import (
	"time"

	"github.com/authgate/authgate/password"
	"github.com/authgate/authgate/session"
	"github.com/authgate/authgate/token"
)

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking: events past the buffer are
	// counted and discarded instead of stalling the request path.
	DropIfFull bool
}

// Config is the full engine configuration. The zero value is not
// usable; start from DefaultConfig and set signing material.
type Config struct {
	Token    token.Config
	Session  session.Config
	Password password.Config
	Audit    AuditConfig

	// IdentityCacheTTL bounds how stale a cached identity may be after a
	// role or permission change that is not explicitly invalidated.
	IdentityCacheTTL time.Duration

	// StoreSweepInterval is the expiry sweep period of the in-process
	// fallback store. Ignored when a shared backend is used.
	StoreSweepInterval time.Duration
}

// Validate reports whether the configuration can build a working
// engine: usable token signing material and password costs above the
// hard floors. Builder.Build performs the same checks.
func (c Config) Validate() error {
	if _, err := token.NewIssuer(c.Token); err != nil {
		return err
	}
	if _, err := password.NewHasher(c.Password); err != nil {
		return err
	}
	return nil
}

// DefaultConfig returns working lifetimes and costs. Signing secrets
// are deliberately absent and must be provided by the caller.
func DefaultConfig() Config {
	return Config{
		Token: token.Config{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
		},
		Session: session.Config{
			TTL:           7 * 24 * time.Hour,
			RememberTTL:   30 * 24 * time.Hour,
			MaxPerSubject: 5,
		},
		Password: password.DefaultConfig(),
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		IdentityCacheTTL:   5 * time.Minute,
		StoreSweepInterval: time.Minute,
	}
}
