package authgate

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/authgate/authgate/password"
	"github.com/authgate/authgate/permission"
	"github.com/authgate/authgate/session"
	"github.com/authgate/authgate/store"
	"github.com/authgate/authgate/token"
)

// Builder assembles an [Engine]. The storage backend is selected once
// here and fixed for the process lifetime: an explicit store wins, then
// a reachable Redis, then the in-process fallback.
type Builder struct {
	cfg        Config
	cfgSet     bool
	provider   IdentityProvider
	redis      redis.UniversalClient
	store      store.Store
	sink       AuditSink
	log        *zerolog.Logger
	keyPrefix  string
	pingWindow time.Duration
}

// New starts a builder with DefaultConfig.
func New() *Builder {
	return &Builder{pingWindow: 2 * time.Second}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	b.cfgSet = true
	return b
}

// WithIdentityProvider sets the required account/permission backend.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.provider = p
	return b
}

// WithRedis uses the given client as the shared session backend. If the
// client does not answer a ping at Build time, the engine starts on the
// in-process fallback instead.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore injects a prebuilt store, bypassing backend selection.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithKeyPrefix namespaces every store key, allowing several engines to
// share one Redis.
func (b *Builder) WithKeyPrefix(prefix string) *Builder {
	b.keyPrefix = prefix
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to stderr.
func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.log = &log
	return b
}

// Build validates the configuration, selects the storage backend, and
// returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.provider == nil {
		return nil, errors.New("authgate: identity provider is required")
	}

	cfg := b.cfg
	if !b.cfgSet {
		cfg = DefaultConfig()
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Str("component", "authgate").Logger()
	if b.log != nil {
		log = *b.log
	}

	issuer, err := token.NewIssuer(cfg.Token)
	if err != nil {
		return nil, err
	}
	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}

	eng := &Engine{
		cfg:      cfg,
		issuer:   issuer,
		hasher:   hasher,
		provider: b.provider,
		log:      log,
		audit:    newAuditDispatcher(cfg.Audit, b.sink),
	}
	eng.store = b.selectStore(eng, log)

	sessCfg := cfg.Session
	sessCfg.OnEvict = func(ctx context.Context, evicted *session.Session) {
		eng.audit.Emit(ctx, AuditEvent{
			Timestamp: time.Now(),
			EventType: AuditSessionEvicted,
			SubjectID: evicted.SubjectID,
			TenantID:  evicted.TenantID,
			SessionID: evicted.ID,
			Success:   true,
		})
	}
	eng.sessions = session.NewManager(eng.store, issuer, sessCfg, log)
	eng.resolver = permission.NewResolver(b.provider, eng.store, cfg.IdentityCacheTTL, log)

	return eng, nil
}

// selectStore implements the startup backend choice. Losing the shared
// backend is degraded, not fatal: it is logged at warn and the engine
// runs on process-local state.
func (b *Builder) selectStore(eng *Engine, log zerolog.Logger) store.Store {
	if b.store != nil {
		return b.store
	}

	if b.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), b.pingWindow)
		defer cancel()

		rs := store.NewRedisStore(b.redis, b.keyPrefix)
		if latency, err := rs.Ping(ctx); err == nil {
			log.Info().Dur("latency", latency).Msg("using shared redis session store")
			return rs
		} else {
			log.Warn().Err(err).Msg("redis unreachable, falling back to in-process session store")
		}
	} else {
		log.Warn().Msg("no shared backend configured, sessions are process-local")
	}

	mem := store.NewMemoryStore(eng.cfg.StoreSweepInterval)
	eng.ownedStore = mem
	return mem
}
