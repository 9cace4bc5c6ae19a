// Package authgate is an embeddable authentication and session engine.
//
// It verifies credentials against argon2id hashes, manages server-side
// sessions with a concurrent-session cap, issues and rotates signed
// access/refresh token pairs bound to those sessions, and answers
// wildcard-aware permission queries. Session state lives in a shared
// Redis when one is reachable and falls back to an in-process store
// otherwise.
//
// Assemble an engine with the builder:
//
//	cfg := authgate.DefaultConfig()
//	cfg.Token.AccessSecret = accessSecret
//	cfg.Token.RefreshSecret = refreshSecret
//
//	engine, err := authgate.New().
//		WithConfig(cfg).
//		WithRedis(redisClient).
//		WithIdentityProvider(provider).
//		Build()
//
// HTTP integration lives in the middleware and httpapi subpackages.
package authgate
