package permission

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/authgate/authgate/store"
)

// ErrForbidden is returned by Require when an authenticated identity
// lacks the required permission.
var ErrForbidden = errors.New("permission: forbidden")

const defaultCacheTTL = 5 * time.Minute

// Resolver computes identities from a [Directory] and caches them in
// the session store under a short TTL. Resolution degrades gracefully:
// a broken cache is logged and bypassed, never surfaced to the caller.
type Resolver struct {
	dir   Directory
	cache store.Store
	ttl   time.Duration
	log   zerolog.Logger
}

// NewResolver wires a Resolver. ttl <= 0 selects a 5 minute default.
func NewResolver(dir Directory, cache store.Store, ttl time.Duration, log zerolog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Resolver{
		dir:   dir,
		cache: cache,
		ttl:   ttl,
		log:   log.With().Str("component", "permission").Logger(),
	}
}

// Resolve returns the subject's identity, cache-first. The effective
// permission set is the union of role-derived permissions and direct
// grants still inside their validity window.
func (r *Resolver) Resolve(ctx context.Context, subjectID, tenantID string) (*Identity, error) {
	key := store.IdentityKey(tenantID, subjectID)

	if raw, err := r.cache.Get(ctx, key); err == nil {
		var id Identity
		if err := json.Unmarshal(raw, &id); err == nil {
			return &id, nil
		}
		r.log.Warn().Str("subject_id", subjectID).Msg("corrupt identity cache entry, recomputing")
	} else if !errors.Is(err, store.ErrNotFound) {
		r.log.Warn().Err(err).Str("subject_id", subjectID).Msg("identity cache read failed, resolving directly")
	}

	id, err := r.compute(ctx, subjectID, tenantID)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(id); err == nil {
		if err := r.cache.Put(ctx, key, raw, r.ttl); err != nil {
			r.log.Warn().Err(err).Str("subject_id", subjectID).Msg("identity cache write failed")
		}
	}
	return id, nil
}

// Invalidate drops the cached identity so the next Resolve recomputes
// it. Called on role/permission change and logout-all.
func (r *Resolver) Invalidate(ctx context.Context, tenantID, subjectID string) error {
	return r.cache.Delete(ctx, store.IdentityKey(tenantID, subjectID))
}

// Require converts a failed permission check into ErrForbidden. Callers
// must have authenticated the identity first: unauthorized always takes
// priority over forbidden.
func (r *Resolver) Require(id *Identity, required string) error {
	if !id.HasPermission(required) {
		return ErrForbidden
	}
	return nil
}

func (r *Resolver) compute(ctx context.Context, subjectID, tenantID string) (*Identity, error) {
	email, err := r.dir.SubjectEmail(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	roles, err := r.dir.RolesForSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	fromRoles, err := r.dir.PermissionsForRoles(ctx, roles)
	if err != nil {
		return nil, err
	}
	direct, err := r.dir.DirectGrants(ctx, subjectID, time.Now())
	if err != nil {
		return nil, err
	}

	return &Identity{
		SubjectID:   subjectID,
		Email:       email,
		TenantID:    tenantID,
		Roles:       dedupe(roles),
		Permissions: dedupe(append(fromRoles, direct...)),
	}, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
