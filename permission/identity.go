// Package permission resolves a subject's effective authority and
// answers wildcard-aware authorization queries over it. Permissions are
// authored in two historical formats, legacy colon (resource:action)
// and current dotted-with-wildcard (resource.action, resource.*, *);
// the resolver treats them as one space so no data migration is needed.
package permission

import (
	"context"
	"time"
)

// Identity is the resolved, cacheable view of a subject's authority.
// Raw directory rows never cross this boundary; whatever shape the
// backing storage has, callers only ever see this struct.
type Identity struct {
	SubjectID   string   `json:"subjectId"`
	Email       string   `json:"email,omitempty"`
	TenantID    string   `json:"tenantId,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Directory is the read-only collaborator that owns role and permission
// data, typically an ORM layer. DirectGrants must already exclude
// grants whose validity window has passed at the given instant.
type Directory interface {
	SubjectEmail(ctx context.Context, subjectID string) (string, error)
	RolesForSubject(ctx context.Context, subjectID string) ([]string, error)
	PermissionsForRoles(ctx context.Context, roles []string) ([]string, error)
	DirectGrants(ctx context.Context, subjectID string, now time.Time) ([]string, error)
}
