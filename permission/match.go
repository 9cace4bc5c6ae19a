package permission

import "strings"

// HasPermission reports whether the identity satisfies the required
// permission. It never fails: unknown formats simply do not match.
//
// The rule order is fixed:
//  1. a super-admin role ("super" and "admin" substrings, any case)
//     grants everything
//  2. a held global wildcard "*" grants everything
//  3. exact match after colon/dot normalization
//  4. for colon-form requests, held dotted wildcards cover the request
//     (see match below)
func (id *Identity) HasPermission(required string) bool {
	for _, role := range id.Roles {
		if isSuperAdminRole(role) {
			return true
		}
	}

	colonForm := strings.Contains(required, ":")
	req := normalize(required)

	var resource, action string
	if i := strings.Index(req, "."); i > 0 {
		resource, action = req[:i], req[i+1:]
	}

	for _, held := range id.Permissions {
		if held == "*" {
			return true
		}
		h := normalize(held)
		if h == req {
			return true
		}
		if colonForm && matchDottedWildcard(h, resource, action) {
			return true
		}
	}
	return false
}

// isSuperAdminRole matches the exact super_admin role and anything else
// containing both "super" and "admin", so administrative roles are
// never locked out by a missing explicit grant.
func isSuperAdminRole(role string) bool {
	r := strings.ToLower(role)
	return strings.Contains(r, "super") && strings.Contains(r, "admin")
}

// normalize folds legacy colon form into the dotted convention.
func normalize(p string) string {
	return strings.ReplaceAll(p, ":", ".")
}

// matchDottedWildcard decides whether the held dotted permission h
// covers a colon-form request split into resource and action. A held
// resource.manage* or resource.<action>* prefix covers the request, as
// do the coarse wildcards resource.*, resource.*.<anything>, admin.*,
// and platform.*.global.
func matchDottedWildcard(h, resource, action string) bool {
	if resource == "" {
		return false
	}
	if h == "admin.*" || h == "platform.*.global" {
		return true
	}
	if h == resource+".*" || strings.HasPrefix(h, resource+".*.") {
		return true
	}
	if strings.HasPrefix(h, resource+".manage") {
		return true
	}
	return action != "" && strings.HasPrefix(h, resource+"."+action)
}
