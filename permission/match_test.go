package permission

import "testing"

func TestSuperAdminRoleGrantsEverything(t *testing.T) {
	roles := []string{"super_admin", "SuperAdmin", "platform-super-administrator"}
	for _, role := range roles {
		id := &Identity{Roles: []string{role}}
		for _, required := range []string{"anything:whatever", "media.delete", "*"} {
			if !id.HasPermission(required) {
				t.Fatalf("role %q must grant %q", role, required)
			}
		}
	}

	almost := &Identity{Roles: []string{"supervisor", "administrator"}}
	if almost.HasPermission("media:upload") {
		t.Fatal("roles with only one of super/admin must not bypass checks")
	}
}

func TestGlobalWildcardPermission(t *testing.T) {
	id := &Identity{Permissions: []string{"*"}}
	if !id.HasPermission("media:upload") || !id.HasPermission("billing.read") {
		t.Fatal("global wildcard must grant everything")
	}
}

func TestExactMatchAcrossFormats(t *testing.T) {
	id := &Identity{Permissions: []string{"media.upload", "billing:read"}}

	if !id.HasPermission("media.upload") {
		t.Fatal("exact dotted match failed")
	}
	if !id.HasPermission("media:upload") {
		t.Fatal("colon request must match dotted grant")
	}
	if !id.HasPermission("billing:read") {
		t.Fatal("exact colon match failed")
	}
	if id.HasPermission("media.delete") {
		t.Fatal("unrelated permission must not match")
	}
}

func TestColonRequestWildcardTable(t *testing.T) {
	cases := []struct {
		held     string
		required string
		want     bool
	}{
		{"media.manage", "media:upload", true},
		{"media.manage_library", "media:upload", true},
		{"media.*", "media:upload", true},
		{"media.*.global", "media:upload", true},
		{"media.upload", "media:upload", true},
		{"media.uploads", "media:upload", true},
		{"admin.*", "media:upload", true},
		{"platform.*.global", "media:upload", true},
		{"media.read", "media:upload", false},
		{"video.manage", "media:upload", false},
		{"media", "media:upload", false},
		{"platform.*", "media:upload", false},
	}

	for _, tc := range cases {
		id := &Identity{Permissions: []string{tc.held}}
		if got := id.HasPermission(tc.required); got != tc.want {
			t.Errorf("held %q required %q: got %v, want %v", tc.held, tc.required, got, tc.want)
		}
	}
}

func TestDottedRequestStaysLiteral(t *testing.T) {
	// Wildcard expansion is a colon-form compatibility shim; a dotted
	// request only matches exactly or via the global wildcard.
	id := &Identity{Permissions: []string{"media.*"}}
	if id.HasPermission("media.upload") {
		t.Fatal("dotted request must not trigger wildcard expansion")
	}
	if !id.HasPermission("media.*") {
		t.Fatal("exact wildcard string must still match itself")
	}
}

func TestEmptyIdentityDeniesAll(t *testing.T) {
	id := &Identity{}
	for _, required := range []string{"media:upload", "media.upload", "*", ""} {
		if id.HasPermission(required) {
			t.Fatalf("empty identity must deny %q", required)
		}
	}
}
