package rbac_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
	_ "github.com/MaxBossMan1/ddgmotdv2/testing"
)

type principal struct {
	id   int64
	role rbac.Role
	caps rbac.CapabilitySet
}

func (p principal) GetID() int64                     { return p.id }
func (p principal) GetRole() rbac.Role               { return p.role }
func (p principal) Capabilities() rbac.CapabilitySet { return p.caps }

func TestRoleRanking(t *testing.T) {
	assert.True(t, rbac.RoleOwner.Outranks(rbac.RoleAdmin))
	assert.True(t, rbac.RoleAdmin.Outranks(rbac.RoleModerator))
	assert.True(t, rbac.RoleModerator.Outranks(rbac.RoleUser))
	assert.False(t, rbac.RoleAdmin.Outranks(rbac.RoleAdmin))
	assert.True(t, rbac.RoleAdmin.AtLeast(rbac.RoleAdmin))
	assert.False(t, rbac.RoleUser.AtLeast(rbac.RoleModerator))
	assert.Equal(t, -1, rbac.Role("root").Rank())
}

func TestParseRole(t *testing.T) {
	role, err := rbac.ParseRole(" Admin ")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, role)

	_, err = rbac.ParseRole("staff")
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestLevelRole(t *testing.T) {
	cases := map[rbac.Level]rbac.Role{
		rbac.LevelOwner:     rbac.RoleOwner,
		rbac.LevelAdmin:     rbac.RoleAdmin,
		rbac.LevelModerator: rbac.RoleModerator,
		rbac.LevelStaff:     rbac.RoleUser,
		rbac.LevelUser:      rbac.RoleUser,
	}
	for level, want := range cases {
		assert.Equal(t, want, level.Role(), "level %s", level)
	}
	assert.Greater(t, rbac.LevelModerator.Rank(), rbac.LevelStaff.Rank())
}

func TestHasPermission(t *testing.T) {
	none := rbac.NewCapabilitySet()
	cases := []struct {
		name string
		role rbac.Role
		caps rbac.CapabilitySet
		cap  rbac.Capability
		want bool
	}{
		{"owner holds moderator scoped", rbac.RoleOwner, none, rbac.CapJobsRun, true},
		{"admin holds moderator scoped", rbac.RoleAdmin, none, rbac.CapAuditView, true},
		{"admin holds user scoped", rbac.RoleAdmin, none, rbac.CapViolationsView, true},
		{"moderator holds user scoped", rbac.RoleModerator, none, rbac.CapUsersView, true},
		{"moderator lacks moderator scoped", rbac.RoleModerator, none, rbac.CapAuditView, false},
		{"moderator with override", rbac.RoleModerator, rbac.NewCapabilitySet(rbac.CapAuditView), rbac.CapAuditView, true},
		{"user default deny", rbac.RoleUser, none, rbac.CapViolationsView, false},
		{"user with override", rbac.RoleUser, rbac.NewCapabilitySet(rbac.CapViolationsView), rbac.CapViolationsView, true},
		{"nil overrides", rbac.RoleUser, nil, rbac.CapDiscordView, false},
		{"unknown capability", rbac.RoleOwner, none, rbac.Capability("nope"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, rbac.HasPermission(tc.role, tc.caps, tc.cap))
		})
	}
}

func TestCapabilitySets(t *testing.T) {
	_, err := rbac.ParseCapabilitySet([]string{"users.view", "bogus"})
	require.ErrorIs(t, err, shared.ErrValidation)

	lenient := rbac.LenientCapabilitySet([]string{"users.view", "bogus"})
	assert.Equal(t, []string{"users.view"}, lenient.Names())
}

func serveGate(mw func(http.Handler) http.Handler, p rbac.Principal) int {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if p != nil {
		req = req.WithContext(rbac.ContextWithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireRole(t *testing.T) {
	gate := rbac.Middleware{}.RequireRole(rbac.RoleAdmin, rbac.RoleOwner)

	assert.Equal(t, http.StatusUnauthorized, serveGate(gate, nil))
	assert.Equal(t, http.StatusForbidden, serveGate(gate, principal{id: 1, role: rbac.RoleModerator}))
	assert.Equal(t, http.StatusNoContent, serveGate(gate, principal{id: 2, role: rbac.RoleAdmin}))
	assert.Equal(t, http.StatusNoContent, serveGate(gate, principal{id: 3, role: rbac.RoleOwner}))
}

func TestRequireRoleHasNoInheritance(t *testing.T) {
	gate := rbac.Middleware{}.RequireRole(rbac.RoleModerator)
	assert.Equal(t, http.StatusForbidden, serveGate(gate, principal{id: 1, role: rbac.RoleOwner}))
}

func TestRequirePermission(t *testing.T) {
	gate := rbac.Middleware{}.RequirePermission(rbac.CapAuditView)

	assert.Equal(t, http.StatusUnauthorized, serveGate(gate, nil))
	assert.Equal(t, http.StatusForbidden, serveGate(gate, principal{id: 1, role: rbac.RoleModerator, caps: rbac.NewCapabilitySet()}))
	assert.Equal(t, http.StatusNoContent, serveGate(gate, principal{id: 2, role: rbac.RoleAdmin}))
	assert.Equal(t, http.StatusNoContent, serveGate(gate, principal{id: 3, role: rbac.RoleUser, caps: rbac.NewCapabilitySet(rbac.CapAuditView)}))
}
