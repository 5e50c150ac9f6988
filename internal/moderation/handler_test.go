package moderation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/users"
)

func newModerationRouter(store *memStore, actor *users.User) http.Handler {
	h := NewHandler(nil, newTestEngine(store), rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if actor != nil {
				req = req.WithContext(rbac.ContextWithPrincipal(req.Context(), actor))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/api/users", h.MountRoutes)
	return r
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerWarn(t *testing.T) {
	store := newMemStore(player(10))
	router := newModerationRouter(store, staff(rbac.RoleModerator))

	rr := post(t, router, "/api/users/10/warn", `{"reason":"spam","rule_id":3}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Warns      int             `json:"warns"`
		AutoBanned bool            `json:"autoBanned"`
		Violation  users.Violation `json:"violation"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Warns)
	assert.False(t, body.AutoBanned)
	require.NotNil(t, body.Violation.RuleID)
	assert.EqualValues(t, 3, *body.Violation.RuleID)
}

func TestHandlerValidation(t *testing.T) {
	router := newModerationRouter(newMemStore(player(10)), staff(rbac.RoleModerator))

	assert.Equal(t, http.StatusBadRequest, post(t, router, "/api/users/10/warn", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, router, "/api/users/10/ban", `{"reason":"x","duration":0}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, router, "/api/users/abc/unban", ``).Code)
}

func TestHandlerStatusMapping(t *testing.T) {
	admin := users.User{ID: 30, Username: "admin", Role: rbac.RoleAdmin, IsActive: true}
	store := newMemStore(player(10), admin)

	router := newModerationRouter(store, staff(rbac.RoleModerator))
	assert.Equal(t, http.StatusConflict, post(t, router, "/api/users/10/unban", ``).Code)
	assert.Equal(t, http.StatusForbidden, post(t, router, "/api/users/30/ban", `{"reason":"x"}`).Code)
	assert.Equal(t, http.StatusNotFound, post(t, router, "/api/users/99/warn", `{"reason":"x"}`).Code)

	rr := post(t, router, "/api/users/10/ban", `{"reason":"grief","is_permanent":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"permanent":true`)
	assert.Contains(t, rr.Body.String(), `"expires":null`)

	assert.Equal(t, http.StatusOK, post(t, router, "/api/users/10/unban", ``).Code)
}

func TestHandlerRoleGate(t *testing.T) {
	store := newMemStore(player(10))
	assert.Equal(t, http.StatusUnauthorized, post(t, newModerationRouter(store, nil), "/api/users/10/warn", `{"reason":"x"}`).Code)

	plain := &users.User{ID: 2, Username: "u", Role: rbac.RoleUser, IsActive: true}
	assert.Equal(t, http.StatusForbidden, post(t, newModerationRouter(store, plain), "/api/users/10/warn", `{"reason":"x"}`).Code)
}
