package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaxBossMan1/ddgmotdv2/internal/auth"
	"github.com/MaxBossMan1/ddgmotdv2/internal/gameserver"
	"github.com/MaxBossMan1/ddgmotdv2/internal/observability"
	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/rules"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
	"github.com/MaxBossMan1/ddgmotdv2/internal/users"
	"github.com/MaxBossMan1/ddgmotdv2/jobs"
)

type identities map[int64]*users.User

func (i identities) FindByID(ctx context.Context, id int64) (*users.User, error) {
	if u, ok := i[id]; ok {
		return u, nil
	}
	return nil, shared.ErrNotFound
}

func testRouter(t *testing.T, checks map[string]HealthCheck) (http.Handler, *auth.TokenService, *observability.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &Config{AuthCookieStrict: true, RateLimitRequests: 100, RateLimitWindow: time.Minute, AppRequestTimeout: time.Second}
	tokens, err := auth.NewTokenService("router-secret", time.Hour)
	require.NoError(t, err)
	metrics := observability.NewMetrics()
	authn := auth.NewAuthenticator(tokens, identities{
		1: {ID: 1, Username: "owner", Role: rbac.RoleOwner, IsActive: true},
		2: {ID: 2, Username: "player", Role: rbac.RoleUser, IsActive: true},
	}, "auth_token", nil).WithObserver(metrics)

	router := NewRouter(RouterParams{
		Config:             cfg,
		SessionManager:     shared.NewSessionManager(client, "motd_session", "secret", time.Hour, false),
		Authenticator:      authn,
		PermissionsHandler: rbac.NewPermissionsHandler(),
		JobHandler:         jobs.NewHandler(nil, nil, rbac.Middleware{}, nil),
		RulesHandler:       rules.NewHandler(nil, rules.NewService(nil, nil), rbac.Middleware{}),
		GameServerHandler:  gameserver.NewHandler(nil, nil, "game-key"),
		Metrics:            metrics,
		HealthChecks:       checks,
	})
	return router, tokens, metrics
}

func TestHealthz(t *testing.T) {
	router, _, _ := testRouter(t, map[string]HealthCheck{
		"db": func(ctx context.Context) error { return nil },
	})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","components":{"db":"ok"}}`, rr.Body.String())
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	router, _, _ = testRouter(t, map[string]HealthCheck{
		"redis": func(ctx context.Context) error { return errors.New("down") },
	})
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router, tokens, _ := testRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rbac/permissions", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	tok, _, err := tokens.Issue(1, "owner", rbac.RoleOwner)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/rbac/permissions", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"role":"owner"`)

	player, _, err := tokens.Issue(2, "player", rbac.RoleUser)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/jobs/health", nil)
	req.Header.Set("Authorization", "Bearer "+player)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	scrape := httptest.NewRecorder()
	router.ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `motd_auth_failures_total{reason="no_token"} 1`)
}

func TestRulebookAndGameRoutes(t *testing.T) {
	router, tokens, _ := testRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/rules", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "editing needs a session")

	player, _, err := tokens.Issue(2, "player", rbac.RoleUser)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/rules/categories", nil)
	req.Header.Set("Authorization", "Bearer "+player)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/gmod/update-status", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "game writes need the server key")
}

func TestUnknownRouteIsProblem(t *testing.T) {
	router, _, _ := testRouter(t, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/problem+json")
}

func TestRateLimiterAnswersProblem(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tokens, err := auth.NewTokenService("router-secret", time.Hour)
	require.NoError(t, err)
	router := NewRouter(RouterParams{
		Config:         &Config{RateLimitRequests: 2, RateLimitWindow: time.Minute},
		SessionManager: shared.NewSessionManager(client, "motd_session", "secret", time.Hour, false),
		Authenticator:  auth.NewAuthenticator(tokens, identities{}, "auth_token", nil),
	})
	var last int
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(rr, req)
		last = rr.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
