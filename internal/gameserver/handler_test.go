package gameserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/users"
)

func newGameRouter(store *memServers, ids *memIdentities, apiKey string) http.Handler {
	h := NewHandler(nil, newTestService(store, ids), apiKey)
	r := chi.NewRouter()
	r.Route("/api/gmod", h.MountRoutes)
	return r
}

func call(t *testing.T, h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:51234"
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

const statusBody = `{"server_key":"alpha","name":"DarkRP #1","map":"rp_downtown","gamemode":"darkrp","players":0,"max_players":64,"server_info":{"port":27016}}`

func TestHandlerStatusAndConnect(t *testing.T) {
	store := newMemServers()
	router := newGameRouter(store, newMemIdentities(), "")

	rr := call(t, router, http.MethodPost, "/api/gmod/update-status", statusBody, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"server_id":1`)

	rr = call(t, router, http.MethodPost, "/api/gmod/player-connect",
		`{"server_key":"alpha","steam_id":"76561198000000001","player_name":"Gordon","player_data":{"job":"citizen"}}`, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"user_id":101`)

	rr = call(t, router, http.MethodGet, "/api/gmod/status", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Servers []struct {
			ID            int64          `json:"id"`
			IP            string         `json:"ip"`
			Port          int            `json:"port"`
			Players       int            `json:"players"`
			OnlinePlayers []OnlinePlayer `json:"online_players"`
		} `json:"servers"`
		TotalPlayers int `json:"total_players"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Servers, 1)
	assert.Equal(t, "203.0.113.7", body.Servers[0].IP)
	assert.Equal(t, 27016, body.Servers[0].Port)
	assert.Equal(t, 1, body.TotalPlayers)
	require.Len(t, body.Servers[0].OnlinePlayers, 1)
	assert.Equal(t, "citizen", body.Servers[0].OnlinePlayers[0].Data["job"])
	assert.NotContains(t, rr.Body.String(), "alpha", "server keys stay private")

	rr = call(t, router, http.MethodPost, "/api/gmod/player-disconnect", `{"server_key":"alpha","steam_id":"76561198000000001"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, http.StatusOK, call(t, router, http.MethodGet, "/api/gmod/servers/1", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, call(t, router, http.MethodGet, "/api/gmod/servers/9", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, router, http.MethodGet, "/api/gmod/servers/x", "", nil).Code)
}

func TestHandlerRejectsBadPayloads(t *testing.T) {
	router := newGameRouter(newMemServers(), newMemIdentities(), "")

	assert.Equal(t, http.StatusBadRequest, call(t, router, http.MethodPost, "/api/gmod/update-status", `{"server_key":"alpha"}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, router, http.MethodPost, "/api/gmod/update-status",
		`{"server_key":"alpha","name":"n","map":"m","gamemode":"g","players":-1,"max_players":10}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, router, http.MethodPost, "/api/gmod/player-connect", `{"server_key":"alpha"}`, nil).Code)
	assert.Equal(t, http.StatusNotFound, call(t, router, http.MethodPost, "/api/gmod/player-connect",
		`{"server_key":"ghost","steam_id":"76561198000000001","player_name":"Gordon"}`, nil).Code)
}

func TestHandlerBanStatus(t *testing.T) {
	until := epoch.Add(24 * time.Hour)
	ids := newMemIdentities(&users.User{ID: 1, Username: "rdm", SteamID: "76561198000000007", Role: rbac.RoleUser, BanExpires: &until, BanReason: "RDM"})
	router := newGameRouter(newMemServers(), ids, "")

	rr := call(t, router, http.MethodGet, "/api/gmod/player-ban-status/76561198000000007", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got BanStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.True(t, got.Banned)
	assert.Equal(t, "RDM", got.BanReason)

	rr = call(t, router, http.MethodGet, "/api/gmod/player-ban-status/76561198000000008", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"banned":false,"permanent":false,"ban_expires":null,"warns":0,"message":"Player not found in database"}`, rr.Body.String())
}

func TestHandlerRequiresAPIKeyWhenConfigured(t *testing.T) {
	router := newGameRouter(newMemServers(), newMemIdentities(), "s3cret")

	assert.Equal(t, http.StatusUnauthorized, call(t, router, http.MethodPost, "/api/gmod/update-status", statusBody, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, router, http.MethodPost, "/api/gmod/update-status", statusBody,
		http.Header{APIKeyHeader: {"wrong"}}).Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, router, http.MethodGet, "/api/gmod/player-ban-status/1", "", nil).Code)

	assert.Equal(t, http.StatusOK, call(t, router, http.MethodPost, "/api/gmod/update-status", statusBody,
		http.Header{APIKeyHeader: {"s3cret"}}).Code)
	assert.Equal(t, http.StatusOK, call(t, router, http.MethodGet, "/api/gmod/status", "", nil).Code, "status stays public")
}
