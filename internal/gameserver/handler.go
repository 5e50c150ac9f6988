package gameserver

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/httpx"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

// APIKeyHeader carries the shared game server key.
const APIKeyHeader = "X-API-Key"

// Handler exposes the game server endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	apiKey    string
	validator *validator.Validate
}

// NewHandler constructs the handler. An empty apiKey leaves the write routes
// open, relying on the per-server key in each payload.
func NewHandler(logger *slog.Logger, service *Service, apiKey string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, apiKey: apiKey, validator: validator.New()}
}

// MountRoutes registers the game server routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/status", h.status)
	r.Get("/servers/{id}", h.server)
	r.Group(func(r chi.Router) {
		r.Use(h.requireAPIKey)
		r.Post("/update-status", h.updateStatus)
		r.Post("/player-connect", h.playerConnect)
		r.Post("/player-disconnect", h.playerDisconnect)
		r.Get("/player-ban-status/{steamId}", h.banStatus)
	})
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(APIKeyHeader)), []byte(h.apiKey)) != 1 {
			httpx.RespondError(w, fmt.Errorf("%w: invalid game server key", shared.ErrUnauthenticated))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRequest struct {
	ServerKey     string         `json:"server_key" validate:"required,max=100"`
	Name          string         `json:"name" validate:"required,max=200"`
	Map           string         `json:"map" validate:"required,max=100"`
	Gamemode      string         `json:"gamemode" validate:"required,max=100"`
	Players       int            `json:"players" validate:"min=0"`
	MaxPlayers    int            `json:"max_players" validate:"min=1"`
	OnlinePlayers []OnlinePlayer `json:"online_players" validate:"max=256"`
	ServerInfo    map[string]any `json:"server_info"`
}

type connectRequest struct {
	ServerKey  string         `json:"server_key" validate:"required,max=100"`
	SteamID    string         `json:"steam_id" validate:"required,max=32,printascii"`
	PlayerName string         `json:"player_name" validate:"max=128"`
	PlayerData map[string]any `json:"player_data"`
}

type disconnectRequest struct {
	ServerKey string `json:"server_key" validate:"required,max=100"`
	SteamID   string `json:"steam_id" validate:"required,max=32,printascii"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.service.ReportStatus(r.Context(), StatusReport{
		ServerKey:     req.ServerKey,
		Name:          req.Name,
		IP:            remoteIP(r),
		Port:          infoPort(req.ServerInfo),
		Map:           req.Map,
		Gamemode:      req.Gamemode,
		Players:       req.Players,
		MaxPlayers:    req.MaxPlayers,
		OnlinePlayers: req.OnlinePlayers,
		ServerInfo:    req.ServerInfo,
	})
	if err != nil {
		h.fail(w, "update server status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Server status updated", "server_id": id})
}

func (h *Handler) playerConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.service.PlayerConnect(r.Context(), Connect{
		ServerKey: req.ServerKey,
		SteamID:   req.SteamID,
		Name:      req.PlayerName,
		Data:      req.PlayerData,
	})
	if err != nil {
		h.fail(w, "player connect", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Player connection recorded", "user_id": user.ID})
}

func (h *Handler) playerDisconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.PlayerDisconnect(r.Context(), req.ServerKey, req.SteamID); err != nil {
		h.fail(w, "player disconnect", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Player disconnection recorded"})
}

func (h *Handler) banStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.BanStatus(r.Context(), chi.URLParam(r, "steamId"))
	if err != nil {
		h.fail(w, "player ban status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Servers(r.Context())
	if err != nil {
		h.fail(w, "list servers", err)
		return
	}
	total := 0
	for _, s := range list {
		total += s.Players
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"servers": list, "total_players": total})
}

func (h *Handler) server(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", shared.ErrValidation))
		return
	}
	srv, err := h.service.Server(r.Context(), id)
	if err != nil {
		h.fail(w, "get server", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"server": srv})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(w, r, dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// remoteIP strips the port from RemoteAddr, which middleware.RealIP has
// already replaced with the forwarded client address.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// infoPort reads server_info.port, which arrives as a JSON number or string.
func infoPort(info map[string]any) int {
	switch v := info["port"].(type) {
	case float64:
		if v > 0 && v < 65536 {
			return int(v)
		}
	case string:
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
			return p
		}
	}
	return 0
}
