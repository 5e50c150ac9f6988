// Package realtime serves the authenticated websocket endpoint.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MaxBossMan1/ddgmotdv2/internal/auth"
	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/httpx"
	"github.com/MaxBossMan1/ddgmotdv2/internal/users"
)

// Resolver authenticates a handshake request.
type Resolver interface {
	Resolve(r *http.Request, p auth.Policy) (*users.User, *auth.Claims, error)
}

// Event is a message pushed to a socket client.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

// Identity is the connected account as announced in the ready event.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Handler upgrades authenticated requests to websocket connections.
type Handler struct {
	logger   *slog.Logger
	resolver Resolver
	origins  []string
	idle     time.Duration
}

// NewHandler constructs a socket handler. origins are accepted Origin host
// patterns in addition to same-origin requests.
func NewHandler(logger *slog.Logger, resolver Resolver, origins []string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, resolver: resolver, origins: origins, idle: 2 * time.Minute}
}

// ServeHTTP authenticates the handshake before upgrading. Failures are plain
// HTTP problem responses and no connection is established.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, _, err := h.resolver.Resolve(r, auth.SocketPolicy())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	// The server write timeout would otherwise cut the socket.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Debug("websocket accept", slog.Any("error", err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	ready := Event{
		Type: "ready",
		Data: Identity{ID: user.ID, Username: user.Username, Role: string(user.Role)},
		At:   time.Now().UTC(),
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = wsjson.Write(writeCtx, conn, ready)
	cancel()
	if err != nil {
		h.logger.Debug("websocket ready write", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return
	}
	h.logger.Debug("socket connected", slog.Int64("user_id", user.ID))

	ticker := time.NewTicker(h.idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("socket closed", slog.Int64("user_id", user.ID))
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				_ = conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

// ParseOrigins splits a comma separated origin list.
func ParseOrigins(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
