package moderation

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/httpx"
	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
	"github.com/MaxBossMan1/ddgmotdv2/internal/users"
)

// Handler exposes warn, ban and unban on the user routes.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs the moderation handler.
func NewHandler(logger *slog.Logger, engine *Engine, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers moderation routes beneath a user router. Callers must
// mount an authenticator first.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleModerator, rbac.RoleAdmin, rbac.RoleOwner))
		r.Post("/{id}/warn", h.warn)
		r.Post("/{id}/ban", h.ban)
		r.Post("/{id}/unban", h.unban)
	})
}

type warnRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
	RuleID *int64 `json:"rule_id" validate:"omitempty,min=1"`
}

type banRequest struct {
	Reason      string `json:"reason" validate:"required,max=1000"`
	Duration    *int   `json:"duration" validate:"omitempty,min=1"`
	IsPermanent bool   `json:"is_permanent"`
}

func (h *Handler) warn(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req warnRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.Warn(r.Context(), actor, id, WarnInput{Reason: req.Reason, RuleID: req.RuleID})
	if err != nil {
		h.fail(w, "warn", id, err)
		return
	}
	body := map[string]any{
		"message":    "user warned",
		"user":       res.User.Public(h.engine.Now()),
		"warns":      res.User.Warns,
		"violation":  res.Warning,
		"autoBanned": res.Escalation != nil,
		"ban":        res.Ban,
	}
	if res.Escalation != nil {
		body["escalation"] = res.Escalation
	}
	httpx.JSON(w, http.StatusOK, body)
}

func (h *Handler) ban(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req banRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.Ban(r.Context(), actor, id, BanInput{
		Reason:          req.Reason,
		DurationMinutes: req.Duration,
		Permanent:       req.IsPermanent,
	})
	if err != nil {
		h.fail(w, "ban", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message":   "user banned",
		"user":      res.User.Public(h.engine.Now()),
		"violation": res.Violation,
		"ban":       res.Ban,
	})
}

func (h *Handler) unban(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	res, err := h.engine.Unban(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "unban", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message":     "user unbanned",
		"user":        res.User.Public(h.engine.Now()),
		"deactivated": res.Deactivated,
	})
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (rbac.Principal, int64, bool) {
	actor, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return nil, 0, false
	}
	id, err := users.PathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return nil, 0, false
	}
	return actor, id, true
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

func (h *Handler) fail(w http.ResponseWriter, op string, id int64, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("moderation "+op, slog.Int64("user_id", id), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
