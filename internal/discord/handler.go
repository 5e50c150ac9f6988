package discord

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/httpx"
	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

// Handler exposes guild status, member lookups and mapping administration.
type Handler struct {
	logger    *slog.Logger
	resolver  *Resolver
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs the Discord handler.
func NewHandler(logger *slog.Logger, resolver *Resolver, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, resolver: resolver, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers routes. Callers must mount an authenticator first.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(rbac.CapDiscordView))
		r.Get("/user/{discordId}", h.member)
		r.Get("/user/{discordId}/role/{roleName}", h.hasRole)
		r.Get("/role-permissions", h.listMappings)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleAdmin, rbac.RoleOwner))
		r.Get("/status", h.status)
		r.Post("/role-permissions", h.setMapping)
		r.Delete("/role-permissions/{roleName}", h.removeMapping)
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{
		"connected":       h.resolver.Connected(),
		"guild":           h.resolver.GuildInfo(r.Context()),
		"rolePermissions": h.resolver.RolePermissions(),
	})
}

func (h *Handler) member(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "discordId")
	httpx.JSON(w, http.StatusOK, map[string]any{
		"discordId":  id,
		"roles":      h.resolver.MemberRoles(r.Context(), id),
		"permission": h.resolver.ResolvePermission(r.Context(), id),
	})
}

func (h *Handler) hasRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "discordId")
	roleName, err := url.PathUnescape(chi.URLParam(r, "roleName"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid role name", shared.ErrValidation))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"discordId": id,
		"roleName":  roleName,
		"hasRole":   h.resolver.HasRole(r.Context(), id, roleName),
	})
}

func (h *Handler) listMappings(w http.ResponseWriter, r *http.Request) {
	available := []Role{}
	if info := h.resolver.GuildInfo(r.Context()); info != nil {
		available = info.Roles
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"rolePermissions":  h.resolver.RolePermissions(),
		"availableRoles":   available,
		"validPermissions": rbac.Levels(),
	})
}

type mappingRequest struct {
	RoleName   string `json:"roleName" validate:"required,max=100"`
	Permission string `json:"permission" validate:"required,oneof=user staff moderator admin owner"`
}

func (h *Handler) setMapping(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	var req mappingRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}
	level, err := rbac.ParseLevel(req.Permission)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.resolver.SetRolePermission(r.Context(), req.RoleName, level, actor.GetID())
	if err != nil {
		h.logger.Error("set role permission", slog.String("role", req.RoleName), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message":            "role permission updated",
		"roleName":           m.RoleName,
		"permission":         m.Level,
		"allRolePermissions": h.resolver.RolePermissions(),
	})
}

func (h *Handler) removeMapping(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	roleName, err := url.PathUnescape(chi.URLParam(r, "roleName"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid role name", shared.ErrValidation))
		return
	}
	removed, err := h.resolver.RemoveRolePermission(r.Context(), roleName, actor.GetID())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !removed {
		httpx.RespondError(w, fmt.Errorf("%w: role permission not found", shared.ErrNotFound))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message":            "role permission removed",
		"roleName":           roleName,
		"allRolePermissions": h.resolver.RolePermissions(),
	})
}
