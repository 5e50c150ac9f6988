package users

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/httpx"
	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

// Handler manages user administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers user routes. Callers must mount an authenticator first.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(rbac.CapUsersView))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleAdmin, rbac.RoleOwner))
		r.Put("/{id}", h.update)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(rbac.CapViolationsView))
		r.Get("/{id}/violations", h.violations)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := shared.PageFromQuery(q)
	filter := ListFilter{
		Search: q.Get("search"),
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	if raw := q.Get("role"); raw != "" {
		role, err := rbac.ParseRole(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Role = role
	}
	var err error
	if filter.IsActive, err = boolParam(q.Get("is_active")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.IsBanned, err = boolParam(q.Get("is_banned")); err != nil {
		httpx.RespondError(w, err)
		return
	}

	list, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	now := h.service.Now()
	out := make([]PublicUser, 0, len(list))
	for i := range list {
		out = append(out, list[i].Public(now))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"users":      out,
		"pagination": shared.NewPagination(page, total),
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user":       detail.User.Public(h.service.Now()),
		"violations": detail.Violations,
		"statistics": detail.Stats,
	})
}

type updateRequest struct {
	Role        *string   `json:"role" validate:"omitempty,oneof=user moderator admin owner"`
	IsActive    *bool     `json:"is_active"`
	Warns       *int      `json:"warns" validate:"omitempty,min=0"`
	Notes       *string   `json:"notes" validate:"omitempty,max=2000"`
	Permissions *[]string `json:"permissions"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	id, err := PathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}
	updated, err := h.service.Update(r.Context(), actor, id, UpdateInput{
		Role:        req.Role,
		IsActive:    req.IsActive,
		Warns:       req.Warns,
		Notes:       req.Notes,
		Permissions: req.Permissions,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": updated.Public(h.service.Now())})
}

func (h *Handler) violations(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page := shared.PageFromQuery(r.URL.Query())
	list, err := h.service.Violations(r.Context(), id, page)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"violations": list})
}

// PathID parses the {id} URL parameter.
func PathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid user id", shared.ErrValidation)
	}
	return id, nil
}

func boolParam(raw string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid boolean %q", shared.ErrValidation, raw)
	}
	return &v, nil
}
