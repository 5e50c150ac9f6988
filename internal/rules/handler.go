package rules

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/httpx"
	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

// Handler exposes the rulebook.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs the rulebook handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountPublicRoutes registers the anonymous read routes.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/categories", h.categories)
	r.Get("/{id}", h.show)
}

// MountRoutes registers the editing routes. Callers must mount an authenticator first.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleModerator, rbac.RoleAdmin, rbac.RoleOwner))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Post("/categories", h.createCategory)
		r.Put("/categories/{id}", h.updateCategory)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleAdmin, rbac.RoleOwner))
		r.Delete("/{id}", h.delete)
		r.Delete("/categories/{id}", h.deleteCategory)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := shared.PageFromQuery(q)
	filter := ListFilter{
		CategorySlug: q.Get("category"),
		Search:       q.Get("search"),
		Limit:        page.Limit,
		Offset:       page.Offset,
	}
	if raw := q.Get("featured"); raw != "" {
		featured, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: featured must be a boolean", shared.ErrValidation))
			return
		}
		filter.FeaturedOnly = featured
	}
	list, pagination, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list rules", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rules": list, "pagination": pagination})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rule": rule})
}

func (h *Handler) categories(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Categories(r.Context())
	if err != nil {
		h.fail(w, "list categories", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"categories": list})
}

type createRuleRequest struct {
	CategoryID  int64      `json:"category_id" validate:"required,min=1"`
	Title       string     `json:"title" validate:"required,max=200"`
	Subtitle    string     `json:"subtitle" validate:"max=300"`
	Content     string     `json:"content" validate:"required"`
	Slug        string     `json:"slug" validate:"omitempty,max=200"`
	OrderIndex  int        `json:"order_index" validate:"min=0"`
	IsPublished *bool      `json:"is_published"`
	IsFeatured  bool       `json:"is_featured"`
	Tags        []string   `json:"tags" validate:"max=20,dive,max=50"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

type updateRuleRequest struct {
	CategoryID  *int64     `json:"category_id" validate:"omitempty,min=1"`
	Title       *string    `json:"title" validate:"omitempty,max=200"`
	Subtitle    *string    `json:"subtitle" validate:"omitempty,max=300"`
	Content     *string    `json:"content"`
	OrderIndex  *int       `json:"order_index" validate:"omitempty,min=0"`
	IsPublished *bool      `json:"is_published"`
	IsFeatured  *bool      `json:"is_featured"`
	Tags        []string   `json:"tags" validate:"max=20,dive,max=50"`
	ExpiresAt   *time.Time `json:"expires_at"`
	ClearExpiry bool       `json:"clear_expiry"`
}

type categoryRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	OrderIndex  *int    `json:"order_index" validate:"omitempty,min=0"`
	IsActive    *bool   `json:"is_active"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createRuleRequest
	if !h.decode(w, r, &req) {
		return
	}
	published := true
	if req.IsPublished != nil {
		published = *req.IsPublished
	}
	rule, err := h.service.Create(r.Context(), actor, NewRule{
		CategoryID:  req.CategoryID,
		Title:       req.Title,
		Subtitle:    req.Subtitle,
		Content:     req.Content,
		Slug:        req.Slug,
		OrderIndex:  req.OrderIndex,
		IsPublished: published,
		IsFeatured:  req.IsFeatured,
		Tags:        cleanTags(req.Tags),
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		h.fail(w, "create rule", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"message": "rule created", "rule": rule})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateRuleRequest
	if !h.decode(w, r, &req) {
		return
	}
	rule, err := h.service.Update(r.Context(), actor, id, RuleChanges{
		CategoryID:  req.CategoryID,
		Title:       req.Title,
		Subtitle:    req.Subtitle,
		Content:     req.Content,
		OrderIndex:  req.OrderIndex,
		IsPublished: req.IsPublished,
		IsFeatured:  req.IsFeatured,
		Tags:        cleanTags(req.Tags),
		ExpiresAt:   req.ExpiresAt,
		ClearExpiry: req.ClearExpiry,
	})
	if err != nil {
		h.fail(w, "update rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "rule updated", "rule": rule})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.fail(w, "delete rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "rule deleted"})
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req categoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	category, err := h.service.CreateCategory(r.Context(), actor, req.input())
	if err != nil {
		h.fail(w, "create category", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"message": "category created", "category": category})
}

func (h *Handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req categoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	category, err := h.service.UpdateCategory(r.Context(), actor, id, req.input())
	if err != nil {
		h.fail(w, "update category", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "category updated", "category": category})
}

func (h *Handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteCategory(r.Context(), actor, id); err != nil {
		h.fail(w, "delete category", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "category deleted"})
}

func (req categoryRequest) input() CategoryInput {
	return CategoryInput{Name: req.Name, Description: req.Description, OrderIndex: req.OrderIndex, IsActive: req.IsActive}
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (rbac.Principal, bool) {
	actor, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return nil, false
	}
	return actor, true
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

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", shared.ErrValidation))
		return 0, false
	}
	return id, true
}

func cleanTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
