package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

// maxSlugAttempts bounds the numeric suffixes tried for a colliding slug.
const maxSlugAttempts = 50

// Store is the persistence the service needs. Satisfied by *Repository.
type Store interface {
	ListRules(ctx context.Context, f ListFilter, now time.Time) ([]Rule, int, error)
	FindRule(ctx context.Context, id int64) (*Rule, error)
	FindRuleBySlug(ctx context.Context, slug string) (*Rule, error)
	IncrementViews(ctx context.Context, id int64) error
	SlugTaken(ctx context.Context, slug string, exceptID int64) (bool, error)
	CreateRule(ctx context.Context, in NewRule, publishedAt *time.Time, audit shared.AuditLog) (*Rule, error)
	UpdateRule(ctx context.Context, id int64, c RuleChanges, version int, publishedAt *time.Time, audit shared.AuditLog) (*Rule, error)
	SoftDeleteRule(ctx context.Context, id int64, at time.Time, audit shared.AuditLog) error
	ListCategories(ctx context.Context, activeOnly bool, now time.Time) ([]Category, error)
	FindCategory(ctx context.Context, id int64) (*Category, error)
	CreateCategory(ctx context.Context, c Category, audit shared.AuditLog) (*Category, error)
	UpdateCategory(ctx context.Context, id int64, in CategoryInput, slug *string, audit shared.AuditLog) (*Category, error)
	DeleteCategory(ctx context.Context, id int64, audit shared.AuditLog) error
}

// Service implements the rulebook operations.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the rulebook service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// List returns the public rule listing.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Rule, shared.Pagination, error) {
	out, total, err := s.store.ListRules(ctx, f, s.now())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return out, shared.NewPagination(shared.Page{Limit: f.Limit, Offset: f.Offset}, total), nil
}

// Get resolves ref as a numeric id or a slug and counts the view. Rules that
// are unpublished or expired are reported as not found.
func (s *Service) Get(ctx context.Context, ref string) (*Rule, error) {
	var (
		rule *Rule
		err  error
	)
	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		rule, err = s.store.FindRule(ctx, id)
	} else {
		rule, err = s.store.FindRuleBySlug(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if !rule.Visible(s.now()) {
		return nil, fmt.Errorf("%w: rule", shared.ErrNotFound)
	}
	if err := s.store.IncrementViews(ctx, rule.ID); err != nil {
		s.logger.Warn("count rule view", slog.Int64("rule_id", rule.ID), slog.Any("error", err))
	} else {
		rule.ViewCount++
	}
	return rule, nil
}

// Create adds a rule. The slug comes from the title unless given, with a
// numeric suffix when taken.
func (s *Service) Create(ctx context.Context, actor rbac.Principal, in NewRule) (*Rule, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" || strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: title and content are required", shared.ErrValidation)
	}
	if err := s.categoryExists(ctx, in.CategoryID); err != nil {
		return nil, err
	}
	base := Slugify(in.Slug)
	if base == "" {
		base = Slugify(in.Title)
	}
	slug, err := s.uniqueSlug(ctx, base, 0)
	if err != nil {
		return nil, err
	}
	in.Slug = slug

	now := s.now()
	var publishedAt *time.Time
	if in.IsPublished {
		publishedAt = &now
	}
	return s.store.CreateRule(ctx, in, publishedAt, shared.AuditLog{
		ActorID: actor.GetID(),
		Action:  shared.AuditRuleCreated,
		Entity:  "rule",
		Meta:    map[string]any{"title": in.Title, "slug": slug, "category_id": in.CategoryID},
		At:      now,
	})
}

// Update edits a rule. The version advances when the title or content
// changes; the first publication stamps published_at.
func (s *Service) Update(ctx context.Context, actor rbac.Principal, id int64, c RuleChanges) (*Rule, error) {
	existing, err := s.store.FindRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Title != nil {
		t := strings.TrimSpace(*c.Title)
		if t == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", shared.ErrValidation)
		}
		c.Title = &t
	}
	if c.Content != nil && strings.TrimSpace(*c.Content) == "" {
		return nil, fmt.Errorf("%w: content cannot be empty", shared.ErrValidation)
	}
	if c.CategoryID != nil && *c.CategoryID != existing.CategoryID {
		if err := s.categoryExists(ctx, *c.CategoryID); err != nil {
			return nil, err
		}
	}

	changed := []string{}
	version := existing.Version
	if c.Title != nil && *c.Title != existing.Title {
		changed = append(changed, "title")
	}
	if c.Content != nil && *c.Content != existing.Content {
		changed = append(changed, "content")
	}
	if len(changed) > 0 {
		version++
	}
	now := s.now()
	publishedAt := existing.PublishedAt
	if c.IsPublished != nil && *c.IsPublished && publishedAt == nil {
		publishedAt = &now
	}
	if c.IsPublished != nil && *c.IsPublished != existing.IsPublished {
		changed = append(changed, "is_published")
	}
	if c.CategoryID != nil && *c.CategoryID != existing.CategoryID {
		changed = append(changed, "category_id")
	}

	return s.store.UpdateRule(ctx, id, c, version, publishedAt, shared.AuditLog{
		ActorID:  actor.GetID(),
		Action:   shared.AuditRuleUpdated,
		Entity:   "rule",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     map[string]any{"changed": changed, "version": version},
		At:       now,
	})
}

// Delete hides a rule from every listing.
func (s *Service) Delete(ctx context.Context, actor rbac.Principal, id int64) error {
	now := s.now()
	return s.store.SoftDeleteRule(ctx, id, now, shared.AuditLog{
		ActorID:  actor.GetID(),
		Action:   shared.AuditRuleDeleted,
		Entity:   "rule",
		EntityID: strconv.FormatInt(id, 10),
		At:       now,
	})
}

// Categories returns the active categories with their visible rule counts.
func (s *Service) Categories(ctx context.Context) ([]Category, error) {
	return s.store.ListCategories(ctx, true, s.now())
}

// CreateCategory adds a category whose slug derives from its name.
func (s *Service) CreateCategory(ctx context.Context, actor rbac.Principal, in CategoryInput) (*Category, error) {
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, fmt.Errorf("%w: category name is required", shared.ErrValidation)
	}
	c := Category{Name: strings.TrimSpace(*in.Name), IsActive: true}
	c.Slug = Slugify(c.Name)
	if c.Slug == "" {
		return nil, fmt.Errorf("%w: category name needs at least one letter or digit", shared.ErrValidation)
	}
	if in.Description != nil {
		c.Description = strings.TrimSpace(*in.Description)
	}
	if in.OrderIndex != nil {
		c.OrderIndex = *in.OrderIndex
	}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	created, err := s.store.CreateCategory(ctx, c, shared.AuditLog{
		ActorID: actor.GetID(),
		Action:  shared.AuditCategoryCreated,
		Entity:  "category",
		Meta:    map[string]any{"name": c.Name, "slug": c.Slug},
		At:      s.now(),
	})
	if errors.Is(err, shared.ErrConflict) {
		return nil, fmt.Errorf("%w: category with this name already exists", shared.ErrConflict)
	}
	return created, err
}

// UpdateCategory edits a category. Renaming regenerates the slug.
func (s *Service) UpdateCategory(ctx context.Context, actor rbac.Principal, id int64, in CategoryInput) (*Category, error) {
	existing, err := s.store.FindCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	var slug *string
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: category name cannot be empty", shared.ErrValidation)
		}
		in.Name = &name
		if name != existing.Name {
			next := Slugify(name)
			if next == "" {
				return nil, fmt.Errorf("%w: category name needs at least one letter or digit", shared.ErrValidation)
			}
			slug = &next
		}
	}
	if in.Description != nil {
		d := strings.TrimSpace(*in.Description)
		in.Description = &d
	}
	updated, err := s.store.UpdateCategory(ctx, id, in, slug, shared.AuditLog{
		ActorID:  actor.GetID(),
		Action:   shared.AuditCategoryUpdated,
		Entity:   "category",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     map[string]any{"renamed": slug != nil},
		At:       s.now(),
	})
	if errors.Is(err, shared.ErrConflict) {
		return nil, fmt.Errorf("%w: category with this name already exists", shared.ErrConflict)
	}
	return updated, err
}

// DeleteCategory removes a category that no longer holds live rules.
func (s *Service) DeleteCategory(ctx context.Context, actor rbac.Principal, id int64) error {
	return s.store.DeleteCategory(ctx, id, shared.AuditLog{
		ActorID:  actor.GetID(),
		Action:   shared.AuditCategoryDeleted,
		Entity:   "category",
		EntityID: strconv.FormatInt(id, 10),
		At:       s.now(),
	})
}

func (s *Service) categoryExists(ctx context.Context, id int64) error {
	if _, err := s.store.FindCategory(ctx, id); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: category not found", shared.ErrValidation)
		}
		return err
	}
	return nil
}

func (s *Service) uniqueSlug(ctx context.Context, base string, exceptID int64) (string, error) {
	if base == "" {
		return "", fmt.Errorf("%w: title needs at least one letter or digit", shared.ErrValidation)
	}
	candidate := base
	for i := 2; i <= maxSlugAttempts+1; i++ {
		taken, err := s.store.SlugTaken(ctx, candidate, exceptID)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
	return "", fmt.Errorf("%w: slug %q", shared.ErrConflict, base)
}
