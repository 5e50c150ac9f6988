package users

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	FindByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, in NewUser) (*User, error)
	List(ctx context.Context, f ListFilter, now time.Time) ([]User, int, error)
	Update(ctx context.Context, id int64, c Changes) (*User, error)
	ListViolations(ctx context.Context, userID int64, limit, offset int) ([]Violation, error)
	ViolationStats(ctx context.Context, userID int64) (ViolationStats, error)
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LevelClamp returns the highest escalation threshold at or below a warning count.
type LevelClamp func(warns int) int

// Service handles user business logic.
type Service struct {
	repo   RepositoryPort
	audit  AuditRecorder
	clamp  LevelClamp
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance. clamp keeps the stored escalation level
// consistent when staff lower a warning count by hand.
func NewService(repo RepositoryPort, audit AuditRecorder, clamp LevelClamp, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, clamp: clamp, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time { return s.now() }

// List returns a page of accounts and the total match count.
func (s *Service) List(ctx context.Context, f ListFilter) ([]User, int, error) {
	if f.Limit <= 0 || f.Limit > shared.MaxPageLimit {
		f.Limit = shared.DefaultPageLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, f, s.now())
}

// Detail bundles an account with its sanction history.
type Detail struct {
	User       *User
	Violations []Violation
	Stats      ViolationStats
}

const detailViolations = 20

// Get returns an account with its most recent violations.
func (s *Service) Get(ctx context.Context, id int64) (Detail, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	violations, err := s.repo.ListViolations(ctx, id, detailViolations, 0)
	if err != nil {
		return Detail{}, err
	}
	stats, err := s.repo.ViolationStats(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{User: u, Violations: violations, Stats: stats}, nil
}

// Violations pages through an account's sanctions.
func (s *Service) Violations(ctx context.Context, id int64, page shared.Page) ([]Violation, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListViolations(ctx, id, page.Limit, page.Offset)
}

// UpdateInput carries raw administrative changes.
type UpdateInput struct {
	Role        *string
	IsActive    *bool
	Warns       *int
	Notes       *string
	Permissions *[]string
}

// Update applies administrative changes on behalf of actor. Staff cannot change
// their own role, and only owners may grant or edit the owner role.
func (s *Service) Update(ctx context.Context, actor rbac.Principal, id int64, in UpdateInput) (*User, error) {
	target, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	var c Changes
	if in.Role != nil {
		role, err := rbac.ParseRole(*in.Role)
		if err != nil {
			return nil, err
		}
		if role != target.Role {
			if actor.GetID() == target.ID {
				return nil, fmt.Errorf("%w: cannot change your own role", shared.ErrValidation)
			}
			if (role == rbac.RoleOwner || target.Role == rbac.RoleOwner) && actor.GetRole() != rbac.RoleOwner {
				return nil, fmt.Errorf("%w: only owners can assign or revoke the owner role", shared.ErrForbidden)
			}
			c.Role = &role
		}
	}
	if in.IsActive != nil {
		c.IsActive = in.IsActive
	}
	if in.Warns != nil {
		if *in.Warns < 0 {
			return nil, fmt.Errorf("%w: warns must not be negative", shared.ErrValidation)
		}
		c.Warns = in.Warns
		if s.clamp != nil {
			level := s.clamp(*in.Warns)
			if level < target.EscalationLevel {
				c.EscalationLevel = &level
			}
		}
	}
	if in.Notes != nil {
		notes := strings.TrimSpace(*in.Notes)
		c.Notes = &notes
	}
	if in.Permissions != nil {
		set, err := rbac.ParseCapabilitySet(*in.Permissions)
		if err != nil {
			return nil, err
		}
		c.Permissions = set
	}
	if c.Empty() {
		return target, nil
	}

	updated, err := s.repo.Update(ctx, id, c)
	if err != nil {
		return nil, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actor.GetID(),
		Action:   shared.AuditUserUpdated,
		Entity:   "user",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     changeMeta(target, updated),
	})
	return updated, nil
}

// RegisterInput carries a new password account.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     string
}

// Register creates a password account on behalf of actor.
func (s *Service) Register(ctx context.Context, actor rbac.Principal, in RegisterInput) (*User, error) {
	role := rbac.RoleUser
	if in.Role != "" {
		parsed, err := rbac.ParseRole(in.Role)
		if err != nil {
			return nil, err
		}
		role = parsed
	}
	if role == rbac.RoleOwner && actor.GetRole() != rbac.RoleOwner {
		return nil, fmt.Errorf("%w: only owners can create owner accounts", shared.ErrForbidden)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}
	created, err := s.repo.Create(ctx, NewUser{
		Username:     strings.TrimSpace(in.Username),
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: string(hash),
		Role:         role,
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actor.GetID(),
		Action:   shared.AuditUserRegistered,
		Entity:   "user",
		EntityID: strconv.FormatInt(created.ID, 10),
		Meta:     map[string]any{"username": created.Username, "role": created.Role},
	})
	return created, nil
}

func (s *Service) record(ctx context.Context, entry shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("users audit", slog.String("action", entry.Action), slog.Any("error", err))
	}
}

func changeMeta(before, after *User) map[string]any {
	meta := map[string]any{}
	if before.Role != after.Role {
		meta["role"] = map[string]any{"from": before.Role, "to": after.Role}
	}
	if before.IsActive != after.IsActive {
		meta["is_active"] = after.IsActive
	}
	if before.Warns != after.Warns {
		meta["warns"] = map[string]any{"from": before.Warns, "to": after.Warns}
	}
	if before.Notes != after.Notes {
		meta["notes_changed"] = true
	}
	if strings.Join(before.Permissions.Names(), ",") != strings.Join(after.Permissions.Names(), ",") {
		meta["permissions"] = after.Permissions.Names()
	}
	return meta
}
