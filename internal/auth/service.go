package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
	"github.com/MaxBossMan1/ddgmotdv2/internal/users"
)

// LevelResolver maps a Discord account to its permission level.
type LevelResolver interface {
	ResolvePermission(ctx context.Context, discordID string) rbac.Level
}

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	tokens *TokenService
	levels LevelResolver
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a new Service. levels may be nil when Discord login is disabled.
func NewService(repo Repository, tokens *TokenService, levels LevelResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, tokens: tokens, levels: levels, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Session is an issued login.
type Session struct {
	User    *users.User
	Token   string
	Expires time.Time
}

// Authenticate validates login (handle or email) and password credentials and
// issues a token. Unknown, inactive and password-less accounts all fail the
// same way.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*Session, error) {
	user, err := s.repo.FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive || user.PasswordHash == "" {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if user.IsBanned(s.now()) {
		return nil, &BannedError{Ban: user.Ban(s.now())}
	}
	return s.issue(ctx, user)
}

// DiscordProfile is the subset of the Discord user object used for login.
type DiscordProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// LoginDiscord finds or creates the account linked to profile and issues a
// token. New accounts take their role from the resolved guild level; existing
// accounts keep their stored role.
func (s *Service) LoginDiscord(ctx context.Context, profile DiscordProfile) (*Session, error) {
	if profile.ID == "" {
		return nil, fmt.Errorf("%w: discord profile without id", shared.ErrValidation)
	}
	user, err := s.repo.FindByDiscordID(ctx, profile.ID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		role := rbac.RoleUser
		if s.levels != nil {
			role = s.levels.ResolvePermission(ctx, profile.ID).Role()
		}
		user, err = s.repo.Create(ctx, users.NewUser{
			Username:  discordHandle(profile),
			Email:     profile.Email,
			DiscordID: profile.ID,
			Role:      role,
		})
		if err != nil {
			return nil, err
		}
		s.logger.Info("discord account created", slog.Int64("user_id", user.ID), slog.String("role", string(role)))
	case err != nil:
		return nil, err
	default:
		if profile.Email != "" && profile.Email != user.Email {
			if err := s.repo.UpdateEmail(ctx, user.ID, profile.Email); err != nil {
				s.logger.Warn("update discord email", slog.Int64("user_id", user.ID), slog.Any("error", err))
			}
		}
	}
	if !user.IsActive {
		return nil, ErrAccountUnavailable
	}
	if user.IsBanned(s.now()) {
		return nil, &BannedError{Ban: user.Ban(s.now())}
	}
	return s.issue(ctx, user)
}

func (s *Service) issue(ctx context.Context, user *users.User) (*Session, error) {
	token, expires, err := s.tokens.Issue(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, err
	}
	if err := s.repo.TouchLastLogin(ctx, user.ID, s.now()); err != nil {
		s.logger.Warn("touch last login", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
	return &Session{User: user, Token: token, Expires: expires}, nil
}

// discordHandle keeps handles unique across providers by suffixing the id.
func discordHandle(p DiscordProfile) string {
	if p.Username == "" {
		return "discord_" + p.ID
	}
	return p.Username + "#" + p.ID
}
