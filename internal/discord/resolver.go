package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"

	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

const memberFetchTimeout = 10 * time.Second

// ResolutionObserver counts resolution outcomes.
type ResolutionObserver interface {
	ResolutionOutcome(outcome string)
}

// Resolution outcomes.
const (
	OutcomeResolved  = "resolved"
	OutcomeNotReady  = "not_ready"
	OutcomeNotMember = "not_member"
	OutcomeError     = "error"
)

// Resolver computes permission levels from guild roles. It owns the mapping
// cache and keeps it in step with the store.
type Resolver struct {
	guild    Guild
	store    MappingStore
	cache    *MappingCache
	logger   *slog.Logger
	observer ResolutionObserver
	group    singleflight.Group
}

// NewResolver constructs a resolver. guild may be nil when no bot is
// configured; every lookup then falls back to the lowest level.
func NewResolver(guild Guild, store MappingStore, cache *MappingCache, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = NewMappingCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		guild:  guild,
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// WithObserver attaches a resolution observer.
func (r *Resolver) WithObserver(o ResolutionObserver) *Resolver {
	r.observer = o
	return r
}

// Cache exposes the mapping cache.
func (r *Resolver) Cache() *MappingCache { return r.cache }

// Connected reports whether the guild connection is usable.
func (r *Resolver) Connected() bool {
	return r.guild != nil && r.guild.Ready()
}

// ResolvePermission returns the highest mapped level over the member's role
// names. Any failure resolves to rbac.LevelUser.
func (r *Resolver) ResolvePermission(ctx context.Context, discordID string) rbac.Level {
	if !r.Connected() {
		r.logger.Warn("discord bot not ready, falling back to default permissions", slog.String("discord_id", discordID))
		r.observe(OutcomeNotReady)
		return rbac.LevelUser
	}
	roles, err := r.fetchRoles(ctx, discordID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			r.observe(OutcomeNotMember)
		} else {
			r.logger.Warn("discord member fetch failed", slog.String("discord_id", discordID), slog.Any("error", err))
			r.observe(OutcomeError)
		}
		return rbac.LevelUser
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	level := r.cache.Highest(names)
	r.logger.Debug("discord permission resolved", slog.String("discord_id", discordID), slog.String("level", string(level)))
	r.observe(OutcomeResolved)
	return level
}

// MemberRoles returns the member's roles, or none when unavailable.
func (r *Resolver) MemberRoles(ctx context.Context, discordID string) []Role {
	if !r.Connected() {
		return []Role{}
	}
	roles, err := r.fetchRoles(ctx, discordID)
	if err != nil {
		if !errors.Is(err, ErrNotMember) {
			r.logger.Warn("discord member fetch failed", slog.String("discord_id", discordID), slog.Any("error", err))
		}
		return []Role{}
	}
	return roles
}

// HasRole reports whether the member holds roleName, compared case-insensitively.
func (r *Resolver) HasRole(ctx context.Context, discordID, roleName string) bool {
	fold := cases.Fold()
	want := fold.String(strings.TrimSpace(roleName))
	for _, role := range r.MemberRoles(ctx, discordID) {
		if fold.String(role.Name) == want {
			return true
		}
	}
	return false
}

// fetchRoles coalesces concurrent fetches for the same member.
func (r *Resolver) fetchRoles(ctx context.Context, discordID string) ([]Role, error) {
	ch := r.group.DoChan(discordID, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), memberFetchTimeout)
		defer cancel()
		return r.guild.MemberRoles(fetchCtx, discordID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Role), nil
	}
}

// LoadMappings refills the cache from the store. When the store is
// unreachable the built-in defaults are used.
func (r *Resolver) LoadMappings(ctx context.Context) error {
	list, err := r.store.List(ctx)
	if err != nil {
		r.logger.Error("load role mappings, using defaults", slog.Any("error", err))
		r.cache.Replace(DefaultMappings())
		return err
	}
	r.cache.Replace(list)
	r.logger.Info("loaded role mappings", slog.Int("count", len(list)))
	return nil
}

// EnsureDefaults inserts missing default mappings and reloads the cache.
func (r *Resolver) EnsureDefaults(ctx context.Context) error {
	if err := r.store.EnsureDefaults(ctx, DefaultMappings()); err != nil {
		r.logger.Error("ensure default role mappings", slog.Any("error", err))
		return err
	}
	return r.LoadMappings(ctx)
}

// SetRolePermission upserts a mapping and updates the cache before returning.
func (r *Resolver) SetRolePermission(ctx context.Context, roleName string, level rbac.Level, actorID int64) (Mapping, error) {
	roleName = strings.TrimSpace(roleName)
	if roleName == "" {
		return Mapping{}, fmt.Errorf("%w: role name is required", shared.ErrValidation)
	}
	if !level.Valid() {
		return Mapping{}, fmt.Errorf("%w: invalid permission level %q", shared.ErrValidation, level)
	}
	m, err := r.store.Upsert(ctx, roleName, level, actorID)
	if err != nil {
		return Mapping{}, err
	}
	r.cache.Put(m)
	r.logger.Info("role permission updated", slog.String("role", roleName), slog.String("level", string(level)), slog.Int64("actor_id", actorID))
	return m, nil
}

// RemoveRolePermission deletes a mapping. It reports false when none existed
// and fails with shared.ErrInvalidState for protected defaults, leaving the
// cache untouched.
func (r *Resolver) RemoveRolePermission(ctx context.Context, roleName string, actorID int64) (bool, error) {
	if err := r.store.Remove(ctx, roleName, actorID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	r.cache.Delete(roleName)
	r.logger.Info("role permission removed", slog.String("role", roleName), slog.Int64("actor_id", actorID))
	return true, nil
}

// RolePermissions returns the cached role name to level map.
func (r *Resolver) RolePermissions() map[string]rbac.Level {
	return r.cache.Levels()
}

// GuildInfo returns the guild summary, or nil when not connected.
func (r *Resolver) GuildInfo(ctx context.Context) *GuildInfo {
	if !r.Connected() {
		return nil
	}
	info, err := r.guild.Info(ctx)
	if err != nil {
		r.logger.Warn("discord guild info", slog.Any("error", err))
		return nil
	}
	return info
}

func (r *Resolver) observe(outcome string) {
	if r.observer != nil {
		r.observer.ResolutionOutcome(outcome)
	}
}
