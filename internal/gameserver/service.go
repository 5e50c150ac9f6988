package gameserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
	"github.com/MaxBossMan1/ddgmotdv2/internal/users"
)

const maxUsernameRunes = 64

// Store is the server persistence. Satisfied by *Repository.
type Store interface {
	Upsert(ctx context.Context, rep StatusReport, at time.Time) (int64, bool, error)
	FindByKey(ctx context.Context, key string) (*Server, error)
	FindByID(ctx context.Context, id int64) (*Server, error)
	ListActive(ctx context.Context) ([]Server, error)
	UpdatePlayers(ctx context.Context, key string, edit func([]OnlinePlayer) []OnlinePlayer) (*Server, error)
}

// Identities resolves players to accounts. Satisfied by *users.Repository.
type Identities interface {
	FindBySteamID(ctx context.Context, steamID string) (*users.User, error)
	Create(ctx context.Context, in users.NewUser) (*users.User, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

// Service handles game server traffic.
type Service struct {
	store  Store
	ids    Identities
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(store Store, ids Identities, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, ids: ids, logger: logger, now: time.Now}
}

// WithClock overrides the clock used for heartbeats and ban checks.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ReportStatus stores a heartbeat and returns the server id.
func (s *Service) ReportStatus(ctx context.Context, rep StatusReport) (int64, error) {
	if rep.Port <= 0 {
		rep.Port = DefaultPort
	}
	if rep.Players > rep.MaxPlayers {
		return 0, fmt.Errorf("%w: players exceeds max_players", shared.ErrValidation)
	}
	id, created, err := s.store.Upsert(ctx, rep, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if created {
		s.logger.Info("game server registered", slog.Int64("server_id", id), slog.String("name", rep.Name), slog.String("ip", rep.IP))
	}
	return id, nil
}

// PlayerConnect resolves the joining player to an account, creating one on
// first sight, and adds them to the server's player list. Existing accounts
// keep their username.
func (s *Service) PlayerConnect(ctx context.Context, in Connect) (*users.User, error) {
	if _, err := s.store.FindByKey(ctx, in.ServerKey); err != nil {
		return nil, serverErr(err)
	}
	user, err := s.resolvePlayer(ctx, in.SteamID, in.Name)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.ids.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("touch player last login", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
	entry := OnlinePlayer{SteamID: in.SteamID, Name: displayName(in.Name, in.SteamID), ConnectedAt: now, Data: in.Data}
	_, err = s.store.UpdatePlayers(ctx, in.ServerKey, func(current []OnlinePlayer) []OnlinePlayer {
		return append(withoutPlayer(current, in.SteamID), entry)
	})
	if err != nil {
		return nil, serverErr(err)
	}
	return user, nil
}

// PlayerDisconnect removes a player from the server's list. Removing an
// absent player succeeds.
func (s *Service) PlayerDisconnect(ctx context.Context, serverKey, steamID string) error {
	_, err := s.store.UpdatePlayers(ctx, serverKey, func(current []OnlinePlayer) []OnlinePlayer {
		return withoutPlayer(current, steamID)
	})
	return serverErr(err)
}

// BanStatus reports whether steamID may join. Unknown players are not banned.
func (s *Service) BanStatus(ctx context.Context, steamID string) (BanStatus, error) {
	user, err := s.ids.FindBySteamID(ctx, steamID)
	if errors.Is(err, shared.ErrNotFound) {
		return BanStatus{Message: "Player not found in database"}, nil
	}
	if err != nil {
		return BanStatus{}, err
	}
	ban := user.Ban(s.now())
	out := BanStatus{
		Banned:     ban.Banned,
		Permanent:  ban.Permanent,
		BanExpires: ban.Expires,
		BanReason:  ban.Reason,
		Warns:      user.Warns,
		Role:       user.Role,
		Message:    "Player is not banned",
	}
	switch {
	case ban.Permanent:
		out.Message = "Player is permanently banned"
	case ban.Banned:
		out.Message = "Player is temporarily banned"
	}
	return out, nil
}

// Servers lists the active servers.
func (s *Service) Servers(ctx context.Context) ([]Server, error) {
	return s.store.ListActive(ctx)
}

// Server fetches one server.
func (s *Service) Server(ctx context.Context, id int64) (*Server, error) {
	srv, err := s.store.FindByID(ctx, id)
	return srv, serverErr(err)
}

func (s *Service) resolvePlayer(ctx context.Context, steamID, name string) (*users.User, error) {
	user, err := s.ids.FindBySteamID(ctx, steamID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	handle := displayName(name, steamID)
	user, err = s.ids.Create(ctx, users.NewUser{Username: handle, SteamID: steamID, Role: rbac.RoleUser})
	if errors.Is(err, shared.ErrConflict) {
		// Another connect may have registered the same steam id first.
		if existing, findErr := s.ids.FindBySteamID(ctx, steamID); findErr == nil {
			return existing, nil
		}
		user, err = s.ids.Create(ctx, users.NewUser{Username: fallbackName(handle, steamID), SteamID: steamID, Role: rbac.RoleUser})
	}
	if err != nil {
		return nil, fmt.Errorf("gameserver: register player %s: %w", steamID, err)
	}
	s.logger.Info("player account created", slog.Int64("user_id", user.ID), slog.String("steam_id", steamID))
	return user, nil
}

func serverErr(err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("%w: server not found", shared.ErrNotFound)
	}
	return err
}

func withoutPlayer(list []OnlinePlayer, steamID string) []OnlinePlayer {
	out := make([]OnlinePlayer, 0, len(list))
	for _, p := range list {
		if p.SteamID != steamID {
			out = append(out, p)
		}
	}
	return out
}

func displayName(name, steamID string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "player_" + steamID
	}
	return truncate(name, maxUsernameRunes)
}

// fallbackName disambiguates a handle already taken by another account.
func fallbackName(handle, steamID string) string {
	suffix := "_" + steamID
	return truncate(handle, maxUsernameRunes-utf8.RuneCountInString(suffix)) + suffix
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
