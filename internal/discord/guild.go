package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

// ErrNotMember is returned when the account is not in the guild.
var ErrNotMember = fmt.Errorf("%w: not a guild member", shared.ErrNotFound)

// Role is a guild role as exposed by the API.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Position    int    `json:"position"`
	Permissions int64  `json:"permissions,omitempty"`
}

// GuildInfo summarises the configured guild.
type GuildInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"memberCount"`
	Roles       []Role `json:"roles"`
}

// Guild is the read side of a guild connection.
type Guild interface {
	Ready() bool
	Info(ctx context.Context) (*GuildInfo, error)
	MemberRoles(ctx context.Context, discordID string) ([]Role, error)
}

// Bot is a discordgo gateway session bound to one guild.
type Bot struct {
	session *discordgo.Session
	guildID string
	logger  *slog.Logger
	ready   atomic.Bool

	mu      sync.Mutex
	onReady []func(context.Context)
}

// NewBot prepares a session with the guild and member intents. Call Open to
// connect.
func NewBot(token, guildID string, logger *slog.Logger) (*Bot, error) {
	if token == "" || guildID == "" {
		return nil, errors.New("discord: bot token and guild id are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	b := &Bot{session: s, guildID: guildID, logger: logger}
	s.AddHandler(b.handleReady)
	s.AddHandler(b.handleResumed)
	s.AddHandler(b.handleDisconnect)
	return b, nil
}

// OnReady registers fn to run on every connect or resume once the guild is
// reachable.
func (b *Bot) OnReady(fn func(context.Context)) {
	b.mu.Lock()
	b.onReady = append(b.onReady, fn)
	b.mu.Unlock()
}

// Open connects to the gateway.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	b.ready.Store(false)
	return b.session.Close()
}

// Ready reports whether the bot is connected and the guild was found.
func (b *Bot) Ready() bool { return b.ready.Load() }

func (b *Bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		b.logger.Info("discord bot logged in", slog.String("user", r.User.Username))
	}
	b.connected()
}

func (b *Bot) handleResumed(s *discordgo.Session, _ *discordgo.Resumed) {
	b.connected()
}

func (b *Bot) handleDisconnect(s *discordgo.Session, _ *discordgo.Disconnect) {
	if b.ready.Swap(false) {
		b.logger.Warn("discord bot disconnected")
	}
}

func (b *Bot) connected() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	g, err := b.session.Guild(b.guildID, discordgo.WithContext(ctx))
	if err != nil {
		b.ready.Store(false)
		b.logger.Error("discord guild unavailable", slog.String("guild_id", b.guildID), slog.Any("error", err))
		return
	}
	b.ready.Store(true)
	b.logger.Info("connected to discord guild", slog.String("guild", g.Name))

	b.mu.Lock()
	hooks := append([]func(context.Context){}, b.onReady...)
	b.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}
}

// Info returns the guild with its roles, ordered by position.
func (b *Bot) Info(ctx context.Context) (*GuildInfo, error) {
	if !b.Ready() {
		return nil, nil
	}
	g, err := b.guild(ctx)
	if err != nil {
		return nil, err
	}
	roles, err := b.roles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position > out[j].Position })
	count := g.MemberCount
	if count == 0 {
		count = g.ApproximateMemberCount
	}
	return &GuildInfo{ID: g.ID, Name: g.Name, MemberCount: count, Roles: out}, nil
}

// MemberRoles fetches the member and maps role ids to roles.
func (b *Bot) MemberRoles(ctx context.Context, discordID string) ([]Role, error) {
	member, err := b.session.GuildMember(b.guildID, discordID, discordgo.WithContext(ctx))
	if err != nil {
		var rest *discordgo.RESTError
		if errors.As(err, &rest) {
			if rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound {
				return nil, ErrNotMember
			}
			if rest.Message != nil && rest.Message.Code == discordgo.ErrCodeUnknownMember {
				return nil, ErrNotMember
			}
		}
		return nil, fmt.Errorf("%w: fetch member: %v", shared.ErrUpstreamUnavailable, err)
	}
	roles, err := b.roles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Role, 0, len(member.Roles))
	for _, id := range member.Roles {
		if r, ok := roles[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (b *Bot) guild(ctx context.Context) (*discordgo.Guild, error) {
	if g, err := b.session.State.Guild(b.guildID); err == nil {
		return g, nil
	}
	g, err := b.session.Guild(b.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: fetch guild: %v", shared.ErrUpstreamUnavailable, err)
	}
	return g, nil
}

// roles prefers the gateway state and falls back to REST.
func (b *Bot) roles(ctx context.Context) (map[string]Role, error) {
	var list []*discordgo.Role
	if g, err := b.session.State.Guild(b.guildID); err == nil && len(g.Roles) > 0 {
		list = g.Roles
	} else {
		list, err = b.session.GuildRoles(b.guildID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("%w: fetch roles: %v", shared.ErrUpstreamUnavailable, err)
		}
	}
	out := make(map[string]Role, len(list))
	for _, r := range list {
		out[r.ID] = Role{ID: r.ID, Name: r.Name, Color: r.Color, Position: r.Position, Permissions: r.Permissions}
	}
	return out, nil
}

var _ Guild = (*Bot)(nil)
