// Package gameserver receives heartbeats and player events from the Garry's
// Mod servers and answers their ban lookups.
package gameserver

import (
	"time"

	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
)

// DefaultPort is the Source engine default, used when a heartbeat omits it.
const DefaultPort = 27015

// Server is the last reported state of one game server. The server key
// authenticates heartbeats and is never rendered.
type Server struct {
	ID            int64          `json:"id"`
	ServerKey     string         `json:"-"`
	Name          string         `json:"name"`
	IP            string         `json:"ip"`
	Port          int            `json:"port"`
	Map           string         `json:"map"`
	Gamemode      string         `json:"gamemode"`
	Players       int            `json:"players"`
	MaxPlayers    int            `json:"max_players"`
	OnlinePlayers []OnlinePlayer `json:"online_players"`
	ServerInfo    map[string]any `json:"server_info"`
	IsActive      bool           `json:"is_active"`
	Priority      int            `json:"priority"`
	LastHeartbeat *time.Time     `json:"last_heartbeat"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// OnlinePlayer is one entry of a server's player list.
type OnlinePlayer struct {
	SteamID     string         `json:"steam_id"`
	Name        string         `json:"name"`
	ConnectedAt time.Time      `json:"connected_at"`
	Data        map[string]any `json:"data,omitempty"`
}

// StatusReport is a heartbeat.
type StatusReport struct {
	ServerKey     string
	Name          string
	IP            string
	Port          int
	Map           string
	Gamemode      string
	Players       int
	MaxPlayers    int
	OnlinePlayers []OnlinePlayer
	ServerInfo    map[string]any
}

// Connect is a player join event.
type Connect struct {
	ServerKey string
	SteamID   string
	Name      string
	Data      map[string]any
}

// BanStatus answers a game server's ban lookup.
type BanStatus struct {
	Banned     bool       `json:"banned"`
	Permanent  bool       `json:"permanent"`
	BanExpires *time.Time `json:"ban_expires"`
	BanReason  string     `json:"ban_reason,omitempty"`
	Warns      int        `json:"warns"`
	Role       rbac.Role  `json:"role,omitempty"`
	Message    string     `json:"message"`
}
