package gameserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/db"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

const serverColumns = `id, server_key, name, ip, port, map, gamemode, players, max_players, online_players, server_info,
is_active, priority, last_heartbeat, created_at, updated_at`

// writeTxOptions: player list edits serialize on the server row lock.
var writeTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// Repository persists game server state in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanServer(row pgx.Row) (*Server, error) {
	var (
		s             Server
		players, info []byte
		lastHeartbeat pgtype.Timestamptz
	)
	err := row.Scan(&s.ID, &s.ServerKey, &s.Name, &s.IP, &s.Port, &s.Map, &s.Gamemode, &s.Players, &s.MaxPlayers,
		&players, &info, &s.IsActive, &s.Priority, &lastHeartbeat, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, db.Translate(err)
	}
	if err := json.Unmarshal(players, &s.OnlinePlayers); err != nil {
		return nil, fmt.Errorf("gameserver: decode online players of %d: %w", s.ID, err)
	}
	if err := json.Unmarshal(info, &s.ServerInfo); err != nil {
		return nil, fmt.Errorf("gameserver: decode server info of %d: %w", s.ID, err)
	}
	if s.OnlinePlayers == nil {
		s.OnlinePlayers = []OnlinePlayer{}
	}
	if lastHeartbeat.Valid {
		t := lastHeartbeat.Time
		s.LastHeartbeat = &t
	}
	return &s, nil
}

// Upsert records a heartbeat, registering the server on first contact. The
// address is only taken from the first heartbeat. Registrations are audited
// with no actor.
func (r *Repository) Upsert(ctx context.Context, rep StatusReport, at time.Time) (id int64, created bool, err error) {
	players, err := json.Marshal(playersOrEmpty(rep.OnlinePlayers))
	if err != nil {
		return 0, false, err
	}
	info, err := json.Marshal(infoOrEmpty(rep.ServerInfo))
	if err != nil {
		return 0, false, err
	}
	err = db.WithTxOptions(ctx, r.pool, writeTxOptions, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO game_servers (server_key, name, ip, port, map, gamemode, players, max_players,
	online_players, server_info, is_active, last_heartbeat, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, $11, $11, $11)
ON CONFLICT (server_key) DO UPDATE SET
	name = EXCLUDED.name,
	map = EXCLUDED.map,
	gamemode = EXCLUDED.gamemode,
	players = EXCLUDED.players,
	max_players = EXCLUDED.max_players,
	online_players = EXCLUDED.online_players,
	server_info = EXCLUDED.server_info,
	is_active = TRUE,
	last_heartbeat = EXCLUDED.last_heartbeat,
	updated_at = EXCLUDED.updated_at
RETURNING id, (xmax = 0)`,
			rep.ServerKey, rep.Name, rep.IP, rep.Port, rep.Map, rep.Gamemode, rep.Players, rep.MaxPlayers,
			players, info, at).Scan(&id, &created)
		if err != nil {
			return db.Translate(err)
		}
		if !created {
			return nil
		}
		return shared.RecordAudit(ctx, tx, shared.AuditLog{
			Action:   shared.AuditServerRegistered,
			Entity:   "game_server",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"name": rep.Name, "ip": rep.IP, "port": rep.Port},
			At:       at,
		})
	})
	if err != nil {
		return 0, false, err
	}
	return id, created, nil
}

// FindByKey fetches a server by its key.
func (r *Repository) FindByKey(ctx context.Context, key string) (*Server, error) {
	return scanServer(r.pool.QueryRow(ctx, `SELECT `+serverColumns+` FROM game_servers WHERE server_key = $1`, key))
}

// FindByID fetches a server.
func (r *Repository) FindByID(ctx context.Context, id int64) (*Server, error) {
	return scanServer(r.pool.QueryRow(ctx, `SELECT `+serverColumns+` FROM game_servers WHERE id = $1`, id))
}

// ListActive returns active servers by priority then name.
func (r *Repository) ListActive(ctx context.Context) ([]Server, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+serverColumns+` FROM game_servers WHERE is_active ORDER BY priority, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Server, 0)
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpdatePlayers rewrites a server's player list with edit while holding the
// server row lock, and keeps the player count in step with the list.
func (r *Repository) UpdatePlayers(ctx context.Context, key string, edit func([]OnlinePlayer) []OnlinePlayer) (*Server, error) {
	var out *Server
	err := db.WithTxOptions(ctx, r.pool, writeTxOptions, func(tx pgx.Tx) error {
		current, err := scanServer(tx.QueryRow(ctx, `SELECT `+serverColumns+` FROM game_servers WHERE server_key = $1 FOR UPDATE`, key))
		if err != nil {
			return err
		}
		next := playersOrEmpty(edit(current.OnlinePlayers))
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}
		updated, err := scanServer(tx.QueryRow(ctx, `UPDATE game_servers SET online_players = $2, players = $3, updated_at = NOW()
WHERE id = $1
RETURNING `+serverColumns, current.ID, payload, len(next)))
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	return out, err
}

func playersOrEmpty(p []OnlinePlayer) []OnlinePlayer {
	if p == nil {
		return []OnlinePlayer{}
	}
	return p
}

func infoOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
