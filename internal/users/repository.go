package users

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/db"
	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
)

// Columns is the select list understood by ScanUser.
const Columns = `id, username, email, password_hash, steam_id, discord_id, role, permissions,
is_active, ban_expires, ban_reason, warns, escalation_level, notes, last_login, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for accounts and their
// violation history.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ScanUser reads one row selected with Columns.
func ScanUser(row pgx.Row) (*User, error) {
	var (
		u                           User
		email, hash, steam, discord pgtype.Text
		banReason, notes            pgtype.Text
		role                        string
		perms                       []string
		banExpires, lastLogin       pgtype.Timestamptz
	)
	err := row.Scan(&u.ID, &u.Username, &email, &hash, &steam, &discord, &role, &perms,
		&u.IsActive, &banExpires, &banReason, &u.Warns, &u.EscalationLevel, &notes, &lastLogin,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, db.Translate(err)
	}
	u.Email = email.String
	u.PasswordHash = hash.String
	u.SteamID = steam.String
	u.DiscordID = discord.String
	u.BanReason = banReason.String
	u.Notes = notes.String
	u.Role = rbac.Role(role)
	u.Permissions = rbac.LenientCapabilitySet(perms)
	if banExpires.Valid {
		t := banExpires.Time
		u.BanExpires = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return &u, nil
}

// FindByID fetches an account.
func (r *Repository) FindByID(ctx context.Context, id int64) (*User, error) {
	return ScanUser(r.pool.QueryRow(ctx, `SELECT `+Columns+` FROM users WHERE id = $1`, id))
}

// FindByLogin fetches an account by handle or email. A handle match wins
// when both exist.
func (r *Repository) FindByLogin(ctx context.Context, login string) (*User, error) {
	return ScanUser(r.pool.QueryRow(ctx, `SELECT `+Columns+` FROM users WHERE username = $1 OR email = $1
ORDER BY (username = $1) DESC, id LIMIT 1`, login))
}

// FindBySteamID fetches an account linked to a Steam player.
func (r *Repository) FindBySteamID(ctx context.Context, steamID string) (*User, error) {
	return ScanUser(r.pool.QueryRow(ctx, `SELECT `+Columns+` FROM users WHERE steam_id = $1`, steamID))
}

// FindByDiscordID fetches an account linked to a Discord user.
func (r *Repository) FindByDiscordID(ctx context.Context, discordID string) (*User, error) {
	return ScanUser(r.pool.QueryRow(ctx, `SELECT `+Columns+` FROM users WHERE discord_id = $1`, discordID))
}

// Create inserts an account. Duplicate handles and external ids surface as
// shared.ErrConflict carrying the constraint name.
func (r *Repository) Create(ctx context.Context, in NewUser) (*User, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO users (username, email, password_hash, steam_id, discord_id, role, permissions, is_active, warns, escalation_level, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, '{}', TRUE, 0, 0, NOW(), NOW())
RETURNING `+Columns,
		in.Username, nullText(in.Email), nullText(in.PasswordHash), nullText(in.SteamID), nullText(in.DiscordID), string(in.Role))
	return ScanUser(row)
}

// UpdateEmail stores a newer email reported by an identity provider.
func (r *Repository) UpdateEmail(ctx context.Context, id int64, email string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET email = COALESCE($2, email), updated_at = NOW() WHERE id = $1`, id, nullText(email))
	return err
}

// TouchLastLogin stamps the login time.
func (r *Repository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	return err
}

// List returns a filtered page of accounts, newest first, and the total match count.
func (r *Repository) List(ctx context.Context, f ListFilter, now time.Time) ([]User, int, error) {
	var (
		clauses []string
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		p := arg("%" + s + "%")
		clauses = append(clauses, fmt.Sprintf("(username ILIKE %s OR email ILIKE %s OR steam_id ILIKE %s OR discord_id ILIKE %s)", p, p, p, p))
	}
	if f.Role != "" {
		clauses = append(clauses, "role = "+arg(string(f.Role)))
	}
	if f.IsActive != nil {
		clauses = append(clauses, "is_active = "+arg(*f.IsActive))
	}
	if f.IsBanned != nil {
		p := arg(now)
		if *f.IsBanned {
			clauses = append(clauses, "(ban_expires IS NOT NULL AND ban_expires > "+p+")")
		} else {
			clauses = append(clauses, "(ban_expires IS NULL OR ban_expires <= "+p+")")
		}
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + Columns + ` FROM users` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := ScanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Update applies changes and returns the stored account.
func (r *Repository) Update(ctx context.Context, id int64, c Changes) (*User, error) {
	var role *string
	if c.Role != nil {
		v := string(*c.Role)
		role = &v
	}
	var perms []string
	if c.Permissions != nil {
		perms = c.Permissions.Names()
	}
	row := r.pool.QueryRow(ctx, `UPDATE users SET
	role = COALESCE($2, role),
	is_active = COALESCE($3, is_active),
	warns = COALESCE($4, warns),
	escalation_level = COALESCE($5, escalation_level),
	notes = COALESCE($6, notes),
	permissions = COALESCE($7, permissions),
	updated_at = NOW()
WHERE id = $1
RETURNING `+Columns, id, role, c.IsActive, c.Warns, c.EscalationLevel, c.Notes, perms)
	return ScanUser(row)
}

// ViolationColumns is the select list understood by ScanViolation, for a
// violations table aliased as v joined to users as s.
const ViolationColumns = `v.id, v.user_id, COALESCE(v.staff_id, 0), COALESCE(s.username, ''), v.rule_id, v.punishment_type,
v.reason, v.duration, v.is_active, v.appeal_status, v.created_at`

// ScanViolation reads one row selected with ViolationColumns.
func ScanViolation(row pgx.Row) (Violation, error) {
	var (
		v        Violation
		ruleID   pgtype.Int8
		duration pgtype.Int4
		kind     string
		appeal   string
	)
	if err := row.Scan(&v.ID, &v.UserID, &v.StaffID, &v.StaffUsername, &ruleID, &kind,
		&v.Reason, &duration, &v.IsActive, &appeal, &v.CreatedAt); err != nil {
		return Violation{}, db.Translate(err)
	}
	v.Punishment = PunishmentKind(kind)
	v.AppealStatus = AppealStatus(appeal)
	if ruleID.Valid {
		id := ruleID.Int64
		v.RuleID = &id
	}
	if duration.Valid {
		d := int(duration.Int32)
		v.DurationMinutes = &d
	}
	return v, nil
}

// ListViolations returns a user's sanctions, newest first.
func (r *Repository) ListViolations(ctx context.Context, userID int64, limit, offset int) ([]Violation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ViolationColumns+`
FROM violations v LEFT JOIN users s ON s.id = v.staff_id
WHERE v.user_id = $1
ORDER BY v.created_at DESC, v.id DESC
LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Violation, 0)
	for rows.Next() {
		v, err := ScanViolation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ViolationStats counts a user's sanctions.
func (r *Repository) ViolationStats(ctx context.Context, userID int64) (ViolationStats, error) {
	var stats ViolationStats
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active) FROM violations WHERE user_id = $1`, userID).
		Scan(&stats.Total, &stats.Active)
	return stats, err
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
