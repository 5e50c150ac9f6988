package moderation

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/db"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
	"github.com/MaxBossMan1/ddgmotdv2/internal/users"
)

// State is the moderation-owned slice of an account row.
type State struct {
	Warns           int
	EscalationLevel int
	BanExpires      *time.Time
	BanReason       string
}

// NewViolation carries the fields of a sanction record.
type NewViolation struct {
	UserID          int64
	StaffID         int64
	RuleID          *int64
	Punishment      users.PunishmentKind
	Reason          string
	DurationMinutes *int
}

// TxRepository exposes the operations run inside one moderation transaction.
type TxRepository interface {
	// LockUser reads the account and holds its row lock until commit.
	LockUser(ctx context.Context, id int64) (*users.User, error)
	SaveState(ctx context.Context, id int64, s State) error
	InsertViolation(ctx context.Context, v NewViolation) (users.Violation, error)
	DeactivateBans(ctx context.Context, userID int64) (int64, error)
	Audit(ctx context.Context, log shared.AuditLog) error
}

// Store runs moderation transactions.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ExpiredBans(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

// Pool is the subset of *pgxpool.Pool the repository needs.
type Pool interface {
	db.TxBeginner
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository provides PostgreSQL backed persistence for moderation.
type Repository struct {
	pool Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return newRepository(pool)
}

func newRepository(pool Pool) *Repository {
	return &Repository{pool: pool}
}

// lockTxOptions is read committed: a transaction blocked on a row lock sees
// the winner's committed row once the lock is released.
var lockTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a read-committed transaction. Serialization per
// account comes from LockUser.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, lockTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// ExpiredBans lists accounts whose ban expiry has passed but is still stored.
func (r *Repository) ExpiredBans(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE ban_expires IS NOT NULL AND ban_expires <= $1 ORDER BY ban_expires LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (t *txRepo) LockUser(ctx context.Context, id int64) (*users.User, error) {
	return users.ScanUser(t.tx.QueryRow(ctx, `SELECT `+users.Columns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) SaveState(ctx context.Context, id int64, s State) error {
	var expires pgtype.Timestamptz
	if s.BanExpires != nil {
		expires = pgtype.Timestamptz{Time: *s.BanExpires, Valid: true}
	}
	reason := pgtype.Text{String: s.BanReason, Valid: s.BanReason != ""}
	tag, err := t.tx.Exec(ctx, `UPDATE users SET warns = $2, escalation_level = $3, ban_expires = $4, ban_reason = $5, updated_at = NOW() WHERE id = $1`,
		id, s.Warns, s.EscalationLevel, expires, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertViolation(ctx context.Context, v NewViolation) (users.Violation, error) {
	var duration pgtype.Int4
	if v.DurationMinutes != nil {
		duration = pgtype.Int4{Int32: int32(*v.DurationMinutes), Valid: true}
	}
	var staff pgtype.Int8
	if v.StaffID > 0 {
		staff = pgtype.Int8{Int64: v.StaffID, Valid: true}
	}
	row := t.tx.QueryRow(ctx, `WITH v AS (
	INSERT INTO violations (user_id, staff_id, rule_id, punishment_type, reason, duration, is_active, appeal_status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, TRUE, 'none', NOW(), NOW())
	RETURNING *
)
SELECT `+users.ViolationColumns+` FROM v LEFT JOIN users s ON s.id = v.staff_id`,
		v.UserID, staff, v.RuleID, string(v.Punishment), v.Reason, duration)
	return users.ScanViolation(row)
}

func (t *txRepo) DeactivateBans(ctx context.Context, userID int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE violations SET is_active = FALSE, updated_at = NOW()
WHERE user_id = $1 AND is_active AND punishment_type IN ('temporary_ban', 'permanent_ban')`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) Audit(ctx context.Context, log shared.AuditLog) error {
	return shared.RecordAudit(ctx, t.tx, log)
}

var _ Store = (*Repository)(nil)
