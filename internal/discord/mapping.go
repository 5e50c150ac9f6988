// Package discord resolves permission levels from Discord guild membership
// and manages the role-name to level mappings behind it.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/db"
	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

// Mapping assigns a permission level to a guild role name.
type Mapping struct {
	ID        int64      `json:"id"`
	RoleName  string     `json:"role_name"`
	Level     rbac.Level `json:"permission_level"`
	IsDefault bool       `json:"is_default"`
	CreatedBy *int64     `json:"created_by,omitempty"`
	UpdatedBy *int64     `json:"updated_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// DefaultMappings is the built-in ladder. These rows are protected from removal.
func DefaultMappings() []Mapping {
	return []Mapping{
		{RoleName: "Owner", Level: rbac.LevelOwner, IsDefault: true},
		{RoleName: "Community Manager", Level: rbac.LevelOwner, IsDefault: true},
		{RoleName: "Admin", Level: rbac.LevelAdmin, IsDefault: true},
		{RoleName: "Administrator", Level: rbac.LevelAdmin, IsDefault: true},
		{RoleName: "Moderator", Level: rbac.LevelModerator, IsDefault: true},
		{RoleName: "Mod", Level: rbac.LevelModerator, IsDefault: true},
		{RoleName: "Staff", Level: rbac.LevelStaff, IsDefault: true},
		{RoleName: "Helper", Level: rbac.LevelStaff, IsDefault: true},
		{RoleName: "Support", Level: rbac.LevelStaff, IsDefault: true},
	}
}

// MappingStore persists mappings.
type MappingStore interface {
	List(ctx context.Context) ([]Mapping, error)
	// Upsert creates or updates the mapping for roleName. The default flag of
	// an existing row is kept.
	Upsert(ctx context.Context, roleName string, level rbac.Level, actorID int64) (Mapping, error)
	// Remove deletes a non-default mapping. It fails with shared.ErrNotFound
	// when absent and shared.ErrInvalidState when protected.
	Remove(ctx context.Context, roleName string, actorID int64) error
	// EnsureDefaults inserts missing default rows without touching existing ones.
	EnsureDefaults(ctx context.Context, defaults []Mapping) error
}

// Repository stores mappings in discord_role_mappings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a pgx-backed mapping store. Mutations are audited
// in the same transaction.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const mappingColumns = `id, role_name, permission_level, is_default, created_by, updated_by, created_at, updated_at`

func scanMapping(row pgx.Row) (Mapping, error) {
	var (
		m         Mapping
		level     string
		createdBy pgtype.Int8
		updatedBy pgtype.Int8
	)
	if err := row.Scan(&m.ID, &m.RoleName, &level, &m.IsDefault, &createdBy, &updatedBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Mapping{}, db.Translate(err)
	}
	parsed, err := rbac.ParseLevel(level)
	if err != nil {
		return Mapping{}, fmt.Errorf("discord: mapping %q: %w", m.RoleName, err)
	}
	m.Level = parsed
	if createdBy.Valid {
		m.CreatedBy = &createdBy.Int64
	}
	if updatedBy.Valid {
		m.UpdatedBy = &updatedBy.Int64
	}
	return m, nil
}

// List returns all mappings ordered by name.
func (r *Repository) List(ctx context.Context) ([]Mapping, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+mappingColumns+` FROM discord_role_mappings ORDER BY role_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Mapping writes lock the role row; concurrent admins queue instead of
// failing serialization.
var writeTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// Upsert implements MappingStore.
func (r *Repository) Upsert(ctx context.Context, roleName string, level rbac.Level, actorID int64) (Mapping, error) {
	var actor pgtype.Int8
	if actorID > 0 {
		actor = pgtype.Int8{Int64: actorID, Valid: true}
	}
	var out Mapping
	err := db.WithTxOptions(ctx, r.pool, writeTxOptions, func(tx pgx.Tx) error {
		m, err := scanMapping(tx.QueryRow(ctx, `INSERT INTO discord_role_mappings (role_name, permission_level, is_default, created_by, updated_by, created_at, updated_at)
VALUES ($1, $2, FALSE, $3, $3, NOW(), NOW())
ON CONFLICT (role_name) DO UPDATE SET permission_level = EXCLUDED.permission_level, updated_by = EXCLUDED.updated_by, updated_at = NOW()
RETURNING `+mappingColumns, roleName, string(level), actor))
		if err != nil {
			return err
		}
		out = m
		return shared.RecordAudit(ctx, tx, shared.AuditLog{
			ActorID:  actorID,
			Action:   shared.AuditRoleMappingSet,
			Entity:   "discord_role_mapping",
			EntityID: roleName,
			Meta:     map[string]any{"permission_level": level},
		})
	})
	return out, err
}

// Remove implements MappingStore.
func (r *Repository) Remove(ctx context.Context, roleName string, actorID int64) error {
	return db.WithTxOptions(ctx, r.pool, writeTxOptions, func(tx pgx.Tx) error {
		var isDefault bool
		err := tx.QueryRow(ctx, `SELECT is_default FROM discord_role_mappings WHERE role_name = $1 FOR UPDATE`, roleName).Scan(&isDefault)
		if err != nil {
			return db.Translate(err)
		}
		if isDefault {
			return fmt.Errorf("%w: cannot delete default role mapping", shared.ErrInvalidState)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM discord_role_mappings WHERE role_name = $1`, roleName); err != nil {
			return err
		}
		return shared.RecordAudit(ctx, tx, shared.AuditLog{
			ActorID:  actorID,
			Action:   shared.AuditRoleMappingDelete,
			Entity:   "discord_role_mapping",
			EntityID: roleName,
		})
	})
}

// EnsureDefaults implements MappingStore.
func (r *Repository) EnsureDefaults(ctx context.Context, defaults []Mapping) error {
	batch := &pgx.Batch{}
	for _, m := range defaults {
		batch.Queue(`INSERT INTO discord_role_mappings (role_name, permission_level, is_default, created_at, updated_at)
VALUES ($1, $2, TRUE, NOW(), NOW()) ON CONFLICT (role_name) DO NOTHING`, m.RoleName, string(m.Level))
	}
	res := r.pool.SendBatch(ctx, batch)
	for range defaults {
		if _, err := res.Exec(); err != nil {
			_ = res.Close()
			return err
		}
	}
	return res.Close()
}

var _ MappingStore = (*Repository)(nil)
