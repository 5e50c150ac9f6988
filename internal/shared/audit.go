package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Audit actions recorded by the moderation, user, mapping, rulebook and game server flows.
const (
	AuditUserWarned        = "user.warned"
	AuditUserBanned        = "user.banned"
	AuditUserAutoBanned    = "user.auto_banned"
	AuditUserUnbanned      = "user.unbanned"
	AuditUserUpdated       = "user.updated"
	AuditUserRegistered    = "user.registered"
	AuditRoleMappingSet    = "discord.mapping_set"
	AuditRoleMappingDelete = "discord.mapping_deleted"
	AuditBanExpired        = "user.ban_expired"
	AuditRuleCreated       = "rule.created"
	AuditRuleUpdated       = "rule.updated"
	AuditRuleDeleted       = "rule.deleted"
	AuditCategoryCreated   = "category.created"
	AuditCategoryUpdated   = "category.updated"
	AuditCategoryDeleted   = "category.deleted"
	AuditServerRegistered  = "game_server.registered"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Execer is the write side of a pgx pool or transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	exec Execer
}

// NewAuditLogger returns a new AuditLogger writing through exec.
func NewAuditLogger(exec Execer) *AuditLogger {
	return &AuditLogger{exec: exec}
}

// Record persists the log entry outside of any caller transaction.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.exec == nil {
		return errors.New("audit logger not initialised")
	}
	return RecordAudit(ctx, l.exec, log)
}

// RecordAudit persists the log entry through exec, so it commits or rolls back
// with the caller's transaction.
func RecordAudit(ctx context.Context, exec Execer, log AuditLog) error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var actor *int64
	if log.ActorID > 0 {
		actor = &log.ActorID
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = exec.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, actor, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}
