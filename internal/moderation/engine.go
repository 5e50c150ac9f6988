package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
	"github.com/MaxBossMan1/ddgmotdv2/internal/users"
)

// Observer counts applied moderation actions.
type Observer interface {
	ModerationAction(action string)
}

// Engine applies warnings, bans and unbans. Every operation runs in one
// transaction holding the target's row lock, so concurrent actions against
// the same account are serialized.
type Engine struct {
	store    Store
	policy   Policy
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(store Store, policy Policy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, policy: policy, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithObserver attaches an action observer.
func (e *Engine) WithObserver(o Observer) *Engine {
	e.observer = o
	return e
}

// Policy returns the escalation ladder in use.
func (e *Engine) Policy() Policy { return e.policy }

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time { return e.now() }

// WarnInput describes a warning.
type WarnInput struct {
	Reason string
	RuleID *int64
}

// WarnResult reports the outcome of Warn.
type WarnResult struct {
	User    *users.User
	Warning users.Violation
	// Escalation is set when the warning crossed a threshold.
	Escalation *users.Violation
	Ban        users.BanView
}

// Warn adds one warning and applies the escalation ladder.
func (e *Engine) Warn(ctx context.Context, actor rbac.Principal, targetID int64, in WarnInput) (WarnResult, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return WarnResult{}, fmt.Errorf("%w: reason is required", shared.ErrValidation)
	}
	var res WarnResult
	err := e.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := e.now()
		target, err := e.lockTarget(ctx, tx, actor, targetID)
		if err != nil {
			return err
		}

		state := stateOf(target)
		state.Warns++
		warning, err := tx.InsertViolation(ctx, NewViolation{
			UserID:     target.ID,
			StaffID:    actor.GetID(),
			RuleID:     in.RuleID,
			Punishment: users.PunishmentWarning,
			Reason:     reason,
		})
		if err != nil {
			return fmt.Errorf("moderation: insert warning: %w", err)
		}
		res.Warning = warning
		if err := tx.Audit(ctx, auditEntry(actor.GetID(), shared.AuditUserWarned, target.ID, map[string]any{
			"reason": reason, "warns": state.Warns, "rule_id": in.RuleID,
		})); err != nil {
			return err
		}

		if t, ok := e.policy.Next(state.Warns, state.EscalationLevel); ok {
			state.EscalationLevel = t.Warnings
			banReason := fmt.Sprintf("Automatic ban: %d warnings reached", state.Warns)
			nv := NewViolation{
				UserID:  target.ID,
				StaffID: actor.GetID(),
				Reason:  banReason,
			}
			expires := users.PermanentBanExpiry
			if t.Permanent {
				nv.Punishment = users.PunishmentPermanentBan
			} else {
				nv.Punishment = users.PunishmentTemporaryBan
				minutes := int(t.Duration / time.Minute)
				nv.DurationMinutes = &minutes
				expires = now.Add(t.Duration)
			}
			// An automatic ban never shortens a ban already in force.
			if state.BanExpires == nil || !state.BanExpires.After(expires) || !now.Before(*state.BanExpires) {
				state.BanExpires = &expires
				state.BanReason = banReason
			}
			escalation, err := tx.InsertViolation(ctx, nv)
			if err != nil {
				return fmt.Errorf("moderation: insert escalation: %w", err)
			}
			res.Escalation = &escalation
			if err := tx.Audit(ctx, auditEntry(actor.GetID(), shared.AuditUserAutoBanned, target.ID, map[string]any{
				"warns": state.Warns, "punishment": nv.Punishment, "duration": nv.DurationMinutes,
			})); err != nil {
				return err
			}
		}

		if err := tx.SaveState(ctx, target.ID, state); err != nil {
			return err
		}
		applyState(target, state)
		res.User = target
		res.Ban = target.Ban(now)
		return nil
	})
	if err != nil {
		return WarnResult{}, err
	}
	e.observe("warn")
	if res.Escalation != nil {
		e.observe("auto_ban")
		e.logger.Info("automatic ban applied",
			slog.Int64("user_id", targetID),
			slog.Int("warns", res.User.Warns),
			slog.String("punishment", string(res.Escalation.Punishment)))
	}
	return res, nil
}

// BanInput describes a manual ban. Without a duration the ban is permanent.
type BanInput struct {
	Reason          string
	DurationMinutes *int
	Permanent       bool
}

// BanResult reports the outcome of Ban.
type BanResult struct {
	User      *users.User
	Violation users.Violation
	Ban       users.BanView
}

// Ban bans the target, replacing any ban in force.
func (e *Engine) Ban(ctx context.Context, actor rbac.Principal, targetID int64, in BanInput) (BanResult, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return BanResult{}, fmt.Errorf("%w: reason is required", shared.ErrValidation)
	}
	permanent := in.Permanent || in.DurationMinutes == nil
	if !permanent && *in.DurationMinutes <= 0 {
		return BanResult{}, fmt.Errorf("%w: duration must be positive", shared.ErrValidation)
	}
	var res BanResult
	err := e.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := e.now()
		target, err := e.lockTarget(ctx, tx, actor, targetID)
		if err != nil {
			return err
		}
		nv := NewViolation{UserID: target.ID, StaffID: actor.GetID(), Reason: reason}
		expires := users.PermanentBanExpiry
		if permanent {
			nv.Punishment = users.PunishmentPermanentBan
		} else {
			nv.Punishment = users.PunishmentTemporaryBan
			minutes := *in.DurationMinutes
			nv.DurationMinutes = &minutes
			expires = now.Add(time.Duration(minutes) * time.Minute)
		}
		state := stateOf(target)
		state.BanExpires = &expires
		state.BanReason = reason
		if err := tx.SaveState(ctx, target.ID, state); err != nil {
			return err
		}
		violation, err := tx.InsertViolation(ctx, nv)
		if err != nil {
			return fmt.Errorf("moderation: insert ban: %w", err)
		}
		if err := tx.Audit(ctx, auditEntry(actor.GetID(), shared.AuditUserBanned, target.ID, map[string]any{
			"reason": reason, "punishment": nv.Punishment, "duration": nv.DurationMinutes,
		})); err != nil {
			return err
		}
		applyState(target, state)
		res = BanResult{User: target, Violation: violation, Ban: target.Ban(now)}
		return nil
	})
	if err != nil {
		return BanResult{}, err
	}
	e.observe("ban")
	return res, nil
}

// UnbanResult reports the outcome of Unban.
type UnbanResult struct {
	User        *users.User
	Deactivated int64
}

// Unban lifts a ban in force. Warnings are left untouched.
func (e *Engine) Unban(ctx context.Context, actor rbac.Principal, targetID int64) (UnbanResult, error) {
	var res UnbanResult
	err := e.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		target, err := e.lockTarget(ctx, tx, actor, targetID)
		if err != nil {
			return err
		}
		if !target.IsBanned(e.now()) {
			return fmt.Errorf("%w: user is not banned", shared.ErrInvalidState)
		}
		n, err := e.lift(ctx, tx, target)
		if err != nil {
			return err
		}
		if err := tx.Audit(ctx, auditEntry(actor.GetID(), shared.AuditUserUnbanned, target.ID, map[string]any{
			"deactivated": n,
		})); err != nil {
			return err
		}
		res = UnbanResult{User: target, Deactivated: n}
		return nil
	})
	if err != nil {
		return UnbanResult{}, err
	}
	e.observe("unban")
	return res, nil
}

// ExpireBans clears lapsed temporary bans and deactivates their records. It
// returns the number of accounts cleared.
func (e *Engine) ExpireBans(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	ids, err := e.store.ExpiredBans(ctx, e.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("moderation: list expired bans: %w", err)
	}
	cleared := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return cleared, err
		}
		done := false
		err := e.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			target, err := tx.LockUser(ctx, id)
			if err != nil {
				return err
			}
			// Re-check under the lock; a new ban may have landed since listing.
			if target.BanExpires == nil || target.IsBanned(e.now()) {
				return nil
			}
			n, err := e.lift(ctx, tx, target)
			if err != nil {
				return err
			}
			done = true
			return tx.Audit(ctx, auditEntry(0, shared.AuditBanExpired, target.ID, map[string]any{"deactivated": n}))
		})
		if err != nil {
			e.logger.Warn("expire ban", slog.Int64("user_id", id), slog.Any("error", err))
			continue
		}
		if done {
			cleared++
			e.observe("ban_expired")
		}
	}
	return cleared, nil
}

func (e *Engine) lockTarget(ctx context.Context, tx TxRepository, actor rbac.Principal, targetID int64) (*users.User, error) {
	if actor == nil {
		return nil, shared.ErrUnauthenticated
	}
	target, err := tx.LockUser(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !actor.GetRole().Outranks(target.Role) {
		return nil, fmt.Errorf("%w: cannot moderate a user with equal or higher role", shared.ErrForbidden)
	}
	return target, nil
}

func (e *Engine) lift(ctx context.Context, tx TxRepository, target *users.User) (int64, error) {
	state := stateOf(target)
	state.BanExpires = nil
	state.BanReason = ""
	if err := tx.SaveState(ctx, target.ID, state); err != nil {
		return 0, err
	}
	n, err := tx.DeactivateBans(ctx, target.ID)
	if err != nil {
		return 0, fmt.Errorf("moderation: deactivate bans: %w", err)
	}
	applyState(target, state)
	return n, nil
}

func (e *Engine) observe(action string) {
	if e.observer != nil {
		e.observer.ModerationAction(action)
	}
}

func stateOf(u *users.User) State {
	return State{
		Warns:           u.Warns,
		EscalationLevel: u.EscalationLevel,
		BanExpires:      u.BanExpires,
		BanReason:       u.BanReason,
	}
}

func applyState(u *users.User, s State) {
	u.Warns = s.Warns
	u.EscalationLevel = s.EscalationLevel
	u.BanExpires = s.BanExpires
	u.BanReason = s.BanReason
}

func auditEntry(actorID int64, action string, userID int64, meta map[string]any) shared.AuditLog {
	return shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     meta,
	}
}
