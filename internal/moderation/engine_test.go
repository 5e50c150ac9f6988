package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
	"github.com/MaxBossMan1/ddgmotdv2/internal/users"
)

type memStore struct {
	mu         sync.Mutex
	users      map[int64]users.User
	violations []users.Violation
	audits     []shared.AuditLog
	nextID     int64
}

func newMemStore(list ...users.User) *memStore {
	s := &memStore{users: make(map[int64]users.User)}
	for _, u := range list {
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	usersSnap := make(map[int64]users.User, len(s.users))
	for k, v := range s.users {
		usersSnap[k] = v
	}
	violSnap := append([]users.Violation(nil), s.violations...)
	auditSnap := append([]shared.AuditLog(nil), s.audits...)
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.users, s.violations, s.audits = usersSnap, violSnap, auditSnap
		return err
	}
	return nil
}

func (s *memStore) ExpiredBans(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, u := range s.users {
		if u.BanExpires != nil && !u.BanExpires.After(now) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memStore) user(id int64) users.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

func (s *memStore) violationsOf(id int64) []users.Violation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []users.Violation
	for _, v := range s.violations {
		if v.UserID == id {
			out = append(out, v)
		}
	}
	return out
}

type memTx struct{ s *memStore }

func (t *memTx) LockUser(ctx context.Context, id int64) (*users.User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &u, nil
}

func (t *memTx) SaveState(ctx context.Context, id int64, st State) error {
	u, ok := t.s.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.Warns, u.EscalationLevel, u.BanExpires, u.BanReason = st.Warns, st.EscalationLevel, st.BanExpires, st.BanReason
	t.s.users[id] = u
	return nil
}

func (t *memTx) InsertViolation(ctx context.Context, v NewViolation) (users.Violation, error) {
	t.s.nextID++
	rec := users.Violation{
		ID:              t.s.nextID,
		UserID:          v.UserID,
		StaffID:         v.StaffID,
		RuleID:          v.RuleID,
		Punishment:      v.Punishment,
		Reason:          v.Reason,
		DurationMinutes: v.DurationMinutes,
		IsActive:        true,
		AppealStatus:    users.AppealNone,
	}
	t.s.violations = append(t.s.violations, rec)
	return rec, nil
}

func (t *memTx) DeactivateBans(ctx context.Context, userID int64) (int64, error) {
	var n int64
	for i := range t.s.violations {
		v := &t.s.violations[i]
		if v.UserID == userID && v.IsActive && v.Punishment.IsBan() {
			v.IsActive = false
			n++
		}
	}
	return n, nil
}

func (t *memTx) Audit(ctx context.Context, log shared.AuditLog) error {
	t.s.audits = append(t.s.audits, log)
	return nil
}

type countingObserver struct {
	mu      sync.Mutex
	actions map[string]int
}

func (o *countingObserver) ModerationAction(action string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.actions == nil {
		o.actions = make(map[string]int)
	}
	o.actions[action]++
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func staff(role rbac.Role) *users.User {
	return &users.User{ID: 1, Username: "staff", Role: role, IsActive: true}
}

func player(id int64) users.User {
	return users.User{ID: id, Username: "player", Role: rbac.RoleUser, IsActive: true}
}

func newTestEngine(store Store) *Engine {
	return NewEngine(store, DefaultPolicy(), nil).WithClock(func() time.Time { return baseTime })
}

func TestPolicyNext(t *testing.T) {
	p := DefaultPolicy()
	_, ok := p.Next(4, 0)
	assert.False(t, ok)

	th, ok := p.Next(5, 0)
	require.True(t, ok)
	assert.Equal(t, 1440*time.Minute, th.Duration)

	_, ok = p.Next(6, 5)
	assert.False(t, ok)

	th, ok = p.Next(12, 5)
	require.True(t, ok)
	assert.Equal(t, 10, th.Warnings)

	th, ok = p.Next(30, 20)
	require.True(t, ok)
	assert.True(t, th.Permanent)

	assert.Equal(t, 0, p.Clamp(4))
	assert.Equal(t, 10, p.Clamp(14))
	assert.Equal(t, 25, p.Clamp(99))
}

func TestNewPolicyRejectsInvalidLadder(t *testing.T) {
	_, err := NewPolicy([]Threshold{{Warnings: 0, Duration: time.Hour}})
	assert.Error(t, err)
	_, err = NewPolicy([]Threshold{{Warnings: 3}})
	assert.Error(t, err)
	_, err = NewPolicy([]Threshold{{Warnings: 3, Duration: time.Hour}, {Warnings: 3, Permanent: true}})
	assert.Error(t, err)

	p, err := NewPolicy([]Threshold{{Warnings: 9, Permanent: true}, {Warnings: 2, Duration: time.Hour}})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Thresholds()[0].Warnings)
}

func TestWarnEscalationLadder(t *testing.T) {
	store := newMemStore(player(10))
	engine := newTestEngine(store)
	actor := staff(rbac.RoleModerator)

	expected := map[int]time.Duration{
		5:  1440 * time.Minute,
		10: 4320 * time.Minute,
		15: 10080 * time.Minute,
		20: 20160 * time.Minute,
	}

	for n := 1; n <= 25; n++ {
		res, err := engine.Warn(context.Background(), actor, 10, WarnInput{Reason: "spam"})
		require.NoError(t, err, "warn %d", n)
		assert.Equal(t, n, res.User.Warns)
		assert.Equal(t, users.PunishmentWarning, res.Warning.Punishment)

		switch {
		case n == 25:
			require.NotNil(t, res.Escalation, "warn %d", n)
			assert.Equal(t, users.PunishmentPermanentBan, res.Escalation.Punishment)
			assert.Nil(t, res.Escalation.DurationMinutes)
			assert.True(t, res.Ban.Permanent)
			assert.Nil(t, res.Ban.Expires)
			assert.Equal(t, "Automatic ban: 25 warnings reached", res.Ban.Reason)
		case expected[n] > 0:
			require.NotNil(t, res.Escalation, "warn %d", n)
			assert.Equal(t, users.PunishmentTemporaryBan, res.Escalation.Punishment)
			require.NotNil(t, res.Escalation.DurationMinutes)
			assert.Equal(t, int(expected[n]/time.Minute), *res.Escalation.DurationMinutes)
			require.NotNil(t, res.Ban.Expires)
			assert.Equal(t, baseTime.Add(expected[n]), *res.Ban.Expires)
		default:
			assert.Nil(t, res.Escalation, "warn %d must not escalate", n)
		}
	}

	final := store.user(10)
	assert.Equal(t, 25, final.Warns)
	assert.Equal(t, 25, final.EscalationLevel)
	assert.True(t, final.IsPermanentlyBanned())
	assert.Len(t, store.violationsOf(10), 30)
}

func TestWarnBelowThresholdDoesNotBan(t *testing.T) {
	store := newMemStore(player(10))
	engine := newTestEngine(store)
	for i := 0; i < 4; i++ {
		res, err := engine.Warn(context.Background(), staff(rbac.RoleAdmin), 10, WarnInput{Reason: "toxicity"})
		require.NoError(t, err)
		assert.False(t, res.Ban.Banned)
	}
	u := store.user(10)
	assert.Nil(t, u.BanExpires)
	assert.Equal(t, 0, u.EscalationLevel)
}

func TestWarnAfterClampedWarnsEscalatesAgain(t *testing.T) {
	u := player(10)
	u.Warns = 4
	u.EscalationLevel = 0
	store := newMemStore(u)
	engine := newTestEngine(store)

	res, err := engine.Warn(context.Background(), staff(rbac.RoleModerator), 10, WarnInput{Reason: "spam"})
	require.NoError(t, err)
	require.NotNil(t, res.Escalation)
	assert.True(t, res.Ban.Banned)
}

func TestWarnDoesNotShortenLongerBan(t *testing.T) {
	u := player(10)
	u.Warns = 4
	longer := baseTime.Add(30 * 24 * time.Hour)
	u.BanExpires = &longer
	u.BanReason = "manual"
	store := newMemStore(u)
	engine := newTestEngine(store)

	res, err := engine.Warn(context.Background(), staff(rbac.RoleModerator), 10, WarnInput{Reason: "spam"})
	require.NoError(t, err)
	require.NotNil(t, res.Escalation)
	require.NotNil(t, res.Ban.Expires)
	assert.Equal(t, longer, *res.Ban.Expires)
	assert.Equal(t, "manual", res.Ban.Reason)
}

func TestWarnRequiresReason(t *testing.T) {
	engine := newTestEngine(newMemStore(player(10)))
	_, err := engine.Warn(context.Background(), staff(rbac.RoleModerator), 10, WarnInput{Reason: "  "})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestRankRule(t *testing.T) {
	mod := users.User{ID: 20, Username: "mod", Role: rbac.RoleModerator, IsActive: true}
	admin := users.User{ID: 30, Username: "admin", Role: rbac.RoleAdmin, IsActive: true}
	store := newMemStore(mod, admin)
	engine := newTestEngine(store)
	ctx := context.Background()

	_, err := engine.Warn(ctx, staff(rbac.RoleModerator), 20, WarnInput{Reason: "x"})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = engine.Ban(ctx, staff(rbac.RoleModerator), 30, BanInput{Reason: "x"})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = engine.Unban(ctx, staff(rbac.RoleAdmin), 30)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = engine.Warn(ctx, staff(rbac.RoleAdmin), 20, WarnInput{Reason: "x"})
	assert.NoError(t, err)
	assert.Empty(t, store.violationsOf(30))
}

func TestWarnUnknownUser(t *testing.T) {
	engine := newTestEngine(newMemStore())
	_, err := engine.Warn(context.Background(), staff(rbac.RoleOwner), 99, WarnInput{Reason: "x"})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestBanTemporaryAndPermanent(t *testing.T) {
	store := newMemStore(player(10), player(11), player(12))
	engine := newTestEngine(store)
	ctx := context.Background()
	actor := staff(rbac.RoleModerator)

	minutes := 60
	res, err := engine.Ban(ctx, actor, 10, BanInput{Reason: "grief", DurationMinutes: &minutes})
	require.NoError(t, err)
	assert.Equal(t, users.PunishmentTemporaryBan, res.Violation.Punishment)
	require.NotNil(t, res.Ban.Expires)
	assert.Equal(t, baseTime.Add(time.Hour), *res.Ban.Expires)

	res, err = engine.Ban(ctx, actor, 11, BanInput{Reason: "cheating", DurationMinutes: &minutes, Permanent: true})
	require.NoError(t, err)
	assert.Equal(t, users.PunishmentPermanentBan, res.Violation.Punishment)
	assert.True(t, res.Ban.Permanent)
	assert.Nil(t, res.Ban.Expires)

	res, err = engine.Ban(ctx, actor, 12, BanInput{Reason: "no duration"})
	require.NoError(t, err)
	assert.True(t, res.Ban.Permanent)

	zero := 0
	_, err = engine.Ban(ctx, actor, 10, BanInput{Reason: "bad", DurationMinutes: &zero})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestUnban(t *testing.T) {
	store := newMemStore(player(10))
	obs := &countingObserver{}
	engine := newTestEngine(store).WithObserver(obs)
	ctx := context.Background()
	actor := staff(rbac.RoleModerator)

	_, err := engine.Unban(ctx, actor, 10)
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = engine.Warn(ctx, actor, 10, WarnInput{Reason: "spam"})
	require.NoError(t, err)
	_, err = engine.Ban(ctx, actor, 10, BanInput{Reason: "grief"})
	require.NoError(t, err)

	res, err := engine.Unban(ctx, actor, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Deactivated)

	u := store.user(10)
	assert.Nil(t, u.BanExpires)
	assert.Empty(t, u.BanReason)
	assert.Equal(t, 1, u.Warns)

	for _, v := range store.violationsOf(10) {
		if v.Punishment.IsBan() {
			assert.False(t, v.IsActive)
		} else {
			assert.True(t, v.IsActive, "warnings stay active")
		}
	}
	assert.Equal(t, 1, obs.actions["unban"])
}

func TestUnbanExpiredBanIsInvalidState(t *testing.T) {
	u := player(10)
	past := baseTime.Add(-time.Minute)
	u.BanExpires = &past
	engine := newTestEngine(newMemStore(u))
	_, err := engine.Unban(context.Background(), staff(rbac.RoleModerator), 10)
	assert.True(t, errors.Is(err, shared.ErrInvalidState))
}

func TestExpireBans(t *testing.T) {
	lapsed := player(10)
	past := baseTime.Add(-time.Minute)
	lapsed.BanExpires = &past
	lapsed.BanReason = "old"
	active := player(11)
	future := baseTime.Add(time.Hour)
	active.BanExpires = &future
	store := newMemStore(lapsed, active)
	store.violations = []users.Violation{
		{ID: 1, UserID: 10, Punishment: users.PunishmentTemporaryBan, IsActive: true},
		{ID: 2, UserID: 11, Punishment: users.PunishmentTemporaryBan, IsActive: true},
	}
	store.nextID = 2
	engine := newTestEngine(store)

	n, err := engine.ExpireBans(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Nil(t, store.user(10).BanExpires)
	assert.Empty(t, store.user(10).BanReason)
	assert.NotNil(t, store.user(11).BanExpires)
	assert.False(t, store.violationsOf(10)[0].IsActive)
	assert.True(t, store.violationsOf(11)[0].IsActive)
	require.Len(t, store.audits, 1)
	assert.Equal(t, shared.AuditBanExpired, store.audits[0].Action)
	assert.Zero(t, store.audits[0].ActorID)
}

func TestConcurrentWarnsAreSerialized(t *testing.T) {
	store := newMemStore(player(10))
	engine := newTestEngine(store)
	actor := staff(rbac.RoleModerator)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Warn(context.Background(), actor, 10, WarnInput{Reason: "spam"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	u := store.user(10)
	assert.Equal(t, 10, u.Warns)
	assert.Equal(t, 10, u.EscalationLevel)

	var escalations int
	for _, v := range store.violationsOf(10) {
		if v.Punishment.IsBan() {
			escalations++
		}
	}
	assert.Equal(t, 2, escalations)
}
