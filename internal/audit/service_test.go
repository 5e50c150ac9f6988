package audit

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

type stubTimelineRepo struct {
	rows     []TimelineRow
	lastCall WindowParams
}

func (s *stubTimelineRepo) TimelineWindow(ctx context.Context, arg WindowParams) ([]TimelineRow, error) {
	s.lastCall = arg
	if int(arg.LimitRows) < len(s.rows) {
		return s.rows[:arg.LimitRows], nil
	}
	return s.rows, nil
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{
		rows: []TimelineRow{
			mockRow("2024-03-10T10:00:00Z", "mod", "user.warned", "user", "10"),
			mockRow("2024-03-09T09:00:00Z", "mod", "user.banned", "user", "11"),
			mockRow("2024-03-08T08:00:00Z", "admin", "discord.mapping_set", "discord_role_mapping", "Helper"),
		},
	}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{
		From:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Page:     1,
		PageSize: 2,
	})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext || result.Paging.NextPage != 2 {
		t.Fatalf("expected next page 2, got %+v", result.Paging)
	}
	if repo.lastCall.LimitRows != 3 {
		t.Fatalf("expected limitRows 3, got %d", repo.lastCall.LimitRows)
	}
	if repo.lastCall.OffsetRows != 0 {
		t.Fatalf("expected offset 0, got %d", repo.lastCall.OffsetRows)
	}
}

func TestServiceTimelineDefaultsAndFilters(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 500, Actor: " mod ", Action: "user.warned"})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if result.Rows == nil {
		t.Fatalf("expected empty slice, not nil")
	}
	if result.Paging.PageSize != 100 || result.Paging.PrevPage != 2 || result.Paging.HasNext {
		t.Fatalf("unexpected paging %+v", result.Paging)
	}
	if repo.lastCall.OffsetRows != 200 {
		t.Fatalf("expected offset 200, got %d", repo.lastCall.OffsetRows)
	}
	if repo.lastCall.Actor != (pgtype.Text{String: "mod", Valid: true}) {
		t.Fatalf("expected trimmed actor filter, got %+v", repo.lastCall.Actor)
	}
	if repo.lastCall.Entity.Valid || repo.lastCall.FromAt.Valid {
		t.Fatalf("expected unset filters to stay null")
	}
}

func TestServiceWithoutRepository(t *testing.T) {
	if _, err := NewService(nil).Timeline(context.Background(), TimelineFilters{}); err == nil {
		t.Fatalf("expected error without repository")
	}
}

func mockRow(ts, actor, action, entity, entityID string) TimelineRow {
	at, _ := time.Parse(time.RFC3339, ts)
	return TimelineRow{At: at, Actor: actor, Action: action, Entity: entity, EntityID: entityID}
}
