// Package calendar maintains the per-milestone calendar projection.
package calendar

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"caseflow/api/internal/store"
	"caseflow/api/internal/util"
)

// Service writes calendar_events rows keyed by milestone id. Every write is
// an upsert and every remove tolerates a missing row, so replays from the
// dispatcher stay idempotent.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// SyncMilestone projects a milestone onto the calendar. Milestones without a
// due date have no event; syncing one removes any stale row.
func (s *Service) SyncMilestone(ctx context.Context, m store.Milestone, clientName string) error {
	if m.DueDate == nil || m.Status == store.MilestoneCancelled || m.Status == store.MilestoneCompleted {
		return s.RemoveMilestone(ctx, m.ID)
	}

	title := fmt.Sprintf("%s: %s", clientName, m.Title)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calendar_events (id, milestone_id, case_id, title, client_name, milestone_title, description, priority, starts_at, assignee_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (milestone_id) DO UPDATE SET
			title=EXCLUDED.title,
			client_name=EXCLUDED.client_name,
			milestone_title=EXCLUDED.milestone_title,
			description=EXCLUDED.description,
			priority=EXCLUDED.priority,
			starts_at=EXCLUDED.starts_at,
			assignee_id=EXCLUDED.assignee_id,
			status=EXCLUDED.status,
			updated_at=NOW()
	`, util.NewID("cal"), m.ID, m.CaseID, title, clientName, m.Title, m.Description, string(m.Priority), *m.DueDate, m.OwnerID, string(m.Status))
	if err != nil {
		return fmt.Errorf("upsert calendar event: %w", err)
	}
	return nil
}

func (s *Service) RemoveMilestone(ctx context.Context, milestoneID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM calendar_events WHERE milestone_id=$1`, milestoneID); err != nil {
		return fmt.Errorf("remove calendar event: %w", err)
	}
	return nil
}

// ListUpcoming returns events starting within the given window, soonest
// first. The deadline reminder loop reads from here.
func (s *Service) ListUpcoming(ctx context.Context, window time.Duration) ([]store.CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, milestone_id, case_id, title, client_name, milestone_title, description, priority, starts_at, assignee_id, status, created_at, updated_at
		FROM calendar_events
		WHERE starts_at >= NOW() AND starts_at < NOW() + $1::interval
		ORDER BY starts_at ASC
	`, fmt.Sprintf("%d seconds", int(window.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("list upcoming events: %w", err)
	}
	defer rows.Close()

	items := make([]store.CalendarEvent, 0)
	for rows.Next() {
		var e store.CalendarEvent
		if err := rows.Scan(&e.ID, &e.MilestoneID, &e.CaseID, &e.Title, &e.ClientName, &e.MilestoneTitle, &e.Description, &e.Priority, &e.StartsAt, &e.AssigneeID, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan calendar event: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calendar events: %w", err)
	}
	return items, nil
}
