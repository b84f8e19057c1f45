// Package notify fans out best-effort side effects: invite and deadline
// emails, the calendar projection, and the external event stream. Failures
// are logged and counted but never surface to the caller; the workflow
// mutation that triggered them has already committed.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"caseflow/api/internal/email"
	"caseflow/api/internal/metrics"
	"caseflow/api/internal/store"
)

type EmailSender interface {
	IsConfigured() bool
	SendInviteEmail(to string, data email.InviteData) error
	SendDeadlineEmail(to string, data email.DeadlineData) error
}

type CalendarProjector interface {
	SyncMilestone(ctx context.Context, m store.Milestone, clientName string) error
	RemoveMilestone(ctx context.Context, milestoneID string) error
}

type EventPublisher interface {
	Publish(routingKey string, payload any) error
}

// UpcomingLister feeds the deadline reminder loop.
type UpcomingLister interface {
	ListUpcoming(ctx context.Context, window time.Duration) ([]store.CalendarEvent, error)
}

// BrokerDirectory resolves reminder recipients.
type BrokerDirectory interface {
	GetBroker(ctx context.Context, brokerID string) (store.Broker, error)
}

// Dispatcher runs every side effect through try, so one failing channel
// never blocks or fails another. Any of the collaborators may be nil; nil
// channels are skipped.
type Dispatcher struct {
	email    EmailSender
	calendar CalendarProjector
	events   EventPublisher
	logger   *zap.Logger

	mu       sync.Mutex
	reminded map[string]time.Time
}

func NewDispatcher(email EmailSender, calendar CalendarProjector, events EventPublisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		email:    email,
		calendar: calendar,
		events:   events,
		logger:   logger,
		reminded: make(map[string]time.Time),
	}
}

func (d *Dispatcher) try(channel string, fields []zap.Field, fn func() error) {
	err := fn()
	metrics.IncrementDispatch(channel, err != nil)
	if err != nil {
		d.logger.Warn("dispatch failed", append([]zap.Field{zap.String("channel", channel), zap.Error(err)}, fields...)...)
	}
}

// CollaboratorAdded emails the invited broker and publishes an event.
func (d *Dispatcher) CollaboratorAdded(ctx context.Context, collab store.Collaborator, inviterName, clientName, roleDescription, caseURL string) {
	if d.email != nil && d.email.IsConfigured() && collab.BrokerEmail != "" {
		d.try("email", []zap.Field{zap.String("case_id", collab.CaseID)}, func() error {
			return d.email.SendInviteEmail(collab.BrokerEmail, email.InviteData{
				InviteeName:     collab.BrokerName,
				InviterName:     inviterName,
				ClientName:      clientName,
				RoleName:        string(collab.Role),
				RoleDescription: roleDescription,
				CaseURL:         caseURL,
			})
		})
	}
	d.publish("collaborator.added", map[string]any{
		"caseId":   collab.CaseID,
		"brokerId": collab.BrokerID,
		"role":     collab.Role,
	})
}

// CollaboratorRemoved publishes an event.
func (d *Dispatcher) CollaboratorRemoved(ctx context.Context, caseID, brokerID string) {
	d.publish("collaborator.removed", map[string]any{
		"caseId":   caseID,
		"brokerId": brokerID,
	})
}

// MilestoneChanged re-projects the milestone onto the calendar and publishes
// an event.
func (d *Dispatcher) MilestoneChanged(ctx context.Context, m store.Milestone, clientName string) {
	if d.calendar != nil {
		d.try("calendar", []zap.Field{zap.String("milestone_id", m.ID)}, func() error {
			return d.calendar.SyncMilestone(ctx, m, clientName)
		})
	}
	d.publish("milestone.updated", map[string]any{
		"caseId":      m.CaseID,
		"milestoneId": m.ID,
		"status":      m.Status,
	})
}

// MilestoneDeadlineSet emails the milestone owner when a due date is set or
// moved. The periodic reminder loop covers the approach window; this covers
// the moment the deadline lands on the owner's plate.
func (d *Dispatcher) MilestoneDeadlineSet(ctx context.Context, m store.Milestone, clientName string, owner store.Broker, caseURL string) {
	if d.email == nil || !d.email.IsConfigured() || owner.Email == "" || m.DueDate == nil {
		return
	}
	d.try("email", []zap.Field{zap.String("milestone_id", m.ID)}, func() error {
		return d.email.SendDeadlineEmail(owner.Email, email.DeadlineData{
			OwnerName:   owner.FullName,
			ClientName:  clientName,
			Milestone:   m.Title,
			DueDate:     email.FormatDueDate(*m.DueDate),
			Priority:    string(m.Priority),
			Description: m.Description,
			CaseURL:     caseURL,
		})
	})
}

// MilestoneCompleted publishes the completion event; the calendar row is
// cleared through MilestoneChanged.
func (d *Dispatcher) MilestoneCompleted(ctx context.Context, m store.Milestone, completedBy string) {
	d.publish("milestone.completed", map[string]any{
		"caseId":      m.CaseID,
		"milestoneId": m.ID,
		"completedBy": completedBy,
	})
}

// MilestoneDeleted drops the calendar row and publishes an event.
func (d *Dispatcher) MilestoneDeleted(ctx context.Context, caseID, milestoneID string) {
	if d.calendar != nil {
		d.try("calendar", []zap.Field{zap.String("milestone_id", milestoneID)}, func() error {
			return d.calendar.RemoveMilestone(ctx, milestoneID)
		})
	}
	d.publish("milestone.deleted", map[string]any{
		"caseId":      caseID,
		"milestoneId": milestoneID,
	})
}

// CommentPosted publishes an event carrying any mentioned broker ids.
func (d *Dispatcher) CommentPosted(ctx context.Context, entry store.TimelineEntry, mentioned []string) {
	d.publish("comment.posted", map[string]any{
		"caseId":    entry.CaseID,
		"entryId":   entry.ID,
		"mentioned": mentioned,
	})
}

// DocumentUploaded publishes an event.
func (d *Dispatcher) DocumentUploaded(ctx context.Context, doc store.CaseDocument) {
	d.publish("document.uploaded", map[string]any{
		"caseId":     doc.CaseID,
		"documentId": doc.ID,
		"fileName":   doc.FileName,
	})
}

func (d *Dispatcher) publish(routingKey string, payload any) {
	if d.events == nil {
		return
	}
	d.try("events", []zap.Field{zap.String("routing_key", routingKey)}, func() error {
		return d.events.Publish(routingKey, payload)
	})
}

// RunDeadlineReminders periodically emails milestone owners whose due dates
// fall inside the window. Each calendar event is reminded at most once per
// day. Blocks until ctx is cancelled.
func (d *Dispatcher) RunDeadlineReminders(ctx context.Context, upcoming UpcomingLister, brokers BrokerDirectory, interval, window time.Duration, caseURLBase string) {
	if d.email == nil || !d.email.IsConfigured() || upcoming == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.remindOnce(ctx, upcoming, brokers, window, caseURLBase)
		}
	}
}

func (d *Dispatcher) remindOnce(ctx context.Context, upcoming UpcomingLister, brokers BrokerDirectory, window time.Duration, caseURLBase string) {
	events, err := upcoming.ListUpcoming(ctx, window)
	if err != nil {
		d.logger.Warn("list upcoming deadlines", zap.Error(err))
		return
	}

	for _, ev := range events {
		if ev.AssigneeID == nil || *ev.AssigneeID == "" {
			continue
		}
		if !d.shouldRemind(ev.ID) {
			continue
		}
		broker, err := brokers.GetBroker(ctx, *ev.AssigneeID)
		if err != nil {
			d.logger.Warn("resolve reminder recipient", zap.String("broker_id", *ev.AssigneeID), zap.Error(err))
			continue
		}
		ev := ev
		d.try("email", []zap.Field{zap.String("event_id", ev.ID)}, func() error {
			return d.email.SendDeadlineEmail(broker.Email, email.DeadlineData{
				OwnerName:   broker.FullName,
				ClientName:  ev.ClientName,
				Milestone:   ev.MilestoneTitle,
				DueDate:     email.FormatDueDate(ev.StartsAt),
				Priority:    ev.Priority,
				Description: ev.Description,
				CaseURL:     caseURLBase + "/cases/" + ev.CaseID,
			})
		})
	}
}

func (d *Dispatcher) shouldRemind(eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.reminded[eventID]; ok && time.Since(last) < 24*time.Hour {
		return false
	}
	d.reminded[eventID] = time.Now()
	return true
}
