package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"caseflow/api/internal/email"
	"caseflow/api/internal/store"
)

type sentDeadline struct {
	to   string
	data email.DeadlineData
}

type fakeEmail struct {
	configured bool
	invites    []string
	deadlines  []sentDeadline
	err        error
}

func (f *fakeEmail) IsConfigured() bool { return f.configured }

func (f *fakeEmail) SendInviteEmail(to string, data email.InviteData) error {
	f.invites = append(f.invites, to)
	return f.err
}

func (f *fakeEmail) SendDeadlineEmail(to string, data email.DeadlineData) error {
	f.deadlines = append(f.deadlines, sentDeadline{to: to, data: data})
	return f.err
}

type fakeCalendar struct {
	synced  []string
	removed []string
	err     error
}

func (f *fakeCalendar) SyncMilestone(ctx context.Context, m store.Milestone, clientName string) error {
	f.synced = append(f.synced, m.ID)
	return f.err
}

func (f *fakeCalendar) RemoveMilestone(ctx context.Context, milestoneID string) error {
	f.removed = append(f.removed, milestoneID)
	return f.err
}

type fakePublisher struct {
	keys []string
	err  error
}

func (f *fakePublisher) Publish(routingKey string, payload any) error {
	f.keys = append(f.keys, routingKey)
	return f.err
}

func TestCollaboratorAddedSendsInviteAndEvent(t *testing.T) {
	em := &fakeEmail{configured: true}
	pub := &fakePublisher{}
	d := NewDispatcher(em, nil, pub, zap.NewNop())

	d.CollaboratorAdded(context.Background(), store.Collaborator{
		CaseID:      "case_1",
		BrokerID:    "brk_2",
		BrokerEmail: "sam@example.com",
		BrokerName:  "Sam",
		Role:        "reviewer",
	}, "Jordan", "Acme", "Can approve milestones.", "https://example.com/cases/case_1")

	if len(em.invites) != 1 || em.invites[0] != "sam@example.com" {
		t.Fatalf("expected one invite to sam, got %v", em.invites)
	}
	if len(pub.keys) != 1 || pub.keys[0] != "collaborator.added" {
		t.Fatalf("expected collaborator.added event, got %v", pub.keys)
	}
}

func TestCollaboratorAddedSkipsEmailWhenUnconfigured(t *testing.T) {
	em := &fakeEmail{configured: false}
	d := NewDispatcher(em, nil, nil, zap.NewNop())

	d.CollaboratorAdded(context.Background(), store.Collaborator{BrokerEmail: "sam@example.com"}, "J", "Acme", "", "")

	if len(em.invites) != 0 {
		t.Fatalf("expected no invites, got %v", em.invites)
	}
}

func TestChannelFailuresDoNotPropagateOrBlockOthers(t *testing.T) {
	em := &fakeEmail{configured: true, err: errors.New("smtp down")}
	cal := &fakeCalendar{err: errors.New("calendar down")}
	pub := &fakePublisher{err: errors.New("broker down")}
	d := NewDispatcher(em, cal, pub, zap.NewNop())

	// None of these may panic or return an error.
	d.CollaboratorAdded(context.Background(), store.Collaborator{BrokerEmail: "x@example.com"}, "J", "Acme", "", "")
	d.MilestoneChanged(context.Background(), store.Milestone{ID: "ms_1", CaseID: "case_1"}, "Acme")
	d.MilestoneDeleted(context.Background(), "case_1", "ms_1")

	if len(cal.synced) != 1 || len(cal.removed) != 1 {
		t.Fatalf("calendar should still have been attempted: synced=%v removed=%v", cal.synced, cal.removed)
	}
	if len(pub.keys) != 3 {
		t.Fatalf("all events should still have been attempted, got %v", pub.keys)
	}
}

func TestNilChannelsAreSkipped(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, zap.NewNop())
	d.MilestoneChanged(context.Background(), store.Milestone{ID: "ms_1"}, "Acme")
	d.CommentPosted(context.Background(), store.TimelineEntry{ID: "te_1"}, nil)
}

type fakeUpcoming struct {
	events []store.CalendarEvent
	err    error
}

func (f *fakeUpcoming) ListUpcoming(ctx context.Context, window time.Duration) ([]store.CalendarEvent, error) {
	return f.events, f.err
}

type fakeBrokers struct {
	brokers map[string]store.Broker
}

func (f *fakeBrokers) GetBroker(ctx context.Context, brokerID string) (store.Broker, error) {
	b, ok := f.brokers[brokerID]
	if !ok {
		return store.Broker{}, errors.New("broker not found")
	}
	return b, nil
}

func TestReminderEmailCarriesDistinctFields(t *testing.T) {
	em := &fakeEmail{configured: true}
	d := NewDispatcher(em, nil, nil, zap.NewNop())

	assignee := "brk_1"
	due := time.Now().Add(24 * time.Hour)
	upcoming := &fakeUpcoming{events: []store.CalendarEvent{{
		ID:             "cal_1",
		MilestoneID:    "ms_1",
		CaseID:         "case_1",
		Title:          "Acme Pty Ltd: Collect payslips",
		ClientName:     "Acme Pty Ltd",
		MilestoneTitle: "Collect payslips",
		Description:    "Last three months from both applicants.",
		Priority:       "high",
		StartsAt:       due,
		AssigneeID:     &assignee,
	}}}
	brokers := &fakeBrokers{brokers: map[string]store.Broker{
		"brk_1": {ID: "brk_1", FullName: "Sam Ortiz", Email: "sam@example.com"},
	}}

	d.remindOnce(context.Background(), upcoming, brokers, 48*time.Hour, "https://example.com")

	if len(em.deadlines) != 1 {
		t.Fatalf("expected one deadline email, got %d", len(em.deadlines))
	}
	got := em.deadlines[0]
	if got.to != "sam@example.com" {
		t.Fatalf("expected email to sam, got %q", got.to)
	}
	if got.data.ClientName != "Acme Pty Ltd" {
		t.Errorf("ClientName = %q, want the bare client name", got.data.ClientName)
	}
	if got.data.Milestone != "Collect payslips" {
		t.Errorf("Milestone = %q, want the bare milestone title", got.data.Milestone)
	}
	if got.data.ClientName == got.data.Milestone {
		t.Error("client name and milestone title must not be the same combined string")
	}
	if got.data.Priority != "high" {
		t.Errorf("Priority = %q, want high", got.data.Priority)
	}
	if got.data.Description != "Last three months from both applicants." {
		t.Errorf("Description = %q", got.data.Description)
	}
	if got.data.CaseURL != "https://example.com/cases/case_1" {
		t.Errorf("CaseURL = %q", got.data.CaseURL)
	}
}

func TestReminderSkipsUnassignedEvents(t *testing.T) {
	em := &fakeEmail{configured: true}
	d := NewDispatcher(em, nil, nil, zap.NewNop())

	upcoming := &fakeUpcoming{events: []store.CalendarEvent{{
		ID:       "cal_1",
		StartsAt: time.Now().Add(time.Hour),
	}}}

	d.remindOnce(context.Background(), upcoming, &fakeBrokers{}, 48*time.Hour, "https://example.com")

	if len(em.deadlines) != 0 {
		t.Fatalf("expected no deadline emails, got %d", len(em.deadlines))
	}
}

func TestMilestoneDeadlineSetEmailsOwner(t *testing.T) {
	em := &fakeEmail{configured: true}
	d := NewDispatcher(em, nil, nil, zap.NewNop())

	due := time.Now().Add(72 * time.Hour)
	d.MilestoneDeadlineSet(context.Background(), store.Milestone{
		ID:          "ms_1",
		CaseID:      "case_1",
		Title:       "Collect payslips",
		Description: "Payslips for both applicants.",
		Priority:    "urgent",
		DueDate:     &due,
	}, "Acme Pty Ltd", store.Broker{ID: "brk_1", FullName: "Sam Ortiz", Email: "sam@example.com"}, "https://example.com/cases/case_1")

	if len(em.deadlines) != 1 {
		t.Fatalf("expected one deadline email, got %d", len(em.deadlines))
	}
	got := em.deadlines[0].data
	if got.ClientName != "Acme Pty Ltd" || got.Milestone != "Collect payslips" {
		t.Errorf("got ClientName=%q Milestone=%q", got.ClientName, got.Milestone)
	}
	if got.Priority != "urgent" {
		t.Errorf("Priority = %q, want urgent", got.Priority)
	}

	// No due date, no email.
	d.MilestoneDeadlineSet(context.Background(), store.Milestone{ID: "ms_2"}, "Acme", store.Broker{Email: "sam@example.com"}, "")
	if len(em.deadlines) != 1 {
		t.Fatal("milestone without a due date must not email")
	}
}

func TestShouldRemindOncePerDay(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, zap.NewNop())
	if !d.shouldRemind("ev_1") {
		t.Fatal("first reminder should fire")
	}
	if d.shouldRemind("ev_1") {
		t.Fatal("second reminder within a day should be suppressed")
	}
	if !d.shouldRemind("ev_2") {
		t.Fatal("distinct events remind independently")
	}
}
