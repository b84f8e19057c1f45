package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"caseflow/api/internal/search"
	"caseflow/api/internal/store"
	"caseflow/api/internal/util"
)

type CreateMilestoneInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	OwnerID     *string    `json:"ownerId"`
	DueDate     *time.Time `json:"dueDate"`
}

type UpdateMilestoneInput struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Priority    *string    `json:"priority"`
	OwnerID     *string    `json:"ownerId"`
	DueDate     *time.Time `json:"dueDate"`
	ClearDue    bool       `json:"clearDueDate"`
	ClearOwner  bool       `json:"clearOwner"`
}

type SetStatusInput struct {
	Status string `json:"status"`
}

type ReviewInput struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

var validStatuses = map[store.MilestoneStatus]struct{}{
	store.MilestoneNotStarted: {},
	store.MilestoneInProgress: {},
	store.MilestoneBlocked:    {},
	store.MilestoneCompleted:  {},
	store.MilestoneCancelled:  {},
}

var validPriorities = map[store.MilestonePriority]struct{}{
	store.PriorityLow:    {},
	store.PriorityMedium: {},
	store.PriorityHigh:   {},
	store.PriorityUrgent: {},
}

// reviewOutcome maps each reviewer action onto its target status. Reviewer
// actions land on the same status field the editor path writes, from any
// non-terminal state.
var reviewOutcome = map[string]store.MilestoneStatus{
	"approve":         store.MilestoneCompleted,
	"reject":          store.MilestoneBlocked,
	"request_changes": store.MilestoneInProgress,
}

func (s *Service) ListCaseMilestones(ctx context.Context, session Session, caseID string) ([]map[string]any, error) {
	if _, _, err := s.requireAccess(ctx, caseID, session.BrokerID); err != nil {
		return nil, err
	}
	milestones, err := s.store.ListMilestones(ctx, caseID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(milestones))
	for _, m := range milestones {
		items = append(items, milestoneView(m))
	}
	return items, nil
}

func (s *Service) CreateMilestone(ctx context.Context, session Session, caseID string, input CreateMilestoneInput) (map[string]any, error) {
	access, c, err := s.ResolveAccess(ctx, caseID, session.BrokerID)
	if err != nil {
		return nil, err
	}
	if !access.CanEdit {
		return nil, forbidden("You do not have edit permission on this case")
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationError("Title is required")
	}
	priority := store.MilestonePriority(input.Priority)
	if input.Priority == "" {
		priority = store.PriorityMedium
	}
	if _, ok := validPriorities[priority]; !ok {
		return nil, validationError("Unknown priority: " + input.Priority)
	}

	m, err := s.store.InsertMilestone(ctx, store.Milestone{
		ID:          util.NewID("ms"),
		CaseID:      caseID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Status:      store.MilestoneNotStarted,
		Priority:    priority,
		OwnerID:     input.OwnerID,
		DueDate:     input.DueDate,
	})
	if err != nil {
		return nil, err
	}

	s.appendTimeline(ctx, store.TimelineEntry{
		ID:          util.NewID("te"),
		CaseID:      caseID,
		AuthorID:    &session.BrokerID,
		Type:        store.EntryMilestoneCreated,
		Content:     session.BrokerName + " created milestone " + m.Title,
		Metadata:    map[string]any{"title": m.Title, "priority": string(m.Priority)},
		MilestoneID: &m.ID,
	})

	s.dispatch.MilestoneChanged(ctx, m, c.ClientName)
	if m.DueDate != nil {
		s.notifyDeadlineSet(ctx, m, c.ClientName)
	}
	s.indexMilestone(m)

	return milestoneView(m), nil
}

func (s *Service) UpdateMilestoneFields(ctx context.Context, session Session, caseID, milestoneID string, input UpdateMilestoneInput) (map[string]any, error) {
	access, c, err := s.ResolveAccess(ctx, caseID, session.BrokerID)
	if err != nil {
		return nil, err
	}
	if !access.CanEdit {
		return nil, forbidden("You do not have edit permission on this case")
	}

	m, err := s.getCaseMilestone(ctx, caseID, milestoneID)
	if err != nil {
		return nil, err
	}
	oldDue := m.DueDate

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, validationError("Title cannot be empty")
		}
		m.Title = title
	}
	if input.Description != nil {
		m.Description = strings.TrimSpace(*input.Description)
	}
	if input.Priority != nil {
		priority := store.MilestonePriority(*input.Priority)
		if _, ok := validPriorities[priority]; !ok {
			return nil, validationError("Unknown priority: " + *input.Priority)
		}
		m.Priority = priority
	}
	if input.ClearOwner {
		m.OwnerID = nil
	} else if input.OwnerID != nil {
		m.OwnerID = input.OwnerID
	}
	if input.ClearDue {
		m.DueDate = nil
	} else if input.DueDate != nil {
		m.DueDate = input.DueDate
	}

	updated, err := s.store.UpdateMilestone(ctx, m)
	if err != nil {
		return nil, err
	}

	s.dispatch.MilestoneChanged(ctx, updated, c.ClientName)
	if updated.DueDate != nil && (oldDue == nil || !oldDue.Equal(*updated.DueDate)) {
		s.notifyDeadlineSet(ctx, updated, c.ClientName)
	}
	s.indexMilestone(updated)

	return milestoneView(updated), nil
}

// SetMilestoneStatus is the editor authority path. Any valid target status
// is applied; the lifecycle timestamps follow the transition regardless of
// where it started.
func (s *Service) SetMilestoneStatus(ctx context.Context, session Session, caseID, milestoneID string, input SetStatusInput) (map[string]any, error) {
	access, c, err := s.ResolveAccess(ctx, caseID, session.BrokerID)
	if err != nil {
		return nil, err
	}
	if !access.CanEdit {
		return nil, forbidden("You do not have edit permission on this case")
	}

	newStatus := store.MilestoneStatus(input.Status)
	if _, ok := validStatuses[newStatus]; !ok {
		return nil, validationError("Unknown status: " + input.Status)
	}

	return s.transition(ctx, session, c, caseID, milestoneID, newStatus, "")
}

// ReviewMilestone is the reviewer authority path: approve, reject, or
// request_changes, callable from any state except completed and cancelled.
func (s *Service) ReviewMilestone(ctx context.Context, session Session, caseID, milestoneID string, input ReviewInput) (map[string]any, error) {
	access, c, err := s.ResolveAccess(ctx, caseID, session.BrokerID)
	if err != nil {
		return nil, err
	}
	if !access.CanApprove {
		return nil, forbidden("You do not have approve permission on this case")
	}

	target, ok := reviewOutcome[input.Action]
	if !ok {
		return nil, validationError("Unknown review action: " + input.Action)
	}

	m, err := s.getCaseMilestone(ctx, caseID, milestoneID)
	if err != nil {
		return nil, err
	}
	if m.Status == store.MilestoneCompleted || m.Status == store.MilestoneCancelled {
		return nil, conflict("Milestone is already " + string(m.Status) + " and can no longer be reviewed")
	}

	return s.transition(ctx, session, c, caseID, milestoneID, target, strings.TrimSpace(input.Reason))
}

func (s *Service) DeleteMilestone(ctx context.Context, session Session, caseID, milestoneID string) error {
	access, _, err := s.ResolveAccess(ctx, caseID, session.BrokerID)
	if err != nil {
		return err
	}
	if !access.CanEdit {
		return forbidden("You do not have edit permission on this case")
	}

	if _, err := s.getCaseMilestone(ctx, caseID, milestoneID); err != nil {
		return err
	}
	if err := s.store.DeleteMilestone(ctx, milestoneID); err != nil {
		return err
	}

	s.dispatch.MilestoneDeleted(ctx, caseID, milestoneID)
	if s.searcher != nil {
		s.searcher.DeleteMilestone(milestoneID)
	}
	return nil
}

// transition applies one status change from either authority path, carrying
// the lifecycle timestamps and the audit entry with it.
func (s *Service) transition(ctx context.Context, session Session, c store.Case, caseID, milestoneID string, newStatus store.MilestoneStatus, reason string) (map[string]any, error) {
	m, err := s.getCaseMilestone(ctx, caseID, milestoneID)
	if err != nil {
		return nil, err
	}

	oldStatus := m.Status
	applyStatusChange(&m, newStatus, session.BrokerID, time.Now())

	updated, err := s.store.UpdateMilestone(ctx, m)
	if err != nil {
		return nil, err
	}

	entryType := store.EntryStatusChange
	content := session.BrokerName + " moved " + updated.Title + " from " + string(oldStatus) + " to " + string(newStatus)
	if newStatus == store.MilestoneCompleted {
		entryType = store.EntryMilestoneCompleted
		content = session.BrokerName + " completed " + updated.Title
	}
	metadata := map[string]any{"oldStatus": string(oldStatus), "newStatus": string(newStatus)}
	if reason != "" {
		metadata["reason"] = reason
	}
	s.appendTimeline(ctx, store.TimelineEntry{
		ID:          util.NewID("te"),
		CaseID:      caseID,
		AuthorID:    &session.BrokerID,
		Type:        entryType,
		Content:     content,
		Metadata:    metadata,
		MilestoneID: &updated.ID,
	})

	s.dispatch.MilestoneChanged(ctx, updated, c.ClientName)
	if newStatus == store.MilestoneCompleted && oldStatus != store.MilestoneCompleted {
		s.dispatch.MilestoneCompleted(ctx, updated, session.BrokerID)
	}
	s.indexMilestone(updated)

	return milestoneView(updated), nil
}

// applyStatusChange mutates the milestone's status and lifecycle
// timestamps: started_at is set exactly once on first entry into
// in_progress or completed, completed_at/completed_by track completion and
// are cleared on reopen.
func applyStatusChange(m *store.Milestone, newStatus store.MilestoneStatus, actorID string, now time.Time) {
	oldStatus := m.Status
	m.Status = newStatus

	if m.StartedAt == nil && (newStatus == store.MilestoneInProgress || newStatus == store.MilestoneCompleted) {
		started := now
		m.StartedAt = &started
	}

	switch {
	case newStatus == store.MilestoneCompleted && oldStatus != store.MilestoneCompleted:
		completed := now
		by := actorID
		m.CompletedAt = &completed
		m.CompletedBy = &by
	case newStatus != store.MilestoneCompleted && oldStatus == store.MilestoneCompleted:
		m.CompletedAt = nil
		m.CompletedBy = nil
	}
}

func (s *Service) getCaseMilestone(ctx context.Context, caseID, milestoneID string) (store.Milestone, error) {
	m, err := s.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return store.Milestone{}, err
	}
	if m.CaseID != caseID {
		return store.Milestone{}, notFound("Milestone not found on this case")
	}
	return m, nil
}

// notifyDeadlineSet resolves the milestone owner and hands the deadline
// email to the dispatcher. Owner lookup failures are logged and swallowed;
// the milestone write has already committed.
func (s *Service) notifyDeadlineSet(ctx context.Context, m store.Milestone, clientName string) {
	if m.OwnerID == nil || *m.OwnerID == "" {
		return
	}
	owner, err := s.store.GetBroker(ctx, *m.OwnerID)
	if err != nil {
		s.logger.Warn("resolve milestone owner for deadline email",
			zap.String("milestone_id", m.ID), zap.Error(err))
		return
	}
	s.dispatch.MilestoneDeadlineSet(ctx, m, clientName, owner, s.cfg.AppBaseURL+"/cases/"+m.CaseID)
}

func (s *Service) indexMilestone(m store.Milestone) {
	if s.searcher == nil {
		return
	}
	s.searcher.IndexMilestone(search.MilestoneRecord{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Status:      string(m.Status),
		CaseID:      m.CaseID,
	})
}

func milestoneView(m store.Milestone) map[string]any {
	return map[string]any{
		"id":          m.ID,
		"caseId":      m.CaseID,
		"title":       m.Title,
		"description": m.Description,
		"status":      m.Status,
		"priority":    m.Priority,
		"ownerId":     m.OwnerID,
		"dueDate":     m.DueDate,
		"sortOrder":   m.SortOrder,
		"startedAt":   m.StartedAt,
		"completedAt": m.CompletedAt,
		"completedBy": m.CompletedBy,
		"createdAt":   m.CreatedAt,
		"updatedAt":   m.UpdatedAt,
	}
}
