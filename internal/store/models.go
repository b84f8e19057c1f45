package store

import (
	"time"

	"caseflow/api/internal/roles"
)

type Broker struct {
	ID           string
	FullName     string
	Email        string
	AvatarURL    string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Case is the client-onboarding record collaboration is scoped to.
// PrimaryOwnerID is the legacy single-owner reference; it is immutable once
// set and only the access resolver may consult it.
type Case struct {
	ID             string
	ClientName     string
	PrimaryOwnerID string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type CollaboratorStatus string

const (
	CollaboratorPending CollaboratorStatus = "pending"
	CollaboratorActive  CollaboratorStatus = "active"
	CollaboratorRemoved CollaboratorStatus = "removed"
)

type Collaborator struct {
	ID          string
	CaseID      string
	BrokerID    string
	Role        roles.Role
	Permissions roles.Permissions
	Status      CollaboratorStatus
	InvitedBy   string
	InvitedAt   time.Time
	AcceptedAt  *time.Time
	// Joined broker fields for API responses
	BrokerName   string
	BrokerEmail  string
	BrokerAvatar string
}

type MilestoneStatus string

const (
	MilestoneNotStarted MilestoneStatus = "not_started"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneBlocked    MilestoneStatus = "blocked"
	MilestoneCompleted  MilestoneStatus = "completed"
	MilestoneCancelled  MilestoneStatus = "cancelled"
)

type MilestonePriority string

const (
	PriorityLow    MilestonePriority = "low"
	PriorityMedium MilestonePriority = "medium"
	PriorityHigh   MilestonePriority = "high"
	PriorityUrgent MilestonePriority = "urgent"
)

type Milestone struct {
	ID          string
	CaseID      string
	Title       string
	Description string
	Status      MilestoneStatus
	Priority    MilestonePriority
	OwnerID     *string
	DueDate     *time.Time
	SortOrder   int
	StartedAt   *time.Time
	CompletedAt *time.Time
	CompletedBy *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type TimelineEntryType string

const (
	EntryComment            TimelineEntryType = "comment"
	EntryMention            TimelineEntryType = "mention"
	EntryMilestoneCreated   TimelineEntryType = "milestone_created"
	EntryMilestoneCompleted TimelineEntryType = "milestone_completed"
	EntryDocumentUploaded   TimelineEntryType = "document_uploaded"
	EntryDocumentVerified   TimelineEntryType = "document_verified"
	EntryStatusChange       TimelineEntryType = "status_change"
	EntryCollaboratorAdded  TimelineEntryType = "collaborator_added"
	EntryCollaboratorRemoved TimelineEntryType = "collaborator_removed"
	EntrySystem             TimelineEntryType = "system"
)

// TimelineEntry is a write-once activity record. AuthorID is nil for
// system-generated entries.
type TimelineEntry struct {
	ID          string
	CaseID      string
	AuthorID    *string
	Type        TimelineEntryType
	Content     string
	Metadata    map[string]any
	MilestoneID *string
	CreatedAt   time.Time
	// Joined fields for feed/API responses
	AuthorName string
	ClientName string
}

type CaseDocument struct {
	ID         string
	CaseID     string
	FileName   string
	Size       int64
	URL        string
	UploadedBy string
	VerifiedBy *string
	VerifiedAt *time.Time
	CreatedAt  time.Time
}

// CalendarEvent is the per-milestone calendar projection, keyed by milestone
// id so the sync stays idempotent.
type CalendarEvent struct {
	ID             string
	MilestoneID    string
	CaseID         string
	Title          string
	ClientName     string
	MilestoneTitle string
	Description    string
	Priority       string
	StartsAt       time.Time
	AssigneeID     *string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
