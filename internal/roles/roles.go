// Package roles defines collaborator roles and their default permission bundles.
package roles

type Role string

const (
	Owner      Role = "owner"
	CoOwner    Role = "co_owner"
	Supporting Role = "supporting"
	Reviewer   Role = "reviewer"
	Observer   Role = "observer"
)

// Permissions are the per-row capability flags carried by a collaborator.
// Rows start from the role's default bundle and may be overridden individually.
type Permissions struct {
	CanEdit    bool `json:"canEdit"`
	CanApprove bool `json:"canApprove"`
	CanMessage bool `json:"canMessage"`
	CanUpload  bool `json:"canUpload"`
}

// defaults is the single source of truth for what a role can do out of the box.
var defaults = map[Role]Permissions{
	Owner:      {CanEdit: true, CanApprove: true, CanMessage: true, CanUpload: true},
	CoOwner:    {CanEdit: true, CanApprove: true, CanMessage: true, CanUpload: true},
	Supporting: {CanEdit: true, CanApprove: false, CanMessage: true, CanUpload: true},
	Reviewer:   {CanEdit: false, CanApprove: true, CanMessage: true, CanUpload: false},
	Observer:   {},
}

// Defaults returns the default permission bundle for a role. Unknown roles get
// the all-false observer bundle.
func Defaults(role Role) Permissions {
	return defaults[role]
}

func Valid(role Role) bool {
	_, ok := defaults[role]
	return ok
}

// Description is the human-readable role blurb used in invite emails.
func Description(role Role) string {
	switch role {
	case Owner:
		return "Full control of the case, including collaborator management"
	case CoOwner:
		return "Edit and approve milestones, manage day-to-day progress"
	case Supporting:
		return "Edit milestones, post updates, and upload documents"
	case Reviewer:
		return "Review and approve milestone progress"
	case Observer:
		return "Read-only visibility into the case"
	default:
		return ""
	}
}
