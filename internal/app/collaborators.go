package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"caseflow/api/internal/roles"
	"caseflow/api/internal/store"
	"caseflow/api/internal/util"
)

type InviteCollaboratorInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type ChangeRoleInput struct {
	Role string `json:"role"`
}

func (s *Service) ListCaseCollaborators(ctx context.Context, session Session, caseID string) ([]map[string]any, error) {
	if _, _, err := s.requireAccess(ctx, caseID, session.BrokerID); err != nil {
		return nil, err
	}
	collaborators, err := s.store.ListCollaborators(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return collaboratorViews(collaborators), nil
}

// InviteCollaborator adds a broker to the case roster as pending. A removed
// row for the same broker is reused; a pending or active one is a conflict.
func (s *Service) InviteCollaborator(ctx context.Context, session Session, caseID string, input InviteCollaboratorInput) (map[string]any, error) {
	access, c, err := s.ResolveAccess(ctx, caseID, session.BrokerID)
	if err != nil {
		return nil, err
	}
	if !access.IsOwnerOrCoOwner {
		return nil, forbidden("Only the owner or a co-owner can invite collaborators")
	}

	role := roles.Role(strings.TrimSpace(input.Role))
	if !roles.Valid(role) {
		return nil, validationError("Unknown role: " + input.Role)
	}
	if role == roles.Owner {
		return nil, validationError("Collaborators cannot be invited as owner")
	}

	email := strings.TrimSpace(strings.ToLower(input.Email))
	if email == "" {
		return nil, validationError("Email is required")
	}

	target, err := s.store.GetBrokerByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("No broker account exists for that email")
		}
		return nil, err
	}
	if target.ID == session.BrokerID {
		return nil, conflict("You cannot invite yourself")
	}

	if existing, err := s.store.GetCollaborator(ctx, caseID, target.ID); err == nil {
		if existing.Status != store.CollaboratorRemoved {
			return nil, conflict("This broker is already a collaborator on this case")
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	collab, err := s.store.UpsertCollaboratorInvite(ctx, store.Collaborator{
		ID:          util.NewID("col"),
		CaseID:      caseID,
		BrokerID:    target.ID,
		Role:        role,
		Permissions: roles.Defaults(role),
		InvitedBy:   session.BrokerID,
	})
	if err != nil {
		return nil, err
	}

	s.appendTimeline(ctx, store.TimelineEntry{
		ID:       util.NewID("te"),
		CaseID:   caseID,
		AuthorID: &session.BrokerID,
		Type:     store.EntryCollaboratorAdded,
		Content:  session.BrokerName + " added " + target.FullName + " as " + string(role),
		Metadata: map[string]any{"brokerId": target.ID, "role": string(role)},
	})

	s.dispatch.CollaboratorAdded(ctx, collab, session.BrokerName, c.ClientName,
		roles.Description(role), s.cfg.AppBaseURL+"/cases/"+caseID)

	return collaboratorView(collab), nil
}

// AcceptInvite activates a pending roster row. Only the invited broker may
// accept, and only while the row is still pending.
func (s *Service) AcceptInvite(ctx context.Context, session Session, caseID, collaboratorID string) (map[string]any, error) {
	collab, err := s.store.GetCollaboratorByID(ctx, collaboratorID)
	if err != nil {
		return nil, err
	}
	if collab.CaseID != caseID {
		return nil, notFound("Collaborator not found on this case")
	}
	if collab.BrokerID != session.BrokerID {
		return nil, forbidden("Only the invited broker can accept this invite")
	}
	if collab.Status != store.CollaboratorPending {
		return nil, forbidden("This invite is no longer pending")
	}

	accepted, err := s.store.AcceptCollaborator(ctx, caseID, session.BrokerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, forbidden("This invite is no longer pending")
		}
		return nil, err
	}
	return collaboratorView(accepted), nil
}

// DeclineInvite marks a pending roster row removed. Same gate as accept.
func (s *Service) DeclineInvite(ctx context.Context, session Session, caseID, collaboratorID string) error {
	collab, err := s.store.GetCollaboratorByID(ctx, collaboratorID)
	if err != nil {
		return err
	}
	if collab.CaseID != caseID {
		return notFound("Collaborator not found on this case")
	}
	if collab.BrokerID != session.BrokerID {
		return forbidden("Only the invited broker can decline this invite")
	}
	if collab.Status != store.CollaboratorPending {
		return forbidden("This invite is no longer pending")
	}
	return s.store.SetCollaboratorStatus(ctx, collaboratorID, store.CollaboratorRemoved)
}

// ChangeCollaboratorRole rewrites a roster row's role. Strictly owner-only,
// and the new role's default flags replace any earlier overrides.
func (s *Service) ChangeCollaboratorRole(ctx context.Context, session Session, caseID, collaboratorID string, input ChangeRoleInput) (map[string]any, error) {
	access, _, err := s.ResolveAccess(ctx, caseID, session.BrokerID)
	if err != nil {
		return nil, err
	}
	if !access.IsOwner {
		return nil, forbidden("Only the owner can change roles")
	}

	role := roles.Role(strings.TrimSpace(input.Role))
	if !roles.Valid(role) {
		return nil, validationError("Unknown role: " + input.Role)
	}

	collab, err := s.store.GetCollaboratorByID(ctx, collaboratorID)
	if err != nil {
		return nil, err
	}
	if collab.CaseID != caseID {
		return nil, notFound("Collaborator not found on this case")
	}
	if collab.Role == roles.Owner {
		return nil, conflict("Cannot change the case owner's role")
	}
	if role == roles.Owner {
		return nil, validationError("Collaborators cannot be promoted to owner")
	}

	perms := roles.Defaults(role)
	updated, err := s.store.UpdateCollaboratorRole(ctx, collaboratorID, string(role),
		perms.CanEdit, perms.CanApprove, perms.CanMessage, perms.CanUpload)
	if err != nil {
		return nil, err
	}
	return collaboratorView(updated), nil
}

type PermissionsInput struct {
	CanEdit    *bool `json:"canEdit"`
	CanApprove *bool `json:"canApprove"`
	CanMessage *bool `json:"canMessage"`
	CanUpload  *bool `json:"canUpload"`
}

// SetCollaboratorPermissions overrides individual grant flags on top of the
// role defaults. Owner-only; a later role change resets the overrides back
// to that role's defaults.
func (s *Service) SetCollaboratorPermissions(ctx context.Context, session Session, caseID, collaboratorID string, input PermissionsInput) (map[string]any, error) {
	access, _, err := s.ResolveAccess(ctx, caseID, session.BrokerID)
	if err != nil {
		return nil, err
	}
	if !access.IsOwner {
		return nil, forbidden("Only the owner can change permissions")
	}

	collab, err := s.store.GetCollaboratorByID(ctx, collaboratorID)
	if err != nil {
		return nil, err
	}
	if collab.CaseID != caseID {
		return nil, notFound("Collaborator not found on this case")
	}
	if collab.Role == roles.Owner {
		return nil, conflict("Cannot change the case owner's permissions")
	}

	perms := collab.Permissions
	if input.CanEdit != nil {
		perms.CanEdit = *input.CanEdit
	}
	if input.CanApprove != nil {
		perms.CanApprove = *input.CanApprove
	}
	if input.CanMessage != nil {
		perms.CanMessage = *input.CanMessage
	}
	if input.CanUpload != nil {
		perms.CanUpload = *input.CanUpload
	}

	updated, err := s.store.UpdateCollaboratorPermissions(ctx, collaboratorID,
		perms.CanEdit, perms.CanApprove, perms.CanMessage, perms.CanUpload)
	if err != nil {
		return nil, err
	}
	return collaboratorView(updated), nil
}

// RemoveCollaborator marks a roster row removed. Owner-only, and the owner
// row itself is untouchable.
func (s *Service) RemoveCollaborator(ctx context.Context, session Session, caseID, collaboratorID string) error {
	access, _, err := s.ResolveAccess(ctx, caseID, session.BrokerID)
	if err != nil {
		return err
	}
	if !access.IsOwner {
		return forbidden("Only the owner can remove collaborators")
	}

	collab, err := s.store.GetCollaboratorByID(ctx, collaboratorID)
	if err != nil {
		return err
	}
	if collab.CaseID != caseID {
		return notFound("Collaborator not found on this case")
	}
	if collab.Role == roles.Owner {
		return conflict("Cannot remove the case owner")
	}
	if collab.Status == store.CollaboratorRemoved {
		return conflict("This collaborator was already removed")
	}

	if err := s.store.SetCollaboratorStatus(ctx, collaboratorID, store.CollaboratorRemoved); err != nil {
		return err
	}

	s.appendTimeline(ctx, store.TimelineEntry{
		ID:       util.NewID("te"),
		CaseID:   caseID,
		AuthorID: &session.BrokerID,
		Type:     store.EntryCollaboratorRemoved,
		Content:  session.BrokerName + " removed " + collab.BrokerName + " from the case",
		Metadata: map[string]any{"brokerId": collab.BrokerID},
	})

	s.dispatch.CollaboratorRemoved(ctx, caseID, collab.BrokerID)
	return nil
}

func collaboratorView(c store.Collaborator) map[string]any {
	return map[string]any{
		"id":          c.ID,
		"caseId":      c.CaseID,
		"brokerId":    c.BrokerID,
		"brokerName":  c.BrokerName,
		"brokerEmail": c.BrokerEmail,
		"avatarUrl":   c.BrokerAvatar,
		"role":        c.Role,
		"permissions": c.Permissions,
		"status":      c.Status,
		"invitedBy":   c.InvitedBy,
		"invitedAt":   c.InvitedAt,
		"acceptedAt":  c.AcceptedAt,
	}
}

func collaboratorViews(collaborators []store.Collaborator) []map[string]any {
	items := make([]map[string]any, 0, len(collaborators))
	for _, c := range collaborators {
		items = append(items, collaboratorView(c))
	}
	return items
}
