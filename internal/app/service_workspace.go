package app

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"writeshare/api/internal/email"
	"writeshare/api/internal/rbac"
	"writeshare/api/internal/store"
	"writeshare/api/internal/util"
)

const (
	maxWorkspaceNameLength = 100
	inviteEmailTimeout     = 15 * time.Second
)

func normalizeWorkspaceName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", validationError("Workspace name is required", map[string]any{"field": "name"})
	}
	if utf8.RuneCountInString(name) > maxWorkspaceNameLength {
		return "", validationError("Workspace name is too long", map[string]any{"field": "name", "max": maxWorkspaceNameLength})
	}
	if hasControl(name) {
		return "", validationError("Workspace name must not contain control characters", map[string]any{"field": "name"})
	}
	return name, nil
}

func hasControl(value string) bool {
	return strings.IndexFunc(value, unicode.IsControl) >= 0
}

// normalizeEmail accepts a bare address only. Display names and lists are
// rejected.
func normalizeEmail(value string) (string, error) {
	value = strings.TrimSpace(value)
	invalid := validationError("A valid email address is required", map[string]any{"field": "email"})
	if value == "" {
		return "", invalid
	}
	parsed, err := mail.ParseAddress(value)
	if err != nil || parsed.Address != value {
		return "", invalid
	}
	if _, domain, _ := strings.Cut(parsed.Address, "@"); !strings.Contains(domain, ".") {
		return "", invalid
	}
	return strings.ToLower(parsed.Address), nil
}

// CreateWorkspace stores the workspace together with the owner's
// membership.
func (s *Service) CreateWorkspace(ctx context.Context, ownerID, name string) (WorkspaceView, error) {
	name, err := normalizeWorkspaceName(name)
	if err != nil {
		return WorkspaceView{}, err
	}
	workspace, err := s.store.CreateWorkspace(ctx, store.Workspace{
		ID:      util.NewID("ws"),
		Name:    name,
		OwnerID: ownerID,
	})
	if err != nil {
		return WorkspaceView{}, storageError(err)
	}
	s.log.Info().Str("workspace_id", workspace.ID).Str("owner_id", ownerID).Msg("workspace created")

	view := workspaceView(workspace)
	view.Role = string(rbac.RoleOwner)
	view.MemberCount = 1
	return view, nil
}

// ListWorkspaces returns the workspaces the user belongs to, newest first.
func (s *Service) ListWorkspaces(ctx context.Context, userID string) ([]WorkspaceView, error) {
	summaries, err := s.store.ListWorkspacesForUser(ctx, userID)
	if err != nil {
		return nil, storageError(err)
	}
	views := make([]WorkspaceView, 0, len(summaries))
	for _, summary := range summaries {
		views = append(views, summaryView(summary))
	}
	return views, nil
}

// InviteUser adds an existing account to a workspace as a member. The
// unique membership key makes repeated and concurrent invites settle on a
// single row; every call after the first reports ErrAlreadyMember.
func (s *Service) InviteUser(ctx context.Context, workspaceID, emailAddress, requesterID string) (MemberView, error) {
	address, err := normalizeEmail(emailAddress)
	if err != nil {
		return MemberView{}, err
	}
	workspace, err := s.requireWorkspace(ctx, workspaceID)
	if err != nil {
		return MemberView{}, err
	}
	if _, err := s.authorize(ctx, workspace.ID, requesterID, rbac.ActionInvite); err != nil {
		return MemberView{}, err
	}

	invitee, err := s.store.GetUserByEmail(ctx, address)
	if errors.Is(err, sql.ErrNoRows) {
		return MemberView{}, domainError(ErrUserNotFound.Status, ErrUserNotFound.Code, ErrUserNotFound.Message, map[string]any{"email": address})
	}
	if err != nil {
		return MemberView{}, storageError(err)
	}

	alreadyMember := domainError(ErrAlreadyMember.Status, ErrAlreadyMember.Code, ErrAlreadyMember.Message, map[string]any{"userId": invitee.ID})
	if _, err := s.store.GetMembership(ctx, workspace.ID, invitee.ID); err == nil {
		return MemberView{}, alreadyMember
	} else if !errors.Is(err, sql.ErrNoRows) {
		return MemberView{}, storageError(err)
	}

	membership, inserted, err := s.store.AddMembership(ctx, store.Membership{
		WorkspaceID: workspace.ID,
		UserID:      invitee.ID,
		Role:        string(rbac.RoleMember),
		InvitedBy:   requesterID,
	})
	if err != nil {
		return MemberView{}, storageError(err)
	}
	if !inserted {
		return MemberView{}, alreadyMember
	}
	s.log.Info().
		Str("workspace_id", workspace.ID).
		Str("user_id", invitee.ID).
		Str("invited_by", requesterID).
		Msg("member invited")

	s.notifyInvitee(workspace, invitee, requesterID)

	view := membershipView(membership)
	view.Email = invitee.Email
	view.Name = invitee.Name
	return view, nil
}

// notifyInvitee mails the new member in the background. Delivery failures
// never undo the membership.
func (s *Service) notifyInvitee(workspace store.Workspace, invitee store.User, requesterID string) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), inviteEmailTimeout)
		defer cancel()

		inviterName := ""
		if inviter, err := s.store.GetUserByID(ctx, requesterID); err == nil {
			inviterName = inviter.Name
		}
		err := s.mailer.SendInviteEmail(ctx, email.InviteData{
			WorkspaceName: workspace.Name,
			InviterName:   inviterName,
			InviteeEmail:  invitee.Email,
			WorkspaceURL:  strings.TrimRight(s.cfg.AppBaseURL, "/") + "/workspaces/" + workspace.ID,
		})
		if err != nil {
			s.log.Warn().Err(err).Str("workspace_id", workspace.ID).Str("user_id", invitee.ID).Msg("invite email not sent")
		}
	}()
}

// RenameWorkspace is restricted to the workspace owner.
func (s *Service) RenameWorkspace(ctx context.Context, workspaceID, name, requesterID string) (WorkspaceView, error) {
	name, err := normalizeWorkspaceName(name)
	if err != nil {
		return WorkspaceView{}, err
	}
	workspace, err := s.requireWorkspace(ctx, workspaceID)
	if err != nil {
		return WorkspaceView{}, err
	}
	if _, err := s.authorize(ctx, workspace.ID, requesterID, rbac.ActionRename); err != nil {
		return WorkspaceView{}, err
	}

	renamed, err := s.store.RenameWorkspace(ctx, workspace.ID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkspaceView{}, notFound("Workspace")
	}
	if err != nil {
		return WorkspaceView{}, storageError(err)
	}
	view := workspaceView(renamed)
	view.Role = string(rbac.RoleOwner)
	return view, nil
}

func (s *Service) ListMembers(ctx context.Context, workspaceID, requesterID string) ([]MemberView, error) {
	workspace, err := s.requireWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, workspace.ID, requesterID, rbac.ActionListMembers); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, workspace.ID)
	if err != nil {
		return nil, storageError(err)
	}
	views := make([]MemberView, 0, len(members))
	for _, member := range members {
		views = append(views, memberView(member))
	}
	return views, nil
}
