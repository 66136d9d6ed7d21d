package app

import (
	"time"

	"writeshare/api/internal/store"
)

type WorkspaceView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerID     string    `json:"ownerId"`
	Role        string    `json:"role,omitempty"`
	MemberCount int       `json:"memberCount,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type MemberView struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role"`
	InvitedBy string    `json:"invitedBy,omitempty"`
	JoinedAt  time.Time `json:"joinedAt"`
}

type PageView struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Title       string    `json:"title"`
	Emoji       string    `json:"emoji"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	HasSnapshot bool      `json:"hasSnapshot"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PageSession is what a client needs to join the live editing room.
// Snapshot is omitted for a page that was never saved and is "" for a
// saved empty document.
type PageSession struct {
	Page      PageView `json:"page"`
	SessionID string   `json:"sessionId"`
	Snapshot  *string  `json:"snapshot,omitempty"`
}

func workspaceView(ws store.Workspace) WorkspaceView {
	return WorkspaceView{
		ID:        ws.ID,
		Name:      ws.Name,
		OwnerID:   ws.OwnerID,
		CreatedAt: ws.CreatedAt,
		UpdatedAt: ws.UpdatedAt,
	}
}

func summaryView(summary store.WorkspaceSummary) WorkspaceView {
	view := workspaceView(summary.Workspace)
	view.Role = summary.Role
	view.MemberCount = summary.MemberCount
	return view
}

func memberView(m store.Member) MemberView {
	view := membershipView(m.Membership)
	view.Email = m.Email
	view.Name = m.Name
	return view
}

func membershipView(m store.Membership) MemberView {
	return MemberView{
		UserID:    m.UserID,
		Role:      m.Role,
		InvitedBy: m.InvitedBy,
		JoinedAt:  m.CreatedAt,
	}
}

func pageView(p store.Page) PageView {
	return PageView{
		ID:          p.ID,
		WorkspaceID: p.WorkspaceID,
		Title:       p.Title,
		Emoji:       p.Emoji,
		CreatedBy:   p.CreatedBy,
		HasSnapshot: p.HasSnapshot,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}
