package store

import "time"

type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Workspace struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkspaceSummary is a workspace as seen by one of its members.
type WorkspaceSummary struct {
	Workspace
	Role        string
	MemberCount int
}

type Membership struct {
	WorkspaceID string
	UserID      string
	Role        string
	InvitedBy   string
	CreatedAt   time.Time
}

// Member is a membership joined with the user it belongs to.
type Member struct {
	Membership
	Email string
	Name  string
}

type Page struct {
	ID          string
	WorkspaceID string
	Title       string
	Emoji       string
	CreatedBy   string
	HasSnapshot bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StoredSnapshot is the raw snapshot row. Data is only meaningful when
// Present is true; a NULL column means the page has never been saved.
type StoredSnapshot struct {
	Present bool
	Data    []byte
	Digest  string
	SavedAt time.Time
}
