package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, email, name, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

// EnsureUser records an identity asserted by the auth provider. Existing
// rows get the latest email and name.
func (s *PostgresStore) EnsureUser(ctx context.Context, user User) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name)
		VALUES ($1, LOWER($2), $3)
		ON CONFLICT (id) DO UPDATE
			SET email = EXCLUDED.email, name = EXCLUDED.name, updated_at = NOW()
			WHERE users.email IS DISTINCT FROM EXCLUDED.email OR users.name IS DISTINCT FROM EXCLUDED.name
		RETURNING `+userColumns, user.ID, user.Email, user.Name)
	saved, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict without changes returns no row.
		return s.GetUserByID(ctx, user.ID)
	}
	if err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email))
}

// CreateWorkspace inserts the workspace and its owner membership in one
// transaction.
func (s *PostgresStore) CreateWorkspace(ctx context.Context, workspace Workspace) (Workspace, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Workspace{}, fmt.Errorf("begin create workspace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO workspaces (id, name, owner_id)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, workspace.ID, workspace.Name, workspace.OwnerID).Scan(&workspace.CreatedAt, &workspace.UpdatedAt)
	if err != nil {
		return Workspace{}, fmt.Errorf("insert workspace: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspace_memberships (workspace_id, user_id, role)
		VALUES ($1, $2, 'owner')
	`, workspace.ID, workspace.OwnerID); err != nil {
		return Workspace{}, fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Workspace{}, fmt.Errorf("commit create workspace: %w", err)
	}
	return workspace, nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var ws Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, created_at, updated_at FROM workspaces WHERE id=$1
	`, workspaceID).Scan(&ws.ID, &ws.Name, &ws.OwnerID, &ws.CreatedAt, &ws.UpdatedAt)
	return ws, err
}

// ListWorkspacesForUser returns every workspace the user belongs to, newest
// first. The id tiebreak keeps the order stable for equal timestamps.
func (s *PostgresStore) ListWorkspacesForUser(ctx context.Context, userID string) ([]WorkspaceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.owner_id, w.created_at, w.updated_at, m.role,
			(SELECT COUNT(*) FROM workspace_memberships c WHERE c.workspace_id = w.id) AS member_count
		FROM workspaces w
		JOIN workspace_memberships m ON m.workspace_id = w.id
		WHERE m.user_id = $1
		ORDER BY w.created_at DESC, w.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]WorkspaceSummary, 0)
	for rows.Next() {
		var item WorkspaceSummary
		if err := rows.Scan(&item.ID, &item.Name, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt, &item.Role, &item.MemberCount); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) RenameWorkspace(ctx context.Context, workspaceID, name string) (Workspace, error) {
	var ws Workspace
	err := s.db.QueryRowContext(ctx, `
		UPDATE workspaces SET name=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING id, name, owner_id, created_at, updated_at
	`, workspaceID, name).Scan(&ws.ID, &ws.Name, &ws.OwnerID, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Workspace{}, err
		}
		return Workspace{}, fmt.Errorf("rename workspace: %w", err)
	}
	return ws, nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, workspaceID, userID string) (Membership, error) {
	var m Membership
	var invitedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT workspace_id, user_id, role, invited_by, created_at
		FROM workspace_memberships
		WHERE workspace_id=$1 AND user_id=$2
	`, workspaceID, userID).Scan(&m.WorkspaceID, &m.UserID, &m.Role, &invitedBy, &m.CreatedAt)
	m.InvitedBy = invitedBy.String
	return m, err
}

// AddMembership inserts a membership unless one already exists for the
// pair. The boolean is false when the row was already present.
func (s *PostgresStore) AddMembership(ctx context.Context, m Membership) (Membership, bool, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO workspace_memberships (workspace_id, user_id, role, invited_by)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (workspace_id, user_id) DO NOTHING
		RETURNING created_at
	`, m.WorkspaceID, m.UserID, m.Role, m.InvitedBy).Scan(&m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Membership{}, false, nil
	}
	if err != nil {
		if IsUniqueViolation(err) {
			return Membership{}, false, nil
		}
		return Membership{}, false, fmt.Errorf("add membership: %w", err)
	}
	return m, true, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, workspaceID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.workspace_id, m.user_id, m.role, COALESCE(m.invited_by, ''), m.created_at, u.email, u.name
		FROM workspace_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.workspace_id = $1
		ORDER BY m.created_at ASC, m.user_id ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]Member, 0)
	for rows.Next() {
		var item Member
		if err := rows.Scan(&item.WorkspaceID, &item.UserID, &item.Role, &item.InvitedBy, &item.CreatedAt, &item.Email, &item.Name); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, item)
	}
	return members, rows.Err()
}

const pageColumns = `id, workspace_id, title, emoji, COALESCE(created_by, ''), crdt_saved_at IS NOT NULL, created_at, updated_at`

func scanPage(row interface{ Scan(...any) error }) (Page, error) {
	var page Page
	err := row.Scan(&page.ID, &page.WorkspaceID, &page.Title, &page.Emoji, &page.CreatedBy, &page.HasSnapshot, &page.CreatedAt, &page.UpdatedAt)
	return page, err
}

func (s *PostgresStore) InsertPage(ctx context.Context, page Page) (Page, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO pages (id, workspace_id, title, emoji, created_by)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING `+pageColumns, page.ID, page.WorkspaceID, page.Title, page.Emoji, page.CreatedBy)
	saved, err := scanPage(row)
	if err != nil {
		return Page{}, fmt.Errorf("insert page: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) GetPage(ctx context.Context, pageID string) (Page, error) {
	return scanPage(s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id=$1`, pageID))
}

func (s *PostgresStore) ListPages(ctx context.Context, workspaceID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages
		WHERE workspace_id=$1
		ORDER BY created_at DESC, id DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	pages := make([]Page, 0)
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

// UpdatePageMeta writes title and emoji only when one of them differs from
// the stored row. The boolean reports whether a write happened.
func (s *PostgresStore) UpdatePageMeta(ctx context.Context, pageID, title, emoji string) (Page, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE pages SET title=$2, emoji=$3, updated_at=NOW()
		WHERE id=$1 AND (title IS DISTINCT FROM $2 OR emoji IS DISTINCT FROM $3)
		RETURNING `+pageColumns, pageID, title, emoji)
	page, err := scanPage(row)
	if err == nil {
		return page, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Page{}, false, fmt.Errorf("update page: %w", err)
	}
	page, err = s.GetPage(ctx, pageID)
	if err != nil {
		return Page{}, false, err
	}
	return page, false, nil
}

// SaveSnapshot overwrites the stored snapshot. A nil data slice keeps the
// bytes column NULL and only records the digest, for blobs kept elsewhere.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, pageID string, data []byte, digest string) (time.Time, error) {
	var savedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		UPDATE pages SET crdt_state=$2, crdt_digest=$3, crdt_saved_at=NOW()
		WHERE id=$1
		RETURNING crdt_saved_at
	`, pageID, data, digest).Scan(&savedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, err
		}
		return time.Time{}, fmt.Errorf("save snapshot: %w", err)
	}
	return savedAt, nil
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context, pageID string) (StoredSnapshot, error) {
	var snap StoredSnapshot
	var savedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT crdt_state IS NOT NULL, COALESCE(crdt_state, ''::bytea), crdt_digest, crdt_saved_at
		FROM pages WHERE id=$1
	`, pageID).Scan(&snap.Present, &snap.Data, &snap.Digest, &savedAt)
	if err != nil {
		return StoredSnapshot{}, err
	}
	if savedAt.Valid {
		snap.SavedAt = savedAt.Time
	}
	if !snap.Present {
		snap.Data = nil
	}
	return snap, nil
}
