package app

import (
	"bytes"
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"writeshare/api/internal/config"
	"writeshare/api/internal/snapshot"
	"writeshare/api/internal/store"
)

type membershipKey struct {
	workspaceID string
	userID      string
}

// fakeStore is an in-memory dataStore. The Fn hooks override single
// methods the way a failing database would.
type fakeStore struct {
	mu          sync.Mutex
	clock       time.Time
	users       map[string]store.User
	workspaces  map[string]store.Workspace
	memberships map[membershipKey]store.Membership
	pages       map[string]store.Page
	snapshots   map[string]store.StoredSnapshot

	pingFn          func(context.Context) error
	getWorkspaceFn  func(context.Context, string) (store.Workspace, error)
	getMembershipFn func(context.Context, string, string) (store.Membership, error)
	saveSnapshotFn  func(context.Context, string, []byte, string) (time.Time, error)
	snapshotSaves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clock:       time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		users:       make(map[string]store.User),
		workspaces:  make(map[string]store.Workspace),
		memberships: make(map[membershipKey]store.Membership),
		pages:       make(map[string]store.Page),
		snapshots:   make(map[string]store.StoredSnapshot),
	}
}

// tick returns a strictly increasing timestamp. Callers hold f.mu.
func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) addUser(id, email, name string) store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := store.User{ID: id, Email: strings.ToLower(email), Name: name, CreatedAt: f.tick()}
	f.users[id] = user
	return user
}

func (f *fakeStore) removeMembership(workspaceID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.memberships, membershipKey{workspaceID, userID})
}

func (f *fakeStore) setSnapshot(pageID string, snap store.StoredSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[pageID] = snap
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) EnsureUser(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.users[user.ID]
	if !ok {
		existing = store.User{ID: user.ID, CreatedAt: f.tick()}
	}
	existing.Email = strings.ToLower(user.Email)
	existing.Name = user.Name
	f.users[user.ID] = existing
	return existing, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateWorkspace(_ context.Context, ws store.Workspace) (store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws.CreatedAt = f.tick()
	ws.UpdatedAt = ws.CreatedAt
	f.workspaces[ws.ID] = ws
	f.memberships[membershipKey{ws.ID, ws.OwnerID}] = store.Membership{
		WorkspaceID: ws.ID,
		UserID:      ws.OwnerID,
		Role:        "owner",
		CreatedAt:   ws.CreatedAt,
	}
	return ws, nil
}

func (f *fakeStore) GetWorkspace(ctx context.Context, workspaceID string) (store.Workspace, error) {
	if f.getWorkspaceFn != nil {
		return f.getWorkspaceFn(ctx, workspaceID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, ok := f.workspaces[workspaceID]
	if !ok {
		return store.Workspace{}, sql.ErrNoRows
	}
	return ws, nil
}

func (f *fakeStore) ListWorkspacesForUser(_ context.Context, userID string) ([]store.WorkspaceSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	summaries := make([]store.WorkspaceSummary, 0)
	for key, membership := range f.memberships {
		if key.userID != userID {
			continue
		}
		count := 0
		for other := range f.memberships {
			if other.workspaceID == key.workspaceID {
				count++
			}
		}
		summaries = append(summaries, store.WorkspaceSummary{
			Workspace:   f.workspaces[key.workspaceID],
			Role:        membership.Role,
			MemberCount: count,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return summaries, nil
}

func (f *fakeStore) RenameWorkspace(_ context.Context, workspaceID, name string) (store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, ok := f.workspaces[workspaceID]
	if !ok {
		return store.Workspace{}, sql.ErrNoRows
	}
	ws.Name = name
	ws.UpdatedAt = f.tick()
	f.workspaces[workspaceID] = ws
	return ws, nil
}

func (f *fakeStore) GetMembership(ctx context.Context, workspaceID, userID string) (store.Membership, error) {
	if f.getMembershipFn != nil {
		return f.getMembershipFn(ctx, workspaceID, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memberships[membershipKey{workspaceID, userID}]
	if !ok {
		return store.Membership{}, sql.ErrNoRows
	}
	return m, nil
}

func (f *fakeStore) AddMembership(_ context.Context, m store.Membership) (store.Membership, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := membershipKey{m.WorkspaceID, m.UserID}
	if _, exists := f.memberships[key]; exists {
		return store.Membership{}, false, nil
	}
	m.CreatedAt = f.tick()
	f.memberships[key] = m
	return m, true, nil
}

func (f *fakeStore) ListMembers(_ context.Context, workspaceID string) ([]store.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := make([]store.Member, 0)
	for key, m := range f.memberships {
		if key.workspaceID != workspaceID {
			continue
		}
		user := f.users[key.userID]
		members = append(members, store.Member{Membership: m, Email: user.Email, Name: user.Name})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].CreatedAt.Before(members[j].CreatedAt) })
	return members, nil
}

func (f *fakeStore) InsertPage(_ context.Context, page store.Page) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page.CreatedAt = f.tick()
	page.UpdatedAt = page.CreatedAt
	f.pages[page.ID] = page
	return page, nil
}

func (f *fakeStore) GetPage(_ context.Context, pageID string) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[pageID]
	if !ok {
		return store.Page{}, sql.ErrNoRows
	}
	_, page.HasSnapshot = f.snapshots[pageID]
	return page, nil
}

func (f *fakeStore) ListPages(_ context.Context, workspaceID string) ([]store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pages := make([]store.Page, 0)
	for _, page := range f.pages {
		if page.WorkspaceID == workspaceID {
			pages = append(pages, page)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].CreatedAt.After(pages[j].CreatedAt) })
	return pages, nil
}

func (f *fakeStore) UpdatePageMeta(_ context.Context, pageID, title, emoji string) (store.Page, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[pageID]
	if !ok {
		return store.Page{}, false, sql.ErrNoRows
	}
	if page.Title == title && page.Emoji == emoji {
		return page, false, nil
	}
	page.Title = title
	page.Emoji = emoji
	page.UpdatedAt = f.tick()
	f.pages[pageID] = page
	return page, true, nil
}

func (f *fakeStore) SaveSnapshot(ctx context.Context, pageID string, data []byte, digest string) (time.Time, error) {
	if f.saveSnapshotFn != nil {
		return f.saveSnapshotFn(ctx, pageID, data, digest)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pages[pageID]; !ok {
		return time.Time{}, sql.ErrNoRows
	}
	f.snapshotSaves++
	savedAt := f.tick()
	f.snapshots[pageID] = store.StoredSnapshot{
		Present: data != nil,
		Data:    bytes.Clone(data),
		Digest:  digest,
		SavedAt: savedAt,
	}
	return savedAt, nil
}

func (f *fakeStore) LoadSnapshot(_ context.Context, pageID string) (store.StoredSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pages[pageID]; !ok {
		return store.StoredSnapshot{}, sql.ErrNoRows
	}
	return f.snapshots[pageID], nil
}

func (f *fakeStore) saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotSaves
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string]snapshot.Snapshot
}

func (b *fakeBlobs) PutSnapshot(_ context.Context, pageID string, snap snapshot.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = make(map[string]snapshot.Snapshot)
	}
	b.objects[pageID] = snap
	return nil
}

func (b *fakeBlobs) GetSnapshot(_ context.Context, pageID string) (*snapshot.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, ok := b.objects[pageID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (b *fakeBlobs) remove(pageID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, pageID)
}

func testConfig() config.Config {
	return config.Config{
		AuthSecret:        "test-secret",
		AccessTTLSeconds:  3600,
		SyncToken:         "sync-secret",
		InvitePolicy:      config.InvitePolicyMembers,
		ReceiptTTLSeconds: 900,
		AppBaseURL:        "https://app.example.com",
	}
}

func newTestService(fs *fakeStore) *Service {
	return newService(testConfig(), fs)
}
