package app

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"
	"time"

	"writeshare/api/internal/config"
	"writeshare/api/internal/email"
	"writeshare/api/internal/rbac"
	"writeshare/api/internal/store"
)

func TestCreateWorkspaceAddsOwnerMembership(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("usr_alice", "alice@example.com", "Alice")
	svc := newTestService(fs)

	ws, err := svc.CreateWorkspace(context.Background(), "usr_alice", "  Acme  ")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if ws.Name != "Acme" || ws.OwnerID != "usr_alice" || ws.Role != "owner" || ws.MemberCount != 1 {
		t.Fatalf("unexpected workspace %+v", ws)
	}
	membership, err := fs.GetMembership(context.Background(), ws.ID, "usr_alice")
	if err != nil || membership.Role != "owner" {
		t.Fatalf("expected owner membership, got %+v err=%v", membership, err)
	}
}

func TestCreateWorkspaceRejectsBlankName(t *testing.T) {
	svc := newTestService(newFakeStore())
	for _, name := range []string{"", "   ", "\t\n"} {
		_, err := svc.CreateWorkspace(context.Background(), "usr_alice", name)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("name %q: expected ErrValidation, got %v", name, err)
		}
	}
}

func TestListWorkspacesNewestFirst(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("usr_alice", "alice@example.com", "Alice")
	svc := newTestService(fs)
	ctx := context.Background()

	first, _ := svc.CreateWorkspace(ctx, "usr_alice", "First")
	second, _ := svc.CreateWorkspace(ctx, "usr_alice", "Second")

	workspaces, err := svc.ListWorkspaces(ctx, "usr_alice")
	if err != nil {
		t.Fatalf("ListWorkspaces: %v", err)
	}
	if len(workspaces) != 2 || workspaces[0].ID != second.ID || workspaces[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", workspaces)
	}

	none, err := svc.ListWorkspaces(ctx, "usr_nobody")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty list, got %+v err=%v", none, err)
	}
}

// Alice creates Acme, invites Bob, and Bob sees the workspace. Bob may
// invite under the default policy but may not rename.
func TestAcmeScenario(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("usr_alice", "alice@example.com", "Alice")
	fs.addUser("usr_bob", "bob@example.com", "Bob")
	fs.addUser("usr_carol", "carol@example.com", "Carol")
	svc := newTestService(fs)
	ctx := context.Background()

	acme, err := svc.CreateWorkspace(ctx, "usr_alice", "Acme")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}

	member, err := svc.InviteUser(ctx, acme.ID, "Bob@Example.com", "usr_alice")
	if err != nil {
		t.Fatalf("InviteUser: %v", err)
	}
	if member.UserID != "usr_bob" || member.Role != "member" || member.InvitedBy != "usr_alice" {
		t.Fatalf("unexpected membership %+v", member)
	}

	bobs, err := svc.ListWorkspaces(ctx, "usr_bob")
	if err != nil || len(bobs) != 1 || bobs[0].Name != "Acme" || bobs[0].Role != "member" || bobs[0].MemberCount != 2 {
		t.Fatalf("bob should see Acme as member, got %+v err=%v", bobs, err)
	}

	if _, err := svc.InviteUser(ctx, acme.ID, "bob@example.com", "usr_alice"); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("second invite: expected ErrAlreadyMember, got %v", err)
	}
	if _, err := svc.InviteUser(ctx, acme.ID, "dave@example.com", "usr_alice"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown email: expected ErrUserNotFound, got %v", err)
	}
	if _, err := svc.InviteUser(ctx, acme.ID, "carol@example.com", "usr_bob"); err != nil {
		t.Fatalf("member invite under default policy: %v", err)
	}

	if _, err := svc.RenameWorkspace(ctx, acme.ID, "Bob's", "usr_bob"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("member rename: expected ErrForbidden, got %v", err)
	}
	renamed, err := svc.RenameWorkspace(ctx, acme.ID, " Acme Corp ", "usr_alice")
	if err != nil || renamed.Name != "Acme Corp" {
		t.Fatalf("owner rename: %+v err=%v", renamed, err)
	}

	members, err := svc.ListMembers(ctx, acme.ID, "usr_carol")
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	got := []string{}
	for _, m := range members {
		got = append(got, m.UserID)
	}
	if len(got) != 3 || got[0] != "usr_alice" || got[1] != "usr_bob" || got[2] != "usr_carol" {
		t.Fatalf("members should be ordered by join time, got %v", got)
	}
}

func TestInviteUserCheckOrder(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("usr_alice", "alice@example.com", "Alice")
	fs.addUser("usr_eve", "eve@example.com", "Eve")
	svc := newTestService(fs)
	ctx := context.Background()
	acme, _ := svc.CreateWorkspace(ctx, "usr_alice", "Acme")

	tests := []struct {
		name        string
		workspaceID string
		email       string
		requester   string
		want        error
	}{
		{"malformed email before lookup", "ws_missing", "not-an-email", "usr_alice", ErrValidation},
		{"display name form", acme.ID, "Eve <eve@example.com>", "usr_alice", ErrValidation},
		{"missing workspace", "ws_missing", "eve@example.com", "usr_alice", ErrNotFound},
		{"non-member requester", acme.ID, "eve@example.com", "usr_eve", ErrForbidden},
		{"non-member requester with unknown email", acme.ID, "ghost@example.com", "usr_eve", ErrForbidden},
		{"unknown email", acme.ID, "ghost@example.com", "usr_alice", ErrUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.InviteUser(ctx, tt.workspaceID, tt.email, tt.requester)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestInvitePolicyOwnersOnly(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("usr_alice", "alice@example.com", "Alice")
	fs.addUser("usr_bob", "bob@example.com", "Bob")
	fs.addUser("usr_carol", "carol@example.com", "Carol")
	cfg := testConfig()
	cfg.InvitePolicy = config.InvitePolicyOwners
	svc := newService(cfg, fs)
	ctx := context.Background()

	acme, _ := svc.CreateWorkspace(ctx, "usr_alice", "Acme")
	if _, err := svc.InviteUser(ctx, acme.ID, "bob@example.com", "usr_alice"); err != nil {
		t.Fatalf("owner invite: %v", err)
	}
	if _, err := svc.InviteUser(ctx, acme.ID, "carol@example.com", "usr_bob"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("member invite under owners policy: expected ErrForbidden, got %v", err)
	}
	if svc.policy != rbac.PolicyFor(config.InvitePolicyOwners) {
		t.Fatalf("unexpected policy %+v", svc.policy)
	}
}

func TestConcurrentInvitesCreateOneMembership(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("usr_alice", "alice@example.com", "Alice")
	fs.addUser("usr_bob", "bob@example.com", "Bob")
	svc := newTestService(fs)
	ctx := context.Background()
	acme, _ := svc.CreateWorkspace(ctx, "usr_alice", "Acme")

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.InviteUser(ctx, acme.ID, "bob@example.com", "usr_alice")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAlreadyMember):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful invite, got %d", succeeded)
	}
	members, _ := svc.ListMembers(ctx, acme.ID, "usr_alice")
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
}

func TestRenameWorkspaceErrors(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("usr_alice", "alice@example.com", "Alice")
	svc := newTestService(fs)
	ctx := context.Background()
	acme, _ := svc.CreateWorkspace(ctx, "usr_alice", "Acme")

	if _, err := svc.RenameWorkspace(ctx, acme.ID, "  ", "usr_alice"); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank name: expected ErrValidation, got %v", err)
	}
	if _, err := svc.RenameWorkspace(ctx, "ws_missing", "New", "usr_alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing workspace: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.RenameWorkspace(ctx, acme.ID, "New", "usr_stranger"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger: expected ErrForbidden, got %v", err)
	}
}

func TestRenameFollowsMembershipRole(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("usr_alice", "alice@example.com", "Alice")
	svc := newTestService(fs)
	ctx := context.Background()
	acme, _ := svc.CreateWorkspace(ctx, "usr_alice", "Acme")

	fs.removeMembership(acme.ID, "usr_alice")
	if _, err := svc.RenameWorkspace(ctx, acme.ID, "New", "usr_alice"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("owner without a membership row: expected ErrForbidden, got %v", err)
	}
}

func TestWorkspaceNamesRejectControlCharacters(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("usr_alice", "alice@example.com", "Alice")
	svc := newTestService(fs)
	ctx := context.Background()

	for _, name := range []string{"Acme\r\nBcc: attacker@evil.example", "Acme\nCorp", "Ac\x00me"} {
		if _, err := svc.CreateWorkspace(ctx, "usr_alice", name); !errors.Is(err, ErrValidation) {
			t.Fatalf("create %q: expected ErrValidation, got %v", name, err)
		}
	}
	acme, err := svc.CreateWorkspace(ctx, "usr_alice", "Acme")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if _, err := svc.RenameWorkspace(ctx, acme.ID, "Acme\r\nBcc: x@evil.example", "usr_alice"); !errors.Is(err, ErrValidation) {
		t.Fatalf("rename: expected ErrValidation, got %v", err)
	}
}

func TestLoginRejectsControlCharactersInName(t *testing.T) {
	svc := newTestService(newFakeStore())
	if _, err := svc.Login(context.Background(), "Eve\r\nBcc: attacker@evil.example", "eve@example.com"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	session, err := svc.Login(context.Background(), "Eve", "eve@example.com")
	if err != nil || session.UserName != "Eve" {
		t.Fatalf("plain name: %+v err=%v", session, err)
	}
}

func TestListMembersRequiresMembership(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("usr_alice", "alice@example.com", "Alice")
	svc := newTestService(fs)
	acme, _ := svc.CreateWorkspace(context.Background(), "usr_alice", "Acme")

	if _, err := svc.ListMembers(context.Background(), acme.ID, "usr_eve"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestTransientStorageFailureIsReported(t *testing.T) {
	fs := newFakeStore()
	fs.getWorkspaceFn = func(context.Context, string) (store.Workspace, error) {
		return store.Workspace{}, driver.ErrBadConn
	}
	svc := newTestService(fs)

	_, err := svc.InviteUser(context.Background(), "ws_1", "bob@example.com", "usr_alice")
	if !errors.Is(err, ErrTransientStorage) {
		t.Fatalf("expected ErrTransientStorage, got %v", err)
	}
}

type fakeMailer struct {
	sent chan email.InviteData
	err  error
}

func (m *fakeMailer) IsConfigured() bool { return true }

func (m *fakeMailer) SendInviteEmail(_ context.Context, data email.InviteData) error {
	m.sent <- data
	return m.err
}

func TestInviteSendsNotification(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("usr_alice", "alice@example.com", "Alice")
	fs.addUser("usr_bob", "bob@example.com", "Bob")
	mailer := &fakeMailer{sent: make(chan email.InviteData, 1), err: errors.New("smtp down")}
	svc := newTestService(fs)
	svc.mailer = mailer
	ctx := context.Background()
	acme, _ := svc.CreateWorkspace(ctx, "usr_alice", "Acme")

	if _, err := svc.InviteUser(ctx, acme.ID, "bob@example.com", "usr_alice"); err != nil {
		t.Fatalf("invite must succeed even when mail fails: %v", err)
	}
	select {
	case data := <-mailer.sent:
		if data.InviteeEmail != "bob@example.com" || data.InviterName != "Alice" || data.WorkspaceName != "Acme" {
			t.Fatalf("unexpected invite data %+v", data)
		}
		if data.WorkspaceURL != "https://app.example.com/workspaces/"+acme.ID {
			t.Fatalf("unexpected workspace url %q", data.WorkspaceURL)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("invite email was not sent")
	}
}

func TestNormalizeEmail(t *testing.T) {
	valid := map[string]string{
		"bob@example.com":      "bob@example.com",
		"  Bob@Example.COM ":   "bob@example.com",
		"first.last@sub.co.uk": "first.last@sub.co.uk",
	}
	for input, want := range valid {
		got, err := normalizeEmail(input)
		if err != nil || got != want {
			t.Errorf("normalizeEmail(%q) = %q, %v; want %q", input, got, err, want)
		}
	}
	for _, input := range []string{"", "bob", "bob@", "@example.com", "bob@localhost", "first.last@localhost", "a@b.com, c@d.com"} {
		if _, err := normalizeEmail(input); !errors.Is(err, ErrValidation) {
			t.Errorf("normalizeEmail(%q) should fail validation, got %v", input, err)
		}
	}
}
