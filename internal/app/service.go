package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"writeshare/api/internal/auth"
	"writeshare/api/internal/config"
	"writeshare/api/internal/email"
	"writeshare/api/internal/rbac"
	"writeshare/api/internal/search"
	"writeshare/api/internal/session"
	"writeshare/api/internal/snapshot"
	"writeshare/api/internal/store"
	"writeshare/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Email     string
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	Ping(context.Context) error
	EnsureUser(context.Context, store.User) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	CreateWorkspace(context.Context, store.Workspace) (store.Workspace, error)
	GetWorkspace(context.Context, string) (store.Workspace, error)
	ListWorkspacesForUser(context.Context, string) ([]store.WorkspaceSummary, error)
	RenameWorkspace(context.Context, string, string) (store.Workspace, error)
	GetMembership(context.Context, string, string) (store.Membership, error)
	AddMembership(context.Context, store.Membership) (store.Membership, bool, error)
	ListMembers(context.Context, string) ([]store.Member, error)
	InsertPage(context.Context, store.Page) (store.Page, error)
	GetPage(context.Context, string) (store.Page, error)
	ListPages(context.Context, string) ([]store.Page, error)
	UpdatePageMeta(context.Context, string, string, string) (store.Page, bool, error)
	SaveSnapshot(context.Context, string, []byte, string) (time.Time, error)
	LoadSnapshot(context.Context, string) (store.StoredSnapshot, error)
}

// blobStore holds snapshot bytes outside the database.
type blobStore interface {
	PutSnapshot(ctx context.Context, pageID string, snap snapshot.Snapshot) error
	GetSnapshot(ctx context.Context, pageID string) (*snapshot.Snapshot, error)
}

type pageSearch interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexPage(page search.PageRecord)
}

type inviteMailer interface {
	IsConfigured() bool
	SendInviteEmail(ctx context.Context, data email.InviteData) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	blobs    blobStore
	receipts session.Receipts
	search   pageSearch
	mailer   inviteMailer
	policy   rbac.Policy
	log      zerolog.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithSnapshotStore moves snapshot bytes to an object store. The database
// keeps only the digest and save time.
func WithSnapshotStore(blobs *snapshot.MinioStore) Option {
	return func(s *Service) {
		if blobs != nil {
			s.blobs = blobs
		}
	}
}

func WithReceipts(receipts session.Receipts) Option {
	return func(s *Service) {
		if receipts != nil {
			s.receipts = receipts
		}
	}
}

func WithSearch(svc *search.Service) Option {
	return func(s *Service) {
		if svc != nil {
			s.search = svc
		}
	}
}

func WithMailer(mailer *email.Service) Option {
	return func(s *Service) {
		if mailer != nil {
			s.mailer = mailer
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func New(cfg config.Config, dataStore *store.PostgresStore, opts ...Option) *Service {
	return newService(cfg, dataStore, opts...)
}

func newService(cfg config.Config, dataStore dataStore, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		receipts: session.NewMemoryStore(cfg.ReceiptTTL()),
		policy:   rbac.PolicyFor(cfg.InvitePolicy),
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login issues a development token for the named user, creating the
// account on first use. Production tokens come from the identity provider.
func (s *Service) Login(ctx context.Context, name, emailAddress string) (Session, error) {
	address, err := normalizeEmail(emailAddress)
	if err != nil {
		return Session{}, err
	}
	name = firstNonBlank(name, strings.SplitN(address, "@", 2)[0])
	if hasControl(name) {
		return Session{}, validationError("Name must not contain control characters", map[string]any{"field": "name"})
	}

	user, err := s.store.GetUserByEmail(ctx, address)
	if errors.Is(err, sql.ErrNoRows) {
		user = store.User{ID: util.NewID("usr"), Email: address, Name: name}
	} else if err != nil {
		return Session{}, storageError(err)
	}
	user.Name = name
	user, err = s.store.EnsureUser(ctx, user)
	if err != nil {
		return Session{}, storageError(err)
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	expiresAt := s.now().Add(s.cfg.AccessTTL())
	jti := util.NewID("jti")
	token, err := auth.IssueToken([]byte(s.cfg.AuthSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.Name,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken verifies a bearer token and provisions the user row the
// first time a subject is seen.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.AuthSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		user, err = s.store.EnsureUser(ctx, store.User{ID: claims.Sub, Email: claims.Email, Name: claims.Name})
	}
	if err != nil {
		return Session{}, storageError(err)
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0).UTC(),
	}, nil
}

func (s *Service) SyncToken() string {
	return s.cfg.SyncToken
}

func (s *Service) DevLoginEnabled() bool {
	return s.cfg.AuthDevLogin
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) requireWorkspace(ctx context.Context, workspaceID string) (store.Workspace, error) {
	workspace, err := s.store.GetWorkspace(ctx, strings.TrimSpace(workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Workspace{}, notFound("Workspace")
	}
	if err != nil {
		return store.Workspace{}, storageError(err)
	}
	return workspace, nil
}

// authorize reads the membership on every call. Nothing is cached, so a
// removed member loses access on the next request.
func (s *Service) authorize(ctx context.Context, workspaceID, userID string, action rbac.Action) (store.Membership, error) {
	membership, err := s.store.GetMembership(ctx, workspaceID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Membership{}, forbidden("You are not a member of this workspace")
	}
	if err != nil {
		return store.Membership{}, storageError(err)
	}
	if !s.policy.Can(rbac.Normalize(membership.Role), action) {
		return store.Membership{}, forbidden("Your role does not allow this action")
	}
	return membership, nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
