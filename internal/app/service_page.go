package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"writeshare/api/internal/autosave"
	"writeshare/api/internal/rbac"
	"writeshare/api/internal/search"
	"writeshare/api/internal/snapshot"
	"writeshare/api/internal/store"
	"writeshare/api/internal/util"
)

const (
	maxTitleLength = 200
	// Emoji length is counted in UTF-16 code units, so one astral-plane
	// emoji fits and a pair does not.
	maxEmojiUnits = 2
)

// SessionIDForPage names the live collaboration room of a page. Every open
// of the same page yields the same id.
func SessionIDForPage(pageID string) string {
	return "page-" + pageID
}

func normalizePageMeta(title, emoji string) (string, string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = autosave.UntitledTitle
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", "", validationError("Title is too long", map[string]any{"field": "title", "max": maxTitleLength})
	}
	emoji = strings.TrimSpace(emoji)
	if len(utf16.Encode([]rune(emoji))) > maxEmojiUnits {
		return "", "", validationError("Emoji must be a single character", map[string]any{"field": "emoji"})
	}
	return title, emoji, nil
}

func (s *Service) requirePage(ctx context.Context, pageID string) (store.Page, error) {
	page, err := s.store.GetPage(ctx, strings.TrimSpace(pageID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Page{}, notFound("Page")
	}
	if err != nil {
		return store.Page{}, storageError(err)
	}
	return page, nil
}

// pageForMember loads the page and checks the caller against the page's
// workspace.
func (s *Service) pageForMember(ctx context.Context, pageID, userID string, action rbac.Action) (store.Page, error) {
	page, err := s.requirePage(ctx, pageID)
	if err != nil {
		return store.Page{}, err
	}
	if _, err := s.requireWorkspace(ctx, page.WorkspaceID); err != nil {
		return store.Page{}, err
	}
	if _, err := s.authorize(ctx, page.WorkspaceID, userID, action); err != nil {
		return store.Page{}, err
	}
	return page, nil
}

func (s *Service) CreatePage(ctx context.Context, workspaceID, userID, title, emoji string) (PageView, error) {
	title, emoji, err := normalizePageMeta(title, emoji)
	if err != nil {
		return PageView{}, err
	}
	workspace, err := s.requireWorkspace(ctx, workspaceID)
	if err != nil {
		return PageView{}, err
	}
	if _, err := s.authorize(ctx, workspace.ID, userID, rbac.ActionEditPage); err != nil {
		return PageView{}, err
	}

	page, err := s.store.InsertPage(ctx, store.Page{
		ID:          util.NewID("pg"),
		WorkspaceID: workspace.ID,
		Title:       title,
		Emoji:       emoji,
		CreatedBy:   userID,
	})
	if err != nil {
		return PageView{}, storageError(err)
	}
	s.indexPage(page)
	return pageView(page), nil
}

func (s *Service) ListPages(ctx context.Context, workspaceID, userID string) ([]PageView, error) {
	workspace, err := s.requireWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, workspace.ID, userID, rbac.ActionOpenPage); err != nil {
		return nil, err
	}
	pages, err := s.store.ListPages(ctx, workspace.ID)
	if err != nil {
		return nil, storageError(err)
	}
	views := make([]PageView, 0, len(pages))
	for _, page := range pages {
		views = append(views, pageView(page))
	}
	return views, nil
}

func (s *Service) GetPage(ctx context.Context, pageID, userID string) (PageView, error) {
	page, err := s.pageForMember(ctx, pageID, userID, rbac.ActionOpenPage)
	if err != nil {
		return PageView{}, err
	}
	return pageView(page), nil
}

// UpdatePage is the autosave commit target. Writing values equal to the
// stored ones is a no-op and reports changed=false.
func (s *Service) UpdatePage(ctx context.Context, pageID, userID, title, emoji string) (PageView, bool, error) {
	title, emoji, err := normalizePageMeta(title, emoji)
	if err != nil {
		return PageView{}, false, err
	}
	page, err := s.pageForMember(ctx, pageID, userID, rbac.ActionEditPage)
	if err != nil {
		return PageView{}, false, err
	}

	updated, changed, err := s.store.UpdatePageMeta(ctx, page.ID, title, emoji)
	if errors.Is(err, sql.ErrNoRows) {
		return PageView{}, false, notFound("Page")
	}
	if err != nil {
		return PageView{}, false, storageError(err)
	}
	if changed {
		s.indexPage(updated)
	}
	return pageView(updated), changed, nil
}

// OpenPageSession authorizes the caller against the page's workspace and
// returns what the live room needs to start.
func (s *Service) OpenPageSession(ctx context.Context, pageID, userID string) (PageSession, error) {
	page, err := s.pageForMember(ctx, pageID, userID, rbac.ActionOpenPage)
	if err != nil {
		return PageSession{}, err
	}
	return s.pageSession(ctx, page)
}

// OpenWorkspacePageSession checks membership before it looks at the page,
// so a non-member learns nothing about which pages exist.
func (s *Service) OpenWorkspacePageSession(ctx context.Context, workspaceID, pageID, userID string) (PageSession, error) {
	workspace, err := s.requireWorkspace(ctx, workspaceID)
	if err != nil {
		return PageSession{}, err
	}
	if _, err := s.authorize(ctx, workspace.ID, userID, rbac.ActionOpenPage); err != nil {
		return PageSession{}, err
	}
	page, err := s.requirePage(ctx, pageID)
	if err != nil {
		return PageSession{}, err
	}
	if page.WorkspaceID != workspace.ID {
		return PageSession{}, notFound("Page")
	}
	return s.pageSession(ctx, page)
}

func (s *Service) pageSession(ctx context.Context, page store.Page) (PageSession, error) {
	snap, err := s.loadSnapshot(ctx, page.ID)
	if err != nil {
		return PageSession{}, err
	}
	payload, err := snapshot.ToSessionPayload(snap)
	if err != nil {
		s.log.Error().Err(err).Str("page_id", page.ID).Msg("stored snapshot is corrupt")
		return PageSession{}, snapshotDecodeError(err, true)
	}
	return PageSession{
		Page:      pageView(page),
		SessionID: SessionIDForPage(page.ID),
		Snapshot:  payload,
	}, nil
}

// loadSnapshot returns nil for a page that was never saved. With an object
// store configured, rows saved before the switch are still read from the
// database. A row that records a save but has neither bytes nor an object
// is reported as corrupt, never as a new document.
func (s *Service) loadSnapshot(ctx context.Context, pageID string) (*snapshot.Snapshot, error) {
	if s.blobs != nil {
		blob, err := s.blobs.GetSnapshot(ctx, pageID)
		if err != nil {
			return nil, err
		}
		if blob != nil {
			return blob, nil
		}
	}

	stored, err := s.store.LoadSnapshot(ctx, pageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Page")
	}
	if err != nil {
		return nil, storageError(err)
	}
	if !stored.Present {
		if stored.Digest == "" && stored.SavedAt.IsZero() {
			return nil, nil
		}
		missing := &snapshot.DecodeError{Reason: "snapshot object is missing for a saved page"}
		s.log.Error().Err(missing).Str("page_id", pageID).Str("digest", stored.Digest).Msg("stored snapshot is missing")
		return nil, snapshotDecodeError(missing, true)
	}
	return &snapshot.Snapshot{Data: stored.Data, Digest: stored.Digest, SavedAt: stored.SavedAt}, nil
}

// SaveSnapshot replaces the page's snapshot. Concurrent saves resolve as
// last writer wins.
func (s *Service) SaveSnapshot(ctx context.Context, pageID string, snap snapshot.Snapshot) (time.Time, error) {
	data := snap.Data
	if data == nil {
		data = []byte{}
	}
	if snap.Digest == "" {
		snap.Digest = snapshot.Digest(data)
	}

	if s.blobs != nil {
		if err := s.blobs.PutSnapshot(ctx, pageID, snapshot.Snapshot{Data: data, Digest: snap.Digest}); err != nil {
			return time.Time{}, err
		}
		data = nil
	}

	savedAt, err := s.store.SaveSnapshot(ctx, pageID, data, snap.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, notFound("Page")
	}
	if err != nil {
		return time.Time{}, storageError(err)
	}
	return savedAt, nil
}

// HandleSnapshotSaved persists a snapshot posted by the realtime service.
// Events are deduplicated by eventID, and a redelivered event gets the
// response of the first delivery.
func (s *Service) HandleSnapshotSaved(ctx context.Context, eventID, sessionID, pageID, payload string) (map[string]any, error) {
	eventID = strings.TrimSpace(eventID)
	pageID = strings.TrimSpace(pageID)
	if eventID == "" {
		return nil, validationError("eventId is required", map[string]any{"field": "eventId"})
	}
	if pageID == "" {
		return nil, validationError("pageId is required", map[string]any{"field": "pageId"})
	}
	if strings.TrimSpace(sessionID) != SessionIDForPage(pageID) {
		return nil, validationError("sessionId does not belong to pageId", map[string]any{"field": "sessionId"})
	}

	cached, ok, err := s.receipts.Lookup(ctx, eventID)
	if err != nil {
		s.log.Warn().Err(err).Str("event_id", eventID).Msg("receipt lookup failed")
	} else if ok {
		return cached, nil
	}

	snap, err := snapshot.FromSessionPayload(payload, s.now())
	if err != nil {
		return nil, snapshotDecodeError(err, false)
	}
	if _, err := s.requirePage(ctx, pageID); err != nil {
		return nil, err
	}
	savedAt, err := s.SaveSnapshot(ctx, pageID, snap)
	if err != nil {
		return nil, err
	}

	response := map[string]any{
		"ok":        true,
		"eventId":   eventID,
		"sessionId": SessionIDForPage(pageID),
		"pageId":    pageID,
		"bytes":     len(snap.Data),
		"digest":    snap.Digest,
		"savedAt":   savedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := s.receipts.Store(ctx, eventID, response); err != nil {
		s.log.Warn().Err(err).Str("event_id", eventID).Msg("receipt store failed")
	}
	s.log.Debug().Str("page_id", pageID).Int("bytes", len(snap.Data)).Msg("snapshot saved")
	return response, nil
}

func (s *Service) SearchPages(ctx context.Context, workspaceID, userID, text string, limit, offset int) (search.Response, error) {
	workspace, err := s.requireWorkspace(ctx, workspaceID)
	if err != nil {
		return search.Response{}, err
	}
	if _, err := s.authorize(ctx, workspace.ID, userID, rbac.ActionOpenPage); err != nil {
		return search.Response{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" || s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(ctx, search.Query{
		Text:        text,
		WorkspaceID: workspace.ID,
		Limit:       limit,
		Offset:      offset,
	}), nil
}

func (s *Service) indexPage(page store.Page) {
	if s.search == nil {
		return
	}
	s.search.IndexPage(search.PageRecord{
		ID:          page.ID,
		WorkspaceID: page.WorkspaceID,
		Title:       page.Title,
		Emoji:       page.Emoji,
	})
}
