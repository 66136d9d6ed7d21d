// Package client is a typed HTTP client for the WriteShare API. It is used
// by the pagectl tool and by integration tests.
//
// A Client also satisfies autosave.Committer, so an autosave engine can
// write page metadata straight through the API:
//
//	c := client.New("http://localhost:8787")
//	c.SetToken(token)
//	engine := autosave.New(pageID, c)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"writeshare/api/internal/app"
	"writeshare/api/internal/autosave"
	"writeshare/api/internal/search"
)

// APIError is a non-2xx response decoded from the API's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s: %s", e.Status, e.Code, e.Message)
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	syncToken  string

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSyncToken sets the shared secret sent with realtime snapshot events.
func WithSyncToken(token string) Option {
	return func(c *Client) { c.syncToken = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, body any, header http.Header, target any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if target == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var envelope struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Code == "" {
		return &APIError{Status: resp.StatusCode, Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: strings.TrimSpace(string(raw))}
	}
	return &APIError{Status: resp.StatusCode, Code: envelope.Code, Message: envelope.Error}
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil, nil)
}

type LoginResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login uses the development login route and keeps the returned token for
// later calls.
func (c *Client) Login(ctx context.Context, name, email string) (LoginResponse, error) {
	var result LoginResponse
	body := map[string]string{"name": name, "email": email}
	if err := c.do(ctx, http.MethodPost, "/api/session/login", body, nil, &result); err != nil {
		return LoginResponse{}, err
	}
	c.SetToken(result.Token)
	return result, nil
}

func (c *Client) ListWorkspaces(ctx context.Context) ([]app.WorkspaceView, error) {
	var result struct {
		Workspaces []app.WorkspaceView `json:"workspaces"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/workspaces", nil, nil, &result); err != nil {
		return nil, err
	}
	return result.Workspaces, nil
}

func (c *Client) CreateWorkspace(ctx context.Context, name string) (app.WorkspaceView, error) {
	var result struct {
		Workspace app.WorkspaceView `json:"workspace"`
	}
	err := c.do(ctx, http.MethodPost, "/api/workspaces", map[string]string{"name": name}, nil, &result)
	return result.Workspace, err
}

func (c *Client) RenameWorkspace(ctx context.Context, workspaceID, name string) (app.WorkspaceView, error) {
	var result struct {
		Workspace app.WorkspaceView `json:"workspace"`
	}
	err := c.do(ctx, http.MethodPut, "/api/workspaces/"+url.PathEscape(workspaceID), map[string]string{"name": name}, nil, &result)
	return result.Workspace, err
}

func (c *Client) ListMembers(ctx context.Context, workspaceID string) ([]app.MemberView, error) {
	var result struct {
		Members []app.MemberView `json:"members"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/workspaces/"+url.PathEscape(workspaceID)+"/members", nil, nil, &result); err != nil {
		return nil, err
	}
	return result.Members, nil
}

func (c *Client) Invite(ctx context.Context, workspaceID, email string) (app.MemberView, error) {
	var result struct {
		Member app.MemberView `json:"member"`
	}
	err := c.do(ctx, http.MethodPost, "/api/workspaces/"+url.PathEscape(workspaceID)+"/invites", map[string]string{"email": email}, nil, &result)
	return result.Member, err
}

func (c *Client) ListPages(ctx context.Context, workspaceID string) ([]app.PageView, error) {
	var result struct {
		Pages []app.PageView `json:"pages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/workspaces/"+url.PathEscape(workspaceID)+"/pages", nil, nil, &result); err != nil {
		return nil, err
	}
	return result.Pages, nil
}

func (c *Client) CreatePage(ctx context.Context, workspaceID, title, emoji string) (app.PageView, error) {
	var result struct {
		Page app.PageView `json:"page"`
	}
	body := map[string]string{"title": title, "emoji": emoji}
	err := c.do(ctx, http.MethodPost, "/api/workspaces/"+url.PathEscape(workspaceID)+"/pages", body, nil, &result)
	return result.Page, err
}

func (c *Client) GetPage(ctx context.Context, pageID string) (app.PageView, error) {
	var result struct {
		Page app.PageView `json:"page"`
	}
	err := c.do(ctx, http.MethodGet, "/api/pages/"+url.PathEscape(pageID), nil, nil, &result)
	return result.Page, err
}

// UpdatePage commits page metadata. It makes Client an autosave.Committer.
func (c *Client) UpdatePage(ctx context.Context, commit autosave.Commit) error {
	body := map[string]string{"title": commit.Title, "emoji": commit.Emoji}
	return c.do(ctx, http.MethodPut, "/api/pages/"+url.PathEscape(commit.PageID), body, nil, nil)
}

func (c *Client) OpenPageSession(ctx context.Context, pageID string) (app.PageSession, error) {
	var result app.PageSession
	err := c.do(ctx, http.MethodGet, "/api/pages/"+url.PathEscape(pageID)+"/session", nil, nil, &result)
	return result, err
}

func (c *Client) OpenWorkspacePageSession(ctx context.Context, workspaceID, pageID string) (app.PageSession, error) {
	var result app.PageSession
	path := "/api/workspaces/" + url.PathEscape(workspaceID) + "/pages/" + url.PathEscape(pageID) + "/session"
	err := c.do(ctx, http.MethodGet, path, nil, nil, &result)
	return result, err
}

func (c *Client) Search(ctx context.Context, workspaceID, text string, limit, offset int) (search.Response, error) {
	query := url.Values{}
	query.Set("q", text)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	var result search.Response
	err := c.do(ctx, http.MethodGet, "/api/workspaces/"+url.PathEscape(workspaceID)+"/search?"+query.Encode(), nil, nil, &result)
	return result, err
}

// SnapshotEvent is what the realtime service posts when a room persists.
type SnapshotEvent struct {
	EventID   string `json:"eventId"`
	SessionID string `json:"sessionId"`
	PageID    string `json:"pageId"`
	Snapshot  string `json:"snapshot"`
}

// PostSnapshot delivers a snapshot event. It needs WithSyncToken.
func (c *Client) PostSnapshot(ctx context.Context, event SnapshotEvent) (map[string]any, error) {
	header := http.Header{}
	header.Set("X-WriteShare-Sync-Token", c.syncToken)
	var result map[string]any
	if err := c.do(ctx, http.MethodPost, "/api/internal/realtime/snapshots", event, header, &result); err != nil {
		return nil, err
	}
	return result, nil
}

var _ autosave.Committer = (*Client)(nil)
