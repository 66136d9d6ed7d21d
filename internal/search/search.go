// Package search finds pages by title inside a workspace. Meilisearch is
// used when it is configured and healthy, PostgreSQL full-text search
// otherwise.
package search

import "context"

// Result is a single page hit.
type Result struct {
	PageID      string `json:"pageId"`
	WorkspaceID string `json:"workspaceId"`
	Title       string `json:"title"`
	Emoji       string `json:"emoji,omitempty"`
	Snippet     string `json:"snippet"`
}

// Query is always scoped to one workspace.
type Query struct {
	Text        string
	WorkspaceID string
	Limit       int
	Offset      int
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a Searcher that also accepts page updates.
type Index interface {
	Searcher
	IndexPage(page PageRecord) error
	IndexPages(pages []PageRecord) error
}

// PageRecord is the document stored in the page index.
type PageRecord struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Title       string `json:"title"`
	Emoji       string `json:"emoji"`
}

const defaultLimit = 20

func (q Query) normalized() Query {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = defaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
