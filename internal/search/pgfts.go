package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches page titles with PostgreSQL full-text search. It matches
// the expression index created by the initial migration.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy is always true. Without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

const pageVector = "to_tsvector('simple', p.title)"

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = q.normalized()

	const tsQuery = "plainto_tsquery('simple', $1)"
	where := fmt.Sprintf("p.workspace_id = $2 AND %s @@ %s", pageVector, tsQuery)

	var total int
	if err := p.db.QueryRowContext(ctx,
		"SELECT count(*) FROM pages p WHERE "+where,
		q.Text, q.WorkspaceID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT p.id, p.workspace_id, p.title, p.emoji,
			ts_headline('simple', p.title, %s, 'StartSel=<mark>,StopSel=</mark>') AS snippet
		FROM pages p
		WHERE %s
		ORDER BY ts_rank(%s, %s) DESC, p.updated_at DESC, p.id
		LIMIT $3 OFFSET $4`, tsQuery, where, pageVector, tsQuery),
		q.Text, q.WorkspaceID, q.Limit, q.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.PageID, &r.WorkspaceID, &r.Title, &r.Emoji, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllPages returns every page for a full reindex.
func (p *PgFTS) LoadAllPages(ctx context.Context) ([]PageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, workspace_id, title, emoji FROM pages`)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	defer rows.Close()

	pages := make([]PageRecord, 0)
	for rows.Next() {
		var page PageRecord
		if err := rows.Scan(&page.ID, &page.WorkspaceID, &page.Title, &page.Emoji); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}
