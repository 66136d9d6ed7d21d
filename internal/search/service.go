package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Service tries the primary index first and falls back to the database.
type Service struct {
	primary  Index
	fallback Searcher
	loader   func(ctx context.Context) ([]PageRecord, error)
	log      zerolog.Logger
}

// NewService wires a search facade. primary may be nil when Meilisearch is
// not configured.
func NewService(primary Index, pgfts *PgFTS, log zerolog.Logger) *Service {
	s := &Service{primary: primary, log: log.With().Str("component", "search").Logger()}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts.LoadAllPages
	}
	return s
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("primary index failed, falling back to postgres")
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Str("workspace_id", q.WorkspaceID).Msg("postgres search failed")
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPage pushes a page to the primary index in the background.
func (s *Service) IndexPage(page PageRecord) {
	if !s.primaryReady() {
		return
	}
	go func() {
		if err := s.primary.IndexPage(page); err != nil {
			s.log.Warn().Err(err).Str("page_id", page.ID).Msg("index page")
		}
	}()
}

// ReindexAll copies every stored page into the primary index.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.primaryReady() || s.loader == nil {
		return
	}
	pages, err := s.loader(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.primary.IndexPages(pages); err != nil {
		s.log.Error().Err(err).Int("pages", len(pages)).Msg("reindex failed")
		return
	}
	s.log.Info().Int("pages", len(pages)).Msg("page index rebuilt")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
