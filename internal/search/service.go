package search

import (
	"context"

	"planboard/api/internal/logger"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		logger.Get().WithError(err).Warn("search: meilisearch error, falling back to pgfts")
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		logger.Get().WithError(err).Error("search: pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexInteraction indexes a comment or question (fire-and-forget to
// Meilisearch). Losing an index write is acceptable; PG FTS still sees
// the row.
func (s *Service) IndexInteraction(rec InteractionRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexInteraction(rec); err != nil {
			logger.Get().WithError(err).WithField("id", rec.ID).Warn("search: index interaction")
		}
	}()
}

// DeleteInteraction removes an interaction from the search index (fire-and-forget).
func (s *Service) DeleteInteraction(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteInteraction(id); err != nil {
			logger.Get().WithError(err).WithField("id", id).Warn("search: delete interaction")
		}
	}()
}

// ReindexAllFromPG reads all interactions from PostgreSQL and pushes them
// to Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		logger.Get().WithError(err).Error("search: reindex load failed")
		return
	}
	if err := s.meili.IndexInteractions(records); err != nil {
		logger.Get().WithError(err).Error("search: reindex failed")
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
