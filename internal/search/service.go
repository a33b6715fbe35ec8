// Package search indexes published SOPs and knowledge items, Meilisearch
// first with a PostgreSQL full-text fallback.
package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Service is the facade that tries Meilisearch first and falls back to
// PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	log   zerolog.Logger
}

// NewService creates a search service. meili may be nil when Meilisearch
// is not configured.
func NewService(meili *Meili, pgfts *PgFTS, log zerolog.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: log}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexSOP indexes a published SOP (fire-and-forget to Meilisearch).
func (s *Service) IndexSOP(rec SOPRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexSOP(rec); err != nil {
			s.log.Warn().Err(err).Str("sop_id", rec.ID).Msg("index sop failed")
		}
	}()
}

// DeleteSOP removes a SOP from the search index (fire-and-forget).
func (s *Service) DeleteSOP(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteSOP(id); err != nil {
			s.log.Warn().Err(err).Str("sop_id", id).Msg("delete sop from index failed")
		}
	}()
}

// IndexKnowledgeItem indexes a knowledge item (fire-and-forget).
func (s *Service) IndexKnowledgeItem(rec KnowledgeRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexKnowledgeItem(rec); err != nil {
			s.log.Warn().Err(err).Str("item_id", rec.ID).Msg("index knowledge item failed")
		}
	}()
}

// DeleteKnowledgeItem removes a knowledge item from the search index
// (fire-and-forget).
func (s *Service) DeleteKnowledgeItem(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteKnowledgeItem(id); err != nil {
			s.log.Warn().Err(err).Str("item_id", id).Msg("delete knowledge item from index failed")
		}
	}()
}

// ReindexAllFromPG reads all searchable rows from PostgreSQL and pushes
// them to Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	sops, items, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexSOPs(sops); err != nil {
		s.log.Warn().Err(err).Msg("reindex sops failed")
	}
	if err := s.meili.IndexKnowledgeItems(items); err != nil {
		s.log.Warn().Err(err).Msg("reindex knowledge items failed")
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
