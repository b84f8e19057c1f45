package search

import (
	"context"

	"go.uber.org/zap"
)

// Service is the facade that tries Meilisearch first and falls back to
// Postgres FTS.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, logger: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.logger.Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCase pushes a case into Meilisearch, fire-and-forget.
func (s *Service) IndexCase(c CaseRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexCase(c); err != nil {
			s.logger.Warn("index case", zap.String("case_id", c.ID), zap.Error(err))
		}
	}()
}

// IndexMilestone pushes a milestone into Meilisearch, fire-and-forget.
func (s *Service) IndexMilestone(m MilestoneRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMilestone(m); err != nil {
			s.logger.Warn("index milestone", zap.String("milestone_id", m.ID), zap.Error(err))
		}
	}()
}

// DeleteMilestone removes a milestone from the index, fire-and-forget.
func (s *Service) DeleteMilestone(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteMilestone(id); err != nil {
			s.logger.Warn("delete milestone from index", zap.String("milestone_id", id), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG reads every case and milestone from Postgres and pushes
// them into Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	cases, milestones, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", zap.Error(err))
		return
	}
	if err := s.meili.IndexCases(cases); err != nil {
		s.logger.Error("reindex cases failed", zap.Error(err))
	}
	if err := s.meili.IndexMilestones(milestones); err != nil {
		s.logger.Error("reindex milestones failed", zap.Error(err))
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
