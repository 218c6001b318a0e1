package service

import (
	"context"

	"github.com/c360studio/semvocab/provisional"
)

// AddTerm creates a provisional term and announces the new snapshot.
func (s *Service) AddTerm(ctx context.Context, actor provisional.Actor, req provisional.Request) (provisional.Created, error) {
	created, err := s.registry.Add(ctx, actor, req)
	s.metrics.ProvisionalOp("add", err)
	if err != nil {
		return provisional.Created{}, err
	}
	s.announce(ctx, ReasonProvisional)
	if t, ok := s.registry.Get(created.ProvisionalID); ok {
		s.publishTerm(ctx, t)
	}
	return created, nil
}

// UpdateTerm edits a provisional term and announces the new snapshot.
func (s *Service) UpdateTerm(ctx context.Context, actor provisional.Actor, t provisional.Term) (provisional.Term, error) {
	updated, err := s.registry.Update(ctx, actor, t)
	s.metrics.ProvisionalOp("update", err)
	if err != nil {
		return provisional.Term{}, err
	}
	s.announce(ctx, ReasonProvisional)
	s.publishTerm(ctx, updated)
	return updated, nil
}

// DeleteTerms deletes a batch of provisional terms. The snapshot is
// announced whenever at least one term was removed, even if the batch
// stopped on an error.
func (s *Service) DeleteTerms(ctx context.Context, actor provisional.Actor, ids []int64) (provisional.DeleteResult, error) {
	result, err := s.registry.Delete(ctx, actor, ids)
	s.metrics.ProvisionalOp("delete", err)
	if len(result.Deleted) > 0 {
		s.announce(ctx, ReasonProvisional)
	}
	for _, id := range result.Deleted {
		if nerr := s.notify.TermDeleted(ctx, id); nerr != nil {
			s.logger.Warn("Failed to publish term deletion", "id", id, "error", nerr)
		}
	}
	return result, err
}

func (s *Service) publishTerm(ctx context.Context, t provisional.Term) {
	if err := s.notify.TermChanged(ctx, t); err != nil {
		s.logger.Warn("Failed to publish term entity",
			"id", t.ProvisionalID,
			"uri", t.URI,
			"error", err)
	}
}
