package catalog

import (
	"context"
	"slices"

	"github.com/rs/zerolog/log"

	"homesnippets/internal/ledger"
	"homesnippets/internal/storage"
)

// Service is the only write path the process uses. Each call commits to the
// backing store, then bumps the ledger, then returns.
type Service struct {
	repo   storage.Writer
	ledger *ledger.Ledger
}

func NewService(repo storage.Writer, l *ledger.Ledger) *Service {
	return &Service{repo: repo, ledger: l}
}

func (s *Service) GetRule(ctx context.Context, id int64) (storage.MatchRule, error) {
	return s.repo.GetRule(ctx, id)
}

func (s *Service) CreateRule(ctx context.Context, r storage.MatchRule) (storage.MatchRule, error) {
	created, err := s.repo.CreateRule(ctx, r)
	if err != nil {
		return storage.MatchRule{}, err
	}
	return created, s.apply(ctx, Change{Entity: EntityRule, Op: OpCreate, ID: created.ID})
}

func (s *Service) UpdateRule(ctx context.Context, r storage.MatchRule) error {
	prev, err := s.repo.UpdateRule(ctx, r)
	if err != nil {
		return err
	}
	return s.apply(ctx, Change{Entity: EntityRule, Op: OpUpdate, ID: r.ID, Widened: !prev.SameMatch(r)})
}

func (s *Service) DeleteRule(ctx context.Context, id int64) error {
	if _, err := s.repo.DeleteRule(ctx, id); err != nil {
		return err
	}
	return s.apply(ctx, Change{Entity: EntityRule, Op: OpDelete, ID: id})
}

func (s *Service) GetSnippet(ctx context.Context, id int64) (storage.Snippet, error) {
	return s.repo.GetSnippet(ctx, id)
}

func (s *Service) CreateSnippet(ctx context.Context, sn storage.Snippet) (storage.Snippet, error) {
	created, err := s.repo.CreateSnippet(ctx, sn)
	if err != nil {
		return storage.Snippet{}, err
	}
	return created, s.apply(ctx, Change{Entity: EntitySnippet, Op: OpCreate, ID: created.ID, RuleIDs: created.RuleIDs})
}

func (s *Service) UpdateSnippet(ctx context.Context, sn storage.Snippet) error {
	prev, err := s.repo.UpdateSnippet(ctx, sn)
	if err != nil {
		return err
	}
	return s.apply(ctx, Change{Entity: EntitySnippet, Op: OpUpdate, ID: sn.ID, RuleIDs: union(prev, sn.RuleIDs)})
}

func (s *Service) DeleteSnippet(ctx context.Context, id int64) error {
	prev, err := s.repo.DeleteSnippet(ctx, id)
	if err != nil {
		return err
	}
	return s.apply(ctx, Change{Entity: EntitySnippet, Op: OpDelete, ID: id, RuleIDs: prev})
}

func (s *Service) apply(ctx context.Context, c Change) error {
	if err := Invalidate(ctx, s.ledger, c); err != nil {
		// committed but not yet visible to validators; caches may serve
		// the old state until their TTL
		log.Error().Err(err).Str("entity", string(c.Entity)).Int64("id", c.ID).Msg("ledger bump failed after commit")
		return err
	}
	log.Debug().Str("entity", string(c.Entity)).Str("op", string(c.Op)).Int64("id", c.ID).Msg("change recorded")
	return nil
}

func union(a, b []int64) []int64 {
	out := make([]int64, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	slices.Sort(out)
	return slices.Compact(out)
}
