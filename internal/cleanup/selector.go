package cleanup

import (
	"context"
	"time"
)

// Selector lists candidate tokens older than an absolute retention cutoff,
// one page at a time. The cutoff is computed once when the selector is
// created so every page of the run sees the same snapshot boundary.
type Selector struct {
	store     StoreInterface
	cutoff    time.Time
	batchSize int
	afterID   string
	exhausted bool
}

// NewSelector creates a selector for tokens created strictly before
// now - retention.
func NewSelector(store StoreInterface, now time.Time, retention time.Duration, batchSize int) *Selector {
	return &Selector{
		store:     store,
		cutoff:    now.Add(-retention),
		batchSize: batchSize,
	}
}

// Cutoff returns the absolute cutoff used for this run.
func (s *Selector) Cutoff() time.Time {
	return s.cutoff
}

// Next returns the next page of candidates, or nil when the backlog is
// exhausted. A listing failure is fatal to the run and returned as a
// *SelectionError.
func (s *Selector) Next(ctx context.Context) ([]Token, error) {
	if s.exhausted {
		return nil, nil
	}

	tokens, err := s.store.ListExpiredTokens(ctx, s.cutoff, s.afterID, s.batchSize)
	if err != nil {
		return nil, &SelectionError{Err: err}
	}

	if len(tokens) == 0 {
		s.exhausted = true
		return nil, nil
	}

	s.afterID = tokens[len(tokens)-1].ID
	if len(tokens) < s.batchSize {
		s.exhausted = true
	}

	return tokens, nil
}
