package cleanup

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/FormVault/intake-service/internal/messaging"
	"github.com/FormVault/intake-service/internal/telemetry"
)

// Service runs the session cleanup job: select candidates past the retention
// cutoff, classify each as live or orphaned, and delete accordingly.
type Service struct {
	store     StoreInterface
	publisher messaging.PublisherInterface
	metrics   *telemetry.Metrics
	cfg       Config
}

// NewService creates a cleanup service. Both publisher and metrics may be
// nil; events and metrics are then skipped.
func NewService(store StoreInterface, publisher messaging.PublisherInterface, metrics *telemetry.Metrics, cfg Config) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// CountExpired returns how many tokens are currently past the retention
// cutoff, without deleting anything.
func (s *Service) CountExpired(ctx context.Context, now time.Time) (int, error) {
	count, err := s.store.CountExpiredTokens(ctx, now.Add(-s.cfg.Retention))
	if err != nil {
		return 0, &SelectionError{Err: err}
	}
	return count, nil
}

type candidateResult int

const (
	resultDeleted candidateResult = iota
	resultSkippedLive
	resultError
)

// Run executes one cleanup run and returns its summary. A non-nil error
// means the run itself failed and must be reported as such; per-candidate
// failures are tallied in the summary and do not fail the run.
func (s *Service) Run(ctx context.Context, runID string) (RunSummary, error) {
	if err := s.cfg.Validate(); err != nil {
		return RunSummary{}, err
	}

	started := time.Now().UTC()
	selector := NewSelector(s.store, started, s.cfg.Retention, s.cfg.BatchSize)
	classifier := NewClassifier(s.store, s.cfg.LiveStatuses)
	deleter := NewDeleter(s.store, s.publisher, s.cfg.DryRun)

	log.Printf("Starting cleanup of sessions opened before %s (run %s)",
		selector.Cutoff().Format(time.RFC3339), runID)

	var summary RunSummary
	for {
		tokens, err := selector.Next(ctx)
		if err != nil {
			return summary, err
		}
		if tokens == nil {
			break
		}

		page := s.processPage(ctx, classifier, deleter, tokens)
		summary.CandidatesSeen += page.CandidatesSeen
		summary.Deleted += page.Deleted
		summary.SkippedLive += page.SkippedLive
		summary.Errors += page.Errors
	}

	elapsed := time.Since(started)
	// A dry-run tally counts what would have been deleted, not what was;
	// it stays out of the purge counters.
	if s.metrics != nil && !s.cfg.DryRun {
		s.metrics.RecordRun(ctx, summary.CandidatesSeen, summary.Deleted, summary.SkippedLive, elapsed)
	}

	if s.cfg.FatalIfAllCandidatesFail && summary.CandidatesSeen > 0 && summary.Errors == summary.CandidatesSeen {
		return summary, fmt.Errorf("all %d candidates failed", summary.CandidatesSeen)
	}

	s.publishRunCompleted(ctx, runID, summary)
	log.Printf("Cleanup run %s finished: %d candidates, %d purged, %d live skipped, %d errors (%s)",
		runID, summary.CandidatesSeen, summary.Deleted, summary.SkippedLive, summary.Errors, elapsed.Round(time.Millisecond))

	return summary, nil
}

// processPage classifies and deletes one page of candidates using a bounded
// worker pool. Each candidate is fully handled by a single worker, so a
// cascade transaction never spans workers.
func (s *Service) processPage(ctx context.Context, classifier *Classifier, deleter *Deleter, tokens []Token) RunSummary {
	workers := s.cfg.MaxConcurrency
	if workers > len(tokens) {
		workers = len(tokens)
	}

	jobs := make(chan Token)
	results := make(chan candidateResult, len(tokens))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tok := range jobs {
				results <- s.processCandidate(ctx, classifier, deleter, tok)
			}
		}()
	}

	for _, tok := range tokens {
		jobs <- tok
	}
	close(jobs)
	wg.Wait()
	close(results)

	var page RunSummary
	for res := range results {
		page.CandidatesSeen++
		switch res {
		case resultDeleted:
			page.Deleted++
		case resultSkippedLive:
			page.SkippedLive++
		case resultError:
			page.Errors++
		}
	}
	return page
}

func (s *Service) processCandidate(ctx context.Context, classifier *Classifier, deleter *Deleter, tok Token) candidateResult {
	disp, err := classifier.Classify(ctx, tok)
	if err != nil {
		log.Printf("%v (deferred to next run)", err)
		if s.metrics != nil {
			s.metrics.RecordFailure(ctx, "classify")
		}
		return resultError
	}

	if err := deleter.Execute(ctx, tok, disp); err != nil {
		log.Printf("%v", err)
		if s.metrics != nil {
			s.metrics.RecordFailure(ctx, "delete")
		}
		return resultError
	}

	if disp.Live {
		return resultSkippedLive
	}
	return resultDeleted
}

func (s *Service) publishRunCompleted(ctx context.Context, runID string, summary RunSummary) {
	if s.publisher == nil {
		return
	}
	event := messaging.NewCleanupRunCompletedEvent(runID, summary.CandidatesSeen, summary.Deleted, summary.SkippedLive, summary.Errors)
	if err := s.publisher.Publish(ctx, messaging.EventCleanupRunCompleted, event); err != nil {
		log.Printf("Warning: failed to publish %s for run %s: %v", messaging.EventCleanupRunCompleted, runID, err)
	}
}
