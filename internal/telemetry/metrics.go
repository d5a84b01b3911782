package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all custom metrics for the cleanup job
type Metrics struct {
	CandidatesSeen metric.Int64Counter
	EntitiesPurged metric.Int64Counter
	TokensExpired  metric.Int64Counter
	FailuresTotal  metric.Int64Counter
	RunDurationMs  metric.Float64Histogram
}

// InitMetrics initializes all custom metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("github.com/FormVault/intake-service")

	candidatesSeen, err := meter.Int64Counter(
		"cleanup_candidates_total",
		metric.WithDescription("Total number of candidate tokens examined"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	entitiesPurged, err := meter.Int64Counter(
		"cleanup_entities_purged_total",
		metric.WithDescription("Total number of orphaned entities permanently deleted"),
		metric.WithUnit("{entity}"),
	)
	if err != nil {
		return nil, err
	}

	tokensExpired, err := meter.Int64Counter(
		"cleanup_tokens_expired_total",
		metric.WithDescription("Total number of tokens removed for live entities"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	failuresTotal, err := meter.Int64Counter(
		"cleanup_failures_total",
		metric.WithDescription("Total number of per-candidate failures by stage"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	runDurationMs, err := meter.Float64Histogram(
		"cleanup_run_duration_milliseconds",
		metric.WithDescription("Cleanup run duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	log.Println("✓ Cleanup job metrics initialized")

	return &Metrics{
		CandidatesSeen: candidatesSeen,
		EntitiesPurged: entitiesPurged,
		TokensExpired:  tokensExpired,
		FailuresTotal:  failuresTotal,
		RunDurationMs:  runDurationMs,
	}, nil
}

// RecordRun records the terminal tally of one cleanup run. Per-candidate
// failures are recorded as they happen via RecordFailure.
func (m *Metrics) RecordRun(ctx context.Context, candidates, deleted, skippedLive int, elapsed time.Duration) {
	m.CandidatesSeen.Add(ctx, int64(candidates))
	m.EntitiesPurged.Add(ctx, int64(deleted))
	m.TokensExpired.Add(ctx, int64(skippedLive))
	m.RunDurationMs.Record(ctx, float64(elapsed.Milliseconds()))
}

// RecordFailure records a single per-candidate failure for the given stage
// ("classify" or "delete")
func (m *Metrics) RecordFailure(ctx context.Context, stage string) {
	m.FailuresTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
