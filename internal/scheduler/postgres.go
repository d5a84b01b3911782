package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FormVault/intake-service/internal/cleanup"
)

// PostgresReporter writes the run status to the scheduler's job_runs table.
type PostgresReporter struct {
	db *sql.DB
}

// NewPostgresReporter creates a new status reporter.
func NewPostgresReporter(db *sql.DB) *PostgresReporter {
	return &PostgresReporter{db: db}
}

func (r *PostgresReporter) ReportCompleted(ctx context.Context, job JobDescriptor, summary cleanup.RunSummary) error {
	return r.report(ctx, job, StatusCompleted, summary, "")
}

func (r *PostgresReporter) ReportFailed(ctx context.Context, job JobDescriptor, runErr error) error {
	message := ""
	if runErr != nil {
		message = runErr.Error()
	}
	return r.report(ctx, job, StatusFailed, cleanup.RunSummary{}, message)
}

func (r *PostgresReporter) report(ctx context.Context, job JobDescriptor, status string, summary cleanup.RunSummary, message string) error {
	// Upsert on run_id: a retried invocation with the same run id overwrites
	// its previous status instead of leaving two terminal rows.
	query := `
		INSERT INTO intake.job_runs
		(run_id, job_name, status, candidates_seen, deleted, skipped_live, errors, message, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			candidates_seen = EXCLUDED.candidates_seen,
			deleted = EXCLUDED.deleted,
			skipped_live = EXCLUDED.skipped_live,
			errors = EXCLUDED.errors,
			message = EXCLUDED.message,
			finished_at = EXCLUDED.finished_at
	`
	_, err := r.db.ExecContext(ctx, query,
		job.RunID,
		job.JobName,
		status,
		summary.CandidatesSeen,
		summary.Deleted,
		summary.SkippedLive,
		summary.Errors,
		message,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s status for run %s: %w", status, job.RunID, err)
	}
	return nil
}
