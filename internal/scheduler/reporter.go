package scheduler

import (
	"context"

	"github.com/FormVault/intake-service/internal/cleanup"
)

// Run status values recorded in the scheduler's status table
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// StatusReporter defines the contract for reporting the terminal status of a
// run to the external scheduler. Exactly one of the two methods is invoked
// per run, on every exit path.
type StatusReporter interface {
	ReportCompleted(ctx context.Context, job JobDescriptor, summary cleanup.RunSummary) error
	ReportFailed(ctx context.Context, job JobDescriptor, runErr error) error
}

// Ensure PostgresReporter implements StatusReporter
var _ StatusReporter = (*PostgresReporter)(nil)
