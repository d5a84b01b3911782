package cleanup

import (
	"context"
	"time"
)

// ServiceInterface defines the contract for the session cleanup job
type ServiceInterface interface {
	CountExpired(ctx context.Context, now time.Time) (int, error)
	Run(ctx context.Context, runID string) (RunSummary, error)
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
