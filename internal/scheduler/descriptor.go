package scheduler

import (
	"os"
	"time"

	"github.com/google/uuid"
)

// DefaultJobName identifies the session cleanup job in the scheduler's
// status table.
const DefaultJobName = "session-cleanup"

// JobDescriptor identifies one scheduled invocation of a job, as handed over
// by the external scheduler.
type JobDescriptor struct {
	RunID       string
	JobName     string
	ScheduledAt time.Time
}

// NewJobDescriptorFromEnv builds the descriptor from the environment the
// scheduler sets (JOB_RUN_ID, JOB_NAME). A missing run id gets a generated
// one so ad-hoc invocations still produce a traceable status row.
func NewJobDescriptorFromEnv() JobDescriptor {
	runID := os.Getenv("JOB_RUN_ID")
	if runID == "" {
		runID = uuid.NewString()
	}

	jobName := os.Getenv("JOB_NAME")
	if jobName == "" {
		jobName = DefaultJobName
	}

	return JobDescriptor{
		RunID:       runID,
		JobName:     jobName,
		ScheduledAt: time.Now().UTC(),
	}
}
