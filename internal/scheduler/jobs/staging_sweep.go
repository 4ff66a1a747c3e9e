package jobs

import (
	"context"

	"github.com/wonny/folio/internal/staging"
	"github.com/wonny/folio/pkg/logger"
)

// StagingSweepJob evicts expired staging buffers held in process memory
type StagingSweepJob struct {
	buffer *staging.Buffer
	logger *logger.Logger
}

// NewStagingSweepJob creates a new staging sweep job
func NewStagingSweepJob(buffer *staging.Buffer, log *logger.Logger) *StagingSweepJob {
	return &StagingSweepJob{
		buffer: buffer,
		logger: log,
	}
}

// Name returns the job name
func (j *StagingSweepJob) Name() string {
	return "staging_sweep"
}

// Schedule returns the cron schedule (every 5 minutes)
func (j *StagingSweepJob) Schedule() string {
	return "0 */5 * * * *"
}

// Run executes the sweep
func (j *StagingSweepJob) Run(ctx context.Context) error {
	if count := j.buffer.Sweep(); count > 0 {
		j.logger.WithField("removed", count).Info("Staging sweep completed")
	}
	return nil
}
