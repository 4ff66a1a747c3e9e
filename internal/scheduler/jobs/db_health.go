package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/folio/pkg/database"
	"github.com/wonny/folio/pkg/logger"
)

// DBHealthJob logs connection pool statistics and fails when Postgres is unreachable
type DBHealthJob struct {
	db     *database.DB
	logger *logger.Logger
}

// NewDBHealthJob creates a new database health job
func NewDBHealthJob(db *database.DB, log *logger.Logger) *DBHealthJob {
	return &DBHealthJob{
		db:     db,
		logger: log,
	}
}

// Name returns the job name
func (j *DBHealthJob) Name() string {
	return "db_health"
}

// Schedule returns the cron schedule (every minute)
func (j *DBHealthJob) Schedule() string {
	return "0 * * * * *"
}

// Run executes the health check
func (j *DBHealthJob) Run(ctx context.Context) error {
	status, err := j.db.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("database health check: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"response_time": status.ResponseTime,
		"acquired":      status.Stats.AcquiredConns,
		"idle":          status.Stats.IdleConns,
		"total":         status.Stats.TotalConns,
	}).Debug("Database healthy")
	return nil
}
