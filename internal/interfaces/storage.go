package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/runbook/internal/models"
)

// JobListOptions filters job listings
type JobListOptions struct {
	Status   string // Filter by job status (empty = all)
	Kind     string // Filter by job kind (empty = all)
	ParentID string // "" = no filter, "root" = only root jobs, otherwise children of that parent
	Limit    int
	Offset   int
}

// JobStorage persists job records. All status writes go through the job
// manager; storage itself performs no invariant checks.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)
	// GetChildJobs returns a batch's children ordered by creation sequence
	GetChildJobs(ctx context.Context, parentID string) ([]*models.Job, error)
	CountJobsByStatus(ctx context.Context, status string) (int, error)
	// ListTerminalJobsOlderThan returns root jobs that reached a terminal
	// state before the cutoff (retention sweep input)
	ListTerminalJobsOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// JobLogStorage persists per-job ordered log lines
type JobLogStorage interface {
	// InsertLine stores a line under its (jobID, lineNumber) key.
	// The caller owns line-number assignment and serialization.
	InsertLine(ctx context.Context, line *models.LogLine) error
	// GetLines returns lines for a job with lineNumber >= fromLine in
	// ascending line order, up to limit (0 = no limit)
	GetLines(ctx context.Context, jobID string, fromLine, limit int) ([]models.LogLine, error)
	// MaxLineNumber returns the highest assigned line number for a job,
	// 0 when the job has no lines yet
	MaxLineNumber(ctx context.Context, jobID string) (int, error)
	CountLines(ctx context.Context, jobID string) (int, error)
	// DeleteLines removes all lines for a job (cascade on job deletion)
	DeleteLines(ctx context.Context, jobID string) error
}

// StorageManager owns the database connection and its typed stores
type StorageManager interface {
	JobStorage() JobStorage
	JobLogStorage() JobLogStorage
	Close() error
}
