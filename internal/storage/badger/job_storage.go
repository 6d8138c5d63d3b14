package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/runbook/internal/interfaces"
	"github.com/ternarybob/runbook/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(models.JobStatus(opts.Status))
		}
		if opts.Kind != "" {
			query = query.And("Kind").Eq(models.JobKind(opts.Kind))
		}
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query.SortBy("CreatedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	// Parent filtering happens in code: pointer-field matching is
	// unreliable across badgerhold versions.
	result := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		if opts != nil && opts.ParentID != "" {
			if opts.ParentID == "root" {
				if jobs[i].ParentID != nil {
					continue
				}
			} else if jobs[i].ParentID == nil || *jobs[i].ParentID != opts.ParentID {
				continue
			}
		}
		result = append(result, &jobs[i])
	}

	if opts != nil {
		if opts.Offset > 0 {
			if opts.Offset >= len(result) {
				return []*models.Job{}, nil
			}
			result = result[opts.Offset:]
		}
		if opts.Limit > 0 && opts.Limit < len(result) {
			result = result[:opts.Limit]
		}
	}
	return result, nil
}

func (s *JobStorage) GetChildJobs(ctx context.Context, parentID string) ([]*models.Job, error) {
	var all []models.Job
	if err := s.db.Store().Find(&all, badgerhold.Where("ID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to get child jobs: %w", err)
	}

	var jobs []models.Job
	for _, j := range all {
		if j.ParentID != nil && *j.ParentID == parentID {
			jobs = append(jobs, j)
		}
	}

	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Seq < jobs[k].Seq })

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) CountJobsByStatus(ctx context.Context, status string) (int, error) {
	count, err := s.db.Store().Count(&models.Job{}, badgerhold.Where("Status").Eq(models.JobStatus(status)))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}

func (s *JobStorage) ListTerminalJobsOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("ID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	var result []*models.Job
	for i := range jobs {
		j := &jobs[i]
		if j.ParentID != nil {
			continue // Children are swept with their parent
		}
		if !j.Status.IsTerminal() || j.CompletedAt == nil {
			continue
		}
		if j.CompletedAt.Before(cutoff) {
			result = append(result, j)
		}
	}
	return result, nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.Job{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}
