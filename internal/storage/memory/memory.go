// Package memory provides an in-memory StorageManager used by tests and by
// ephemeral runs where persistence across restarts is not wanted.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/runbook/internal/interfaces"
	"github.com/ternarybob/runbook/internal/models"
)

// Manager implements interfaces.StorageManager backed by maps
type Manager struct {
	job    *jobStorage
	jobLog *jobLogStorage
}

// NewManager creates an empty in-memory storage manager
func NewManager() *Manager {
	return &Manager{
		job:    &jobStorage{jobs: make(map[string]models.Job)},
		jobLog: &jobLogStorage{lines: make(map[string][]models.LogLine)},
	}
}

func (m *Manager) JobStorage() interfaces.JobStorage       { return m.job }
func (m *Manager) JobLogStorage() interfaces.JobLogStorage { return m.jobLog }
func (m *Manager) Close() error                            { return nil }

type jobStorage struct {
	mu   sync.RWMutex
	jobs map[string]models.Job
}

func (s *jobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *jobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
	}
	return &job, nil
}

func (s *jobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Job
	for id := range s.jobs {
		job := s.jobs[id]
		if opts != nil {
			if opts.Status != "" && string(job.Status) != opts.Status {
				continue
			}
			if opts.Kind != "" && string(job.Kind) != opts.Kind {
				continue
			}
			if opts.ParentID != "" {
				if opts.ParentID == "root" {
					if job.ParentID != nil {
						continue
					}
				} else if job.ParentID == nil || *job.ParentID != opts.ParentID {
					continue
				}
			}
		}
		result = append(result, &job)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

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

func (s *jobStorage) GetChildJobs(ctx context.Context, parentID string) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Job
	for id := range s.jobs {
		job := s.jobs[id]
		if job.ParentID != nil && *job.ParentID == parentID {
			result = append(result, &job)
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].Seq < result[k].Seq })
	return result, nil
}

func (s *jobStorage) CountJobsByStatus(ctx context.Context, status string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, job := range s.jobs {
		if string(job.Status) == status {
			count++
		}
	}
	return count, nil
}

func (s *jobStorage) ListTerminalJobsOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Job
	for id := range s.jobs {
		job := s.jobs[id]
		if job.ParentID != nil {
			continue
		}
		if !job.Status.IsTerminal() || job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.Before(cutoff) {
			result = append(result, &job)
		}
	}
	return result, nil
}

func (s *jobStorage) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

type jobLogStorage struct {
	mu    sync.RWMutex
	lines map[string][]models.LogLine
}

func (s *jobLogStorage) InsertLine(ctx context.Context, line *models.LogLine) error {
	if line.JobID == "" {
		return fmt.Errorf("log line job ID is required")
	}
	if line.LineNumber < 1 {
		return fmt.Errorf("log line number must be positive, got %d", line.LineNumber)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.lines[line.JobID] {
		if existing.LineNumber == line.LineNumber {
			return fmt.Errorf("log line %d already exists for job %s", line.LineNumber, line.JobID)
		}
	}
	s.lines[line.JobID] = append(s.lines[line.JobID], *line)
	return nil
}

func (s *jobLogStorage) GetLines(ctx context.Context, jobID string, fromLine, limit int) ([]models.LogLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.LogLine
	for _, line := range s.lines[jobID] {
		if fromLine > 0 && line.LineNumber < fromLine {
			continue
		}
		result = append(result, line)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].LineNumber < result[k].LineNumber })
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (s *jobLogStorage) MaxLineNumber(ctx context.Context, jobID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, line := range s.lines[jobID] {
		if line.LineNumber > max {
			max = line.LineNumber
		}
	}
	return max, nil
}

func (s *jobLogStorage) CountLines(ctx context.Context, jobID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lines[jobID]), nil
}

func (s *jobLogStorage) DeleteLines(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lines, jobID)
	return nil
}
