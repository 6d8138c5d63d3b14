package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/runbook/internal/interfaces"
	"github.com/ternarybob/runbook/internal/models"
)

// Manager owns job record lifecycle: creation, the status state machine and
// deletion. Every status write goes through Transition, which serializes
// writes per job and enforces the monotonic lifecycle, so concurrent engine
// callbacks and cancellation cannot interleave into an illegal state.
type Manager struct {
	storage    interfaces.JobStorage
	logStorage interfaces.JobLogStorage
	logger     arbor.ILogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a job record manager
func NewManager(storage interfaces.JobStorage, logStorage interfaces.JobLogStorage, logger arbor.ILogger) *Manager {
	return &Manager{
		storage:    storage,
		logStorage: logStorage,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
	}
}

// jobLock returns the mutex serializing writes for one job ID
func (m *Manager) jobLock(jobID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[jobID] = lock
	}
	return lock
}

// releaseLock drops a job's write lock once the record is gone
func (m *Manager) releaseLock(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, jobID)
}

// Create validates and persists a new job record
func (m *Manager) Create(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if err := m.storage.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	m.logger.Debug().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("playbook", job.PlaybookRef).
		Msg("Job created")
	return nil
}

// Get returns a job by ID
func (m *Manager) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return m.storage.GetJob(ctx, jobID)
}

// List returns jobs matching the filter options
func (m *Manager) List(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	return m.storage.ListJobs(ctx, opts)
}

// ListChildren returns a batch's children in creation order
func (m *Manager) ListChildren(ctx context.Context, parentID string) ([]*models.Job, error) {
	return m.storage.GetChildJobs(ctx, parentID)
}

// Transition moves a job to the next status under the job's write lock.
// A transition to the job's current status is a no-op, which makes duplicate
// engine callbacks harmless. Any other regression or terminal escape returns
// ErrIllegalTransition and leaves the record untouched.
func (m *Manager) Transition(ctx context.Context, jobID string, next models.JobStatus, errorMsg string) (*models.Job, error) {
	lock := m.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status == next {
		return job, nil
	}

	if !job.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: job %s cannot move %s -> %s",
			models.ErrIllegalTransition, jobID, job.Status, next)
	}

	switch next {
	case models.JobStatusRunning:
		job.MarkRunning()
	case models.JobStatusSuccess, models.JobStatusFailed, models.JobStatusCancelled:
		job.MarkTerminal(next, errorMsg)
	default:
		return nil, fmt.Errorf("%w: job %s cannot move %s -> %s",
			models.ErrIllegalTransition, jobID, job.Status, next)
	}

	if err := m.storage.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist transition for job %s: %w", jobID, err)
	}

	m.logger.Debug().
		Str("job_id", jobID).
		Str("status", string(next)).
		Msg("Job transitioned")
	return job, nil
}

// SetExternalRef records the engine's task handle after dispatch
func (m *Manager) SetExternalRef(ctx context.Context, jobID, externalRef string) error {
	lock := m.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.ExternalRef = externalRef
	return m.storage.SaveJob(ctx, job)
}

// SetCancelRequested records cancellation intent without changing status
func (m *Manager) SetCancelRequested(ctx context.Context, jobID string) error {
	lock := m.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.CancelRequested {
		return nil
	}
	job.CancelRequested = true
	return m.storage.SaveJob(ctx, job)
}

// Delete removes a job, its children and all captured logs. Only terminal
// jobs can be deleted; active batches must be cancelled first.
func (m *Manager) Delete(ctx context.Context, jobID string) error {
	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("cannot delete job %s in non-terminal status %s", jobID, job.Status)
	}

	if job.IsBatch() {
		children, err := m.storage.GetChildJobs(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to list children of job %s: %w", jobID, err)
		}
		for _, child := range children {
			if err := m.deleteOne(ctx, child.ID); err != nil {
				return err
			}
		}
	}

	return m.deleteOne(ctx, jobID)
}

func (m *Manager) deleteOne(ctx context.Context, jobID string) error {
	if err := m.logStorage.DeleteLines(ctx, jobID); err != nil {
		return fmt.Errorf("failed to delete logs for job %s: %w", jobID, err)
	}
	if err := m.storage.DeleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}
	m.releaseLock(jobID)
	m.logger.Debug().Str("job_id", jobID).Msg("Job deleted")
	return nil
}

// Stats aggregates job counts per status
func (m *Manager) Stats(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int)
	for _, status := range []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusRunning,
		models.JobStatusSuccess,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	} {
		count, err := m.storage.CountJobsByStatus(ctx, string(status))
		if err != nil {
			return nil, fmt.Errorf("failed to count %s jobs: %w", status, err)
		}
		stats[string(status)] = count
	}
	return stats, nil
}
