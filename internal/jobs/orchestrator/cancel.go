package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/runbook/internal/models"
)

// Cancel cancels a leaf or an entire batch. Cancelling an already-terminal
// job is a no-op. Pending work is cancelled synchronously; running work is
// cancelled cooperatively through the engine, bounded by the ack timeout.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	if err := s.jobs.SetCancelRequested(ctx, jobID); err != nil {
		return err
	}

	if job.IsBatch() {
		return s.cancelBatch(ctx, jobID)
	}
	return s.cancelLeaf(ctx, job)
}

// cancelBatch cancels every child under the batch lock: pending children
// move to cancelled immediately, running children get a cooperative engine
// cancel. The batch itself settles once the last running child reports in.
func (s *Service) cancelBatch(ctx context.Context, batchID string) error {
	lock := s.batchLock(batchID)
	lock.Lock()
	defer lock.Unlock()

	batch, err := s.jobs.Get(ctx, batchID)
	if err != nil {
		return err
	}

	children, err := s.jobs.ListChildren(ctx, batchID)
	if err != nil {
		return err
	}

	for _, child := range children {
		switch child.Status {
		case models.JobStatusPending:
			updated, err := s.jobs.Transition(ctx, child.ID, models.JobStatusCancelled, "")
			if err != nil {
				return fmt.Errorf("failed to cancel pending child %s: %w", child.ID, err)
			}
			*child = *updated
		case models.JobStatusRunning:
			if err := s.jobs.SetCancelRequested(ctx, child.ID); err != nil {
				return err
			}
			s.requestEngineCancel(ctx, child)
		}
	}

	s.logger.Info().Str("batch_id", batchID).Msg("Batch cancellation requested")
	return s.settleLocked(ctx, batch, children)
}

// cancelLeaf cancels a single leaf. A child is handled inside its parent's
// critical section so cancellation cannot race the admission path
// dispatching the same job.
func (s *Service) cancelLeaf(ctx context.Context, job *models.Job) error {
	if job.IsChild() {
		return s.cancelChild(ctx, job.ID, job.GetParentID())
	}

	switch job.Status {
	case models.JobStatusPending:
		_, err := s.jobs.Transition(ctx, job.ID, models.JobStatusCancelled, "")
		return err
	case models.JobStatusRunning:
		s.requestEngineCancel(ctx, job)
	}
	return nil
}

// cancelChild cancels one child under the batch lock. The status is re-read
// under the lock: admission may have dispatched the child since the caller
// looked, in which case the cancel goes through the engine instead.
func (s *Service) cancelChild(ctx context.Context, jobID, batchID string) error {
	lock := s.batchLock(batchID)
	lock.Lock()
	defer lock.Unlock()

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.Status {
	case models.JobStatusPending:
		if _, err := s.jobs.Transition(ctx, jobID, models.JobStatusCancelled, ""); err != nil {
			return err
		}
	case models.JobStatusRunning:
		s.requestEngineCancel(ctx, job)
		return nil
	default:
		return nil
	}

	batch, err := s.jobs.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status.IsTerminal() {
		return nil
	}
	children, err := s.jobs.ListChildren(ctx, batchID)
	if err != nil {
		return err
	}
	if err := s.settleLocked(ctx, batch, children); err != nil {
		return err
	}
	return s.admitLocked(ctx, batchID)
}

// requestEngineCancel asks the engine to stop a running job and arms the
// acknowledgment watchdog. If no terminal callback arrives within the ack
// timeout the job is marked cancelled locally so it cannot stay running
// forever on a lost engine.
func (s *Service) requestEngineCancel(ctx context.Context, job *models.Job) {
	ack := s.registerCancelAck(job.ID)

	go func() {
		var lastErr error
		for attempt := 1; attempt <= s.config.CancelRetries; attempt++ {
			if err := s.engine.RequestCancel(context.Background(), job.ExternalRef); err != nil {
				lastErr = err
				time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
				continue
			}
			lastErr = nil
			break
		}
		if lastErr != nil {
			s.logger.Warn().Err(lastErr).
				Str("job_id", job.ID).
				Str("external_ref", job.ExternalRef).
				Msg("Engine cancel request failed after retries")
		}

		select {
		case <-ack:
			// Terminal callback arrived; nothing left to force.
		case <-time.After(s.config.CancelAckTimeout):
			s.forceCancel(job.ID)
		}
		s.dropCancelAck(job.ID)
	}()
}

// forceCancel marks a job cancelled after the engine failed to acknowledge
// within the timeout
func (s *Service) forceCancel(jobID string) {
	ctx := context.Background()

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil || job.Status.IsTerminal() {
		return
	}

	msg := fmt.Sprintf("%v after %s", models.ErrCancelAckTimeout, s.config.CancelAckTimeout)
	if _, err := s.jobs.Transition(ctx, jobID, models.JobStatusCancelled, msg); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to force-cancel job")
		return
	}

	s.logger.Warn().
		Str("job_id", jobID).
		Str("timeout", s.config.CancelAckTimeout.String()).
		Msg("Cancel acknowledgment timed out; job marked cancelled locally")

	if job.IsChild() {
		if err := s.onChildTerminal(ctx, job.GetParentID()); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("Batch settle after forced cancel failed")
		}
	}
}

func (s *Service) registerCancelAck(jobID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.cancelAcks[jobID]; ok {
		return ch
	}
	ch := make(chan struct{})
	s.cancelAcks[jobID] = ch
	return ch
}

// ackCancel unblocks a waiting cancel watchdog. Safe to call for jobs with
// no cancel in flight.
func (s *Service) ackCancel(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.cancelAcks[jobID]; ok {
		close(ch)
		delete(s.cancelAcks, jobID)
	}
}

func (s *Service) dropCancelAck(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancelAcks, jobID)
}
