package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/runbook/internal/models"
)

// admitLocked fills the batch's free concurrency slots with pending children
// in creation order. Caller must hold the batch lock.
//
// Admission stops early when the batch has been cancelled or when
// stopOnFailure policy already tripped; in both cases remaining pending
// children are left for the cancellation path to sweep.
func (s *Service) admitLocked(ctx context.Context, batchID string) error {
	batch, err := s.jobs.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status.IsTerminal() || batch.CancelRequested {
		return nil
	}

	children, err := s.jobs.ListChildren(ctx, batchID)
	if err != nil {
		return err
	}

	if batch.BatchConfig.StopOnFailure && anyFailed(children) {
		return s.settleLocked(ctx, batch, children)
	}

	running := 0
	for _, child := range children {
		if child.Status == models.JobStatusRunning {
			running++
		}
	}

	capacity := batch.BatchConfig.EffectiveConcurrency() - running
	dispatchFailed := false
	for _, child := range children {
		if capacity <= 0 {
			break
		}
		if child.Status != models.JobStatusPending || child.CancelRequested {
			continue
		}
		if err := s.dispatch(ctx, child); err != nil {
			if errors.Is(err, models.ErrDispatchFailed) {
				// The child is already marked failed; it occupies no slot.
				dispatchFailed = true
				if batch.BatchConfig.StopOnFailure {
					break
				}
				continue
			}
			return err
		}
		capacity--
	}

	if dispatchFailed {
		children, err = s.jobs.ListChildren(ctx, batchID)
		if err != nil {
			return err
		}
		return s.settleLocked(ctx, batch, children)
	}
	return nil
}

// settleLocked applies the batch-level consequences of the current child
// states: stopOnFailure sweep of pending children, then terminal aggregation
// once no child remains active. Caller must hold the batch lock.
func (s *Service) settleLocked(ctx context.Context, batch *models.Job, children []*models.Job) error {
	if batch.Status.IsTerminal() {
		return nil
	}

	sweepPending := batch.CancelRequested ||
		(batch.BatchConfig.StopOnFailure && anyFailed(children))

	if sweepPending {
		for _, child := range children {
			if child.Status != models.JobStatusPending {
				continue
			}
			updated, err := s.jobs.Transition(ctx, child.ID, models.JobStatusCancelled, "")
			if err != nil {
				return fmt.Errorf("failed to cancel pending child %s: %w", child.ID, err)
			}
			*child = *updated
		}
	}

	for _, child := range children {
		if !child.Status.IsTerminal() {
			// Still running work; aggregation waits for its callback.
			return nil
		}
	}

	status := aggregateStatus(children)
	if _, err := s.jobs.Transition(ctx, batch.ID, status, ""); err != nil {
		return fmt.Errorf("failed to finalize batch %s: %w", batch.ID, err)
	}

	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("status", string(status)).
		Msg("Batch finished")
	return nil
}

// aggregateStatus derives a finished batch's terminal status from its
// children: any failure wins, then any cancellation, else success.
func aggregateStatus(children []*models.Job) models.JobStatus {
	hasCancelled := false
	for _, child := range children {
		switch child.Status {
		case models.JobStatusFailed:
			return models.JobStatusFailed
		case models.JobStatusCancelled:
			hasCancelled = true
		}
	}
	if hasCancelled {
		return models.JobStatusCancelled
	}
	return models.JobStatusSuccess
}

func anyFailed(children []*models.Job) bool {
	for _, child := range children {
		if child.Status == models.JobStatusFailed {
			return true
		}
	}
	return false
}
