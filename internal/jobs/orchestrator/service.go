// Package orchestrator coordinates batch playbook execution: fan-out of
// child jobs, bounded admission, reaction to engine callbacks, status
// aggregation and cancellation policy.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/runbook/internal/interfaces"
	"github.com/ternarybob/runbook/internal/jobs"
	"github.com/ternarybob/runbook/internal/logs"
	"github.com/ternarybob/runbook/internal/models"
	"golang.org/x/time/rate"
)

// Config tunes orchestrator behavior
type Config struct {
	// CancelAckTimeout bounds how long a cancel waits for the engine's
	// terminal acknowledgment before the job is marked cancelled locally.
	CancelAckTimeout time.Duration

	// CancelRetries is the number of RequestCancel attempts for a running job
	CancelRetries int

	// DispatchRate limits dispatches per second to the engine (0 = unlimited)
	DispatchRate float64
}

// Service implements interfaces.Orchestrator. All batch-level decisions
// (admission, aggregation, sibling cancellation) run inside the batch's
// critical section so concurrent child callbacks cannot double-admit or
// aggregate twice.
type Service struct {
	jobs    *jobs.Manager
	logs    *logs.Store
	engine  interfaces.ExecutionEngine
	logger  arbor.ILogger
	config  Config
	limiter *rate.Limiter

	validate *validator.Validate

	mu         sync.Mutex
	batchLocks map[string]*sync.Mutex
	cancelAcks map[string]chan struct{}
}

// NewService creates the batch orchestrator
func NewService(jobManager *jobs.Manager, logStore *logs.Store, engine interfaces.ExecutionEngine, logger arbor.ILogger, config Config) *Service {
	if config.CancelAckTimeout <= 0 {
		config.CancelAckTimeout = 30 * time.Second
	}
	if config.CancelRetries <= 0 {
		config.CancelRetries = 3
	}

	var limiter *rate.Limiter
	if config.DispatchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.DispatchRate), 1)
	}

	return &Service{
		jobs:       jobManager,
		logs:       logStore,
		engine:     engine,
		logger:     logger,
		config:     config,
		limiter:    limiter,
		validate:   validator.New(),
		batchLocks: make(map[string]*sync.Mutex),
		cancelAcks: make(map[string]chan struct{}),
	}
}

// batchLock returns the mutex guarding one batch's critical section
func (s *Service) batchLock(batchID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.batchLocks[batchID]
	if !ok {
		lock = &sync.Mutex{}
		s.batchLocks[batchID] = lock
	}
	return lock
}

// CreateBatch validates the request, creates the parent and all children
// eagerly in target order, then admits the first wave within the
// concurrency limit. Children hold their creation sequence so admission
// order is deterministic.
func (s *Service) CreateBatch(ctx context.Context, req interfaces.BatchRequest) (*models.Job, error) {
	if err := s.validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}

	cfg := req.Config
	cfg.TargetCount = len(req.TargetRefs)
	if cfg.Strategy == "" {
		cfg.Strategy = models.StrategyParallel
	}
	if cfg.ConcurrencyLimit == 0 {
		cfg.ConcurrencyLimit = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	batch := models.NewBatchJob(req.PlaybookRef, req.RequestedBy, &cfg, req.ExtraParams)
	if err := s.jobs.Create(ctx, batch); err != nil {
		return nil, err
	}

	for i, targetRef := range req.TargetRefs {
		child := models.NewChildJob(batch, targetRef, i+1)
		if err := s.jobs.Create(ctx, child); err != nil {
			return nil, fmt.Errorf("failed to create child for target %s: %w", targetRef, err)
		}
	}

	if _, err := s.jobs.Transition(ctx, batch.ID, models.JobStatusRunning, ""); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("playbook", batch.PlaybookRef).
		Int("targets", len(req.TargetRefs)).
		Str("strategy", string(cfg.Strategy)).
		Int("concurrency", cfg.EffectiveConcurrency()).
		Msg("Batch created")

	lock := s.batchLock(batch.ID)
	lock.Lock()
	defer lock.Unlock()
	if err := s.admitLocked(ctx, batch.ID); err != nil {
		s.logger.Warn().Err(err).Str("batch_id", batch.ID).Msg("Initial admission failed")
	}

	return s.jobs.Get(ctx, batch.ID)
}

// CreateLeaf creates and immediately dispatches a standalone leaf job.
// A dispatch failure is recorded on the job itself; the record is still
// returned so the caller can inspect the failed state.
func (s *Service) CreateLeaf(ctx context.Context, req interfaces.LeafRequest) (*models.Job, error) {
	if err := s.validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}

	job := models.NewLeafJob(req.PlaybookRef, req.TargetRef, req.RequestedBy, req.ExtraParams)
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := s.dispatch(ctx, job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Leaf dispatch failed")
	}

	return s.jobs.Get(ctx, job.ID)
}

// dispatch sends one leaf job to the engine. On success the job moves to
// running and records the engine handle; on failure it moves straight to
// failed. There is no dispatch retry: the engine owns execution retries.
func (s *Service) dispatch(ctx context.Context, job *models.Job) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("dispatch rate limiter: %w", err)
		}
	}

	externalRef, err := s.engine.Dispatch(ctx, job)
	if err != nil {
		msg := fmt.Sprintf("dispatch failed: %v", err)
		if _, terr := s.jobs.Transition(ctx, job.ID, models.JobStatusFailed, msg); terr != nil {
			s.logger.Error().Err(terr).Str("job_id", job.ID).Msg("Failed to record dispatch failure")
		}
		return fmt.Errorf("%w: job %s: %v", models.ErrDispatchFailed, job.ID, err)
	}

	if err := s.jobs.SetExternalRef(ctx, job.ID, externalRef); err != nil {
		return err
	}
	if _, err := s.jobs.Transition(ctx, job.ID, models.JobStatusRunning, ""); err != nil {
		return err
	}

	s.logger.Debug().
		Str("job_id", job.ID).
		Str("target", job.TargetRef).
		Str("external_ref", externalRef).
		Msg("Job dispatched")
	return nil
}
