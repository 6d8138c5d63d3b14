// Package retention implements the scheduled cleanup of aged job history.
// Terminal root jobs whose completion predates the retention window are
// deleted together with their children and captured logs.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/runbook/internal/interfaces"
	"github.com/ternarybob/runbook/internal/jobs"
	"github.com/ternarybob/runbook/internal/logs"
)

// Config for the retention sweeper
type Config struct {
	Schedule string        // Cron expression, e.g. "0 3 * * *"
	MaxAge   time.Duration // Jobs terminal for longer than this are deleted
}

// Service runs the retention sweep on a cron schedule
type Service struct {
	jobs       *jobs.Manager
	jobStorage interfaces.JobStorage
	logStore   *logs.Store
	logger     arbor.ILogger
	config     Config

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewService creates a retention service
func NewService(jobManager *jobs.Manager, jobStorage interfaces.JobStorage, logStore *logs.Store, logger arbor.ILogger, config Config) *Service {
	if config.MaxAge <= 0 {
		config.MaxAge = 90 * 24 * time.Hour
	}
	if config.Schedule == "" {
		config.Schedule = "0 3 * * *"
	}
	return &Service{
		jobs:       jobManager,
		jobStorage: jobStorage,
		logStore:   logStore,
		logger:     logger,
		config:     config,
		cron:       cron.New(),
	}
}

// Start schedules the sweep
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("retention service already running")
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Retention sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().
		Str("schedule", s.config.Schedule).
		Str("max_age", s.config.MaxAge.String()).
		Msg("Retention service started")
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info().Msg("Retention service stopped")
}

// Sweep deletes every root job that has been terminal for longer than the
// retention window. Returns the number of root jobs deleted.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.config.MaxAge)

	expired, err := s.jobStorage.ListTerminalJobsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired jobs: %w", err)
	}

	deleted := 0
	for _, job := range expired {
		children, err := s.jobs.ListChildren(ctx, job.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Skipping expired job")
			continue
		}
		if err := s.jobs.Delete(ctx, job.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to delete expired job")
			continue
		}
		s.logStore.Forget(job.ID)
		for _, child := range children {
			s.logStore.Forget(child.ID)
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info().
			Int("deleted", deleted).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Retention sweep completed")
	}
	return deleted, nil
}
