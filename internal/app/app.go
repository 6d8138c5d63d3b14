package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/runbook/internal/common"
	"github.com/ternarybob/runbook/internal/engine"
	"github.com/ternarybob/runbook/internal/handlers"
	"github.com/ternarybob/runbook/internal/interfaces"
	"github.com/ternarybob/runbook/internal/jobs"
	"github.com/ternarybob/runbook/internal/jobs/orchestrator"
	"github.com/ternarybob/runbook/internal/logs"
	"github.com/ternarybob/runbook/internal/services/retention"
	badgerstore "github.com/ternarybob/runbook/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	JobManager     *jobs.Manager
	LogStore       *logs.Store
	Engine         interfaces.ExecutionEngine
	Orchestrator   interfaces.Orchestrator
	Retention      *retention.Service

	JobHandler    *handlers.JobHandler
	EngineHandler *handlers.EngineHandler
	StatusHandler *handlers.StatusHandler
}

// New creates the application with all dependencies wired
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	storageManager, err := badgerstore.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	jobManager := jobs.NewManager(storageManager.JobStorage(), storageManager.JobLogStorage(), logger)
	logStore := logs.NewStore(storageManager.JobStorage(), storageManager.JobLogStorage(), logger)

	engineClient := engine.NewClient(engine.Config{
		BaseURL: config.Engine.BaseURL,
		Timeout: config.Engine.RequestTimeoutDuration(),
	}, logger)

	orchestratorService := orchestrator.NewService(jobManager, logStore, engineClient, logger, orchestrator.Config{
		CancelAckTimeout: config.Orchestrator.CancelAckTimeoutDuration(),
		CancelRetries:    config.Orchestrator.CancelRetries,
		DispatchRate:     config.Orchestrator.DispatchRate,
	})

	retentionService := retention.NewService(jobManager, storageManager.JobStorage(), logStore, logger, retention.Config{
		Schedule: config.Retention.Schedule,
		MaxAge:   config.Retention.MaxAgeDuration(),
	})

	app := &App{
		Config:         config,
		Logger:         logger,
		StorageManager: storageManager,
		JobManager:     jobManager,
		LogStore:       logStore,
		Engine:         engineClient,
		Orchestrator:   orchestratorService,
		Retention:      retentionService,
		JobHandler:     handlers.NewJobHandler(orchestratorService, jobManager, logStore, logger),
		EngineHandler:  handlers.NewEngineHandler(orchestratorService, logger),
		StatusHandler:  handlers.NewStatusHandler(logger),
	}

	return app, nil
}

// Start launches background services
func (a *App) Start() error {
	if a.Config.Retention.Enabled {
		if err := a.Retention.Start(); err != nil {
			return fmt.Errorf("failed to start retention service: %w", err)
		}
	}
	return nil
}

// Shutdown stops background services and closes storage
func (a *App) Shutdown(ctx context.Context) error {
	if a.Config.Retention.Enabled {
		a.Retention.Stop()
	}
	if err := a.StorageManager.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	a.Logger.Info().Msg("Application shut down")
	return nil
}
