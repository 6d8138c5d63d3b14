package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/runbook/internal/common"
	"github.com/ternarybob/runbook/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	job    interfaces.JobStorage
	jobLog interfaces.JobLogStorage
	logger arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		job:    NewJobStorage(db, logger),
		jobLog: NewJobLogStorage(db, logger),
		logger: logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the job record store
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// JobLogStorage returns the job log store
func (m *Manager) JobLogStorage() interfaces.JobLogStorage {
	return m.jobLog
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
