package badger

import (
	"context"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/runbook/internal/interfaces"
	"github.com/ternarybob/runbook/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobLogStorage implements the JobLogStorage interface for Badger.
// Lines are keyed "jobID_paddedLineNumber" so keys for one job sort in line
// order; ordering guarantees themselves live in the log store service, which
// serializes appends and assigns line numbers.
type JobLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobLogStorage creates a new JobLogStorage instance
func NewJobLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobLogStorage {
	return &JobLogStorage{
		db:     db,
		logger: logger,
	}
}

func lineKey(jobID string, lineNumber int) string {
	return fmt.Sprintf("%s_%010d", jobID, lineNumber)
}

func (s *JobLogStorage) InsertLine(ctx context.Context, line *models.LogLine) error {
	if line.JobID == "" {
		return fmt.Errorf("log line job ID is required")
	}
	if line.LineNumber < 1 {
		return fmt.Errorf("log line number must be positive, got %d", line.LineNumber)
	}
	if err := s.db.Store().Insert(lineKey(line.JobID, line.LineNumber), line); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("log line %d already exists for job %s", line.LineNumber, line.JobID)
		}
		return fmt.Errorf("failed to insert log line: %w", err)
	}
	return nil
}

func (s *JobLogStorage) GetLines(ctx context.Context, jobID string, fromLine, limit int) ([]models.LogLine, error) {
	query := badgerhold.Where("JobID").Eq(jobID)
	if fromLine > 0 {
		query = query.And("LineNumber").Ge(fromLine)
	}

	var lines []models.LogLine
	if err := s.db.Store().Find(&lines, query); err != nil {
		return nil, fmt.Errorf("failed to get log lines: %w", err)
	}

	sort.Slice(lines, func(i, k int) bool { return lines[i].LineNumber < lines[k].LineNumber })

	if limit > 0 && limit < len(lines) {
		lines = lines[:limit]
	}
	return lines, nil
}

func (s *JobLogStorage) MaxLineNumber(ctx context.Context, jobID string) (int, error) {
	var lines []models.LogLine
	if err := s.db.Store().Find(&lines, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return 0, fmt.Errorf("failed to scan log lines: %w", err)
	}
	max := 0
	for _, line := range lines {
		if line.LineNumber > max {
			max = line.LineNumber
		}
	}
	return max, nil
}

func (s *JobLogStorage) CountLines(ctx context.Context, jobID string) (int, error) {
	count, err := s.db.Store().Count(&models.LogLine{}, badgerhold.Where("JobID").Eq(jobID))
	if err != nil {
		return 0, fmt.Errorf("failed to count log lines: %w", err)
	}
	return int(count), nil
}

func (s *JobLogStorage) DeleteLines(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.LogLine{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete log lines: %w", err)
	}
	return nil
}
