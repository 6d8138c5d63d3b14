// Package logs implements ordered per-job log capture. Appends for one job
// are serialized so line numbers are dense and strictly increasing, which is
// what makes offset-based polling resumable for API clients.
package logs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/runbook/internal/interfaces"
	"github.com/ternarybob/runbook/internal/models"
)

// Entry is one log line as returned to readers. Batch reads attribute each
// line to the child that produced it.
type Entry struct {
	models.LogLine
	TargetRef string `json:"target_ref,omitempty"`
	ChildSeq  int    `json:"child_seq,omitempty"`
}

// Page is a bounded read result. NextOffset is the offset to pass on the
// next poll to continue where this page ended. NextCursor names the last
// line of the page; unlike the positional offset it stays valid for a batch
// whose earlier children are still appending, so tailing clients should
// resume with it.
type Page struct {
	Entries    []Entry `json:"entries"`
	NextOffset int     `json:"next_offset"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

type jobAppendState struct {
	mu       sync.Mutex
	nextLine int // 0 = not yet loaded from storage
}

// Store coordinates log writes and reads over the log storage
type Store struct {
	jobStorage interfaces.JobStorage
	logStorage interfaces.JobLogStorage
	logger     arbor.ILogger

	mu     sync.Mutex
	states map[string]*jobAppendState
}

// NewStore creates a log store
func NewStore(jobStorage interfaces.JobStorage, logStorage interfaces.JobLogStorage, logger arbor.ILogger) *Store {
	return &Store{
		jobStorage: jobStorage,
		logStorage: logStorage,
		logger:     logger,
		states:     make(map[string]*jobAppendState),
	}
}

func (s *Store) appendState(jobID string) *jobAppendState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[jobID]
	if !ok {
		state = &jobAppendState{}
		s.states[jobID] = state
	}
	return state
}

// Append assigns the next line number for the job and persists the line.
// Appends for one job are serialized; appends for different jobs are not.
func (s *Store) Append(ctx context.Context, jobID, content, level string) error {
	state := s.appendState(jobID)
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.nextLine == 0 {
		max, err := s.logStorage.MaxLineNumber(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to resolve next line for job %s: %w", jobID, err)
		}
		state.nextLine = max + 1
	}

	line := &models.LogLine{
		JobID:      jobID,
		LineNumber: state.nextLine,
		Content:    content,
		Level:      models.NormalizeLogLevel(level),
		Timestamp:  time.Now().UTC(),
	}
	if err := s.logStorage.InsertLine(ctx, line); err != nil {
		return fmt.Errorf("failed to append log line for job %s: %w", jobID, err)
	}
	state.nextLine++
	return nil
}

// Read returns a page of log lines for a job starting after offset lines.
// For a leaf job offset maps directly onto line numbers. For a batch job the
// children's lines are merged ordered by (child sequence, line number) and
// offset indexes into that merged sequence.
func (s *Store) Read(ctx context.Context, jobID string, offset, limit int) (*Page, error) {
	if offset < 0 {
		offset = 0
	}

	job, err := s.jobStorage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !job.IsBatch() {
		return s.readLeaf(ctx, job, offset, limit)
	}
	return s.readBatch(ctx, job, offset, limit)
}

// ReadAfter returns the page of lines strictly after the given cursor; the
// empty cursor reads from the start. A cursor names a line, not a position,
// so it stays stable while earlier children of a batch are still appending:
// a consumed line is never re-served and an unread later line never shifts
// out from under the client, which a positional offset cannot guarantee
// until every child has gone quiet.
func (s *Store) ReadAfter(ctx context.Context, jobID, cursor string, limit int) (*Page, error) {
	job, err := s.jobStorage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	afterSeq, afterLine := 0, 0
	if cursor != "" {
		if afterSeq, afterLine, err = parseCursor(cursor); err != nil {
			return nil, err
		}
	}

	if !job.IsBatch() {
		return s.readLeaf(ctx, job, afterLine, limit)
	}
	return s.readBatchAfter(ctx, job, afterSeq, afterLine, limit)
}

// parseCursor decodes a cursor token: "lineNumber" for a leaf,
// "childSeq:lineNumber" for a batch.
func parseCursor(cursor string) (childSeq, lineNumber int, err error) {
	seqPart, linePart, isBatch := strings.Cut(cursor, ":")
	if !isBatch {
		line, err := strconv.Atoi(cursor)
		if err != nil || line < 0 {
			return 0, 0, fmt.Errorf("%w: malformed log cursor %q", models.ErrInvalidSpec, cursor)
		}
		return 0, line, nil
	}

	seq, serr := strconv.Atoi(seqPart)
	line, lerr := strconv.Atoi(linePart)
	if serr != nil || lerr != nil || seq < 0 || line < 0 {
		return 0, 0, fmt.Errorf("%w: malformed log cursor %q", models.ErrInvalidSpec, cursor)
	}
	return seq, line, nil
}

func (s *Store) readLeaf(ctx context.Context, job *models.Job, offset, limit int) (*Page, error) {
	lines, err := s.logStorage.GetLines(ctx, job.ID, offset+1, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs for job %s: %w", job.ID, err)
	}

	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		entries = append(entries, Entry{LogLine: line, TargetRef: job.TargetRef})
	}

	// Leaf line numbers are dense, so the consumed count doubles as the
	// cursor of the last consumed line.
	page := &Page{Entries: entries, NextOffset: offset + len(entries)}
	page.NextCursor = strconv.Itoa(page.NextOffset)
	return page, nil
}

// readBatch merges every child's lines into one stable sequence. Lines from
// earlier children sort first; within a child, line order is preserved.
func (s *Store) readBatch(ctx context.Context, job *models.Job, offset, limit int) (*Page, error) {
	merged, err := s.mergedChildLines(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	if offset >= len(merged) {
		return &Page{Entries: []Entry{}, NextOffset: offset}, nil
	}
	merged = merged[offset:]
	if limit > 0 && limit < len(merged) {
		merged = merged[:limit]
	}

	page := &Page{Entries: merged, NextOffset: offset + len(merged)}
	if n := len(merged); n > 0 {
		page.NextCursor = batchCursor(merged[n-1])
	}
	return page, nil
}

func (s *Store) readBatchAfter(ctx context.Context, job *models.Job, afterSeq, afterLine, limit int) (*Page, error) {
	merged, err := s.mergedChildLines(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	start := sort.Search(len(merged), func(i int) bool {
		if merged[i].ChildSeq != afterSeq {
			return merged[i].ChildSeq > afterSeq
		}
		return merged[i].LineNumber > afterLine
	})

	entries := merged[start:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []Entry{}
	}

	page := &Page{
		Entries:    entries,
		NextOffset: start + len(entries),
		NextCursor: fmt.Sprintf("%d:%d", afterSeq, afterLine),
	}
	if n := len(entries); n > 0 {
		page.NextCursor = batchCursor(entries[n-1])
	}
	return page, nil
}

func batchCursor(e Entry) string {
	return fmt.Sprintf("%d:%d", e.ChildSeq, e.LineNumber)
}

func (s *Store) mergedChildLines(ctx context.Context, batchID string) ([]Entry, error) {
	children, err := s.jobStorage.GetChildJobs(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children for job %s: %w", batchID, err)
	}

	var merged []Entry
	for _, child := range children {
		lines, err := s.logStorage.GetLines(ctx, child.ID, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to read logs for child %s: %w", child.ID, err)
		}
		for _, line := range lines {
			merged = append(merged, Entry{LogLine: line, TargetRef: child.TargetRef, ChildSeq: child.Seq})
		}
	}

	sort.SliceStable(merged, func(i, k int) bool {
		if merged[i].ChildSeq != merged[k].ChildSeq {
			return merged[i].ChildSeq < merged[k].ChildSeq
		}
		return merged[i].LineNumber < merged[k].LineNumber
	})
	return merged, nil
}

// Count returns the number of stored lines for a single job
func (s *Store) Count(ctx context.Context, jobID string) (int, error) {
	return s.logStorage.CountLines(ctx, jobID)
}

// Forget drops the cached append state for a job. Called after deletion so
// the map does not grow without bound.
func (s *Store) Forget(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, jobID)
}
