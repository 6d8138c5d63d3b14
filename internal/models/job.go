package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobKind distinguishes single-target executions from batch containers
type JobKind string

const (
	JobKindLeaf  JobKind = "leaf"  // One playbook execution against one target server
	JobKindBatch JobKind = "batch" // Parent container fanning out to child leaf jobs
)

// IsTerminal returns true for the absorbing states
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed || s == JobStatusCancelled
}

// statusRank orders statuses along the monotonic lifecycle.
// pending < running < terminal; all terminal states share a rank.
func statusRank(s JobStatus) int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusRunning:
		return 1
	case JobStatusSuccess, JobStatusFailed, JobStatusCancelled:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next respects the
// monotonic lifecycle. A transition to the current status is allowed so
// at-least-once callback delivery stays a no-op at the call site.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if statusRank(s) < 0 || statusRank(next) < 0 {
		return false
	}
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	return statusRank(next) > statusRank(s)
}

// Job is the unit of orchestrated work. A leaf job targets exactly one
// server; a batch job has no target of its own and owns an ordered set of
// child leaf jobs that reference it via ParentID.
type Job struct {
	ID          string            `json:"id" badgerhold:"key"`
	ParentID    *string           `json:"parent_id,omitempty"`
	Kind        JobKind           `json:"kind"`
	Seq         int               `json:"seq"` // Creation order among siblings; 0 for root jobs
	PlaybookRef string            `json:"playbook_ref"`
	TargetRef   string            `json:"target_ref,omitempty"` // Leaf only
	RequestedBy string            `json:"requested_by,omitempty"`
	ExtraParams map[string]string `json:"extra_params,omitempty"`

	// ExternalRef correlates to the execution engine's task handle.
	// Empty until the job has been dispatched.
	ExternalRef string `json:"external_ref,omitempty"`

	Status          JobStatus    `json:"status"`
	BatchConfig     *BatchConfig `json:"batch_config,omitempty"` // Batch only
	CancelRequested bool         `json:"cancel_requested"`
	ErrorMessage    string       `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewLeafJob creates a standalone leaf job in pending state
func NewLeafJob(playbookRef, targetRef, requestedBy string, extraParams map[string]string) *Job {
	return &Job{
		ID:          uuid.New().String(),
		Kind:        JobKindLeaf,
		PlaybookRef: playbookRef,
		TargetRef:   targetRef,
		RequestedBy: requestedBy,
		ExtraParams: extraParams,
		Status:      JobStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// NewBatchJob creates a batch parent job in pending state
func NewBatchJob(playbookRef, requestedBy string, cfg *BatchConfig, extraParams map[string]string) *Job {
	return &Job{
		ID:          uuid.New().String(),
		Kind:        JobKindBatch,
		PlaybookRef: playbookRef,
		RequestedBy: requestedBy,
		ExtraParams: extraParams,
		Status:      JobStatusPending,
		BatchConfig: cfg,
		CreatedAt:   time.Now().UTC(),
	}
}

// NewChildJob creates a leaf job owned by a batch parent. Children inherit
// the parent's playbook reference and carry a sequence number recording
// creation order, which is also admission order for sequential batches.
func NewChildJob(parent *Job, targetRef string, seq int) *Job {
	parentID := parent.ID
	return &Job{
		ID:          uuid.New().String(),
		ParentID:    &parentID,
		Kind:        JobKindLeaf,
		Seq:         seq,
		PlaybookRef: parent.PlaybookRef,
		TargetRef:   targetRef,
		RequestedBy: parent.RequestedBy,
		ExtraParams: parent.ExtraParams,
		Status:      JobStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// IsBatch returns true for batch parent jobs
func (j *Job) IsBatch() bool {
	return j.Kind == JobKindBatch
}

// IsChild returns true for jobs created under a batch parent
func (j *Job) IsChild() bool {
	return j.ParentID != nil
}

// GetParentID returns the parent ID or empty string for root jobs
func (j *Job) GetParentID() string {
	if j.ParentID == nil {
		return ""
	}
	return *j.ParentID
}

// Validate enforces the kind-specific shape invariants
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: job ID is required", ErrInvalidSpec)
	}
	if j.PlaybookRef == "" {
		return fmt.Errorf("%w: playbook reference is required", ErrInvalidSpec)
	}
	switch j.Kind {
	case JobKindLeaf:
		if j.TargetRef == "" {
			return fmt.Errorf("%w: leaf job requires a target server", ErrInvalidSpec)
		}
		if j.BatchConfig != nil {
			return fmt.Errorf("%w: leaf job must not carry batch config", ErrInvalidSpec)
		}
	case JobKindBatch:
		if j.BatchConfig == nil {
			return fmt.Errorf("%w: batch job requires batch config", ErrInvalidSpec)
		}
		if j.TargetRef != "" {
			return fmt.Errorf("%w: batch job must not have a target server", ErrInvalidSpec)
		}
	default:
		return fmt.Errorf("%w: unknown job kind %q", ErrInvalidSpec, j.Kind)
	}
	return nil
}

// MarkRunning stamps StartedAt exactly once. Calling it again for an
// already-running job is a no-op so duplicate engine callbacks are tolerated.
func (j *Job) MarkRunning() {
	if j.Status == JobStatusRunning {
		return
	}
	j.Status = JobStatusRunning
	if j.StartedAt == nil {
		now := time.Now().UTC()
		j.StartedAt = &now
	}
}

// MarkTerminal moves the job into a terminal status and stamps CompletedAt
func (j *Job) MarkTerminal(status JobStatus, errorMsg string) {
	j.Status = status
	if errorMsg != "" {
		j.ErrorMessage = errorMsg
	}
	if j.CompletedAt == nil {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
}
