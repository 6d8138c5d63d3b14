package interfaces

import (
	"context"

	"github.com/ternarybob/runbook/internal/models"
)

// BatchRequest is the inbound request to run a playbook across targets
type BatchRequest struct {
	PlaybookRef string            `json:"playbook_ref" validate:"required"`
	TargetRefs  []string          `json:"target_refs" validate:"required,min=1"`
	RequestedBy string            `json:"requested_by"`
	ExtraParams map[string]string `json:"extra_params,omitempty"`

	// Config is validated by the orchestrator after defaults are applied,
	// not as part of request shape validation.
	Config models.BatchConfig `json:"config" validate:"-"`
}

// LeafRequest is the inbound request for a single-target execution
type LeafRequest struct {
	PlaybookRef string            `json:"playbook_ref" validate:"required"`
	TargetRef   string            `json:"target_ref" validate:"required"`
	RequestedBy string            `json:"requested_by"`
	ExtraParams map[string]string `json:"extra_params,omitempty"`
}

// Orchestrator coordinates batch execution end to end: it creates job
// records, admits children within the concurrency limit, reacts to engine
// callbacks and applies cancellation policy.
type Orchestrator interface {
	ExecutionCallback

	// CreateBatch validates the request, creates the parent and all child
	// records eagerly, and admits the first children.
	CreateBatch(ctx context.Context, req BatchRequest) (*models.Job, error)

	// CreateLeaf creates and immediately dispatches a standalone leaf job.
	CreateLeaf(ctx context.Context, req LeafRequest) (*models.Job, error)

	// Cancel cancels a leaf or an entire batch. Pending children are
	// cancelled synchronously; running work is cancelled cooperatively.
	Cancel(ctx context.Context, jobID string) error
}
