package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ExecutionStrategy controls how a batch admits its children
type ExecutionStrategy string

const (
	StrategyParallel   ExecutionStrategy = "parallel"
	StrategySequential ExecutionStrategy = "sequential"
)

// BatchConfig is the typed batch configuration, validated at the API
// boundary and never passed around as an untyped map.
type BatchConfig struct {
	ConcurrencyLimit int               `json:"concurrency_limit" validate:"min=1"`
	StopOnFailure    bool              `json:"stop_on_failure"`
	Strategy         ExecutionStrategy `json:"strategy" validate:"oneof=parallel sequential"`
	TargetCount      int               `json:"target_count" validate:"min=1"`
}

var batchConfigValidator = validator.New()

// Validate checks field bounds via struct tags
func (c *BatchConfig) Validate() error {
	if err := batchConfigValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return nil
}

// EffectiveConcurrency returns the admitted concurrency for the batch.
// Sequential strategy always runs one child at a time regardless of limit.
func (c *BatchConfig) EffectiveConcurrency() int {
	if c.Strategy == StrategySequential {
		return 1
	}
	return c.ConcurrencyLimit
}
