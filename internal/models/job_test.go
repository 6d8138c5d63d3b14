package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusPending, JobStatusRunning, true},
		{JobStatusPending, JobStatusCancelled, true},
		{JobStatusPending, JobStatusFailed, true},
		{JobStatusRunning, JobStatusSuccess, true},
		{JobStatusRunning, JobStatusFailed, true},
		{JobStatusRunning, JobStatusCancelled, true},
		{JobStatusRunning, JobStatusPending, false},
		{JobStatusSuccess, JobStatusFailed, false},
		{JobStatusFailed, JobStatusRunning, false},
		{JobStatusCancelled, JobStatusSuccess, false},
		// Same-status transitions are allowed as no-ops
		{JobStatusRunning, JobStatusRunning, true},
		{JobStatusSuccess, JobStatusSuccess, true},
		// Unknown statuses never transition
		{JobStatus("bogus"), JobStatusRunning, false},
		{JobStatusPending, JobStatus("bogus"), false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestJobValidate_KindInvariants(t *testing.T) {
	cfg := &BatchConfig{ConcurrencyLimit: 2, Strategy: StrategyParallel, TargetCount: 3}

	leaf := NewLeafJob("deploy.yml", "web-01", "alice", nil)
	require.NoError(t, leaf.Validate())

	batch := NewBatchJob("deploy.yml", "alice", cfg, nil)
	require.NoError(t, batch.Validate())

	leafWithConfig := NewLeafJob("deploy.yml", "web-01", "alice", nil)
	leafWithConfig.BatchConfig = cfg
	err := leafWithConfig.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSpec))

	batchWithTarget := NewBatchJob("deploy.yml", "alice", cfg, nil)
	batchWithTarget.TargetRef = "web-01"
	require.Error(t, batchWithTarget.Validate())

	noPlaybook := NewLeafJob("", "web-01", "alice", nil)
	require.Error(t, noPlaybook.Validate())
}

func TestMarkRunning_StampsStartedAtOnce(t *testing.T) {
	job := NewLeafJob("deploy.yml", "web-01", "alice", nil)
	job.MarkRunning()
	require.NotNil(t, job.StartedAt)
	first := *job.StartedAt

	job.MarkRunning()
	assert.Equal(t, first, *job.StartedAt)
}

func TestMarkTerminal_StampsCompletedAtOnce(t *testing.T) {
	job := NewLeafJob("deploy.yml", "web-01", "alice", nil)
	job.MarkTerminal(JobStatusFailed, "boom")
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, "boom", job.ErrorMessage)
	first := *job.CompletedAt

	job.MarkTerminal(JobStatusFailed, "")
	assert.Equal(t, first, *job.CompletedAt)
	assert.Equal(t, "boom", job.ErrorMessage)
}

func TestNewChildJob_InheritsParentFields(t *testing.T) {
	cfg := &BatchConfig{ConcurrencyLimit: 2, Strategy: StrategyParallel, TargetCount: 2}
	parent := NewBatchJob("deploy.yml", "alice", cfg, map[string]string{"env": "prod"})

	child := NewChildJob(parent, "web-01", 1)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent.ID, *child.ParentID)
	assert.Equal(t, JobKindLeaf, child.Kind)
	assert.Equal(t, 1, child.Seq)
	assert.Equal(t, "deploy.yml", child.PlaybookRef)
	assert.Equal(t, "prod", child.ExtraParams["env"])
	assert.NoError(t, child.Validate())
}

func TestBatchConfigValidate(t *testing.T) {
	valid := &BatchConfig{ConcurrencyLimit: 3, Strategy: StrategyParallel, TargetCount: 5}
	require.NoError(t, valid.Validate())

	zeroLimit := &BatchConfig{ConcurrencyLimit: 0, Strategy: StrategyParallel, TargetCount: 5}
	require.Error(t, zeroLimit.Validate())

	badStrategy := &BatchConfig{ConcurrencyLimit: 1, Strategy: "rolling", TargetCount: 5}
	require.Error(t, badStrategy.Validate())
}

func TestEffectiveConcurrency(t *testing.T) {
	parallel := &BatchConfig{ConcurrencyLimit: 4, Strategy: StrategyParallel, TargetCount: 10}
	assert.Equal(t, 4, parallel.EffectiveConcurrency())

	sequential := &BatchConfig{ConcurrencyLimit: 4, Strategy: StrategySequential, TargetCount: 10}
	assert.Equal(t, 1, sequential.EffectiveConcurrency())
}

func TestNormalizeLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelWarn, NormalizeLogLevel("WARN"))
	assert.Equal(t, LogLevelError, NormalizeLogLevel("ERROR"))
	assert.Equal(t, LogLevelInfo, NormalizeLogLevel("INFO"))
	assert.Equal(t, LogLevelInfo, NormalizeLogLevel(""))
	assert.Equal(t, LogLevelInfo, NormalizeLogLevel("debugging"))
}
