package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/runbook/internal/common"
	"github.com/ternarybob/runbook/internal/models"
	"github.com/ternarybob/runbook/internal/storage/memory"
)

func newTestManager() *Manager {
	store := memory.NewManager()
	return NewManager(store.JobStorage(), store.JobLogStorage(), common.GetLogger())
}

func TestCreate_RejectsInvalidJobs(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	leaf := models.NewLeafJob("deploy.yml", "", "alice", nil)
	err := mgr.Create(ctx, leaf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidSpec))

	batch := models.NewBatchJob("deploy.yml", "alice", nil, nil)
	err = mgr.Create(ctx, batch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidSpec))
}

func TestTransition_HappyPath(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	job := models.NewLeafJob("deploy.yml", "web-01", "alice", nil)
	require.NoError(t, mgr.Create(ctx, job))

	updated, err := mgr.Transition(ctx, job.ID, models.JobStatusRunning, "")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, updated.Status)
	require.NotNil(t, updated.StartedAt)

	updated, err = mgr.Transition(ctx, job.ID, models.JobStatusSuccess, "")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, updated.Status)
	require.NotNil(t, updated.CompletedAt)
}

func TestTransition_SameStatusIsNoOp(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	job := models.NewLeafJob("deploy.yml", "web-01", "alice", nil)
	require.NoError(t, mgr.Create(ctx, job))

	first, err := mgr.Transition(ctx, job.ID, models.JobStatusRunning, "")
	require.NoError(t, err)

	second, err := mgr.Transition(ctx, job.ID, models.JobStatusRunning, "")
	require.NoError(t, err)
	assert.Equal(t, first.StartedAt, second.StartedAt)
}

func TestTransition_TerminalIsAbsorbing(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	job := models.NewLeafJob("deploy.yml", "web-01", "alice", nil)
	require.NoError(t, mgr.Create(ctx, job))

	_, err := mgr.Transition(ctx, job.ID, models.JobStatusRunning, "")
	require.NoError(t, err)
	_, err = mgr.Transition(ctx, job.ID, models.JobStatusFailed, "boom")
	require.NoError(t, err)

	_, err = mgr.Transition(ctx, job.ID, models.JobStatusSuccess, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIllegalTransition))

	_, err = mgr.Transition(ctx, job.ID, models.JobStatusRunning, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIllegalTransition))

	got, err := mgr.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)
}

func TestTransition_PendingStraightToCancelled(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	job := models.NewLeafJob("deploy.yml", "web-01", "alice", nil)
	require.NoError(t, mgr.Create(ctx, job))

	updated, err := mgr.Transition(ctx, job.ID, models.JobStatusCancelled, "")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, updated.Status)
	assert.Nil(t, updated.StartedAt)
	require.NotNil(t, updated.CompletedAt)
}

func TestTransition_NotFound(t *testing.T) {
	mgr := newTestManager()
	_, err := mgr.Transition(context.Background(), "missing", models.JobStatusRunning, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrJobNotFound))
}

func TestDelete_RefusesActiveJob(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	job := models.NewLeafJob("deploy.yml", "web-01", "alice", nil)
	require.NoError(t, mgr.Create(ctx, job))
	_, err := mgr.Transition(ctx, job.ID, models.JobStatusRunning, "")
	require.NoError(t, err)

	err = mgr.Delete(ctx, job.ID)
	require.Error(t, err)
}

func TestDelete_CascadesChildrenAndLogs(t *testing.T) {
	store := memory.NewManager()
	mgr := NewManager(store.JobStorage(), store.JobLogStorage(), common.GetLogger())
	ctx := context.Background()

	cfg := &models.BatchConfig{ConcurrencyLimit: 2, Strategy: models.StrategyParallel, TargetCount: 2}
	batch := models.NewBatchJob("deploy.yml", "alice", cfg, nil)
	require.NoError(t, mgr.Create(ctx, batch))

	child1 := models.NewChildJob(batch, "web-01", 1)
	child2 := models.NewChildJob(batch, "web-02", 2)
	require.NoError(t, mgr.Create(ctx, child1))
	require.NoError(t, mgr.Create(ctx, child2))

	require.NoError(t, store.JobLogStorage().InsertLine(ctx, &models.LogLine{
		JobID: child1.ID, LineNumber: 1, Content: "starting", Level: models.LogLevelInfo,
	}))

	for _, id := range []string{child1.ID, child2.ID, batch.ID} {
		_, err := mgr.Transition(ctx, id, models.JobStatusCancelled, "")
		require.NoError(t, err)
	}

	require.NoError(t, mgr.Delete(ctx, batch.ID))

	_, err := mgr.Get(ctx, batch.ID)
	assert.True(t, errors.Is(err, models.ErrJobNotFound))
	_, err = mgr.Get(ctx, child1.ID)
	assert.True(t, errors.Is(err, models.ErrJobNotFound))

	count, err := store.JobLogStorage().CountLines(ctx, child1.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStats_CountsPerStatus(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	a := models.NewLeafJob("deploy.yml", "web-01", "alice", nil)
	b := models.NewLeafJob("deploy.yml", "web-02", "alice", nil)
	require.NoError(t, mgr.Create(ctx, a))
	require.NoError(t, mgr.Create(ctx, b))
	_, err := mgr.Transition(ctx, a.ID, models.JobStatusRunning, "")
	require.NoError(t, err)

	stats, err := mgr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["pending"])
	assert.Equal(t, 1, stats["running"])
	assert.Equal(t, 0, stats["failed"])
}
