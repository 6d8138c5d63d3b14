package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/runbook/internal/common"
	"github.com/ternarybob/runbook/internal/jobs"
	"github.com/ternarybob/runbook/internal/jobs/orchestrator"
	"github.com/ternarybob/runbook/internal/logs"
	"github.com/ternarybob/runbook/internal/models"
	"github.com/ternarybob/runbook/internal/storage/memory"
)

// stubEngine accepts every dispatch and cancel
type stubEngine struct {
	count int
}

func (e *stubEngine) Dispatch(ctx context.Context, job *models.Job) (string, error) {
	e.count++
	return fmt.Sprintf("task-%d", e.count), nil
}

func (e *stubEngine) RequestCancel(ctx context.Context, externalRef string) error {
	return nil
}

type handlerFixture struct {
	jobHandler    *JobHandler
	engineHandler *EngineHandler
	manager       *jobs.Manager
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	store := memory.NewManager()
	logger := common.GetLogger()
	manager := jobs.NewManager(store.JobStorage(), store.JobLogStorage(), logger)
	logStore := logs.NewStore(store.JobStorage(), store.JobLogStorage(), logger)
	svc := orchestrator.NewService(manager, logStore, &stubEngine{}, logger, orchestrator.Config{})
	return &handlerFixture{
		jobHandler:    NewJobHandler(svc, manager, logStore, logger),
		engineHandler: NewEngineHandler(svc, logger),
		manager:       manager,
	}
}

func postJSON(t *testing.T, handler func(http.ResponseWriter, *http.Request), path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestCreateBatchHandler(t *testing.T) {
	f := newHandlerFixture(t)

	rec := postJSON(t, f.jobHandler.CreateBatchHandler, "/api/jobs/batch", map[string]interface{}{
		"playbook_ref": "deploy.yml",
		"target_refs":  []string{"web-01", "web-02"},
		"requested_by": "alice",
		"config": map[string]interface{}{
			"concurrency_limit": 2,
			"strategy":          "parallel",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var job models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, models.JobKindBatch, job.Kind)
	assert.Equal(t, models.JobStatusRunning, job.Status)

	children, err := f.manager.ListChildren(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestCreateBatchHandler_InvalidRequest(t *testing.T) {
	f := newHandlerFixture(t)

	rec := postJSON(t, f.jobHandler.CreateBatchHandler, "/api/jobs/batch", map[string]interface{}{
		"playbook_ref": "deploy.yml",
		"target_refs":  []string{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobHandler_NotFound(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil)
	rec := httptest.NewRecorder()
	f.jobHandler.GetJobHandler(rec, req, "missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelJobHandler(t *testing.T) {
	f := newHandlerFixture(t)

	rec := postJSON(t, f.jobHandler.CreateLeafHandler, "/api/jobs", map[string]interface{}{
		"playbook_ref": "deploy.yml",
		"target_ref":   "web-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var job models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil)
	cancelRec := httptest.NewRecorder()
	f.jobHandler.CancelJobHandler(cancelRec, req, job.ID)
	assert.Equal(t, http.StatusOK, cancelRec.Code)

	got, err := f.manager.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
}

func TestEngineCallbacks_TerminalAndOutput(t *testing.T) {
	f := newHandlerFixture(t)

	rec := postJSON(t, f.jobHandler.CreateLeafHandler, "/api/jobs", map[string]interface{}{
		"playbook_ref": "deploy.yml",
		"target_ref":   "web-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var job models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	outRec := postJSON(t, f.engineHandler.OutputHandler, "/api/engine/output", map[string]interface{}{
		"job_id":  job.ID,
		"content": "TASK [deploy]",
		"level":   "INFO",
	})
	assert.Equal(t, http.StatusOK, outRec.Code)

	termRec := postJSON(t, f.engineHandler.TerminalHandler, "/api/engine/terminal", map[string]interface{}{
		"job_id":  job.ID,
		"success": true,
	})
	assert.Equal(t, http.StatusOK, termRec.Code)

	got, err := f.manager.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, got.Status)

	logsReq := httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/logs", nil)
	logsRec := httptest.NewRecorder()
	f.jobHandler.GetLogsHandler(logsRec, logsReq, job.ID)
	require.Equal(t, http.StatusOK, logsRec.Code)

	var page logs.Page
	require.NoError(t, json.Unmarshal(logsRec.Body.Bytes(), &page))
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "TASK [deploy]", page.Entries[0].Content)
}

func TestEngineTerminalHandler_UnknownJob(t *testing.T) {
	f := newHandlerFixture(t)

	rec := postJSON(t, f.engineHandler.TerminalHandler, "/api/engine/terminal", map[string]interface{}{
		"job_id":  "missing",
		"success": true,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteJobHandler_ConflictOnActive(t *testing.T) {
	f := newHandlerFixture(t)

	rec := postJSON(t, f.jobHandler.CreateLeafHandler, "/api/jobs", map[string]interface{}{
		"playbook_ref": "deploy.yml",
		"target_ref":   "web-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var job models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	req := httptest.NewRequest(http.MethodDelete, "/api/jobs/"+job.ID, nil)
	delRec := httptest.NewRecorder()
	f.jobHandler.DeleteJobHandler(delRec, req, job.ID)
	assert.Equal(t, http.StatusConflict, delRec.Code)
}
