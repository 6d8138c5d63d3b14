package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/runbook/internal/interfaces"
	"github.com/ternarybob/runbook/internal/jobs"
	"github.com/ternarybob/runbook/internal/logs"
	"github.com/ternarybob/runbook/internal/models"
)

// JobHandler handles job-related API requests
type JobHandler struct {
	orchestrator interfaces.Orchestrator
	jobManager   *jobs.Manager
	logStore     *logs.Store
	logger       arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(orchestrator interfaces.Orchestrator, jobManager *jobs.Manager, logStore *logs.Store, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		orchestrator: orchestrator,
		jobManager:   jobManager,
		logStore:     logStore,
		logger:       logger,
	}
}

// writeJobError maps domain errors onto HTTP status codes
func (h *JobHandler) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidSpec):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrIllegalTransition):
		WriteError(w, http.StatusConflict, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// CreateLeafHandler creates and dispatches a single-target job
// POST /api/jobs
func (h *JobHandler) CreateLeafHandler(w http.ResponseWriter, r *http.Request) {
	var req interfaces.LeafRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	job, err := h.orchestrator.CreateLeaf(r.Context(), req)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, job)
}

// CreateBatchHandler creates a batch run across multiple targets
// POST /api/jobs/batch
func (h *JobHandler) CreateBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req interfaces.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	job, err := h.orchestrator.CreateBatch(r.Context(), req)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, job)
}

// ListJobsHandler returns jobs filtered by query parameters
// GET /api/jobs?status=&kind=&parent=&limit=&offset=
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	opts := &interfaces.JobListOptions{
		Status:   r.URL.Query().Get("status"),
		Kind:     r.URL.Query().Get("kind"),
		ParentID: r.URL.Query().Get("parent"),
		Limit:    QueryInt(r, "limit", 50),
		Offset:   QueryInt(r, "offset", 0),
	}

	jobList, err := h.jobManager.List(r.Context(), opts)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobList,
		"count": len(jobList),
	})
}

// GetJobHandler returns one job record
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.jobManager.Get(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// GetChildrenHandler returns a batch's children in creation order
// GET /api/jobs/{id}/children
func (h *JobHandler) GetChildrenHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.jobManager.Get(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	if !job.IsBatch() {
		WriteError(w, http.StatusBadRequest, "Job is not a batch")
		return
	}

	children, err := h.jobManager.ListChildren(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"children": children,
		"count":    len(children),
	})
}

// CancelJobHandler requests cancellation of a job or batch
// POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := h.orchestrator.Cancel(r.Context(), jobID); err != nil {
		h.writeJobError(w, err)
		return
	}
	WriteSuccess(w, "Cancellation requested")
}

// GetLogsHandler returns a page of captured log lines for a job. For batch
// jobs the children's logs are merged in child order. Clients tailing a
// live batch should resume with the returned next_cursor; it stays stable
// while earlier children are still producing output, which the positional
// offset does not.
// GET /api/jobs/{id}/logs?offset=0&limit=100
// GET /api/jobs/{id}/logs?cursor=<next_cursor>&limit=100
func (h *JobHandler) GetLogsHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	limit := QueryInt(r, "limit", 100)

	var page *logs.Page
	var err error
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		page, err = h.logStore.ReadAfter(r.Context(), jobID, cursor, limit)
	} else {
		page, err = h.logStore.Read(r.Context(), jobID, QueryInt(r, "offset", 0), limit)
	}
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

// DeleteJobHandler deletes a terminal job with its children and logs
// DELETE /api/jobs/{id}
func (h *JobHandler) DeleteJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := h.jobManager.Delete(r.Context(), jobID); err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			h.writeJobError(w, err)
			return
		}
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	h.logStore.Forget(jobID)
	WriteSuccess(w, "Job deleted")
}

// StatsHandler returns job counts per status and the success rate over
// finished jobs
// GET /api/jobs/stats
func (h *JobHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobManager.Stats(r.Context())
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	total := 0
	for _, count := range stats {
		total += count
	}
	terminal := stats[string(models.JobStatusSuccess)] +
		stats[string(models.JobStatusFailed)] +
		stats[string(models.JobStatusCancelled)]
	successRate := 0.0
	if terminal > 0 {
		successRate = float64(stats[string(models.JobStatusSuccess)]) / float64(terminal)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total":        total,
		"by_status":    stats,
		"success_rate": successRate,
	})
}
