package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/runbook/internal/interfaces"
	"github.com/ternarybob/runbook/internal/models"
)

// EngineHandler receives asynchronous callbacks from the execution engine:
// terminal outcomes and captured output lines. The engine retries delivery,
// so both endpoints are idempotent.
type EngineHandler struct {
	callback interfaces.ExecutionCallback
	logger   arbor.ILogger
}

// NewEngineHandler creates an engine callback handler
func NewEngineHandler(callback interfaces.ExecutionCallback, logger arbor.ILogger) *EngineHandler {
	return &EngineHandler{
		callback: callback,
		logger:   logger,
	}
}

type terminalCallback struct {
	JobID        string `json:"job_id"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type outputCallback struct {
	JobID   string `json:"job_id"`
	Content string `json:"content"`
	Level   string `json:"level,omitempty"`
}

// TerminalHandler applies a terminal outcome callback
// POST /api/engine/terminal
func (h *EngineHandler) TerminalHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var cb terminalCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if cb.JobID == "" {
		WriteError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	err := h.callback.OnTerminal(r.Context(), cb.JobID, interfaces.TerminalOutcome{
		Success:      cb.Success,
		ErrorMessage: cb.ErrorMessage,
	})
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		if errors.Is(err, models.ErrIllegalTransition) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("job_id", cb.JobID).Msg("Terminal callback failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteSuccess(w, "Terminal outcome applied")
}

// OutputHandler appends one output line callback
// POST /api/engine/output
func (h *EngineHandler) OutputHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var cb outputCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if cb.JobID == "" {
		WriteError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	if err := h.callback.OnOutputLine(r.Context(), cb.JobID, cb.Content, cb.Level); err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		if errors.Is(err, models.ErrInvalidSpec) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteSuccess(w, "Output line accepted")
}
