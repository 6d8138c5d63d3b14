package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/runbook/internal/common"
)

// StatusHandler serves health and version endpoints
type StatusHandler struct {
	logger    arbor.ILogger
	startedAt time.Time
}

// NewStatusHandler creates a status handler
func NewStatusHandler(logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
}

// HealthHandler reports service liveness
// GET /api/health
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.startedAt).String(),
	})
}

// VersionHandler reports build information
// GET /api/version
func (h *StatusHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
	})
}
