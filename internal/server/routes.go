package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Jobs: list/create on the collection, batch create,
	// stats, and the /{id} sub-resources (children, cancel, logs)
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)
	mux.HandleFunc("/api/jobs/batch", s.handleBatchCreate)
	mux.HandleFunc("/api/jobs/stats", s.app.JobHandler.StatsHandler)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)

	// API routes - Execution engine callbacks
	mux.HandleFunc("/api/engine/terminal", s.app.EngineHandler.TerminalHandler)
	mux.HandleFunc("/api/engine/output", s.app.EngineHandler.OutputHandler)

	// API routes - Service status
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.StatusHandler.VersionHandler)

	return mux
}

// handleJobsRoute routes /api/jobs by method
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:  s.app.JobHandler.ListJobsHandler,
		http.MethodPost: s.app.JobHandler.CreateLeafHandler,
	})
}

func (s *Server) handleBatchCreate(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodPost: s.app.JobHandler.CreateBatchHandler,
	})
}

// handleJobRoutes routes /api/jobs/{id} and its sub-resources
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	jobID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.app.JobHandler.GetJobHandler(w, r, jobID)
		case http.MethodDelete:
			s.app.JobHandler.DeleteJobHandler(w, r, jobID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[1] {
	case "children":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.app.JobHandler.GetChildrenHandler(w, r, jobID)
	case "cancel":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.app.JobHandler.CancelJobHandler(w, r, jobID)
	case "logs":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.app.JobHandler.GetLogsHandler(w, r, jobID)
	default:
		http.NotFound(w, r)
	}
}
