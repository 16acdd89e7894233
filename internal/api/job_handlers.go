package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/vrsandeep/repokeep/internal/jobs"
)

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{
		"version":      s.app.Version,
		"host_version": s.app.Config().Versions.Host,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DB().Ping(); err != nil {
		RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"queue_running": s.manager.QueueRunning(),
	})
}

// handleRefresh starts a background refresh job. The body selects the job;
// the default refreshes installed repositories only.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		JobName string `json:"job_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if payload.JobName == "" {
		payload.JobName = jobs.JobRefreshInstalled
	}

	// The job outlives the request.
	ctx := context.WithoutCancel(r.Context())
	if err := s.app.JobManager().RunJob(ctx, payload.JobName); err != nil {
		RespondWithDomainError(w, err)
		return
	}

	RespondWithJSON(w, http.StatusAccepted, map[string]string{
		"message": "Job '" + payload.JobName + "' started successfully.",
	})
}

func (s *Server) handleGetJobsStatus(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.app.JobManager().GetStatus())
}
