// Helper functions for sending standardized JSON responses.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vrsandeep/repokeep/internal/hosting"
	"github.com/vrsandeep/repokeep/internal/jobs"
	"github.com/vrsandeep/repokeep/internal/manager"
	"github.com/vrsandeep/repokeep/internal/queue"
	"github.com/vrsandeep/repokeep/internal/repository"
)

// RespondWithJSON writes a JSON response with the given status code and payload.
func RespondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to marshal response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// RespondWithError writes a standardized JSON error response.
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]string{"error": message})
}

// RespondWithDomainError maps an operation error to its HTTP status.
func RespondWithDomainError(w http.ResponseWriter, err error) {
	RespondWithError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, manager.ErrUnknownRepository),
		errors.Is(err, hosting.ErrNotFound),
		errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrRemoved),
		errors.Is(err, repository.ErrRemoved):
		return http.StatusGone
	case errors.Is(err, queue.ErrExecutionInProgress),
		errors.Is(err, jobs.ErrJobRunning),
		errors.Is(err, repository.ErrNotInstalled):
		return http.StatusConflict
	case errors.Is(err, repository.ErrIncompatible),
		errors.Is(err, repository.ErrValidationFailed),
		errors.Is(err, repository.ErrInvalidManifest),
		errors.Is(err, repository.ErrMissingManifest),
		errors.Is(err, repository.ErrMissingDescription):
		return http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrUninstallBlocked):
		return http.StatusLocked
	case errors.Is(err, repository.ErrDownloadFailed),
		hosting.IsTransient(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
