package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/vrsandeep/repokeep/internal/manager"
	"github.com/vrsandeep/repokeep/internal/models"
)

// filterFromQuery reads ?category=, ?installed=true and ?pending=true.
func filterFromQuery(r *http.Request) (manager.Filter, error) {
	q := r.URL.Query()
	f := manager.Filter{
		Category:      models.Category(q.Get("category")),
		InstalledOnly: q.Get("installed") == "true",
		PendingOnly:   q.Get("pending") == "true",
	}
	if f.Category != "" && !f.Category.Valid() {
		return f, errors.New("unknown category")
	}
	return f, nil
}

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, s.manager.List(f))
}

func (s *Server) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	status, err := s.manager.Get(chi.URLParam(r, "repositoryID"))
	if err != nil {
		RespondWithDomainError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, status)
}

func (s *Server) handleRegisterRepository(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName string          `json:"full_name"`
		Category models.Category `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	if strings.Count(req.FullName, "/") != 1 {
		RespondWithError(w, http.StatusBadRequest, "full_name must look like owner/name")
		return
	}
	if !req.Category.Valid() {
		RespondWithError(w, http.StatusBadRequest, "Unknown category")
		return
	}

	rec, err := s.manager.RegisterRepository(r.Context(), req.FullName, req.Category)
	if err != nil {
		RespondWithDomainError(w, err)
		return
	}
	status, err := s.manager.Get(rec.ID)
	if err != nil {
		RespondWithDomainError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusCreated, status)
}

func (s *Server) handleInstallRepository(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ref string `json:"ref"`
	}
	// The body is optional.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := chi.URLParam(r, "repositoryID")
	if _, err := s.manager.Install(r.Context(), id, strings.TrimSpace(req.Ref)); err != nil {
		RespondWithDomainError(w, err)
		return
	}
	s.respondWithStatus(w, id)
}

func (s *Server) handleUninstallRepository(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "repositoryID")
	if _, err := s.manager.Uninstall(r.Context(), id); err != nil {
		RespondWithDomainError(w, err)
		return
	}
	s.respondWithStatus(w, id)
}

func (s *Server) handleRemoveRepository(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "repositoryID")
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "removed by operator"
	}
	if err := s.manager.Remove(r.Context(), id, reason); err != nil {
		RespondWithDomainError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Repository removed"})
}

func (s *Server) handleValidateRepository(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.Validate(r.Context(), chi.URLParam(r, "repositoryID"))
	if err != nil {
		RespondWithDomainError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]any{
		"passed":  report.Passed(),
		"summary": report.Summary(),
		"report":  report,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, s.manager.Search(r.URL.Query().Get("q"), f))
}

func (s *Server) respondWithStatus(w http.ResponseWriter, id string) {
	status, err := s.manager.Get(id)
	if err != nil {
		RespondWithDomainError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, status)
}
