// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vrsandeep/repokeep/internal/core"
	"github.com/vrsandeep/repokeep/internal/logger"
	"github.com/vrsandeep/repokeep/internal/manager"
)

// Server holds the dependencies for our API.
type Server struct {
	app     *core.App
	manager *manager.Manager
	log     *log.Logger

	// tokens that already passed the bcrypt comparison
	verified sync.Map
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{
		app:     app,
		manager: app.Manager(),
		log:     logger.Component(app.Logger(), "api"),
	}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer) // Recovers from panics

	r.Get("/api/version", s.handleGetVersion)
	r.Get("/api/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.AuthMiddleware)

		r.Route("/api", func(r chi.Router) {
			r.Get("/repositories", s.handleListRepositories)
			r.Post("/repositories", s.handleRegisterRepository)
			r.Get("/repositories/{repositoryID}", s.handleGetRepository)
			r.Delete("/repositories/{repositoryID}", s.handleRemoveRepository)
			r.Post("/repositories/{repositoryID}/install", s.handleInstallRepository)
			r.Post("/repositories/{repositoryID}/uninstall", s.handleUninstallRepository)
			r.Post("/repositories/{repositoryID}/validate", s.handleValidateRepository)

			r.Get("/search", s.handleSearch)

			r.Post("/refresh", s.handleRefresh)
			r.Get("/jobs/status", s.handleGetJobsStatus)

			r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
				s.app.WsHub().ServeWs(w, r)
			})
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
