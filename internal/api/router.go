// Package api provides the REST API and web UI of the vloop service.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vloop/internal/config"
	"github.com/ternarybob/vloop/internal/project"
	"github.com/ternarybob/vloop/pkg/monitor"
)

// RequestTimeout bounds ordinary requests.
const RequestTimeout = 60 * time.Second

// Server represents the API server.
type Server struct {
	cfg      *config.Config
	router   chi.Router
	registry *project.Registry
	manager  *project.Manager
	bus      *monitor.Bus
	logger   arbor.ILogger

	// Background runs use ctx so Close can abort them.
	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup
}

// NewServer creates a new API server. bus may be nil, in which case the
// event stream is unavailable.
func NewServer(cfg *config.Config, registry *project.Registry, manager *project.Manager, bus *monitor.Bus, logger arbor.ILogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		registry: registry,
		manager:  manager,
		bus:      bus,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	s.setupRouter()
	return s
}

// setupRouter configures all routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if s.cfg.API.APIKey != "" {
		r.Use(s.apiKeyAuth)
	}

	// Health and version endpoints (no auth)
	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)

	// The event stream stays open; it gets no timeout.
	r.Get("/events", s.handleEvents)

	timeout := middleware.Timeout(RequestTimeout)

	r.Route("/projects", func(r chi.Router) {
		r.With(timeout).Get("/", s.handleListProjects)
		r.With(timeout).Post("/", s.handleRegisterProject)
		r.Route("/{id}", func(r chi.Router) {
			// A step lasts as long as its stage.
			r.Post("/step", s.handleStep)

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				r.Get("/", s.handleGetProject)
				r.Delete("/", s.handleUnregisterProject)
				r.Post("/reload", s.handleReload)
				r.Get("/dashboard", s.handleDashboard)

				r.Get("/runs", s.handleListRuns)
				r.Post("/runs", s.handleStartRun)
				r.Get("/runs/current", s.handleCurrentRun)
				r.Get("/runs/{run}", s.handleGetRun)
				r.Get("/runs/{run}/report", s.handleRunReport)

				r.Get("/criteria", s.handleListCriteria)
				r.Post("/criteria", s.handleAddCriterion)
				r.Post("/criteria/{cid}/start", s.handleStartCriterion)
				r.Post("/criteria/{cid}/complete", s.handleCompleteCriterion)
				r.Delete("/criteria/{cid}", s.handleRemoveCriterion)
			})
		})
	})

	// Web UI routes (served from /web)
	r.Group(func(r chi.Router) {
		r.Use(timeout)
		r.Get("/", s.handleWebRoot)
		r.Get("/web", s.handleWebRoot)
		r.Get("/web/", s.renderIndex)
		r.Get("/web/project/{id}", s.renderProjectPage)
		r.Get("/web/static/*", s.serveStaticFile)
	})

	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Mount serves h under pattern, behind the API key check.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.router.Mount(pattern, h)
}

// Close aborts background runs and waits for them to save their state.
func (s *Server) Close() {
	s.cancel()
	s.runs.Wait()
}

// apiKeyAuth is middleware that validates the API key.
func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/version" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}

		if apiKey != s.cfg.API.APIKey {
			writeError(w, http.StatusUnauthorized, "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}
