package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/terra-clan/assessment-composer/internal/config"
	"github.com/terra-clan/assessment-composer/internal/models"
	"github.com/terra-clan/assessment-composer/internal/services"
	"github.com/terra-clan/assessment-composer/internal/workspaces"
)

// PresetLister lists the section presets offered on create
type PresetLister interface {
	List() []*models.SectionPreset
}

// Server represents the console HTTP API server
type Server struct {
	config     config.ServerConfig
	router     *chi.Mux
	workspaces *workspaces.Registry
	registry   *services.Registry
	presets    PresetLister
}

// NewServer creates a new API server. registry and presets may be nil.
func NewServer(
	cfg config.ServerConfig,
	ws *workspaces.Registry,
	registry *services.Registry,
	presets PresetLister,
) *Server {
	s := &Server{
		config:     cfg,
		workspaces: ws,
		registry:   registry,
		presets:    presets,
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", ConsoleSessionHeader},
		ExposedHeaders:   []string{"X-Request-ID", ConsoleSessionHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(consoleSession)

		r.With(middleware.Timeout(60*time.Second)).Get("/presets", s.handleListPresets)

		r.Route("/assessments/{assessmentID}", func(r chi.Router) {
			r.Use(s.workspaceMiddleware)

			// Long-lived stream, outside the request timeout
			r.Get("/events", s.handleEventsWS)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))

				r.Get("/", s.handleGetWorkspace)
				r.Post("/refresh", s.handleRefresh)

				r.Route("/sections", func(r chi.Router) {
					r.Post("/", s.handleCreateSection)
					r.Post("/reorder", s.handleReorder)
					r.Post("/order", s.handleCommitOrder)
					r.Post("/order/reset", s.handleResetOrder)

					r.Route("/{sectionID}", func(r chi.Router) {
						r.Get("/", s.handleGetSection)
						r.Put("/", s.handleEditSection)
						r.Post("/delete", s.handleRequestDelete)

						r.Get("/settings", s.handleGetSettings)
						r.Post("/settings", s.handleFetchSettings)
						r.Patch("/settings", s.handlePatchSettings)
						r.Post("/settings/save", s.handleSaveSettings)

						r.Post("/questions", s.handleAddQuestions)
						r.Post("/questions/{questionID}/remove", s.handleRequestRemoval)
					})
				})

				r.Post("/confirmations/{intentID}", s.handleConfirm)
				r.Delete("/confirmations/{intentID}", s.handleCancel)

				r.Get("/catalog", s.handleGetCatalog)
				r.Post("/catalog/load", s.handleLoadCatalog)
				r.Put("/filter", s.handleSetFilter)

				r.Get("/selection", s.handleGetSelection)
				r.Post("/selection/all", s.handleSelectAll)
				r.Delete("/selection", s.handleClearSelection)
				r.Post("/selection/categories/{categoryID}", s.handleToggleCategory)
				r.Post("/selection/questions/{questionID}", s.handleToggleQuestion)
			})
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
