// Package storeapi serves the assessment store REST API consumed by the composer gateway
package storeapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/terra-clan/assessment-composer/internal/services"
	"github.com/terra-clan/assessment-composer/internal/storage"
)

// Server represents the assessment store HTTP server
type Server struct {
	repo           storage.Repository
	registry       *services.Registry
	router         *chi.Mux
	authMiddleware *AuthMiddleware
}

// NewServer creates a new store API server. registry may be nil.
func NewServer(repo storage.Repository, registry *services.Registry) *Server {
	s := &Server{
		repo:           repo,
		registry:       registry,
		authMiddleware: NewAuthMiddleware(repo),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	auth := s.authMiddleware
	read := auth.RequirePermission(PermAssessmentsRead)
	write := auth.RequirePermission(PermAssessmentsWrite)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Authenticate)

		r.With(auth.RequirePermission(PermQuestionsRead)).Get("/questions", s.handleListQuestions)
		r.With(write).Post("/assessments", s.handleCreateAssessment)

		r.Route("/assessments/{assessmentID}", func(r chi.Router) {
			r.Use(auth.RequireOwnership)

			r.With(read).Get("/", s.handleGetAssessment)

			r.Route("/sections", func(r chi.Router) {
				r.With(write).Post("/", s.handleCreateSection)
				r.With(write).Put("/order", s.handleReorderSections)

				r.Route("/{sectionID}", func(r chi.Router) {
					r.With(write).Put("/", s.handleUpdateSection)
					r.With(write).Delete("/", s.handleDeleteSection)
					r.With(read).Get("/settings", s.handleGetSettings)
					r.With(write).Put("/settings", s.handleUpdateSettings)
					r.With(read).Get("/questions", s.handleGetSectionQuestions)
					r.With(write).Post("/questions", s.handleAddQuestions)
					r.With(write).Post("/questions/remove", s.handleRemoveQuestions)
				})
			})
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func loggingMiddleware(next http.Handler) http.Handler {
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
				"key_prefix", keyPrefix(r),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func keyPrefix(r *http.Request) string {
	if key := extractAPIKey(r); key != "" {
		return maskKey(key)
	}
	return ""
}
