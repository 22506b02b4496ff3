package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/assessment-composer/internal/workspaces"
)

func assessmentIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "assessmentID"))
}

// workspaceMiddleware opens or reuses the workspace for the console
// session and assessment in the path
func (s *Server) workspaceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assessmentID := assessmentIDParam(r)
		if assessmentID == "" {
			respondError(w, http.StatusBadRequest, "invalid_request", "assessment id is required")
			return
		}

		key := workspaces.Key{
			ConsoleID:    ConsoleFromContext(r.Context()),
			AssessmentID: assessmentID,
		}

		ws, err := s.workspaces.Acquire(r.Context(), key)
		if err != nil {
			respondCompositionError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithWorkspace(r.Context(), ws)))
	})
}
