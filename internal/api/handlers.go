package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/terra-clan/assessment-composer/internal/composition"
	"github.com/terra-clan/assessment-composer/internal/models"
	"github.com/terra-clan/assessment-composer/pkg/client"
)

const maxBodyBytes = 1 << 20

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// respondCompositionError maps a controller error to a status code. The
// message is always the user-facing text.
func respondCompositionError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"

	switch {
	case errors.Is(err, composition.ErrValidation):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, composition.ErrSectionNotFound),
		errors.Is(err, composition.ErrQuestionNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, composition.ErrIntentNotFound):
		status, code = http.StatusNotFound, "confirmation_not_found"
	case errors.Is(err, composition.ErrSaveInProgress):
		status, code = http.StatusConflict, "save_in_progress"
	case client.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, composition.ErrReorder):
		status, code = http.StatusBadGateway, "reorder_failed"
	case errors.Is(err, composition.ErrDelete):
		status, code = http.StatusBadGateway, "delete_failed"
	case errors.Is(err, composition.ErrMembership):
		status, code = http.StatusBadGateway, "membership_failed"
	case errors.Is(err, composition.ErrSave):
		status, code = http.StatusBadGateway, "save_failed"
	case errors.Is(err, composition.ErrFetch):
		status, code = http.StatusBadGateway, "fetch_failed"
	}

	if status >= http.StatusInternalServerError {
		slog.Error("composition operation failed",
			"path", r.URL.Path,
			"assessment_id", assessmentIDParam(r),
			"error", err,
		)
	}
	respondError(w, status, code, composition.UserMessage(err))
}

// decodeBody reads a JSON request body and validates its struct tags.
// An empty body leaves v untouched when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			respondError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid request body: %v", err))
			return false
		}
	}

	if err := models.Validate(v); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return false
	}
	return true
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"workspaces": s.workspaces.Len(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	results := s.registry.HealthCheckAll(r.Context())
	checks := make(map[string]string, len(results))
	ready := true
	for name, err := range results {
		if err != nil {
			ready = false
			checks[name] = err.Error()
			slog.Warn("dependency not ready", "provider", name, "error", err)
			continue
		}
		checks[name] = "ok"
	}

	if !ready {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "service not ready")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"checks": checks,
	})
}

// Preset handlers

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	presets := []*models.SectionPreset{}
	if s.presets != nil {
		presets = s.presets.List()
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": presets,
		"total": len(presets),
	})
}
