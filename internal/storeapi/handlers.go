package storeapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/assessment-composer/internal/models"
	"github.com/terra-clan/assessment-composer/internal/storage"
)

const (
	defaultQuestionLimit = 50
	maxQuestionLimit     = 500
)

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

// respondRepoError maps repository errors onto the envelope
func respondRepoError(w http.ResponseWriter, err error, op string, attrs ...any) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, storage.ErrInvalidOrder):
		respondError(w, http.StatusBadRequest, "invalid_order", err.Error())
	default:
		slog.Error("failed to "+op, append([]any{"error", err}, attrs...)...)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to "+op)
	}
}

// decodeBody decodes and validates a JSON request body; it writes the error response itself
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	if err := models.Validate(dst); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return false
	}
	return true
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		slog.Warn("database not ready", "error", err)
		respondError(w, http.StatusServiceUnavailable, "not_ready", "database not ready")
		return
	}

	if s.registry != nil {
		checks := s.registry.HealthCheckAll(r.Context())
		for name, err := range checks {
			if err != nil {
				slog.Warn("dependency not ready", "service", name, "error", err)
				respondError(w, http.StatusServiceUnavailable, "not_ready", name+" not ready")
				return
			}
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// Assessment handlers

type createAssessmentRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

func (s *Server) handleCreateAssessment(w http.ResponseWriter, r *http.Request) {
	var req createAssessmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	client := ClientFromContext(r.Context())
	a := &models.Assessment{Name: strings.TrimSpace(req.Name)}
	if err := s.repo.CreateAssessment(r.Context(), a, client.OrganizationID); err != nil {
		respondRepoError(w, err, "create assessment")
		return
	}
	a.Sections = []*models.Section{}

	slog.Info("assessment created", "assessment_id", a.ID, "organization_id", client.OrganizationID)
	respondJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "assessmentID")

	a, err := s.repo.GetAssessment(r.Context(), id)
	if err != nil {
		respondRepoError(w, err, "get assessment", "assessment_id", id)
		return
	}

	respondJSON(w, http.StatusOK, a)
}

// Section handlers

type sectionRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"required"`
}

func (r sectionRequest) input() models.SectionInput {
	return models.SectionInput{
		Name:        strings.TrimSpace(r.Name),
		Description: strings.TrimSpace(r.Description),
	}
}

func (s *Server) handleCreateSection(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "assessmentID")

	var req sectionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sec, err := s.repo.CreateSection(r.Context(), assessmentID, req.input())
	if err != nil {
		respondRepoError(w, err, "create section", "assessment_id", assessmentID)
		return
	}

	slog.Info("section created", "assessment_id", assessmentID, "section_id", sec.ID, "position", sec.Position)
	respondJSON(w, http.StatusCreated, sec)
}

func (s *Server) handleUpdateSection(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "assessmentID")
	sectionID := chi.URLParam(r, "sectionID")

	var req sectionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sec, err := s.repo.UpdateSection(r.Context(), assessmentID, sectionID, req.input())
	if err != nil {
		respondRepoError(w, err, "update section", "assessment_id", assessmentID, "section_id", sectionID)
		return
	}

	respondJSON(w, http.StatusOK, sec)
}

func (s *Server) handleDeleteSection(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "assessmentID")
	sectionID := chi.URLParam(r, "sectionID")

	if err := s.repo.DeleteSection(r.Context(), assessmentID, sectionID); err != nil {
		respondRepoError(w, err, "delete section", "assessment_id", assessmentID, "section_id", sectionID)
		return
	}

	slog.Info("section deleted", "assessment_id", assessmentID, "section_id", sectionID)
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "section deleted",
	})
}

type reorderRequest struct {
	Order []models.SectionOrder `json:"order" validate:"required,min=1,dive"`
}

func (s *Server) handleReorderSections(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "assessmentID")

	var req reorderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.repo.ReorderSections(r.Context(), assessmentID, req.Order); err != nil {
		respondRepoError(w, err, "reorder sections", "assessment_id", assessmentID)
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{
		"sections": len(req.Order),
	})
}

// Settings handlers

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "assessmentID")
	sectionID := chi.URLParam(r, "sectionID")

	settings, err := s.repo.GetSectionSettings(r.Context(), assessmentID, sectionID)
	if err != nil {
		respondRepoError(w, err, "get section settings", "assessment_id", assessmentID, "section_id", sectionID)
		return
	}

	respondJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "assessmentID")
	sectionID := chi.URLParam(r, "sectionID")

	// SectionSettings decodes strictly and validates ranges
	var settings models.SectionSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	updated, err := s.repo.UpdateSectionSettings(r.Context(), assessmentID, sectionID, settings)
	if err != nil {
		respondRepoError(w, err, "update section settings", "assessment_id", assessmentID, "section_id", sectionID)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

// Membership handlers

type questionIDsRequest struct {
	QuestionIDs []string `json:"question_ids" validate:"required,min=1,dive,required"`
}

// ids returns the trimmed, de-duplicated ids in request order
func (r questionIDsRequest) ids() []string {
	seen := make(map[string]bool, len(r.QuestionIDs))
	out := make([]string, 0, len(r.QuestionIDs))
	for _, id := range r.QuestionIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (s *Server) handleGetSectionQuestions(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "assessmentID")
	sectionID := chi.URLParam(r, "sectionID")

	questions, err := s.repo.GetSectionQuestions(r.Context(), assessmentID, sectionID)
	if err != nil {
		respondRepoError(w, err, "get section questions", "assessment_id", assessmentID, "section_id", sectionID)
		return
	}

	respondJSON(w, http.StatusOK, models.GroupByType(questions))
}

func (s *Server) handleAddQuestions(w http.ResponseWriter, r *http.Request) {
	s.changeMembership(w, r, true)
}

func (s *Server) handleRemoveQuestions(w http.ResponseWriter, r *http.Request) {
	s.changeMembership(w, r, false)
}

func (s *Server) changeMembership(w http.ResponseWriter, r *http.Request, add bool) {
	assessmentID := chi.URLParam(r, "assessmentID")
	sectionID := chi.URLParam(r, "sectionID")

	var req questionIDsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ids := req.ids()
	if len(ids) == 0 {
		respondError(w, http.StatusBadRequest, "validation_error", "question_ids must contain at least one id")
		return
	}

	var err error
	op := "add section questions"
	if add {
		err = s.repo.AddSectionQuestions(r.Context(), assessmentID, sectionID, ids)
	} else {
		op = "remove section questions"
		err = s.repo.RemoveSectionQuestions(r.Context(), assessmentID, sectionID, ids)
	}
	if err != nil {
		respondRepoError(w, err, op, "assessment_id", assessmentID, "section_id", sectionID)
		return
	}

	slog.Info("section membership changed",
		"assessment_id", assessmentID,
		"section_id", sectionID,
		"added", add,
		"count", len(ids),
	)
	respondJSON(w, http.StatusOK, map[string]int{
		"count": len(ids),
	})
}

// Question library handlers

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := models.QuestionQuery{
		Scope:      models.QuestionScope(q.Get("scope")),
		CategoryID: q.Get("category_id"),
		TypeCode:   q.Get("type_code"),
		Search:     strings.TrimSpace(q.Get("search")),
		Limit:      defaultQuestionLimit,
	}

	if query.Scope == "" {
		query.Scope = models.ScopeOrganization
	}
	if !query.Scope.Valid() {
		respondError(w, http.StatusBadRequest, "validation_error", "scope must be organization or global")
		return
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			respondError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		query.Limit = min(limit, maxQuestionLimit)
	}

	if offsetStr := q.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			query.Offset = offset
		}
	}

	client := ClientFromContext(r.Context())
	questions, total, err := s.repo.ListQuestions(r.Context(), client.OrganizationID, query)
	if err != nil {
		respondRepoError(w, err, "list questions", "scope", query.Scope)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"questions": questions,
		"total":     total,
	})
}
