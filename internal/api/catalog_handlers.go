package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/assessment-composer/internal/composition"
	"github.com/terra-clan/assessment-composer/internal/models"
)

type loadCatalogRequest struct {
	Scope      models.QuestionScope `json:"scope" validate:"omitempty,oneof=organization global"`
	Limit      int                  `json:"limit" validate:"gte=0,lte=500"`
	Offset     int                  `json:"offset" validate:"gte=0"`
	CategoryID string               `json:"category_id"`
	TypeCode   string               `json:"type_code"`
	Search     string               `json:"search"`
}

type filterRequest struct {
	Category string `json:"category"`
	Type     string `json:"type"`
}

type toggleRequest struct {
	Select *bool `json:"select" validate:"required"`
}

type addQuestionsRequest struct {
	QuestionIDs []string `json:"question_ids" validate:"omitempty,dive,required"`
}

func selectionView(set composition.SelectionSet, f composition.Filter) map[string]interface{} {
	return map[string]interface{}{
		"selection": set,
		"count":     set.Len(),
		"filter":    f,
	}
}

func (s *Server) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())
	m := ws.Membership()

	category := strings.TrimSpace(r.URL.Query().Get("category"))
	typeCode := strings.TrimSpace(r.URL.Query().Get("type"))

	// the active filter narrows first, query params narrow further
	var items []models.QuestionRef
	if category != "" && typeCode == "" && !m.Filter().Active() {
		items = m.ListByCategory(category)
	} else {
		extra := composition.Filter{CategoryID: category, TypeCode: typeCode}
		for _, q := range m.Catalog() {
			if extra.Match(q) {
				items = append(items, q)
			}
		}
	}
	if items == nil {
		items = []models.QuestionRef{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":  items,
		"total":  len(items),
		"scope":  m.Scope(),
		"filter": m.Filter(),
	})
}

func (s *Server) handleLoadCatalog(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())

	var req loadCatalogRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	items, err := ws.Membership().LoadCatalog(r.Context(), models.QuestionQuery{
		Scope:      req.Scope,
		Limit:      req.Limit,
		Offset:     req.Offset,
		CategoryID: req.CategoryID,
		TypeCode:   req.TypeCode,
		Search:     req.Search,
	})
	if err != nil {
		respondCompositionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
		"scope": ws.Membership().Scope(),
	})
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())

	var req filterRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	set := ws.Membership().SetFilter(composition.Filter{CategoryID: req.Category, TypeCode: req.Type})
	respondJSON(w, http.StatusOK, selectionView(set, ws.Membership().Filter()))
}

// Selection handlers

func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	m := WorkspaceFromContext(r.Context()).Membership()
	respondJSON(w, http.StatusOK, selectionView(m.Selection(), m.Filter()))
}

func (s *Server) handleSelectAll(w http.ResponseWriter, r *http.Request) {
	m := WorkspaceFromContext(r.Context()).Membership()
	respondJSON(w, http.StatusOK, selectionView(m.SelectAll(), m.Filter()))
}

func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	m := WorkspaceFromContext(r.Context()).Membership()
	respondJSON(w, http.StatusOK, selectionView(m.ClearAll(), m.Filter()))
}

func (s *Server) handleToggleCategory(w http.ResponseWriter, r *http.Request) {
	m := WorkspaceFromContext(r.Context()).Membership()

	var req toggleRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	set := m.ToggleCategory(chi.URLParam(r, "categoryID"), *req.Select)
	respondJSON(w, http.StatusOK, selectionView(set, m.Filter()))
}

func (s *Server) handleToggleQuestion(w http.ResponseWriter, r *http.Request) {
	m := WorkspaceFromContext(r.Context()).Membership()

	var req toggleRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	set, err := m.ToggleQuestion(chi.URLParam(r, "questionID"), *req.Select)
	if err != nil {
		respondCompositionError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, selectionView(set, m.Filter()))
}

// Section question handlers

// handleAddQuestions adds the ids in the body, or the current selection
// when the body names none
func (s *Server) handleAddQuestions(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())
	sectionID := chi.URLParam(r, "sectionID")

	var req addQuestionsRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	ids := req.QuestionIDs
	if len(ids) == 0 {
		ids = ws.Membership().Selection().IDs()
	}

	if err := ws.Membership().AddToSection(r.Context(), sectionID, ids); err != nil {
		respondCompositionError(w, r, err)
		return
	}

	sec, err := ws.Session().Section(sectionID)
	if err != nil {
		respondCompositionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"section":        newSectionView(ws, sec),
		"added":          len(ids),
		"total_duration": ws.Session().TotalDuration(),
	})
}

func (s *Server) handleRequestRemoval(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())

	intent, err := ws.Membership().RequestRemoval(chi.URLParam(r, "sectionID"), chi.URLParam(r, "questionID"))
	if err != nil {
		respondCompositionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, intent)
}
