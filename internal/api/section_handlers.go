package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/assessment-composer/internal/composition"
	"github.com/terra-clan/assessment-composer/internal/models"
)

// sectionView is a section as rendered in the console
type sectionView struct {
	*models.Section
	State      composition.SectionState `json:"state"`
	Saving     bool                     `json:"saving"`
	TypeCounts map[string]int           `json:"type_counts"`
}

type workspaceView struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Status        string               `json:"status"`
	Sections      []sectionView        `json:"sections"`
	SectionCount  int                  `json:"section_count"`
	TotalDuration models.TotalDuration `json:"total_duration"`
	Creating      bool                 `json:"creating"`
}

// name and description are checked by the lifecycle controller so that
// blank values get its validation message
type sectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Preset      string `json:"preset,omitempty"`
}

type reorderRequest struct {
	SectionID string `json:"section_id" validate:"required"`
	From      *int   `json:"from" validate:"required"`
	To        *int   `json:"to" validate:"required"`
}

type commitOrderRequest struct {
	Order []string `json:"order"`
}

func newSectionView(ws *composition.Workspace, sec *models.Section) sectionView {
	counts := make(map[string]int, len(sec.Questions))
	for code, qs := range sec.Questions {
		counts[code] = len(qs)
	}
	return sectionView{
		Section:    sec,
		State:      ws.Lifecycle().State(sec.ID),
		Saving:     ws.Saving(sec.ID),
		TypeCounts: counts,
	}
}

func newSectionViews(ws *composition.Workspace, sections []*models.Section) []sectionView {
	views := make([]sectionView, 0, len(sections))
	for _, sec := range sections {
		views = append(views, newSectionView(ws, sec))
	}
	return views
}

func newWorkspaceView(ws *composition.Workspace) workspaceView {
	session := ws.Session()
	a := session.Assessment()
	return workspaceView{
		ID:            a.ID,
		Name:          a.Name,
		Status:        string(a.Status),
		Sections:      newSectionViews(ws, a.Sections),
		SectionCount:  session.SectionCount(),
		TotalDuration: a.TotalDuration,
		Creating:      ws.Lifecycle().Creating(),
	}
}

func orderView(ws *composition.Workspace, sections []*models.Section) map[string]interface{} {
	return map[string]interface{}{
		"sections":       newSectionViews(ws, sections),
		"total_duration": ws.Session().TotalDuration(),
	}
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())
	respondJSON(w, http.StatusOK, newWorkspaceView(ws))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())

	if err := ws.Session().Refresh(r.Context()); err != nil {
		respondCompositionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, newWorkspaceView(ws))
}

func (s *Server) handleCreateSection(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())

	var req sectionRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	sec, err := ws.CreateSection(r.Context(), models.SectionInput{
		Name:        req.Name,
		Description: req.Description,
		Preset:      req.Preset,
	})
	if err != nil {
		// a preset save failure still leaves the created section behind
		if sec != nil {
			respondJSON(w, http.StatusCreated, map[string]interface{}{
				"section": newSectionView(ws, sec),
				"warning": composition.UserMessage(err),
			})
			return
		}
		respondCompositionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"section":        newSectionView(ws, sec),
		"section_count":  ws.Session().SectionCount(),
		"total_duration": ws.Session().TotalDuration(),
	})
}

func (s *Server) handleGetSection(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())

	sec, err := ws.Session().Section(chi.URLParam(r, "sectionID"))
	if err != nil {
		respondCompositionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, newSectionView(ws, sec))
}

func (s *Server) handleEditSection(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())
	sectionID := chi.URLParam(r, "sectionID")

	var req sectionRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Preset != "" {
		respondError(w, http.StatusBadRequest, "validation_error", "preset: only applies when creating a section")
		return
	}

	sec, err := ws.Lifecycle().Edit(r.Context(), sectionID, req.Name, req.Description)
	if err != nil {
		respondCompositionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, newSectionView(ws, sec))
}

func (s *Server) handleRequestDelete(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())

	intent, err := ws.Lifecycle().RequestDelete(chi.URLParam(r, "sectionID"))
	if err != nil {
		respondCompositionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, intent)
}

// Confirmation handlers

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())

	intent, err := ws.Confirm(r.Context(), chi.URLParam(r, "intentID"))
	if err != nil {
		respondCompositionError(w, r, err)
		return
	}

	resp := map[string]interface{}{
		"confirmation":   intent,
		"section_count":  ws.Session().SectionCount(),
		"total_duration": ws.Session().TotalDuration(),
	}
	if intent.Kind == composition.IntentRemoveQuestion {
		if sec, err := ws.Session().Section(intent.SectionID); err == nil {
			resp["section"] = newSectionView(ws, sec)
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())

	if err := ws.Cancel(chi.URLParam(r, "intentID")); err != nil {
		respondCompositionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// Order handlers

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())

	var req reorderRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	sections, err := ws.Order().Reorder(req.SectionID, *req.From, *req.To)
	if err != nil {
		respondCompositionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, orderView(ws, sections))
}

// handleCommitOrder saves the pending order, or the explicit order in the
// body when one is given
func (s *Server) handleCommitOrder(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())

	var req commitOrderRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	order := ws.Session().Sections()
	if len(req.Order) > 0 {
		byID := make(map[string]*models.Section, len(order))
		for _, sec := range order {
			byID[sec.ID] = sec
		}
		order = make([]*models.Section, 0, len(req.Order))
		for _, id := range req.Order {
			sec, ok := byID[id]
			if !ok {
				respondCompositionError(w, r, composition.ErrSectionNotFound)
				return
			}
			order = append(order, sec)
		}
	}

	if err := ws.Order().CommitReorder(r.Context(), order); err != nil {
		respondCompositionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, orderView(ws, ws.Session().Sections()))
}

func (s *Server) handleResetOrder(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())
	respondJSON(w, http.StatusOK, orderView(ws, ws.Order().ResetOrder()))
}
