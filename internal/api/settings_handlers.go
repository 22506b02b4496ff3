package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/assessment-composer/internal/models"
)

type settingsView struct {
	SectionID string                  `json:"section_id"`
	Settings  *models.SectionSettings `json:"settings"`
	Saving    bool                    `json:"saving"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())
	sectionID := chi.URLParam(r, "sectionID")

	settings, ok := ws.Settings().Get(sectionID)
	if !ok {
		// first access loads from the gateway
		var err error
		settings, err = ws.Settings().Fetch(r.Context(), sectionID)
		if err != nil {
			respondCompositionError(w, r, err)
			return
		}
	}

	respondJSON(w, http.StatusOK, settingsView{
		SectionID: sectionID,
		Settings:  settings,
		Saving:    ws.Saving(sectionID),
	})
}

func (s *Server) handleFetchSettings(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())
	sectionID := chi.URLParam(r, "sectionID")

	settings, err := ws.Settings().Fetch(r.Context(), sectionID)
	if err != nil {
		respondCompositionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, settingsView{
		SectionID: sectionID,
		Settings:  settings,
		Saving:    ws.Saving(sectionID),
	})
}

// handlePatchSettings merges a flat field -> value object into the
// in-memory settings. A dotted key such as "section_break_time.mins" sets
// one nested child. Fields apply in key order; the first invalid field
// stops the merge.
func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())
	sectionID := chi.URLParam(r, "sectionID")

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(fields) == 0 {
		respondError(w, http.StatusBadRequest, "validation_error", "at least one settings field is required")
		return
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	store := ws.Settings()
	for _, key := range keys {
		var err error
		if parent, child, nested := strings.Cut(key, "."); nested {
			err = store.SetNestedField(sectionID, parent, child, fields[key])
		} else {
			err = store.SetField(sectionID, key, fields[key])
		}
		if err != nil {
			respondCompositionError(w, r, err)
			return
		}
	}

	settings, _ := store.Get(sectionID)
	respondJSON(w, http.StatusOK, settingsView{
		SectionID: sectionID,
		Settings:  settings,
		Saving:    ws.Saving(sectionID),
	})
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())
	sectionID := chi.URLParam(r, "sectionID")

	saved, err := ws.SaveSettings(r.Context(), sectionID)
	if err != nil {
		respondCompositionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, settingsView{
		SectionID: sectionID,
		Settings:  saved,
		Saving:    ws.Saving(sectionID),
	})
}
