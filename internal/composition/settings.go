package composition

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"sync"

	"github.com/terra-clan/assessment-composer/internal/models"
)

// Settings fields addressable by SetField and SetNestedField
const (
	FieldSectionTime      = "section_time"
	FieldSectionBreakTime = "section_break_time"
	FieldCutoff           = "cutoff"
	FieldProctoring       = "proctoring"
	FieldPoolingEnabled   = "pooling_enabled"

	FieldHours = "hours"
	FieldMins  = "mins"
)

type settingsEdit struct {
	rev   int
	apply func(*models.SectionSettings)
}

type settingsEntry struct {
	settings *models.SectionSettings
	rev      int
	inflight int
	// edits made while at least one save is in flight, replayed over the
	// server response so they are not clobbered by the merge
	journal []settingsEdit
}

// SettingsStore keeps per-section settings keyed by section id.
// section_time is always the locally derived value.
type SettingsStore struct {
	s *Session

	mu      sync.Mutex
	entries map[string]*settingsEntry
}

// NewSettingsStore creates a store bound to the session's derived durations
func NewSettingsStore(s *Session) *SettingsStore {
	st := &SettingsStore{s: s, entries: make(map[string]*settingsEntry)}
	s.onSectionDuration(st.applySectionTime)
	s.onSectionRemoved(st.forget)
	return st
}

// Get returns a copy of the in-memory settings for a section
func (st *SettingsStore) Get(sectionID string) (*models.SectionSettings, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[sectionID]
	if !ok {
		return nil, false
	}
	return e.settings.Clone(), true
}

// Fetch loads settings from the gateway. The returned section_time is
// replaced by the duration derived from the section's questions.
func (st *SettingsStore) Fetch(ctx context.Context, sectionID string) (*models.SectionSettings, error) {
	if !st.s.hasSection(sectionID) {
		return nil, ErrSectionNotFound
	}

	remote, err := st.s.gw.GetSectionSettings(ctx, st.s.assessmentID, sectionID)
	if err != nil {
		return nil, opError(ErrFetch, "fetch section settings", sectionID, err)
	}
	if remote == nil {
		remote = models.DefaultSectionSettings()
	}

	local := remote.Clone()
	if d, ok := st.s.SectionDuration(sectionID); ok {
		local.SectionTime = d
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	e := st.entryLocked(sectionID, local.SectionTime)
	e.settings = local
	e.rev++
	return local.Clone(), nil
}

// SetField merges one top-level field into the in-memory settings
func (st *SettingsStore) SetField(sectionID, field string, value interface{}) error {
	var apply func(*models.SectionSettings)

	switch field {
	case FieldSectionTime:
		return invalid(field, "is derived from question time limits and cannot be edited")
	case FieldSectionBreakTime:
		d, err := toDuration(field, value)
		if err != nil {
			return err
		}
		apply = func(s *models.SectionSettings) { s.SectionBreakTime = d }
	case FieldCutoff:
		f, err := toFloat(field, value)
		if err != nil {
			return err
		}
		if f < 0 || f > 100 {
			return invalid(field, "must be between 0 and 100")
		}
		apply = func(s *models.SectionSettings) { s.Cutoff = f }
	case FieldProctoring:
		flags, err := toFlags(field, value)
		if err != nil {
			return err
		}
		apply = func(s *models.SectionSettings) { s.Proctoring = flags }
	case FieldPoolingEnabled:
		b, ok := value.(bool)
		if !ok {
			return invalid(field, "must be a boolean")
		}
		apply = func(s *models.SectionSettings) { s.PoolingEnabled = b }
	default:
		return invalid(field, "unknown settings field")
	}

	return st.edit(sectionID, apply)
}

// SetNestedField merges one child of a nested settings field
func (st *SettingsStore) SetNestedField(sectionID, parent, child string, value interface{}) error {
	var apply func(*models.SectionSettings)
	path := parent + "." + child

	switch parent {
	case FieldSectionTime:
		return invalid(parent, "is derived from question time limits and cannot be edited")
	case FieldSectionBreakTime:
		n, err := toInt(path, value)
		if err != nil {
			return err
		}
		switch child {
		case FieldHours:
			if n < 0 {
				return invalid(path, "must not be negative")
			}
			apply = func(s *models.SectionSettings) { s.SectionBreakTime.Hours = n }
		case FieldMins:
			if n < 0 || n > 59 {
				return invalid(path, "must be between 0 and 59")
			}
			apply = func(s *models.SectionSettings) { s.SectionBreakTime.Mins = n }
		default:
			return invalid(path, "unknown settings field")
		}
	case FieldProctoring:
		if child == "" {
			return invalid(path, "capability name is required")
		}
		b, ok := value.(bool)
		if !ok {
			return invalid(path, "must be a boolean")
		}
		apply = func(s *models.SectionSettings) {
			if s.Proctoring == nil {
				s.Proctoring = map[string]bool{}
			}
			s.Proctoring[child] = b
		}
	default:
		return invalid(path, "unknown settings field")
	}

	return st.edit(sectionID, apply)
}

// Save sends the full in-memory settings to the gateway. On success the
// response is merged back but the locally held section_time is kept and
// edits made during the save are replayed. On failure memory is untouched.
func (st *SettingsStore) Save(ctx context.Context, sectionID string) (*models.SectionSettings, error) {
	if !st.s.hasSection(sectionID) {
		return nil, ErrSectionNotFound
	}

	d, _ := st.s.SectionDuration(sectionID)
	st.mu.Lock()
	e := st.entryLocked(sectionID, d)
	snapshot := e.settings.Clone()
	startRev := e.rev
	e.inflight++
	st.mu.Unlock()

	defer func() {
		st.mu.Lock()
		if e, ok := st.entries[sectionID]; ok {
			e.inflight--
			if e.inflight <= 0 {
				e.inflight = 0
				e.journal = nil
			}
		}
		st.mu.Unlock()
	}()

	if err := models.Validate(snapshot); err != nil {
		return nil, invalid("settings", "%v", err)
	}

	saved, err := st.s.gw.UpdateSectionSettings(ctx, st.s.assessmentID, sectionID, *snapshot)
	if err != nil {
		st.s.logger.Warn("section settings save failed", "section_id", sectionID, "error", err)
		return nil, opError(ErrSave, "save section settings", sectionID, err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.entries[sectionID]
	if !ok {
		// section removed while the save was in flight
		return snapshot, nil
	}

	merged := snapshot
	if saved != nil {
		merged = saved.Clone()
	}
	merged.SectionTime = e.settings.SectionTime
	for _, edit := range e.journal {
		if edit.rev > startRev {
			edit.apply(merged)
		}
	}
	e.settings = merged
	e.rev++

	return merged.Clone(), nil
}

// ApplyPreset overwrites the user-set fields with a preset's defaults
func (st *SettingsStore) ApplyPreset(sectionID string, p *models.SectionPreset) error {
	if p == nil {
		return nil
	}
	flags := make(map[string]bool, len(p.Proctoring))
	for k, v := range p.Proctoring {
		flags[k] = v
	}
	return st.edit(sectionID, func(s *models.SectionSettings) {
		s.SectionBreakTime = p.BreakTime
		s.Cutoff = p.Cutoff
		s.Proctoring = flags
		s.PoolingEnabled = p.PoolingEnabled
	})
}

func (st *SettingsStore) edit(sectionID string, apply func(*models.SectionSettings)) error {
	if !st.s.hasSection(sectionID) {
		return ErrSectionNotFound
	}

	d, _ := st.s.SectionDuration(sectionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	e := st.entryLocked(sectionID, d)
	apply(e.settings)
	e.rev++
	if e.inflight > 0 {
		e.journal = append(e.journal, settingsEdit{rev: e.rev, apply: apply})
	}
	return nil
}

// entryLocked must not call into the session: duration hooks take st.mu
// while the session lock is held.
func (st *SettingsStore) entryLocked(sectionID string, sectionTime models.Duration) *settingsEntry {
	e, ok := st.entries[sectionID]
	if ok {
		return e
	}
	settings := models.DefaultSectionSettings()
	settings.SectionTime = sectionTime
	e = &settingsEntry{settings: settings}
	st.entries[sectionID] = e
	return e
}

// applySectionTime runs under the session lock; it must not call back into the session
func (st *SettingsStore) applySectionTime(sectionID string, d models.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if e, ok := st.entries[sectionID]; ok {
		e.settings.SectionTime = d
	}
}

func (st *SettingsStore) forget(sectionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.entries, sectionID)
}

// --- value coercion for form input ---

func toFloat(field string, v interface{}) (float64, error) {
	f, err := parseFloat(field, v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, invalid(field, "must be a number")
	}
	return f, nil
}

func parseFloat(field string, v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, invalid(field, "must be a number")
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, invalid(field, "must be a number")
		}
		return f, nil
	}
	return 0, invalid(field, "must be a number")
}

func toInt(field string, v interface{}) (int, error) {
	f, err := toFloat(field, v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, invalid(field, "must be a whole number")
	}
	return int(f), nil
}

func toDuration(field string, v interface{}) (models.Duration, error) {
	switch d := v.(type) {
	case models.Duration:
		if d.Hours < 0 || d.Mins < 0 || d.Mins > 59 {
			return models.Duration{}, invalid(field, "hours must be >= 0 and mins between 0 and 59")
		}
		return d, nil
	case map[string]interface{}:
		h, err := toInt(field+"."+FieldHours, orZero(d[FieldHours]))
		if err != nil {
			return models.Duration{}, err
		}
		m, err := toInt(field+"."+FieldMins, orZero(d[FieldMins]))
		if err != nil {
			return models.Duration{}, err
		}
		return toDuration(field, models.Duration{Hours: h, Mins: m})
	}
	return models.Duration{}, invalid(field, "must be an object with hours and mins")
}

func toFlags(field string, v interface{}) (map[string]bool, error) {
	switch m := v.(type) {
	case map[string]bool:
		out := make(map[string]bool, len(m))
		for k, b := range m {
			if k == "" {
				return nil, invalid(field, "capability name is required")
			}
			out[k] = b
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]bool, len(m))
		for k, raw := range m {
			b, ok := raw.(bool)
			if !ok || k == "" {
				return nil, invalid(field+"."+k, "must be a boolean")
			}
			out[k] = b
		}
		return out, nil
	}
	return nil, invalid(field, "must be an object of capability flags")
}

func orZero(v interface{}) interface{} {
	if v == nil {
		return 0
	}
	return v
}
