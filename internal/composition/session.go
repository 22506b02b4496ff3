package composition

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/terra-clan/assessment-composer/internal/models"
)

// EventType identifies a workspace change pushed to subscribers
type EventType string

const (
	EventDurationChanged  EventType = "duration_changed"
	EventOrderChanged     EventType = "order_changed"
	EventSectionsChanged  EventType = "sections_changed"
	EventSelectionChanged EventType = "selection_changed"
	EventReconciled       EventType = "reconciled"
)

// Event describes a change to one assessment's composition state
type Event struct {
	Type         EventType             `json:"type"`
	AssessmentID string                `json:"assessment_id"`
	SectionID    string                `json:"section_id,omitempty"`
	Duration     *models.Duration      `json:"duration,omitempty"`
	Total        *models.TotalDuration `json:"total,omitempty"`
	Order        []string              `json:"order,omitempty"`
	Message      string                `json:"message,omitempty"`
	At           time.Time             `json:"at"`
}

// refreshConcurrency bounds parallel section-question loads during a refresh
const refreshConcurrency = 4

// Session is the shared, mutable handle on one assessment's composition state.
// All mutation goes through the Order, Lifecycle and Membership controllers;
// the lock is never held across gateway calls.
type Session struct {
	mu           sync.RWMutex
	assessmentID string
	gw           Gateway
	logger       *slog.Logger

	name     string
	status   models.AssessmentStatus
	sections []*models.Section
	order    Overlay[[]string]
	count    Overlay[int]
	total    models.TotalDuration
	loaded   bool

	refreshSeq uint64
	appliedSeq uint64

	durationHooks []func(sectionID string, d models.Duration)
	removalHooks  []func(sectionID string)

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewSession creates an empty session; call Refresh for the initial load
func NewSession(assessmentID string, gw Gateway, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		assessmentID: assessmentID,
		gw:           gw,
		logger:       logger.With("assessment_id", assessmentID),
		subs:         make(map[int]chan Event),
	}
}

// AssessmentID returns the id of the assessment this session composes
func (s *Session) AssessmentID() string { return s.assessmentID }

// Loaded reports whether at least one refresh has completed
func (s *Session) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Refresh replaces local state with the authoritative server state.
// Optimistic overlays are cleared; disagreements are logged and the server wins.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.refreshSeq++
	seq := s.refreshSeq
	s.mu.Unlock()

	a, err := s.gw.GetAssessment(ctx, s.assessmentID)
	if err != nil {
		return opError(ErrFetch, "load assessment", "", err)
	}

	sections := make([]*models.Section, 0, len(a.Sections))
	for _, sec := range a.Sections {
		if sec != nil {
			sections = append(sections, sec.Clone())
		}
	}
	models.SortByPosition(sections)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, sec := range sections {
		if sec.Questions != nil {
			continue
		}
		sec := sec
		g.Go(func() error {
			groups, err := s.gw.GetSectionQuestions(gctx, s.assessmentID, sec.ID)
			if err != nil {
				return fmt.Errorf("section %s questions: %w", sec.ID, err)
			}
			if groups == nil {
				groups = models.QuestionGroups{}
			}
			sec.Questions = groups
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return opError(ErrFetch, "load section questions", "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// a later refresh already applied a newer snapshot
	if seq < s.appliedSeq {
		s.logger.Debug("stale refresh dropped", "seq", seq, "applied_seq", s.appliedSeq)
		return nil
	}
	s.appliedSeq = seq

	s.name = a.Name
	s.status = a.Status
	s.sections = sections
	models.Renumber(s.sections)
	ids := models.SectionIDs(s.sections)

	if prev, had := s.order.Confirm(ids); had && !sameOrder(prev, ids) {
		s.reconciledLocked(&ReconciliationMismatch{Field: "section_order", Pending: prev, Confirmed: ids})
	}
	if prev, had := s.count.Confirm(len(ids)); had && prev != len(ids) {
		s.reconciledLocked(&ReconciliationMismatch{Field: "section_count", Pending: prev, Confirmed: len(ids)})
	}

	s.loaded = true
	s.recomputeLocked(ids...)
	s.emitLocked(Event{Type: EventSectionsChanged, Order: ids})

	s.logger.Debug("assessment refreshed", "sections", len(ids), "total_minutes", s.total.Minutes())
	return nil
}

// Assessment returns a snapshot of the assessment as the console should render it
func (s *Session) Assessment() *models.Assessment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &models.Assessment{
		ID:            s.assessmentID,
		Name:          s.name,
		Status:        s.status,
		Sections:      s.viewLocked(),
		TotalDuration: s.total,
	}
}

// Sections returns the rendered section order (pending order when one is set)
func (s *Session) Sections() []*models.Section {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

// Section returns a copy of one section as rendered
func (s *Session) Section(sectionID string) (*models.Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sec := range s.viewLocked() {
		if sec.ID == sectionID {
			return sec, nil
		}
	}
	return nil, ErrSectionNotFound
}

// SectionCount returns the optimistic section count when pending, else the confirmed one
func (s *Session) SectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count.Value()
}

// TotalDuration returns the derived assessment total
func (s *Session) TotalDuration() models.TotalDuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// SectionDuration returns the derived duration of one section
func (s *Session) SectionDuration(sectionID string) (models.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec := s.findLocked(sectionID)
	if sec == nil {
		return models.Duration{}, false
	}
	return sec.Duration, true
}

// Subscribe registers for workspace events. Slow subscribers miss events
// rather than block controllers. The returned func unsubscribes.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

// Close ends every subscription
func (s *Session) Close() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// --- mutations used by the controllers ---

func (s *Session) onSectionDuration(fn func(sectionID string, d models.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durationHooks = append(s.durationHooks, fn)
}

func (s *Session) onSectionRemoved(fn func(sectionID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removalHooks = append(s.removalHooks, fn)
}

func (s *Session) currentOrder() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.SectionIDs(s.viewLocked())
}

func (s *Session) confirmedOrder() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.SectionIDs(s.sections)
}

func (s *Session) hasSection(sectionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(sectionID) != nil
}

func (s *Session) sectionHasQuestion(sectionID, questionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec := s.findLocked(sectionID)
	if sec == nil {
		return false, ErrSectionNotFound
	}
	return sec.Questions.Contains(questionID), nil
}

func (s *Session) setPendingOrder(ids []string) []*models.Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order.Propose(append([]string(nil), ids...))
	s.recomputeLocked()
	view := s.viewLocked()
	s.emitLocked(Event{Type: EventOrderChanged, Order: models.SectionIDs(view)})
	return view
}

func (s *Session) discardPendingOrder() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, had := s.order.Pending(); !had {
		return
	}
	s.order.Discard()
	s.recomputeLocked()
	s.emitLocked(Event{Type: EventOrderChanged, Order: models.SectionIDs(s.viewLocked())})
}

func (s *Session) addSection(sec *models.Section) *models.Section {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := sec.Clone()
	added.Position = len(s.sections) + 1
	if added.Questions == nil {
		added.Questions = models.QuestionGroups{}
	}
	s.sections = append(s.sections, added)
	s.count.Propose(s.count.Value() + 1)

	s.recomputeLocked(added.ID)
	s.emitLocked(Event{Type: EventSectionsChanged, SectionID: added.ID, Order: models.SectionIDs(s.viewLocked())})
	return added.Clone()
}

func (s *Session) updateSectionInfo(sectionID, name, instructions string) (*models.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec := s.findLocked(sectionID)
	if sec == nil {
		return nil, ErrSectionNotFound
	}
	sec.Name = name
	sec.Instructions = instructions
	s.emitLocked(Event{Type: EventSectionsChanged, SectionID: sectionID})
	return sec.Clone(), nil
}

func (s *Session) removeSection(sectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.sections[:0]
	removed := false
	for _, sec := range s.sections {
		if sec.ID == sectionID {
			removed = true
			continue
		}
		kept = append(kept, sec)
	}
	if !removed {
		return
	}
	s.sections = kept
	models.Renumber(s.sections)

	if pending, ok := s.order.Pending(); ok {
		s.order.Propose(without(pending, sectionID))
	}
	next := s.count.Value() - 1
	if next < 0 {
		next = 0
	}
	s.count.Propose(next)

	for _, fn := range s.removalHooks {
		fn(sectionID)
	}
	s.recomputeLocked()
	s.emitLocked(Event{Type: EventSectionsChanged, SectionID: sectionID, Order: models.SectionIDs(s.viewLocked())})
}

func (s *Session) replaceSectionQuestions(sectionID string, groups models.QuestionGroups) error {
	return s.mutateSectionQuestions(sectionID, func(models.QuestionGroups) models.QuestionGroups {
		return groups.Clone()
	})
}

func (s *Session) mutateSectionQuestions(sectionID string, fn func(models.QuestionGroups) models.QuestionGroups) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec := s.findLocked(sectionID)
	if sec == nil {
		return ErrSectionNotFound
	}
	sec.Questions = fn(sec.Questions.Clone())
	if sec.Questions == nil {
		sec.Questions = models.QuestionGroups{}
	}
	s.recomputeLocked(sectionID)
	return nil
}

// --- internals; callers hold s.mu ---

func (s *Session) findLocked(sectionID string) *models.Section {
	for _, sec := range s.sections {
		if sec.ID == sectionID {
			return sec
		}
	}
	return nil
}

func (s *Session) viewLocked() []*models.Section {
	out := models.CloneSections(s.sections)
	if pending, ok := s.order.Pending(); ok {
		out = applyOrder(out, pending)
	}
	models.Renumber(out)
	return out
}

// recomputeLocked re-derives durations for the given sections and the
// assessment total. With no ids only the total is recomputed.
func (s *Session) recomputeLocked(sectionIDs ...string) {
	s.total = TotalDuration(s.sections)
	total := s.total

	for _, id := range sectionIDs {
		sec := s.findLocked(id)
		if sec == nil {
			continue
		}
		d := SectionDuration(sec)
		sec.Duration = d
		sec.QuestionCount = sec.Questions.Count()
		sec.TotalScore = sec.Questions.TotalScore()
		if sec.Settings != nil {
			sec.Settings.SectionTime = d
		}
		for _, fn := range s.durationHooks {
			fn(id, d)
		}
		s.emitLocked(Event{Type: EventDurationChanged, SectionID: id, Duration: &d, Total: &total})
	}

	if len(sectionIDs) == 0 {
		s.emitLocked(Event{Type: EventDurationChanged, Total: &total})
	}
}

func (s *Session) reconciledLocked(m *ReconciliationMismatch) {
	s.logger.Info("optimistic state superseded by server", "field", m.Field, "detail", m.Error())
	s.emitLocked(Event{Type: EventReconciled, Message: m.Error()})
}

func (s *Session) emitLocked(ev Event) {
	ev.AssessmentID = s.assessmentID
	ev.At = time.Now().UTC()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("dropping event for slow subscriber", "subscriber", id, "type", ev.Type)
		}
	}
}

// emit is used by controllers that do not otherwise hold the session lock
func (s *Session) emit(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.emitLocked(ev)
}

func applyOrder(sections []*models.Section, ids []string) []*models.Section {
	byID := make(map[string]*models.Section, len(sections))
	for _, sec := range sections {
		byID[sec.ID] = sec
	}

	out := make([]*models.Section, 0, len(sections))
	used := make(map[string]bool, len(ids))
	for _, id := range ids {
		if sec, ok := byID[id]; ok && !used[id] {
			out = append(out, sec)
			used[id] = true
		}
	}
	for _, sec := range sections {
		if !used[sec.ID] {
			out = append(out, sec)
		}
	}
	return out
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
