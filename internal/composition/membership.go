package composition

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/terra-clan/assessment-composer/internal/models"
)

// DefaultCatalogLimit is used when a catalog load does not set a limit
const DefaultCatalogLimit = 200

// Filter narrows the visible catalog
type Filter struct {
	CategoryID string `json:"category_id,omitempty"`
	TypeCode   string `json:"type_code,omitempty"`
}

// Active reports whether any filter field is set
func (f Filter) Active() bool { return f.CategoryID != "" || f.TypeCode != "" }

// Match reports whether a question passes the filter
func (f Filter) Match(q models.QuestionRef) bool {
	if f.CategoryID != "" && q.CategoryID != f.CategoryID {
		return false
	}
	if f.TypeCode != "" && q.TypeCode != f.TypeCode {
		return false
	}
	return true
}

// Selection is one question marked for addition, tagged with its category
type Selection struct {
	QuestionID string `json:"question_id"`
	CategoryID string `json:"category_id"`
}

// SelectionSet is an immutable snapshot of selected questions, ordered by id
type SelectionSet struct {
	items []Selection
}

func newSelectionSet(m map[string]string) SelectionSet {
	items := make([]Selection, 0, len(m))
	for id, cat := range m {
		items = append(items, Selection{QuestionID: id, CategoryID: cat})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].QuestionID < items[j].QuestionID })
	return SelectionSet{items: items}
}

// Len returns the number of selected questions
func (s SelectionSet) Len() int { return len(s.items) }

// Items returns a copy of the selections
func (s SelectionSet) Items() []Selection { return append([]Selection(nil), s.items...) }

// IDs returns the selected question ids
func (s SelectionSet) IDs() []string {
	out := make([]string, len(s.items))
	for i, it := range s.items {
		out[i] = it.QuestionID
	}
	return out
}

// Has reports whether a question is selected
func (s SelectionSet) Has(questionID string) bool {
	i := sort.Search(len(s.items), func(i int) bool { return s.items[i].QuestionID >= questionID })
	return i < len(s.items) && s.items[i].QuestionID == questionID
}

// InCategory counts selected questions of one category
func (s SelectionSet) InCategory(categoryID string) int {
	n := 0
	for _, it := range s.items {
		if it.CategoryID == categoryID {
			n++
		}
	}
	return n
}

func (s SelectionSet) MarshalJSON() ([]byte, error) {
	items := s.items
	if items == nil {
		items = []Selection{}
	}
	return json.Marshal(items)
}

// MembershipController tracks catalog selection and issues section
// membership changes against the gateway. Selection is independent of
// membership: a selected question is not necessarily in any section.
type MembershipController struct {
	s       *Session
	intents *Intents

	mu       sync.Mutex
	catalog  []models.QuestionRef
	scope    models.QuestionScope
	filter   Filter
	selected map[string]string // question id -> category id
	onChange []func(SelectionSet)
}

// NewMembershipController creates a controller over the session
func NewMembershipController(s *Session, intents *Intents) *MembershipController {
	if intents == nil {
		intents = NewIntents(0)
	}
	return &MembershipController{
		s:        s,
		intents:  intents,
		scope:    models.ScopeOrganization,
		selected: make(map[string]string),
	}
}

// OnSelectionChange registers a callback run after every selection change
func (m *MembershipController) OnSelectionChange(fn func(SelectionSet)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// LoadCatalog replaces the catalog with a scoped query result
func (m *MembershipController) LoadCatalog(ctx context.Context, q models.QuestionQuery) ([]models.QuestionRef, error) {
	if q.Scope == "" {
		q.Scope = models.ScopeOrganization
	}
	if !q.Scope.Valid() {
		return nil, invalid("scope", "must be %q or %q", models.ScopeOrganization, models.ScopeGlobal)
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, invalid("limit", "limit and offset must not be negative")
	}
	if q.Limit == 0 {
		q.Limit = DefaultCatalogLimit
	}

	questions, err := m.s.gw.GetScopedQuestions(ctx, q)
	if err != nil {
		return nil, opError(ErrFetch, "load question catalog", "", err)
	}

	m.mu.Lock()
	m.catalog = append([]models.QuestionRef(nil), questions...)
	m.scope = q.Scope
	m.mu.Unlock()

	m.s.logger.Debug("question catalog loaded", "scope", q.Scope, "questions", len(questions))
	return append([]models.QuestionRef(nil), questions...), nil
}

// Scope returns the library the catalog was last loaded from
func (m *MembershipController) Scope() models.QuestionScope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scope
}

// Catalog returns the catalog as narrowed by the active filter
func (m *MembershipController) Catalog() []models.QuestionRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visibleLocked()
}

// ListByCategory filters the full catalog by category id
func (m *MembershipController) ListByCategory(categoryID string) []models.QuestionRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.QuestionRef
	for _, q := range m.catalog {
		if q.CategoryID == categoryID {
			out = append(out, q)
		}
	}
	return out
}

// Filter returns the active filter
func (m *MembershipController) Filter() Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter
}

// SetFilter changes the active filter. A changed filter clears the selection.
func (m *MembershipController) SetFilter(f Filter) SelectionSet {
	f.CategoryID = strings.TrimSpace(f.CategoryID)
	f.TypeCode = strings.TrimSpace(f.TypeCode)

	m.mu.Lock()
	if f == m.filter {
		set := newSelectionSet(m.selected)
		m.mu.Unlock()
		return set
	}
	m.filter = f
	m.selected = make(map[string]string)
	return m.unlockAndNotify()
}

// Selection returns the current selection
func (m *MembershipController) Selection() SelectionSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newSelectionSet(m.selected)
}

// RestoreSelection replaces the selection without notifying listeners
func (m *MembershipController) RestoreSelection(items []Selection) SelectionSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = make(map[string]string, len(items))
	for _, it := range items {
		if it.QuestionID != "" {
			m.selected[it.QuestionID] = it.CategoryID
		}
	}
	return newSelectionSet(m.selected)
}

// SelectAll selects every question visible under the active filter
func (m *MembershipController) SelectAll() SelectionSet {
	m.mu.Lock()
	for _, q := range m.visibleLocked() {
		m.selected[q.ID] = q.CategoryID
	}
	return m.unlockAndNotify()
}

// ClearAll empties the selection and clears the filter
func (m *MembershipController) ClearAll() SelectionSet {
	m.mu.Lock()
	m.selected = make(map[string]string)
	m.filter = Filter{}
	return m.unlockAndNotify()
}

// ToggleCategory selects every catalog question of the category, or
// deselects every selected question tagged with it
func (m *MembershipController) ToggleCategory(categoryID string, selected bool) SelectionSet {
	m.mu.Lock()
	if selected {
		for _, q := range m.catalog {
			if q.CategoryID == categoryID {
				if _, ok := m.selected[q.ID]; !ok {
					m.selected[q.ID] = q.CategoryID
				}
			}
		}
	} else {
		for id, cat := range m.selected {
			if cat == categoryID {
				delete(m.selected, id)
			}
		}
	}
	return m.unlockAndNotify()
}

// ToggleQuestion selects or deselects one catalog question
func (m *MembershipController) ToggleQuestion(questionID string, selected bool) (SelectionSet, error) {
	m.mu.Lock()
	if !selected {
		delete(m.selected, questionID)
		return m.unlockAndNotify(), nil
	}

	for _, q := range m.catalog {
		if q.ID == questionID {
			m.selected[q.ID] = q.CategoryID
			return m.unlockAndNotify(), nil
		}
	}
	m.mu.Unlock()
	return SelectionSet{}, ErrQuestionNotFound
}

// AddToSection attaches questions to a section. On success the section's
// questions are refetched, its duration recomputed, and the added ids
// leave the selection.
func (m *MembershipController) AddToSection(ctx context.Context, sectionID string, questionIDs []string) error {
	ids := dedupe(questionIDs)
	if len(ids) == 0 {
		return invalid("question_ids", "at least one question is required")
	}
	if !m.s.hasSection(sectionID) {
		return ErrSectionNotFound
	}

	if err := m.s.gw.AddQuestionsToSection(ctx, m.s.assessmentID, sectionID, ids); err != nil {
		m.s.logger.Warn("adding questions failed", "section_id", sectionID, "questions", len(ids), "error", err)
		return opError(ErrMembership, "add questions", sectionID, err)
	}

	m.mu.Lock()
	for _, id := range ids {
		delete(m.selected, id)
	}
	m.unlockAndNotify()

	m.s.logger.Info("questions added to section", "section_id", sectionID, "questions", len(ids))
	return m.refreshSection(ctx, sectionID)
}

// RequestRemoval opens the confirmation step for removing one question
func (m *MembershipController) RequestRemoval(sectionID, questionID string) (Intent, error) {
	ok, err := m.s.sectionHasQuestion(sectionID, questionID)
	if err != nil {
		return Intent{}, err
	}
	if !ok {
		return Intent{}, ErrQuestionNotFound
	}
	return m.intents.Open(IntentRemoveQuestion, sectionID, questionID), nil
}

// RemoveFromSection performs a confirmed removal. Nothing is removed
// locally until the gateway accepts it.
func (m *MembershipController) RemoveFromSection(ctx context.Context, intentID string) error {
	in, err := m.intents.Take(intentID, IntentRemoveQuestion)
	if err != nil {
		return err
	}
	if !m.s.hasSection(in.SectionID) {
		return ErrSectionNotFound
	}

	if err := m.s.gw.RemoveQuestionsFromSection(ctx, m.s.assessmentID, in.SectionID, []string{in.QuestionID}); err != nil {
		m.s.logger.Warn("removing question failed", "section_id", in.SectionID, "question_id", in.QuestionID, "error", err)
		return opError(ErrMembership, "remove question", in.SectionID, err)
	}

	m.s.logger.Info("question removed from section", "section_id", in.SectionID, "question_id", in.QuestionID)
	return m.refreshSection(ctx, in.SectionID)
}

// refreshSection reloads one section's questions; the rest of the assessment is untouched
func (m *MembershipController) refreshSection(ctx context.Context, sectionID string) error {
	groups, err := m.s.gw.GetSectionQuestions(ctx, m.s.assessmentID, sectionID)
	if err != nil {
		return opError(ErrFetch, "refresh section questions", sectionID, err)
	}
	if groups == nil {
		groups = models.QuestionGroups{}
	}
	return m.s.replaceSectionQuestions(sectionID, groups)
}

func (m *MembershipController) visibleLocked() []models.QuestionRef {
	out := make([]models.QuestionRef, 0, len(m.catalog))
	for _, q := range m.catalog {
		if m.filter.Match(q) {
			out = append(out, q)
		}
	}
	return out
}

// unlockAndNotify snapshots the selection, releases m.mu, then notifies listeners
func (m *MembershipController) unlockAndNotify() SelectionSet {
	set := newSelectionSet(m.selected)
	hooks := append(([]func(SelectionSet))(nil), m.onChange...)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(set)
	}
	m.s.emit(Event{Type: EventSelectionChanged, Message: selectionSummary(set)})
	return set
}

func selectionSummary(set SelectionSet) string {
	if set.Len() == 1 {
		return "1 question selected"
	}
	return strconv.Itoa(set.Len()) + " questions selected"
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
