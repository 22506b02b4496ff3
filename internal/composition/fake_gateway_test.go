package composition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/terra-clan/assessment-composer/internal/models"
)

var errBoom = errors.New("boom")

// fakeGateway is an in-memory gateway with per-method failure injection
type fakeGateway struct {
	mu sync.Mutex

	name      string
	sections  []*models.Section
	settings  map[string]*models.SectionSettings
	questions map[string][]models.QuestionRef
	catalog   []models.QuestionRef

	// server-side settings returned on save (overrides echo when set)
	savedOverride *models.SectionSettings

	fail    map[string]error
	calls   map[string]int
	reorder [][]models.SectionOrder
	nextID  int

	// hooks run inside calls, outside the fake's lock
	beforeSave func()
	hooks      map[string]func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		name:      "Backend Hiring",
		settings:  make(map[string]*models.SectionSettings),
		questions: make(map[string][]models.QuestionRef),
		fail:      make(map[string]error),
		calls:     make(map[string]int),
		hooks:     make(map[string]func()),
	}
}

// withSection seeds a section with the given questions (time limits in minutes)
func (g *fakeGateway) withSection(id string, limits ...int) *fakeGateway {
	g.sections = append(g.sections, &models.Section{
		ID:           id,
		Name:         "Section " + id,
		Instructions: "Answer all questions",
		Position:     len(g.sections) + 1,
	})
	for i, l := range limits {
		g.questions[id] = append(g.questions[id], models.QuestionRef{
			ID:         fmt.Sprintf("%s-q%d", id, i+1),
			CategoryID: "cat1",
			TypeCode:   "mcq",
			TimeLimit:  models.TimeLimit(l),
			Score:      1,
		})
	}
	return g
}

func (g *fakeGateway) called(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[method]
}

func (g *fakeGateway) enter(method string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[method]++
	return g.fail[method]
}

// setHook runs fn inside every later call to method
func (g *fakeGateway) setHook(method string, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks[method] = fn
}

func (g *fakeGateway) runHook(method string) {
	g.mu.Lock()
	fn := g.hooks[method]
	g.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (g *fakeGateway) setFail(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.fail, method)
		return
	}
	g.fail[method] = err
}

func (g *fakeGateway) GetAssessment(ctx context.Context, assessmentID string) (*models.Assessment, error) {
	if err := g.enter("GetAssessment"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	a := &models.Assessment{
		ID:       assessmentID,
		Name:     g.name,
		Status:   models.StatusDraft,
		Sections: models.CloneSections(g.sections),
	}
	g.mu.Unlock()
	g.runHook("GetAssessment")
	return a, nil
}

func (g *fakeGateway) CreateSection(ctx context.Context, assessmentID string, in models.SectionInput) (*models.Section, error) {
	if err := g.enter("CreateSection"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	sec := &models.Section{
		ID:           fmt.Sprintf("new-%d", g.nextID),
		Name:         in.Name,
		Instructions: in.Description,
		Position:     len(g.sections) + 1,
	}
	g.sections = append(g.sections, sec)
	return sec.Clone(), nil
}

func (g *fakeGateway) UpdateSection(ctx context.Context, assessmentID, sectionID string, in models.SectionInput) (*models.Section, error) {
	if err := g.enter("UpdateSection"); err != nil {
		return nil, err
	}
	g.runHook("UpdateSection")
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, sec := range g.sections {
		if sec.ID == sectionID {
			sec.Name = in.Name
			sec.Instructions = in.Description
			return sec.Clone(), nil
		}
	}
	return nil, errors.New("not found")
}

func (g *fakeGateway) DeleteSection(ctx context.Context, assessmentID, sectionID string) error {
	if err := g.enter("DeleteSection"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.sections[:0]
	for _, sec := range g.sections {
		if sec.ID != sectionID {
			kept = append(kept, sec)
		}
	}
	g.sections = kept
	models.Renumber(g.sections)
	delete(g.questions, sectionID)
	return nil
}

func (g *fakeGateway) ReorderSections(ctx context.Context, assessmentID string, order []models.SectionOrder) error {
	if err := g.enter("ReorderSections"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reorder = append(g.reorder, append([]models.SectionOrder(nil), order...))
	pos := make(map[string]int, len(order))
	for _, o := range order {
		pos[o.SectionID] = o.NewOrder
	}
	for _, sec := range g.sections {
		sec.Position = pos[sec.ID]
	}
	sort.SliceStable(g.sections, func(i, j int) bool { return g.sections[i].Position < g.sections[j].Position })
	return nil
}

func (g *fakeGateway) GetSectionSettings(ctx context.Context, assessmentID, sectionID string) (*models.SectionSettings, error) {
	if err := g.enter("GetSectionSettings"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.settings[sectionID]; ok {
		return s.Clone(), nil
	}
	return models.DefaultSectionSettings(), nil
}

func (g *fakeGateway) UpdateSectionSettings(ctx context.Context, assessmentID, sectionID string, settings models.SectionSettings) (*models.SectionSettings, error) {
	if g.beforeSave != nil {
		g.beforeSave()
	}
	if err := g.enter("UpdateSectionSettings"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settings[sectionID] = settings.Clone()
	if g.savedOverride != nil {
		return g.savedOverride.Clone(), nil
	}
	return settings.Clone(), nil
}

func (g *fakeGateway) GetSectionQuestions(ctx context.Context, assessmentID, sectionID string) (models.QuestionGroups, error) {
	if err := g.enter("GetSectionQuestions"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return models.GroupByType(g.questions[sectionID]), nil
}

func (g *fakeGateway) AddQuestionsToSection(ctx context.Context, assessmentID, sectionID string, questionIDs []string) error {
	if err := g.enter("AddQuestionsToSection"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range questionIDs {
		for _, q := range g.catalog {
			if q.ID == id {
				g.questions[sectionID] = append(g.questions[sectionID], q)
			}
		}
	}
	return nil
}

func (g *fakeGateway) RemoveQuestionsFromSection(ctx context.Context, assessmentID, sectionID string, questionIDs []string) error {
	if err := g.enter("RemoveQuestionsFromSection"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	drop := make(map[string]bool, len(questionIDs))
	for _, id := range questionIDs {
		drop[id] = true
	}
	kept := g.questions[sectionID][:0]
	for _, q := range g.questions[sectionID] {
		if !drop[q.ID] {
			kept = append(kept, q)
		}
	}
	g.questions[sectionID] = kept
	return nil
}

func (g *fakeGateway) GetScopedQuestions(ctx context.Context, query models.QuestionQuery) ([]models.QuestionRef, error) {
	if err := g.enter("GetScopedQuestions"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.QuestionRef(nil), g.catalog...), nil
}

func positions(sections []*models.Section) []int {
	out := make([]int, len(sections))
	for i, s := range sections {
		out[i] = s.Position
	}
	return out
}

func contiguous(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}
