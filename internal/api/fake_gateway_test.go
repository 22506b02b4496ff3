package api

import (
	"context"
	"strconv"
	"sync"

	"github.com/terra-clan/assessment-composer/internal/composition"
	"github.com/terra-clan/assessment-composer/internal/models"
	"github.com/terra-clan/assessment-composer/pkg/client"
)

// memGateway is an in-memory composition.Gateway serving one assessment
type memGateway struct {
	mu        sync.Mutex
	id        string
	sections  []*models.Section
	settings  map[string]*models.SectionSettings
	members   map[string][]string
	catalog   map[string]models.QuestionRef
	nextID    int
	saveGate  chan struct{}
	saveCalls int
}

var _ composition.Gateway = (*memGateway)(nil)

func newMemGateway(assessmentID string) *memGateway {
	g := &memGateway{
		id:       assessmentID,
		settings: map[string]*models.SectionSettings{},
		members:  map[string][]string{},
		catalog:  map[string]models.QuestionRef{},
	}
	for _, q := range []models.QuestionRef{
		{ID: "q1", CategoryID: "go", TypeCode: "mcq", TimeLimit: 5, Score: 1},
		{ID: "q2", CategoryID: "go", TypeCode: "coding", TimeLimit: 40, Score: 10},
		{ID: "q3", CategoryID: "sql", TypeCode: "mcq", TimeLimit: 30, Score: 1},
	} {
		g.catalog[q.ID] = q
	}
	return g
}

func notFound() error {
	return &client.APIError{StatusCode: 404, Code: "not_found", Message: "resource not found"}
}

func (g *memGateway) findLocked(sid string) (int, *models.Section) {
	for i, s := range g.sections {
		if s.ID == sid {
			return i, s
		}
	}
	return -1, nil
}

func (g *memGateway) GetAssessment(_ context.Context, id string) (*models.Assessment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id != g.id {
		return nil, notFound()
	}
	return &models.Assessment{ID: id, Name: "Backend Hiring", Status: models.StatusDraft, Sections: models.CloneSections(g.sections)}, nil
}

func (g *memGateway) CreateSection(_ context.Context, _ string, in models.SectionInput) (*models.Section, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	sec := &models.Section{ID: "s" + strconv.Itoa(g.nextID), Name: in.Name, Instructions: in.Description, Position: len(g.sections) + 1}
	g.sections = append(g.sections, sec)
	g.settings[sec.ID] = models.DefaultSectionSettings()
	return sec.Clone(), nil
}

func (g *memGateway) UpdateSection(_ context.Context, _, sid string, in models.SectionInput) (*models.Section, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, sec := g.findLocked(sid)
	if sec == nil {
		return nil, notFound()
	}
	sec.Name, sec.Instructions = in.Name, in.Description
	return sec.Clone(), nil
}

func (g *memGateway) DeleteSection(_ context.Context, _, sid string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	i, sec := g.findLocked(sid)
	if sec == nil {
		return notFound()
	}
	g.sections = append(g.sections[:i], g.sections[i+1:]...)
	models.Renumber(g.sections)
	return nil
}

func (g *memGateway) ReorderSections(_ context.Context, _ string, order []models.SectionOrder) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	pos := map[string]int{}
	for _, o := range order {
		pos[o.SectionID] = o.NewOrder
	}
	for _, s := range g.sections {
		s.Position = pos[s.ID]
	}
	models.SortByPosition(g.sections)
	return nil
}

func (g *memGateway) GetSectionSettings(_ context.Context, _, sid string) (*models.SectionSettings, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.settings[sid]
	if !ok {
		return nil, notFound()
	}
	return s.Clone(), nil
}

func (g *memGateway) UpdateSectionSettings(_ context.Context, _, sid string, s models.SectionSettings) (*models.SectionSettings, error) {
	g.mu.Lock()
	gate := g.saveGate
	g.saveCalls++
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.settings[sid] = s.Clone()
	return s.Clone(), nil
}

func (g *memGateway) GetSectionQuestions(_ context.Context, _, sid string) (models.QuestionGroups, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []models.QuestionRef
	for _, id := range g.members[sid] {
		out = append(out, g.catalog[id])
	}
	return models.GroupByType(out), nil
}

func (g *memGateway) AddQuestionsToSection(_ context.Context, _, sid string, ids []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		if _, ok := g.catalog[id]; !ok {
			return notFound()
		}
	}
	g.members[sid] = append(g.members[sid], ids...)
	return nil
}

func (g *memGateway) RemoveQuestionsFromSection(_ context.Context, _, sid string, ids []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	var kept []string
	for _, id := range g.members[sid] {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	g.members[sid] = kept
	return nil
}

func (g *memGateway) GetScopedQuestions(_ context.Context, q models.QuestionQuery) ([]models.QuestionRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []models.QuestionRef
	for _, id := range []string{"q1", "q2", "q3"} {
		out = append(out, g.catalog[id])
	}
	return out, nil
}
