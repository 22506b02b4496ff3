package storeapi

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/terra-clan/assessment-composer/internal/models"
	"github.com/terra-clan/assessment-composer/internal/storage"
)

// memRepo is an in-memory storage.Repository
type memRepo struct {
	mu          sync.Mutex
	orgs        map[string]string // assessment -> organization
	assessments map[string]*models.Assessment
	sections    map[string][]*models.Section // assessment -> sections by position
	settings    map[string]*models.SectionSettings
	members     map[string][]string // section -> question ids
	questions   map[string]models.QuestionRef
	questionOrg map[string]string
	clients     map[string]*models.ApiClient
	lastUsed    chan string
	nextID      int
}

var _ storage.Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{
		orgs:        map[string]string{},
		assessments: map[string]*models.Assessment{},
		sections:    map[string][]*models.Section{},
		settings:    map[string]*models.SectionSettings{},
		members:     map[string][]string{},
		questions:   map[string]models.QuestionRef{},
		questionOrg: map[string]string{},
		clients:     map[string]*models.ApiClient{},
		lastUsed:    make(chan string, 16),
	}
}

func (m *memRepo) addClient(key, org string, perms ...string) {
	m.clients[key] = &models.ApiClient{
		ID: len(m.clients) + 1, Name: "client-" + key, ApiKey: key,
		OrganizationID: org, IsActive: true, Permissions: perms,
	}
}

func (m *memRepo) addQuestion(org string, q models.QuestionRef) {
	m.questions[q.ID] = q
	m.questionOrg[q.ID] = org
}

func (m *memRepo) id(prefix string) string {
	m.nextID++
	return prefix + strconv.Itoa(m.nextID)
}

func (m *memRepo) CreateAssessment(_ context.Context, a *models.Assessment, org string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = m.id("a")
	}
	if a.Status == "" {
		a.Status = models.StatusDraft
	}
	a.CreatedAt = time.Now()
	m.assessments[a.ID] = a
	m.orgs[a.ID] = org
	return nil
}

func (m *memRepo) GetAssessment(_ context.Context, id string) (*models.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *a
	out.Sections = models.CloneSections(m.sections[id])
	return &out, nil
}

func (m *memRepo) AssessmentOrganization(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[id]
	if !ok {
		return "", storage.ErrNotFound
	}
	return org, nil
}

func (m *memRepo) CreateSection(_ context.Context, aid string, in models.SectionInput) (*models.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assessments[aid]; !ok {
		return nil, storage.ErrNotFound
	}
	sec := &models.Section{
		ID: m.id("s"), AssessmentID: aid, Name: in.Name, Instructions: in.Description,
		Position: len(m.sections[aid]) + 1,
	}
	m.sections[aid] = append(m.sections[aid], sec)
	m.settings[sec.ID] = models.DefaultSectionSettings()
	return sec.Clone(), nil
}

func (m *memRepo) findLocked(aid, sid string) (int, *models.Section) {
	for i, s := range m.sections[aid] {
		if s.ID == sid {
			return i, s
		}
	}
	return -1, nil
}

func (m *memRepo) UpdateSection(_ context.Context, aid, sid string, in models.SectionInput) (*models.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, sec := m.findLocked(aid, sid)
	if sec == nil {
		return nil, storage.ErrNotFound
	}
	sec.Name, sec.Instructions = in.Name, in.Description
	return sec.Clone(), nil
}

func (m *memRepo) DeleteSection(_ context.Context, aid, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, sec := m.findLocked(aid, sid)
	if sec == nil {
		return storage.ErrNotFound
	}
	m.sections[aid] = append(m.sections[aid][:i], m.sections[aid][i+1:]...)
	models.Renumber(m.sections[aid])
	delete(m.settings, sid)
	delete(m.members, sid)
	return nil
}

func (m *memRepo) ReorderSections(_ context.Context, aid string, order []models.SectionOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := storage.ValidateOrder(models.SectionIDs(m.sections[aid]), order); err != nil {
		return err
	}
	pos := make(map[string]int, len(order))
	for _, o := range order {
		pos[o.SectionID] = o.NewOrder
	}
	for _, s := range m.sections[aid] {
		s.Position = pos[s.ID]
	}
	models.SortByPosition(m.sections[aid])
	return nil
}

func (m *memRepo) minutesLocked(sid string) int {
	total := 0
	for _, qid := range m.members[sid] {
		total += m.questions[qid].TimeLimit.Minutes()
	}
	return total
}

func (m *memRepo) GetSectionSettings(_ context.Context, aid, sid string) (*models.SectionSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, sec := m.findLocked(aid, sid); sec == nil {
		return nil, storage.ErrNotFound
	}
	s := m.settings[sid].Clone()
	s.SectionTime = models.DurationFromMinutes(m.minutesLocked(sid))
	return s, nil
}

func (m *memRepo) UpdateSectionSettings(ctx context.Context, aid, sid string, s models.SectionSettings) (*models.SectionSettings, error) {
	m.mu.Lock()
	if _, sec := m.findLocked(aid, sid); sec == nil {
		m.mu.Unlock()
		return nil, storage.ErrNotFound
	}
	m.settings[sid] = s.Clone()
	m.mu.Unlock()
	return m.GetSectionSettings(ctx, aid, sid)
}

func (m *memRepo) GetSectionQuestions(_ context.Context, aid, sid string) ([]models.QuestionRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, sec := m.findLocked(aid, sid); sec == nil {
		return nil, storage.ErrNotFound
	}
	out := []models.QuestionRef{}
	for _, qid := range m.members[sid] {
		out = append(out, m.questions[qid])
	}
	return out, nil
}

func (m *memRepo) AddSectionQuestions(_ context.Context, aid, sid string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, sec := m.findLocked(aid, sid); sec == nil {
		return storage.ErrNotFound
	}
	for _, id := range ids {
		if _, ok := m.questions[id]; !ok {
			return storage.ErrNotFound
		}
	}
	for _, id := range ids {
		found := false
		for _, have := range m.members[sid] {
			found = found || have == id
		}
		if !found {
			m.members[sid] = append(m.members[sid], id)
		}
	}
	return nil
}

func (m *memRepo) RemoveSectionQuestions(_ context.Context, aid, sid string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, sec := m.findLocked(aid, sid); sec == nil {
		return storage.ErrNotFound
	}
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.members[sid][:0]
	for _, id := range m.members[sid] {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	m.members[sid] = kept
	return nil
}

func (m *memRepo) ListQuestions(_ context.Context, org string, q models.QuestionQuery) ([]models.QuestionRef, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := org
	if q.Scope == models.ScopeGlobal {
		want = ""
	}
	var out []models.QuestionRef
	for id, ref := range m.questions {
		if m.questionOrg[id] != want {
			continue
		}
		if q.CategoryID != "" && ref.CategoryID != q.CategoryID {
			continue
		}
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, total, nil
}

func (m *memRepo) GetClientByApiKey(_ context.Context, key string) (*models.ApiClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[key], nil
}

func (m *memRepo) UpdateClientLastUsed(_ context.Context, key string) error {
	select {
	case m.lastUsed <- key:
	default:
	}
	return nil
}

func (m *memRepo) Ping(context.Context) error { return nil }
func (m *memRepo) Close() error               { return nil }
