package composition

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/assessment-composer/internal/models"
)

func catalogGateway() *fakeGateway {
	gw := newFakeGateway().withSection("S1", 10).withSection("S2")
	gw.catalog = []models.QuestionRef{
		{ID: "q1", CategoryID: "cat1", TypeCode: "mcq", TimeLimit: 5, Score: 2},
		{ID: "q2", CategoryID: "cat1", TypeCode: "coding", TimeLimit: 30, Score: 10},
		{ID: "q3", CategoryID: "cat2", TypeCode: "mcq", TimeLimit: 3, Score: 1},
		{ID: "q4", CategoryID: "cat2", TypeCode: "mcq", Score: 1},
		{ID: "q5", CategoryID: "cat3", TypeCode: "essay", TimeLimit: 20, Score: 5},
	}
	return gw
}

func withCatalog(t *testing.T, gw *fakeGateway, opts ...Option) *Workspace {
	t.Helper()
	w := openWorkspace(t, gw, opts...)
	_, err := w.Membership().LoadCatalog(context.Background(), models.QuestionQuery{Scope: models.ScopeOrganization})
	require.NoError(t, err)
	return w
}

func TestLoadCatalog_RejectsUnknownScope(t *testing.T) {
	gw := catalogGateway()
	w := openWorkspace(t, gw)

	_, err := w.Membership().LoadCatalog(context.Background(), models.QuestionQuery{Scope: "partner"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, gw.called("GetScopedQuestions"))
}

func TestLoadCatalog_Failure(t *testing.T) {
	gw := catalogGateway()
	gw.setFail("GetScopedQuestions", errBoom)
	w := openWorkspace(t, gw)

	_, err := w.Membership().LoadCatalog(context.Background(), models.QuestionQuery{Scope: models.ScopeGlobal})
	assert.ErrorIs(t, err, ErrFetch)
	assert.Empty(t, w.Membership().Catalog())
}

func TestListByCategory(t *testing.T) {
	w := withCatalog(t, catalogGateway())

	got := w.Membership().ListByCategory("cat2")
	require.Len(t, got, 2)
	assert.Equal(t, "q3", got[0].ID)
	assert.Equal(t, "q4", got[1].ID)
	assert.Empty(t, w.Membership().ListByCategory("missing"))
}

func TestToggleCategory_RoundTrip(t *testing.T) {
	w := withCatalog(t, catalogGateway())
	m := w.Membership()

	_, err := m.ToggleQuestion("q5", true)
	require.NoError(t, err)
	before := m.Selection()

	afterSelect := m.ToggleCategory("cat1", true)
	assert.Equal(t, []string{"q1", "q2", "q5"}, afterSelect.IDs())
	assert.Equal(t, 2, afterSelect.InCategory("cat1"))

	afterDeselect := m.ToggleCategory("cat1", false)
	assert.Equal(t, before, afterDeselect)
}

func TestToggleCategory_DeselectRemovesIndividuallySelected(t *testing.T) {
	w := withCatalog(t, catalogGateway())
	m := w.Membership()

	_, err := m.ToggleQuestion("q3", true)
	require.NoError(t, err)

	set := m.ToggleCategory("cat2", false)
	assert.Zero(t, set.Len())
}

func TestToggleQuestion(t *testing.T) {
	w := withCatalog(t, catalogGateway())
	m := w.Membership()

	set, err := m.ToggleQuestion("q2", true)
	require.NoError(t, err)
	assert.True(t, set.Has("q2"))

	set, err = m.ToggleQuestion("q2", false)
	require.NoError(t, err)
	assert.False(t, set.Has("q2"))

	_, err = m.ToggleQuestion("ghost", true)
	assert.ErrorIs(t, err, ErrQuestionNotFound)
}

func TestOnSelectionChange_NotifiesListeners(t *testing.T) {
	w := withCatalog(t, catalogGateway())
	m := w.Membership()

	var got [][]string
	m.OnSelectionChange(func(set SelectionSet) { got = append(got, set.IDs()) })
	m.OnSelectionChange(func(set SelectionSet) {
		// listeners run after the lock is released
		assert.Equal(t, set.Len(), m.Selection().Len())
	})

	_, err := m.ToggleQuestion("q3", true)
	require.NoError(t, err)
	m.ToggleCategory("cat1", true)

	require.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"q3"}, got[0])
	assert.ElementsMatch(t, []string{"q1", "q2", "q3"}, got[1])
}

func TestClearAll_ClearsSelectionAndFilter(t *testing.T) {
	w := withCatalog(t, catalogGateway())
	m := w.Membership()

	m.SetFilter(Filter{CategoryID: "cat1"})
	m.SelectAll()
	require.Equal(t, 2, m.Selection().Len())

	set := m.ClearAll()
	assert.Zero(t, set.Len())
	assert.False(t, m.Filter().Active())
	assert.Len(t, m.Catalog(), 5)
}

func TestSetFilter_ClearsSelection(t *testing.T) {
	w := withCatalog(t, catalogGateway())
	m := w.Membership()

	m.SelectAll()
	require.Equal(t, 5, m.Selection().Len())

	set := m.SetFilter(Filter{TypeCode: "mcq"})
	assert.Zero(t, set.Len())
	assert.Len(t, m.Catalog(), 3)

	// re-applying the same filter keeps the selection
	m.SelectAll()
	set = m.SetFilter(Filter{TypeCode: "mcq"})
	assert.Equal(t, 3, set.Len())
}

func TestAddToSection_RefreshesOnlyThatSection(t *testing.T) {
	gw := catalogGateway()
	w := withCatalog(t, gw)
	m := w.Membership()

	m.ToggleCategory("cat1", true)
	_, err := m.ToggleQuestion("q3", true)
	require.NoError(t, err)

	assessmentLoads := gw.called("GetAssessment")
	require.NoError(t, m.AddToSection(context.Background(), "S2", []string{"q1", "q2", "q1"}))
	assert.Equal(t, assessmentLoads, gw.called("GetAssessment"))

	sec, err := w.Session().Section("S2")
	require.NoError(t, err)
	assert.Equal(t, 2, sec.QuestionCount)
	assert.Equal(t, 12.0, sec.TotalScore)
	assert.Equal(t, models.Duration{Mins: 35}, sec.Duration)
	assert.Equal(t, models.TotalDuration{Mins: 45}, w.Session().TotalDuration())

	// added items leave the selection, others stay
	assert.Equal(t, []string{"q3"}, m.Selection().IDs())
}

func TestAddToSection_Failure(t *testing.T) {
	gw := catalogGateway()
	gw.setFail("AddQuestionsToSection", errBoom)
	w := withCatalog(t, gw)
	m := w.Membership()
	m.ToggleCategory("cat1", true)

	err := m.AddToSection(context.Background(), "S2", []string{"q1"})
	assert.ErrorIs(t, err, ErrMembership)
	assert.Equal(t, 2, m.Selection().Len())

	sec, _ := w.Session().Section("S2")
	assert.Zero(t, sec.QuestionCount)
}

func TestAddToSection_Validation(t *testing.T) {
	gw := catalogGateway()
	w := withCatalog(t, gw)

	assert.ErrorIs(t, w.Membership().AddToSection(context.Background(), "S2", nil), ErrValidation)
	assert.ErrorIs(t, w.Membership().AddToSection(context.Background(), "S2", []string{" "}), ErrValidation)
	assert.ErrorIs(t, w.Membership().AddToSection(context.Background(), "nope", []string{"q1"}), ErrSectionNotFound)
	assert.Zero(t, gw.called("AddQuestionsToSection"))
}

func TestRemoveFromSection_RequiresConfirmation(t *testing.T) {
	gw := catalogGateway()
	w := withCatalog(t, gw)
	m := w.Membership()

	intent, err := m.RequestRemoval("S1", "S1-q1")
	require.NoError(t, err)
	assert.Equal(t, IntentRemoveQuestion, intent.Kind)
	assert.Zero(t, gw.called("RemoveQuestionsFromSection"))

	_, err = m.RequestRemoval("S1", "not-there")
	assert.ErrorIs(t, err, ErrQuestionNotFound)

	_, err = w.Confirm(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gw.called("RemoveQuestionsFromSection"))

	sec, _ := w.Session().Section("S1")
	assert.Zero(t, sec.QuestionCount)
	assert.Equal(t, models.Duration{}, sec.Duration)
	assert.Equal(t, models.TotalDuration{}, w.Session().TotalDuration())

	// an intent is consumed by its confirmation
	_, err = w.Confirm(context.Background(), intent.ID)
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestRemoveFromSection_FailureKeepsQuestion(t *testing.T) {
	gw := catalogGateway()
	gw.setFail("RemoveQuestionsFromSection", errBoom)
	w := withCatalog(t, gw)

	intent, err := w.Membership().RequestRemoval("S1", "S1-q1")
	require.NoError(t, err)

	_, err = w.Confirm(context.Background(), intent.ID)
	assert.ErrorIs(t, err, ErrMembership)

	sec, _ := w.Session().Section("S1")
	assert.Equal(t, 1, sec.QuestionCount)
	assert.Equal(t, models.Duration{Mins: 10}, sec.Duration)
}

func TestRemoveFromSection_Cancel(t *testing.T) {
	gw := catalogGateway()
	w := withCatalog(t, gw)

	intent, err := w.Membership().RequestRemoval("S1", "S1-q1")
	require.NoError(t, err)
	require.NoError(t, w.Cancel(intent.ID))

	_, err = w.Confirm(context.Background(), intent.ID)
	assert.ErrorIs(t, err, ErrIntentNotFound)
	assert.Zero(t, gw.called("RemoveQuestionsFromSection"))
}

type memorySelections struct {
	mu    sync.Mutex
	items map[string][]Selection
}

func (m *memorySelections) LoadSelection(ctx context.Context, key string) ([]Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[key], nil
}

func (m *memorySelections) SaveSelection(ctx context.Context, key string, items []Selection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = items
	return nil
}

func TestSelection_PersistedAndRestored(t *testing.T) {
	store := &memorySelections{items: map[string][]Selection{}}
	gw := catalogGateway()

	w := withCatalog(t, gw, WithSelectionStore(store, "console-1:a1"))
	w.Membership().ToggleCategory("cat2", true)
	require.Len(t, store.items["console-1:a1"], 2)

	restored := withCatalog(t, gw, WithSelectionStore(store, "console-1:a1"))
	assert.Equal(t, []string{"q3", "q4"}, restored.Membership().Selection().IDs())
}
