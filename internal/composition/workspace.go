package composition

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/terra-clan/assessment-composer/internal/models"
)

// PresetSource looks up section presets by name
type PresetSource interface {
	Get(name string) *models.SectionPreset
}

// SelectionStore persists a workspace's selection between restarts
type SelectionStore interface {
	LoadSelection(ctx context.Context, key string) ([]Selection, error)
	SaveSelection(ctx context.Context, key string, items []Selection) error
}

// Workspace bundles the controllers composing one assessment for one console
type Workspace struct {
	session    *Session
	order      *OrderModel
	settings   *SettingsStore
	membership *MembershipController
	lifecycle  *LifecycleController
	intents    *Intents

	logger       *slog.Logger
	presets      PresetSource
	selections   SelectionStore
	selectionKey string
	intentTTL    time.Duration

	mu       sync.Mutex
	saving   map[string]bool
	lastUsed time.Time
}

// Option configures a Workspace
type Option func(*Workspace)

// WithLogger sets the workspace logger
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workspace) { w.logger = logger }
}

// WithPresets enables the preset field on section create
func WithPresets(p PresetSource) Option {
	return func(w *Workspace) { w.presets = p }
}

// WithSelectionStore persists the selection under key
func WithSelectionStore(store SelectionStore, key string) Option {
	return func(w *Workspace) {
		w.selections = store
		w.selectionKey = key
	}
}

// WithIntentTTL sets how long confirmations stay open
func WithIntentTTL(ttl time.Duration) Option {
	return func(w *Workspace) { w.intentTTL = ttl }
}

// NewWorkspace wires the controllers around a fresh session. Call Open
// for the initial load.
func NewWorkspace(assessmentID string, gw Gateway, opts ...Option) *Workspace {
	w := &Workspace{
		logger:   slog.Default(),
		saving:   make(map[string]bool),
		lastUsed: time.Now(),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.session = NewSession(assessmentID, gw, w.logger)
	w.intents = NewIntents(w.intentTTL)
	w.order = NewOrderModel(w.session)
	w.settings = NewSettingsStore(w.session)
	w.membership = NewMembershipController(w.session, w.intents)
	w.lifecycle = NewLifecycleController(w.session, w.intents)

	if w.selections != nil {
		w.membership.OnSelectionChange(w.persistSelection)
	}
	return w
}

func (w *Workspace) Session() *Session { return w.session }
func (w *Workspace) Order() *OrderModel { return w.order }
func (w *Workspace) Settings() *SettingsStore { return w.settings }
func (w *Workspace) Membership() *MembershipController { return w.membership }
func (w *Workspace) Lifecycle() *LifecycleController { return w.lifecycle }
func (w *Workspace) AssessmentID() string { return w.session.AssessmentID() }
func (w *Workspace) Intent(id string) (Intent, error) { return w.intents.Peek(id) }
func (w *Workspace) Subscribe(n int) (<-chan Event, func()) { return w.session.Subscribe(n) }

// Open performs the initial load and restores a persisted selection
func (w *Workspace) Open(ctx context.Context) error {
	if err := w.session.Refresh(ctx); err != nil {
		return err
	}
	if w.selections == nil {
		return nil
	}

	items, err := w.selections.LoadSelection(ctx, w.selectionKey)
	if err != nil {
		w.logger.Warn("failed to restore selection", "key", w.selectionKey, "error", err)
		return nil
	}
	if len(items) > 0 {
		w.membership.RestoreSelection(items)
		w.logger.Debug("selection restored", "questions", len(items))
	}
	return nil
}

// CreateSection creates a section and applies the named preset, if any, to
// its settings. An unknown preset is rejected before the gateway is called.
func (w *Workspace) CreateSection(ctx context.Context, in models.SectionInput) (*models.Section, error) {
	var preset *models.SectionPreset
	if in.Preset != "" {
		if w.presets != nil {
			preset = w.presets.Get(in.Preset)
		}
		if preset == nil {
			return nil, invalid("preset", "unknown preset %q", in.Preset)
		}
	}

	sec, err := w.lifecycle.Create(ctx, in.Name, in.Description)
	if err != nil || preset == nil {
		return sec, err
	}

	if err := w.settings.ApplyPreset(sec.ID, preset); err != nil {
		return sec, err
	}
	if _, err := w.SaveSettings(ctx, sec.ID); err != nil {
		w.logger.Warn("failed to save preset settings", "section_id", sec.ID, "preset", preset.Name, "error", err)
		return sec, err
	}
	return sec, nil
}

// SaveSettings saves a section's settings, refusing a second concurrent
// save for the same section
func (w *Workspace) SaveSettings(ctx context.Context, sectionID string) (*models.SectionSettings, error) {
	w.mu.Lock()
	if w.saving[sectionID] {
		w.mu.Unlock()
		return nil, ErrSaveInProgress
	}
	w.saving[sectionID] = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.saving, sectionID)
		w.mu.Unlock()
	}()

	return w.settings.Save(ctx, sectionID)
}

// Saving reports whether a settings save is in flight for the section
func (w *Workspace) Saving(sectionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.saving[sectionID]
}

// Confirm executes the action behind an open confirmation
func (w *Workspace) Confirm(ctx context.Context, intentID string) (Intent, error) {
	in, err := w.intents.Peek(intentID)
	if err != nil {
		return Intent{}, err
	}

	switch in.Kind {
	case IntentDeleteSection:
		err = w.lifecycle.Delete(ctx, intentID)
	case IntentRemoveQuestion:
		err = w.membership.RemoveFromSection(ctx, intentID)
	default:
		err = ErrIntentNotFound
	}
	return in, err
}

// Cancel drops an open confirmation without acting on it
func (w *Workspace) Cancel(intentID string) error {
	return w.intents.Cancel(intentID)
}

// Touch marks the workspace as used now
func (w *Workspace) Touch() {
	w.mu.Lock()
	w.lastUsed = time.Now()
	w.mu.Unlock()
}

// LastUsed returns the time of the last Touch
func (w *Workspace) LastUsed() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUsed
}

// Close ends event subscriptions. In-flight gateway calls are not cancelled;
// their results are simply no longer observed.
func (w *Workspace) Close() {
	w.session.Close()
}

func (w *Workspace) persistSelection(set SelectionSet) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.selections.SaveSelection(ctx, w.selectionKey, set.Items()); err != nil {
		w.logger.Warn("failed to persist selection", "key", w.selectionKey, "error", err)
	}
}
