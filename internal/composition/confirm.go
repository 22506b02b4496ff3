package composition

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// IntentKind names an irreversible action awaiting confirmation
type IntentKind string

const (
	IntentDeleteSection  IntentKind = "delete_section"
	IntentRemoveQuestion IntentKind = "remove_question"
)

// DefaultIntentTTL bounds how long an unconfirmed action stays open
const DefaultIntentTTL = 10 * time.Minute

// Intent is the first step of a two-step confirmation
type Intent struct {
	ID         string     `json:"id"`
	Kind       IntentKind `json:"kind"`
	SectionID  string     `json:"section_id"`
	QuestionID string     `json:"question_id,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// Intents holds open confirmations for one workspace
type Intents struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]*Intent
	now   func() time.Time
}

// NewIntents creates an empty registry; ttl <= 0 uses DefaultIntentTTL
func NewIntents(ttl time.Duration) *Intents {
	if ttl <= 0 {
		ttl = DefaultIntentTTL
	}
	return &Intents{ttl: ttl, items: make(map[string]*Intent), now: time.Now}
}

// Open records a new pending confirmation. Opening the same action twice
// returns the intent that is already open.
func (r *Intents) Open(kind IntentKind, sectionID, questionID string) Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	for _, in := range r.items {
		if in.Kind == kind && in.SectionID == sectionID && in.QuestionID == questionID {
			return *in
		}
	}

	in := &Intent{
		ID:         uuid.New().String(),
		Kind:       kind,
		SectionID:  sectionID,
		QuestionID: questionID,
		ExpiresAt:  r.now().Add(r.ttl),
	}
	r.items[in.ID] = in
	return *in
}

// Peek returns an open intent without consuming it
func (r *Intents) Peek(id string) (Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	in, ok := r.items[id]
	if !ok {
		return Intent{}, ErrIntentNotFound
	}
	return *in, nil
}

// Take consumes an open intent of the given kind
func (r *Intents) Take(id string, kind IntentKind) (Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	in, ok := r.items[id]
	if !ok || in.Kind != kind {
		return Intent{}, ErrIntentNotFound
	}
	delete(r.items, id)
	return *in, nil
}

// Cancel drops an open intent
func (r *Intents) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrIntentNotFound
	}
	delete(r.items, id)
	return nil
}

// DropSection cancels every intent that targets the section
func (r *Intents) DropSection(sectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, in := range r.items {
		if in.SectionID == sectionID {
			delete(r.items, id)
		}
	}
}

// Len returns the number of open intents
func (r *Intents) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	return len(r.items)
}

func (r *Intents) sweepLocked() {
	now := r.now()
	for id, in := range r.items {
		if now.After(in.ExpiresAt) {
			delete(r.items, id)
		}
	}
}
