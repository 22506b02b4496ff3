package composition

import (
	"context"
	"strings"
	"sync"

	"github.com/terra-clan/assessment-composer/internal/models"
)

// SectionState is the lifecycle state of one section
type SectionState string

const (
	StateNonExistent SectionState = "non_existent"
	StateCreating    SectionState = "creating"
	StateExisting    SectionState = "existing"
	StateEditing     SectionState = "editing"
	StateDeleting    SectionState = "deleting"
	StateDeleted     SectionState = "deleted"
)

// LifecycleController runs the create, edit and delete workflows
type LifecycleController struct {
	s       *Session
	intents *Intents

	mu       sync.Mutex
	states   map[string]SectionState
	creating int
}

// NewLifecycleController creates a controller over the session
func NewLifecycleController(s *Session, intents *Intents) *LifecycleController {
	if intents == nil {
		intents = NewIntents(0)
	}
	return &LifecycleController{s: s, intents: intents, states: make(map[string]SectionState)}
}

// State returns the lifecycle state of a section
func (c *LifecycleController) State(sectionID string) SectionState {
	c.mu.Lock()
	st, ok := c.states[sectionID]
	c.mu.Unlock()
	if ok {
		return st
	}
	if c.s.hasSection(sectionID) {
		return StateExisting
	}
	return StateNonExistent
}

// Creating reports whether a create call is in flight. A section has no
// id while in StateCreating, so it is tracked per controller.
func (c *LifecycleController) Creating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creating > 0
}

// Create validates and creates a section. The section count is bumped
// optimistically and reconciled by the refetch that follows.
func (c *LifecycleController) Create(ctx context.Context, name, instructions string) (*models.Section, error) {
	in, err := sectionInput(name, instructions)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.creating++
	c.mu.Unlock()
	created, err := c.s.gw.CreateSection(ctx, c.s.assessmentID, in)
	c.mu.Lock()
	c.creating--
	c.mu.Unlock()
	if err != nil {
		c.s.logger.Warn("section create failed", "name", in.Name, "error", err)
		return nil, opError(ErrSave, "create section", "", err)
	}
	if created == nil || created.ID == "" {
		return nil, opError(ErrSave, "create section", "", errMissingSection)
	}
	if created.Name == "" {
		created.Name = in.Name
	}
	if created.Instructions == "" {
		created.Instructions = in.Description
	}

	local := c.s.addSection(created)
	c.setState(local.ID, StateExisting)
	c.s.logger.Info("section created", "section_id", local.ID, "position", local.Position)

	c.reconcile(ctx, "create")
	if sec, err := c.s.Section(local.ID); err == nil {
		return sec, nil
	}
	return local, nil
}

// Edit changes a section's name and instructions; ordinal and questions are untouched
func (c *LifecycleController) Edit(ctx context.Context, sectionID, name, instructions string) (*models.Section, error) {
	in, err := sectionInput(name, instructions)
	if err != nil {
		return nil, err
	}
	if err := c.begin(sectionID, StateEditing); err != nil {
		return nil, err
	}

	updated, err := c.s.gw.UpdateSection(ctx, c.s.assessmentID, sectionID, in)
	if err != nil {
		c.setState(sectionID, StateExisting)
		c.s.logger.Warn("section update failed", "section_id", sectionID, "error", err)
		return nil, opError(ErrSave, "update section", sectionID, err)
	}

	newName, newInstructions := in.Name, in.Description
	if updated != nil {
		if updated.Name != "" {
			newName = updated.Name
		}
		if updated.Instructions != "" {
			newInstructions = updated.Instructions
		}
	}

	sec, err := c.s.updateSectionInfo(sectionID, newName, newInstructions)
	c.setState(sectionID, StateExisting)
	if err != nil {
		return nil, err
	}
	return sec, nil
}

// RequestDelete opens the confirmation step for deleting a section
func (c *LifecycleController) RequestDelete(sectionID string) (Intent, error) {
	if !c.s.hasSection(sectionID) {
		return Intent{}, ErrSectionNotFound
	}
	return c.intents.Open(IntentDeleteSection, sectionID, ""), nil
}

// Delete performs a confirmed deletion. The section count is decremented
// optimistically and reconciled by the refetch that follows. On failure
// the section stays.
func (c *LifecycleController) Delete(ctx context.Context, intentID string) error {
	in, err := c.intents.Peek(intentID)
	if err != nil {
		return err
	}
	if in.Kind != IntentDeleteSection {
		return ErrIntentNotFound
	}
	sectionID := in.SectionID
	// a busy section keeps the confirmation open for a retry
	if err := c.begin(sectionID, StateDeleting); err != nil {
		return err
	}
	if _, err := c.intents.Take(intentID, IntentDeleteSection); err != nil {
		c.setState(sectionID, StateExisting)
		return err
	}

	if err := c.s.gw.DeleteSection(ctx, c.s.assessmentID, sectionID); err != nil {
		c.setState(sectionID, StateExisting)
		c.s.logger.Warn("section delete failed", "section_id", sectionID, "error", err)
		return opError(ErrDelete, "delete section", sectionID, err)
	}

	c.s.removeSection(sectionID)
	c.intents.DropSection(sectionID)
	c.setState(sectionID, StateDeleted)
	c.s.logger.Info("section deleted", "section_id", sectionID)

	c.reconcile(ctx, "delete")
	return nil
}

// reconcile refetches after a successful write. A failed refetch leaves
// the optimistic values in place until the next refresh.
func (c *LifecycleController) reconcile(ctx context.Context, op string) {
	if err := c.s.Refresh(ctx); err != nil {
		c.s.logger.Warn("refetch after section "+op+" failed", "error", err)
	}
}

func (c *LifecycleController) begin(sectionID string, next SectionState) error {
	if !c.s.hasSection(sectionID) {
		return ErrSectionNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.states[sectionID] {
	case StateEditing, StateDeleting:
		return ErrSaveInProgress
	}
	c.states[sectionID] = next
	return nil
}

func (c *LifecycleController) setState(sectionID string, st SectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[sectionID] = st
}

func sectionInput(name, instructions string) (models.SectionInput, error) {
	in := models.SectionInput{
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(instructions),
	}
	if in.Name == "" {
		return in, invalid("name", "is required")
	}
	if in.Description == "" {
		return in, invalid("instructions", "is required")
	}
	return in, nil
}
