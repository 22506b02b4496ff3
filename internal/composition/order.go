package composition

import (
	"context"

	"github.com/terra-clan/assessment-composer/internal/models"
)

// OrderModel maintains the ordered section list of one assessment.
// Moves are local until committed; a commit is all-or-nothing and the
// refetched server order always wins.
type OrderModel struct {
	s *Session
}

// NewOrderModel creates an order model over the session
func NewOrderModel(s *Session) *OrderModel {
	return &OrderModel{s: s}
}

// Reorder moves the section at from to to without a server round-trip and
// returns the new order for immediate rendering.
func (m *OrderModel) Reorder(sectionID string, from, to int) ([]*models.Section, error) {
	current := m.s.Sections()
	n := len(current)

	if from < 0 || from >= n {
		return nil, invalid("from", "index %d out of range [0,%d)", from, n)
	}
	if to < 0 || to >= n {
		return nil, invalid("to", "index %d out of range [0,%d)", to, n)
	}
	if current[from].ID != sectionID {
		return nil, invalid("section_id", "section %s is not at index %d", sectionID, from)
	}
	if from == to {
		return current, nil
	}

	ids := models.SectionIDs(current)
	moved := ids[from]
	ids = append(ids[:from], ids[from+1:]...)
	ids = append(ids[:to], append([]string{moved}, ids[to:]...)...)

	return m.s.setPendingOrder(ids), nil
}

// CommitReorder sends the 1-based ordinals of newOrder to the gateway as one
// batch. On failure the pre-reorder order is restored and a ReorderError
// returned. On success the assessment is refetched and the server order wins.
func (m *OrderModel) CommitReorder(ctx context.Context, newOrder []*models.Section) error {
	ids := models.SectionIDs(newOrder)
	if err := m.checkPermutation(ids); err != nil {
		return err
	}

	if sameOrder(ids, m.s.confirmedOrder()) {
		m.s.discardPendingOrder()
		return nil
	}

	batch := Ordinals(newOrder)
	m.s.setPendingOrder(ids)

	if err := m.s.gw.ReorderSections(ctx, m.s.assessmentID, batch); err != nil {
		m.s.discardPendingOrder()
		m.s.logger.Warn("section reorder rejected", "error", err)
		return opError(ErrReorder, "reorder sections", "", err)
	}

	m.s.logger.Info("section order committed", "sections", len(batch))
	if err := m.s.Refresh(ctx); err != nil {
		return err
	}
	return nil
}

// ResetOrder drops an uncommitted local order
func (m *OrderModel) ResetOrder() []*models.Section {
	m.s.discardPendingOrder()
	return m.s.Sections()
}

// Ordinals builds the 1-based ordinal assignment for an order
func Ordinals(order []*models.Section) []models.SectionOrder {
	out := make([]models.SectionOrder, len(order))
	for i, sec := range order {
		out[i] = models.SectionOrder{SectionID: sec.ID, NewOrder: i + 1}
	}
	return out
}

func (m *OrderModel) checkPermutation(ids []string) error {
	known := m.s.confirmedOrder()
	if len(ids) != len(known) {
		return invalid("order", "expected %d sections, got %d", len(known), len(ids))
	}

	want := make(map[string]bool, len(known))
	for _, id := range known {
		want[id] = true
	}
	for _, id := range ids {
		if !want[id] {
			return invalid("order", "unknown or duplicate section %s", id)
		}
		delete(want, id)
	}
	return nil
}
