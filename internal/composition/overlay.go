package composition

// Overlay holds an optimistic value on top of the last confirmed server value.
// Readers always see pending ?? confirmed.
type Overlay[T any] struct {
	confirmed T
	pending   *T
}

// Value returns the pending value when one is set, the confirmed value otherwise
func (o *Overlay[T]) Value() T {
	if o.pending != nil {
		return *o.pending
	}
	return o.confirmed
}

// Confirmed returns the last server-confirmed value
func (o *Overlay[T]) Confirmed() T { return o.confirmed }

// Pending returns the optimistic value, if any
func (o *Overlay[T]) Pending() (T, bool) {
	if o.pending == nil {
		var zero T
		return zero, false
	}
	return *o.pending, true
}

// Propose sets the optimistic value
func (o *Overlay[T]) Propose(v T) { o.pending = &v }

// Discard drops the optimistic value, falling back to the confirmed one
func (o *Overlay[T]) Discard() { o.pending = nil }

// Confirm records an authoritative value and clears the overlay.
// It returns the pending value that was superseded, if there was one.
func (o *Overlay[T]) Confirm(v T) (T, bool) {
	prev, had := o.Pending()
	o.confirmed = v
	o.pending = nil
	return prev, had
}
