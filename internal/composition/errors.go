package composition

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by a controller matches exactly one
// of these through errors.Is.
var (
	ErrValidation     = errors.New("validation failed")
	ErrFetch          = errors.New("fetch failed")
	ErrSave           = errors.New("save failed")
	ErrDelete         = errors.New("delete failed")
	ErrMembership     = errors.New("membership update failed")
	ErrReorder        = errors.New("reorder failed")
	ErrSaveInProgress = errors.New("save already in progress")
)

// Lookup errors
var (
	ErrSectionNotFound  = errors.New("section not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrIntentNotFound   = errors.New("confirmation not found")

	errMissingSection = errors.New("gateway returned no section")
)

// ValidationError is a local, pre-network rejection of user input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Is makes every ValidationError match ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// OpError is a gateway or server failure caught at a controller boundary
type OpError struct {
	Kind      error
	Op        string
	SectionID string
	Err       error
}

func (e *OpError) Error() string {
	msg := e.Op
	if e.SectionID != "" {
		msg += " " + e.SectionID
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opError(kind error, op, sectionID string, err error) error {
	return &OpError{Kind: kind, Op: op, SectionID: sectionID, Err: err}
}

// ReconciliationMismatch records an optimistic value that the authoritative
// refetch disagreed with. The refetched value always wins.
type ReconciliationMismatch struct {
	Field     string
	Pending   interface{}
	Confirmed interface{}
}

func (m *ReconciliationMismatch) Error() string {
	return fmt.Sprintf("reconciled %s: pending %v, confirmed %v", m.Field, m.Pending, m.Confirmed)
}

// UserMessage translates an error into text suitable for the console
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, ErrSectionNotFound):
		return "This section no longer exists. Refresh the assessment and try again."
	case errors.Is(err, ErrQuestionNotFound):
		return "This question is no longer available."
	case errors.Is(err, ErrIntentNotFound):
		return "This confirmation has expired. Start the action again."
	case errors.Is(err, ErrSaveInProgress):
		return "A save for this section is already in progress."
	case errors.Is(err, ErrReorder):
		return "Could not save the new section order. The previous order has been restored."
	case errors.Is(err, ErrDelete):
		return "Could not delete the section. Please try again."
	case errors.Is(err, ErrMembership):
		return "Could not update the questions in this section. Please try again."
	case errors.Is(err, ErrSave):
		return "Could not save your changes. Please try again."
	case errors.Is(err, ErrFetch):
		return "Could not load the latest data. Please try again."
	}
	return "Something went wrong. Please try again."
}
