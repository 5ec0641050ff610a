package sync

import "fmt"

// ValidationError rejects a malformed enqueue request synchronously;
// invalid actions never enter the log.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "sync: invalid action: " + e.Reason
}

// NotFoundError reports a status transition against an absent action id,
// or one whose current status does not permit the transition.
type NotFoundError struct {
	ID   string
	Want string // the transition that failed, for diagnostics
}

func (e *NotFoundError) Error() string {
	if e.Want == "" {
		return fmt.Sprintf("sync: action %s not found", e.ID)
	}

	return fmt.Sprintf("sync: action %s not found or not eligible for %s", e.ID, e.Want)
}

// validationErrorf builds a ValidationError from a format string.
func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
