package booking

import (
	"errors"
	"fmt"

	"github.com/ukydev/urban-services/internal/models"
)

var (
	// ErrNotFound is returned when the booking or a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned for malformed ids and payloads.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotAuthorized is returned when the actor may not act on the booking.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrConflict is returned when the booking kept changing underneath a
	// status update until the retry budget ran out.
	ErrConflict = errors.New("booking changed concurrently")
)

// InvalidTransitionError reports a status change the state machine forbids.
type InvalidTransitionError struct {
	From models.BookingStatus
	To   models.BookingStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

// IsInvalidTransition reports whether err wraps an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// failureReason labels a rejected operation for metrics.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case IsInvalidTransition(err):
		return "invalid_transition"
	default:
		return "internal"
	}
}
