package allocation

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrInvalidBay is returned when a referenced (not primary) bay does not exist.
	ErrInvalidBay = errors.New("invalid bay")

	ErrBayUnavailable = errors.New("bay unavailable")

	ErrAlreadyResolved = errors.New("request already resolved")

	ErrNotCancelable = errors.New("request not cancelable")

	ErrNoSuggestionPending = errors.New("no alternative suggestion pending")

	ErrForbidden = errors.New("forbidden")

	ErrInvalidState = errors.New("invalid state")

	ErrValidation = errors.New("validation failed")
)

// Code returns a stable machine-readable code for a command error.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrInvalidBay):
		return "INVALID_BAY"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrBayUnavailable):
		return "BAY_UNAVAILABLE"
	case errors.Is(err, ErrAlreadyResolved):
		return "ALREADY_RESOLVED"
	case errors.Is(err, ErrNotCancelable):
		return "NOT_CANCELABLE"
	case errors.Is(err, ErrNoSuggestionPending):
		return "NO_SUGGESTION_PENDING"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	default:
		return "INTERNAL"
	}
}
