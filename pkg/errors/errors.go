package squadlink_errors

import (
	"errors"
)

// Common errors
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrAlreadyExists      = errors.New("already exists")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("rate limited")
)

// Chat session errors. Validation errors are returned before any network call.
var (
	ErrEmptyContent         = errors.New("message content is empty")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrSubscriptionFailed   = errors.New("change feed subscription failed")
	ErrSessionClosed        = errors.New("session closed")
)

// IsValidation reports whether err is one of the synchronous validation
// failures a caller should surface directly to the user.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyContent) ||
		errors.Is(err, ErrNoActiveConversation) ||
		errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrInvalidInput)
}
