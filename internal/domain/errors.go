package domain

import "errors"

// Domain errors
var (
	ErrInvalidAmount     = errors.New("xp amount must be positive")
	ErrInvalidTransition = errors.New("state transition not permitted")
	ErrPathMismatch      = errors.New("node is outside the user's active skill path")
	ErrUnknownActionKind = errors.New("unknown action kind")
	ErrUserNotFound      = errors.New("user not found")
	ErrQuestNotFound     = errors.New("quest not found")
	ErrObjectiveNotFound = errors.New("quest objective not found")
	ErrNodeNotFound      = errors.New("skill node not found")
	ErrPathNotFound      = errors.New("skill path not found")
	ErrBadgeNotFound     = errors.New("badge not found")
	ErrStoreConflict     = errors.New("concurrent update detected")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInternalError     = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrQuestNotFound) ||
		errors.Is(err, ErrObjectiveNotFound) ||
		errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, ErrPathNotFound) ||
		errors.Is(err, ErrBadgeNotFound)
}

// IsClientError checks if an error should be reported to the caller as
// a bad request rather than a server fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrPathMismatch) ||
		errors.Is(err, ErrUnknownActionKind) ||
		errors.Is(err, ErrInvalidRequest)
}
