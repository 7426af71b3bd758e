package engine

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package wraps exactly one of them.
var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrEngineNotRunning = errors.New("engine not running")
)

// More specific errors, each tied to a kind above.
var (
	ErrQueueFull      = fmt.Errorf("order queue full: %w", ErrInvalidState)
	ErrInboxFull      = fmt.Errorf("fill inbox full: %w", ErrInvalidState)
	ErrEngineExists   = fmt.Errorf("engine already exists: %w", ErrInvalidState)
	ErrRegistryClosed = fmt.Errorf("engine registry closed: %w", ErrInvalidState)
)

// Kind names for callers that need a stable string (API payloads, results).
const (
	KindValidation       = "ValidationError"
	KindNotFound         = "NotFoundError"
	KindInvalidState     = "InvalidStateError"
	KindEngineNotRunning = "EngineNotRunningError"
	KindInternal         = "InternalError"
)

// KindOf classifies err. It returns "" for nil.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrEngineNotRunning):
		return KindEngineNotRunning
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	default:
		return KindInternal
	}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func invalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
