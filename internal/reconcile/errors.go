package reconcile

import (
	"errors"
	"fmt"

	"github.com/juzibot/wechaty/internal/payload"
)

// ErrorCode categorizes reconciliation errors.
type ErrorCode string

const (
	// ErrCodeResolutionFailed means the entity could not be found.
	ErrCodeResolutionFailed ErrorCode = "RESOLUTION_FAILED"

	// ErrCodeRefreshFailed means the forced refresh from the driver failed.
	ErrCodeRefreshFailed ErrorCode = "REFRESH_FAILED"

	// ErrCodeSubResolutionFailed means a related entity (a tag, an owner)
	// could not be resolved. Reported per id; the rest still emit.
	ErrCodeSubResolutionFailed ErrorCode = "SUB_RESOLUTION_FAILED"

	// ErrCodeHandlerFailed means a field handler returned an error.
	ErrCodeHandlerFailed ErrorCode = "HANDLER_FAILED"

	// ErrCodePanic means a handler or listener panicked.
	ErrCodePanic ErrorCode = "PANIC"

	// ErrCodeUnsupportedEvent means a tag event carried an unknown type.
	ErrCodeUnsupportedEvent ErrorCode = "UNSUPPORTED_EVENT"
)

// Error is a reconciliation failure with the entity it concerns.
type Error struct {
	Code     ErrorCode
	Kind     payload.Kind
	EntityID string
	// Field is set for handler and sub-resolution failures.
	Field  string
	PassID string
	Err    error
}

func (e *Error) Error() string {
	target := e.Kind.String()
	if e.EntityID != "" {
		target += ":" + e.EntityID
	}
	if e.Field != "" {
		target += "." + e.Field
	}
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", e.Code, target)
	}
	return fmt.Sprintf("%s (%s): %v", e.Code, target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsResolutionError reports whether err aborted a pass because the entity
// could not be resolved or refreshed.
func IsResolutionError(err error) bool {
	code := CodeOf(err)
	return code == ErrCodeResolutionFailed || code == ErrCodeRefreshFailed
}

// IsSubResolutionError reports whether err is a per-id resolution failure.
func IsSubResolutionError(err error) bool {
	return CodeOf(err) == ErrCodeSubResolutionFailed
}

// IsPanicError reports whether err was recovered from a panic.
func IsPanicError(err error) bool {
	return CodeOf(err) == ErrCodePanic
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
