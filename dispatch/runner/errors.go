package runner

import (
	"errors"
	"fmt"
)

// FatalError aborts a whole job before or instead of its items:
// malformed payload, missing credential, unusable model. Item-level
// failures are never fatal; they are folded into outcomes.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal job error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("fatal job error: %s", e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatalf builds a FatalError with a formatted reason.
func Fatalf(format string, args ...any) *FatalError {
	return &FatalError{Reason: fmt.Sprintf(format, args...)}
}

// FatalWrap builds a FatalError wrapping an underlying cause.
func FatalWrap(err error, reason string) *FatalError {
	return &FatalError{Reason: reason, Err: err}
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
