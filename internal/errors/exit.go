package errors

import (
	stderrors "errors"
	"fmt"
)

// ExitError is returned by commands that must terminate the process with a
// specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

// NewExitError wraps err with an exit code and message.
func NewExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the exit code carried by err. Nil maps to 0 and errors
// without an ExitError to fallback.
func ExitCode(err error, fallback int) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.Code
	}
	return fallback
}
