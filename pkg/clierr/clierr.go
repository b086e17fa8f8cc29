package clierr

import "errors"

// Type categorizes a CLI-facing error for consistent messaging & exit codes.
type Type string

const (
	Validation      Type = "validation"
	Unauthenticated Type = "unauthenticated"
	Network         Type = "network"
	Internal        Type = "internal"
)

// Error is a structured user-facing error.
type Error struct {
	Type    Type
	Message string
	Err     error // optional underlying error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// New constructs a new CLI Error.
func New(t Type, msg string, err error) *Error { return &Error{Type: t, Message: msg, Err: err} }

// ExitCode maps err to a process exit code. Errors that are not *Error exit with 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cliErr *Error
	if !errors.As(err, &cliErr) {
		return 1
	}
	switch cliErr.Type {
	case Validation:
		return 2
	case Unauthenticated:
		return 3
	case Network:
		return 4
	default:
		return 1
	}
}
