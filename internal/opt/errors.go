package opt

import (
	"errors"
	"fmt"
)

// ErrorKind tells callers why a solve did not succeed.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindInfeasible         ErrorKind = "infeasible"
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	KindInternal           ErrorKind = "internal"
)

// NoSolutionMessage is reported when no assignment satisfies the constraints.
const NoSolutionMessage = "No solution found. Try relaxing constraints."

var (
	ErrInfeasible         = errors.New("no feasible assignment")
	ErrBackendUnavailable = errors.New("solver backend unavailable")
	ErrInternal           = errors.New("internal solver failure")
)

// ValidationError reports a malformed problem. It is returned before any
// matrix or model is built.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// KindOf classifies err. Nil errors have no kind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return KindValidation
	case errors.Is(err, ErrInfeasible):
		return KindInfeasible
	case errors.Is(err, ErrBackendUnavailable):
		return KindBackendUnavailable
	}
	return KindInternal
}
