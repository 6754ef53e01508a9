package shared

import (
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// Sentinels for the federation error taxonomy. They travel as the cause of
// an errbuilder error, so callers match them with Is.
var (
	ErrConflict            = errors.New("conflicting shared declarations")
	ErrNoCompatibleVersion = errors.New("no compatible version")
	ErrRemoteNotFound      = errors.New("remote not found")
	ErrModuleNotExposed    = errors.New("module not exposed")
	ErrSharedNotFound      = errors.New("shared module not in import map")
	ErrLoadFailure         = errors.New("load failure")
	ErrManifestUnavailable = errors.New("manifest unavailable")
)

// FederationError builds a coded error whose cause chain contains kind and,
// when given, the underlying cause.
func FederationError(code errbuilder.ErrCode, kind error, msg string, cause error) error {
	wrapped := kind
	if cause != nil {
		wrapped = fmt.Errorf("%w: %w", kind, cause)
	}
	return errbuilder.New().
		WithCode(code).
		WithMsg(msg).
		WithCause(wrapped)
}

// Is reports whether err carries target, looking through errbuilder causes.
func Is(err error, target error) bool {
	if errors.Is(err, target) {
		return true
	}
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && builder.Cause != nil {
		return errors.Is(builder.Cause, target)
	}
	return false
}
