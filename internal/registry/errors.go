package registry

import (
	"errors"
	"fmt"

	"github.com/hojokin-tools/subsidy-docgen/internal/mapping"
)

var (
	// ErrNotFound is returned when no template exists for the requested id.
	ErrNotFound = errors.New("template not found")

	// ErrDuplicateID is returned when registering an id that already exists.
	// Registration never silently overwrites.
	ErrDuplicateID = errors.New("template id already registered")
)

// ValidationError reports a structurally invalid template or field mapping.
// It carries every offending field so the caller can fix them in one pass.
type ValidationError struct {
	Fields []mapping.FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "template validation failed"
	}
	return fmt.Sprintf("template validation failed: %s", mapping.JoinErrors(e.Fields))
}

func newValidationError(msg string) *ValidationError {
	return &ValidationError{Fields: []mapping.FieldError{{Message: msg}}}
}
