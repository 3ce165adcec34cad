package renderer

import (
	"errors"
	"fmt"
)

// Render stages, in order. A fatal error can occur in any stage and aborts
// the whole render with no partial output.
const (
	StageLoaded        = "loaded"
	StageFieldsApplied = "fields_applied"
	StageSerialized    = "serialized"
)

var (
	// ErrCorruptTemplate indicates the template bytes could not be parsed
	// as a PDF.
	ErrCorruptTemplate = errors.New("template bytes are not a readable PDF")

	// ErrPageOutOfRange indicates a coordinate placement targets a page the
	// loaded template does not have.
	ErrPageOutOfRange = errors.New("coordinate placement page out of range")
)

// RenderError is a fatal rendering failure. No PDF bytes accompany it.
type RenderError struct {
	Stage string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render failed at stage %s: %v", e.Stage, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

func fatal(stage string, err error) *RenderError {
	return &RenderError{Stage: stage, Err: err}
}
