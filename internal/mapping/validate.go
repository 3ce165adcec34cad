// Package mapping validates field mappings against the template they belong
// to. Validation happens at mapping-edit time so that broken placements are
// rejected before a render is ever attempted.
package mapping

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hojokin-tools/subsidy-docgen/internal/models"
)

// FieldError describes one structural problem in a field spec.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Message)
}

// JoinErrors formats a list of field errors as a single message.
func JoinErrors(errs []FieldError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// ValidateFieldSpec checks one spec against the page count of its template.
// It returns every problem found, not just the first.
func ValidateFieldSpec(name string, spec models.FieldSpec, pageCount int) []FieldError {
	var errs []FieldError
	add := func(format string, args ...interface{}) {
		errs = append(errs, FieldError{Field: name, Message: fmt.Sprintf(format, args...)})
	}

	if !spec.Kind.IsValid() {
		add("unknown kind %q", spec.Kind)
	}
	if strings.TrimSpace(spec.Label) == "" {
		add("label must be non-empty")
	}

	if !spec.Placement.IsSet() {
		add("placement must set namedField or coordinate")
	} else if coord, ok := spec.Placement.Coordinate(); ok {
		if coord.Page < 0 || coord.Page >= pageCount {
			add("coordinate page %d out of range [0, %d)", coord.Page, pageCount)
		}
		if coord.X < 0 {
			add("coordinate x must be >= 0, got %g", coord.X)
		}
		if coord.Y < 0 {
			add("coordinate y must be >= 0, got %g", coord.Y)
		}
		if coord.Width < 0 {
			add("coordinate width must be >= 0, got %g", coord.Width)
		}
		if coord.Height < 0 {
			add("coordinate height must be >= 0, got %g", coord.Height)
		}
	} else if named, _ := spec.Placement.NamedField(); strings.TrimSpace(named) == "" {
		add("namedField must be non-empty")
	}

	if spec.Format != nil {
		if spec.Format.MaxLength < 0 {
			add("format.maxLength must be a positive integer, got %d", spec.Format.MaxLength)
		}
		if spec.Format.FontSize < 0 {
			add("format.fontSize must be >= 0, got %g", spec.Format.FontSize)
		}
		switch spec.Format.Alignment {
		case "", "L", "C", "R":
		default:
			add("format.alignment must be one of L, C, R, got %q", spec.Format.Alignment)
		}
	}

	if spec.Validation != nil {
		if spec.Validation.Pattern != "" {
			if _, err := regexp.Compile(spec.Validation.Pattern); err != nil {
				add("validation.pattern does not compile: %v", err)
			}
		}
		if spec.Validation.Min != nil && spec.Validation.Max != nil &&
			*spec.Validation.Min > *spec.Validation.Max {
			add("validation.min %g exceeds validation.max %g",
				*spec.Validation.Min, *spec.Validation.Max)
		}
	}

	return errs
}

// ValidateMapping checks every entry of a mapping. Key uniqueness is
// guaranteed by FieldMapping itself; this adds the at-least-one-entry rule.
func ValidateMapping(m models.FieldMapping, pageCount int) []FieldError {
	if m.Len() == 0 {
		return []FieldError{{Field: "", Message: "field mapping must contain at least one entry"}}
	}

	var errs []FieldError
	for _, entry := range m.Entries() {
		errs = append(errs, ValidateFieldSpec(entry.Name, entry.Spec, pageCount)...)
	}
	return errs
}
