// Package assembler turns a template's field mapping plus the nested
// application data into the flat key -> string table the renderer consumes.
// Assembly is deterministic: the same template and data always produce the
// same values and warnings, in mapping order.
package assembler

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hojokin-tools/subsidy-docgen/internal/models"
)

// AssemblyError reports every required field that could not be resolved.
// All missing fields are collected before failing so the caller can report
// them in one round trip.
type AssemblyError struct {
	Missing []string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", "))
}

// Assembler resolves application data against field mappings.
type Assembler struct {
	logger *zap.Logger
}

// NewAssembler creates a new assembler.
func NewAssembler(logger *zap.Logger) *Assembler {
	return &Assembler{logger: logger}
}

// Assemble resolves each mapped field from applicationData, applies per-kind
// coercion and formatting, and returns the flat value table. Required fields
// with no value and no default fail the whole assembly; everything else
// degrades to a warning.
func (a *Assembler) Assemble(tmpl *models.TemplateRecord, applicationData map[string]interface{}) (*models.FlatValues, error) {
	result := &models.FlatValues{Values: make(map[string]string)}
	var missing []string

	for _, entry := range tmpl.FieldMapping.Entries() {
		name, spec := entry.Name, entry.Spec

		raw, found := Resolve(applicationData, name)
		if found && raw == nil {
			// A present null carries no renderable value.
			found = false
		}

		if !found {
			if spec.DefaultValue != nil {
				result.Values[name] = a.applyFormat(result, name, spec, *spec.DefaultValue)
				continue
			}
			if spec.IsRequired() {
				missing = append(missing, name)
			}
			continue
		}

		value, warns := coerce(spec.Kind, raw)
		for _, msg := range warns {
			result.Warnings = append(result.Warnings, models.Warning{Field: name, Message: msg})
		}

		checkConstraints(result, name, spec, value, raw)
		result.Values[name] = a.applyFormat(result, name, spec, value)
	}

	if len(missing) > 0 {
		a.logger.Warn("Assembly rejected: required fields missing",
			zap.String("template_id", tmpl.ID),
			zap.Strings("fields", missing))
		return nil, &AssemblyError{Missing: missing}
	}

	a.logger.Debug("Assembly completed",
		zap.String("template_id", tmpl.ID),
		zap.Int("fields", len(result.Values)),
		zap.Int("warnings", len(result.Warnings)))
	return result, nil
}

// applyFormat enforces maxLength by rune truncation. Truncation is never
// silent: a warning is recorded whenever characters are dropped.
func (a *Assembler) applyFormat(result *models.FlatValues, name string, spec models.FieldSpec, value string) string {
	maxLen := spec.MaxLength()
	if maxLen <= 0 {
		return value
	}

	runes := []rune(value)
	if len(runes) <= maxLen {
		return value
	}

	result.Warnings = append(result.Warnings, models.Warning{
		Field:   name,
		Message: fmt.Sprintf("value truncated from %d to %d characters", len(runes), maxLen),
	})
	return string(runes[:maxLen])
}

// checkConstraints applies optional pattern/min/max validation as warnings.
// These surface data-quality problems without blocking the document.
func checkConstraints(result *models.FlatValues, name string, spec models.FieldSpec, value string, raw interface{}) {
	if spec.Validation == nil {
		return
	}

	if spec.Validation.Pattern != "" {
		re, err := regexp.Compile(spec.Validation.Pattern)
		if err == nil && !re.MatchString(value) {
			result.Warnings = append(result.Warnings, models.Warning{
				Field:   name,
				Message: fmt.Sprintf("value does not match pattern %q", spec.Validation.Pattern),
			})
		}
	}

	if spec.Validation.Min != nil || spec.Validation.Max != nil {
		if num, ok := toFloat(raw); ok {
			if spec.Validation.Min != nil && num < *spec.Validation.Min {
				result.Warnings = append(result.Warnings, models.Warning{
					Field:   name,
					Message: fmt.Sprintf("value %g below minimum %g", num, *spec.Validation.Min),
				})
			}
			if spec.Validation.Max != nil && num > *spec.Validation.Max {
				result.Warnings = append(result.Warnings, models.Warning{
					Field:   name,
					Message: fmt.Sprintf("value %g above maximum %g", num, *spec.Validation.Max),
				})
			}
		}
	}
}

// dateLayouts are the input formats the date kind accepts, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
}

// coerce renders a raw JSON value as a string according to the field kind.
func coerce(kind models.FieldKind, raw interface{}) (string, []string) {
	switch kind {
	case models.KindNumber:
		if num, ok := toFloat(raw); ok {
			return formatNumber(num), nil
		}
		s := stringify(raw)
		if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return strings.TrimSpace(s), nil
		}
		return s, []string{fmt.Sprintf("expected a number, got %q", s)}

	case models.KindDate:
		s := strings.TrimSpace(stringify(raw))
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format("2006-01-02"), nil
			}
		}
		return s, []string{fmt.Sprintf("unrecognized date format %q", s)}

	case models.KindCheckbox:
		switch v := raw.(type) {
		case bool:
			return strconv.FormatBool(v), nil
		case float64:
			return strconv.FormatBool(v != 0), nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "yes", "1", "on":
				return "true", nil
			case "false", "no", "0", "off", "":
				return "false", nil
			}
			return "false", []string{fmt.Sprintf("unrecognized checkbox value %q", v)}
		default:
			return "false", []string{fmt.Sprintf("unrecognized checkbox value %v", raw)}
		}

	default: // text, multiline, select
		return stringify(raw), nil
	}
}

// formatNumber renders without thousands separators and without a trailing
// ".0" for integral values.
func formatNumber(num float64) string {
	if num == math.Trunc(num) && math.Abs(num) < 1e15 {
		return strconv.FormatFloat(num, 'f', 0, 64)
	}
	return strconv.FormatFloat(num, 'f', -1, 64)
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		num, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return num, err == nil
	default:
		return 0, false
	}
}

func stringify(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return formatNumber(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
