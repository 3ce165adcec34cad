package models

import (
	"encoding/json"
	"fmt"
)

// FieldKind identifies how a logical field's value is interpreted and rendered.
type FieldKind string

const (
	KindText      FieldKind = "text"
	KindNumber    FieldKind = "number"
	KindDate      FieldKind = "date"
	KindMultiline FieldKind = "multiline"
	KindCheckbox  FieldKind = "checkbox"
	KindSelect    FieldKind = "select"
)

// KnownFieldKinds lists every supported field kind.
var KnownFieldKinds = []FieldKind{
	KindText, KindNumber, KindDate, KindMultiline, KindCheckbox, KindSelect,
}

// IsValid reports whether k is one of the known field kinds.
func (k FieldKind) IsValid() bool {
	for _, known := range KnownFieldKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Coordinate locates a field on a page by absolute position.
// Page is zero-based. X and Y are in PDF points measured from the top-left
// corner of the page. Width and Height are optional clipping bounds (0 = unset).
type Coordinate struct {
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

type placementKind int

const (
	placementUnset placementKind = iota
	placementNamedField
	placementCoordinate
)

// Placement describes where a field lands in the PDF: either a named
// interactive form field or an absolute page coordinate. Exactly one of the
// two is set; the zero Placement is invalid and rejected by validation.
type Placement struct {
	kind  placementKind
	named string
	coord Coordinate
}

// NamedFieldPlacement targets the interactive form field with the given name.
func NamedFieldPlacement(name string) Placement {
	return Placement{kind: placementNamedField, named: name}
}

// CoordinatePlacement targets an absolute position on a page.
func CoordinatePlacement(c Coordinate) Placement {
	return Placement{kind: placementCoordinate, coord: c}
}

// IsSet reports whether the placement has been assigned a strategy.
func (p Placement) IsSet() bool { return p.kind != placementUnset }

// NamedField returns the target form field name, if this is a named placement.
func (p Placement) NamedField() (string, bool) {
	return p.named, p.kind == placementNamedField
}

// Coordinate returns the target coordinate, if this is a coordinate placement.
func (p Placement) Coordinate() (Coordinate, bool) {
	return p.coord, p.kind == placementCoordinate
}

type placementJSON struct {
	NamedField *string     `json:"namedField,omitempty"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`
}

// MarshalJSON encodes the placement as {"namedField": ...} or {"coordinate": ...}.
func (p Placement) MarshalJSON() ([]byte, error) {
	var out placementJSON
	switch p.kind {
	case placementNamedField:
		out.NamedField = &p.named
	case placementCoordinate:
		c := p.coord
		out.Coordinate = &c
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a placement, rejecting inputs that set both or
// neither strategy.
func (p *Placement) UnmarshalJSON(data []byte) error {
	var in placementJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch {
	case in.NamedField != nil && in.Coordinate != nil:
		return fmt.Errorf("placement sets both namedField and coordinate")
	case in.NamedField != nil:
		*p = NamedFieldPlacement(*in.NamedField)
	case in.Coordinate != nil:
		*p = CoordinatePlacement(*in.Coordinate)
	default:
		return fmt.Errorf("placement sets neither namedField nor coordinate")
	}
	return nil
}

// FieldFormat carries optional presentation hints for a field.
type FieldFormat struct {
	FontSize   float64 `json:"fontSize,omitempty"`
	MaxLength  int     `json:"maxLength,omitempty"`
	LineHeight float64 `json:"lineHeight,omitempty"`
	Alignment  string  `json:"alignment,omitempty"` // L, C, R
}

// FieldValidation carries optional value constraints checked at assembly time.
type FieldValidation struct {
	Required bool     `json:"required,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
}

// FieldSpec declares how one logical field maps onto the PDF.
type FieldSpec struct {
	Kind         FieldKind        `json:"kind"`
	Placement    Placement        `json:"placement"`
	Format       *FieldFormat     `json:"format,omitempty"`
	Validation   *FieldValidation `json:"validation,omitempty"`
	DefaultValue *string          `json:"defaultValue,omitempty"`
	Label        string           `json:"label"`
}

// IsRequired reports whether the spec marks the field as required.
func (s FieldSpec) IsRequired() bool {
	return s.Validation != nil && s.Validation.Required
}

// MaxLength returns the configured maximum length, or 0 when unset.
func (s FieldSpec) MaxLength() int {
	if s.Format == nil {
		return 0
	}
	return s.Format.MaxLength
}
