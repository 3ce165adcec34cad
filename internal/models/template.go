package models

import "time"

// SubsidyType categorizes the government program a template belongs to.
type SubsidyType string

const (
	SubsidyMonozukuri     SubsidyType = "monozukuri"
	SubsidyJizokuka       SubsidyType = "jizokuka"
	SubsidyITIntroduction SubsidyType = "it-introduction"
	SubsidyGyomuKaizen    SubsidyType = "gyomu-kaizen"
	SubsidySaikochiku     SubsidyType = "saikochiku"
	SubsidyCustom         SubsidyType = "custom"
)

// KnownSubsidyTypes lists the built-in subsidy categories. The set is closed
// but extensible: unknown values are accepted and treated like "custom".
var KnownSubsidyTypes = []SubsidyType{
	SubsidyMonozukuri,
	SubsidyJizokuka,
	SubsidyITIntroduction,
	SubsidyGyomuKaizen,
	SubsidySaikochiku,
	SubsidyCustom,
}

// TemplateRecord is the registry's unit of storage: one registered subsidy
// application PDF template plus its field mapping.
type TemplateRecord struct {
	ID                   string       `json:"id"`
	SubsidyType          SubsidyType  `json:"subsidyType"`
	DisplayName          string       `json:"displayName"`
	Description          string       `json:"description,omitempty"`
	SourceFile           string       `json:"sourceFile"`
	PageCount            int          `json:"pageCount"`
	HasNativeFormFields  bool         `json:"hasNativeFormFields"`
	FieldMapping         FieldMapping `json:"fieldMapping"`
	IsActive             bool         `json:"isActive"`
	IsGovernmentOfficial bool         `json:"isGovernmentOfficial"`
	UploadedAt           time.Time    `json:"uploadedAt"`
}

// Warning records a non-fatal per-field problem found during assembly or
// rendering. Silent partial success is disallowed, so anything skipped or
// altered must surface here.
type Warning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FlatValues is the assembler's output: the final renderable string for each
// resolved field, plus warnings (truncation, coercion fallbacks, missing
// optional values).
type FlatValues struct {
	Values   map[string]string `json:"values"`
	Warnings []Warning         `json:"warnings,omitempty"`
}

// Get returns the rendered string for a field name.
func (fv *FlatValues) Get(name string) (string, bool) {
	v, ok := fv.Values[name]
	return v, ok
}
