package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MappingEntry is one logical field name paired with its spec.
type MappingEntry struct {
	Name string
	Spec FieldSpec
}

// FieldMapping is an ordered set of logical field name -> FieldSpec entries.
// Insertion order is preserved across JSON round trips; the assembler and
// renderer both iterate in this order, which keeps output deterministic.
type FieldMapping struct {
	entries []MappingEntry
}

// NewFieldMapping builds a mapping from entries in order. Duplicate names
// overwrite the earlier entry in place.
func NewFieldMapping(entries ...MappingEntry) FieldMapping {
	var m FieldMapping
	for _, e := range entries {
		m.Set(e.Name, e.Spec)
	}
	return m
}

// Set adds or replaces the spec for name. A replaced entry keeps its position.
func (m *FieldMapping) Set(name string, spec FieldSpec) {
	for i := range m.entries {
		if m.entries[i].Name == name {
			m.entries[i].Spec = spec
			return
		}
	}
	m.entries = append(m.entries, MappingEntry{Name: name, Spec: spec})
}

// Get returns the spec for name.
func (m FieldMapping) Get(name string) (FieldSpec, bool) {
	for _, e := range m.entries {
		if e.Name == name {
			return e.Spec, true
		}
	}
	return FieldSpec{}, false
}

// Len returns the number of entries.
func (m FieldMapping) Len() int { return len(m.entries) }

// Entries returns the entries in insertion order. The returned slice is a
// copy; mutating it does not affect the mapping.
func (m FieldMapping) Entries() []MappingEntry {
	out := make([]MappingEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Names returns the field names in insertion order.
func (m FieldMapping) Names() []string {
	names := make([]string, len(m.entries))
	for i, e := range m.entries {
		names[i] = e.Name
	}
	return names
}

// MarshalJSON encodes the mapping as a JSON object in insertion order.
func (m FieldMapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(e.Spec)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", e.Name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order via the token
// stream (a plain map would lose it).
func (m *FieldMapping) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("field mapping must be a JSON object")
	}

	m.entries = nil
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("field mapping key is not a string")
		}

		var spec FieldSpec
		if err := dec.Decode(&spec); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		m.Set(name, spec)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
