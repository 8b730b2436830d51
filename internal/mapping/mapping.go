// Package mapping loads and exposes the agent's declarative
// "control-the-payload" configuration: the ordered list of rules that
// decide, per event, how to build an outbound request and a status report.
package mapping

import (
	"encoding/json"
	"fmt"
	"os"
)

// Enabled is the mapping's enabled predicate: a boolean literal or a jq
// expression string evaluated against the event.
type Enabled struct {
	Literal    *bool
	Expression string
}

// UnmarshalJSON accepts either a JSON boolean or a JSON string.
func (e *Enabled) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		e.Literal = &b
		e.Expression = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Literal = nil
		e.Expression = s
		return nil
	}
	return fmt.Errorf("mapping: enabled must be a bool or a string, got %s", string(data))
}

// IsLiteralTrue reports whether enabled is the boolean literal true.
func (e Enabled) IsLiteralTrue() bool {
	return e.Literal != nil && *e.Literal
}

// IsLiteralFalse reports whether enabled is the boolean literal false.
func (e Enabled) IsLiteralFalse() bool {
	return e.Literal != nil && !*e.Literal
}

// Template is a value that may be a literal, an expression string, or a
// recursively nested object/array of templates. It is represented as the
// raw decoded JSON value (string/float64/bool/nil/map[string]any/[]any);
// internal/transform interprets it field by field.
type Template = any

// ReportTemplate is the template for the status-report payload.
type ReportTemplate struct {
	Status         Template `json:"status,omitempty"`
	Link           Template `json:"link,omitempty"`
	Summary        Template `json:"summary,omitempty"`
	ExternalRunID  Template `json:"externalRunId,omitempty"`
}

// Mapping is one entry of the control-the-payload config, evaluated in
// order; the first mapping whose Enabled predicate holds wins.
type Mapping struct {
	Enabled              Enabled          `json:"enabled"`
	Method               Template         `json:"method,omitempty"`
	URL                  Template         `json:"url,omitempty"`
	Body                 Template         `json:"body,omitempty"`
	Headers              Template         `json:"headers,omitempty"`
	Query                Template         `json:"query,omitempty"`
	Report               *ReportTemplate  `json:"report,omitempty"`
	FieldsToDecryptPaths []string         `json:"fieldsToDecryptPaths,omitempty"`
}

// UnmarshalJSON defaults Enabled to the literal true when the "enabled" key
// is absent from the source JSON, matching core/config.py's `enabled = True`
// default. json.Unmarshal never calls Enabled.UnmarshalJSON for a missing
// key, so the zero value would otherwise match none of selectMapping's
// cases and the rule could never be selected.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	type alias Mapping
	def := alias{Enabled: Enabled{Literal: boolPtr(true)}}
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*m = Mapping(def)
	return nil
}

func boolPtr(b bool) *bool { return &b }

// Store holds the ordered list of mappings loaded at startup. It is
// read-only for the lifetime of the process.
type Store struct {
	mappings []Mapping
}

// Load reads and parses the mapping file at path. A missing or malformed
// file is a fatal configuration error, per the control-the-payload contract.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mapping: read %s: %w", path, err)
	}
	var mappings []Mapping
	if err := json.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("mapping: parse %s: %w", path, err)
	}
	return &Store{mappings: mappings}, nil
}

// NewStore builds a Store directly from an already-decoded mapping list,
// used by tests and by callers that source mappings from somewhere other
// than a local file.
func NewStore(mappings []Mapping) *Store {
	return &Store{mappings: mappings}
}

// Mappings returns the ordered mapping list.
func (s *Store) Mappings() []Mapping {
	return s.mappings
}
