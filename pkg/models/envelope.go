package models

import (
	"encoding/json"
)

// Envelope is the response shape shared by every transport.
//
// A failed envelope carries only "errors". A successful one carries
// "result" (always present, possibly empty) and, when any were reported,
// "warnings". "metadata" is only present when debug output was requested.
type Envelope struct {
	Result   []Row
	Errors   []Diagnostic
	Warnings []Diagnostic
	Metadata map[string]any
}

// Failed reports whether the envelope carries errors.
func (e Envelope) Failed() bool {
	return len(e.Errors) > 0
}

type failureWire struct {
	Errors   []Diagnostic   `json:"errors" yaml:"errors"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type successWire struct {
	Result   []Row          `json:"result" yaml:"result"`
	Warnings []Diagnostic   `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func (e Envelope) wire() interface{} {
	if e.Failed() {
		return failureWire{Errors: e.Errors, Metadata: e.Metadata}
	}
	rows := e.Result
	if rows == nil {
		rows = []Row{}
	}
	return successWire{Result: rows, Warnings: e.Warnings, Metadata: e.Metadata}
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.wire())
}

// MarshalYAML implements yaml.Marshaler.
func (e Envelope) MarshalYAML() (interface{}, error) {
	return e.wire(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w struct {
		Result   []Row          `json:"result"`
		Errors   []Diagnostic   `json:"errors"`
		Warnings []Diagnostic   `json:"warnings"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Envelope{
		Result:   w.Result,
		Errors:   w.Errors,
		Warnings: w.Warnings,
		Metadata: w.Metadata,
	}
	return nil
}
