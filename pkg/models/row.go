package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Row is an ordered mapping from column name to a dynamically typed value.
// Column order follows the backend's native result and survives JSON and
// YAML encoding. A repeated column name keeps its first position and its
// last value.
type Row struct {
	columns []string
	values  map[string]any
}

// NewRow builds a row from parallel column and value slices.
// Missing values are treated as null.
func NewRow(columns []string, values []any) Row {
	r := Row{
		columns: make([]string, 0, len(columns)),
		values:  make(map[string]any, len(columns)),
	}
	for i, col := range columns {
		var v any
		if i < len(values) {
			v = values[i]
		}
		r.Set(col, v)
	}
	return r
}

// Set assigns a value, appending the column if it is new.
func (r *Row) Set(column string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[column]; !ok {
		r.columns = append(r.columns, column)
	}
	r.values[column] = value
}

// Get returns the value for a column.
func (r Row) Get(column string) (any, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Columns returns the column names in order.
func (r Row) Columns() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

// Values returns the values in column order.
func (r Row) Values() []any {
	out := make([]any, len(r.columns))
	for i, col := range r.columns {
		out[i] = r.values[col]
	}
	return out
}

// Len returns the number of columns.
func (r Row) Len() int {
	return len(r.columns)
}

// Map returns an unordered copy of the row.
func (r Row) Map() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the row as a JSON object in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[col])
		if err != nil {
			return nil, fmt.Errorf("models: column %q: %w", col, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the key order.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*r = Row{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("models: row must be a JSON object")
	}

	row := Row{values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("models: unexpected row key %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("models: column %q: %w", key, err)
		}
		row.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = row
	return nil
}

// MarshalYAML encodes the row as an ordered YAML mapping.
func (r Row) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, col := range r.columns {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: col}
		val := &yaml.Node{}
		if err := val.Encode(r.values[col]); err != nil {
			return nil, fmt.Errorf("models: column %q: %w", col, err)
		}
		node.Content = append(node.Content, key, val)
	}
	return node, nil
}
