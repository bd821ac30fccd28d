package types

import (
	"encoding/json"
	"fmt"
	"os"
)

// ColumnType is the closed set of column types a schema may declare.
type ColumnType string

const (
	TypeString   ColumnType = "STRING"
	TypeInt      ColumnType = "INT"
	TypeFloat    ColumnType = "FLOAT"
	TypeDate     ColumnType = "DATE"
	TypeCategory ColumnType = "CATEGORY"
)

// IsNumeric reports whether values of this type feed the numeric tensor.
func (t ColumnType) IsNumeric() bool {
	return t == TypeInt || t == TypeFloat
}

// Valid reports whether t is one of the declared column types.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeDate, TypeCategory:
		return true
	}
	return false
}

// Schema defines the expected structure of tabular input data.
type Schema struct {
	// Version identifies compatibility for models trained against this schema
	Version string `json:"version"`

	// Columns defines the columns in schema order; order determines tensor layout
	Columns []ColumnSpec `json:"columns"`
}

// ColumnSpec defines a single column and its validation constraints.
// Only the constraint fields relevant to Type are consulted; the rest
// are ignored.
type ColumnSpec struct {
	// Name is the column name, unique within a schema
	Name string `json:"name"`

	// Type selects the validation strategy: STRING, INT, FLOAT, DATE, CATEGORY
	Type ColumnType `json:"type"`

	// Required indicates the cell must be non-empty
	Required bool `json:"required"`

	// Format is the date layout for DATE columns (Go reference layout)
	Format string `json:"format,omitempty"`

	// AllowedValues is the membership set for CATEGORY columns
	AllowedValues []string `json:"allowed_values,omitempty"`

	// Min is the inclusive lower bound for INT/FLOAT columns (nil = unbounded)
	Min *float64 `json:"min,omitempty"`

	// Max is the inclusive upper bound for INT/FLOAT columns (nil = unbounded)
	Max *float64 `json:"max,omitempty"`
}

// Allows reports whether v is in the column's allowed-value set.
func (c *ColumnSpec) Allows(v string) bool {
	for _, a := range c.AllowedValues {
		if a == v {
			return true
		}
	}
	return false
}

// Validate checks the schema's own invariants: at least one column,
// unique column names, known types, and constraint fields populated
// only where relevant to the column type.
func (s *Schema) Validate() error {
	if s.Version == "" {
		return fmt.Errorf("schema version is required")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("schema must declare at least one column")
	}

	seen := make(map[string]bool, len(s.Columns))
	for i, col := range s.Columns {
		if col.Name == "" {
			return fmt.Errorf("column %d: name is required", i)
		}
		if seen[col.Name] {
			return fmt.Errorf("column %q: duplicate column name", col.Name)
		}
		seen[col.Name] = true

		if !col.Type.Valid() {
			return fmt.Errorf("column %q: unknown type %q", col.Name, col.Type)
		}

		switch col.Type {
		case TypeDate:
			if col.Format == "" {
				return fmt.Errorf("column %q: DATE column requires a format", col.Name)
			}
		case TypeCategory:
			if len(col.AllowedValues) == 0 {
				return fmt.Errorf("column %q: CATEGORY column requires allowed_values", col.Name)
			}
		case TypeInt, TypeFloat:
			if col.Min != nil && col.Max != nil && *col.Min > *col.Max {
				return fmt.Errorf("column %q: min %g exceeds max %g", col.Name, *col.Min, *col.Max)
			}
		}

		if col.Type != TypeDate && col.Format != "" {
			return fmt.Errorf("column %q: format is only valid for DATE columns", col.Name)
		}
		if col.Type != TypeCategory && len(col.AllowedValues) > 0 {
			return fmt.Errorf("column %q: allowed_values is only valid for CATEGORY columns", col.Name)
		}
		if !col.Type.IsNumeric() && (col.Min != nil || col.Max != nil) {
			return fmt.Errorf("column %q: min/max are only valid for INT/FLOAT columns", col.Name)
		}
	}

	return nil
}

// Column returns the spec for the named column, or nil if absent.
func (s *Schema) Column(name string) *ColumnSpec {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i]
		}
	}
	return nil
}

// ColumnNames returns the column names in schema order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// NumericColumns returns the INT/FLOAT columns in schema order.
func (s *Schema) NumericColumns() []ColumnSpec {
	var cols []ColumnSpec
	for _, col := range s.Columns {
		if col.Type.IsNumeric() {
			cols = append(cols, col)
		}
	}
	return cols
}

// CategoricalColumns returns the STRING/DATE/CATEGORY columns in schema order.
func (s *Schema) CategoricalColumns() []ColumnSpec {
	var cols []ColumnSpec
	for _, col := range s.Columns {
		if !col.Type.IsNumeric() {
			cols = append(cols, col)
		}
	}
	return cols
}

// LoadSchema reads and validates a schema from a JSON file.
// A malformed schema file is a fatal configuration error for callers.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}

	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema in %s: %w", path, err)
	}

	return &s, nil
}
