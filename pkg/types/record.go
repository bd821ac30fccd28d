// Package types provides core data types for the factoryml system.
package types

import (
	"fmt"
	"time"
)

// Row is a single record of raw string cells, positionally aligned to
// Schema.Columns by the caller. Header-to-column mapping happens once,
// upstream of validation.
type Row []string

// Cell returns the cell at position j, or "" if the row is short.
func (r Row) Cell(j int) string {
	if j < 0 || j >= len(r) {
		return ""
	}
	return r[j]
}

// Value is a typed cell value produced by validation-time coercion.
// Exactly one representation is populated according to the column type:
// Float for INT/FLOAT, Time for DATE, Str for STRING/CATEGORY.
type Value struct {
	// Kind is the column type that produced this value
	Kind ColumnType `json:"kind"`

	// Float holds the numeric value for INT/FLOAT columns
	Float float64 `json:"float,omitempty"`

	// Time holds the parsed value for DATE columns
	Time time.Time `json:"time,omitempty"`

	// Str holds the raw value for STRING/CATEGORY columns
	Str string `json:"str,omitempty"`
}

// InputRecord maps column names to typed values, preserving schema
// column order. Order matters: it determines the tensor layout fed to
// the model.
type InputRecord struct {
	columns []string
	values  map[string]Value
}

// NewInputRecord creates an empty record that will hold values for the
// given columns, in the given order.
func NewInputRecord(columns []string) *InputRecord {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &InputRecord{
		columns: cols,
		values:  make(map[string]Value, len(cols)),
	}
}

// Columns returns the record's column names in order.
func (r *InputRecord) Columns() []string {
	cols := make([]string, len(r.columns))
	copy(cols, r.columns)
	return cols
}

// Has reports whether the record has a value for the named column.
func (r *InputRecord) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Get returns the value for the named column.
func (r *InputRecord) Get(name string) (Value, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Set stores a value for the named column. The column must be one of
// the record's declared columns.
func (r *InputRecord) Set(name string, v Value) error {
	for _, c := range r.columns {
		if c == name {
			r.values[name] = v
			return nil
		}
	}
	return fmt.Errorf("unknown column %q", name)
}

// Clone returns a deep copy of the record. The copy shares no mutable
// state with the original.
func (r *InputRecord) Clone() *InputRecord {
	cp := NewInputRecord(r.columns)
	for k, v := range r.values {
		cp.values[k] = v
	}
	return cp
}

// Equal reports whether two records have the same columns, order, and
// values.
func (r *InputRecord) Equal(other *InputRecord) bool {
	if other == nil || len(r.columns) != len(other.columns) {
		return false
	}
	for i, c := range r.columns {
		if other.columns[i] != c {
			return false
		}
	}
	if len(r.values) != len(other.values) {
		return false
	}
	for k, v := range r.values {
		ov, ok := other.values[k]
		if !ok || ov.Kind != v.Kind || ov.Float != v.Float || ov.Str != v.Str || !ov.Time.Equal(v.Time) {
			return false
		}
	}
	return true
}

// InferenceResult is the output of a single model prediction.
type InferenceResult struct {
	// Label is the predicted class label
	Label string `json:"label"`

	// Probabilities holds one entry per model class, in model class order.
	// Values are passed through from the model unmodified.
	Probabilities []float64 `json:"probabilities"`
}

// ArchiveEntry records one archived model copy. Entries are immutable
// once created; archived files are only removed by external retention.
type ArchiveEntry struct {
	// ID is the unique identifier for this archive operation
	ID string `json:"id"`

	// OriginalPath is the path the model was archived from
	OriginalPath string `json:"original_path"`

	// ArchivedPath is the timestamp-suffixed destination path
	ArchivedPath string `json:"archived_path"`

	// ArchivedAt is when the archive copy was taken
	ArchivedAt time.Time `json:"archived_at"`
}

// ValidationError describes one rejected cell or input-level problem.
// Immutable value; created by validation, consumed by report layers.
type ValidationError struct {
	// ColumnName is the offending column, or "" for input-level errors
	ColumnName string `json:"column_name"`

	// RowIndex is the 0-based row index, or -1 for input-level errors
	RowIndex int `json:"row_index"`

	// Message describes what was rejected and why
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	if e.RowIndex < 0 {
		return e.Message
	}
	return fmt.Sprintf("row %d, column %q: %s", e.RowIndex, e.ColumnName, e.Message)
}
