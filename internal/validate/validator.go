// Package validate checks raw tabular rows against a declared schema.
package validate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/factoryml/factoryml/pkg/types"
)

// Validator validates rows of raw string cells against a schema.
// A Validator holds no mutable state and is safe for concurrent use
// on disjoint row batches.
type Validator struct {
	schema *types.Schema
}

// NewValidator creates a validator bound to the given schema.
func NewValidator(schema *types.Schema) *Validator {
	return &Validator{schema: schema}
}

// Schema returns the schema the validator is bound to.
func (v *Validator) Schema() *types.Schema {
	return v.schema
}

// Validate checks every cell of every row against the schema and
// returns all errors found, ordered by row then column. Errors are
// accumulated, never short-circuited: a row with three bad cells
// yields three errors.
//
// An empty row set is itself an error; zero rows are never silently
// accepted as valid.
func (v *Validator) Validate(rows []types.Row) []types.ValidationError {
	if len(rows) == 0 {
		return []types.ValidationError{{
			ColumnName: "",
			RowIndex:   -1,
			Message:    "no data to validate",
		}}
	}

	var errs []types.ValidationError
	for i, row := range rows {
		errs = append(errs, v.ValidateRow(row, i)...)
	}
	return errs
}

// ValidateRow checks a single row, reporting errors against the given
// row index.
func (v *Validator) ValidateRow(row types.Row, rowIndex int) []types.ValidationError {
	var errs []types.ValidationError
	for j := range v.schema.Columns {
		col := &v.schema.Columns[j]
		cell := strings.TrimSpace(row.Cell(j))
		if e := checkCell(col, cell, rowIndex); e != nil {
			errs = append(errs, *e)
		}
	}
	return errs
}

// CoerceRow validates a row and, when it is clean, produces a typed
// InputRecord in schema column order. Empty optional cells coerce to
// the zero value of their column type so records are always complete
// with respect to the schema.
func (v *Validator) CoerceRow(row types.Row, rowIndex int) (*types.InputRecord, []types.ValidationError) {
	errs := v.ValidateRow(row, rowIndex)
	if len(errs) > 0 {
		return nil, errs
	}

	rec := types.NewInputRecord(v.schema.ColumnNames())
	for j := range v.schema.Columns {
		col := &v.schema.Columns[j]
		cell := strings.TrimSpace(row.Cell(j))
		// The record is keyed by the same schema the loop walks, so a
		// rejected column name means the schema and record disagree.
		if err := rec.Set(col.Name, coerceCell(col, cell)); err != nil {
			return nil, []types.ValidationError{{
				ColumnName: col.Name,
				RowIndex:   rowIndex,
				Message:    fmt.Sprintf("schema column %s not accepted by record: %v", col.Name, err),
			}}
		}
	}
	return rec, nil
}

// CoerceRows validates and coerces a batch. It returns the records for
// clean rows plus all validation errors; a row contributes either a
// record or errors, never both.
func (v *Validator) CoerceRows(rows []types.Row) ([]*types.InputRecord, []types.ValidationError) {
	if len(rows) == 0 {
		return nil, []types.ValidationError{{
			ColumnName: "",
			RowIndex:   -1,
			Message:    "no data to validate",
		}}
	}

	var records []*types.InputRecord
	var errs []types.ValidationError
	for i, row := range rows {
		rec, rowErrs := v.CoerceRow(row, i)
		if len(rowErrs) > 0 {
			errs = append(errs, rowErrs...)
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}

// checkCell applies the validation strategy for the column's type.
// Returns nil when the cell is accepted.
func checkCell(col *types.ColumnSpec, cell string, rowIndex int) *types.ValidationError {
	fail := func(msg string) *types.ValidationError {
		return &types.ValidationError{ColumnName: col.Name, RowIndex: rowIndex, Message: msg}
	}

	if cell == "" {
		if col.Required {
			return fail("required field missing")
		}
		return nil
	}

	switch col.Type {
	case types.TypeString:
		return nil

	case types.TypeInt:
		n, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			return fail("invalid numeric value")
		}
		return checkRange(col, float64(n), fail)

	case types.TypeFloat:
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return fail("invalid numeric value")
		}
		return checkRange(col, f, fail)

	case types.TypeDate:
		if _, err := time.Parse(col.Format, cell); err != nil {
			return fail(fmt.Sprintf("invalid date format, expected %s", col.Format))
		}
		return nil

	case types.TypeCategory:
		if !col.Allows(cell) {
			return fail(fmt.Sprintf("value not in allowed set [%s]", strings.Join(col.AllowedValues, ",")))
		}
		return nil
	}

	return fail(fmt.Sprintf("unknown column type %q", col.Type))
}

// checkRange enforces the inclusive min/max bounds of a numeric column.
func checkRange(col *types.ColumnSpec, v float64, fail func(string) *types.ValidationError) *types.ValidationError {
	if col.Min == nil && col.Max == nil {
		return nil
	}
	if (col.Min != nil && v < *col.Min) || (col.Max != nil && v > *col.Max) {
		return fail(fmt.Sprintf("value out of range [%s,%s]", boundStr(col.Min, "-inf"), boundStr(col.Max, "+inf")))
	}
	return nil
}

func boundStr(b *float64, unbounded string) string {
	if b == nil {
		return unbounded
	}
	return strconv.FormatFloat(*b, 'g', -1, 64)
}

// coerceCell converts an already-validated cell into its typed value.
func coerceCell(col *types.ColumnSpec, cell string) types.Value {
	switch col.Type {
	case types.TypeInt:
		n, _ := strconv.ParseInt(cell, 10, 64)
		return types.Value{Kind: col.Type, Float: float64(n)}
	case types.TypeFloat:
		f, _ := strconv.ParseFloat(cell, 64)
		return types.Value{Kind: col.Type, Float: f}
	case types.TypeDate:
		var t time.Time
		if cell != "" {
			t, _ = time.Parse(col.Format, cell)
		}
		return types.Value{Kind: col.Type, Time: t, Str: cell}
	default:
		return types.Value{Kind: col.Type, Str: cell}
	}
}
