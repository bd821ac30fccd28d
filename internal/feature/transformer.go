// Package feature converts validated records into the tensor layout
// the model expects.
package feature

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/factoryml/factoryml/internal/errors"
	"github.com/factoryml/factoryml/pkg/types"
)

// NumericTensor is a row-major buffer of numeric features: one
// record's numeric columns are contiguous.
type NumericTensor struct {
	// Data holds Rows*Cols values in row-major order
	Data []float64

	// Rows is the number of records
	Rows int

	// Cols is the number of numeric columns per record
	Cols int
}

// CategoricalTensor is a row-major buffer of categorical/string
// features, parallel to the numeric tensor's record grouping.
type CategoricalTensor struct {
	// Data holds Rows*Cols values in row-major order
	Data []string

	// Rows is the number of records
	Rows int

	// Cols is the number of categorical columns per record
	Cols int
}

// Transformer converts InputRecords into model input tensors. A
// transformer is constructed bound to one schema instance and rejects
// records that do not carry every schema column. Transformation is
// deterministic: identical records produce byte-identical tensors.
type Transformer struct {
	schema      *types.Schema
	numericCols []types.ColumnSpec
	stringCols  []types.ColumnSpec
}

// NewTransformer creates a transformer bound to the given schema.
func NewTransformer(schema *types.Schema) *Transformer {
	return &Transformer{
		schema:      schema,
		numericCols: schema.NumericColumns(),
		stringCols:  schema.CategoricalColumns(),
	}
}

// Schema returns the schema the transformer is bound to.
func (t *Transformer) Schema() *types.Schema {
	return t.schema
}

// ToFeatureVector lays the records out as a numeric tensor and a
// parallel categorical tensor, iterating schema column order per
// record. DATE values are encoded as their Unix timestamp rendered
// through the column's format, keeping them categorical exactly as
// the model was trained.
//
// Returns a SHAPE_MISMATCH error if any record is missing a column of
// the bound schema.
func (t *Transformer) ToFeatureVector(records []*types.InputRecord) (*NumericTensor, *CategoricalTensor, error) {
	if len(records) == 0 {
		return nil, nil, errors.NewShapeError("no records to transform")
	}

	numeric := &NumericTensor{
		Data: make([]float64, 0, len(records)*len(t.numericCols)),
		Rows: len(records),
		Cols: len(t.numericCols),
	}
	categorical := &CategoricalTensor{
		Data: make([]string, 0, len(records)*len(t.stringCols)),
		Rows: len(records),
		Cols: len(t.stringCols),
	}

	for i, rec := range records {
		for _, col := range t.schema.Columns {
			v, ok := rec.Get(col.Name)
			if !ok {
				return nil, nil, errors.NewShapeError(
					fmt.Sprintf("record %d is missing column %q required by schema %s", i, col.Name, t.schema.Version))
			}
			if col.Type.IsNumeric() {
				numeric.Data = append(numeric.Data, v.Float)
			} else {
				categorical.Data = append(categorical.Data, categoricalValue(&col, v))
			}
		}
	}

	return numeric, categorical, nil
}

// categoricalValue renders a non-numeric value as the string the model
// sees. DATE columns re-render through the schema format so the value
// is canonical regardless of input whitespace.
func categoricalValue(col *types.ColumnSpec, v types.Value) string {
	if col.Type == types.TypeDate && !v.Time.Equal(time.Time{}) {
		return v.Time.Format(col.Format)
	}
	return v.Str
}

// Fingerprint returns a 128-bit murmur3 hash over both tensors,
// including their shapes. Two transformations of the same records are
// required to produce the same fingerprint; the hash is recorded for
// audit and used to pair shadow runs with the exact input they saw.
func Fingerprint(n *NumericTensor, c *CategoricalTensor) string {
	h := murmur3.New128()

	var buf [8]byte
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}

	writeInt(n.Rows)
	writeInt(n.Cols)
	for _, f := range n.Data {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}

	writeInt(c.Rows)
	writeInt(c.Cols)
	for _, s := range c.Data {
		writeInt(len(s))
		h.Write([]byte(s))
	}

	h1, h2 := h.Sum128()
	return fmt.Sprintf("%016x%016x", h1, h2)
}
