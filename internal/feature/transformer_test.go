package feature

import (
	"reflect"
	"testing"

	"github.com/factoryml/factoryml/internal/errors"
	"github.com/factoryml/factoryml/internal/validate"
	"github.com/factoryml/factoryml/pkg/types"
)

func f(v float64) *float64 { return &v }

func testSchema() *types.Schema {
	return &types.Schema{
		Version: "1.0",
		Columns: []types.ColumnSpec{
			{Name: "temperature", Type: types.TypeFloat, Required: true, Min: f(-50), Max: f(150)},
			{Name: "product_type", Type: types.TypeCategory, Required: true, AllowedValues: []string{"A", "B", "C"}},
			{Name: "cycle_count", Type: types.TypeInt, Required: true},
			{Name: "operator", Type: types.TypeString},
		},
	}
}

func mustRecords(t *testing.T, schema *types.Schema, rows []types.Row) []*types.InputRecord {
	t.Helper()
	records, errs := validate.NewValidator(schema).CoerceRows(rows)
	if len(errs) != 0 {
		t.Fatalf("test rows failed validation: %v", errs)
	}
	return records
}

func TestTransformer_ToFeatureVector(t *testing.T) {
	schema := testSchema()
	tr := NewTransformer(schema)

	records := mustRecords(t, schema, []types.Row{
		{"20.5", "A", "100", "tanaka"},
		{"-3", "C", "7", ""},
	})

	numeric, categorical, err := tr.ToFeatureVector(records)
	if err != nil {
		t.Fatalf("ToFeatureVector: %v", err)
	}

	// Row-major: each record's numeric columns contiguous.
	wantNumeric := []float64{20.5, 100, -3, 7}
	if !reflect.DeepEqual(numeric.Data, wantNumeric) {
		t.Errorf("numeric data = %v, want %v", numeric.Data, wantNumeric)
	}
	if numeric.Rows != 2 || numeric.Cols != 2 {
		t.Errorf("numeric shape = %dx%d, want 2x2", numeric.Rows, numeric.Cols)
	}

	wantCategorical := []string{"A", "tanaka", "C", ""}
	if !reflect.DeepEqual(categorical.Data, wantCategorical) {
		t.Errorf("categorical data = %v, want %v", categorical.Data, wantCategorical)
	}
	if categorical.Rows != 2 || categorical.Cols != 2 {
		t.Errorf("categorical shape = %dx%d, want 2x2", categorical.Rows, categorical.Cols)
	}
}

func TestTransformer_Deterministic(t *testing.T) {
	schema := testSchema()
	tr := NewTransformer(schema)

	records := mustRecords(t, schema, []types.Row{
		{"20.5", "A", "100", "tanaka"},
		{"30", "B", "1", "sato"},
	})

	n1, c1, err := tr.ToFeatureVector(records)
	if err != nil {
		t.Fatal(err)
	}
	n2, c2, err := tr.ToFeatureVector(records)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(n1, n2) || !reflect.DeepEqual(c1, c2) {
		t.Error("transforming the same records twice must yield identical tensors")
	}
	if Fingerprint(n1, c1) != Fingerprint(n2, c2) {
		t.Error("fingerprints of identical tensors must match")
	}
}

func TestTransformer_MissingColumnIsShapeError(t *testing.T) {
	schema := testSchema()
	tr := NewTransformer(schema)

	// Record built against a narrower column set than the transformer's schema.
	rec := types.NewInputRecord([]string{"temperature"})
	rec.Set("temperature", types.Value{Kind: types.TypeFloat, Float: 20})

	_, _, err := tr.ToFeatureVector([]*types.InputRecord{rec})
	if err == nil {
		t.Fatal("expected a shape error for a record missing schema columns")
	}
	if !errors.HasCode(err, errors.CodeShapeMismatch) {
		t.Errorf("error code = %q, want %q", errors.GetCode(err), errors.CodeShapeMismatch)
	}
}

func TestTransformer_EmptyInputIsShapeError(t *testing.T) {
	tr := NewTransformer(testSchema())
	_, _, err := tr.ToFeatureVector(nil)
	if !errors.HasCode(err, errors.CodeShapeMismatch) {
		t.Errorf("error = %v, want SHAPE_MISMATCH", err)
	}
}

func TestFingerprint_DistinguishesContent(t *testing.T) {
	schema := testSchema()
	tr := NewTransformer(schema)

	a := mustRecords(t, schema, []types.Row{{"20.5", "A", "100", ""}})
	b := mustRecords(t, schema, []types.Row{{"90", "A", "100", ""}})

	na, ca, _ := tr.ToFeatureVector(a)
	nb, cb, _ := tr.ToFeatureVector(b)

	if Fingerprint(na, ca) == Fingerprint(nb, cb) {
		t.Error("different inputs should fingerprint differently")
	}
}

func TestTransformer_DateRenderedThroughFormat(t *testing.T) {
	schema := &types.Schema{
		Version: "1.0",
		Columns: []types.ColumnSpec{
			{Name: "produced_on", Type: types.TypeDate, Required: true, Format: "2006-01-02"},
		},
	}
	tr := NewTransformer(schema)

	records := mustRecords(t, schema, []types.Row{{"2025-03-14"}})
	_, categorical, err := tr.ToFeatureVector(records)
	if err != nil {
		t.Fatal(err)
	}
	if categorical.Data[0] != "2025-03-14" {
		t.Errorf("date cell = %q, want canonical 2025-03-14", categorical.Data[0])
	}
}
