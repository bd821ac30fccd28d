package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/factoryml/factoryml/pkg/types"
)

func testSchema(t *testing.T) *types.Schema {
	t.Helper()
	min := -50.0
	max := 150.0
	s := &types.Schema{
		Version: "1",
		Columns: []types.ColumnSpec{
			{Name: "temperature", Type: types.TypeFloat, Required: true, Min: &min, Max: &max},
			{Name: "product_type", Type: types.TypeCategory, Required: true, AllowedValues: []string{"A", "B", "C"}},
			{Name: "operator", Type: types.TypeString},
		},
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("test schema invalid: %v", err)
	}
	return s
}

func TestReadCSV_AlignsByHeaderName(t *testing.T) {
	// Columns deliberately out of schema order.
	input := "product_type,operator,temperature\nA,alice,21.5\nB,bob,99\n"

	result, err := ReadCSV(strings.NewReader(input), testSchema(t))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	want := types.Row{"21.5", "A", "alice"}
	for j := range want {
		if result.Rows[0][j] != want[j] {
			t.Errorf("row 0 cell %d: got %q, want %q", j, result.Rows[0][j], want[j])
		}
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", result.Warnings)
	}
}

func TestReadCSV_UnknownColumnWarns(t *testing.T) {
	input := "temperature,product_type,operator,shift\n21.5,A,alice,night\n"

	result, err := ReadCSV(strings.NewReader(input), testSchema(t))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], `"shift"`) {
		t.Errorf("expected unknown-column warning for shift, got %v", result.Warnings)
	}
	if len(result.Rows[0]) != 3 {
		t.Errorf("expected 3 aligned cells, got %d", len(result.Rows[0]))
	}
}

func TestReadCSV_MissingSchemaColumn(t *testing.T) {
	input := "temperature,operator\n21.5,alice\n"

	result, err := ReadCSV(strings.NewReader(input), testSchema(t))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, `"product_type"`) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected missing-column warning for product_type, got %v", result.Warnings)
	}
	if result.Rows[0][1] != "" {
		t.Errorf("missing column should yield empty cell, got %q", result.Rows[0][1])
	}
}

func TestReadCSV_RaggedRows(t *testing.T) {
	input := "temperature,product_type,operator\n21.5,A\n22.0,B,bob,extra\n"

	result, err := ReadCSV(strings.NewReader(input), testSchema(t))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	// Short row pads with empty cells.
	if result.Rows[0][2] != "" {
		t.Errorf("short row should pad operator to empty, got %q", result.Rows[0][2])
	}
	// Long row drops the surplus cell.
	if result.Rows[1][2] != "bob" {
		t.Errorf("long row should keep mapped cells, got %q", result.Rows[1][2])
	}
	if len(result.Warnings) != 2 {
		t.Errorf("expected 2 ragged-row warnings, got %v", result.Warnings)
	}
}

func TestReadCSV_EmptyFile(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""), testSchema(t))
	if err == nil {
		t.Fatal("expected error for empty file")
	}
	if !strings.Contains(err.Error(), "no header row") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestReadCSV_HeaderWhitespaceTrimmed(t *testing.T) {
	input := " temperature , product_type ,operator\n21.5,A,alice\n"

	result, err := ReadCSV(strings.NewReader(input), testSchema(t))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if result.Rows[0][0] != "21.5" || result.Rows[0][1] != "A" {
		t.Errorf("trimmed headers should still map: %v", result.Rows[0])
	}
}

func TestLoadCSV_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.csv")
	content := "temperature,product_type,operator\n21.5,A,alice\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := LoadCSV(path, testSchema(t))
	if err != nil {
		t.Fatalf("LoadCSV failed: %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(result.Rows))
	}

	if _, err := LoadCSV(filepath.Join(dir, "missing.csv"), testSchema(t)); err == nil {
		t.Error("expected error for missing file")
	}
}
