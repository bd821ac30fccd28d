// Package dataset loads CSV input files and aligns their columns to a
// schema by header name.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/factoryml/factoryml/pkg/types"
)

// LoadResult contains the schema-aligned rows alongside any non-fatal
// issues encountered while reading the file.
type LoadResult struct {
	// Rows are the data rows, positionally aligned to schema columns
	Rows []types.Row

	// Headers are the trimmed header names as they appeared in the file
	Headers []string

	// Warnings describe non-fatal issues: unknown CSV columns, schema
	// columns absent from the file, ragged rows
	Warnings []string
}

// LoadCSV reads a CSV file and aligns it to the schema.
func LoadCSV(path string, schema *types.Schema) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file %s: %w", path, err)
	}
	defer f.Close()

	result, err := ReadCSV(f, schema)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return result, nil
}

// ReadCSV parses CSV data and emits rows positionally aligned to
// schema column order. The header row is matched against schema
// columns by name, not position. Columns the schema does not know are
// dropped with a warning; schema columns the file lacks produce empty
// cells, which validation then reports for required columns.
func ReadCSV(r io.Reader, schema *types.Schema) (*LoadResult, error) {
	reader := csv.NewReader(r)
	// Ragged rows are handled here, not rejected by the csv package.
	reader.FieldsPerRecord = -1
	// Lazy quotes for less strict parsing of real-world CSV files.
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty file: no header row found")
		}
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	result := &LoadResult{Headers: headers}

	// Map each schema column to its position in the file, if any.
	headerIndex := make(map[string]int, len(headers))
	for i, h := range headers {
		if _, dup := headerIndex[h]; dup {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("duplicate CSV column %q; using first occurrence", h))
			continue
		}
		headerIndex[h] = i
	}

	known := make(map[string]bool, len(schema.Columns))
	colPos := make([]int, len(schema.Columns))
	for j, col := range schema.Columns {
		known[col.Name] = true
		if pos, ok := headerIndex[col.Name]; ok {
			colPos[j] = pos
		} else {
			colPos[j] = -1
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("schema column %q not present in CSV; cells will be empty", col.Name))
		}
	}
	for _, h := range headers {
		if !known[h] {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("CSV column %q is not in the schema; ignored", h))
		}
	}

	rowNum := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", rowNum, err)
		}

		if len(record) != len(headers) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("row %d has %d cells, header has %d", rowNum, len(record), len(headers)))
		}

		row := make(types.Row, len(schema.Columns))
		for j, pos := range colPos {
			if pos >= 0 && pos < len(record) {
				row[j] = record[pos]
			}
		}
		result.Rows = append(result.Rows, row)
		rowNum++
	}

	return result, nil
}
