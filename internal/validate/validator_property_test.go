package validate

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/factoryml/factoryml/pkg/types"
)

// Validation must be deterministic: the same rows against the same
// schema always yield the same error list, in the same order.
func TestProperty_ValidateDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	v := NewValidator(testSchema())

	genCell := gen.OneConstOf("20.5", "200", "bad", "", "A", "D", "2025-03-14", "x")
	genRow := gen.SliceOfN(5, genCell).Map(func(cells []string) types.Row {
		return types.Row(cells)
	})

	properties.Property("repeated validation yields identical error lists", prop.ForAll(
		func(rows []types.Row) bool {
			first := v.Validate(rows)
			second := v.Validate(rows)
			return reflect.DeepEqual(first, second)
		},
		gen.SliceOf(genRow),
	))

	properties.Property("error order is stable by row then column", prop.ForAll(
		func(rows []types.Row) bool {
			errs := v.Validate(rows)
			colPos := map[string]int{}
			for i, c := range v.Schema().Columns {
				colPos[c.Name] = i
			}
			for i := 1; i < len(errs); i++ {
				prev, cur := errs[i-1], errs[i]
				if cur.RowIndex < prev.RowIndex {
					return false
				}
				if cur.RowIndex == prev.RowIndex && colPos[cur.ColumnName] < colPos[prev.ColumnName] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(10, genRow),
	))

	properties.TestingRun(t)
}

// A missing required cell produces exactly one error for that cell,
// regardless of what the rest of the row contains.
func TestProperty_RequiredFieldErrorExactlyOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	v := NewValidator(testSchema())

	properties.Property("empty required cell reported exactly once", prop.ForAll(
		func(count string, op string) bool {
			row := types.Row{"", count, "A", "", op}
			errs := v.ValidateRow(row, 0)
			n := 0
			for _, e := range errs {
				if e.ColumnName == "temperature" && e.Message == "required field missing" {
					n++
				}
			}
			return n == 1
		},
		gen.OneConstOf("", "100", "bad"),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
