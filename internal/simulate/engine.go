// Package simulate re-runs inference over modified copies of records
// for what-if exploration.
package simulate

import (
	"context"

	"github.com/factoryml/factoryml/internal/errors"
	"github.com/factoryml/factoryml/internal/feature"
	"github.com/factoryml/factoryml/internal/inference"
	"github.com/factoryml/factoryml/pkg/types"
)

// Engine produces counterfactual predictions. It composes the feature
// transformer and the inference engine; it never talks to model
// sessions directly, so session ownership stays with the inference
// engine.
type Engine struct {
	transformer *feature.Transformer
	inference   *inference.Engine
}

// NewEngine creates a simulation engine over the given transformer and
// inference engine.
func NewEngine(transformer *feature.Transformer, inf *inference.Engine) *Engine {
	return &Engine{transformer: transformer, inference: inf}
}

// Simulate applies overrides to a copy of original and predicts on the
// modified record with the CURRENT model. The caller's record is never
// mutated, so what-if exploration can run repeatedly against the same
// displayed state.
//
// An override key that is not one of the record's columns is an
// UNKNOWN_COLUMN error: silently adding columns would desynchronize
// the feature layout from the schema.
func (e *Engine) Simulate(ctx context.Context, original *types.InputRecord, overrides map[string]types.Value) (*types.InferenceResult, error) {
	modified := original.Clone()
	for name, value := range overrides {
		if err := modified.Set(name, value); err != nil {
			return nil, errors.NewUnknownColumnError(name)
		}
	}

	numeric, categorical, err := e.transformer.ToFeatureVector([]*types.InputRecord{modified})
	if err != nil {
		return nil, err
	}

	return e.inference.Predict(ctx, numeric, categorical, false)
}
