// Package inference wraps loaded model sessions and exposes prediction
// over feature tensors. The engine owns every session handle it loads;
// no other component holds a session past the engine's lifetime.
package inference

import (
	"context"

	"github.com/factoryml/factoryml/internal/feature"
	"github.com/factoryml/factoryml/pkg/types"
)

// Runtime loads model files into runnable sessions. The production
// implementation is backed by ONNX Runtime; tests substitute an
// in-memory fake.
type Runtime interface {
	// Load opens the model at path and returns a session for it.
	// The caller owns the returned session and must Close it.
	Load(ctx context.Context, path string) (Session, error)
}

// Session is a loaded model that can serve predictions. Sessions are
// safe for concurrent Run calls; Close releases native resources and
// must not be called while a Run is in flight (the engine's locking
// guarantees this).
type Session interface {
	// Run executes the model over one batch of feature tensors.
	// Probability values are passed through from the model unmodified.
	Run(ctx context.Context, numeric *feature.NumericTensor, categorical *feature.CategoricalTensor) (*types.InferenceResult, error)

	// Close releases the session's native resources.
	Close() error
}
