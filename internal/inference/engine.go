package inference

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/factoryml/factoryml/internal/errors"
	"github.com/factoryml/factoryml/internal/feature"
	"github.com/factoryml/factoryml/pkg/types"
)

// slot pairs a loaded session with the path it was loaded from.
type slot struct {
	path string
	sess Session
}

// Engine serves predictions from a CURRENT model and, optionally, a
// CANDIDATE model loaded alongside it for shadow testing. At most one
// of each exists at a time.
//
// Swap linearization: Predict holds the read lock for its whole
// duration, SwapCurrent and SetCandidate hold the write lock only for
// the pointer swap (the replacement session is loaded fully before the
// lock is taken). An in-flight predict therefore completes against the
// session it started with; no call ever observes a half-loaded model.
type Engine struct {
	rt             Runtime
	predictTimeout time.Duration

	mu        sync.RWMutex
	current   *slot
	candidate *slot
	closed    bool
}

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine)

// WithPredictTimeout bounds every Predict and ShadowCompare call by d.
// Zero leaves calls bounded only by the caller's context.
func WithPredictTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.predictTimeout = d
	}
}

// NewEngine loads the current model and returns a serving engine.
// Startup fails fast if the model at currentPath cannot be loaded.
func NewEngine(ctx context.Context, rt Runtime, currentPath string, opts ...EngineOption) (*Engine, error) {
	sess, err := rt.Load(ctx, currentPath)
	if err != nil {
		return nil, err
	}
	log.Printf("inference: loaded current model %s", currentPath)
	e := &Engine{
		rt:      rt,
		current: &slot{path: currentPath, sess: sess},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// boundCtx applies the engine's predict timeout, if one is set.
func (e *Engine) boundCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.predictTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.predictTimeout)
}

// Predict runs one batch of tensors through the CURRENT model, or the
// CANDIDATE when useCandidate is set. Probabilities are passed through
// from the model unmodified.
func (e *Engine) Predict(ctx context.Context, numeric *feature.NumericTensor, categorical *feature.CategoricalTensor, useCandidate bool) (*types.InferenceResult, error) {
	ctx, cancel := e.boundCtx(ctx)
	defer cancel()

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, errors.New(errors.ErrCategoryInference, errors.CodeEngineClosed, "engine is closed")
	}

	target := e.current
	if useCandidate {
		if e.candidate == nil {
			return nil, errors.NewNoCandidateError()
		}
		target = e.candidate
	}

	return target.sess.Run(ctx, numeric, categorical)
}

// SetCandidate loads a second, independent session alongside CURRENT
// without disturbing it. Any previously loaded candidate is closed
// after the new one is fully loaded.
func (e *Engine) SetCandidate(ctx context.Context, path string) error {
	sess, err := e.rt.Load(ctx, path)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		sess.Close()
		return errors.New(errors.ErrCategoryInference, errors.CodeEngineClosed, "engine is closed")
	}
	old := e.candidate
	e.candidate = &slot{path: path, sess: sess}
	e.mu.Unlock()

	if old != nil {
		if err := old.sess.Close(); err != nil {
			log.Printf("inference: failed to close replaced candidate %s: %v", old.path, err)
		}
	}
	log.Printf("inference: loaded candidate model %s", path)
	return nil
}

// ClearCandidate unloads the candidate session, if any.
func (e *Engine) ClearCandidate() {
	e.mu.Lock()
	old := e.candidate
	e.candidate = nil
	e.mu.Unlock()

	if old != nil {
		if err := old.sess.Close(); err != nil {
			log.Printf("inference: failed to close candidate %s: %v", old.path, err)
		}
		log.Printf("inference: unloaded candidate model %s", old.path)
	}
}

// SwapCurrent atomically replaces the CURRENT model with the model at
// path. The new session is loaded fully before the swap; on any load
// failure the old model remains fully active. The old session is
// closed only after the swap, when no predict can still hold it.
func (e *Engine) SwapCurrent(ctx context.Context, path string) error {
	sess, err := e.rt.Load(ctx, path)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		sess.Close()
		return errors.New(errors.ErrCategoryInference, errors.CodeEngineClosed, "engine is closed")
	}
	old := e.current
	e.current = &slot{path: path, sess: sess}
	e.mu.Unlock()

	if err := old.sess.Close(); err != nil {
		log.Printf("inference: failed to close replaced model %s: %v", old.path, err)
	}
	log.Printf("inference: swapped current model %s -> %s", old.path, path)
	return nil
}

// CurrentPath returns the path backing the CURRENT slot.
func (e *Engine) CurrentPath() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return ""
	}
	return e.current.path
}

// CandidatePath returns the path backing the CANDIDATE slot, or ""
// when no candidate is loaded.
func (e *Engine) CandidatePath() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.candidate == nil {
		return ""
	}
	return e.candidate.path
}

// HasCandidate reports whether a candidate session is loaded.
func (e *Engine) HasCandidate() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.candidate != nil
}

// ShadowReport is the outcome of running the same input through both
// the CURRENT and CANDIDATE models.
type ShadowReport struct {
	// Current is the production model's result
	Current *types.InferenceResult `json:"current"`

	// Candidate is the shadow model's result
	Candidate *types.InferenceResult `json:"candidate"`

	// LabelsAgree reports whether both models predicted the same label
	LabelsAgree bool `json:"labels_agree"`

	// MaxProbabilityDelta is the largest absolute per-class divergence
	MaxProbabilityDelta float64 `json:"max_probability_delta"`

	// InputFingerprint identifies the exact tensors both models saw,
	// so a report can be paired with its input for audit
	InputFingerprint string `json:"input_fingerprint"`
}

// ShadowCompare runs one input through CURRENT and CANDIDATE under a
// single read lock, so both results come from a consistent pair of
// sessions. Serving is unaffected; the candidate's result is never
// returned as a production prediction.
func (e *Engine) ShadowCompare(ctx context.Context, numeric *feature.NumericTensor, categorical *feature.CategoricalTensor) (*ShadowReport, error) {
	ctx, cancel := e.boundCtx(ctx)
	defer cancel()

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, errors.New(errors.ErrCategoryInference, errors.CodeEngineClosed, "engine is closed")
	}
	if e.candidate == nil {
		return nil, errors.NewNoCandidateError()
	}

	cur, err := e.current.sess.Run(ctx, numeric, categorical)
	if err != nil {
		return nil, err
	}
	cand, err := e.candidate.sess.Run(ctx, numeric, categorical)
	if err != nil {
		return nil, err
	}

	report := &ShadowReport{
		Current:          cur,
		Candidate:        cand,
		LabelsAgree:      cur.Label == cand.Label,
		InputFingerprint: feature.Fingerprint(numeric, categorical),
	}
	for i := 0; i < len(cur.Probabilities) && i < len(cand.Probabilities); i++ {
		d := math.Abs(cur.Probabilities[i] - cand.Probabilities[i])
		if d > report.MaxProbabilityDelta {
			report.MaxProbabilityDelta = d
		}
	}
	return report, nil
}

// Close releases both sessions' native resources. Safe to call when no
// candidate was ever set, and idempotent: a second close is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	if e.current != nil {
		if err := e.current.sess.Close(); err != nil {
			firstErr = err
		}
		e.current = nil
	}
	if e.candidate != nil {
		if err := e.candidate.sess.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.candidate = nil
	}
	return firstErr
}
