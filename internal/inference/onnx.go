package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/factoryml/factoryml/internal/errors"
	"github.com/factoryml/factoryml/internal/feature"
	"github.com/factoryml/factoryml/pkg/types"
)

// Tensor names baked into the exported models by the training
// pipeline (skl2onnx with zipmap disabled).
const (
	onnxInputName   = "float_input"
	onnxLabelOutput = "label"
	onnxProbsOutput = "probabilities"
	vocabSuffix     = ".vocab.json"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initONNXRuntime initializes the shared ONNX Runtime environment
// exactly once per process. The shared library path may be overridden
// via ONNXRUNTIME_SHARED_LIBRARY_PATH.
func initONNXRuntime() error {
	ortInitOnce.Do(func() {
		if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// modelVocab is the sidecar encoding shipped next to each model file
// (<model>.vocab.json). The trainer label-encodes categorical columns
// before export, so the ONNX graph takes a single numeric input; the
// sidecar carries the per-column vocabularies and the class labels
// needed to reverse the encoding at serving time. This is the
// float64-to-float32 conversion boundary: everything upstream is
// float64, the graph input is float32.
type modelVocab struct {
	// Classes maps model output indexes to class labels
	Classes []string `json:"classes"`

	// Categorical maps column name -> value -> encoded feature value
	Categorical map[string]map[string]float32 `json:"categorical"`

	// CategoricalOrder lists the encoded columns in tensor order
	CategoricalOrder []string `json:"categorical_order"`
}

func loadVocab(modelPath string) (*modelVocab, error) {
	data, err := os.ReadFile(VocabPath(modelPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read vocab sidecar for %s: %w", modelPath, err)
	}
	var v modelVocab
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse vocab sidecar for %s: %w", modelPath, err)
	}
	if len(v.Classes) == 0 {
		return nil, fmt.Errorf("vocab sidecar for %s declares no classes", modelPath)
	}
	return &v, nil
}

// VocabPath returns the vocab sidecar path for a model file. The
// sidecar travels with the model through archiving and switching.
func VocabPath(modelPath string) string {
	return strings.TrimSuffix(modelPath, ".onnx") + vocabSuffix
}

// ONNXRuntime is the production Runtime backed by ONNX Runtime.
type ONNXRuntime struct{}

// NewONNXRuntime returns the ONNX-backed runtime, initializing the
// shared environment on first use.
func NewONNXRuntime() (*ONNXRuntime, error) {
	if err := initONNXRuntime(); err != nil {
		return nil, errors.Wrap(errors.ErrCategoryModel, errors.CodeModelLoadFailed,
			"failed to initialize ONNX runtime environment", err)
	}
	return &ONNXRuntime{}, nil
}

// Load opens the model file and its vocab sidecar. A model that cannot
// be loaded (corrupt file, unsupported op, missing sidecar) fails here
// without touching any other session.
func (r *ONNXRuntime) Load(ctx context.Context, path string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		return nil, errors.NewModelLoadError(path, err)
	}

	vocab, err := loadVocab(path)
	if err != nil {
		return nil, errors.NewModelLoadError(path, err)
	}

	sess, err := ort.NewDynamicAdvancedSession(path,
		[]string{onnxInputName},
		[]string{onnxLabelOutput, onnxProbsOutput},
		nil)
	if err != nil {
		return nil, errors.NewModelLoadError(path, err)
	}

	return &onnxSession{path: path, sess: sess, vocab: vocab}, nil
}

type onnxSession struct {
	path  string
	sess  *ort.DynamicAdvancedSession
	vocab *modelVocab
}

// Run encodes the categorical tensor through the model vocabulary,
// concatenates it after the numeric features, and executes the graph.
func (s *onnxSession) Run(ctx context.Context, numeric *feature.NumericTensor, categorical *feature.CategoricalTensor) (*types.InferenceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if numeric.Rows != categorical.Rows {
		return nil, errors.NewShapeError(
			fmt.Sprintf("numeric tensor has %d rows, categorical has %d", numeric.Rows, categorical.Rows))
	}
	if categorical.Cols != len(s.vocab.CategoricalOrder) {
		return nil, errors.NewShapeError(
			fmt.Sprintf("model %s expects %d categorical columns, got %d",
				s.path, len(s.vocab.CategoricalOrder), categorical.Cols))
	}

	rows := numeric.Rows
	cols := numeric.Cols + categorical.Cols
	input := make([]float32, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < numeric.Cols; j++ {
			input = append(input, float32(numeric.Data[i*numeric.Cols+j]))
		}
		for j := 0; j < categorical.Cols; j++ {
			col := s.vocab.CategoricalOrder[j]
			raw := categorical.Data[i*categorical.Cols+j]
			enc, ok := s.vocab.Categorical[col][raw]
			if !ok {
				// Unseen category; encode as -1 the way the trainer does
				// for its out-of-vocabulary bucket.
				enc = -1
			}
			input = append(input, enc)
		}
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(int64(rows), int64(cols)), input)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryInference, errors.CodePredictFailed,
			"failed to create input tensor", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := s.sess.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, errors.Wrap(errors.ErrCategoryInference, errors.CodePredictFailed,
			fmt.Sprintf("model %s inference failed", s.path), err)
	}
	for _, out := range outputs {
		if out != nil {
			defer out.Destroy()
		}
	}

	labels, ok := outputs[0].(*ort.Tensor[int64])
	if !ok {
		return nil, errors.New(errors.ErrCategoryInference, errors.CodePredictFailed,
			fmt.Sprintf("model %s produced unexpected label output type", s.path))
	}
	probs, ok := outputs[1].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.New(errors.ErrCategoryInference, errors.CodePredictFailed,
			fmt.Sprintf("model %s produced unexpected probabilities output type", s.path))
	}

	labelData := labels.GetData()
	probData := probs.GetData()
	if len(labelData) == 0 || len(probData) == 0 {
		return nil, errors.New(errors.ErrCategoryInference, errors.CodePredictFailed,
			fmt.Sprintf("model %s produced empty output", s.path))
	}

	// Batch predictions return the first row's result; the engine's
	// callers submit one record per call.
	classes := len(probData) / rows
	labelIdx := labelData[0]
	label := fmt.Sprintf("%d", labelIdx)
	if labelIdx >= 0 && int(labelIdx) < len(s.vocab.Classes) {
		label = s.vocab.Classes[labelIdx]
	}

	probabilities := make([]float64, classes)
	for i := 0; i < classes; i++ {
		probabilities[i] = float64(probData[i])
	}

	return &types.InferenceResult{Label: label, Probabilities: probabilities}, nil
}

// Close destroys the underlying ONNX session.
func (s *onnxSession) Close() error {
	return s.sess.Destroy()
}
