// Package training launches and tracks external model training runs.
//
// Training happens out of process: a python trainer module is invoked
// with the dataset, an output path for the resulting model, and a
// report path. The runner captures the process output and persists it
// as a compressed run log so past runs can be inspected.
package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/golang/snappy"

	mlerrors "github.com/factoryml/factoryml/internal/errors"
)

// RunSpec describes one training invocation.
type RunSpec struct {
	// DataPath is the CSV dataset handed to the trainer
	DataPath string

	// OutputPath is the directory the trainer writes the model into
	OutputPath string

	// Report asks the trainer to also write its analysis report into
	// the output directory. The flag carries no value.
	Report bool
}

// RunResult summarizes a finished training run.
type RunResult struct {
	// ID identifies the run; the run log is stored under this ID
	ID string

	// ExitCode is the trainer process exit code
	ExitCode int

	// Duration is the wall-clock run time
	Duration time.Duration

	// LogPath is the persisted, snappy-compressed process log
	LogPath string
}

// Runner executes the external trainer process.
type Runner struct {
	python     string
	module     string
	configPath string
	runDir     string
	timeout    time.Duration

	logger *log.Logger
}

// NewRunner creates a training runner. runDir is created on first use.
func NewRunner(python, module, configPath, runDir string, timeout time.Duration) *Runner {
	return &Runner{
		python:     python,
		module:     module,
		configPath: configPath,
		runDir:     runDir,
		timeout:    timeout,
		logger:     log.New(os.Stderr, "[training] ", log.LstdFlags),
	}
}

// Run executes one training run and blocks until the trainer exits.
// The combined stdout and stderr of the process is written to a
// compressed log file under the run directory. A non-zero exit code
// is an error; cancellation through ctx kills the process.
func (r *Runner) Run(ctx context.Context, id string, spec RunSpec) (*RunResult, error) {
	if spec.DataPath == "" || spec.OutputPath == "" {
		return nil, mlerrors.NewTrainingError(mlerrors.CodeProcessFailed,
			"training run requires data and output paths", nil)
	}
	// The trainer rejects invocations without --config.
	if r.configPath == "" {
		return nil, mlerrors.NewTrainingError(mlerrors.CodeProcessFailed,
			"trainer config path is required", nil)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := os.MkdirAll(r.runDir, 0o755); err != nil {
		return nil, mlerrors.NewTrainingError(mlerrors.CodeProcessFailed,
			"failed to create run directory", err)
	}

	logPath := filepath.Join(r.runDir, id+".log.snappy")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, mlerrors.NewTrainingError(mlerrors.CodeProcessFailed,
			"failed to create run log", err)
	}
	logWriter := snappy.NewBufferedWriter(logFile)

	args := []string{
		"-m", r.module,
		"--data", spec.DataPath,
		"--output", spec.OutputPath,
		"--config", r.configPath,
	}
	// --report is a boolean switch; the trainer derives report output
	// from the --output directory.
	if spec.Report {
		args = append(args, "--report")
	}

	cmd := exec.CommandContext(ctx, r.python, args...)
	cmd.Stdout = logWriter
	cmd.Stderr = logWriter
	// Do not wait forever on output pipes held open by orphaned
	// trainer children after a kill.
	cmd.WaitDelay = 5 * time.Second

	r.logger.Printf("run %s: starting %s -m %s --data %s", id, r.python, r.module, spec.DataPath)
	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if err := logWriter.Close(); err != nil {
		r.logger.Printf("run %s: failed to flush run log: %v", id, err)
	}
	if err := logFile.Close(); err != nil {
		r.logger.Printf("run %s: failed to close run log: %v", id, err)
	}

	result := &RunResult{
		ID:       id,
		Duration: duration,
		LogPath:  logPath,
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return result, mlerrors.NewTrainingError(mlerrors.CodeProcessCanceled,
				fmt.Sprintf("training run %s canceled after %s", id, duration.Round(time.Millisecond)),
				ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, mlerrors.NewTrainingError(mlerrors.CodeProcessFailed,
				fmt.Sprintf("trainer exited with code %d", result.ExitCode), runErr)
		}
		return result, mlerrors.NewTrainingError(mlerrors.CodeProcessFailed,
			"failed to start trainer process", runErr)
	}

	r.logger.Printf("run %s: completed in %s", id, duration.Round(time.Millisecond))
	return result, nil
}

// ReadRunLog decompresses and returns the log of a past training run.
func (r *Runner) ReadRunLog(id string) ([]byte, error) {
	logPath := filepath.Join(r.runDir, id+".log.snappy")
	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, mlerrors.NewTrainingError(mlerrors.CodeJobNotFound,
				fmt.Sprintf("no run log for %s", id), err)
		}
		return nil, mlerrors.NewTrainingError(mlerrors.CodeProcessFailed,
			"failed to open run log", err)
	}
	defer f.Close()

	data, err := io.ReadAll(snappy.NewReader(f))
	if err != nil {
		return nil, mlerrors.NewTrainingError(mlerrors.CodeProcessFailed,
			"failed to decompress run log", err)
	}
	return data, nil
}
