package training

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mlerrors "github.com/factoryml/factoryml/internal/errors"
)

// newFakeRunner builds a runner whose "trainer" is a shell script, so
// tests do not depend on a python installation.
func newFakeRunner(t *testing.T, script string, timeout time.Duration) *Runner {
	t.Helper()
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "trainer.sh")
	if err := os.WriteFile(scriptPath, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(dir, "model_config.json")
	if err := os.WriteFile(configPath, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	// The runner invokes `<python> -m <module> --data ...`; the shell
	// ignores the extra arguments and just runs the script.
	return NewRunner("/bin/sh", scriptPath, configPath, filepath.Join(dir, "runs"), timeout)
}

// fakeRunnerArgs returns a RunSpec with placeholder paths; the fake
// trainer scripts do not read them.
func fakeSpec(t *testing.T) RunSpec {
	t.Helper()
	return RunSpec{DataPath: "data.csv", OutputPath: "model.onnx"}
}

func TestRunner_SuccessfulRun(t *testing.T) {
	r := newFakeRunner(t, `echo "epoch 1 done"; echo "saved model" >&2; exit 0`, 0)

	result, err := r.Run(context.Background(), "run-1", fakeSpec(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
	if result.LogPath == "" {
		t.Fatal("expected a run log path")
	}

	logData, err := r.ReadRunLog("run-1")
	if err != nil {
		t.Fatalf("ReadRunLog failed: %v", err)
	}
	out := string(logData)
	if !strings.Contains(out, "epoch 1 done") || !strings.Contains(out, "saved model") {
		t.Errorf("run log missing process output: %q", out)
	}
}

func TestRunner_NonZeroExit(t *testing.T) {
	r := newFakeRunner(t, `echo "boom"; exit 3`, 0)

	result, err := r.Run(context.Background(), "run-2", fakeSpec(t))
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !mlerrors.HasCode(err, mlerrors.CodeProcessFailed) {
		t.Errorf("expected PROCESS_FAILED, got %v", err)
	}
	if result == nil || result.ExitCode != 3 {
		t.Errorf("expected exit code 3 in result, got %+v", result)
	}
	// Output is still captured on failure.
	logData, err := r.ReadRunLog("run-2")
	if err != nil {
		t.Fatalf("ReadRunLog failed: %v", err)
	}
	if !strings.Contains(string(logData), "boom") {
		t.Errorf("run log missing failure output: %q", logData)
	}
}

func TestRunner_Timeout(t *testing.T) {
	r := newFakeRunner(t, `exec sleep 30`, 100*time.Millisecond)

	start := time.Now()
	_, err := r.Run(context.Background(), "run-3", fakeSpec(t))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !mlerrors.HasCode(err, mlerrors.CodeProcessCanceled) {
		t.Errorf("expected PROCESS_CANCELED, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout did not kill the process promptly: %s", elapsed)
	}
}

func TestRunner_ContextCancel(t *testing.T) {
	r := newFakeRunner(t, `exec sleep 30`, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := r.Run(ctx, "run-4", fakeSpec(t))
	if !mlerrors.HasCode(err, mlerrors.CodeProcessCanceled) {
		t.Errorf("expected PROCESS_CANCELED, got %v", err)
	}
}

func TestRunner_MissingPaths(t *testing.T) {
	r := newFakeRunner(t, `exit 0`, 0)

	if _, err := r.Run(context.Background(), "run-5", RunSpec{}); err == nil {
		t.Error("expected error for empty spec")
	}
}

func TestRunner_MissingConfigPath(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner("/bin/sh", "trainer.sh", "", filepath.Join(dir, "runs"), 0)

	_, err := r.Run(context.Background(), "run-6", fakeSpec(t))
	if !mlerrors.HasCode(err, mlerrors.CodeProcessFailed) {
		t.Errorf("expected PROCESS_FAILED for empty config path, got %v", err)
	}
}

// The trainer parses its flags argparse-style: --data, --output and
// --config each take a value, --report is a bare switch, and any
// leftover token is rejected with exit code 2. This fake enforces that
// contract so the runner's argument construction cannot drift from it.
const argparseTrainer = `expect=0
for a in "$@"; do
  if [ "$expect" = 1 ]; then expect=0; continue; fi
  case "$a" in
    --data|--output|--config) expect=1 ;;
    --report) ;;
    *) echo "error: unrecognized arguments: $a" >&2; exit 2 ;;
  esac
done
if [ "$expect" = 1 ]; then echo "error: argument expected a value" >&2; exit 2; fi
exit 0`

func TestRunner_TrainerArgumentContract(t *testing.T) {
	r := newFakeRunner(t, argparseTrainer, 0)

	spec := fakeSpec(t)
	if _, err := r.Run(context.Background(), "run-7", spec); err != nil {
		t.Fatalf("run without report rejected by trainer: %v", err)
	}

	spec.Report = true
	result, err := r.Run(context.Background(), "run-8", spec)
	if err != nil {
		logData, _ := r.ReadRunLog("run-8")
		t.Fatalf("run with report rejected by trainer: %v\nlog: %s", err, logData)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
}

func TestRunner_ReadRunLogMissing(t *testing.T) {
	r := newFakeRunner(t, `exit 0`, 0)

	_, err := r.ReadRunLog("no-such-run")
	if !mlerrors.HasCode(err, mlerrors.CodeJobNotFound) {
		t.Errorf("expected JOB_NOT_FOUND, got %v", err)
	}
}
