package training

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	mlerrors "github.com/factoryml/factoryml/internal/errors"
)

// JobState is the lifecycle state of an asynchronous training job.
type JobState string

const (
	JobRunning   JobState = "RUNNING"
	JobSucceeded JobState = "SUCCEEDED"
	JobFailed    JobState = "FAILED"
	JobCanceled  JobState = "CANCELED"
)

// Job tracks one asynchronous training run.
type Job struct {
	// ID is the job identifier, also used for the run log
	ID string

	// Spec is the training invocation this job executes
	Spec RunSpec

	// State is the current lifecycle state
	State JobState

	// StartedAt is when the job was submitted
	StartedAt time.Time

	// Result holds the run outcome once the job leaves RUNNING
	Result *RunResult

	// Err holds the failure, if any
	Err error
}

// Jobs runs training jobs in the background and tracks their state.
type Jobs struct {
	runner *Runner

	mu   sync.Mutex
	jobs map[string]*Job

	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewJobs creates a job manager backed by the given runner.
func NewJobs(runner *Runner) *Jobs {
	return &Jobs{
		runner:  runner,
		jobs:    make(map[string]*Job),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit starts a training run in the background and returns its job
// ID immediately. Completion is observable through Get or Wait.
func (j *Jobs) Submit(ctx context.Context, spec RunSpec) (string, error) {
	if spec.DataPath == "" || spec.OutputPath == "" {
		return "", mlerrors.NewTrainingError(mlerrors.CodeProcessFailed,
			"training job requires data and output paths", nil)
	}

	id := uuid.New().String()
	runCtx, cancel := context.WithCancel(ctx)

	job := &Job{
		ID:        id,
		Spec:      spec,
		State:     JobRunning,
		StartedAt: time.Now().UTC(),
	}

	j.mu.Lock()
	j.jobs[id] = job
	j.cancels[id] = cancel
	j.mu.Unlock()

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer cancel()

		result, err := j.runner.Run(runCtx, id, spec)

		j.mu.Lock()
		defer j.mu.Unlock()
		job.Result = result
		job.Err = err
		switch {
		case err == nil:
			job.State = JobSucceeded
		case mlerrors.HasCode(err, mlerrors.CodeProcessCanceled):
			job.State = JobCanceled
		default:
			job.State = JobFailed
		}
		delete(j.cancels, id)
	}()

	return id, nil
}

// Get returns a snapshot of the job with the given ID.
func (j *Jobs) Get(id string) (Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	if !ok {
		return Job{}, mlerrors.NewTrainingError(mlerrors.CodeJobNotFound,
			fmt.Sprintf("no training job %s", id), nil)
	}
	return *job, nil
}

// List returns snapshots of all known jobs.
func (j *Jobs) List() []Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Job, 0, len(j.jobs))
	for _, job := range j.jobs {
		out = append(out, *job)
	}
	return out
}

// Cancel kills a running job's trainer process. Canceling a job that
// already finished is a no-op.
func (j *Jobs) Cancel(id string) error {
	j.mu.Lock()
	_, known := j.jobs[id]
	cancel, running := j.cancels[id]
	j.mu.Unlock()

	if !known {
		return mlerrors.NewTrainingError(mlerrors.CodeJobNotFound,
			fmt.Sprintf("no training job %s", id), nil)
	}
	if running {
		cancel()
	}
	return nil
}

// Wait blocks until all submitted jobs have finished.
func (j *Jobs) Wait() {
	j.wg.Wait()
}
