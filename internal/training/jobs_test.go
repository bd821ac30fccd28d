package training

import (
	"context"
	"testing"
	"time"

	mlerrors "github.com/factoryml/factoryml/internal/errors"
)

func waitForState(t *testing.T, jobs *Jobs, id string, want JobState) Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := jobs.Get(id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if job.State == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := jobs.Get(id)
	t.Fatalf("job %s never reached %s, stuck at %s", id, want, job.State)
	return Job{}
}

func TestJobs_SubmitAndComplete(t *testing.T) {
	jobs := NewJobs(newFakeRunner(t, `echo done; exit 0`, 0))

	id, err := jobs.Submit(context.Background(), fakeSpec(t))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a job ID")
	}

	job := waitForState(t, jobs, id, JobSucceeded)
	if job.Err != nil {
		t.Errorf("succeeded job should have nil Err, got %v", job.Err)
	}
	if job.Result == nil || job.Result.ID != id {
		t.Errorf("expected run result for %s, got %+v", id, job.Result)
	}
	jobs.Wait()
}

func TestJobs_FailedRun(t *testing.T) {
	jobs := NewJobs(newFakeRunner(t, `exit 1`, 0))

	id, err := jobs.Submit(context.Background(), fakeSpec(t))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	job := waitForState(t, jobs, id, JobFailed)
	if !mlerrors.HasCode(job.Err, mlerrors.CodeProcessFailed) {
		t.Errorf("expected PROCESS_FAILED, got %v", job.Err)
	}
	jobs.Wait()
}

func TestJobs_Cancel(t *testing.T) {
	jobs := NewJobs(newFakeRunner(t, `exec sleep 30`, 0))

	id, err := jobs.Submit(context.Background(), fakeSpec(t))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	// Give the process a moment to start before killing it.
	time.Sleep(100 * time.Millisecond)
	if err := jobs.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	waitForState(t, jobs, id, JobCanceled)

	// Canceling a finished job is a no-op.
	if err := jobs.Cancel(id); err != nil {
		t.Errorf("cancel of finished job should be a no-op, got %v", err)
	}
	jobs.Wait()
}

func TestJobs_UnknownJob(t *testing.T) {
	jobs := NewJobs(newFakeRunner(t, `exit 0`, 0))

	if _, err := jobs.Get("nope"); !mlerrors.HasCode(err, mlerrors.CodeJobNotFound) {
		t.Errorf("expected JOB_NOT_FOUND, got %v", err)
	}
	if err := jobs.Cancel("nope"); !mlerrors.HasCode(err, mlerrors.CodeJobNotFound) {
		t.Errorf("expected JOB_NOT_FOUND, got %v", err)
	}
}

func TestJobs_List(t *testing.T) {
	jobs := NewJobs(newFakeRunner(t, `exit 0`, 0))

	id1, _ := jobs.Submit(context.Background(), fakeSpec(t))
	id2, _ := jobs.Submit(context.Background(), fakeSpec(t))
	jobs.Wait()

	listed := jobs.List()
	if len(listed) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(listed))
	}
	seen := map[string]bool{}
	for _, j := range listed {
		seen[j.ID] = true
	}
	if !seen[id1] || !seen[id2] {
		t.Errorf("List missing submitted jobs: %v", seen)
	}
}
