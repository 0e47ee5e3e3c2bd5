package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"storyboard-ai-generation/internal/domain"
	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/repository"
)

func succeedAlways(_ context.Context, job *model.Job, _ *model.ExecutionGraph, backend *model.BackendDescriptor) (*model.GenerationResult, error) {
	return successResult(job, backend.ID), nil
}

func TestSubmitRejectsUnknownModelWithoutCreatingJob(t *testing.T) {
	env := newTestEnv(t, succeedAlways, Options{})

	_, err := env.uc.Submit(env.ctx, &model.GenerationRequest{
		ClipID:    "clip-1",
		Kind:      model.GenerationImage,
		ModelName: "mystery-model.ckpt",
		Prompt:    "anything",
	})
	if !errors.Is(err, domain.ErrUnsupportedModel) {
		t.Fatalf("want ErrUnsupportedModel, got %v", err)
	}
	jobs, _ := env.jobs.List(env.ctx, repository.JobFilter{})
	if len(jobs) != 0 {
		t.Fatalf("no job should exist after a rejected submit, got %d", len(jobs))
	}
}

func TestSubmitRejectsMissingClip(t *testing.T) {
	env := newTestEnv(t, succeedAlways, Options{})

	_, err := env.uc.Submit(env.ctx, &model.GenerationRequest{
		ClipID:    "no-such-clip",
		Kind:      model.GenerationImage,
		ModelName: "dreamshaper_8.safetensors",
		Prompt:    "anything",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDispatchCompletesJobAndRecordsResult(t *testing.T) {
	env := newTestEnv(t, succeedAlways, Options{})
	job := env.submit(t, 0)

	final := env.waitStatus(t, job.ID, model.JobStatusCompleted)
	if final.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", final.Attempt)
	}
	results, _ := env.clips.Results(env.ctx, "clip-1")
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].JobID != job.ID {
		t.Fatalf("result job id = %s, want %s", results[0].JobID, job.ID)
	}

	load := env.loads.Snapshot("backend-a")
	if load.ActiveJobs != 0 || load.QueueLength != 0 {
		t.Fatalf("load not drained: active=%d queue=%d", load.ActiveJobs, load.QueueLength)
	}
	if load.Successes != 1 {
		t.Fatalf("successes = %d, want 1", load.Successes)
	}
}

func TestDispatchPrefersHigherPriority(t *testing.T) {
	release := make(chan struct{})
	blocking := func(ctx context.Context, job *model.Job, _ *model.ExecutionGraph, backend *model.BackendDescriptor) (*model.GenerationResult, error) {
		select {
		case <-release:
			return successResult(job, backend.ID), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	env := newTestEnv(t, blocking, Options{PerBackendLimit: 1})

	low := env.submit(t, 1)
	high := env.submit(t, 5)

	// With one concurrency slot only the high-priority job leaves pending.
	env.dispatchUntil(t, func() bool {
		j, _ := env.jobs.Get(env.ctx, high.ID)
		return j.Status != model.JobStatusPending
	})
	if j, _ := env.jobs.Get(env.ctx, low.ID); j.Status != model.JobStatusPending {
		t.Fatalf("low-priority job should still be pending, got %s", j.Status)
	}

	close(release)
	env.waitStatus(t, high.ID, model.JobStatusCompleted)
	env.waitStatus(t, low.ID, model.JobStatusCompleted)
}

func TestRetryableFailureSucceedsOnThirdAttempt(t *testing.T) {
	var calls atomic.Int32
	flaky := func(_ context.Context, job *model.Job, _ *model.ExecutionGraph, backend *model.BackendDescriptor) (*model.GenerationResult, error) {
		if calls.Add(1) <= 2 {
			return nil, fmt.Errorf("%w: poll deadline", domain.ErrBackendTimeout)
		}
		return successResult(job, backend.ID), nil
	}
	env := newTestEnv(t, flaky, Options{})
	job := env.submit(t, 0)

	final := env.waitStatus(t, job.ID, model.JobStatusCompleted)
	if final.Attempt != 3 {
		t.Fatalf("attempt = %d, want 3", final.Attempt)
	}
	results, _ := env.clips.Results(env.ctx, "clip-1")
	if len(results) != 1 {
		t.Fatalf("results = %d, want exactly 1", len(results))
	}

	load := env.loads.Snapshot("backend-a")
	if load.Successes != 1 || load.Failures != 2 {
		t.Fatalf("load = %d successes / %d failures, want 1/2", load.Successes, load.Failures)
	}
	if load.ActiveJobs != 0 || load.QueueLength != 0 {
		t.Fatalf("load not drained: active=%d queue=%d", load.ActiveJobs, load.QueueLength)
	}
}

func TestAttemptBudgetExhaustedFailsTerminally(t *testing.T) {
	alwaysTimeout := func(context.Context, *model.Job, *model.ExecutionGraph, *model.BackendDescriptor) (*model.GenerationResult, error) {
		return nil, fmt.Errorf("%w: poll deadline", domain.ErrBackendTimeout)
	}
	env := newTestEnv(t, alwaysTimeout, Options{})
	job := env.submit(t, 0)

	final := env.waitStatus(t, job.ID, model.JobStatusFailed)
	if final.Attempt != model.DefaultMaxAttempts {
		t.Fatalf("attempt = %d, want %d", final.Attempt, model.DefaultMaxAttempts)
	}
	if final.Error == nil || final.Error.Kind != "backend_timeout" {
		t.Fatalf("job error = %+v, want backend_timeout", final.Error)
	}
	env.dispatchUntil(t, func() bool { return env.notifier.jobFailCount() == 1 })

	results, _ := env.clips.Results(env.ctx, "clip-1")
	if len(results) != 0 {
		t.Fatalf("failed job must not record results, got %d", len(results))
	}
}

func TestNonRetryableFailureDoesNotConsumeBudget(t *testing.T) {
	bad := func(context.Context, *model.Job, *model.ExecutionGraph, *model.BackendDescriptor) (*model.GenerationResult, error) {
		return nil, fmt.Errorf("%w: width must be divisible by 8", domain.ErrInvalidParameter)
	}
	env := newTestEnv(t, bad, Options{})
	job := env.submit(t, 0)

	final := env.waitStatus(t, job.ID, model.JobStatusFailed)
	if final.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1 (no retries for non-retryable errors)", final.Attempt)
	}
	if final.Error == nil || final.Error.Kind != "invalid_parameter" {
		t.Fatalf("job error = %+v, want invalid_parameter", final.Error)
	}
}

func TestRequeueClearsBackendAssignment(t *testing.T) {
	var calls atomic.Int32
	flaky := func(_ context.Context, job *model.Job, _ *model.ExecutionGraph, backend *model.BackendDescriptor) (*model.GenerationResult, error) {
		if calls.Add(1) == 1 {
			return nil, &domain.BackendError{BackendID: backend.ID, Detail: "cuda out of memory"}
		}
		return successResult(job, backend.ID), nil
	}
	env := newTestEnv(t, flaky, Options{})
	job := env.submit(t, 0)

	// Catch the job back in pending after the first failure: the backend
	// assignment must be gone so any backend can take the retry.
	env.dispatchUntil(t, func() bool {
		j, _ := env.jobs.Get(env.ctx, job.ID)
		return j.Attempt == 2 && j.Status == model.JobStatusPending && j.BackendID == ""
	})
	env.waitStatus(t, job.ID, model.JobStatusCompleted)
}

func TestCancelPendingJob(t *testing.T) {
	env := newTestEnv(t, succeedAlways, Options{})
	job := env.submit(t, 0)

	if err := env.uc.Cancel(env.ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n := env.uc.DispatchOnce(env.ctx); n != 0 {
		t.Fatalf("cancelled job must not dispatch, dispatched %d", n)
	}
	j, _ := env.jobs.Get(env.ctx, job.ID)
	if j.Status != model.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", j.Status)
	}
}

func TestCancelExecutingJobWinsOverCompletion(t *testing.T) {
	started := make(chan struct{}, 1)
	blocking := func(ctx context.Context, job *model.Job, _ *model.ExecutionGraph, backend *model.BackendDescriptor) (*model.GenerationResult, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	env := newTestEnv(t, blocking, Options{})
	job := env.submit(t, 0)

	env.uc.DispatchOnce(env.ctx)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("execution never started")
	}

	if err := env.uc.Cancel(env.ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	j, _ := env.jobs.Get(env.ctx, job.ID)
	if j.Status != model.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", j.Status)
	}

	// The unwound execution must not flip the job out of cancelled or
	// record a result, and the remote abort fires.
	env.dispatchUntil(t, func() bool {
		return env.loads.Snapshot("backend-a").ActiveJobs == 0 && env.client.abortCount() == 1
	})
	j, _ = env.jobs.Get(env.ctx, job.ID)
	if j.Status != model.JobStatusCancelled {
		t.Fatalf("status after unwind = %s, want cancelled", j.Status)
	}
	results, _ := env.clips.Results(env.ctx, "clip-1")
	if len(results) != 0 {
		t.Fatalf("cancelled job must not record results, got %d", len(results))
	}
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	env := newTestEnv(t, succeedAlways, Options{})
	job := env.submit(t, 0)
	env.waitStatus(t, job.ID, model.JobStatusCompleted)

	err := env.uc.Cancel(env.ctx, job.ID)
	if !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("want ErrJobTerminal, got %v", err)
	}
}

func TestRetryResetsFailedJob(t *testing.T) {
	var calls atomic.Int32
	failFirstRun := func(_ context.Context, job *model.Job, _ *model.ExecutionGraph, backend *model.BackendDescriptor) (*model.GenerationResult, error) {
		if calls.Add(1) <= int32(model.DefaultMaxAttempts) {
			return nil, fmt.Errorf("%w: poll deadline", domain.ErrBackendTimeout)
		}
		return successResult(job, backend.ID), nil
	}
	env := newTestEnv(t, failFirstRun, Options{})
	job := env.submit(t, 0)
	env.waitStatus(t, job.ID, model.JobStatusFailed)

	if err := env.uc.Retry(env.ctx, job.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	j, _ := env.jobs.Get(env.ctx, job.ID)
	if j.Status != model.JobStatusPending || j.Attempt != 1 {
		t.Fatalf("after retry status=%s attempt=%d, want pending/1", j.Status, j.Attempt)
	}
	env.waitStatus(t, job.ID, model.JobStatusCompleted)
}

func TestNoEligibleBackendLeavesJobPending(t *testing.T) {
	offline := onlineBackend("backend-a")
	offline.Health = model.HealthOffline
	env := newTestEnv(t, succeedAlways, Options{}, offline)
	job := env.submit(t, 0)

	for i := 0; i < 5; i++ {
		if n := env.uc.DispatchOnce(env.ctx); n != 0 {
			t.Fatalf("dispatched %d to an offline backend", n)
		}
	}
	j, _ := env.jobs.Get(env.ctx, job.ID)
	if j.Status != model.JobStatusPending {
		t.Fatalf("status = %s, want pending", j.Status)
	}
}

func TestDispatchBalancesByScore(t *testing.T) {
	a := onlineBackend("backend-a")
	b := onlineBackend("backend-b")
	env := newTestEnv(t, succeedAlways, Options{}, a, b)

	// Preload backend-a so its score is worse; the id tiebreak would
	// otherwise pick it.
	env.loads.JobAssigned("backend-a")
	env.loads.JobStarted("backend-a")

	job := env.submit(t, 0)
	env.waitStatus(t, job.ID, model.JobStatusCompleted)
	if got := env.loads.Snapshot("backend-b").Successes; got != 1 {
		t.Fatalf("backend-b successes = %d, want 1 (least loaded should win)", got)
	}
}

func TestNextForAssignsBestPendingJob(t *testing.T) {
	env := newTestEnv(t, succeedAlways, Options{})
	low := env.submit(t, 1)
	high := env.submit(t, 7)

	got, err := env.uc.NextFor(env.ctx, "backend-a")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got.ID != high.ID {
		t.Fatalf("next = %s, want high-priority %s", got.ID, high.ID)
	}
	if got.Status != model.JobStatusAssigned || got.BackendID != "backend-a" {
		t.Fatalf("next job not assigned to caller: %+v", got)
	}

	got2, err := env.uc.NextFor(env.ctx, "backend-a")
	if err != nil {
		t.Fatalf("next second: %v", err)
	}
	if got2.ID != low.ID {
		t.Fatalf("second next = %s, want %s", got2.ID, low.ID)
	}

	if _, err := env.uc.NextFor(env.ctx, "backend-a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("empty queue: want ErrNotFound, got %v", err)
	}
}

func TestSnapshotReportsCountsAndLoad(t *testing.T) {
	env := newTestEnv(t, succeedAlways, Options{})
	job := env.submit(t, 0)
	env.waitStatus(t, job.ID, model.JobStatusCompleted)
	env.submit(t, 0) // stays pending, never dispatched below

	snap, err := env.uc.Snapshot(env.ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Counts[model.JobStatusCompleted] != 1 || snap.Counts[model.JobStatusPending] != 1 {
		t.Fatalf("counts = %+v", snap.Counts)
	}
	if len(snap.Backends) != 1 || snap.Backends[0].Backend.ID != "backend-a" {
		t.Fatalf("backends = %+v", snap.Backends)
	}
	if snap.Backends[0].Load.Successes != 1 {
		t.Fatalf("load = %+v, want 1 success", snap.Backends[0].Load)
	}
}
