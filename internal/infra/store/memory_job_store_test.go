package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"storyboard-ai-generation/internal/domain"
	"storyboard-ai-generation/internal/domain/model"
)

func newJob(id string, priority int, created time.Time) *model.Job {
	return &model.Job{
		ID: id,
		Request: model.GenerationRequest{
			ClipID:      "clip-1",
			Kind:        model.GenerationImage,
			ModelName:   "dreamshaper_8.safetensors",
			Prompt:      "p",
			Priority:    priority,
			MaxAttempts: 3,
		},
		Status:    model.JobStatusPending,
		Attempt:   1,
		CreatedAt: created,
	}
}

func TestPendingOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	base := time.Now()

	// Same priority: FIFO. Higher priority: first regardless of age.
	_ = s.Create(ctx, newJob("b-old", 1, base))
	_ = s.Create(ctx, newJob("c-new", 1, base.Add(time.Second)))
	_ = s.Create(ctx, newJob("a-late-high", 5, base.Add(2*time.Second)))
	// Equal priority and timestamp: id decides.
	_ = s.Create(ctx, newJob("tie-b", 1, base))

	pending, err := s.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	gotIDs := make([]string, 0, len(pending))
	for _, j := range pending {
		gotIDs = append(gotIDs, j.ID)
	}
	want := []string{"a-late-high", "b-old", "tie-b", "c-new"}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("order = %v, want %v", gotIDs, want)
		}
	}
}

func TestTransitionChainHappyPath(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	_ = s.Create(ctx, newJob("j", 0, time.Now()))

	if err := s.MarkAssigned(ctx, "j", "backend-a"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	j, err := s.MarkExecuting(ctx, "j")
	if err != nil {
		t.Fatalf("executing: %v", err)
	}
	if j.StartedAt == nil {
		t.Fatal("started_at not set")
	}
	if err := s.MarkCompleted(ctx, "j"); err != nil {
		t.Fatalf("completed: %v", err)
	}
	j, _ = s.Get(ctx, "j")
	if j.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}
}

func TestTransitionRejectsWrongPriorStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	_ = s.Create(ctx, newJob("j", 0, time.Now()))

	// pending -> executing skips assigned.
	if _, err := s.MarkExecuting(ctx, "j"); !errors.Is(err, domain.ErrStatusConflict) {
		t.Fatalf("want ErrStatusConflict, got %v", err)
	}
	// pending -> completed is invalid.
	if err := s.MarkCompleted(ctx, "j"); !errors.Is(err, domain.ErrStatusConflict) {
		t.Fatalf("want ErrStatusConflict, got %v", err)
	}
}

func TestDoubleAssignLosesSecondWriter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	_ = s.Create(ctx, newJob("j", 0, time.Now()))

	if err := s.MarkAssigned(ctx, "j", "backend-a"); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	if err := s.MarkAssigned(ctx, "j", "backend-b"); !errors.Is(err, domain.ErrStatusConflict) {
		t.Fatalf("second assign: want ErrStatusConflict, got %v", err)
	}
	j, _ := s.Get(ctx, "j")
	if j.BackendID != "backend-a" {
		t.Fatalf("backend = %s, first writer must win", j.BackendID)
	}
}

func TestRequeueIncrementsAttemptAndClearsBackend(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	_ = s.Create(ctx, newJob("j", 0, time.Now()))
	_ = s.MarkAssigned(ctx, "j", "backend-a")
	_, _ = s.MarkExecuting(ctx, "j")

	if err := s.Requeue(ctx, "j", model.JobError{Kind: "backend_timeout", Message: "poll deadline"}); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	j, _ := s.Get(ctx, "j")
	if j.Status != model.JobStatusPending || j.Attempt != 2 || j.BackendID != "" || j.StartedAt != nil {
		t.Fatalf("after requeue: %+v", j)
	}
	if j.Error == nil || j.Error.Kind != "backend_timeout" {
		t.Fatalf("requeue must preserve the error, got %+v", j.Error)
	}
}

func TestUnassignDoesNotConsumeAttempt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	_ = s.Create(ctx, newJob("j", 0, time.Now()))
	_ = s.MarkAssigned(ctx, "j", "backend-a")

	if err := s.Unassign(ctx, "j"); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	j, _ := s.Get(ctx, "j")
	if j.Status != model.JobStatusPending || j.Attempt != 1 || j.BackendID != "" {
		t.Fatalf("after unassign: %+v", j)
	}
}

func TestCancelBeatsCompletion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	_ = s.Create(ctx, newJob("j", 0, time.Now()))
	_ = s.MarkAssigned(ctx, "j", "backend-a")
	_, _ = s.MarkExecuting(ctx, "j")

	if _, err := s.MarkCancelled(ctx, "j"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.MarkCompleted(ctx, "j"); !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("completion after cancel: want ErrJobTerminal, got %v", err)
	}
	j, _ := s.Get(ctx, "j")
	if j.Status != model.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", j.Status)
	}
}

func TestCancelTerminalIsRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	_ = s.Create(ctx, newJob("j", 0, time.Now()))
	_ = s.MarkAssigned(ctx, "j", "backend-a")
	_, _ = s.MarkExecuting(ctx, "j")
	_ = s.MarkCompleted(ctx, "j")

	if _, err := s.MarkCancelled(ctx, "j"); !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("want ErrJobTerminal, got %v", err)
	}
}

func TestResetForRetryOnlyFromFailed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	_ = s.Create(ctx, newJob("j", 0, time.Now()))

	if err := s.ResetForRetry(ctx, "j"); !errors.Is(err, domain.ErrStatusConflict) {
		t.Fatalf("reset of pending job: want ErrStatusConflict, got %v", err)
	}

	_ = s.MarkAssigned(ctx, "j", "backend-a")
	_, _ = s.MarkExecuting(ctx, "j")
	_ = s.Requeue(ctx, "j", model.JobError{Kind: "backend_timeout"})
	_ = s.MarkAssigned(ctx, "j", "backend-a")
	_, _ = s.MarkExecuting(ctx, "j")
	_ = s.MarkFailed(ctx, "j", model.JobError{Kind: "backend_timeout", Message: "again"})

	if err := s.ResetForRetry(ctx, "j"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	j, _ := s.Get(ctx, "j")
	if j.Status != model.JobStatusPending || j.Attempt != 1 || j.BackendID != "" {
		t.Fatalf("after reset: %+v", j)
	}
}
