package repository

import (
	"context"

	"storyboard-ai-generation/internal/domain/model"
)

// JobFilter narrows List. Zero values match everything.
type JobFilter struct {
	ClipID string
	Status model.JobStatus
}

// JobStore holds the shared mutable job collection. Every status transition
// is compare-and-set: it succeeds only when the job is currently in the
// expected prior status, and returns domain.ErrStatusConflict otherwise, so
// two concurrent workers can never double-process one job and a cancel racing
// a completion resolves to whichever writer got there first.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, f JobFilter) ([]*model.Job, error)

	// Pending returns the ready set ordered by (priority DESC, created_at ASC),
	// ties broken by id. Job ids are time-ordered, so the ordering is total.
	Pending(ctx context.Context) ([]*model.Job, error)

	// MarkAssigned: pending -> assigned, sets the backend id.
	MarkAssigned(ctx context.Context, id, backendID string) error
	// Unassign: assigned -> pending without consuming an attempt. Used when a
	// dispatch is rolled back before execution started.
	Unassign(ctx context.Context, id string) error
	// MarkExecuting: assigned -> executing, sets started_at.
	MarkExecuting(ctx context.Context, id string) (*model.Job, error)
	// MarkCompleted: executing -> completed, sets finished_at.
	MarkCompleted(ctx context.Context, id string) error
	// MarkFailed: executing -> failed (terminal), preserves the last error.
	MarkFailed(ctx context.Context, id string, jobErr model.JobError) error
	// Requeue: executing -> pending, increments attempt, clears the backend
	// assignment and records the error that caused the requeue.
	Requeue(ctx context.Context, id string, jobErr model.JobError) error
	// MarkCancelled succeeds from any non-terminal status.
	MarkCancelled(ctx context.Context, id string) (*model.Job, error)
	// ResetForRetry: failed -> pending with the attempt counter reset to 1.
	ResetForRetry(ctx context.Context, id string) error

	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
}
