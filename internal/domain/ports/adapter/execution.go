package adapter

import (
	"context"

	"storyboard-ai-generation/internal/domain/model"
)

// ExecutionClient speaks one backend kind's wire protocol: submit the graph,
// poll until the remote reports a terminal state, fetch the output reference.
// Execute blocks until completion, failure or ctx cancellation; it never
// blocks other jobs (callers run it off the dispatch loop).
type ExecutionClient interface {
	Kind() model.BackendKind
	Execute(ctx context.Context, job *model.Job, graph *model.ExecutionGraph, backend *model.BackendDescriptor) (*model.GenerationResult, error)
	// Abort is best-effort: a failed abort does not un-cancel a job.
	Abort(ctx context.Context, job *model.Job, backend *model.BackendDescriptor) error
}
