package repository

import (
	"context"

	"storyboard-ai-generation/internal/domain/model"
)

// ClipStore is the orchestrator's view of the clip collection: read minimal
// metadata, append results. AppendResult is idempotent per job id and
// reports whether this call actually appended.
type ClipStore interface {
	Get(ctx context.Context, id string) (*model.Clip, error)
	AppendResult(ctx context.Context, clipID string, res *model.GenerationResult) (appended bool, err error)
	Results(ctx context.Context, clipID string) ([]*model.GenerationResult, error)
}
