package adapter

import (
	"context"

	"storyboard-ai-generation/internal/domain/model"
)

// AlertNotifier surfaces operational events that need a human: terminally
// failed jobs and recording failures (where the artifact exists but could
// not be attached to its clip). Notifications are fire-and-forget.
type AlertNotifier interface {
	JobFailed(ctx context.Context, job *model.Job)
	RecordingFailed(ctx context.Context, res *model.GenerationResult, err error)
}
