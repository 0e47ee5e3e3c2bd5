package notify

import (
	"context"

	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/adapter"
)

var _ adapter.AlertNotifier = (*NoopNotifier)(nil)

// NoopNotifier is used when no alert channel is configured.
type NoopNotifier struct{}

func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (NoopNotifier) JobFailed(context.Context, *model.Job)                          {}
func (NoopNotifier) RecordingFailed(context.Context, *model.GenerationResult, error) {}
