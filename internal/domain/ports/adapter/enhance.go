package adapter

import (
	"context"

	"storyboard-ai-generation/internal/domain/model"
)

// PromptEnhancer rewrites a terse scene prompt into a fuller generation
// prompt before a request is accepted. Implementations must be safe to skip:
// a failed enhancement falls back to the original prompt.
type PromptEnhancer interface {
	Enhance(ctx context.Context, kind model.GenerationKind, prompt string) (string, error)
}
