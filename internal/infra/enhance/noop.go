package enhance

import (
	"context"

	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/adapter"
)

var _ adapter.PromptEnhancer = (*NoopEnhancer)(nil)

// NoopEnhancer returns prompts unchanged. Used when no provider is configured.
type NoopEnhancer struct{}

func NewNoopEnhancer() *NoopEnhancer { return &NoopEnhancer{} }

func (NoopEnhancer) Enhance(_ context.Context, _ model.GenerationKind, prompt string) (string, error) {
	return prompt, nil
}
