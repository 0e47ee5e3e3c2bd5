package enhance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/adapter"
	"storyboard-ai-generation/internal/infra/metrics"
)

var _ adapter.PromptEnhancer = (*GeminiEnhancer)(nil)

// GeminiEnhancer expands clip prompts using the official Gemini SDK.
type GeminiEnhancer struct {
	client *genai.Client
	model  string
	log    *zerolog.Logger
}

func NewGeminiEnhancer(ctx context.Context, apiKey, modelName string, log *zerolog.Logger) (*GeminiEnhancer, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiEnhancer{client: c, model: modelName, log: log}, nil
}

func (g *GeminiEnhancer) Enhance(ctx context.Context, kind model.GenerationKind, prompt string) (string, error) {
	system := imageSystemPrompt
	if kind == model.GenerationVideo {
		system = videoSystemPrompt
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{
			{Role: genai.RoleUser, Parts: []*genai.Part{{Text: prompt}}},
		},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		},
	)
	latency := int(time.Since(start) / time.Millisecond)
	if err != nil {
		metrics.ObserveEnhancerCall("gemini", g.model, latency, false)
		return "", err
	}
	metrics.ObserveEnhancerCall("gemini", g.model, latency, true)

	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil && len(resp.Candidates[0].Content.Parts) > 0 {
		if t := resp.Candidates[0].Content.Parts[0].Text; t != "" {
			return strings.TrimSpace(t), nil
		}
	}
	return "", errors.New("gemini: empty response")
}
