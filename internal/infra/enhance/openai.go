package enhance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/adapter"
	"storyboard-ai-generation/internal/infra/metrics"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.PromptEnhancer = (*OpenAIEnhancer)(nil)

const imageSystemPrompt = "You rewrite short scene descriptions into detailed prompts for a " +
	"diffusion image model. Keep the subject and composition, add lighting, style and camera " +
	"detail. Reply with the prompt only."

const videoSystemPrompt = "You rewrite short scene descriptions into detailed prompts for a " +
	"video generation model. Keep the subject, describe motion and camera movement. Reply " +
	"with the prompt only."

// OpenAIEnhancer expands terse clip prompts via the Chat Completions API.
// Prompts over the token budget are passed through untouched rather than
// truncated: a clipped prompt changes the scene.
type OpenAIEnhancer struct {
	client    openai.Client
	model     string
	maxTokens int
	enc       *tiktoken.Tiktoken
	log       *zerolog.Logger
}

func NewOpenAIEnhancer(apiKey, model string, maxTokens int, log *zerolog.Logger) (*OpenAIEnhancer, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load token encoding: %w", err)
	}
	return &OpenAIEnhancer{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
		enc:       enc,
		log:       log,
	}, nil
}

func (e *OpenAIEnhancer) Enhance(ctx context.Context, kind model.GenerationKind, prompt string) (string, error) {
	if e.maxTokens > 0 && len(e.enc.Encode(prompt, nil, nil)) > e.maxTokens {
		e.log.Debug().Int("budget", e.maxTokens).Msg("prompt over token budget; skipping enhancement")
		return prompt, nil
	}
	system := imageSystemPrompt
	if kind == model.GenerationVideo {
		system = videoSystemPrompt
	}

	start := time.Now()
	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
	})
	latency := int(time.Since(start) / time.Millisecond)
	if err != nil {
		metrics.ObserveEnhancerCall("openai", e.model, latency, false)
		return "", fmt.Errorf("openai enhance: %w", err)
	}
	metrics.ObserveEnhancerCall("openai", e.model, latency, true)

	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			return c.Message.Content, nil
		}
	}
	return "", errors.New("no choice content")
}
