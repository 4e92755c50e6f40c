package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIPlanner asks an OpenAI chat model for a plan.
type OpenAIPlanner struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// NewOpenAIPlanner creates a planner for the given model.
func NewOpenAIPlanner(apiKey, baseURL, model string, logger zerolog.Logger) (*OpenAIPlanner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIPlanner{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logger.With().Str("component", "openai_planner").Logger(),
	}, nil
}

// Recommend implements Planner.
func (p *OpenAIPlanner) Recommend(ctx context.Context, in Input) (Plan, error) {
	prompt, err := buildPrompt(in)
	if err != nil {
		return Plan{}, err
	}

	var content string
	operation := func() error {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       p.model,
			Temperature: 0.2,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			return fmt.Errorf("openai planner: %w", err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("openai planner: response carried no choices"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(plannerBackOff(), ctx)); err != nil {
		return Plan{}, err
	}
	return parsePlan(content)
}

// plannerBackOff bounds retries so a struggling provider degrades to the
// fallback quickly instead of stalling the flow.
func plannerBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 1 * time.Second
	eb.Multiplier = 2.0
	eb.MaxInterval = 15 * time.Second
	eb.MaxElapsedTime = 45 * time.Second
	eb.RandomizationFactor = 0.2
	eb.Reset()
	return backoff.WithMaxRetries(eb, 3)
}
