package planner

import (
	"context"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// AnthropicPlanner asks a Claude model for a plan via the Messages API.
type AnthropicPlanner struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	logger    zerolog.Logger
}

// NewAnthropicPlanner creates a planner with the given API key and model.
func NewAnthropicPlanner(apiKey, model string, logger zerolog.Logger) (*AnthropicPlanner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicPlanner{
		client:    &client,
		model:     model,
		maxTokens: 512,
		logger:    logger.With().Str("component", "anthropic_planner").Logger(),
	}, nil
}

// Recommend implements Planner.
func (p *AnthropicPlanner) Recommend(ctx context.Context, in Input) (Plan, error) {
	prompt, err := buildPrompt(in)
	if err != nil {
		return Plan{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var content string
	operation := func() error {
		message, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return fmt.Errorf("anthropic planner: %w", err)
		}
		content = ""
		for _, blockUnion := range message.Content {
			if block, ok := blockUnion.AsAny().(anthropic.TextBlock); ok {
				content += block.Text
			}
		}
		if content == "" {
			return backoff.Permanent(fmt.Errorf("anthropic planner: response carried no text"))
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(plannerBackOff(), ctx)); err != nil {
		return Plan{}, err
	}
	return parsePlan(content)
}
