package planner

import (
	"context"
	"fmt"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
)

// OllamaPlanner asks a local Ollama model for a plan. Local models get no
// retry layer; a single failure falls straight through to the rule-based
// fallback.
type OllamaPlanner struct {
	client *api.Client
	model  string
	logger zerolog.Logger
}

// NewOllamaPlanner builds a client from OLLAMA_HOST (or the default local
// address).
func NewOllamaPlanner(model string, logger zerolog.Logger) (*OllamaPlanner, error) {
	cli, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, err
	}
	return &OllamaPlanner{
		client: cli,
		model:  model,
		logger: logger.With().Str("component", "ollama_planner").Logger(),
	}, nil
}

// Recommend implements Planner.
func (p *OllamaPlanner) Recommend(ctx context.Context, in Input) (Plan, error) {
	prompt, err := buildPrompt(in)
	if err != nil {
		return Plan{}, err
	}

	stream := false
	var content string
	err = p.client.Generate(ctx, &api.GenerateRequest{
		Model:  p.model,
		Prompt: systemPrompt + "\n" + prompt,
		Stream: &stream,
	}, func(resp api.GenerateResponse) error {
		content += resp.Response
		return nil
	})
	if err != nil {
		return Plan{}, fmt.Errorf("ollama planner: %w", err)
	}
	return parsePlan(content)
}
