package embed

import (
	"context"
	"fmt"

	"github.com/ollama/ollama/api"
)

// OllamaEmbedder embeds through a local Ollama instance.
type OllamaEmbedder struct {
	client *api.Client
	model  string
}

// NewOllamaEmbedder builds a client from OLLAMA_HOST (or the default local
// address).
func NewOllamaEmbedder(model string) (*OllamaEmbedder, error) {
	cli, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, err
	}
	return &OllamaEmbedder{client: cli, model: model}, nil
}

// Name implements Embedder.
func (e *OllamaEmbedder) Name() string { return "ollama" }

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embedding response carried no vectors")
	}
	vec := resp.Embeddings[0]
	if len(vec) != Dim {
		return nil, fmt.Errorf("model %s returned %d dimensions, store requires %d", e.model, len(vec), Dim)
	}
	return vec, nil
}
