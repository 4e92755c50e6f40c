package embed

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder calls the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an embedder for the given model. The model must
// produce Dim-dimensional vectors; anything else fails loudly on first use.
func NewOpenAIEmbedder(apiKey, baseURL, model string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(config),
		model:  openai.EmbeddingModel(model),
	}, nil
}

// Name implements Embedder.
func (e *OpenAIEmbedder) Name() string { return "openai" }

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      e.model,
		Dimensions: Dim,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response carried no vectors")
	}
	vec := resp.Data[0].Embedding
	if len(vec) != Dim {
		return nil, fmt.Errorf("model %s returned %d dimensions, store requires %d", e.model, len(vec), Dim)
	}
	return vec, nil
}
