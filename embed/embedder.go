// Package embed turns summary text into fixed-dimension vectors for the
// vector memory. Providers are explicitly constructed and injected; a Chain
// fails over from the preferred provider down to a deterministic hash
// embedder so the store never refuses writes because a provider is down.
package embed

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bubbleone/kindred/vectorindex"
)

// Dim is the embedding dimension shared with the vector store.
const Dim = vectorindex.Dim

// Embedder produces one fixed-length vector per input text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// Chain tries providers in order. A provider that fails once is disabled for
// the remainder of the process lifetime; the final link should be a provider
// that cannot fail (the hash embedder), so Embed degrades rather than errors.
type Chain struct {
	mu        sync.Mutex
	providers []Embedder
	disabled  map[string]bool
	logger    zerolog.Logger
}

// NewChain builds a failover chain. Order matters; put the preferred remote
// provider first and the hash embedder last.
func NewChain(logger zerolog.Logger, providers ...Embedder) *Chain {
	return &Chain{
		providers: providers,
		disabled:  make(map[string]bool),
		logger:    logger.With().Str("component", "embed_chain").Logger(),
	}
}

// Embed returns the first successful provider result.
func (c *Chain) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for _, p := range c.providers {
		if c.isDisabled(p.Name()) {
			continue
		}
		vec, err := p.Embed(ctx, text)
		if err != nil {
			lastErr = err
			c.disable(p.Name(), err)
			continue
		}
		return vec, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("all embedding providers failed: %w", lastErr)
	}
	return nil, fmt.Errorf("no embedding providers configured")
}

// Name implements Embedder.
func (c *Chain) Name() string { return "chain" }

func (c *Chain) isDisabled(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled[name]
}

func (c *Chain) disable(name string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled[name] {
		return
	}
	c.disabled[name] = true
	c.logger.Warn().
		Str("provider", name).
		Err(cause).
		Msg("embedding provider failed, disabled for process lifetime")
}
