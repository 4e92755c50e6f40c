package embed

import (
	"context"
	"crypto/sha256"

	"github.com/bubbleone/kindred/vectorindex"
)

// HashEmbedder derives a stable pseudo-embedding from the SHA-256 digest of
// the input. It carries no semantics beyond "same text, same vector", which
// is enough to keep the store writable when no real provider is available.
type HashEmbedder struct{}

// Name implements Embedder.
func (HashEmbedder) Name() string { return "hash" }

// Embed implements Embedder. It never fails.
func (HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	digest := sha256.Sum256([]byte(text))

	vec := make([]float32, Dim)
	for i := range vec {
		b := digest[i%len(digest)]
		vec[i] = float32(b)/255.0 - 0.5
	}
	vectorindex.Normalize(vec)
	return vec, nil
}
