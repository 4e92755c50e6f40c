package embed

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
)

// failingEmbedder always errors and counts how often it was asked.
type failingEmbedder struct {
	name  string
	calls int
}

func (f *failingEmbedder) Name() string { return f.name }

func (f *failingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	return nil, errors.New("provider unavailable")
}

// stubEmbedder returns a fixed vector.
type stubEmbedder struct {
	name  string
	vec   []float32
	calls int
}

func (s *stubEmbedder) Name() string { return s.name }

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	s.calls++
	return s.vec, nil
}

func TestHashEmbedderDeterministic(t *testing.T) {
	h := HashEmbedder{}
	a, err := h.Embed(context.Background(), "coffee with an old friend")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, err := h.Embed(context.Background(), "coffee with an old friend")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != Dim {
		t.Fatalf("embedding length = %d, want %d", len(a), Dim)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same text produced different vectors at %d", i)
		}
	}

	c, _ := h.Embed(context.Background(), "completely different text")
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical vectors")
	}
}

func TestHashEmbedderNormalized(t *testing.T) {
	vec, err := HashEmbedder{}.Embed(context.Background(), "anything at all")
	if err != nil {
		t.Fatal(err)
	}
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1.0) > 1e-4 {
		t.Errorf("hash embedding norm = %v, want 1.0", norm)
	}
}

func TestChainFailsOver(t *testing.T) {
	bad := &failingEmbedder{name: "remote"}
	good := &stubEmbedder{name: "local", vec: make([]float32, Dim)}
	chain := NewChain(zerolog.Nop(), bad, good)

	vec, err := chain.Embed(context.Background(), "some summary")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != Dim {
		t.Fatalf("embedding length = %d", len(vec))
	}
	if good.calls != 1 {
		t.Errorf("fallback called %d times, want 1", good.calls)
	}
}

func TestChainDisablesFailedProviderForProcessLifetime(t *testing.T) {
	bad := &failingEmbedder{name: "remote"}
	good := &stubEmbedder{name: "local", vec: make([]float32, Dim)}
	chain := NewChain(zerolog.Nop(), bad, good)

	for i := 0; i < 3; i++ {
		if _, err := chain.Embed(context.Background(), "text"); err != nil {
			t.Fatal(err)
		}
	}
	if bad.calls != 1 {
		t.Errorf("failed provider retried: %d calls, want 1", bad.calls)
	}
	if good.calls != 3 {
		t.Errorf("fallback calls = %d, want 3", good.calls)
	}
}

func TestChainAllProvidersFailed(t *testing.T) {
	chain := NewChain(zerolog.Nop(), &failingEmbedder{name: "a"}, &failingEmbedder{name: "b"})
	if _, err := chain.Embed(context.Background(), "text"); err == nil {
		t.Error("Embed() = nil error with every provider down")
	}
}

func TestChainEndingInHashNeverFails(t *testing.T) {
	chain := NewChain(zerolog.Nop(), &failingEmbedder{name: "remote"}, HashEmbedder{})
	vec, err := chain.Embed(context.Background(), "a summary worth remembering")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != Dim {
		t.Errorf("embedding length = %d", len(vec))
	}
}
