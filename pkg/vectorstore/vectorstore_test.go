package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"ragchat/pkg/store"
)

// stubEmbedder maps known texts to fixed vectors.
type stubEmbedder struct {
	vectors map[string][]float32
	batches int
}

func (e *stubEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	vec, ok := e.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no stub vector for %q", text)
	}
	return vec, nil
}

func (e *stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.batches++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.EmbedText(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func TestGatewayCreateAndQuery(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"apples":  {1, 0},
		"oranges": {0.9, 0.1},
		"trains":  {0, 1},
		"fruit?":  {1, 0.05},
	}}
	st := store.NewMemoryStore()
	g := New(st, embedder)

	err := g.Create(context.Background(), "u1_1700000000000_abc123", "u1",
		[]string{"apples", "oranges", "trains"}, map[string]string{"source": "web"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if embedder.batches == 0 {
		t.Fatal("expected batch embedding to be used")
	}

	chunks, err := g.Query(context.Background(), "u1_1700000000000_abc123", "fruit?", 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Content != "apples" {
		t.Fatalf("top chunk = %q, want %q", chunks[0].Content, "apples")
	}
	if chunks[0].Metadata["source"] != "web" {
		t.Fatalf("metadata lost: %+v", chunks[0].Metadata)
	}
}

func TestGatewayQueryMissingCollection(t *testing.T) {
	g := New(store.NewMemoryStore(), &stubEmbedder{vectors: map[string][]float32{"q": {1}}})
	if _, err := g.Query(context.Background(), "nope", "q", 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGatewayLoad(t *testing.T) {
	st := store.NewMemoryStore()
	embedder := &stubEmbedder{vectors: map[string][]float32{"a": {1}}}
	g := New(st, embedder)
	if err := g.Create(context.Background(), "c1", "u1", []string{"a"}, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := g.Load(context.Background(), "c1"); err != nil {
		t.Fatalf("load existing: %v", err)
	}
	if _, err := g.Load(context.Background(), "c2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGatewayCreateEmpty(t *testing.T) {
	g := New(store.NewMemoryStore(), &stubEmbedder{})
	if err := g.Create(context.Background(), "c1", "u1", nil, nil); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestGatewayUnconfiguredEmbedder(t *testing.T) {
	g := New(store.NewMemoryStore(), nil)
	if err := g.Create(context.Background(), "c1", "u1", []string{"a"}, nil); err == nil {
		t.Fatal("expected error when embedder missing")
	}
	if _, err := g.Query(context.Background(), "c1", "q", 1); err == nil {
		t.Fatal("expected error when embedder missing")
	}
}
