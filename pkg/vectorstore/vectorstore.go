package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"ragchat/internal/util"
	"ragchat/pkg/ai"
	"ragchat/pkg/domain"
	"ragchat/pkg/store"
)

// ErrNotFound is returned when a named collection does not exist.
var ErrNotFound = errors.New("collection not found")

const (
	defaultEmbedConcurrency = 4
	embedBatchSize          = 32

	// candidateFactor controls how many nearest chunks are pulled from
	// storage before MMR re-ranking.
	candidateFactor = 4
)

// Gateway creates and queries embedded chunk collections.
type Gateway struct {
	store       store.Store
	embedder    ai.Embedder
	concurrency int
}

// New builds a collection gateway.
func New(st store.Store, embedder ai.Embedder) *Gateway {
	return &Gateway{
		store:       st,
		embedder:    embedder,
		concurrency: defaultEmbedConcurrency,
	}
}

// Create embeds the given texts and persists them as a new named
// collection. Collections are immutable once created.
func (g *Gateway) Create(ctx context.Context, name, userID string, texts []string, metadata map[string]string) error {
	if g == nil || g.embedder == nil {
		return errors.New("embeddings not configured")
	}
	if len(texts) == 0 {
		return errors.New("no content to index")
	}
	embeddings, err := g.embedAll(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	now := time.Now().UTC()
	chunks := make([]domain.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, domain.Chunk{
			ID:         util.NewID(),
			Collection: name,
			Content:    text,
			Metadata:   metadata,
			Embedding:  embeddings[i],
			CreatedAt:  now,
		})
	}
	col := domain.Collection{
		ID:        util.NewID(),
		Name:      name,
		UserID:    userID,
		CreatedAt: now,
	}
	if err := g.store.SaveCollection(col, chunks); err != nil {
		return fmt.Errorf("save collection: %w", err)
	}
	return nil
}

// Load verifies the named collection exists.
func (g *Gateway) Load(ctx context.Context, name string) (domain.Collection, error) {
	col, ok, err := g.store.GetCollectionByName(name)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("get collection: %w", err)
	}
	if !ok {
		return domain.Collection{}, ErrNotFound
	}
	return col, nil
}

// Query embeds the query text, fetches the nearest candidates by cosine
// distance, and re-ranks them with maximal marginal relevance so near
// duplicate chunks do not crowd out coverage.
func (g *Gateway) Query(ctx context.Context, name, query string, k int) ([]domain.Chunk, error) {
	if g == nil || g.embedder == nil {
		return nil, errors.New("embeddings not configured")
	}
	if _, err := g.Load(ctx, name); err != nil {
		return nil, err
	}
	queryVec, err := g.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	candidates, err := g.store.SearchChunks(name, queryVec, k*candidateFactor)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	return mmrSelect(queryVec, candidates, k, defaultLambda), nil
}

func (g *Gateway) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	batcher, batchOK := g.embedder.(ai.BatchEmbedder)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		eg.Go(func() error {
			if batchOK {
				vecs, err := batcher.EmbedTexts(gctx, texts[start:end])
				if err != nil {
					return err
				}
				copy(embeddings[start:end], vecs)
				return nil
			}
			for i := start; i < end; i++ {
				vec, err := g.embedder.EmbedText(gctx, texts[i])
				if err != nil {
					return err
				}
				embeddings[i] = vec
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return embeddings, nil
}
