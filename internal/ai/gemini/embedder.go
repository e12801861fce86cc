package gemini

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/ai"
)

type batchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbeddingModel() string
	EmbeddingDimension() int
}

// Embedder produces fixed-length vectors for batches of texts.
type Embedder struct {
	client    batchEmbedder
	batchSize int
	logger    *zap.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

// NewEmbedder builds an Embedder on top of a batch-capable client.
func NewEmbedder(client batchEmbedder, batchSize int, logger *zap.Logger) *Embedder {
	if batchSize <= 0 {
		batchSize = ai.DefaultPolicy().MaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Embedder{
		client:    client,
		batchSize: batchSize,
		logger:    logger,
	}
}

// EmbedTexts embeds the texts batch by batch with order-preserving per-item
// results. A vector of unexpected dimensionality is a per-item failure; it
// is never silently accepted.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([]ai.VectorResult, error) {
	results := make([]ai.VectorResult, len(texts))
	wantDim := e.client.EmbeddingDimension()

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := texts[start:end]

		e.logger.Debug("embedding request", zap.Int("batch_size", len(batch)))

		vectors, err := e.client.EmbedBatch(ctx, batch)
		if err != nil {
			if ai.IsPermanent(err) {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			for i := start; i < end; i++ {
				results[i] = ai.VectorResult{Err: err}
			}
			continue
		}

		for i, vector := range vectors {
			if wantDim > 0 && len(vector) != wantDim {
				results[start+i] = ai.VectorResult{
					Err: ai.Parse("embed", fmt.Errorf("expected dimension %d, got %d", wantDim, len(vector))),
				}
				continue
			}
			results[start+i] = ai.VectorResult{Vector: vector}
		}
	}

	return results, nil
}

// Model reports the embedding model identity. Vectors from different models
// must never be mixed during ranking.
func (e *Embedder) Model() string { return e.client.EmbeddingModel() }

// Dimension reports the expected vector length.
func (e *Embedder) Dimension() int { return e.client.EmbeddingDimension() }
