package rag

import (
	"context"
	"fmt"

	"augustine-rag/internal/models"
)

const (
	DefaultMatchThreshold = 0.3
	DefaultMatchCount     = 5
)

// VectorStore performs the similarity search remotely and returns passages
// in its own ranking order.
type VectorStore interface {
	Match(ctx context.Context, embedding []float32, threshold float64, count int) ([]models.Passage, error)
	// Ping is a read-only connectivity check; it is not part of retrieval.
	Ping(ctx context.Context) error
}

type Retriever struct {
	store     VectorStore
	threshold float64
	count     int
}

func NewRetriever(store VectorStore, threshold float64, count int) *Retriever {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	if count <= 0 {
		count = DefaultMatchCount
	}
	return &Retriever{store: store, threshold: threshold, count: count}
}

// Retrieve makes one store call. An empty embedding skips the call.
func (r *Retriever) Retrieve(ctx context.Context, embedding []float32) ([]models.Passage, *StageError) {
	if len(embedding) == 0 {
		return nil, nil
	}
	passages, err := r.store.Match(ctx, embedding, r.threshold, r.count)
	if err != nil {
		return nil, stageError(KindRetrievalFailure, fmt.Errorf("vector query: %w", err))
	}
	return passages, nil
}
