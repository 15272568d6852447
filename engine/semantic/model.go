// Package semantic owns review-text normalization, the embedding boundary,
// and all Qdrant operations.
package semantic

import "context"

// Embedder is the opaque embedding function: text in, fixed-length vector
// out. Implementations must be deterministic for a fixed model version.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingRecord ties one review vector to its entity. One record per
// individual review, not per concatenated block: a single strong review can
// surface its restaurant even when the rest are noise.
type EmbeddingRecord struct {
	EntityID   string
	Vector     []float32
	SourceText string
}

// VectorRecord is a single point to store in Qdrant.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any // entity_id, name, lat, lng, review, review_index
}
