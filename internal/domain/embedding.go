package domain

import "context"

// ImageEmbedder is the shared image vectorization contract between layers.
// Implementations return an L2-normalized vector for the given raw image bytes.
type ImageEmbedder interface {
	Embed(ctx context.Context, image []byte) (EmbeddingResult, error)
	// ModelID names the backing model. Vectors from different models must
	// never be compared; caches and records are namespaced by this value.
	ModelID() string
}

// HealthChecker verifies embedding backend availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries an embedding vector through the decorator chain.
type EmbeddingResult struct {
	Vector    []float32
	ModelID   string
	Dimension int
}
