// Package embeddings defines the embedding collaborator used to vectorize
// fact text for mentions and search queries.
package embeddings

import (
	"context"
	"errors"
)

var (
	// ErrEmbedding is returned when embedding generation fails.
	ErrEmbedding = errors.New("embedding failed")

	// ErrNotConfigured is returned by callers that need an embedder when
	// none was configured.
	ErrNotConfigured = errors.New("embeddings not configured")
)

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}
