package embeddings

import (
	"context"
	"time"
)

// Config controls the embedding service behavior
type Config struct {
	// BaseURL points to the model server providing /embeddings
	BaseURL string
	// DefaultModel is the default embedding model (e.g., text-embedding-3-small)
	DefaultModel string
	// Dim is the canonical vector width; shorter vectors are zero-padded
	Dim int
	// Timeout for outbound HTTP calls
	Timeout time.Duration
	// CacheTTL sets TTL for embedding cache entries
	CacheTTL time.Duration
	// MaxLRU controls in-process LRU size
	MaxLRU int
}

// Encoder produces raw vectors for a batch of texts. The HTTP implementation
// talks to the model server; tests inject fakes through NewService.
type Encoder interface {
	EncodeBatch(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// CacheStats exposes hit/miss counters for the in-process tier.
type CacheStats struct {
	Hits   uint64
	Misses uint64
	Size   int
}
