package embeddings

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mnemolab/mnemo/internal/metrics"
)

// Service provides embedding generation with two-level caching, request
// deduplication and adaptive batching.
type Service struct {
	cfg     Config
	encoder Encoder
	cache   Cache // optional Redis tier
	lru     *LocalLRU
	group   singleflight.Group
	logger  *zap.Logger
}

// Global singleton for simple wiring
var globalSvc *Service

func Initialize(cfg Config, encoder Encoder, cache Cache, logger *zap.Logger) {
	globalSvc = NewService(cfg, encoder, cache, logger)
}

func Get() *Service { return globalSvc }

func NewService(cfg Config, encoder Encoder, cache Cache, logger *zap.Logger) *Service {
	c := cfg
	if c.DefaultModel == "" {
		c.DefaultModel = "text-embedding-3-small"
	}
	if c.Dim == 0 {
		c.Dim = 512
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.MaxLRU == 0 {
		c.MaxLRU = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if encoder == nil {
		encoder = NewHTTPEncoder(c.BaseURL, c.Timeout)
	}
	return &Service{cfg: c, encoder: encoder, cache: cache, lru: NewLocalLRU(c.MaxLRU), logger: logger}
}

// Stats returns the in-process cache counters.
func (s *Service) Stats() CacheStats { return s.lru.Stats() }

// Dim returns the canonical vector width.
func (s *Service) Dim() int { return s.cfg.Dim }

// Embed returns the vector for a single text. Concurrent callers asking for
// the same (model, text) share one upstream call.
func (s *Service) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	m := model
	if m == "" {
		m = s.cfg.DefaultModel
	}
	key := MakeKey(m, text)

	if v, ok := s.lru.Get(ctx, key); ok {
		recordTierHit("lru")
		return v, nil
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, key); ok {
			recordTierHit("redis")
			s.lru.Set(ctx, key, v, s.cfg.CacheTTL)
			return v, nil
		}
	}
	metrics.EmbeddingCacheMisses.Inc()

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		vecs, err := s.encode(ctx, []string{text}, m)
		if err != nil {
			return nil, err
		}
		return vecs[0], nil
	})
	if err != nil {
		return nil, err
	}
	vec := v.([]float32)
	s.lru.Set(ctx, key, vec, s.cfg.CacheTTL)
	if s.cache != nil {
		s.cache.Set(ctx, key, vec, s.cfg.CacheTTL)
	}
	return vec, nil
}

// EmbedBatch returns one vector per input text, preserving order. Cached
// texts never reach the encoder; duplicate texts are encoded once and the
// result scattered back to every position.
func (s *Service) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	m := model
	if m == "" {
		m = s.cfg.DefaultModel
	}

	results := make([][]float32, len(texts))
	var uncachedTexts []string
	var uncachedIndices []int

	for i, text := range texts {
		key := MakeKey(m, text)
		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			recordTierHit("lru")
			continue
		}
		if s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				results[i] = v
				s.lru.Set(ctx, key, v, s.cfg.CacheTTL)
				recordTierHit("redis")
				continue
			}
		}
		metrics.EmbeddingCacheMisses.Inc()
		uncachedTexts = append(uncachedTexts, text)
		uncachedIndices = append(uncachedIndices, i)
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	// Deduplicate by normalized content so the encoder sees each distinct
	// text once.
	type dupGroup struct {
		text    string
		indices []int // positions in uncachedIndices space
	}
	order := []string{}
	groups := map[string]*dupGroup{}
	for i, text := range uncachedTexts {
		h := normalizedHash(text)
		g, ok := groups[h]
		if !ok {
			g = &dupGroup{text: text}
			groups[h] = g
			order = append(order, h)
		}
		g.indices = append(g.indices, i)
	}

	unique := make([]string, len(order))
	for i, h := range order {
		unique[i] = groups[h].text
	}

	vectors := make([][]float32, 0, len(unique))
	for _, batch := range splitBatches(unique) {
		vecs, err := s.encode(ctx, batch, m)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vecs...)
	}

	// Scatter each unique vector back to every duplicate position and both
	// cache tiers.
	for i, h := range order {
		vec := vectors[i]
		key := MakeKey(m, groups[h].text)
		s.lru.Set(ctx, key, vec, s.cfg.CacheTTL)
		if s.cache != nil {
			s.cache.Set(ctx, key, vec, s.cfg.CacheTTL)
		}
		for _, j := range groups[h].indices {
			idx := uncachedIndices[j]
			results[idx] = vec
			// duplicates may differ in raw form; cache their keys too
			if dupKey := MakeKey(m, uncachedTexts[j]); dupKey != key {
				s.lru.Set(ctx, dupKey, vec, s.cfg.CacheTTL)
			}
		}
	}

	return results, nil
}

// encode calls the upstream encoder and post-processes the vectors.
func (s *Service) encode(ctx context.Context, texts []string, model string) ([][]float32, error) {
	metrics.EmbeddingBatchSize.Observe(float64(len(texts)))
	vecs, err := s.encoder.EncodeBatch(ctx, texts, model)
	if err != nil {
		metrics.RecordEmbedding(model, "error")
		return nil, err
	}
	if len(vecs) != len(texts) {
		metrics.RecordEmbedding(model, "error")
		return nil, fmt.Errorf("encoder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, v := range vecs {
		padded := padTo(v, s.cfg.Dim)
		if !validVector(padded) {
			s.logger.Warn("degenerate embedding",
				zap.String("model", model),
				zap.Int("index", i),
				zap.Int("text_len", len(texts[i])),
			)
		}
		vecs[i] = padded
	}
	metrics.RecordEmbedding(model, "ok")
	return vecs, nil
}

// splitBatches sizes sub-batches by average text length: long documents go
// upstream in small groups, short fragments in large ones.
func splitBatches(texts []string) [][]string {
	if len(texts) == 0 {
		return nil
	}
	total := 0
	for _, t := range texts {
		total += len(t)
	}
	avg := total / len(texts)
	size := 32
	switch {
	case avg > 2000:
		size = 8
	case avg > 1000:
		size = 16
	}
	var out [][]string
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		out = append(out, texts[start:end])
	}
	return out
}

// padTo right-pads v with zeros to dim. Longer vectors pass through as-is.
func padTo(v []float32, dim int) []float32 {
	if len(v) >= dim {
		return v
	}
	out := make([]float32, dim)
	copy(out, v)
	return out
}

// validVector reports false for NaN components or an all-zero vector.
func validVector(v []float32) bool {
	norm := 0.0
	for _, f := range v {
		if math.IsNaN(float64(f)) {
			return false
		}
		norm += float64(f) * float64(f)
	}
	return norm > 0
}

// normalizedHash collapses whitespace and case before hashing so trivially
// different duplicates share one encode.
func normalizedHash(text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	h := md5.Sum([]byte(norm))
	return hex.EncodeToString(h[:])
}
