// Package search fuses dense vector retrieval with lexical BM25 scoring.
package search

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/lexical"
	"github.com/mnemolab/mnemo/internal/metrics"
	"github.com/mnemolab/mnemo/internal/store"
)

// Fusion strategies
const (
	FusionWeighted = "weighted"
	FusionRRF      = "rrf"
)

const rrfK = 60

// Result is one fused retrieval hit.
type Result struct {
	MemoryID     int64
	ChunkID      int64
	Content      string
	Title        string
	ContentType  string
	MemoryType   string
	Importance   int
	Meta         store.JSONB
	Similarity   float64 // fused score
	DenseScore   float64 // raw cosine similarity
	LexicalScore float64
	CreatedAt    time.Time
}

// DenseSearcher is the slice of the store the hybrid searcher needs.
type DenseSearcher interface {
	SearchDense(ctx context.Context, userID uuid.UUID, vec []float32, limit int, contentTypes []string, since time.Time) ([]store.ChunkResult, error)
}

// Options narrow one search call.
type Options struct {
	TopK         int
	ContentTypes []string
	Fusion       string // weighted (default) or rrf
}

type Hybrid struct {
	store  DenseSearcher
	alpha  float64
	minSim float64
	logger *zap.Logger
}

func NewHybrid(s DenseSearcher, alpha, minSimilarity float64, logger *zap.Logger) *Hybrid {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.7
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hybrid{store: s, alpha: alpha, minSim: minSimilarity, logger: logger}
}

// Search retrieves 2*topK dense candidates, scores them lexically against the
// query text, fuses both rankings and returns the topK best.
func (h *Hybrid) Search(ctx context.Context, userID uuid.UUID, query string, vec []float32, opts Options) ([]Result, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}
	start := time.Now()

	candidates, err := h.store.SearchDense(ctx, userID, vec, 2*topK, opts.ContentTypes, time.Time{})
	if err != nil {
		return nil, err
	}

	// drop weak dense hits before fusion
	filtered := candidates[:0]
	for _, c := range candidates {
		if c.Similarity >= h.minSim {
			filtered = append(filtered, c)
		}
	}
	candidates = filtered
	if len(candidates) == 0 {
		metrics.SearchResults.WithLabelValues("hybrid").Observe(0)
		return nil, nil
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.ChunkText
	}
	ranker := lexical.NewBM25()
	ranker.Fit(docs)
	lexHits := ranker.Search(query, len(docs))

	lexScores := make(map[int]float64, len(lexHits))
	for _, hit := range lexHits {
		lexScores[hit.Index] = hit.Score
	}

	var results []Result
	switch opts.Fusion {
	case FusionRRF:
		results = fuseRRF(candidates, lexHits)
	default:
		results = fuseWeighted(candidates, lexScores, h.alpha)
	}

	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}

	metrics.SearchDuration.WithLabelValues("hybrid").Observe(time.Since(start).Seconds())
	metrics.SearchResults.WithLabelValues("hybrid").Observe(float64(len(results)))
	return results, nil
}

// fuseWeighted min-max normalizes both score sets over the candidate union
// and blends them: alpha*dense + (1-alpha)*lexical.
func fuseWeighted(candidates []store.ChunkResult, lexScores map[int]float64, alpha float64) []Result {
	denseMin, denseMax := minMax(func(i int) float64 { return candidates[i].Similarity }, len(candidates))
	// candidates without a lexical hit contribute an implicit zero, so the
	// lexical range spans the whole candidate set
	lexMin, lexMax := minMax(func(i int) float64 { return lexScores[i] }, len(candidates))

	out := make([]Result, 0, len(candidates))
	for i, c := range candidates {
		d := normalize(c.Similarity, denseMin, denseMax)
		l := normalize(lexScores[i], lexMin, lexMax)
		out = append(out, newResult(c, alpha*d+(1-alpha)*l, lexScores[i]))
	}
	return out
}

// fuseRRF sums reciprocal ranks over both orderings with 0-indexed ranks.
func fuseRRF(candidates []store.ChunkResult, lexHits []lexical.Hit) []Result {
	scores := make([]float64, len(candidates))

	// dense candidates arrive already ordered by distance
	for rank := range candidates {
		scores[rank] += 1.0 / float64(rrfK+rank)
	}
	lexScores := make(map[int]float64, len(lexHits))
	for rank, hit := range lexHits {
		scores[hit.Index] += 1.0 / float64(rrfK+rank)
		lexScores[hit.Index] = hit.Score
	}

	out := make([]Result, 0, len(candidates))
	for i, c := range candidates {
		out = append(out, newResult(c, scores[i], lexScores[i]))
	}
	return out
}

func newResult(c store.ChunkResult, fused, lexScore float64) Result {
	return Result{
		MemoryID:     c.MemoryID,
		ChunkID:      c.ChunkID,
		Content:      c.ChunkText,
		Title:        c.Title,
		ContentType:  c.ContentType,
		MemoryType:   c.MemoryType,
		Importance:   c.Importance,
		Meta:         c.Meta,
		Similarity:   fused,
		DenseScore:   c.Similarity,
		LexicalScore: lexScore,
		CreatedAt:    c.CreatedAt,
	}
}

// sortResults orders by fused score, breaking ties by higher dense
// similarity, then smaller memory id.
func sortResults(rs []Result) {
	sort.Slice(rs, func(a, b int) bool {
		if rs[a].Similarity != rs[b].Similarity {
			return rs[a].Similarity > rs[b].Similarity
		}
		if rs[a].DenseScore != rs[b].DenseScore {
			return rs[a].DenseScore > rs[b].DenseScore
		}
		return rs[a].MemoryID < rs[b].MemoryID
	})
}

func minMax(f func(int) float64, n int) (float64, float64) {
	if n == 0 {
		return 0, 0
	}
	lo, hi := f(0), f(0)
	for i := 1; i < n; i++ {
		v := f(i)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// normalize maps v into [0,1]; a degenerate range collapses to 1 so a single
// hit keeps full weight.
func normalize(v, lo, hi float64) float64 {
	if hi == lo {
		return 1
	}
	return (v - lo) / (hi - lo)
}
