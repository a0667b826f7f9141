package memory

import (
	"math"
	"time"

	"github.com/mnemolab/mnemo/internal/store"
)

var typeWeights = map[string]float64{
	store.ContentText:  1.0,
	store.ContentPDF:   1.2,
	store.ContentImage: 0.9,
	store.ContentAudio: 1.1,
	store.ContentWeb:   0.7,
}

// Signals are the inputs to one importance computation.
type Signals struct {
	CreatedAt    time.Time
	AccessCount  int
	LastAccessed *time.Time
	ContentType  string
	// Variance over the memory's chunk embeddings; proxies content richness.
	EmbeddingVariance float64
	Now               time.Time
}

// Importance blends recency, access frequency, access recency, content type
// and embedding richness into a [0,~1] score.
func Importance(s Signals) float64 {
	now := s.Now
	if now.IsZero() {
		now = time.Now()
	}

	recency := math.Exp(-now.Sub(s.CreatedAt).Hours() / 24 / 30)
	frequency := math.Log1p(float64(s.AccessCount)) / 10

	accessRec := 0.0
	if s.LastAccessed != nil {
		accessRec = math.Exp(-now.Sub(*s.LastAccessed).Hours() / 24 / 7)
	}

	tw, ok := typeWeights[s.ContentType]
	if !ok {
		tw = 1.0
	}

	richness := math.Min(s.EmbeddingVariance, 1.0)

	return 0.35*recency + 0.25*frequency + 0.20*accessRec + 0.15*tw + 0.05*richness
}

// ImportanceScore converts the float score to the persisted 0..100 integer.
func ImportanceScore(s Signals) int {
	v := int(math.Round(Importance(s) * 100))
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return v
}

// EmbeddingVariance is the mean per-dimension variance across vectors; a
// single vector has zero variance.
func EmbeddingVariance(vecs [][]float32) float64 {
	if len(vecs) < 2 {
		return 0
	}
	dim := len(vecs[0])
	total := 0.0
	for d := 0; d < dim; d++ {
		mean := 0.0
		for _, v := range vecs {
			mean += float64(v[d])
		}
		mean /= float64(len(vecs))
		varSum := 0.0
		for _, v := range vecs {
			diff := float64(v[d]) - mean
			varSum += diff * diff
		}
		total += varSum / float64(len(vecs))
	}
	return total / float64(dim)
}

// Cosine returns the cosine similarity of two vectors, guarding zero norms.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na)*math.Sqrt(nb) + 1e-8)
}
