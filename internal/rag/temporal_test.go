package rag

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTemporalBoostPrefersFreshResults(t *testing.T) {
	now := time.Now()
	results := []Source{
		{MemoryID: 1, Similarity: 0.9, CreatedAt: now.AddDate(0, 0, -90)},
		{MemoryID: 2, Similarity: 0.7, CreatedAt: now.AddDate(0, 0, -1)},
	}
	ApplyTemporalBoost(results, 0.4, now)

	assert.Equal(t, int64(2), results[0].MemoryID)
	for _, r := range results {
		assert.Greater(t, r.BoostedScore, 0.0)
	}
}

func TestTemporalBoostExactBlend(t *testing.T) {
	now := time.Now()
	results := []Source{{MemoryID: 1, Similarity: 0.6, CreatedAt: now.AddDate(0, 0, -30)}}
	ApplyTemporalBoost(results, 0.5, now)

	recency := math.Exp(-1) // 30 days, outside the fresh window
	assert.InDelta(t, 0.5*0.6+0.5*recency, results[0].BoostedScore, 1e-6)
}

func TestTemporalBoostFreshWindowMultiplier(t *testing.T) {
	now := time.Now()
	day := now.AddDate(0, 0, -1)
	results := []Source{{MemoryID: 1, Similarity: 0, CreatedAt: day}}
	ApplyTemporalBoost(results, 1.0, now)

	recency := math.Exp(-1.0/30) * 1.5
	assert.InDelta(t, recency, results[0].BoostedScore, 1e-6)
}

// boosted stays within [min(sim,recency), max(sim,recency)*1.5] for any
// weight in [0,1].
func TestTemporalBoostBounds(t *testing.T) {
	now := time.Now()
	for _, w := range []float64{0.01, 0.25, 0.5, 0.75, 1.0} {
		for _, ageDays := range []int{0, 3, 10, 40, 400} {
			results := []Source{{MemoryID: 1, Similarity: 0.42, CreatedAt: now.AddDate(0, 0, -ageDays)}}
			ApplyTemporalBoost(results, w, now)

			recency := math.Exp(-float64(ageDays) / 30)
			lo := math.Min(0.42, recency)
			hi := math.Max(0.42, recency) * 1.5
			assert.GreaterOrEqual(t, results[0].BoostedScore, lo-1e-9)
			assert.LessOrEqual(t, results[0].BoostedScore, hi+1e-9)
		}
	}
}

func TestTemporalBoostInvalidWeightUsesDefault(t *testing.T) {
	now := time.Now()
	a := []Source{{MemoryID: 1, Similarity: 0.5, CreatedAt: now.AddDate(0, 0, -10)}}
	b := []Source{{MemoryID: 1, Similarity: 0.5, CreatedAt: now.AddDate(0, 0, -10)}}
	ApplyTemporalBoost(a, 0, now)
	ApplyTemporalBoost(b, 0.4, now)

	assert.InDelta(t, b[0].BoostedScore, a[0].BoostedScore, 1e-9)
}

func TestEffectiveScore(t *testing.T) {
	assert.Equal(t, 0.3, EffectiveScore(Source{Similarity: 0.3}))
	assert.Equal(t, 0.8, EffectiveScore(Source{Similarity: 0.3, BoostedScore: 0.8}))
}
