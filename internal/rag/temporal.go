package rag

import (
	"math"
	"sort"
	"time"
)

const (
	defaultTemporalWeight = 0.4
	freshBoostFactor      = 1.5
	freshWindowDays       = 7
)

// ApplyTemporalBoost blends similarity with a recency score and re-sorts.
// recency = exp(-age_days/30), multiplied by 1.5 for memories under a week
// old; boosted = (1-w)*similarity + w*recency.
func ApplyTemporalBoost(results []Source, weight float64, now time.Time) {
	if weight <= 0 || weight > 1 {
		weight = defaultTemporalWeight
	}
	for i := range results {
		ageDays := now.Sub(results[i].CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		recency := math.Exp(-ageDays / 30)
		if ageDays < freshWindowDays {
			recency *= freshBoostFactor
		}
		results[i].BoostedScore = (1-weight)*results[i].Similarity + weight*recency
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].BoostedScore > results[b].BoostedScore
	})
}

// EffectiveScore is the ordering key after optional boosting.
func EffectiveScore(s Source) float64 {
	if s.BoostedScore > 0 {
		return s.BoostedScore
	}
	return s.Similarity
}
