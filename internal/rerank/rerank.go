// Package rerank adjusts retrieval scores with per-user preference terms.
package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/search"
	"github.com/mnemolab/mnemo/internal/store"
)

const (
	boostFactor    = 1.3
	suppressFactor = 0.7
)

// PreferenceSource loads one user's preference row.
type PreferenceSource interface {
	GetPreferences(ctx context.Context, userID uuid.UUID) (*store.UserPreference, error)
}

type Reranker struct {
	prefs  PreferenceSource
	logger *zap.Logger
}

func New(prefs PreferenceSource, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{prefs: prefs, logger: logger}
}

// Rerank multiplies each result's score by the boost factor when any boosted
// term matches (once), and by the suppress factor when any suppressed term
// matches (once); the two apply independently. Results re-sort descending.
// Missing preferences or a load failure leaves the input order untouched.
func (r *Reranker) Rerank(ctx context.Context, userID uuid.UUID, results []search.Result) []search.Result {
	if len(results) == 0 {
		return results
	}
	p, err := r.prefs.GetPreferences(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("preference load failed, keeping original order",
				zap.String("user_id", userID.String()), zap.Error(err))
		}
		return results
	}
	if len(p.Boosted) == 0 && len(p.Suppressed) == 0 {
		return results
	}

	for i := range results {
		res := &results[i]
		results[i].Similarity *= Factor(p, res.Content, res.Title, res.ContentType, res.MemoryType)
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Similarity > results[b].Similarity
	})
	return results
}

// Factor returns the multiplier the preference terms assign to one result.
// A boosted-term match contributes 1.3 and a suppressed-term match 0.7, each
// at most once; both can apply to the same result.
func Factor(p *store.UserPreference, content, title, contentType, memoryType string) float64 {
	haystack := MatchText(content, title, contentType, memoryType)
	f := 1.0
	if matchesAny(haystack, p.Boosted) {
		f *= boostFactor
	}
	if matchesAny(haystack, p.Suppressed) {
		f *= suppressFactor
	}
	return f
}

// MatchText builds the lowercase scan target: chunk text plus serialized
// descriptive fields.
func MatchText(content, title, contentType, memoryType string) string {
	meta, _ := json.Marshal(map[string]string{
		"title":        title,
		"content_type": contentType,
		"memory_type":  memoryType,
	})
	return strings.ToLower(content + " " + string(meta))
}

func matchesAny(haystack string, terms []string) bool {
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}
