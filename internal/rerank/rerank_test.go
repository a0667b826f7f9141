package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/search"
	"github.com/mnemolab/mnemo/internal/store"
)

type fakePrefs struct {
	pref *store.UserPreference
	err  error
}

func (f *fakePrefs) GetPreferences(context.Context, uuid.UUID) (*store.UserPreference, error) {
	return f.pref, f.err
}

func results() []search.Result {
	return []search.Result{
		{MemoryID: 1, Content: "notes about cooking pasta", Similarity: 0.8},
		{MemoryID: 2, Content: "notes about kubernetes clusters", Similarity: 0.7},
	}
}

func TestRerankBoostsPreferredTopics(t *testing.T) {
	r := New(&fakePrefs{pref: &store.UserPreference{Boosted: []string{"kubernetes"}}}, zap.NewNop())

	got := r.Rerank(context.Background(), uuid.New(), results())
	assert.Equal(t, int64(2), got[0].MemoryID)
	assert.InDelta(t, 0.7*1.3, got[0].Similarity, 1e-9)
}

func TestRerankSuppresses(t *testing.T) {
	r := New(&fakePrefs{pref: &store.UserPreference{Suppressed: []string{"pasta"}}}, zap.NewNop())

	got := r.Rerank(context.Background(), uuid.New(), results())
	assert.Equal(t, int64(2), got[0].MemoryID)
	assert.InDelta(t, 0.8*0.7, got[1].Similarity, 1e-9)
}

func TestRerankBoostAndSuppressStack(t *testing.T) {
	r := New(&fakePrefs{pref: &store.UserPreference{
		Boosted:    []string{"cooking", "pasta"},
		Suppressed: []string{"notes"},
	}}, zap.NewNop())

	got := r.Rerank(context.Background(), uuid.New(), results())
	var first search.Result
	for _, res := range got {
		if res.MemoryID == 1 {
			first = res
		}
	}
	// one boost even with two matching terms, times one suppression
	assert.InDelta(t, 0.8*1.3*0.7, first.Similarity, 1e-9)
}

func TestRerankNoPreferencesIsNoop(t *testing.T) {
	r := New(&fakePrefs{err: store.ErrNotFound}, zap.NewNop())
	got := r.Rerank(context.Background(), uuid.New(), results())
	assert.Equal(t, results(), got)
}

func TestRerankLoadFailureKeepsOrder(t *testing.T) {
	r := New(&fakePrefs{err: errors.New("timeout")}, zap.NewNop())
	got := r.Rerank(context.Background(), uuid.New(), results())
	assert.Equal(t, results(), got)
}
