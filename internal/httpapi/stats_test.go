package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/store"
)

type fakeStatsStore struct {
	stats    *store.UserStats
	queries  []store.QueryCount
	memories []store.Memory

	gotDays  int
	gotLimit int
}

func (f *fakeStatsStore) GetUserStats(_ context.Context, _ uuid.UUID, days int) (*store.UserStats, error) {
	f.gotDays = days
	return f.stats, nil
}

func (f *fakeStatsStore) PopularQueries(_ context.Context, _ uuid.UUID, limit int) ([]store.QueryCount, error) {
	f.gotLimit = limit
	return f.queries, nil
}

func (f *fakeStatsStore) GetMemories(_ context.Context, _ uuid.UUID, _, _ int) ([]store.Memory, int, error) {
	return f.memories, len(f.memories), nil
}

func newStatsServer(t *testing.T, fs *fakeStatsStore) (*http.ServeMux, string) {
	t.Helper()
	svc, _ := newAuthService(t)
	token := bearerToken(t, svc)
	mux := http.NewServeMux()
	NewStatsHandler(fs, zap.NewNop()).RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc {
		return RequireAuth(svc, next)
	})
	return mux, token
}

func statsGET(t *testing.T, mux *http.ServeMux, token, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestDashboardReturnsAggregates(t *testing.T) {
	fs := &fakeStatsStore{stats: &store.UserStats{
		TotalMemories:   12,
		MemoriesByType:  map[string]int{"text": 10, "pdf": 2},
		TotalEmbeddings: 40,
		EstimatedSizeMB: 0.08,
		PeriodDays:      30,
	}}
	mux, token := newStatsServer(t, fs)

	rec := statsGET(t, mux, token, "/v1/stats/dashboard?days=30")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, fs.gotDays)

	var got store.UserStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 12, got.TotalMemories)
	assert.Equal(t, 2, got.MemoriesByType["pdf"])
	assert.Equal(t, 0.08, got.EstimatedSizeMB)
}

func TestTimelineGroupsByDate(t *testing.T) {
	day1 := time.Date(2026, 8, 20, 15, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 19, 9, 0, 0, 0, time.UTC)
	fs := &fakeStatsStore{memories: []store.Memory{
		{ID: 3, Content: "afternoon note", ContentType: store.ContentText, MemoryType: store.TierEpisodic, CreatedAt: day1},
		{ID: 2, Content: strings.Repeat("long entry ", 40), ContentType: store.ContentText, MemoryType: store.TierEpisodic, CreatedAt: day1},
		{ID: 1, Content: "earlier note", ContentType: store.ContentText, MemoryType: store.TierEpisodic, CreatedAt: day2},
	}}
	mux, token := newStatsServer(t, fs)

	rec := statsGET(t, mux, token, "/v1/memories/timeline")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Timeline []timelineDay `json:"timeline"`
		Total    int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Timeline, 2)
	assert.Equal(t, "2026-08-20", body.Timeline[0].Date)
	assert.Len(t, body.Timeline[0].Memories, 2)
	assert.Equal(t, "2026-08-19", body.Timeline[1].Date)
	assert.Equal(t, 3, body.Total)

	// long entries are previewed, not returned whole
	assert.Len(t, body.Timeline[0].Memories[1].ContentPreview, timelinePreviewChars)
}

func TestPopularSearchesPassesLimit(t *testing.T) {
	fs := &fakeStatsStore{queries: []store.QueryCount{
		{Query: "what did i read last week", Count: 4},
	}}
	mux, token := newStatsServer(t, fs)

	rec := statsGET(t, mux, token, "/v1/stats/popular-searches?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, fs.gotLimit)
	assert.Contains(t, rec.Body.String(), "what did i read last week")
}

func TestStatsEndpointsRequireAuth(t *testing.T) {
	mux, _ := newStatsServer(t, &fakeStatsStore{stats: &store.UserStats{}})
	req := httptest.NewRequest(http.MethodGet, "/v1/stats/dashboard", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
