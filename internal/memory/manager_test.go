package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/llm"
	"github.com/mnemolab/mnemo/internal/store"
)

type fakeStore struct {
	memories    []store.Memory
	embeddings  map[int64][]float32
	chunkVecs   map[int64][][]float32
	summaries   []store.MemorySummary
	accessCount map[int64]int
	episodic    []store.ChunkResult
	summaryHits []store.SummaryResult
	deleted     []int64
	logged      []int64
	logErr      error
}

func (f *fakeStore) ListConsolidatable(_ context.Context, _ uuid.UUID, cutoff time.Time, limit int) ([]store.Memory, error) {
	var out []store.Memory
	for _, m := range f.memories {
		if m.MemoryType != store.TierEpisodic || !m.CreatedAt.Before(cutoff) {
			continue
		}
		if f.isSummarized(m.ID) {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) isSummarized(id int64) bool {
	for _, s := range f.summaries {
		for _, src := range s.SourceMemoryIDs {
			if src == id {
				return true
			}
		}
	}
	return false
}

func (f *fakeStore) FirstChunkEmbeddings(_ context.Context, ids []int64) (map[int64][]float32, error) {
	out := map[int64][]float32{}
	for _, id := range ids {
		if v, ok := f.embeddings[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *fakeStore) ChunkEmbeddings(_ context.Context, ids []int64) (map[int64][][]float32, error) {
	out := map[int64][][]float32{}
	for _, id := range ids {
		if v, ok := f.chunkVecs[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *fakeStore) CreateSummary(_ context.Context, s *store.MemorySummary) error {
	s.ID = int64(len(f.summaries) + 1)
	f.summaries = append(f.summaries, *s)
	return nil
}

func (f *fakeStore) ListMemoriesOlderThan(_ context.Context, _ uuid.UUID, cutoff time.Time) ([]store.Memory, error) {
	var out []store.Memory
	for _, m := range f.memories {
		if m.CreatedAt.Before(cutoff) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) ListForgettable(_ context.Context, _ uuid.UUID, cutoff time.Time, maxImportance int) ([]int64, error) {
	var out []int64
	for _, m := range f.memories {
		if m.CreatedAt.Before(cutoff) && m.Importance < maxImportance && !f.isSummarized(m.ID) {
			out = append(out, m.ID)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteMemories(_ context.Context, _ uuid.UUID, ids []int64) (int64, error) {
	f.deleted = append(f.deleted, ids...)
	return int64(len(ids)), nil
}

func (f *fakeStore) AccessCounts(_ context.Context, _ []int64) (map[int64]int, error) {
	if f.accessCount == nil {
		return map[int64]int{}, nil
	}
	return f.accessCount, nil
}

func (f *fakeStore) UpdateImportance(_ context.Context, id int64, importance int) error {
	for i := range f.memories {
		if f.memories[i].ID == id {
			f.memories[i].Importance = importance
		}
	}
	return nil
}

func (f *fakeStore) SearchEpisodic(_ context.Context, _ uuid.UUID, _ []float32, limit int, _ time.Time) ([]store.ChunkResult, error) {
	if len(f.episodic) > limit {
		return f.episodic[:limit], nil
	}
	return f.episodic, nil
}

func (f *fakeStore) SearchSummaries(_ context.Context, _ uuid.UUID, _ []float32, limit int) ([]store.SummaryResult, error) {
	if len(f.summaryHits) > limit {
		return f.summaryHits[:limit], nil
	}
	return f.summaryHits, nil
}

func (f *fakeStore) LogAccess(_ context.Context, _ uuid.UUID, ids []int64, _ string) error {
	if f.logErr != nil {
		return f.logErr
	}
	f.logged = append(f.logged, ids...)
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type fakeCompleter struct {
	reply string
	err   error
	calls int
}

func (f *fakeCompleter) Complete(_ context.Context, _ string, _ []llm.Message, _ ...llm.Option) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func oldEpisodic(id int64, daysAgo int) store.Memory {
	return store.Memory{
		ID:          id,
		MemoryType:  store.TierEpisodic,
		ContentType: store.ContentText,
		Content:     "old memory content",
		CreatedAt:   time.Now().AddDate(0, 0, -daysAgo),
		Importance:  50,
	}
}

func TestConsolidateSimilarMemoriesIntoOneSummary(t *testing.T) {
	fs := &fakeStore{embeddings: map[int64][]float32{}}
	for i := int64(1); i <= 5; i++ {
		fs.memories = append(fs.memories, oldEpisodic(i, 45))
		fs.embeddings[i] = []float32{1, 0.01 * float32(i)} // pairwise cosine well above 0.8
	}
	lm := &fakeCompleter{reply: "They often discussed project plans."}
	mgr := NewManager(fs, fakeEmbedder{}, lm, Config{}, zap.NewNop())

	res, err := mgr.Consolidate(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 1, res.SummariesCreated)
	assert.Equal(t, 5, res.Consolidated)
	require.Len(t, fs.summaries, 1)
	assert.Equal(t, 5, fs.summaries[0].MemoryCount)
	assert.Len(t, fs.summaries[0].SourceMemoryIDs, 5)

	// idempotence: re-running with no new memories creates nothing
	res, err = mgr.Consolidate(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Zero(t, res.SummariesCreated)
	assert.Len(t, fs.summaries, 1)
}

func TestConsolidateSummarySpansSourceDateRange(t *testing.T) {
	fs := &fakeStore{embeddings: map[int64][]float32{
		1: {1, 0}, 2: {1, 0.01}, 3: {1, 0.02},
	}}
	oldest := time.Now().AddDate(0, 0, -90)
	middle := time.Now().AddDate(0, 0, -60)
	newest := time.Now().AddDate(0, 0, -45)
	for i, created := range []time.Time{middle, oldest, newest} {
		m := oldEpisodic(int64(i+1), 0)
		m.CreatedAt = created
		fs.memories = append(fs.memories, m)
	}
	mgr := NewManager(fs, fakeEmbedder{}, &fakeCompleter{reply: "summary"}, Config{}, zap.NewNop())

	_, err := mgr.Consolidate(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Len(t, fs.summaries, 1)
	assert.True(t, fs.summaries[0].DateRangeStart.Equal(oldest), "range start is the earliest source")
	assert.True(t, fs.summaries[0].DateRangeEnd.Equal(newest), "range end is the latest source")
}

func TestConsolidateSplitsDissimilarMemories(t *testing.T) {
	fs := &fakeStore{embeddings: map[int64][]float32{
		1: {1, 0},
		2: {0.99, 0.05},
		3: {0, 1}, // orthogonal to the first pair
	}}
	for i := int64(1); i <= 3; i++ {
		fs.memories = append(fs.memories, oldEpisodic(i, 40))
	}
	mgr := NewManager(fs, fakeEmbedder{}, &fakeCompleter{reply: "summary"}, Config{}, zap.NewNop())

	res, err := mgr.Consolidate(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 2, res.SummariesCreated)
}

func TestConsolidateSurvivesLLMFailure(t *testing.T) {
	fs := &fakeStore{
		memories:   []store.Memory{oldEpisodic(1, 40)},
		embeddings: map[int64][]float32{1: {1, 0}},
	}
	mgr := NewManager(fs, fakeEmbedder{}, &fakeCompleter{err: errors.New("backend down")}, Config{}, zap.NewNop())

	res, err := mgr.Consolidate(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 1, res.SummariesCreated, "placeholder summary still written")
	assert.Contains(t, fs.summaries[0].SummaryText, "1 related memories")
}

func TestForgetDeletesLowImportanceOnly(t *testing.T) {
	lowImportance := oldEpisodic(1, 60)
	lowImportance.Importance = 5
	keeper := oldEpisodic(2, 60)
	recent := now24h()

	fs := &fakeStore{
		memories:    []store.Memory{lowImportance, keeper},
		accessCount: map[int64]int{2: 40},
	}
	// keeper was read recently, which the refresh pass will reflect
	fs.memories[1].LastAccessed = &recent

	mgr := NewManager(fs, fakeEmbedder{}, &fakeCompleter{}, Config{ForgetThreshold: 0.25}, zap.NewNop())
	n, err := mgr.Forget(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []int64{1}, fs.deleted)
}

func TestForgetRefreshCountsEmbeddingRichness(t *testing.T) {
	flat := oldEpisodic(1, 60)
	rich := oldEpisodic(2, 60)
	fs := &fakeStore{
		memories: []store.Memory{flat, rich},
		chunkVecs: map[int64][][]float32{
			// high per-dimension variance across the rich memory's chunks
			2: {{10, 0}, {-10, 0}},
		},
	}

	mgr := NewManager(fs, fakeEmbedder{}, &fakeCompleter{}, Config{ForgetThreshold: 0.22}, zap.NewNop())
	n, err := mgr.Forget(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []int64{1}, fs.deleted, "richness keeps the varied memory above threshold")
}

func TestForgetSkipsSummarizedMemories(t *testing.T) {
	m := oldEpisodic(1, 90)
	m.Importance = 1
	fs := &fakeStore{
		memories:  []store.Memory{m},
		summaries: []store.MemorySummary{{SourceMemoryIDs: []int64{1}}},
	}
	mgr := NewManager(fs, fakeEmbedder{}, &fakeCompleter{}, Config{ForgetThreshold: 0.5}, zap.NewNop())
	n, err := mgr.Forget(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Zero(t, n, "memories backing a summary survive the sweep")
}

func TestRetrieveHierarchyMergesAndTruncates(t *testing.T) {
	fs := &fakeStore{
		episodic: []store.ChunkResult{
			{MemoryID: 1, ChunkText: "recent detail", Similarity: 0.9, CreatedAt: time.Now()},
			{MemoryID: 2, ChunkText: "older detail", Similarity: 0.5, CreatedAt: time.Now()},
		},
		summaryHits: []store.SummaryResult{
			{SummaryID: 10, SummaryText: "consolidated knowledge", Similarity: 0.7, CreatedAt: time.Now()},
		},
	}
	mgr := NewManager(fs, fakeEmbedder{}, &fakeCompleter{}, Config{}, zap.NewNop())

	items, err := mgr.RetrieveHierarchy(context.Background(), uuid.New(), []float32{1}, 4, true)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, int64(1), items[0].MemoryID)
	assert.Equal(t, store.TierSemantic, items[1].MemoryType, "summary ranks by similarity")
	assert.Equal(t, int64(10), items[1].SummaryID)

	// topK=2 truncates after the merge sort
	items, err = mgr.RetrieveHierarchy(context.Background(), uuid.New(), []float32{1}, 2, true)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 0.9, items[0].Similarity)
	assert.Equal(t, 0.7, items[1].Similarity)
}

func TestLogRetrievalAccessSwallowsFailure(t *testing.T) {
	fs := &fakeStore{logErr: errors.New("db down")}
	mgr := NewManager(fs, fakeEmbedder{}, &fakeCompleter{}, Config{}, zap.NewNop())
	// must not panic or propagate
	mgr.LogRetrievalAccess(context.Background(), uuid.New(), []int64{1, 2})
}

func now24h() time.Time { return time.Now().Add(-24 * time.Hour) }
