// Package memory implements the hierarchical memory manager: tier
// classification, importance scoring, consolidation of old episodic memories
// into semantic summaries, forgetting, and two-tier retrieval.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/llm"
	"github.com/mnemolab/mnemo/internal/metrics"
	"github.com/mnemolab/mnemo/internal/store"
)

const (
	consolidationBatch = 50
	summaryCharLimit   = 4000
)

// Store is the persistence surface the manager needs.
type Store interface {
	ListConsolidatable(ctx context.Context, userID uuid.UUID, cutoff time.Time, limit int) ([]store.Memory, error)
	FirstChunkEmbeddings(ctx context.Context, memoryIDs []int64) (map[int64][]float32, error)
	ChunkEmbeddings(ctx context.Context, memoryIDs []int64) (map[int64][][]float32, error)
	CreateSummary(ctx context.Context, s *store.MemorySummary) error
	ListMemoriesOlderThan(ctx context.Context, userID uuid.UUID, cutoff time.Time) ([]store.Memory, error)
	ListForgettable(ctx context.Context, userID uuid.UUID, cutoff time.Time, maxImportance int) ([]int64, error)
	UpdateImportance(ctx context.Context, id int64, importance int) error
	DeleteMemories(ctx context.Context, userID uuid.UUID, ids []int64) (int64, error)
	AccessCounts(ctx context.Context, memoryIDs []int64) (map[int64]int, error)
	SearchEpisodic(ctx context.Context, userID uuid.UUID, vec []float32, limit int, since time.Time) ([]store.ChunkResult, error)
	SearchSummaries(ctx context.Context, userID uuid.UUID, vec []float32, limit int) ([]store.SummaryResult, error)
	LogAccess(ctx context.Context, userID uuid.UUID, memoryIDs []int64, kind string) error
}

// Embedder produces vectors for summary text.
type Embedder interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// Completer runs a blocking chat completion.
type Completer interface {
	Complete(ctx context.Context, purpose string, messages []llm.Message, opts ...llm.Option) (string, error)
}

// Config tunes the manager.
type Config struct {
	EpisodicDays      int
	ConsolidationDays int
	ForgetThreshold   float64
	ClusterThreshold  float64
}

type Manager struct {
	store    Store
	embedder Embedder
	lm       Completer
	cfg      Config
	logger   *zap.Logger
}

func NewManager(s Store, e Embedder, lm Completer, cfg Config, logger *zap.Logger) *Manager {
	if cfg.EpisodicDays == 0 {
		cfg.EpisodicDays = 7
	}
	if cfg.ConsolidationDays == 0 {
		cfg.ConsolidationDays = 30
	}
	if cfg.ForgetThreshold == 0 {
		cfg.ForgetThreshold = 0.10
	}
	if cfg.ClusterThreshold == 0 {
		cfg.ClusterThreshold = 0.7
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: s, embedder: e, lm: lm, cfg: cfg, logger: logger}
}

// Item is one hierarchical retrieval hit; either a recent episodic chunk or a
// consolidated summary.
type Item struct {
	MemoryID    int64 // 0 for summaries
	SummaryID   int64 // 0 for chunks
	Content     string
	Title       string
	ContentType string
	MemoryType  string
	Importance  int
	Meta        store.JSONB
	Similarity  float64
	CreatedAt   time.Time
}

// RetrieveHierarchy searches recent episodic chunks and consolidated
// summaries, merges by similarity, and returns at most topK items.
func (m *Manager) RetrieveHierarchy(ctx context.Context, userID uuid.UUID, vec []float32, topK int, includeSummaries bool) ([]Item, error) {
	if topK <= 0 {
		topK = 10
	}
	start := time.Now()
	half := topK / 2
	if half == 0 {
		half = 1
	}

	since := time.Now().AddDate(0, 0, -m.cfg.EpisodicDays)
	episodic, err := m.store.SearchEpisodic(ctx, userID, vec, half, since)
	if err != nil {
		return nil, fmt.Errorf("episodic search: %w", err)
	}

	items := make([]Item, 0, topK)
	for _, r := range episodic {
		items = append(items, Item{
			MemoryID:    r.MemoryID,
			Content:     r.ChunkText,
			Title:       r.Title,
			ContentType: r.ContentType,
			MemoryType:  store.TierEpisodic,
			Importance:  r.Importance,
			Meta:        r.Meta,
			Similarity:  r.Similarity,
			CreatedAt:   r.CreatedAt,
		})
	}

	if includeSummaries {
		summaries, err := m.store.SearchSummaries(ctx, userID, vec, half)
		if err != nil {
			return nil, fmt.Errorf("summary search: %w", err)
		}
		for _, s := range summaries {
			items = append(items, Item{
				SummaryID:   s.SummaryID,
				Content:     s.SummaryText,
				ContentType: "summary",
				MemoryType:  store.TierSemantic,
				Importance:  s.Importance,
				Similarity:  s.Similarity,
				CreatedAt:   s.CreatedAt,
			})
		}
	}

	sort.Slice(items, func(a, b int) bool { return items[a].Similarity > items[b].Similarity })
	if len(items) > topK {
		items = items[:topK]
	}

	metrics.SearchDuration.WithLabelValues("hierarchical").Observe(time.Since(start).Seconds())
	metrics.SearchResults.WithLabelValues("hierarchical").Observe(float64(len(items)))
	return items, nil
}

// LogRetrievalAccess records retrieval accesses best-effort; failures are
// logged and swallowed so the query path never degrades.
func (m *Manager) LogRetrievalAccess(ctx context.Context, userID uuid.UUID, memoryIDs []int64) {
	if len(memoryIDs) == 0 {
		return
	}
	if err := m.store.LogAccess(ctx, userID, memoryIDs, store.AccessRetrieval); err != nil {
		m.logger.Warn("access logging failed",
			zap.String("user_id", userID.String()),
			zap.Int("memories", len(memoryIDs)),
			zap.Error(err),
		)
	}
}

// ConsolidationResult reports one consolidation sweep.
type ConsolidationResult struct {
	Consolidated     int
	SummariesCreated int
}

// Consolidate groups old un-summarized episodic memories by embedding
// similarity and writes one semantic summary per group. Source memories are
// kept; the summary references them. Running twice with no new memories is a
// no-op because summarized memories are excluded from selection.
func (m *Manager) Consolidate(ctx context.Context, userID uuid.UUID) (ConsolidationResult, error) {
	var res ConsolidationResult
	cutoff := time.Now().AddDate(0, 0, -m.cfg.ConsolidationDays)

	memories, err := m.store.ListConsolidatable(ctx, userID, cutoff, consolidationBatch)
	if err != nil {
		metrics.ConsolidationRuns.WithLabelValues("error").Inc()
		return res, fmt.Errorf("list consolidatable: %w", err)
	}
	if len(memories) == 0 {
		metrics.ConsolidationRuns.WithLabelValues("empty").Inc()
		return res, nil
	}

	ids := make([]int64, len(memories))
	for i, mem := range memories {
		ids[i] = mem.ID
	}
	embs, err := m.store.FirstChunkEmbeddings(ctx, ids)
	if err != nil {
		metrics.ConsolidationRuns.WithLabelValues("error").Inc()
		return res, fmt.Errorf("fetch embeddings: %w", err)
	}

	groups := clusterBySimilarity(memories, embs, m.cfg.ClusterThreshold)

	for _, group := range groups {
		summary, err := m.summarizeGroup(ctx, userID, group)
		if err != nil {
			// per-group isolation: log and keep going
			m.logger.Error("summary creation failed",
				zap.String("user_id", userID.String()),
				zap.Int("group_size", len(group)),
				zap.Error(err),
			)
			continue
		}
		res.SummariesCreated++
		res.Consolidated += len(group)
		metrics.SummariesCreated.Inc()
		m.logger.Info("consolidated memories",
			zap.Int64("summary_id", summary.ID),
			zap.Int("group_size", len(group)),
		)
	}

	metrics.ConsolidationRuns.WithLabelValues("ok").Inc()
	return res, nil
}

// clusterBySimilarity greedily groups memories in creation order: the first
// unused memory seeds a group, and every later unused memory within the
// threshold of the seed joins it. Memories without an embedding become
// singleton groups.
func clusterBySimilarity(memories []store.Memory, embs map[int64][]float32, threshold float64) [][]store.Memory {
	var groups [][]store.Memory
	used := make(map[int64]bool, len(memories))

	for i, seed := range memories {
		if used[seed.ID] {
			continue
		}
		used[seed.ID] = true
		group := []store.Memory{seed}

		seedEmb, ok := embs[seed.ID]
		if ok {
			for _, cand := range memories[i+1:] {
				if used[cand.ID] {
					continue
				}
				candEmb, ok := embs[cand.ID]
				if !ok {
					continue
				}
				if Cosine(seedEmb, candEmb) >= threshold {
					group = append(group, cand)
					used[cand.ID] = true
				}
			}
		}
		groups = append(groups, group)
	}
	return groups
}

func (m *Manager) summarizeGroup(ctx context.Context, userID uuid.UUID, group []store.Memory) (*store.MemorySummary, error) {
	var sb strings.Builder
	for _, mem := range group {
		if mem.Content == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s] %s", mem.CreatedAt.Format("2006-01-02"), mem.Content)
	}
	combined := sb.String()
	if len(combined) > summaryCharLimit {
		combined = combined[:summaryCharLimit]
	}

	summaryText, err := m.lm.Complete(ctx, "consolidation", []llm.Message{
		{Role: llm.RoleSystem, Content: "Create a concise summary of the following related memories, capturing key facts and themes."},
		{Role: llm.RoleUser, Content: combined},
	}, llm.WithTemperature(0.3))
	if err != nil {
		// degrade to a placeholder rather than losing the group
		m.logger.Warn("summary generation failed, using placeholder", zap.Error(err))
		summaryText = fmt.Sprintf("Summary of %d related memories about various topics", len(group))
	}

	vec, err := m.embedder.Embed(ctx, summaryText, "")
	if err != nil {
		return nil, fmt.Errorf("embed summary: %w", err)
	}

	ids := make(pq.Int64Array, len(group))
	importanceSum := 0
	rangeStart, rangeEnd := group[0].CreatedAt, group[0].CreatedAt
	for i, mem := range group {
		ids[i] = mem.ID
		importanceSum += mem.Importance
		if mem.CreatedAt.Before(rangeStart) {
			rangeStart = mem.CreatedAt
		}
		if mem.CreatedAt.After(rangeEnd) {
			rangeEnd = mem.CreatedAt
		}
	}

	summary := &store.MemorySummary{
		UserID:          userID,
		SummaryText:     summaryText,
		SourceMemoryIDs: ids,
		Embedding:       pgvector.NewVector(vec),
		Importance:      importanceSum / len(group),
		MemoryCount:     len(group),
		DateRangeStart:  rangeStart,
		DateRangeEnd:    rangeEnd,
	}
	if err := m.store.CreateSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("insert summary: %w", err)
	}
	return summary, nil
}

// Forget deletes memories older than the consolidation window whose current
// importance fell below the threshold. Memories referenced by a summary are
// skipped so summaries never dangle.
func (m *Manager) Forget(ctx context.Context, userID uuid.UUID) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -m.cfg.ConsolidationDays)
	maxImportance := int(m.cfg.ForgetThreshold * 100)

	// refresh importance from live access stats so recent reads save a
	// memory from deletion
	old, err := m.store.ListMemoriesOlderThan(ctx, userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list old memories: %w", err)
	}
	if len(old) == 0 {
		return 0, nil
	}
	if err := m.refreshImportance(ctx, old); err != nil {
		return 0, err
	}

	ids, err := m.store.ListForgettable(ctx, userID, cutoff, maxImportance)
	if err != nil {
		return 0, fmt.Errorf("list forgettable: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := m.store.DeleteMemories(ctx, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("delete memories: %w", err)
	}
	metrics.MemoriesForgotten.Add(float64(n))
	m.logger.Info("forgot unimportant memories",
		zap.String("user_id", userID.String()),
		zap.Int64("count", n),
	)
	return n, nil
}

// refreshImportance recomputes and persists importance for the given
// memories using current access statistics.
func (m *Manager) refreshImportance(ctx context.Context, memories []store.Memory) error {
	ids := make([]int64, len(memories))
	for i, mem := range memories {
		ids[i] = mem.ID
	}
	counts, err := m.store.AccessCounts(ctx, ids)
	if err != nil {
		return fmt.Errorf("access counts: %w", err)
	}
	vecs, err := m.store.ChunkEmbeddings(ctx, ids)
	if err != nil {
		return fmt.Errorf("chunk embeddings: %w", err)
	}
	now := time.Now()
	for _, mem := range memories {
		score := ImportanceScore(Signals{
			CreatedAt:         mem.CreatedAt,
			AccessCount:       counts[mem.ID],
			LastAccessed:      mem.LastAccessed,
			ContentType:       mem.ContentType,
			EmbeddingVariance: EmbeddingVariance(vecs[mem.ID]),
			Now:               now,
		})
		if score == mem.Importance {
			continue
		}
		if err := m.store.UpdateImportance(ctx, mem.ID, score); err != nil {
			return err
		}
	}
	return nil
}
