package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_embedding_requests_total",
			Help: "Total embedding encode calls by model and outcome",
		},
		[]string{"model", "status"},
	)

	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_embedding_cache_hits_total",
			Help: "Embedding cache hits by tier (lru, redis)",
		},
		[]string{"tier"},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mnemo_embedding_cache_misses_total",
			Help: "Embedding cache misses",
		},
	)

	EmbeddingBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mnemo_embedding_batch_size",
			Help:    "Number of texts per upstream encode call",
			Buckets: []float64{1, 4, 8, 16, 32, 64},
		},
	)

	// Retrieval metrics
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mnemo_search_duration_seconds",
			Help:    "Search latency by kind (dense, hybrid, hierarchical)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	SearchResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mnemo_search_results",
			Help:    "Result counts per search by kind",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"kind"},
	)

	// RAG pipeline metrics
	RAGRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_rag_requests_total",
			Help: "RAG question requests by mode (sync, stream) and status",
		},
		[]string{"mode", "status"},
	)

	RAGDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mnemo_rag_duration_seconds",
			Help:    "End-to-end RAG latency",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	WebSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_web_searches_total",
			Help: "Web search attempts by provider and status",
		},
		[]string{"provider", "status"},
	)

	// Ingestion metrics
	MemoriesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_memories_ingested_total",
			Help: "Memories ingested by content type",
		},
		[]string{"content_type"},
	)

	ChunksStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mnemo_chunks_stored_total",
			Help: "Chunks persisted across all ingests",
		},
	)

	// Maintenance metrics
	ConsolidationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_consolidation_runs_total",
			Help: "Consolidation sweeps by status",
		},
		[]string{"status"},
	)

	SummariesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mnemo_summaries_created_total",
			Help: "Memory summaries created by consolidation",
		},
	)

	MemoriesForgotten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mnemo_memories_forgotten_total",
			Help: "Memories deleted by the forgetting sweep",
		},
	)

	MaintenanceSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mnemo_maintenance_sweeps_total",
			Help: "Per-user maintenance passes completed",
		},
	)

	// LM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_llm_requests_total",
			Help: "Chat completion calls by purpose and status",
		},
		[]string{"purpose", "status"},
	)

	LLMStreamChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mnemo_llm_stream_chunks_total",
			Help: "Streamed completion chunks delivered",
		},
	)
)

// RecordEmbedding tracks one upstream encode outcome.
func RecordEmbedding(model, status string) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
}
