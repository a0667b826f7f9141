// mnemo is a per-user personal memory service: it ingests text, web pages,
// and binary uploads, stores chunked vector representations in Postgres with
// pgvector, and answers questions with retrieval-augmented generation.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/auth"
	"github.com/mnemolab/mnemo/internal/blobstore"
	"github.com/mnemolab/mnemo/internal/config"
	"github.com/mnemolab/mnemo/internal/embeddings"
	"github.com/mnemolab/mnemo/internal/health"
	"github.com/mnemolab/mnemo/internal/httpapi"
	"github.com/mnemolab/mnemo/internal/ingest"
	"github.com/mnemolab/mnemo/internal/llm"
	"github.com/mnemolab/mnemo/internal/maintenance"
	"github.com/mnemolab/mnemo/internal/memory"
	"github.com/mnemolab/mnemo/internal/rag"
	"github.com/mnemolab/mnemo/internal/rerank"
	"github.com/mnemolab/mnemo/internal/search"
	"github.com/mnemolab/mnemo/internal/store"
	"github.com/mnemolab/mnemo/internal/websearch"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("service exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewClient(store.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	var embedCache embeddings.Cache
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		embedCache = embeddings.NewRedisCache(redisClient)
	}

	embeddings.Initialize(embeddings.Config{
		BaseURL:      cfg.Embedding.BaseURL,
		DefaultModel: cfg.Embedding.Model,
		Dim:          cfg.Embedding.Dim,
		Timeout:      cfg.Embedding.Timeout,
		CacheTTL:     cfg.Embedding.CacheTTL,
		MaxLRU:       cfg.Embedding.MaxLRU,
	}, nil, embedCache, logger)
	embedder := embeddings.Get()

	lm := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
		StreamIdle:  cfg.LLM.StreamIdle,
	}, logger)

	manager := memory.NewManager(db, embedder, lm, memory.Config{
		EpisodicDays:      cfg.Memory.EpisodicDays,
		ConsolidationDays: cfg.Memory.ConsolidationDays,
		ForgetThreshold:   cfg.Memory.ForgetThreshold,
		ClusterThreshold:  cfg.Memory.ClusterThreshold,
	}, logger)

	hybrid := search.NewHybrid(db, cfg.RAG.HybridAlpha, cfg.RAG.MinSimilarity, logger)
	reranker := rerank.New(db, logger)

	var searcher websearch.Searcher
	var scraper rag.Scraper
	if cfg.Web.Enabled {
		searcher = websearch.New(cfg.Web, logger)
		scraper = websearch.NewScraper(cfg.Web.ScrapeTimeout(), logger)
	}

	pipeline := rag.NewPipeline(db, manager, embedder, lm,
		rag.NewContextBuilder(cfg.LLM.ContextWindow),
		searcher, scraper, cfg.RAG.TopK, logger)

	coordinator := ingest.NewCoordinator(db, embedder,
		ingest.NewSplitter(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
		cfg.Embedding.Dim, logger)

	authSvc, err := auth.NewService(db, cfg.Auth, logger)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	var blob httpapi.Blob
	if cfg.Blob.Bucket != "" {
		bs, err := blobstore.New(ctx, cfg.Blob, logger)
		if err != nil {
			return fmt.Errorf("init blob store: %w", err)
		}
		blob = bs
	}

	healthMgr := health.NewManager(logger)
	healthMgr.Register(health.CheckFunc{CheckName: "postgres", Fn: db.Ping})
	if redisClient != nil {
		healthMgr.Register(health.CheckFunc{
			CheckName: "redis",
			Fn: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}

	mux := http.NewServeMux()
	wrap := func(next http.HandlerFunc) http.HandlerFunc {
		return httpapi.RequireAuth(authSvc, next)
	}
	httpapi.NewAuthHandler(authSvc, logger).RegisterRoutes(mux)
	httpapi.NewMemoriesHandler(db, coordinator, embedder, rerankedSearch{hybrid, reranker}, logger).RegisterRoutes(mux, wrap)
	httpapi.NewAskHandler(pipeline, logger).RegisterRoutes(mux, wrap)
	httpapi.NewPreferencesHandler(db, logger).RegisterRoutes(mux, wrap)
	httpapi.NewUploadHandler(coordinator, blob, logger).RegisterRoutes(mux, wrap)
	httpapi.NewStatsHandler(db, logger).RegisterRoutes(mux, wrap)
	healthMgr.RegisterRoutes(mux)

	scheduler := maintenance.NewScheduler(db, manager, cfg.Memory.MaintenanceCron, logger)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start maintenance scheduler: %w", err)
	}
	defer scheduler.Stop()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: metricsMux,
		}
		go func() {
			logger.Info("metrics listening", zap.Int("port", cfg.Metrics.Port))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// rerankedSearch applies the per-user preference reranker on top of hybrid
// retrieval for the direct search endpoint.
type rerankedSearch struct {
	hybrid   *search.Hybrid
	reranker *rerank.Reranker
}

func (rs rerankedSearch) Search(ctx context.Context, userID uuid.UUID, query string, vec []float32, opts search.Options) ([]search.Result, error) {
	results, err := rs.hybrid.Search(ctx, userID, query, vec, opts)
	if err != nil {
		return nil, err
	}
	return rs.reranker.Rerank(ctx, userID, results), nil
}
