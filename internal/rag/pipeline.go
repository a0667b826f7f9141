// Package rag assembles answers from personal memory: query analysis and
// decomposition, fan-out retrieval, optional web augmentation, preference
// re-ranking, context building, and answer synthesis with citations.
package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mnemolab/mnemo/internal/llm"
	"github.com/mnemolab/mnemo/internal/memory"
	"github.com/mnemolab/mnemo/internal/metrics"
	"github.com/mnemolab/mnemo/internal/rerank"
	"github.com/mnemolab/mnemo/internal/store"
	"github.com/mnemolab/mnemo/internal/websearch"
)

const (
	// bounded fan-out for sub-query retrieval
	subQueryConcurrency = 4
	// candidate cap after union + dedup
	topCandidates = 10
	accessLogTop  = 5
	maxWebScrapes = 3
	maxTitleLen   = 80
	// scraped pages embed only a leading slice; full content is cached
	webEmbedChars = 2000
)

// Request is one question against a user's memory.
type Request struct {
	UserID         uuid.UUID
	Query          string
	ConversationID uuid.UUID // zero starts a new conversation
	EnableWeb      bool
	TopK           int
	SystemPrompt   string
}

// Response is the non-streaming answer.
type Response struct {
	Answer         string
	ConversationID uuid.UUID
	Sources        []Source
	Citations      []Citation
	Analysis       Analysis
	SubQueries     []string
	UsedWeb        bool
	// Degraded is set when the language model was unreachable and Answer
	// holds the fallback message. Degraded exchanges are not persisted.
	Degraded bool
}

// Event is one streaming frame: content chunks first, then exactly one
// terminal frame with Done set carrying sources and citations.
type Event struct {
	Content        string
	Done           bool
	ConversationID uuid.UUID
	Sources        []Source
	Citations      []Citation
	Err            error
}

// Retriever is the hierarchical memory surface.
type Retriever interface {
	RetrieveHierarchy(ctx context.Context, userID uuid.UUID, vec []float32, topK int, includeSummaries bool) ([]memory.Item, error)
	LogRetrievalAccess(ctx context.Context, userID uuid.UUID, memoryIDs []int64)
}

// Embedder produces query vectors.
type Embedder interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// LM is the answer synthesis surface.
type LM interface {
	Complete(ctx context.Context, purpose string, messages []llm.Message, opts ...llm.Option) (string, error)
	Stream(ctx context.Context, purpose string, messages []llm.Message, opts ...llm.Option) (<-chan llm.Chunk, error)
}

// ConversationStore persists conversations and serves preferences and the
// web-source cache.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, userID, id uuid.UUID) (*store.Conversation, error)
	RecentMessages(ctx context.Context, conversationID uuid.UUID, n int) ([]store.Message, error)
	AppendExchange(ctx context.Context, conversationID uuid.UUID, userMsg, assistantMsg string, sources store.JSONB) error
	GetPreferences(ctx context.Context, userID uuid.UUID) (*store.UserPreference, error)
	GetWebSource(ctx context.Context, url string) (*store.WebSource, error)
	UpsertWebSource(ctx context.Context, w *store.WebSource) error
}

// Scraper extracts readable text from one URL.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*websearch.Page, error)
}

type Pipeline struct {
	store      ConversationStore
	retriever  Retriever
	embedder   Embedder
	lm         LM
	decomposer *Decomposer
	builder    *ContextBuilder
	searcher   websearch.Searcher // nil disables web augmentation
	scraper    Scraper
	topK       int
	logger     *zap.Logger
}

func NewPipeline(
	cs ConversationStore,
	retriever Retriever,
	embedder Embedder,
	lm LM,
	builder *ContextBuilder,
	searcher websearch.Searcher,
	scraper Scraper,
	topK int,
	logger *zap.Logger,
) *Pipeline {
	if topK <= 0 {
		topK = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:      cs,
		retriever:  retriever,
		embedder:   embedder,
		lm:         lm,
		decomposer: NewDecomposer(lm, logger),
		builder:    builder,
		searcher:   searcher,
		scraper:    scraper,
		topK:       topK,
		logger:     logger,
	}
}

// searchOptions are the recognized preference search_opts keys; unrecognized
// keys pass through storage untouched and are ignored here.
type searchOptions struct {
	RerankEnabled  bool
	TemporalWeight float64
	PreferredTypes []string
}

func parseSearchOptions(p *store.UserPreference) searchOptions {
	opts := searchOptions{RerankEnabled: true}
	if p == nil || p.SearchOpts == nil {
		return opts
	}
	if v, ok := p.SearchOpts["rerank_enabled"].(bool); ok {
		opts.RerankEnabled = v
	}
	if v, ok := p.SearchOpts["temporal_weight"].(float64); ok && v >= 0 && v <= 1 {
		opts.TemporalWeight = v
	}
	if raw, ok := p.SearchOpts["prefer_content_types"].([]interface{}); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				opts.PreferredTypes = append(opts.PreferredTypes, s)
			}
		}
	}
	return opts
}

// prepared carries everything retrieval produced, ready for synthesis.
type prepared struct {
	conversationID uuid.UUID
	history        []llm.Message
	analysis       Analysis
	subQueries     []string
	sources        []Source
	contextText    string
	prompt         []llm.Message
	usedWeb        bool
}

// Answer runs the full pipeline and blocks for the complete answer. The
// exchange is persisted and accesses logged only on successful generation;
// an unreachable model yields the fallback message unpersisted.
func (p *Pipeline) Answer(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	prep, err := p.prepare(ctx, req)
	if err != nil {
		metrics.RAGRequests.WithLabelValues("sync", "error").Inc()
		return nil, err
	}

	resp := &Response{
		ConversationID: prep.conversationID,
		Sources:        prep.sources,
		Analysis:       prep.analysis,
		SubQueries:     prep.subQueries,
		UsedWeb:        prep.usedWeb,
	}

	answer, err := p.lm.Complete(ctx, "answer", prep.prompt)
	if err != nil {
		if ctx.Err() != nil {
			metrics.RAGRequests.WithLabelValues("sync", "cancelled").Inc()
			return nil, ctx.Err()
		}
		p.logger.Warn("answer generation failed, returning fallback",
			zap.String("user_id", req.UserID.String()), zap.Error(err))
		metrics.RAGRequests.WithLabelValues("sync", "degraded").Inc()
		resp.Answer = llm.FallbackMessage(req.Query)
		resp.Degraded = true
		return resp, nil
	}

	resp.Answer = answer
	resp.Citations = ExtractCitations(answer, prep.sources)
	p.finish(ctx, req, prep, answer)

	metrics.RAGRequests.WithLabelValues("sync", "ok").Inc()
	metrics.RAGDuration.WithLabelValues("sync").Observe(time.Since(start).Seconds())
	return resp, nil
}

// Ask streams the answer. Content events arrive in generation order and the
// terminal event is always last. A cancelled or failed stream persists
// nothing.
func (p *Pipeline) Ask(ctx context.Context, req Request) (<-chan Event, error) {
	start := time.Now()
	prep, err := p.prepare(ctx, req)
	if err != nil {
		metrics.RAGRequests.WithLabelValues("stream", "error").Inc()
		return nil, err
	}

	events := make(chan Event, 8)

	chunks, err := p.lm.Stream(ctx, "answer", prep.prompt)
	if err != nil {
		// model unreachable before the first token: degrade to the
		// fallback message, unpersisted
		p.logger.Warn("stream start failed, returning fallback", zap.Error(err))
		metrics.RAGRequests.WithLabelValues("stream", "degraded").Inc()
		go func() {
			defer close(events)
			events <- Event{Content: llm.FallbackMessage(req.Query)}
			events <- Event{Done: true, ConversationID: prep.conversationID, Sources: prep.sources}
		}()
		return events, nil
	}

	go func() {
		defer close(events)
		var sb strings.Builder
		for chunk := range chunks {
			if chunk.Err != nil {
				status := "error"
				if errors.Is(chunk.Err, context.Canceled) {
					status = "cancelled"
				}
				metrics.RAGRequests.WithLabelValues("stream", status).Inc()
				events <- Event{Done: true, Err: chunk.Err, ConversationID: prep.conversationID}
				return
			}
			if chunk.Done {
				break
			}
			sb.WriteString(chunk.Content)
			events <- Event{Content: chunk.Content}
		}
		if ctx.Err() != nil {
			metrics.RAGRequests.WithLabelValues("stream", "cancelled").Inc()
			events <- Event{Done: true, Err: ctx.Err(), ConversationID: prep.conversationID}
			return
		}

		answer := sb.String()
		citations := ExtractCitations(answer, prep.sources)
		p.finish(ctx, req, prep, answer)

		metrics.RAGRequests.WithLabelValues("stream", "ok").Inc()
		metrics.RAGDuration.WithLabelValues("stream").Observe(time.Since(start).Seconds())
		events <- Event{
			Done:           true,
			ConversationID: prep.conversationID,
			Sources:        prep.sources,
			Citations:      citations,
		}
	}()
	return events, nil
}

// prepare runs everything before answer synthesis: conversation resolution,
// analysis, fan-out retrieval, web augmentation, re-ranking, and prompt
// assembly.
func (p *Pipeline) prepare(ctx context.Context, req Request) (*prepared, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = p.topK
	}

	conversationID, history, err := p.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	prefs, err := p.store.GetPreferences(ctx, req.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		p.logger.Warn("preference load failed", zap.Error(err))
		prefs = nil
	}
	opts := parseSearchOptions(prefs)

	analysis := Analyze(query)
	subQueries := p.decomposer.Decompose(ctx, query)

	sources, err := p.retrieve(ctx, req.UserID, subQueries, topK, analysis, opts)
	if err != nil {
		return nil, err
	}

	usedWeb := false
	if req.EnableWeb && p.searcher != nil && ShouldSearchWeb(query, len(sources), time.Now()) {
		web := p.augmentFromWeb(ctx, query)
		if len(web) > 0 {
			sources = append(sources, web...)
			usedWeb = true
		}
	}

	sources = dedupeSources(sources)
	sortByEffectiveScore(sources)
	if len(sources) > topCandidates {
		sources = sources[:topCandidates]
	}

	if opts.RerankEnabled && prefs != nil {
		p.applyPreferences(sources, prefs, opts)
	}

	contextText := p.builder.Build(sources)
	prompt := p.builder.BuildPrompt(query, contextText, history, tailorSystemPrompt(req.SystemPrompt, analysis))

	return &prepared{
		conversationID: conversationID,
		history:        history,
		analysis:       analysis,
		subQueries:     subQueries,
		sources:        sources,
		contextText:    contextText,
		prompt:         prompt,
		usedWeb:        usedWeb,
	}, nil
}

func (p *Pipeline) resolveConversation(ctx context.Context, req Request) (uuid.UUID, []llm.Message, error) {
	if req.ConversationID == uuid.Nil {
		conv := &store.Conversation{
			ID:     uuid.New(),
			UserID: req.UserID,
			Title:  truncate(req.Query, maxTitleLen),
		}
		if err := p.store.CreateConversation(ctx, conv); err != nil {
			return uuid.Nil, nil, fmt.Errorf("create conversation: %w", err)
		}
		return conv.ID, nil, nil
	}

	if _, err := p.store.GetConversation(ctx, req.UserID, req.ConversationID); err != nil {
		return uuid.Nil, nil, fmt.Errorf("load conversation: %w", err)
	}
	rows, err := p.store.RecentMessages(ctx, req.ConversationID, 6)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("load history: %w", err)
	}
	history := make([]llm.Message, 0, len(rows))
	for _, m := range rows {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}
	return req.ConversationID, history, nil
}

// retrieve fans out over sub-queries with bounded concurrency. One failing
// sub-query degrades the candidate set but does not abort the request.
func (p *Pipeline) retrieve(ctx context.Context, userID uuid.UUID, subQueries []string, topK int, analysis Analysis, opts searchOptions) ([]Source, error) {
	var (
		mu      sync.Mutex
		sources []Source
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(subQueryConcurrency)

	for _, sub := range subQueries {
		sub := sub
		g.Go(func() error {
			vec, err := p.embedder.Embed(gctx, sub, "")
			if err != nil {
				p.logger.Warn("sub-query embedding failed",
					zap.String("sub_query", truncate(sub, 60)), zap.Error(err))
				return nil
			}
			items, err := p.retriever.RetrieveHierarchy(gctx, userID, vec, topK, true)
			if err != nil {
				p.logger.Warn("sub-query retrieval failed",
					zap.String("sub_query", truncate(sub, 60)), zap.Error(err))
				return nil
			}
			batch := make([]Source, 0, len(items))
			for _, item := range items {
				batch = append(batch, Source{
					MemoryID:    item.MemoryID,
					SummaryID:   item.SummaryID,
					Content:     item.Content,
					Title:       item.Title,
					ContentType: item.ContentType,
					MemoryType:  item.MemoryType,
					Similarity:  item.Similarity,
					CreatedAt:   item.CreatedAt,
					Meta:        item.Meta,
				})
			}
			if analysis.HasTemporal {
				ApplyTemporalBoost(batch, opts.TemporalWeight, time.Now())
			}
			mu.Lock()
			sources = append(sources, batch...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return sources, nil
}

// augmentFromWeb searches, scrapes the top hits (cache first), and returns
// them as web-backed sources. Failures degrade silently to local-only.
func (p *Pipeline) augmentFromWeb(ctx context.Context, query string) []Source {
	hits, err := p.searcher.Search(ctx, query, 0)
	if err != nil {
		p.logger.Warn("web search failed, continuing with local results", zap.Error(err))
		return nil
	}

	var out []Source
	for _, hit := range hits {
		if len(out) == maxWebScrapes {
			break
		}
		if hit.URL == "" {
			continue
		}
		content, title := p.scrapedContent(ctx, hit)
		if content == "" {
			continue
		}
		out = append(out, Source{
			Content:     content,
			Title:       title,
			ContentType: store.ContentWeb,
			// web snippets rank below confident local hits by default
			Similarity: 0.5,
			CreatedAt:  time.Now(),
			FromWeb:    true,
			URL:        hit.URL,
		})
	}
	return out
}

// scrapedContent serves a page from the WebSource cache or scrapes and caches
// it. On scrape failure the search snippet is used when present.
func (p *Pipeline) scrapedContent(ctx context.Context, hit websearch.Result) (content, title string) {
	if cached, err := p.store.GetWebSource(ctx, hit.URL); err == nil {
		return cached.Content, cached.Title
	}

	if p.scraper == nil {
		return hit.Snippet, hit.Title
	}
	page, err := p.scraper.Scrape(ctx, hit.URL)
	if err != nil {
		p.logger.Warn("scrape failed, using snippet", zap.String("url", hit.URL), zap.Error(err))
		return hit.Snippet, hit.Title
	}

	// embed a prefix of the page so cached sources stay searchable; an
	// encoder failure skips caching but still serves the content
	vec, err := p.embedder.Embed(ctx, truncate(page.Content, webEmbedChars), "")
	if err != nil {
		p.logger.Warn("web content embedding failed, skipping cache",
			zap.String("url", page.URL), zap.Error(err))
		return page.Content, page.Title
	}

	if err := p.store.UpsertWebSource(ctx, &store.WebSource{
		URL:       page.URL,
		Title:     page.Title,
		Content:   page.Content,
		Embedding: pgvector.NewVector(vec),
	}); err != nil {
		p.logger.Warn("web source caching failed", zap.String("url", page.URL), zap.Error(err))
	}
	return page.Content, page.Title
}

// applyPreferences folds preference term factors (and preferred content
// types) into the effective scores and re-sorts.
func (p *Pipeline) applyPreferences(sources []Source, prefs *store.UserPreference, opts searchOptions) {
	if len(prefs.Boosted) == 0 && len(prefs.Suppressed) == 0 && len(opts.PreferredTypes) == 0 {
		return
	}
	for i := range sources {
		s := &sources[i]
		factor := rerank.Factor(prefs, s.Content, s.Title, s.ContentType, s.MemoryType)
		for _, ct := range opts.PreferredTypes {
			if strings.EqualFold(ct, s.ContentType) {
				factor *= 1.3
				break
			}
		}
		s.Similarity *= factor
		if s.BoostedScore > 0 {
			s.BoostedScore *= factor
		}
	}
	sortByEffectiveScore(sources)
}

// finish persists the exchange and logs accesses; both are post-answer
// bookkeeping and must not fail the request.
func (p *Pipeline) finish(ctx context.Context, req Request, prep *prepared, answer string) {
	meta := store.JSONB{
		"source_count": len(prep.sources),
		"used_web":     prep.usedWeb,
	}
	if err := p.store.AppendExchange(ctx, prep.conversationID, req.Query, answer, meta); err != nil {
		p.logger.Error("exchange persistence failed",
			zap.String("conversation_id", prep.conversationID.String()), zap.Error(err))
	}

	var ids []int64
	for _, s := range prep.sources {
		if s.MemoryID == 0 {
			continue
		}
		ids = append(ids, s.MemoryID)
		if len(ids) == accessLogTop {
			break
		}
	}
	p.retriever.LogRetrievalAccess(ctx, req.UserID, ids)
}

// dedupeSources keeps the best-scoring entry per memory (or per URL for web
// hits, per summary for summaries), preserving order otherwise.
func dedupeSources(sources []Source) []Source {
	type key struct {
		memoryID  int64
		summaryID int64
		url       string
	}
	best := make(map[key]int, len(sources))
	out := sources[:0]
	for _, s := range sources {
		k := key{memoryID: s.MemoryID, summaryID: s.SummaryID, url: s.URL}
		if idx, seen := best[k]; seen {
			if EffectiveScore(s) > EffectiveScore(out[idx]) {
				out[idx] = s
			}
			continue
		}
		best[k] = len(out)
		out = append(out, s)
	}
	return out
}

func sortByEffectiveScore(sources []Source) {
	sort.SliceStable(sources, func(a, b int) bool {
		return EffectiveScore(sources[a]) > EffectiveScore(sources[b])
	})
}

func tailorSystemPrompt(base string, analysis Analysis) string {
	prompt := base
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	var extras []string
	if analysis.RequiresMultiHop {
		extras = append(extras, "Break down your reasoning step by step.")
	}
	if analysis.IsComparison {
		extras = append(extras, "Contrast the items clearly.")
	}
	if analysis.HasTemporal {
		extras = append(extras, "Weight recent information more heavily.")
	}
	if len(extras) == 0 {
		return prompt
	}
	return prompt + "\n" + strings.Join(extras, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
