package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/ingest"
	"github.com/mnemolab/mnemo/internal/search"
	"github.com/mnemolab/mnemo/internal/store"
)

// MemoryStore is the persistence surface the memory endpoints need.
type MemoryStore interface {
	GetMemories(ctx context.Context, userID uuid.UUID, skip, limit int) ([]store.Memory, int, error)
	GetMemory(ctx context.Context, userID uuid.UUID, id int64) (*store.Memory, error)
	DeleteMemory(ctx context.Context, userID uuid.UUID, id int64) error
	LogAccess(ctx context.Context, userID uuid.UUID, memoryIDs []int64, kind string) error
}

// Ingester accepts new text memories.
type Ingester interface {
	IngestText(ctx context.Context, userID uuid.UUID, in ingest.TextInput) (*store.Memory, error)
}

// QueryEmbedder embeds search queries.
type QueryEmbedder interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// Searcher runs hybrid retrieval.
type Searcher interface {
	Search(ctx context.Context, userID uuid.UUID, query string, vec []float32, opts search.Options) ([]search.Result, error)
}

type MemoriesHandler struct {
	store    MemoryStore
	ingester Ingester
	embedder QueryEmbedder
	searcher Searcher
	logger   *zap.Logger
}

func NewMemoriesHandler(ms MemoryStore, ing Ingester, emb QueryEmbedder, s Searcher, logger *zap.Logger) *MemoriesHandler {
	return &MemoriesHandler{store: ms, ingester: ing, embedder: emb, searcher: s, logger: logger}
}

// RegisterRoutes mounts the endpoints; wrap with RequireAuth.
func (h *MemoriesHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("/v1/memories", wrap(h.handleCollection))
	mux.HandleFunc("/v1/memories/", wrap(h.handleItem))
	mux.HandleFunc("/v1/search", wrap(h.handleSearch))
}

type memoryView struct {
	ID          int64       `json:"id"`
	Title       string      `json:"title,omitempty"`
	Content     string      `json:"content"`
	ContentType string      `json:"content_type"`
	MemoryType  string      `json:"memory_type"`
	Importance  int         `json:"importance"`
	Meta        store.JSONB `json:"meta,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

func viewOf(m *store.Memory) memoryView {
	return memoryView{
		ID:          m.ID,
		Title:       m.Title,
		Content:     m.Content,
		ContentType: m.ContentType,
		MemoryType:  m.MemoryType,
		Importance:  m.Importance,
		Meta:        m.Meta,
		CreatedAt:   m.CreatedAt,
	}
}

func (h *MemoriesHandler) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

type createMemoryRequest struct {
	Title   string      `json:"title,omitempty"`
	Content string      `json:"content"`
	Meta    store.JSONB `json:"meta,omitempty"`
}

func (h *MemoriesHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	var req createMemoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	m, err := h.ingester.IngestText(r.Context(), userID, ingest.TextInput{
		Title:   req.Title,
		Content: req.Content,
		Meta:    req.Meta,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(m))
}

func (h *MemoriesHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	rows, total, err := h.store.GetMemories(r.Context(), userID, skip, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	views := make([]memoryView, len(rows))
	for i := range rows {
		views[i] = viewOf(&rows[i])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memories": views,
		"total":    total,
	})
}

func (h *MemoriesHandler) handleItem(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	idStr := strings.TrimPrefix(r.URL.Path, "/v1/memories/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid memory id"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		m, err := h.store.GetMemory(r.Context(), userID, id)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		// direct reads count as accesses for importance scoring
		if err := h.store.LogAccess(r.Context(), userID, []int64{id}, store.AccessDirect); err != nil {
			h.logger.Warn("access logging failed", zap.Int64("memory_id", id), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, viewOf(m))
	case http.MethodDelete:
		if err := h.store.DeleteMemory(r.Context(), userID, id); err != nil {
			writeError(w, h.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

type searchRequest struct {
	Query        string   `json:"query"`
	TopK         int      `json:"top_k,omitempty"`
	ContentTypes []string `json:"content_types,omitempty"`
	Fusion       string   `json:"fusion,omitempty"`
}

type searchResultView struct {
	MemoryID    int64       `json:"memory_id"`
	Content     string      `json:"content"`
	Title       string      `json:"title,omitempty"`
	ContentType string      `json:"content_type"`
	MemoryType  string      `json:"memory_type"`
	Meta        store.JSONB `json:"meta,omitempty"`
	Similarity  float64     `json:"similarity"`
}

func (h *MemoriesHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	userID, _ := UserID(r.Context())
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	vec, err := h.embedder.Embed(r.Context(), req.Query, "")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	results, err := h.searcher.Search(r.Context(), userID, req.Query, vec, search.Options{
		TopK:         req.TopK,
		ContentTypes: req.ContentTypes,
		Fusion:       req.Fusion,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	views := make([]searchResultView, len(results))
	ids := make([]int64, 0, len(results))
	for i, res := range results {
		views[i] = searchResultView{
			MemoryID:    res.MemoryID,
			Content:     res.Content,
			Title:       res.Title,
			ContentType: res.ContentType,
			MemoryType:  res.MemoryType,
			Meta:        res.Meta,
			Similarity:  res.Similarity,
		}
		ids = append(ids, res.MemoryID)
	}
	if len(ids) > 0 {
		if err := h.store.LogAccess(r.Context(), userID, ids, store.AccessRetrieval); err != nil {
			h.logger.Warn("access logging failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": views})
}
