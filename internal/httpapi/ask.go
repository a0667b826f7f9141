package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/rag"
)

// Answerer runs the RAG pipeline.
type Answerer interface {
	Answer(ctx context.Context, req rag.Request) (*rag.Response, error)
	Ask(ctx context.Context, req rag.Request) (<-chan rag.Event, error)
}

type AskHandler struct {
	pipeline Answerer
	logger   *zap.Logger
}

func NewAskHandler(p Answerer, logger *zap.Logger) *AskHandler {
	return &AskHandler{pipeline: p, logger: logger}
}

func (h *AskHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("/v1/ask", wrap(h.handleAsk))
}

type askRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	EnableWeb      bool   `json:"enable_web,omitempty"`
	TopK           int    `json:"top_k,omitempty"`
	Stream         bool   `json:"stream,omitempty"`
}

type citationView struct {
	Index       int     `json:"index"`
	MemoryID    int64   `json:"memory_id,omitempty"`
	ContentType string  `json:"content_type,omitempty"`
	Snippet     string  `json:"snippet"`
	Similarity  float64 `json:"similarity"`
	URL         string  `json:"url,omitempty"`
}

func citationViews(cites []rag.Citation) []citationView {
	out := make([]citationView, len(cites))
	for i, c := range cites {
		out[i] = citationView{
			Index:       c.Index,
			MemoryID:    c.MemoryID,
			ContentType: c.ContentType,
			Snippet:     c.Snippet,
			Similarity:  c.Similarity,
			URL:         c.URL,
		}
	}
	return out
}

func (h *AskHandler) handleAsk(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	userID, _ := UserID(r.Context())
	var req askRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	pipelineReq := rag.Request{
		UserID:    userID,
		Query:     req.Query,
		EnableWeb: req.EnableWeb,
		TopK:      req.TopK,
	}
	if req.ConversationID != "" {
		convID, err := uuid.Parse(req.ConversationID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation_id"})
			return
		}
		pipelineReq.ConversationID = convID
	}

	if req.Stream {
		h.stream(w, r, pipelineReq)
		return
	}

	resp, err := h.pipeline.Answer(r.Context(), pipelineReq)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"answer":          resp.Answer,
		"conversation_id": resp.ConversationID.String(),
		"citations":       citationViews(resp.Citations),
		"sub_queries":     resp.SubQueries,
		"used_web":        resp.UsedWeb,
		"degraded":        resp.Degraded,
	})
}

// stream delivers SSE frames: {"content": ...} per chunk, then a terminal
// {"done": true, ...} event. Client disconnect cancels the pipeline through
// the request context.
func (h *AskHandler) stream(w http.ResponseWriter, r *http.Request, req rag.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	events, err := h.pipeline.Ask(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for ev := range events {
		var frame map[string]interface{}
		switch {
		case ev.Err != nil:
			frame = map[string]interface{}{"done": true, "error": "generation interrupted"}
		case ev.Done:
			frame = map[string]interface{}{
				"done":            true,
				"conversation_id": ev.ConversationID.String(),
				"citations":       citationViews(ev.Citations),
			}
		default:
			frame = map[string]interface{}{"content": ev.Content}
		}
		payload, err := json.Marshal(frame)
		if err != nil {
			h.logger.Error("event marshal failed", zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}
