package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/store"
)

const timelinePreviewChars = 200

// StatsStore is the aggregate surface behind the dashboard endpoints.
type StatsStore interface {
	GetUserStats(ctx context.Context, userID uuid.UUID, activityDays int) (*store.UserStats, error)
	PopularQueries(ctx context.Context, userID uuid.UUID, limit int) ([]store.QueryCount, error)
	GetMemories(ctx context.Context, userID uuid.UUID, skip, limit int) ([]store.Memory, int, error)
}

type StatsHandler struct {
	store  StatsStore
	logger *zap.Logger
}

func NewStatsHandler(ss StatsStore, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{store: ss, logger: logger}
}

func (h *StatsHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("/v1/stats/dashboard", wrap(h.handleDashboard))
	mux.HandleFunc("/v1/memories/timeline", wrap(h.handleTimeline))
	mux.HandleFunc("/v1/stats/popular-searches", wrap(h.handlePopular))
}

func (h *StatsHandler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	userID, _ := UserID(r.Context())
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))

	stats, err := h.store.GetUserStats(r.Context(), userID, days)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type timelineEntry struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title,omitempty"`
	ContentPreview string    `json:"content_preview"`
	ContentType    string    `json:"content_type"`
	MemoryType     string    `json:"memory_type"`
	CreatedAt      time.Time `json:"created_at"`
}

type timelineDay struct {
	Date     string          `json:"date"`
	Memories []timelineEntry `json:"memories"`
}

// handleTimeline groups the user's memories by creation date, newest day
// first, with a short content preview per entry.
func (h *StatsHandler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	userID, _ := UserID(r.Context())
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	rows, total, err := h.store.GetMemories(r.Context(), userID, skip, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var days []timelineDay
	byDate := map[string]int{}
	for _, m := range rows {
		date := m.CreatedAt.Format("2006-01-02")
		idx, ok := byDate[date]
		if !ok {
			idx = len(days)
			byDate[date] = idx
			days = append(days, timelineDay{Date: date})
		}
		preview := m.Content
		if len(preview) > timelinePreviewChars {
			preview = preview[:timelinePreviewChars]
		}
		days[idx].Memories = append(days[idx].Memories, timelineEntry{
			ID:             m.ID,
			Title:          m.Title,
			ContentPreview: preview,
			ContentType:    m.ContentType,
			MemoryType:     m.MemoryType,
			CreatedAt:      m.CreatedAt,
		})
	}
	if days == nil {
		days = []timelineDay{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"timeline": days,
		"total":    total,
	})
}

func (h *StatsHandler) handlePopular(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	userID, _ := UserID(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	queries, err := h.store.PopularQueries(r.Context(), userID, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if queries == nil {
		queries = []store.QueryCount{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"popular_searches": queries})
}
