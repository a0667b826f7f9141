package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/store"
)

// recognized search_opts keys; everything else passes through unchanged
var recognizedSearchOpts = map[string]func(interface{}) bool{
	"rerank_enabled": func(v interface{}) bool {
		_, ok := v.(bool)
		return ok
	},
	"temporal_weight": func(v interface{}) bool {
		f, ok := v.(float64)
		return ok && f >= 0 && f <= 1
	},
	"prefer_content_types": func(v interface{}) bool {
		items, ok := v.([]interface{})
		if !ok {
			return false
		}
		for _, item := range items {
			if _, ok := item.(string); !ok {
				return false
			}
		}
		return true
	},
}

// PreferenceStore persists per-user preference rows.
type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID uuid.UUID) (*store.UserPreference, error)
	UpsertPreferences(ctx context.Context, p *store.UserPreference) error
}

type PreferencesHandler struct {
	store  PreferenceStore
	logger *zap.Logger
}

func NewPreferencesHandler(ps PreferenceStore, logger *zap.Logger) *PreferencesHandler {
	return &PreferencesHandler{store: ps, logger: logger}
}

func (h *PreferencesHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("/v1/preferences", wrap(h.handle))
}

type preferencesPayload struct {
	BoostTopics    []string    `json:"boost_topics"`
	SuppressTopics []string    `json:"suppress_topics"`
	SearchOpts     store.JSONB `json:"search_opts,omitempty"`
}

func (h *PreferencesHandler) handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.put(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (h *PreferencesHandler) get(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	p, err := h.store.GetPreferences(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, preferencesPayload{
				BoostTopics:    []string{},
				SuppressTopics: []string{},
			})
			return
		}
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, preferencesPayload{
		BoostTopics:    p.Boosted,
		SuppressTopics: p.Suppressed,
		SearchOpts:     p.SearchOpts,
	})
}

func (h *PreferencesHandler) put(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	var req preferencesPayload
	if !decodeBody(w, r, &req) {
		return
	}

	for key, valid := range recognizedSearchOpts {
		if v, ok := req.SearchOpts[key]; ok && !valid(v) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid search_opts." + key})
			return
		}
	}

	p := &store.UserPreference{
		UserID:     userID,
		Boosted:    normalizeTopics(req.BoostTopics),
		Suppressed: normalizeTopics(req.SuppressTopics),
		SearchOpts: req.SearchOpts,
	}
	if err := h.store.UpsertPreferences(r.Context(), p); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, preferencesPayload{
		BoostTopics:    p.Boosted,
		SuppressTopics: p.Suppressed,
		SearchOpts:     p.SearchOpts,
	})
}

// normalizeTopics lowercases, trims, and deduplicates preserving order.
func normalizeTopics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
