// Package httpapi is the JSON transport over the memory service: auth,
// memory CRUD, hybrid search, preferences, and the /ask RAG endpoint with
// optional SSE streaming.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/apperrors"
	"github.com/mnemolab/mnemo/internal/store"
)

type ctxKey int

const userIDKey ctxKey = 0

// UserID returns the authenticated user id placed by the auth middleware.
func UserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

func withUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps error kinds to status codes. Internal details never reach
// the response body.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	if errors.Is(err, store.ErrNotFound) {
		status = http.StatusNotFound
		message = "not found"
	} else {
		switch apperrors.KindOf(err) {
		case apperrors.NotFound:
			status = http.StatusNotFound
			message = "not found"
		case apperrors.Unauthorized:
			status = http.StatusUnauthorized
			message = "unauthorized"
		case apperrors.Validation:
			status = http.StatusBadRequest
			message = err.Error()
		case apperrors.DependencyUnavailable:
			status = http.StatusServiceUnavailable
			message = "upstream dependency unavailable"
		case apperrors.Transient:
			status = http.StatusServiceUnavailable
			message = "temporarily unavailable, retry"
		}
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return false
	}
	return true
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return false
	}
	return true
}
