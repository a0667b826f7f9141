package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/apperrors"
	"github.com/mnemolab/mnemo/internal/store"
)

// 10 MiB, matching the ingest coordinator's cap.
const maxUploadBytes = 10 << 20

// FileIngester accepts binary uploads routed through content-type extractors.
type FileIngester interface {
	IngestFile(ctx context.Context, userID uuid.UUID, contentType, filename string, payload []byte, meta store.JSONB) (*store.Memory, error)
}

// Blob stores the raw upload and serves presigned download URLs. Nil when no
// bucket is configured; uploads still ingest, they just aren't retained.
type Blob interface {
	Upload(ctx context.Context, userID uuid.UUID, contentType, filename string, body io.Reader, mimeType string) (string, error)
	PresignGet(ctx context.Context, key string) (string, error)
}

type UploadHandler struct {
	ingester FileIngester
	blob     Blob
	logger   *zap.Logger
}

func NewUploadHandler(ing FileIngester, blob Blob, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{ingester: ing, blob: blob, logger: logger}
}

func (h *UploadHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("/v1/memories/upload", wrap(h.handleUpload))
}

func (h *UploadHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	userID, _ := UserID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body"})
		return
	}
	contentType := r.FormValue("content_type")
	if contentType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content_type is required"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file is required"})
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		writeError(w, h.logger, apperrors.E(apperrors.Validation, "upload read", err))
		return
	}

	meta := store.JSONB{"filename": header.Filename}
	var blobKey string
	if h.blob != nil {
		key, err := h.blob.Upload(r.Context(), userID, contentType, header.Filename,
			bytes.NewReader(payload), header.Header.Get("Content-Type"))
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		blobKey = key
		meta["blob_key"] = blobKey
	}

	m, err := h.ingester.IngestFile(r.Context(), userID, contentType, header.Filename, payload, meta)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := map[string]interface{}{"memory": viewOf(m)}
	if h.blob != nil && blobKey != "" {
		if url, err := h.blob.PresignGet(r.Context(), blobKey); err != nil {
			h.logger.Warn("presign failed", zap.String("key", blobKey), zap.Error(err))
		} else {
			resp["download_url"] = url
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}
