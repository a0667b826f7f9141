package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/apperrors"
	"github.com/mnemolab/mnemo/internal/memory"
	"github.com/mnemolab/mnemo/internal/metrics"
	"github.com/mnemolab/mnemo/internal/store"
)

const maxContentBytes = 10 << 20

// Extraction is what a binary-content extractor hands back: canonical text,
// optional pre-computed embeddings (one per chunk, padded to the canonical
// dimension by the coordinator), and extractor metadata.
type Extraction struct {
	Text       string
	Embeddings [][]float32
	Meta       store.JSONB
}

// Extractor converts one binary payload into canonical text. OCR, PDF and
// ASR readers plug in here.
type Extractor interface {
	Extract(ctx context.Context, payload []byte, filename string) (*Extraction, error)
}

// StoreWriter is the persistence surface ingestion needs.
type StoreWriter interface {
	CreateMemory(ctx context.Context, m *store.Memory, chunks []store.Chunk) error
}

// BatchEmbedder embeds chunk batches.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error)
}

type Coordinator struct {
	store      StoreWriter
	embedder   BatchEmbedder
	splitter   *Splitter
	extractors map[string]Extractor
	dim        int
	logger     *zap.Logger
}

func NewCoordinator(sw StoreWriter, embedder BatchEmbedder, splitter *Splitter, dim int, logger *zap.Logger) *Coordinator {
	if dim <= 0 {
		dim = 512
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:      sw,
		embedder:   embedder,
		splitter:   splitter,
		extractors: make(map[string]Extractor),
		dim:        dim,
		logger:     logger,
	}
}

// RegisterExtractor wires the collaborator for one binary content type.
func (c *Coordinator) RegisterExtractor(contentType string, e Extractor) {
	c.extractors[contentType] = e
}

// TextInput is one text or web ingestion request.
type TextInput struct {
	Title     string
	Content   string
	SourceURL string
	Meta      store.JSONB
}

// IngestText chunks, embeds and persists one text memory.
func (c *Coordinator) IngestText(ctx context.Context, userID uuid.UUID, in TextInput) (*store.Memory, error) {
	return c.ingest(ctx, userID, store.ContentText, in, nil)
}

// IngestWeb stores scraped web content; ranked lower by the importance type
// weight but otherwise identical to text.
func (c *Coordinator) IngestWeb(ctx context.Context, userID uuid.UUID, in TextInput) (*store.Memory, error) {
	return c.ingest(ctx, userID, store.ContentWeb, in, nil)
}

// IngestFile routes image, pdf and audio payloads through the registered
// extractor, then proceeds as for text, preferring extractor-supplied
// embeddings when present.
func (c *Coordinator) IngestFile(ctx context.Context, userID uuid.UUID, contentType, filename string, payload []byte, meta store.JSONB) (*store.Memory, error) {
	const op = "ingest.IngestFile"
	if len(payload) == 0 {
		return nil, apperrors.E(apperrors.Validation, op, fmt.Errorf("empty payload"))
	}
	if len(payload) > maxContentBytes {
		return nil, apperrors.E(apperrors.Validation, op, fmt.Errorf("payload exceeds %d bytes", maxContentBytes))
	}
	extractor, ok := c.extractors[contentType]
	if !ok {
		return nil, apperrors.E(apperrors.Validation, op, fmt.Errorf("unsupported content type %q", contentType))
	}

	ext, err := extractor.Extract(ctx, payload, filename)
	if err != nil {
		return nil, apperrors.E(apperrors.DependencyUnavailable, op, fmt.Errorf("extract %s: %w", contentType, err))
	}

	in := TextInput{Title: filename, Content: ext.Text, Meta: mergeMeta(meta, ext.Meta)}
	return c.ingest(ctx, userID, contentType, in, ext.Embeddings)
}

func (c *Coordinator) ingest(ctx context.Context, userID uuid.UUID, contentType string, in TextInput, precomputed [][]float32) (*store.Memory, error) {
	const op = "ingest.ingest"
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperrors.E(apperrors.Validation, op, fmt.Errorf("empty content"))
	}
	if len(content) > maxContentBytes {
		return nil, apperrors.E(apperrors.Validation, op, fmt.Errorf("content exceeds %d bytes", maxContentBytes))
	}

	texts := c.splitter.Split(content)
	if len(texts) == 0 {
		return nil, apperrors.E(apperrors.Validation, op, fmt.Errorf("no chunkable content"))
	}

	vecs, err := c.embeddings(ctx, texts, precomputed)
	if err != nil {
		return nil, apperrors.E(apperrors.DependencyUnavailable, op, err)
	}

	now := time.Now()
	tier := memory.Classify(content, contentType, in.Meta, now)
	importance := memory.ImportanceScore(memory.Signals{
		CreatedAt:         now,
		ContentType:       contentType,
		EmbeddingVariance: memory.EmbeddingVariance(vecs),
		Now:               now,
	})

	m := &store.Memory{
		UserID:      userID,
		Title:       in.Title,
		Content:     content,
		ContentType: contentType,
		MemoryType:  tier,
		Importance:  importance,
		Meta:        in.Meta,
	}
	if in.SourceURL != "" {
		m.SourceURL = &in.SourceURL
	}

	chunks := make([]store.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = store.Chunk{
			ChunkIndex: i,
			ChunkText:  text,
			Embedding:  pgvector.NewVector(vecs[i]),
		}
	}

	if err := c.store.CreateMemory(ctx, m, chunks); err != nil {
		return nil, apperrors.E(apperrors.Internal, op, fmt.Errorf("persist memory: %w", err))
	}

	metrics.MemoriesIngested.WithLabelValues(contentType).Inc()
	metrics.ChunksStored.Add(float64(len(chunks)))
	c.logger.Info("ingested memory",
		zap.Int64("memory_id", m.ID),
		zap.String("content_type", contentType),
		zap.String("memory_type", tier),
		zap.Int("chunks", len(chunks)),
		zap.Int("importance", importance),
	)
	return m, nil
}

// embeddings uses extractor-supplied vectors when they cover every chunk
// (padding or truncating each to the canonical dimension), and embeds
// otherwise.
func (c *Coordinator) embeddings(ctx context.Context, texts []string, precomputed [][]float32) ([][]float32, error) {
	if len(precomputed) == len(texts) && len(texts) > 0 {
		out := make([][]float32, len(precomputed))
		for i, v := range precomputed {
			out[i] = fitDim(v, c.dim)
		}
		return out, nil
	}

	vecs, err := c.embedder.EmbedBatch(ctx, texts, "")
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: %d texts, %d vectors", len(texts), len(vecs))
	}
	return vecs, nil
}

// fitDim pads with zeros or truncates to the canonical dimension.
func fitDim(v []float32, dim int) []float32 {
	if len(v) == dim {
		return v
	}
	out := make([]float32, dim)
	copy(out, v)
	return out
}

func mergeMeta(base, extra store.JSONB) store.JSONB {
	if base == nil && extra == nil {
		return nil
	}
	out := store.JSONB{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
