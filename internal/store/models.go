package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// JSONB represents a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// Content types
const (
	ContentText  = "text"
	ContentImage = "image"
	ContentPDF   = "pdf"
	ContentAudio = "audio"
	ContentWeb   = "web"
)

// Memory tiers
const (
	TierEpisodic   = "episodic"
	TierSemantic   = "semantic"
	TierProcedural = "procedural"
)

// Access kinds
const (
	AccessRetrieval = "retrieval"
	AccessDirect    = "direct"
)

type User struct {
	ID             uuid.UUID `db:"id"`
	Email          string    `db:"email"`
	CredentialHash string    `db:"credential_hash"`
	Name           string    `db:"name"`
	CreatedAt      time.Time `db:"created_at"`
}

// Memory is one ingested item. Chunks carry the embedded text; the memory
// row carries classification and importance.
type Memory struct {
	ID           int64      `db:"id"`
	UserID       uuid.UUID  `db:"user_id"`
	Title        string     `db:"title"`
	Content      string     `db:"content"`
	ContentType  string     `db:"content_type"`
	MemoryType   string     `db:"memory_type"`
	SourceURL    *string    `db:"source_url"`
	FilePath     *string    `db:"file_path"`
	Importance   int        `db:"importance"` // 0..100
	Meta         JSONB      `db:"meta"`
	CreatedAt    time.Time  `db:"created_at"`
	LastAccessed *time.Time `db:"last_accessed"`
}

type Chunk struct {
	ID         int64           `db:"id"`
	MemoryID   int64           `db:"memory_id"`
	ChunkIndex int             `db:"chunk_index"`
	ChunkText  string          `db:"chunk_text"`
	Embedding  pgvector.Vector `db:"embedding"`
	CreatedAt  time.Time       `db:"created_at"`
}

type MemoryAccess struct {
	ID        int64     `db:"id"`
	MemoryID  int64     `db:"memory_id"`
	UserID    uuid.UUID `db:"user_id"`
	Kind      string    `db:"kind"`
	CreatedAt time.Time `db:"created_at"`
}

// MemorySummary is a consolidated semantic digest over source memories. The
// date range spans the source group: min and max created_at.
type MemorySummary struct {
	ID              int64           `db:"id"`
	UserID          uuid.UUID       `db:"user_id"`
	SummaryText     string          `db:"summary_text"`
	SourceMemoryIDs pq.Int64Array   `db:"source_memory_ids"`
	Embedding       pgvector.Vector `db:"embedding"`
	Importance      int             `db:"importance"`
	MemoryCount     int             `db:"memory_count"`
	DateRangeStart  time.Time       `db:"date_range_start"`
	DateRangeEnd    time.Time       `db:"date_range_end"`
	CreatedAt       time.Time       `db:"created_at"`
}

type Conversation struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type Message struct {
	ID             int64     `db:"id"`
	ConversationID uuid.UUID `db:"conversation_id"`
	Role           string    `db:"role"` // user | assistant | system
	Content        string    `db:"content"`
	Sources        JSONB     `db:"sources"`
	CreatedAt      time.Time `db:"created_at"`
}

// UserPreference holds re-ranking terms and search options for one user.
type UserPreference struct {
	UserID     uuid.UUID      `db:"user_id"`
	Boosted    pq.StringArray `db:"boosted"`
	Suppressed pq.StringArray `db:"suppressed"`
	SearchOpts JSONB          `db:"search_opts"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

// WebSource caches scraped pages (with their content embedding) so repeat
// queries skip the network and the encoder.
type WebSource struct {
	ID        int64           `db:"id"`
	URL       string          `db:"url"`
	Title     string          `db:"title"`
	Content   string          `db:"content"`
	Embedding pgvector.Vector `db:"embedding"`
	MemoryID  *int64          `db:"memory_id"`
	ScrapedAt time.Time       `db:"scraped_at"`
}

// ChunkResult is one retrieval hit joined with its memory row.
type ChunkResult struct {
	MemoryID    int64     `db:"memory_id"`
	ChunkID     int64     `db:"chunk_id"`
	ChunkText   string    `db:"chunk_text"`
	Title       string    `db:"title"`
	ContentType string    `db:"content_type"`
	MemoryType  string    `db:"memory_type"`
	Importance  int       `db:"importance"`
	Meta        JSONB     `db:"meta"`
	Similarity  float64   `db:"similarity"`
	CreatedAt   time.Time `db:"created_at"`
}
