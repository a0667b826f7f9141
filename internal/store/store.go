// Package store owns every Postgres read and write. All multi-row writes go
// through transactions here; callers never see *sqlx.Tx.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUserMismatch = errors.New("memory does not belong to user")
)

// Config holds database configuration
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Client manages the connection pool and all persistence operations.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewClient opens the pool and verifies connectivity.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database client initialized", zap.Int("max_open_conns", cfg.MaxOpenConns))
	return &Client{db: db, logger: logger}, nil
}

// NewClientFromDB wraps an existing handle; tests pass sqlmock here.
func NewClientFromDB(db *sql.DB, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{db: sqlx.NewDb(db, "postgres"), logger: logger}
}

func (c *Client) Close() error { return c.db.Close() }

func (c *Client) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

// withTx runs fn inside a transaction, rolling back on error or panic.
func (c *Client) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// WithUserLock serializes fn against other maintenance holders for the same
// user via a transaction-scoped advisory lock.
func (c *Client) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context) error) error {
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		h := fnv.New64a()
		_, _ = h.Write(userID[:])
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(h.Sum64())); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
		return fn(ctx)
	})
}

// ---- users ----

func (c *Client) CreateUser(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO users (id, email, credential_hash, name, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		u.ID, u.Email, u.CredentialHash, u.Name)
	return err
}

func (c *Client) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := c.db.GetContext(ctx, &u,
		`SELECT id, email, credential_hash, name, created_at FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &u, err
}

// ---- memories ----

// CreateMemory persists the memory row and all chunks atomically. Chunk
// indexes are written 0..n-1 in slice order.
func (c *Client) CreateMemory(ctx context.Context, m *Memory, chunks []Chunk) error {
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO memories
			   (user_id, title, content, content_type, memory_type, source_url, file_path, importance, meta, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
			 RETURNING id, created_at`,
			m.UserID, m.Title, m.Content, m.ContentType, m.MemoryType,
			m.SourceURL, m.FilePath, m.Importance, m.Meta,
		).Scan(&m.ID, &m.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
		for i := range chunks {
			chunks[i].MemoryID = m.ID
			chunks[i].ChunkIndex = i
			_, err := tx.ExecContext(ctx,
				`INSERT INTO chunks (memory_id, chunk_index, chunk_text, embedding, created_at)
				 VALUES ($1, $2, $3, $4, NOW())`,
				m.ID, i, chunks[i].ChunkText, chunks[i].Embedding)
			if err != nil {
				return fmt.Errorf("insert chunk %d: %w", i, err)
			}
		}
		return nil
	})
}

func (c *Client) GetMemory(ctx context.Context, userID uuid.UUID, id int64) (*Memory, error) {
	var m Memory
	err := c.db.GetContext(ctx, &m,
		`SELECT id, user_id, title, content, content_type, memory_type, source_url,
		        file_path, importance, meta, created_at, last_accessed
		 FROM memories WHERE id = $1 AND user_id = $2`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

// GetMemories pages the user's memories newest-first and returns the total.
func (c *Client) GetMemories(ctx context.Context, userID uuid.UUID, skip, limit int) ([]Memory, int, error) {
	if limit <= 0 {
		limit = 20
	}
	var total int
	if err := c.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM memories WHERE user_id = $1`, userID); err != nil {
		return nil, 0, err
	}
	var out []Memory
	err := c.db.SelectContext(ctx, &out,
		`SELECT id, user_id, title, content, content_type, memory_type, source_url,
		        file_path, importance, meta, created_at, last_accessed
		 FROM memories WHERE user_id = $1
		 ORDER BY created_at DESC OFFSET $2 LIMIT $3`, userID, skip, limit)
	return out, total, err
}

// DeleteMemory removes the memory; chunks and access rows go with it via
// ON DELETE CASCADE.
func (c *Client) DeleteMemory(ctx context.Context, userID uuid.UUID, id int64) error {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM memories WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Client) DeleteMemories(ctx context.Context, userID uuid.UUID, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM memories WHERE user_id = $1 AND id = ANY($2)`, userID, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (c *Client) UpdateImportance(ctx context.Context, id int64, importance int) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE memories SET importance = $2 WHERE id = $1`, id, importance)
	return err
}

// ---- retrieval ----

// SearchDense runs cosine kNN over the user's chunks. contentTypes narrows
// the candidate set when non-empty; since, when non-zero, restricts by
// memory creation time.
func (c *Client) SearchDense(ctx context.Context, userID uuid.UUID, vec []float32, limit int, contentTypes []string, since time.Time) ([]ChunkResult, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `SELECT m.id AS memory_id, c.id AS chunk_id, c.chunk_text, m.title,
	             m.content_type, m.memory_type, m.importance, m.meta,
	             1 - (c.embedding <=> $2) AS similarity, m.created_at
	      FROM chunks c
	      JOIN memories m ON m.id = c.memory_id
	      WHERE m.user_id = $1`
	args := []interface{}{userID, pgvector.NewVector(vec)}
	if len(contentTypes) > 0 {
		args = append(args, pq.Array(contentTypes))
		q += fmt.Sprintf(" AND m.content_type = ANY($%d)", len(args))
	}
	if !since.IsZero() {
		args = append(args, since)
		q += fmt.Sprintf(" AND m.created_at >= $%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY c.embedding <=> $2 LIMIT $%d", len(args))

	var out []ChunkResult
	err := c.db.SelectContext(ctx, &out, q, args...)
	return out, err
}

// SearchEpisodic restricts dense search to episodic memories created after
// since.
func (c *Client) SearchEpisodic(ctx context.Context, userID uuid.UUID, vec []float32, limit int, since time.Time) ([]ChunkResult, error) {
	var out []ChunkResult
	err := c.db.SelectContext(ctx, &out,
		`SELECT m.id AS memory_id, c.id AS chunk_id, c.chunk_text, m.title,
		        m.content_type, m.memory_type, m.importance, m.meta,
		        1 - (c.embedding <=> $2) AS similarity, m.created_at
		 FROM chunks c
		 JOIN memories m ON m.id = c.memory_id
		 WHERE m.user_id = $1 AND m.memory_type = 'episodic' AND m.created_at >= $3
		 ORDER BY c.embedding <=> $2 LIMIT $4`,
		userID, pgvector.NewVector(vec), since, limit)
	return out, err
}

// SummaryResult is one consolidated-summary retrieval hit.
type SummaryResult struct {
	SummaryID   int64     `db:"summary_id"`
	SummaryText string    `db:"summary_text"`
	MemoryCount int       `db:"memory_count"`
	Importance  int       `db:"importance"`
	Similarity  float64   `db:"similarity"`
	CreatedAt   time.Time `db:"created_at"`
}

func (c *Client) SearchSummaries(ctx context.Context, userID uuid.UUID, vec []float32, limit int) ([]SummaryResult, error) {
	var out []SummaryResult
	err := c.db.SelectContext(ctx, &out,
		`SELECT id AS summary_id, summary_text, memory_count, importance,
		        1 - (embedding <=> $2) AS similarity, created_at
		 FROM memory_summaries
		 WHERE user_id = $1
		 ORDER BY embedding <=> $2 LIMIT $3`,
		userID, pgvector.NewVector(vec), limit)
	return out, err
}

// LogAccess records one access row per memory and bumps last_accessed, all in
// one transaction.
func (c *Client) LogAccess(ctx context.Context, userID uuid.UUID, memoryIDs []int64, kind string) error {
	if len(memoryIDs) == 0 {
		return nil
	}
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, id := range memoryIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO memory_accesses (memory_id, user_id, kind, created_at)
				 VALUES ($1, $2, $3, NOW())`, id, userID, kind); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE memories SET last_accessed = NOW() WHERE user_id = $1 AND id = ANY($2)`,
			userID, pq.Array(memoryIDs))
		return err
	})
}

// AccessCounts returns per-memory access totals for importance scoring.
func (c *Client) AccessCounts(ctx context.Context, memoryIDs []int64) (map[int64]int, error) {
	out := make(map[int64]int, len(memoryIDs))
	if len(memoryIDs) == 0 {
		return out, nil
	}
	rows, err := c.db.QueryxContext(ctx,
		`SELECT memory_id, COUNT(*) FROM memory_accesses WHERE memory_id = ANY($1) GROUP BY memory_id`,
		pq.Array(memoryIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// ---- consolidation / forgetting ----

// ListConsolidatable returns up to limit episodic memories older than cutoff
// that no summary references yet, oldest first.
func (c *Client) ListConsolidatable(ctx context.Context, userID uuid.UUID, cutoff time.Time, limit int) ([]Memory, error) {
	var out []Memory
	err := c.db.SelectContext(ctx, &out,
		`SELECT m.id, m.user_id, m.title, m.content, m.content_type, m.memory_type,
		        m.source_url, m.file_path, m.importance, m.meta, m.created_at, m.last_accessed
		 FROM memories m
		 WHERE m.user_id = $1 AND m.memory_type = 'episodic' AND m.created_at < $2
		   AND NOT EXISTS (
		     SELECT 1 FROM memory_summaries s
		     WHERE s.user_id = $1 AND s.source_memory_ids @> ARRAY[m.id]
		   )
		 ORDER BY m.created_at ASC LIMIT $3`,
		userID, cutoff, limit)
	return out, err
}

// FirstChunkEmbeddings returns the chunk_index 0 embedding per memory.
func (c *Client) FirstChunkEmbeddings(ctx context.Context, memoryIDs []int64) (map[int64][]float32, error) {
	out := make(map[int64][]float32, len(memoryIDs))
	if len(memoryIDs) == 0 {
		return out, nil
	}
	rows, err := c.db.QueryxContext(ctx,
		`SELECT memory_id, embedding FROM chunks
		 WHERE memory_id = ANY($1) AND chunk_index = 0`, pq.Array(memoryIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var v pgvector.Vector
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		out[id] = v.Slice()
	}
	return out, rows.Err()
}

// ChunkEmbeddings returns every chunk embedding grouped by memory, for
// richness scoring in the importance refresh.
func (c *Client) ChunkEmbeddings(ctx context.Context, memoryIDs []int64) (map[int64][][]float32, error) {
	out := make(map[int64][][]float32, len(memoryIDs))
	if len(memoryIDs) == 0 {
		return out, nil
	}
	rows, err := c.db.QueryxContext(ctx,
		`SELECT memory_id, embedding FROM chunks
		 WHERE memory_id = ANY($1) ORDER BY memory_id, chunk_index`, pq.Array(memoryIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var v pgvector.Vector
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		out[id] = append(out[id], v.Slice())
	}
	return out, rows.Err()
}

func (c *Client) CreateSummary(ctx context.Context, s *MemorySummary) error {
	return c.db.QueryRowContext(ctx,
		`INSERT INTO memory_summaries
		   (user_id, summary_text, source_memory_ids, embedding, importance, memory_count,
		    date_range_start, date_range_end, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 RETURNING id, created_at`,
		s.UserID, s.SummaryText, s.SourceMemoryIDs, s.Embedding, s.Importance, s.MemoryCount,
		s.DateRangeStart, s.DateRangeEnd,
	).Scan(&s.ID, &s.CreatedAt)
}

// ListMemoriesOlderThan returns every memory of the user created before
// cutoff, for importance refresh ahead of the forgetting sweep.
func (c *Client) ListMemoriesOlderThan(ctx context.Context, userID uuid.UUID, cutoff time.Time) ([]Memory, error) {
	var out []Memory
	err := c.db.SelectContext(ctx, &out,
		`SELECT id, user_id, title, content, content_type, memory_type, source_url,
		        file_path, importance, meta, created_at, last_accessed
		 FROM memories WHERE user_id = $1 AND created_at < $2`,
		userID, cutoff)
	return out, err
}

// ListForgettable returns low-importance memories older than cutoff that no
// summary references. Summarized memories survive the sweep because the
// summary row points back at them.
func (c *Client) ListForgettable(ctx context.Context, userID uuid.UUID, cutoff time.Time, maxImportance int) ([]int64, error) {
	var out []int64
	err := c.db.SelectContext(ctx, &out,
		`SELECT m.id FROM memories m
		 WHERE m.user_id = $1 AND m.created_at < $2 AND m.importance < $3
		   AND NOT EXISTS (
		     SELECT 1 FROM memory_summaries s
		     WHERE s.user_id = $1 AND s.source_memory_ids @> ARRAY[m.id]
		   )`,
		userID, cutoff, maxImportance)
	return out, err
}

// ListActiveUsers returns ids of users with at least one memory, for the
// maintenance sweep.
func (c *Client) ListActiveUsers(ctx context.Context) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := c.db.SelectContext(ctx, &out,
		`SELECT DISTINCT user_id FROM memories`)
	return out, err
}

// ---- conversations ----

func (c *Client) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())`,
		conv.ID, conv.UserID, conv.Title)
	return err
}

func (c *Client) GetConversation(ctx context.Context, userID, id uuid.UUID) (*Conversation, error) {
	var conv Conversation
	err := c.db.GetContext(ctx, &conv,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM conversations WHERE id = $1 AND user_id = $2`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &conv, err
}

// RecentMessages returns the latest n messages in chronological order.
func (c *Client) RecentMessages(ctx context.Context, conversationID uuid.UUID, n int) ([]Message, error) {
	if n <= 0 {
		n = 6
	}
	var out []Message
	err := c.db.SelectContext(ctx, &out,
		`SELECT id, conversation_id, role, content, sources, created_at FROM (
		   SELECT id, conversation_id, role, content, sources, created_at
		   FROM messages WHERE conversation_id = $1
		   ORDER BY created_at DESC, id DESC LIMIT $2
		 ) latest ORDER BY created_at ASC, id ASC`,
		conversationID, n)
	return out, err
}

// AppendExchange persists the (user, assistant) pair atomically and touches
// the conversation. A cancelled request writes neither message.
func (c *Client) AppendExchange(ctx context.Context, conversationID uuid.UUID, userMsg, assistantMsg string, sources JSONB) error {
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, role, content, created_at)
			 VALUES ($1, 'user', $2, NOW())`, conversationID, userMsg); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, role, content, sources, created_at)
			 VALUES ($1, 'assistant', $2, $3, NOW())`, conversationID, assistantMsg, sources); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID)
		return err
	})
}

// ---- preferences ----

func (c *Client) GetPreferences(ctx context.Context, userID uuid.UUID) (*UserPreference, error) {
	var p UserPreference
	err := c.db.GetContext(ctx, &p,
		`SELECT user_id, boosted, suppressed, search_opts, updated_at
		 FROM user_preferences WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (c *Client) UpsertPreferences(ctx context.Context, p *UserPreference) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO user_preferences (user_id, boosted, suppressed, search_opts, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
		   boosted = EXCLUDED.boosted,
		   suppressed = EXCLUDED.suppressed,
		   search_opts = EXCLUDED.search_opts,
		   updated_at = NOW()`,
		p.UserID, p.Boosted, p.Suppressed, p.SearchOpts)
	return err
}

// ---- stats ----

// UserStats aggregates one user's dashboard counters.
type UserStats struct {
	TotalMemories        int            `json:"total_memories"`
	MemoriesByType       map[string]int `json:"memories_by_type"`
	TotalConversations   int            `json:"total_conversations"`
	TotalMessages        int            `json:"total_messages"`
	MemoriesAdded        int            `json:"memories_added"`
	ConversationsStarted int            `json:"conversations_started"`
	PeriodDays           int            `json:"period_days"`
	TotalEmbeddings      int            `json:"total_embeddings"`
	EstimatedSizeMB      float64        `json:"estimated_size_mb"`
}

// GetUserStats collects memory/conversation/message totals, a recent-activity
// window, and stored-embedding counts for the dashboard.
func (c *Client) GetUserStats(ctx context.Context, userID uuid.UUID, activityDays int) (*UserStats, error) {
	if activityDays <= 0 {
		activityDays = 30
	}
	stats := &UserStats{
		MemoriesByType: map[string]int{},
		PeriodDays:     activityDays,
	}

	if err := c.db.GetContext(ctx, &stats.TotalMemories,
		`SELECT COUNT(*) FROM memories WHERE user_id = $1`, userID); err != nil {
		return nil, err
	}
	rows, err := c.db.QueryxContext(ctx,
		`SELECT content_type, COUNT(*) FROM memories WHERE user_id = $1 GROUP BY content_type`, userID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var ct string
		var n int
		if err := rows.Scan(&ct, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.MemoriesByType[ct] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := c.db.GetContext(ctx, &stats.TotalConversations,
		`SELECT COUNT(*) FROM conversations WHERE user_id = $1`, userID); err != nil {
		return nil, err
	}
	if err := c.db.GetContext(ctx, &stats.TotalMessages,
		`SELECT COUNT(*) FROM messages msg
		 JOIN conversations conv ON conv.id = msg.conversation_id
		 WHERE conv.user_id = $1`, userID); err != nil {
		return nil, err
	}

	cutoff := time.Now().AddDate(0, 0, -activityDays)
	if err := c.db.GetContext(ctx, &stats.MemoriesAdded,
		`SELECT COUNT(*) FROM memories WHERE user_id = $1 AND created_at >= $2`,
		userID, cutoff); err != nil {
		return nil, err
	}
	if err := c.db.GetContext(ctx, &stats.ConversationsStarted,
		`SELECT COUNT(*) FROM conversations WHERE user_id = $1 AND created_at >= $2`,
		userID, cutoff); err != nil {
		return nil, err
	}

	if err := c.db.GetContext(ctx, &stats.TotalEmbeddings,
		`SELECT COUNT(*) FROM chunks ch
		 JOIN memories m ON m.id = ch.memory_id
		 WHERE m.user_id = $1`, userID); err != nil {
		return nil, err
	}
	// ~2 KB per stored vector
	stats.EstimatedSizeMB = math.Round(float64(stats.TotalEmbeddings)*0.002*100) / 100

	return stats, nil
}

// QueryCount is one repeated user query with its frequency.
type QueryCount struct {
	Query string `db:"content" json:"query"`
	Count int    `db:"count" json:"count"`
}

// PopularQueries returns the user's most frequent user-role messages.
func (c *Client) PopularQueries(ctx context.Context, userID uuid.UUID, limit int) ([]QueryCount, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []QueryCount
	err := c.db.SelectContext(ctx, &out,
		`SELECT msg.content, COUNT(*) AS count
		 FROM messages msg
		 JOIN conversations conv ON conv.id = msg.conversation_id
		 WHERE conv.user_id = $1 AND msg.role = 'user'
		 GROUP BY msg.content
		 ORDER BY count DESC, msg.content ASC
		 LIMIT $2`, userID, limit)
	return out, err
}

// ---- web sources ----

// UpsertWebSource caches a scraped page keyed by URL.
func (c *Client) UpsertWebSource(ctx context.Context, w *WebSource) error {
	return c.db.QueryRowContext(ctx,
		`INSERT INTO web_sources (url, title, content, embedding, memory_id, scraped_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (url) DO UPDATE SET
		   title = EXCLUDED.title, content = EXCLUDED.content,
		   embedding = EXCLUDED.embedding,
		   memory_id = EXCLUDED.memory_id, scraped_at = NOW()
		 RETURNING id, scraped_at`,
		w.URL, w.Title, w.Content, w.Embedding, w.MemoryID,
	).Scan(&w.ID, &w.ScrapedAt)
}

func (c *Client) GetWebSource(ctx context.Context, url string) (*WebSource, error) {
	var w WebSource
	err := c.db.GetContext(ctx, &w,
		`SELECT id, url, title, content, embedding, memory_id, scraped_at
		 FROM web_sources WHERE url = $1`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &w, err
}
