package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewClientFromDB(db, zap.NewNop()), mock
}

func TestCreateMemoryCommitsMemoryAndChunks(t *testing.T) {
	c, mock := newMockClient(t)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO memories").
		WithArgs(userID, "note", "hello world", ContentText, TierEpisodic,
			nil, nil, 50, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), time.Now()))
	mock.ExpectExec("INSERT INTO chunks").
		WithArgs(int64(7), 0, "hello", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO chunks").
		WithArgs(int64(7), 1, "world", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	m := &Memory{UserID: userID, Title: "note", Content: "hello world",
		ContentType: ContentText, MemoryType: TierEpisodic, Importance: 50}
	chunks := []Chunk{
		{ChunkText: "hello", Embedding: pgvector.NewVector([]float32{1, 0})},
		{ChunkText: "world", Embedding: pgvector.NewVector([]float32{0, 1})},
	}
	require.NoError(t, c.CreateMemory(context.Background(), m, chunks))
	assert.Equal(t, int64(7), m.ID)
	assert.Equal(t, 1, chunks[1].ChunkIndex, "indexes assigned in slice order")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMemoryRollsBackOnChunkFailure(t *testing.T) {
	c, mock := newMockClient(t)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO memories").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(9), time.Now()))
	mock.ExpectExec("INSERT INTO chunks").
		WillReturnError(errors.New("dimension mismatch"))
	mock.ExpectRollback()

	m := &Memory{UserID: userID, ContentType: ContentText, MemoryType: TierEpisodic}
	err := c.CreateMemory(context.Background(), m,
		[]Chunk{{ChunkText: "x", Embedding: pgvector.NewVector([]float32{1})}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "failed ingest must leave no partial rows")
}

func TestDeleteMemoryNotFound(t *testing.T) {
	c, mock := newMockClient(t)
	userID := uuid.New()

	mock.ExpectExec("DELETE FROM memories").
		WithArgs(int64(42), userID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := c.DeleteMemory(context.Background(), userID, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendExchangeIsAtomic(t *testing.T) {
	c, mock := newMockClient(t)
	convID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(convID, "question").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(convID, "answer", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("UPDATE conversations").
		WithArgs(convID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := c.AppendExchange(context.Background(), convID, "question", "answer",
		JSONB{"sources": []interface{}{}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogAccessWritesRowsAndBumpsTimestamp(t *testing.T) {
	c, mock := newMockClient(t)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO memory_accesses").
		WithArgs(int64(1), userID, AccessRetrieval).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO memory_accesses").
		WithArgs(int64(2), userID, AccessRetrieval).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("UPDATE memories SET last_accessed").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := c.LogAccess(context.Background(), userID, []int64{1, 2}, AccessRetrieval)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSummaryPersistsDateRange(t *testing.T) {
	c, mock := newMockClient(t)
	userID := uuid.New()
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO memory_summaries").
		WithArgs(userID, "digest", sqlmock.AnyArg(), sqlmock.AnyArg(), 40, 3, start, end).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), time.Now()))

	s := &MemorySummary{
		UserID: userID, SummaryText: "digest",
		SourceMemoryIDs: []int64{1, 2, 3},
		Embedding:       pgvector.NewVector([]float32{0.1, 0.2}),
		Importance:      40, MemoryCount: 3,
		DateRangeStart: start, DateRangeEnd: end,
	}
	require.NoError(t, c.CreateSummary(context.Background(), s))
	assert.Equal(t, int64(11), s.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkEmbeddingsGroupsByMemory(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectQuery("SELECT memory_id, embedding FROM chunks").
		WillReturnRows(sqlmock.NewRows([]string{"memory_id", "embedding"}).
			AddRow(int64(1), "[1,0]").
			AddRow(int64(1), "[0,1]").
			AddRow(int64(2), "[0.5,0.5]"))

	out, err := c.ChunkEmbeddings(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, out[1], 2)
	require.Len(t, out[2], 1)
	assert.Equal(t, []float32{0, 1}, out[1][1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPopularQueriesCountsUserMessages(t *testing.T) {
	c, mock := newMockClient(t)
	userID := uuid.New()

	mock.ExpectQuery("SELECT msg.content, COUNT").
		WithArgs(userID, 10).
		WillReturnRows(sqlmock.NewRows([]string{"content", "count"}).
			AddRow("what did i read last week", 4).
			AddRow("project deadlines", 2))

	out, err := c.PopularQueries(context.Background(), userID, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "what did i read last week", out[0].Query)
	assert.Equal(t, 4, out[0].Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
