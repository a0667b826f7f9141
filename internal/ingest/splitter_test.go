package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	s := NewSplitter(512, 50)
	chunks := s.Split("The capital of France is Paris")
	require.Len(t, chunks, 1)
	assert.Equal(t, "The capital of France is Paris", chunks[0])
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	// budget 25 tokens = ~100 chars; two ~80-char paragraphs must not share
	// a chunk
	para1 := strings.Repeat("alpha ", 13)
	para2 := strings.Repeat("omega ", 13)
	s := NewSplitter(25, 5)

	chunks := s.Split(strings.TrimSpace(para1) + "\n\n" + strings.TrimSpace(para2))
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Contains(t, chunks[0], "alpha")
	assert.NotContains(t, chunks[0], "omega")
}

func TestSplitRespectsTokenBudget(t *testing.T) {
	s := NewSplitter(50, 10)
	text := strings.Repeat("some reasonably sized sentence here. ", 60)

	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		// a chunk may exceed the budget only by the carried overlap
		assert.LessOrEqual(t, tokenLen(c), 50+10)
	}
}

func TestSplitOverlapCarriesContext(t *testing.T) {
	s := NewSplitter(25, 10)
	var sentences []string
	for i := 0; i < 12; i++ {
		sentences = append(sentences, "sentence number "+strings.Repeat("x", 20))
	}
	chunks := s.Split(strings.Join(sentences, ". "))
	require.Greater(t, len(chunks), 1)

	// consecutive chunks share a suffix/prefix
	tail := chunks[0][len(chunks[0])-10:]
	assert.Contains(t, chunks[1], strings.TrimSpace(tail))
}

func TestSplitHardSplitsUnbreakableRuns(t *testing.T) {
	s := NewSplitter(10, 0)
	text := strings.Repeat("a", 200) // no separators at all

	chunks := s.Split(text)
	require.Equal(t, 5, len(chunks))
	for _, c := range chunks {
		assert.LessOrEqual(t, tokenLen(c), 10)
	}
}

func TestSplitDropsWhitespaceChunks(t *testing.T) {
	s := NewSplitter(512, 50)
	assert.Empty(t, s.Split("   \n\n  \n "))
}

func TestSplitDefaults(t *testing.T) {
	s := NewSplitter(0, -1)
	assert.Equal(t, 512, s.chunkTokens)
	assert.Equal(t, 50, s.overlapTokens)
}
