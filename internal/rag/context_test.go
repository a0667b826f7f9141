package rag

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemolab/mnemo/internal/llm"
)

func src(id int64, content string) Source {
	return Source{MemoryID: id, Content: content, ContentType: "text", CreatedAt: time.Now()}
}

func TestBuildNumbersSourcesInInputOrder(t *testing.T) {
	b := NewContextBuilder(4096)
	out := b.Build([]Source{src(1, "first chunk"), src(2, "second chunk")})

	assert.Contains(t, out, "[Source 1]")
	assert.Contains(t, out, "[Source 2]")
	assert.Contains(t, out, "first chunk")
	assert.True(t, strings.Index(out, "first chunk") < strings.Index(out, "second chunk"))
	assert.Contains(t, out, "\n\n---\n\n")
}

func TestBuildSkipsDuplicateChunks(t *testing.T) {
	b := NewContextBuilder(4096)
	out := b.Build([]Source{src(1, "same text"), src(2, "  same text  "), src(3, "other")})

	assert.Equal(t, 1, strings.Count(out, "same text"))
	assert.Contains(t, out, "other")
	// numbering still follows positions, so the survivor keeps index 3
	assert.Contains(t, out, "[Source 3]")
}

func TestBuildHonorsTokenBudget(t *testing.T) {
	// window 100 => budget 50 tokens => ~200 chars
	b := NewContextBuilder(100)
	big := strings.Repeat("x", 150)
	out := b.Build([]Source{src(1, big), src(2, big + "y")})

	assert.Contains(t, out, "[Source 1]")
	assert.NotContains(t, out, "[Source 2]")
}

func TestBuildFormatsTypeHints(t *testing.T) {
	b := NewContextBuilder(4096)
	out := b.Build([]Source{
		{MemoryID: 1, Content: "scanned receipt", ContentType: "image", Meta: map[string]interface{}{"has_text": true}},
		{MemoryID: 2, Content: "thesis chapter", ContentType: "pdf", Meta: map[string]interface{}{"page_count": 12}},
		{MemoryID: 3, Content: "standup recording", ContentType: "audio", Meta: map[string]interface{}{"duration_seconds": 61.5}},
	})

	assert.Contains(t, out, "Image with extracted text")
	assert.Contains(t, out, "Pages: 12")
	assert.Contains(t, out, "Duration: 61.5s")
}

func TestBuildPromptShape(t *testing.T) {
	b := NewContextBuilder(4096)
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "u1"},
		{Role: llm.RoleSystem, Content: "ignore me"},
		{Role: llm.RoleAssistant, Content: "a1"},
	}
	msgs := b.BuildPrompt("the question", "the context", history, "")

	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "u1", msgs[1].Content)
	assert.Equal(t, "a1", msgs[2].Content)
	assert.Contains(t, msgs[3].Content, "the context")
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "the question"}, msgs[4])
}

func TestBuildPromptTrimsHistoryToSix(t *testing.T) {
	b := NewContextBuilder(4096)
	var history []llm.Message
	for i := 0; i < 10; i++ {
		history = append(history, llm.Message{Role: llm.RoleUser, Content: strings.Repeat("m", i+1)})
	}
	msgs := b.BuildPrompt("q", "ctx", history, "")

	// system + 6 history + context + query
	require.Len(t, msgs, 9)
	assert.Equal(t, strings.Repeat("m", 5), msgs[1].Content) // oldest kept turn
}

func TestBuildPromptWithoutContext(t *testing.T) {
	b := NewContextBuilder(4096)
	msgs := b.BuildPrompt("q", "", nil, "")

	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[1].Content, "No relevant information found")
}

func TestExtractCitations(t *testing.T) {
	results := []Source{
		src(10, strings.Repeat("a", 300)),
		src(20, "short"),
		src(30, "unused"),
	}
	answer := "See [Source 2] and [Source 1]; also [Source 2] again and bogus [Source 9]."

	cites := ExtractCitations(answer, results)
	require.Len(t, cites, 2)
	assert.Equal(t, 1, cites[0].Index)
	assert.Equal(t, int64(10), cites[0].MemoryID)
	assert.Len(t, cites[0].Snippet, 200)
	assert.Equal(t, 2, cites[1].Index)
	assert.Equal(t, int64(20), cites[1].MemoryID)
}

func TestExtractCitationsNeverExceedsOffered(t *testing.T) {
	cites := ExtractCitations("[Source 1] [Source 2]", []Source{src(1, "only one")})
	require.Len(t, cites, 1)
	assert.Equal(t, 1, cites[0].Index)
}

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
	assert.Equal(t, 1, CountTokens("abc"))
	assert.Equal(t, 1, CountTokens("abcd"))
	assert.Equal(t, 2, CountTokens("abcde"))
}
