package rag

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mnemolab/mnemo/internal/llm"
)

const defaultSystemPrompt = `You are a helpful AI assistant with access to the user's personal memory.
Answer questions based on the provided context. If the context doesn't contain relevant information, say so clearly.
Always cite your sources using [Source N] notation.`

const noContextMessage = "No relevant information found in user's memory. Provide a helpful response based on your general knowledge."

const maxSnippetLen = 200

// ContextBuilder assembles prompt context from retrieval results under a
// token budget.
type ContextBuilder struct {
	maxTokens int
}

// NewContextBuilder takes the model's context window; the context budget is
// half of it.
func NewContextBuilder(contextWindow int) *ContextBuilder {
	if contextWindow <= 0 {
		contextWindow = 4096
	}
	return &ContextBuilder{maxTokens: contextWindow}
}

// CountTokens approximates tokens as ceil(chars/4), the standard estimate
// when no tokenizer for the target model is wired.
func CountTokens(text string) int {
	return (len(text) + 3) / 4
}

// Build formats results into [Source i] blocks, skipping duplicate chunk
// texts, until the budget is exhausted. Source numbering follows the input
// order (1-based) so citations map back to the results slice.
func (b *ContextBuilder) Build(results []Source) string {
	budget := b.maxTokens / 2
	seen := make(map[string]struct{}, len(results))
	var parts []string
	used := 0

	for i, res := range results {
		text := strings.TrimSpace(res.Content)
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}

		block := formatBlock(res, i+1)
		tokens := CountTokens(block)
		if used+tokens > budget {
			break
		}
		parts = append(parts, block)
		used += tokens
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func formatBlock(res Source, index int) string {
	lines := []string{
		fmt.Sprintf("[Source %d]", index),
		"Type: " + orUnknown(res.ContentType),
	}
	switch res.ContentType {
	case "image":
		if hasText, _ := res.Meta["has_text"].(bool); hasText {
			lines = append(lines, "Content: Image with extracted text")
		}
	case "pdf":
		pages := "unknown"
		if p, ok := res.Meta["page_count"]; ok {
			pages = fmt.Sprintf("%v", p)
		}
		lines = append(lines, "Pages: "+pages)
	case "audio":
		if d, ok := res.Meta["duration_seconds"].(float64); ok {
			lines = append(lines, fmt.Sprintf("Duration: %.1fs", d))
		}
	}
	lines = append(lines, "\nContent:\n"+strings.TrimSpace(res.Content))
	return strings.Join(lines, "\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// BuildPrompt assembles the chat messages: system prompt, up to six recent
// history turns (user/assistant only), the context presentation (or the
// no-context fallback), then the user query.
func (b *ContextBuilder) BuildPrompt(query, context string, history []llm.Message, systemPrompt string) []llm.Message {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	messages := []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}

	if n := len(history); n > 6 {
		history = history[n-6:]
	}
	for _, m := range history {
		if (m.Role == llm.RoleUser || m.Role == llm.RoleAssistant) && m.Content != "" {
			messages = append(messages, m)
		}
	}

	if context != "" {
		messages = append(messages, llm.Message{
			Role: llm.RoleSystem,
			Content: fmt.Sprintf(
				"Here is relevant information from the user's memory:\n\n%s\n\nPlease answer the following question based on this information.",
				context),
		})
	} else {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: noContextMessage})
	}

	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})
	return messages
}

var citationPattern = regexp.MustCompile(`\[Source (\d+)\]`)

// ExtractCitations scans the answer for [Source N] markers and maps each
// unique index back to the results that were offered in the prompt, in
// ascending order. Out-of-range references are dropped.
func ExtractCitations(answer string, results []Source) []Citation {
	indices := map[int]struct{}{}
	for _, m := range citationPattern.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		idx := n - 1
		if idx >= 0 && idx < len(results) {
			indices[idx] = struct{}{}
		}
	}

	ordered := make([]int, 0, len(indices))
	for idx := range indices {
		ordered = append(ordered, idx)
	}
	sort.Ints(ordered)

	out := make([]Citation, 0, len(ordered))
	for _, idx := range ordered {
		res := results[idx]
		snippet := res.Content
		if len(snippet) > maxSnippetLen {
			snippet = snippet[:maxSnippetLen]
		}
		out = append(out, Citation{
			Index:       idx + 1,
			MemoryID:    res.MemoryID,
			ContentType: res.ContentType,
			Snippet:     snippet,
			Similarity:  res.Similarity,
			URL:         res.URL,
		})
	}
	return out
}
