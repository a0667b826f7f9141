// Package ingest turns raw content into stored memories: recursive chunking,
// batch embedding, tier classification, and importance scoring. Binary
// content types delegate text extraction to pluggable extractors.
package ingest

import "strings"

// defaultSeparators are tried coarsest-first; the empty separator falls back
// to a hard character split.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter chunks text recursively under a token budget with overlap.
type Splitter struct {
	chunkTokens   int
	overlapTokens int
	separators    []string
}

func NewSplitter(chunkTokens, overlapTokens int) *Splitter {
	if chunkTokens <= 0 {
		chunkTokens = 512
	}
	if overlapTokens < 0 || overlapTokens >= chunkTokens {
		overlapTokens = 50
	}
	return &Splitter{
		chunkTokens:   chunkTokens,
		overlapTokens: overlapTokens,
		separators:    defaultSeparators,
	}
}

// tokenLen approximates tokens as ceil(chars/4).
func tokenLen(s string) int {
	return (len(s) + 3) / 4
}

// Split returns chunks whose estimated token length stays within the budget,
// overlapping consecutive chunks by roughly the overlap budget. Whitespace-only
// chunks are dropped.
func (s *Splitter) Split(text string) []string {
	pieces := s.split(text, s.separators)
	chunks := s.merge(pieces)

	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, strings.TrimSpace(c))
		}
	}
	return out
}

// split recursively breaks the text with the first separator that applies;
// oversized fragments recurse with the finer separators.
func (s *Splitter) split(text string, separators []string) []string {
	if tokenLen(text) <= s.chunkTokens {
		return []string{text}
	}
	if len(separators) == 0 {
		return s.hardSplit(text)
	}

	sep := separators[0]
	rest := separators[1:]
	if sep == "" {
		return s.hardSplit(text)
	}

	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return s.split(text, rest)
	}

	var out []string
	for i, part := range parts {
		// keep the separator attached so merged chunks read naturally
		if i < len(parts)-1 {
			part += sep
		}
		if tokenLen(part) > s.chunkTokens {
			out = append(out, s.split(part, rest)...)
		} else {
			out = append(out, part)
		}
	}
	return out
}

func (s *Splitter) hardSplit(text string) []string {
	budget := s.chunkTokens * 4
	var out []string
	for len(text) > budget {
		out = append(out, text[:budget])
		text = text[budget:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// merge packs pieces into chunks up to the budget, carrying trailing pieces
// forward as overlap into the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	var (
		chunks  []string
		current []string
		tokens  int
	)

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, ""))

		// seed the next chunk with the overlap tail
		var tail []string
		tailTokens := 0
		for i := len(current) - 1; i >= 0; i-- {
			pt := tokenLen(current[i])
			if tailTokens+pt > s.overlapTokens {
				break
			}
			tail = append([]string{current[i]}, tail...)
			tailTokens += pt
		}
		current = tail
		tokens = tailTokens
	}

	for _, piece := range pieces {
		pt := tokenLen(piece)
		if tokens+pt > s.chunkTokens && len(current) > 0 {
			flush()
		}
		current = append(current, piece)
		tokens += pt
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, ""))
	}
	return chunks
}
