// Package lexical scores ephemeral candidate sets with BM25 Okapi. The
// corpus is rebuilt per query from the dense candidates, so there is no
// persistent index to maintain.
package lexical

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

const (
	defaultK1 = 1.5
	defaultB  = 0.75
)

// Hit is one scored document position.
type Hit struct {
	Index int
	Score float64
}

// BM25 holds term statistics for one fitted corpus.
type BM25 struct {
	k1        float64
	b         float64
	docs      [][]string
	docLens   []int
	avgDocLen float64
	// df counts how many documents contain each term
	df map[string]int
}

func NewBM25() *BM25 {
	return &BM25{k1: defaultK1, b: defaultB, df: make(map[string]int)}
}

// Fit tokenizes the documents and computes term statistics. Calling Fit again
// replaces the previous corpus.
func (r *BM25) Fit(documents []string) {
	r.docs = make([][]string, len(documents))
	r.docLens = make([]int, len(documents))
	r.df = make(map[string]int)

	total := 0
	for i, doc := range documents {
		tokens := Tokenize(doc)
		r.docs[i] = tokens
		r.docLens[i] = len(tokens)
		total += len(tokens)

		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			r.df[tok]++
		}
	}
	if len(documents) > 0 {
		r.avgDocLen = float64(total) / float64(len(documents))
	}
}

// Search scores the query against every fitted document and returns up to
// topK positive hits, best first.
func (r *BM25) Search(query string, topK int) []Hit {
	if len(r.docs) == 0 || topK <= 0 {
		return nil
	}
	qTokens := Tokenize(query)
	if len(qTokens) == 0 {
		return nil
	}

	n := float64(len(r.docs))
	var hits []Hit
	for i, doc := range r.docs {
		if len(doc) == 0 {
			continue
		}
		tf := make(map[string]int, len(doc))
		for _, tok := range doc {
			tf[tok]++
		}
		score := 0.0
		for _, q := range qTokens {
			f := float64(tf[q])
			if f == 0 {
				continue
			}
			df := float64(r.df[q])
			idf := math.Log((n-df+0.5)/(df+0.5) + 1)
			denom := f + r.k1*(1-r.b+r.b*float64(r.docLens[i])/r.avgDocLen)
			score += idf * f * (r.k1 + 1) / denom
		}
		if score > 0 {
			hits = append(hits, Hit{Index: i, Score: score})
		}
	}

	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Index < hits[b].Index
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// Tokenize lowercases, strips non-word runes and drops tokens of length <= 2.
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	fields := strings.Fields(b.String())
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}
