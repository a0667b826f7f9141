package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("The quick-brown FOX, v2.0! is on")
	assert.Equal(t, []string{"quick", "brown", "fox"}, got, "short tokens and punctuation dropped")

	assert.Empty(t, Tokenize("a an it of"))
	assert.Empty(t, Tokenize(""))
}

func TestSearchRanksMatchingDocHigher(t *testing.T) {
	r := NewBM25()
	r.Fit([]string{
		"the cat sat on the mat",
		"dogs chase cats through gardens",
		"quarterly financial report with revenue figures",
	})

	hits := r.Search("financial revenue report", 10)
	require.NotEmpty(t, hits)
	assert.Equal(t, 2, hits[0].Index)

	for _, h := range hits {
		assert.Greater(t, h.Score, 0.0, "only positive scores are returned")
	}
}

func TestSearchNoMatches(t *testing.T) {
	r := NewBM25()
	r.Fit([]string{"alpha beta gamma", "delta epsilon"})

	assert.Empty(t, r.Search("zeppelin", 5), "zero-score documents are omitted")
	assert.Empty(t, r.Search("", 5))
}

func TestSearchTopKBound(t *testing.T) {
	docs := []string{
		"shared keyword document one",
		"shared keyword document two",
		"shared keyword document three",
	}
	r := NewBM25()
	r.Fit(docs)

	hits := r.Search("shared keyword", 2)
	assert.Len(t, hits, 2)
}

func TestFitReplacesCorpus(t *testing.T) {
	r := NewBM25()
	r.Fit([]string{"original content about trains"})
	require.NotEmpty(t, r.Search("trains", 5))

	r.Fit([]string{"completely different text about oceans"})
	assert.Empty(t, r.Search("trains", 5))
	assert.NotEmpty(t, r.Search("oceans", 5))
}
