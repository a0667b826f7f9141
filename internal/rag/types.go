package rag

import "time"

// Source is one retrieval candidate flowing through the pipeline.
type Source struct {
	MemoryID    int64
	SummaryID   int64
	Content     string
	Title       string
	ContentType string
	MemoryType  string
	Similarity  float64
	// BoostedScore is set by the temporal boost; zero means not boosted.
	BoostedScore float64
	CreatedAt    time.Time
	Meta        map[string]interface{}
	FromWeb     bool
	URL         string
}

// Citation maps one [Source N] reference in the answer back to the result
// that produced it.
type Citation struct {
	Index       int
	MemoryID    int64
	ContentType string
	Snippet     string
	Similarity  float64
	URL         string
}
