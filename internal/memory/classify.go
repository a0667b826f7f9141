package memory

import (
	"strconv"
	"strings"
	"time"

	"github.com/mnemolab/mnemo/internal/store"
)

var personalMarkers = []string{"i ", "my ", "me ", "we ", "our "}

func temporalMarkers(now time.Time) []string {
	return []string{
		"yesterday", "today", "last week", "on monday",
		"this morning", "last night", strconv.Itoa(now.Year()),
	}
}

// Classify decides the memory tier. An explicit meta override wins; otherwise
// rules fire in order: temporal+personal and short+personal content is
// episodic, reference-sized material is semantic, everything else episodic.
func Classify(content, contentType string, meta store.JSONB, now time.Time) string {
	if v, ok := meta["memory_type"].(string); ok {
		if v == store.TierEpisodic || v == store.TierSemantic || v == store.TierProcedural {
			return v
		}
	}

	lower := strings.ToLower(content)
	hasTemporal := containsAny(lower, temporalMarkers(now))
	hasPersonal := containsAny(lower, personalMarkers)
	wordCount := len(strings.Fields(content))
	isShort := wordCount < 100

	switch {
	case hasTemporal && hasPersonal:
		return store.TierEpisodic
	case isShort && hasPersonal:
		return store.TierEpisodic
	case contentType == store.ContentPDF || wordCount > 500:
		return store.TierSemantic
	default:
		return store.TierEpisodic
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
