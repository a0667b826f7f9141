package memory

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mnemolab/mnemo/internal/store"
)

func TestClassifyTemporalPersonalIsEpisodic(t *testing.T) {
	got := Classify("Yesterday I met Alice in the park", store.ContentText, nil, time.Now())
	assert.Equal(t, store.TierEpisodic, got)
}

func TestClassifyLongEssayIsSemantic(t *testing.T) {
	essay := strings.Repeat("thermodynamics entropy enthalpy systems ", 180) // ~720 words
	got := Classify(essay, store.ContentText, nil, time.Now())
	assert.Equal(t, store.TierSemantic, got)
}

func TestClassifyPDFIsSemantic(t *testing.T) {
	got := Classify("short note", store.ContentPDF, nil, time.Now())
	assert.Equal(t, store.TierSemantic, got)
}

func TestClassifyShortPersonalIsEpisodic(t *testing.T) {
	got := Classify("my favorite coffee place is around the corner", store.ContentText, nil, time.Now())
	assert.Equal(t, store.TierEpisodic, got)
}

func TestClassifyMetaOverride(t *testing.T) {
	meta := store.JSONB{"memory_type": store.TierSemantic}
	got := Classify("Yesterday I did things", store.ContentText, meta, time.Now())
	assert.Equal(t, store.TierSemantic, got)

	// procedural is a valid tier even though no rule infers it
	meta = store.JSONB{"memory_type": store.TierProcedural}
	got = Classify("short note", store.ContentText, meta, time.Now())
	assert.Equal(t, store.TierProcedural, got)

	// junk override is ignored
	meta = store.JSONB{"memory_type": "bogus"}
	got = Classify("Yesterday I did things", store.ContentText, meta, time.Now())
	assert.Equal(t, store.TierEpisodic, got)
}

func TestClassifyCurrentYearCountsAsTemporal(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	content := "In 2026 we launched our first product"
	assert.Equal(t, store.TierEpisodic, Classify(content, store.ContentText, nil, now))
}

func TestClassifyDefaultEpisodic(t *testing.T) {
	// no personal or temporal markers, medium length, not pdf
	got := Classify("the meeting covered planning topics and assigned owners", store.ContentText, nil, time.Now())
	assert.Equal(t, store.TierEpisodic, got)
}
