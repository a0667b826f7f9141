package rag

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/llm"
)

// Intents
const (
	IntentFactual        = "factual"
	IntentSearch         = "search"
	IntentConversational = "conversational"
)

// Analysis is the pure-functional description of one query.
type Analysis struct {
	Intent           string
	QuestionType     string
	HasTemporal      bool
	IsComparison     bool
	IsComplex        bool
	RequiresMultiHop bool
}

// Ordered: first match wins, factual checked before search before
// conversational.
var intentPatterns = []struct {
	intent   string
	patterns []*regexp.Regexp
}{
	{IntentFactual, []*regexp.Regexp{
		regexp.MustCompile(`^(what|when|where|who|which|how many|how much)`),
		regexp.MustCompile(`(definition|meaning|explain|describe)`),
		regexp.MustCompile(`(is|are|was|were|does|did|can|will)`),
	}},
	{IntentSearch, []*regexp.Regexp{
		regexp.MustCompile(`(find|search|look for|show me)`),
		regexp.MustCompile(`(about|regarding|related to)`),
		regexp.MustCompile(`(tell me|give me information)`),
	}},
	{IntentConversational, []*regexp.Regexp{
		regexp.MustCompile(`(hi|hello|hey|thanks|thank you)`),
		regexp.MustCompile(`(how are you|what can you do)`),
		regexp.MustCompile(`(help|assist)`),
	}},
}

var analyzerTemporalMarkers = []string{
	"recent", "yesterday", "last week", "today",
	"when", "latest", "newest", "oldest", "first",
}

var multiHopIndicators = []string{
	"and then", "after that", "compare", "difference between",
	"relationship", "connection", "how does", "why did",
	"explain the process", "step by step",
}

var comparisonWords = []string{"compare", "difference", "versus", "vs", "better", "worse"}

var questionWords = []struct {
	word  string
	qtype string
}{
	{"what", "factual"},
	{"who", "entity"},
	{"where", "location"},
	{"when", "temporal"},
	{"why", "causal"},
	{"how", "procedural"},
	{"which", "choice"},
}

// Analyze inspects the query without any model call.
func Analyze(query string) Analysis {
	lower := strings.ToLower(strings.TrimSpace(query))

	a := Analysis{
		Intent:       classifyIntent(lower),
		QuestionType: "unknown",
	}
	for _, m := range analyzerTemporalMarkers {
		if strings.Contains(lower, m) {
			a.HasTemporal = true
			break
		}
	}
	for _, ind := range multiHopIndicators {
		if strings.Contains(lower, ind) {
			a.IsComplex = true
			break
		}
	}
	for _, w := range comparisonWords {
		if strings.Contains(lower, w) {
			a.IsComparison = true
			break
		}
	}
	for _, qw := range questionWords {
		if strings.HasPrefix(lower, qw.word) {
			a.QuestionType = qw.qtype
			break
		}
	}
	a.RequiresMultiHop = a.IsComplex || a.IsComparison
	return a
}

func classifyIntent(lower string) string {
	for _, group := range intentPatterns {
		for _, p := range group.patterns {
			if p.MatchString(lower) {
				return group.intent
			}
		}
	}
	return IntentFactual
}

func recencyKeywords(now time.Time) []string {
	return []string{
		"latest", "recent", "current", "today", "now",
		"news", "update", "breaking", strconv.Itoa(now.Year()),
	}
}

// ShouldSearchWeb decides whether a web lookup augments local retrieval:
// never for chit-chat, otherwise when local recall is thin or the query asks
// for fresh information.
func ShouldSearchWeb(query string, localHits int, now time.Time) bool {
	lower := strings.ToLower(query)
	if classifyIntent(lower) == IntentConversational {
		return false
	}
	if localHits < 2 {
		return true
	}
	for _, kw := range recencyKeywords(now) {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

var (
	numberedLine = regexp.MustCompile(`^\s*\d+[.)]\s*`)
	bulletLine   = regexp.MustCompile(`^\s*[-•*]\s*`)
)

// Decomposer breaks a multi-hop query into sub-questions with one LM call.
type Decomposer struct {
	lm     Completer
	logger *zap.Logger
}

// Completer runs a blocking chat completion.
type Completer interface {
	Complete(ctx context.Context, purpose string, messages []llm.Message, opts ...llm.Option) (string, error)
}

func NewDecomposer(lm Completer, logger *zap.Logger) *Decomposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decomposer{lm: lm, logger: logger}
}

// Decompose returns the sub-questions for a multi-hop query, or [query]
// when the query is simple, the model fails, or its output parses to nothing.
func (d *Decomposer) Decompose(ctx context.Context, query string) []string {
	if !Analyze(query).RequiresMultiHop {
		return []string{query}
	}

	resp, err := d.lm.Complete(ctx, "decompose", []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a query decomposition expert. Break down complex questions into 2-4 simpler sub-questions.\nEach sub-question should be answerable independently.\nOutput only the sub-questions, one per line, numbered."},
		{Role: llm.RoleUser, Content: "Decompose this question:\n" + query},
	}, llm.WithTemperature(0.3), llm.WithMaxTokens(500))
	if err != nil {
		d.logger.Warn("query decomposition failed", zap.Error(err))
		return []string{query}
	}

	subs := ParseSubQueries(resp)
	if len(subs) == 0 {
		return []string{query}
	}
	return subs
}

// ParseSubQueries extracts numbered or bulleted lines of at least 10 chars.
func ParseSubQueries(resp string) []string {
	var out []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		line = numberedLine.ReplaceAllString(line, "")
		line = bulletLine.ReplaceAllString(line, "")
		if len(line) >= 10 {
			out = append(out, line)
		}
	}
	return out
}
