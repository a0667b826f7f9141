package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/config"
)

func newTestClient(cfg config.WebConfig) *Client {
	cfg.ScrapeTimeoutSec = 5
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 5
	}
	return New(cfg, zap.NewNop())
}

func TestSearchBrave(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		w.Write([]byte(`{"web":{"results":[
			{"title":"The Go Programming Language","url":"https://go.dev","description":"Build simple, secure, scalable systems"},
			{"title":"Go wiki","url":"https://go.dev/wiki","description":"community wiki"}
		]}}`))
	}))
	defer srv.Close()

	c := newTestClient(config.WebConfig{BraveAPIKey: "secret"})
	c.braveURL = srv.URL

	results, err := c.Search(context.Background(), "golang", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "brave", results[0].Source)
	assert.Equal(t, "https://go.dev", results[0].URL)
}

func TestSearchFallsThroughToSerpAPI(t *testing.T) {
	brave := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer brave.Close()
	serp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk", r.URL.Query().Get("api_key"))
		w.Write([]byte(`{"organic_results":[{"title":"t","link":"https://example.com","snippet":"s"}]}`))
	}))
	defer serp.Close()

	c := newTestClient(config.WebConfig{BraveAPIKey: "bk", SerpAPIKey: "sk"})
	c.braveURL = brave.URL
	c.serpURL = serp.URL

	results, err := c.Search(context.Background(), "anything", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "serpapi", results[0].Source)
}

func TestSearchDuckDuckGoFallback(t *testing.T) {
	ddg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`<html><body>
			<div class="result">
				<a class="result__a" href="https://one.example">First result</a>
				<a class="result__snippet">first snippet</a>
			</div>
			<div class="result">
				<a class="result__a" href="https://two.example">Second result</a>
				<a class="result__snippet">second snippet</a>
			</div>
		</body></html>`))
	}))
	defer ddg.Close()

	c := newTestClient(config.WebConfig{}) // no API keys configured
	c.ddgURL = ddg.URL

	results, err := c.Search(context.Background(), "anything", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "duckduckgo", results[0].Source)
	assert.Equal(t, "First result", results[0].Title)
	assert.Equal(t, "first snippet", results[0].Snippet)
}

func TestSearchAllProvidersFail(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	c := newTestClient(config.WebConfig{BraveAPIKey: "bk"})
	c.braveURL = down.URL
	c.ddgURL = down.URL

	_, err := c.Search(context.Background(), "anything", 3)
	assert.Error(t, err)
}

func TestScrapeExtractsReadableText(t *testing.T) {
	page := `<html><head><title>Test Article</title></head><body>
		<nav>menu menu menu</nav>
		<article><h1>Test Article</h1>` + para() + para() + `</article>
		<footer>copyright</footer>
	</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	s := NewScraper(0, zap.NewNop())
	got, err := s.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, got.Content, "long enough to pass")
	assert.NotContains(t, got.Content, "menu menu menu")
}

func TestScrapeRetriesOnceThenFails(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewScraper(0, zap.NewNop())
	_, err := s.Scrape(context.Background(), srv.URL)
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestScrapeRejectsThinPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>tiny</p></body></html>`))
	}))
	defer srv.Close()

	s := NewScraper(0, zap.NewNop())
	_, err := s.Scrape(context.Background(), srv.URL)
	assert.Error(t, err)
}

func para() string {
	return `<p>This paragraph is long enough to pass the minimum content check,
	because readability extraction should keep the article body while stripping
	navigation chrome and other boilerplate around it.</p>`
}
