// Package websearch augments local retrieval with fresh web results. It
// tries configured search providers in order (Brave, then SerpAPI) and falls
// back to scraping DuckDuckGo's HTML endpoint when no API key works.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/mnemolab/mnemo/internal/config"
	"github.com/mnemolab/mnemo/internal/metrics"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Result is one web hit before scraping.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
}

// Searcher is the provider-chain surface the RAG pipeline consumes.
type Searcher interface {
	Search(ctx context.Context, query string, n int) ([]Result, error)
}

type Client struct {
	cfg        config.WebConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	// provider endpoints, overridable in tests
	braveURL string
	serpURL  string
	ddgURL   string
}

func New(cfg config.WebConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.ScrapeTimeout()},
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
		logger:     logger,
		braveURL:   "https://api.search.brave.com/res/v1/web/search",
		serpURL:    "https://serpapi.com/search",
		ddgURL:     "https://html.duckduckgo.com/html/",
	}
}

// Search runs the provider chain. A provider failure logs and falls through;
// only when every provider fails does Search return an error.
func (c *Client) Search(ctx context.Context, query string, n int) ([]Result, error) {
	if n <= 0 {
		n = c.cfg.MaxResults
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	if c.cfg.BraveAPIKey != "" {
		results, err := c.searchBrave(ctx, query, n)
		if err == nil {
			metrics.WebSearches.WithLabelValues("brave", "ok").Inc()
			return results, nil
		}
		metrics.WebSearches.WithLabelValues("brave", "error").Inc()
		c.logger.Warn("brave search failed, trying fallback", zap.Error(err))
		lastErr = err
	}
	if c.cfg.SerpAPIKey != "" {
		results, err := c.searchSerpAPI(ctx, query, n)
		if err == nil {
			metrics.WebSearches.WithLabelValues("serpapi", "ok").Inc()
			return results, nil
		}
		metrics.WebSearches.WithLabelValues("serpapi", "error").Inc()
		c.logger.Warn("serpapi search failed, trying fallback", zap.Error(err))
		lastErr = err
	}

	results, err := c.searchDuckDuckGo(ctx, query, n)
	if err == nil {
		metrics.WebSearches.WithLabelValues("duckduckgo", "ok").Inc()
		return results, nil
	}
	metrics.WebSearches.WithLabelValues("duckduckgo", "error").Inc()
	if lastErr == nil {
		lastErr = err
	}
	return nil, fmt.Errorf("all search providers failed: %w", lastErr)
}

func (c *Client) searchBrave(ctx context.Context, query string, n int) ([]Result, error) {
	q := url.Values{
		"q":                []string{query},
		"count":            []string{strconv.Itoa(n)},
		"text_decorations": []string{"false"},
		"search_lang":      []string{"en"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.braveURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.cfg.BraveAPIKey)

	var body struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := c.getJSON(req, &body); err != nil {
		return nil, err
	}

	results := make([]Result, 0, n)
	for _, item := range body.Web.Results {
		if len(results) == n {
			break
		}
		results = append(results, Result{Title: item.Title, URL: item.URL, Snippet: item.Description, Source: "brave"})
	}
	return results, nil
}

func (c *Client) searchSerpAPI(ctx context.Context, query string, n int) ([]Result, error) {
	q := url.Values{
		"q":       []string{query},
		"api_key": []string{c.cfg.SerpAPIKey},
		"num":     []string{strconv.Itoa(n)},
		"engine":  []string{"google"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serpURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var body struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}
	if err := c.getJSON(req, &body); err != nil {
		return nil, err
	}

	results := make([]Result, 0, n)
	for _, item := range body.OrganicResults {
		if len(results) == n {
			break
		}
		results = append(results, Result{Title: item.Title, URL: item.Link, Snippet: item.Snippet, Source: "serpapi"})
	}
	return results, nil
}

// searchDuckDuckGo posts to the HTML endpoint and extracts result anchors.
func (c *Client) searchDuckDuckGo(ctx context.Context, query string, n int) ([]Result, error) {
	form := url.Values{"q": []string{query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ddgURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse duckduckgo html: %w", err)
	}
	return parseDuckDuckGo(doc, n), nil
}

func (c *Client) getJSON(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s status %d", req.URL.Host, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// parseDuckDuckGo walks the document collecting result__a (title + href) and
// result__snippet anchors in document order.
func parseDuckDuckGo(doc *html.Node, n int) []Result {
	var results []Result
	var current *Result

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if len(results) >= n && current == nil {
			return
		}
		if node.Type == html.ElementNode && node.Data == "a" {
			switch {
			case hasClass(node, "result__a"):
				if current != nil && current.Title != "" {
					results = append(results, *current)
				}
				current = &Result{
					Title:  nodeText(node),
					URL:    attr(node, "href"),
					Source: "duckduckgo",
				}
			case hasClass(node, "result__snippet"):
				if current != nil {
					current.Snippet = nodeText(node)
					results = append(results, *current)
					current = nil
				}
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	if current != nil && current.Title != "" && len(results) < n {
		results = append(results, *current)
	}
	if len(results) > n {
		results = results[:n]
	}
	return results
}

func hasClass(node *html.Node, class string) bool {
	for _, a := range node.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func attr(node *html.Node, key string) string {
	for _, a := range node.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(node *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return strings.TrimSpace(sb.String())
}
