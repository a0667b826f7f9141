package websearch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const minContentLen = 100

// Page is the extracted readable content of one URL.
type Page struct {
	URL     string
	Title   string
	Content string
	Domain  string
}

// Scraper fetches pages and extracts their main text.
type Scraper struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func NewScraper(timeout time.Duration, logger *zap.Logger) *Scraper {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(1), 3),
		logger:     logger,
	}
}

// Scrape fetches the URL (retrying once on a transport error) and runs
// readability extraction. Pages whose extracted text is shorter than 100
// characters are rejected as boilerplate.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (*Page, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := s.fetch(ctx, rawURL)
	if err != nil {
		s.logger.Warn("fetch failed, retrying once", zap.String("url", rawURL), zap.Error(err))
		resp, err = s.fetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", rawURL, err)
	}

	content := strings.TrimSpace(article.TextContent)
	if len(content) < minContentLen {
		return nil, fmt.Errorf("extracted content too short for %s", rawURL)
	}

	return &Page{
		URL:     rawURL,
		Title:   strings.TrimSpace(article.Title),
		Content: content,
		Domain:  parsed.Host,
	}, nil
}

func (s *Scraper) fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	return resp, nil
}
