// Package websearch retrieves fresh web information for a chat turn. A
// Decider asks an auxiliary LLM whether the user question needs a search;
// the Wikipedia engine answers it through the MediaWiki search API.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url,omitempty"`
}

// Searcher answers a query with at most maxResults hits.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

const (
	defaultEndpoint = "https://zh.wikipedia.org/w/api.php"
	defaultTimeout  = 8 * time.Second
	maxBodyBytes    = 4 << 20
)

// Wikipedia searches through the MediaWiki list=search API.
type Wikipedia struct {
	endpoint string
	client   *http.Client

	// fallbackEmpty turns backend failures into an empty result set so a
	// turn is never blocked by an unreachable search engine.
	fallbackEmpty bool
}

var _ Searcher = (*Wikipedia)(nil)

// Option configures a Wikipedia searcher.
type Option func(*Wikipedia)

// WithEndpoint overrides the MediaWiki api.php endpoint.
func WithEndpoint(endpoint string) Option {
	return func(w *Wikipedia) { w.endpoint = endpoint }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(w *Wikipedia) { w.client.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Wikipedia) { w.client = c }
}

// WithEmptyFallback makes Search return no results instead of an error when
// the backend fails.
func WithEmptyFallback(enabled bool) Option {
	return func(w *Wikipedia) { w.fallbackEmpty = enabled }
}

// NewWikipedia creates a Wikipedia searcher with defaults.
func NewWikipedia(opts ...Option) *Wikipedia {
	w := &Wikipedia{
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// searchResponse is the subset of the MediaWiki reply we read.
type searchResponse struct {
	Query struct {
		Search []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
		} `json:"search"`
	} `json:"query"`
}

// Search queries the MediaWiki search API and returns stripped-down hits.
func (w *Wikipedia) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = 3
	}
	results, err := w.search(ctx, query, maxResults)
	if err != nil {
		if w.fallbackEmpty {
			slog.Warn("web search failed, returning no results", "query", query, "err", err)
			return nil, nil
		}
		return nil, err
	}
	return results, nil
}

func (w *Wikipedia) search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	q := url.Values{}
	q.Set("action", "query")
	q.Set("list", "search")
	q.Set("srsearch", query)
	q.Set("srlimit", fmt.Sprint(maxResults))
	q.Set("format", "json")
	q.Set("utf8", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("websearch: backend returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("websearch: read response: %w", err)
	}
	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("websearch: decode response: %w", err)
	}

	results := make([]Result, 0, len(sr.Query.Search))
	for _, hit := range sr.Query.Search {
		results = append(results, Result{
			Title:   hit.Title,
			Snippet: stripTags(hit.Snippet),
			URL:     articleURL(w.endpoint, hit.Title),
		})
	}
	return results, nil
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// stripTags removes the HTML highlight markup MediaWiki puts in snippets.
func stripTags(s string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(s, ""))
}

// articleURL derives the canonical article link from the api.php endpoint.
func articleURL(endpoint, title string) string {
	base := strings.TrimSuffix(endpoint, "/w/api.php")
	if base == endpoint {
		return ""
	}
	return base + "/wiki/" + url.PathEscape(strings.ReplaceAll(title, " ", "_"))
}

// FormatResults renders search hits as the prompt block the context builder
// injects. Returns "" when there is nothing to inject.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("以下是与用户问题相关的网络搜索结果：\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s：%s\n", i+1, r.Title, r.Snippet)
	}
	return sb.String()
}
