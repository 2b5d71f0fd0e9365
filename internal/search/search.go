// Package search queries a web search API for pages answer engines cite.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"citescope/internal/logger"
)

const (
	DefaultEndpoint = "https://api.search.brave.com/res/v1/web/search"
	DefaultTimeout  = 15 * time.Second
	maxCount        = 20
)

type Query struct {
	Text    string
	Count   int
	Country string
}

type Result struct {
	URL           string
	Title         string
	Description   string
	Snippets      []string
	PublishedDate string
}

// Searcher returns results for one query variant. Implementations must not
// deduplicate across calls.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

// APIError is a non-2xx response from the search API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("search api: status %d: %s", e.StatusCode, e.Body)
}

// Client talks to a Brave-compatible web search endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        logger.Logger
}

type Option func(*Client)

func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit caps requests per second. A zero rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:   DefaultEndpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		log:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type braveResponse struct {
	Web struct {
		Results []struct {
			URL           string   `json:"url"`
			Title         string   `json:"title"`
			Description   string   `json:"description"`
			ExtraSnippets []string `json:"extra_snippets"`
			PageAge       string   `json:"page_age"`
			Age           string   `json:"age"`
		} `json:"results"`
	} `json:"web"`
}

func (c *Client) Search(ctx context.Context, q Query) ([]Result, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("search: empty query")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("search rate limit: %w", err)
		}
	}
	params := url.Values{}
	params.Set("q", q.Text)
	count := q.Count
	if count <= 0 || count > maxCount {
		count = maxCount
	}
	params.Set("count", strconv.Itoa(count))
	if q.Country != "" {
		params.Set("country", strings.ToLower(q.Country))
	}
	params.Set("extra_snippets", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Subscription-Token", c.apiKey)
	}
	c.log.Debug("search request", logger.String("query", q.Text), logger.Int("count", count))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var decoded braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]Result, 0, len(decoded.Web.Results))
	for _, r := range decoded.Web.Results {
		if r.URL == "" {
			continue
		}
		published := r.PageAge
		if published == "" {
			published = r.Age
		}
		out = append(out, Result{
			URL:           r.URL,
			Title:         r.Title,
			Description:   r.Description,
			Snippets:      r.ExtraSnippets,
			PublishedDate: published,
		})
		if len(out) == count {
			break
		}
	}
	return out, nil
}
