package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultUserAgent = "citescope/0.1"

// HTTPFetcher downloads pages with a plain HTTP client. Requests are rate
// limited per host.
type HTTPFetcher struct {
	Client       *http.Client
	UserAgent    string
	MaxBodyBytes int64

	limits *hostLimiter
}

func NewHTTPFetcher(timeout time.Duration, userAgent string, maxBody int64) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if maxBody <= 0 {
		maxBody = 5 << 20
	}
	return &HTTPFetcher{
		Client:       &http.Client{Timeout: timeout},
		UserAgent:    userAgent,
		MaxBodyBytes: maxBody,
		limits:       newHostLimiter(2, 2),
	}
}

// StatusError is a non-2xx page response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("fetch: invalid url %q", pageURL)
	}
	if f.limits != nil {
		if err := f.limits.wait(ctx, u.Host); err != nil {
			return "", err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/markdown;q=0.9,text/plain;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{URL: pageURL, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pageURL, err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/markdown", "text/plain":
		return string(body), nil
	case "", "text/html", "application/xhtml+xml":
		return ToMarkdown(string(body), pageURL)
	default:
		return "", fmt.Errorf("fetch %s: unsupported content type %s", pageURL, mediaType)
	}
}

type hostLimiter struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
	r  rate.Limit
	b  int
}

func newHostLimiter(perSecond float64, burst int) *hostLimiter {
	return &hostLimiter{m: map[string]*rate.Limiter{}, r: rate.Limit(perSecond), b: burst}
}

func (h *hostLimiter) wait(ctx context.Context, host string) error {
	host = strings.ToLower(host)
	h.mu.Lock()
	lim, ok := h.m[host]
	if !ok {
		lim = rate.NewLimiter(h.r, h.b)
		h.m[host] = lim
	}
	h.mu.Unlock()
	return lim.Wait(ctx)
}
