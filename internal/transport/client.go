package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Client is the interface for the HTTP transport layer.
type Client interface {
	// Do sends an HTTP request and returns the fully read response.
	Do(ctx context.Context, req *Request) (*Response, error)

	// Cookies returns the cookies the client currently holds for rawURL.
	Cookies(rawURL string) []*http.Cookie

	// Stats returns transport statistics.
	Stats() *TransportStats
}

// TransportStats holds aggregate statistics for the transport client.
type TransportStats struct {
	TotalRequests int64 // round trips, retries included
	Retries       int64
	TotalDuration time.Duration
	AvgDuration   time.Duration
}

// ClientOptions holds configuration for creating a new DefaultClient.
type ClientOptions struct {
	// Timeout bounds one round trip.
	Timeout time.Duration

	// ProxyURL is the proxy URL (HTTP or SOCKS5).
	ProxyURL string

	FollowRedirects    bool
	InsecureSkipVerify bool

	// UserAgent is sent when a request carries no User-Agent header.
	// Empty means DefaultUserAgent.
	UserAgent string

	// RandomUserAgent picks a new browser User-Agent for every request.
	RandomUserAgent bool

	// MaxRPS is the maximum requests per second (0 = unlimited).
	MaxRPS float64

	// MaxRetries is how many times a request is re-sent after a connection
	// error or a 429/5xx status.
	MaxRetries int

	// RetryBackoff is the base delay between retries, doubled each time.
	// Zero means one second.
	RetryBackoff time.Duration
}

// retryableStatus lists the statuses that are re-sent.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

const maxRetryDelay = 10 * time.Second

// DefaultClient is the default implementation of the Client interface,
// backed by net/http with a cookie jar.
type DefaultClient struct {
	httpClient *http.Client
	jar        http.CookieJar
	opts       ClientOptions
	limiter    *rate.Limiter

	mu              sync.RWMutex
	totalRequests   int64
	totalRetries    int64
	totalDurationNs int64
}

// NewClient creates a new DefaultClient with the given options.
func NewClient(opts ClientOptions) (*DefaultClient, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify,
		},
		ForceAttemptHTTP2: true,
	}
	if opts.ProxyURL != "" {
		proxyURL, err := parseProxy(opts.ProxyURL)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
		Jar:       jar,
	}
	if !opts.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}

	dc := &DefaultClient{
		httpClient: client,
		jar:        jar,
		opts:       opts,
	}
	if opts.MaxRPS > 0 {
		dc.limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), 1)
	}
	return dc, nil
}

func parseProxy(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("invalid proxy URL %q: scheme must be http, https or socks5", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy URL %q: missing host", raw)
	}
	return u, nil
}

// Do sends an HTTP request and returns the response. Connection errors and
// retryable statuses are re-sent up to MaxRetries times; the last response
// (or error) is returned.
func (c *DefaultClient) Do(ctx context.Context, req *Request) (*Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.roundTrip(ctx, req)
		if attempt >= c.opts.MaxRetries || !shouldRetry(ctx, resp, err) {
			return resp, err
		}

		c.mu.Lock()
		c.totalRetries++
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.backoff(attempt)):
		}
	}
}

// backoff returns the delay before retry number attempt+1.
func (c *DefaultClient) backoff(attempt int) time.Duration {
	delay := c.opts.RetryBackoff << attempt
	if delay <= 0 || delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

func shouldRetry(ctx context.Context, resp *Response, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return retryableStatus[resp.StatusCode]
}

// roundTrip performs a single attempt: rate limit, build, send, read.
func (c *DefaultClient) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	httpReq, err := c.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)

	c.mu.Lock()
	c.totalRequests++
	c.totalDurationNs += duration.Nanoseconds()
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
		Duration:   duration,
		URL:        httpResp.Request.URL.String(),
	}, nil
}

func (c *DefaultClient) newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	// ShowDoc answers in the browser's language.
	httpReq.Header.Set("Accept", "application/json, text/plain, */*")
	httpReq.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	httpReq.Header.Set("X-Requested-With", "XMLHttpRequest")
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent())
	}
	return httpReq, nil
}

func (c *DefaultClient) userAgent() string {
	switch {
	case c.opts.RandomUserAgent:
		return RandomUserAgent()
	case c.opts.UserAgent != "":
		return c.opts.UserAgent
	default:
		return DefaultUserAgent
	}
}

// Cookies returns the jar's cookies for rawURL. An unparsable URL yields nil.
func (c *DefaultClient) Cookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return c.jar.Cookies(u)
}

// Stats returns aggregate transport statistics.
func (c *DefaultClient) Stats() *TransportStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := &TransportStats{
		TotalRequests: c.totalRequests,
		Retries:       c.totalRetries,
		TotalDuration: time.Duration(c.totalDurationNs),
	}
	if c.totalRequests > 0 {
		stats.AvgDuration = time.Duration(c.totalDurationNs / c.totalRequests)
	}
	return stats
}
