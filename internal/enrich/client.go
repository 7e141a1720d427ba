package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultURL is the ip-api endpoint; {ip} is replaced with the looked up address.
const DefaultURL = "http://ip-api.com/json/{ip}?fields=status,message,continent,countryCode,org,as,reverse,query"

// maxBody caps the upstream response size.
const maxBody = 64 << 10

// Options configures the HTTP enrichment client.
type Options struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
	PerMinute int
}

// Client queries an ip-api compatible HTTP endpoint.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	url         string
	userAgent   string
	pausedUntil atomic.Int64
}

// NewClient creates an HTTP enrichment client with a request timeout and a
// client side rate limit (requests per minute, 0 disables limiting).
func NewClient(opts Options) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.PerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.PerMinute)/60), opts.PerMinute)
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    limiter,
		url:        opts.URL,
		userAgent:  opts.UserAgent,
	}
}

// Lookup implements Provider. Rate limited responses (429) and an exhausted
// upstream quota yield (nil, nil): callers treat them as missing data.
func (c *Client) Lookup(ctx context.Context, ip string) (*Result, error) {
	if until := c.pausedUntil.Load(); until > 0 && time.Now().UnixNano() < until {
		log.Trace().Str("ip", ip).Msg("Enrichment paused until quota resets")
		return nil, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := strings.ReplaceAll(c.url, "{ip}", url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	c.trackQuota(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		log.Debug().Str("ip", ip).Msg("Enrichment rate limited")
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("enrichment: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}

	return Parse(body)
}

// trackQuota pauses lookups when ip-api reports no remaining requests (X-Rl)
// until the window resets (X-Ttl seconds).
func (c *Client) trackQuota(h http.Header) {
	remaining, err := strconv.Atoi(h.Get("X-Rl"))
	if err != nil || remaining > 0 {
		return
	}

	ttl, err := strconv.Atoi(h.Get("X-Ttl"))
	if err != nil || ttl <= 0 {
		return
	}

	c.pausedUntil.Store(time.Now().Add(time.Duration(ttl) * time.Second).UnixNano())
	log.Debug().Int("ttl", ttl).Msg("Enrichment quota exhausted, pausing")
}
