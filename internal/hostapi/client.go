// Package hostapi fetches repository statistics (stars, forks, downloads)
// from the hosting provider's REST API, with rate-limit aware retries and a
// short-lived in-memory cache so repeated CLI invocations do not burn quota.
package hostapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	defaultBaseURL  = "https://api.github.com"
	defaultCacheTTL = 5 * time.Minute
	maxRetryElapsed = 30 * time.Second

	// lowQuotaThreshold is the remaining-call count below which the client
	// starts spacing requests out across the rest of the quota window.
	lowQuotaThreshold = 20
)

// ErrRateLimited is returned when the provider's quota is exhausted and the
// reset is too far away to wait for.
var ErrRateLimited = errors.New("host api rate limited")

// Stats is the subset of repository statistics the engine reports.
type Stats struct {
	Stars     int       `json:"stargazers_count"`
	Forks     int       `json:"forks_count"`
	Watchers  int       `json:"subscribers_count"`
	OpenIssue int       `json:"open_issues_count"`
	PushedAt  time.Time `json:"pushed_at"`
	FetchedAt time.Time `json:"-"`
}

// Client talks to the hosting provider. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
	ttl     time.Duration

	mu        sync.Mutex
	cache     map[string]Stats
	nextFetch time.Time // earliest time the next request may be sent
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host, e.g. a GitHub
// Enterprise instance or a test server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithToken authenticates requests, which also raises the rate limit.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient swaps the underlying transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithCacheTTL changes how long fetched stats are served from memory.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.ttl = ttl }
}

// NewClient builds a Client.
func NewClient(log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
		ttl:     defaultCacheTTL,
		cache:   make(map[string]Stats),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RepoStats fetches statistics for "owner/repo", serving from cache when the
// last fetch is within the TTL.
func (c *Client) RepoStats(ctx context.Context, repo string) (Stats, error) {
	c.mu.Lock()
	if cached, ok := c.cache[repo]; ok && time.Since(cached.FetchedAt) < c.ttl {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	var stats Stats
	op := func() error {
		s, err := c.fetch(ctx, repo)
		if err != nil {
			return err
		}
		stats = s
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxRetryElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return Stats{}, err
	}

	stats.FetchedAt = time.Now()
	c.mu.Lock()
	c.cache[repo] = stats
	c.mu.Unlock()
	return stats, nil
}

// fetch performs one API request. 5xx and near-term rate limits come back as
// retryable errors for the backoff loop; everything else is permanent.
func (c *Client) fetch(ctx context.Context, repo string) (Stats, error) {
	if err := c.waitQuota(ctx); err != nil {
		return Stats{}, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/repos/"+repo, nil)
	if err != nil {
		return Stats{}, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Stats{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		if wait, ok := retryAfter(resp); ok && wait <= maxRetryElapsed {
			c.log.Warn("host api rate limited, waiting", zap.String("repo", repo), zap.Duration("wait", wait))
			select {
			case <-time.After(wait):
				return Stats{}, fmt.Errorf("rate limit window elapsed, retrying")
			case <-ctx.Done():
				return Stats{}, backoff.Permanent(ctx.Err())
			}
		}
		return Stats{}, backoff.Permanent(fmt.Errorf("%w: %s", ErrRateLimited, repo))
	case resp.StatusCode >= 500:
		return Stats{}, fmt.Errorf("host api: %s: %s", repo, resp.Status)
	default:
		return Stats{}, backoff.Permanent(fmt.Errorf("host api: %s: %s", repo, resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return Stats{}, backoff.Permanent(fmt.Errorf("host api: decode %s: %w", repo, err))
	}
	c.noteQuota(resp)
	return stats, nil
}

// noteQuota reads the rate-limit headers from a successful response and,
// once the window runs low, spreads the remaining requests across the rest
// of it: the next request waits window/(remaining+1). With remaining at
// zero this degenerates to a hard wait for the reset.
func (c *Client) noteQuota(resp *http.Response) {
	remaining, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if err != nil || remaining >= lowQuotaThreshold {
		return
	}
	reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return
	}
	window := time.Until(time.Unix(reset, 0))
	if window <= 0 {
		return
	}
	delay := window / time.Duration(remaining+1)
	c.mu.Lock()
	c.nextFetch = time.Now().Add(delay)
	c.mu.Unlock()
	c.log.Warn("host api quota low, slowing down",
		zap.Int("remaining", remaining), zap.Duration("delay", delay))
}

// waitQuota blocks until the throttle set by noteQuota has passed.
func (c *Client) waitQuota(ctx context.Context) error {
	c.mu.Lock()
	wait := time.Until(c.nextFetch)
	c.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryAfter derives a wait from the Retry-After or X-RateLimit-Reset
// headers.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second, true
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			if wait := time.Until(time.Unix(unix, 0)); wait > 0 {
				return wait, true
			}
			return 0, true
		}
	}
	return 0, false
}
