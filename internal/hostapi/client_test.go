package hostapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const statsBody = `{"stargazers_count":42,"forks_count":7,"subscribers_count":3,"open_issues_count":5,"pushed_at":"2026-08-01T10:00:00Z"}`

func TestRepoStats(t *testing.T) {
	t.Parallel()

	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/org/auth", r.URL.Path)
		gotAuth.Store(r.Header.Get("Authorization"))
		w.Write([]byte(statsBody))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(zap.NewNop(), WithBaseURL(srv.URL), WithToken("tok123"))
	stats, err := c.RepoStats(context.Background(), "org/auth")
	require.NoError(t, err)

	assert.Equal(t, 42, stats.Stars)
	assert.Equal(t, 7, stats.Forks)
	assert.Equal(t, 3, stats.Watchers)
	assert.Equal(t, 5, stats.OpenIssue)
	assert.Equal(t, "Bearer tok123", gotAuth.Load())
}

func TestRepoStatsServedFromCache(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(statsBody))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(zap.NewNop(), WithBaseURL(srv.URL), WithCacheTTL(time.Hour))
	ctx := context.Background()

	_, err := c.RepoStats(ctx, "org/auth")
	require.NoError(t, err)
	_, err = c.RepoStats(ctx, "org/auth")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second fetch within TTL should hit the cache")

	// A different repo is a different cache key.
	_, err = c.RepoStats(ctx, "org/billing")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRepoStatsRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(statsBody))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(zap.NewNop(), WithBaseURL(srv.URL))
	stats, err := c.RepoStats(context.Background(), "org/auth")
	require.NoError(t, err)
	assert.Equal(t, 42, stats.Stars)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestRepoStatsNotFoundIsPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(zap.NewNop(), WithBaseURL(srv.URL))
	_, err := c.RepoStats(context.Background(), "org/gone")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "404 must not be retried")
}

func TestRepoStatsHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(statsBody))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(zap.NewNop(), WithBaseURL(srv.URL))
	stats, err := c.RepoStats(context.Background(), "org/auth")
	require.NoError(t, err)
	assert.Equal(t, 42, stats.Stars)
}

func TestRepoStatsLowQuotaSetsProportionalThrottle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "1")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10))
		w.Write([]byte(statsBody))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(zap.NewNop(), WithBaseURL(srv.URL))
	_, err := c.RepoStats(context.Background(), "org/auth")
	require.NoError(t, err)

	c.mu.Lock()
	wait := time.Until(c.nextFetch)
	c.mu.Unlock()
	// One call left in a ~60s window: the next request waits about half of it.
	assert.Greater(t, wait, 10*time.Second, "low quota must throttle the next request")
	assert.LessOrEqual(t, wait, time.Minute)
}

func TestRepoStatsHealthyQuotaDoesNotThrottle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "4999")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
		w.Write([]byte(statsBody))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(zap.NewNop(), WithBaseURL(srv.URL))
	_, err := c.RepoStats(context.Background(), "org/auth")
	require.NoError(t, err)

	c.mu.Lock()
	next := c.nextFetch
	c.mu.Unlock()
	assert.True(t, next.IsZero(), "healthy quota must not set a throttle")
}

func TestRepoStatsDistantRateLimitFailsFast(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(zap.NewNop(), WithBaseURL(srv.URL))
	_, err := c.RepoStats(context.Background(), "org/auth")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited), "err = %v", err)
}
