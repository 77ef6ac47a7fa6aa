package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"raidwatch/internal/apperr"
	"raidwatch/internal/config"
	"raidwatch/internal/domain"
)

func testCache(capacity int, ttl time.Duration) *Cache {
	return New(&config.Config{CacheCapacity: capacity, CacheTTL: ttl}, zerolog.Nop())
}

func snapFor(code string) *domain.ReportSnapshot {
	return &domain.ReportSnapshot{Code: code}
}

func TestGetOrFetchCachesResult(t *testing.T) {
	c := testCache(4, time.Minute)
	var calls atomic.Int64

	fetch := func(ctx context.Context) (*domain.ReportSnapshot, error) {
		calls.Add(1)
		return snapFor("A"), nil
	}

	first, err := c.GetOrFetch(context.Background(), "k1", false, fetch)
	require.NoError(t, err)
	second, err := c.GetOrFetch(context.Background(), "k1", false, fetch)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.EqualValues(t, 1, calls.Load())
}

// Five concurrent misses on one fingerprint run exactly one fetch; every
// caller gets the same snapshot.
func TestSingleFlight(t *testing.T) {
	c := testCache(4, time.Minute)
	var calls atomic.Int64
	release := make(chan struct{})

	fetch := func(ctx context.Context) (*domain.ReportSnapshot, error) {
		calls.Add(1)
		<-release
		return snapFor("A"), nil
	}

	const waiters = 5
	results := make([]*domain.ReportSnapshot, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := c.GetOrFetch(context.Background(), "shared", false, fetch)
			require.NoError(t, err)
			results[i] = snap
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load(), "all callers share one upstream fetch")
	for i := 1; i < waiters; i++ {
		require.Same(t, results[0], results[i])
	}
}

func TestSingleFlightSharesError(t *testing.T) {
	c := testCache(4, time.Minute)
	boom := errors.New("boom")
	var calls atomic.Int64

	fetch := func(ctx context.Context) (*domain.ReportSnapshot, error) {
		calls.Add(1)
		return nil, boom
	}

	_, err1 := c.GetOrFetch(context.Background(), "k", false, fetch)
	require.ErrorIs(t, err1, boom)
	require.Zero(t, c.Len(), "errors are never cached")

	// Next call retries because nothing was cached.
	_, err2 := c.GetOrFetch(context.Background(), "k", false, fetch)
	require.ErrorIs(t, err2, boom)
	require.EqualValues(t, 2, calls.Load())
}

func TestLRUEviction(t *testing.T) {
	c := testCache(2, time.Minute)
	fetch := func(code string) func(context.Context) (*domain.ReportSnapshot, error) {
		return func(ctx context.Context) (*domain.ReportSnapshot, error) {
			return snapFor(code), nil
		}
	}

	_, err := c.GetOrFetch(context.Background(), "a", false, fetch("A"))
	require.NoError(t, err)
	_, err = c.GetOrFetch(context.Background(), "b", false, fetch("B"))
	require.NoError(t, err)

	// Touch "a" so "b" becomes the LRU victim.
	_, ok := c.Peek("a")
	require.True(t, ok)

	_, err = c.GetOrFetch(context.Background(), "c", false, fetch("C"))
	require.NoError(t, err)

	require.Equal(t, 2, c.Len())
	_, ok = c.Peek("b")
	require.False(t, ok, "LRU victim evicted")
	_, ok = c.Peek("a")
	require.True(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := testCache(4, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	_, err := c.GetOrFetch(context.Background(), "k", false, func(ctx context.Context) (*domain.ReportSnapshot, error) {
		return snapFor("A"), nil
	})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, ok := c.Peek("k")
	require.False(t, ok, "expired entry is a miss")
}

func TestFreshBypassesCache(t *testing.T) {
	c := testCache(4, time.Minute)
	var calls atomic.Int64
	fetch := func(ctx context.Context) (*domain.ReportSnapshot, error) {
		calls.Add(1)
		return snapFor(fmt.Sprintf("v%d", calls.Load())), nil
	}

	first, err := c.GetOrFetch(context.Background(), "k", false, fetch)
	require.NoError(t, err)
	second, err := c.GetOrFetch(context.Background(), "k", true, fetch)
	require.NoError(t, err)

	require.EqualValues(t, 2, calls.Load())
	require.NotSame(t, first, second)

	// The fresh result replaced the cached one.
	cached, ok := c.Peek("k")
	require.True(t, ok)
	require.Same(t, second, cached)
}

// A caller that gives up waiting gets Canceled, but the flight finishes and
// writes its snapshot.
func TestAbandonedWaiterStillWrites(t *testing.T) {
	c := testCache(4, time.Minute)
	release := make(chan struct{})
	written := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.GetOrFetch(ctx, "k", false, func(ctx context.Context) (*domain.ReportSnapshot, error) {
		defer close(written)
		<-release
		return snapFor("A"), nil
	})
	require.True(t, apperr.IsKind(err, apperr.KindCanceled), "got %v", err)

	close(release)
	<-written
	require.Eventually(t, func() bool {
		_, ok := c.Peek("k")
		return ok
	}, time.Second, 5*time.Millisecond, "completed flight writes to the cache")
}
