package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"raidwatch/internal/apperr"
	"raidwatch/internal/config"
	"raidwatch/internal/domain"
)

// Cache holds published snapshots keyed by fingerprint, bounded by an LRU
// capacity and a soft TTL. Concurrent misses on one fingerprint collapse
// into a single fetch; every waiter gets the same snapshot or the same
// error. Errors are never cached.
type Cache struct {
	logger     zerolog.Logger
	capacity   int
	ttl        time.Duration
	serveStale bool

	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // front = most recently used

	group singleflight.Group
	now   func() time.Time
}

type entry struct {
	key       string
	snap      *domain.ReportSnapshot
	createdAt time.Time
	elem      *list.Element
}

func New(cfg *config.Config, logger zerolog.Logger) *Cache {
	return &Cache{
		logger:   logger,
		capacity: cfg.CacheCapacity,
		ttl:      cfg.CacheTTL,
		entries:  map[string]*entry{},
		order:    list.New(),
		now:      time.Now,
	}
}

// Peek returns the cached snapshot for key, refreshing its LRU position.
// Expired entries count as misses unless stale serving is enabled.
func (c *Cache) Peek(key string) (*domain.ReportSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(e.createdAt) > c.ttl && !c.serveStale {
		c.removeLocked(e)
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	return e.snap, true
}

// GetOrFetch returns the cached snapshot or runs fetch once for all
// concurrent callers of the same key. fresh bypasses the read and
// invalidates the entry before the fetched result is written.
//
// The fetch runs detached from the caller's context: a caller that is
// canceled or times out stops waiting, but the flight completes and writes
// its result so the work is never wasted.
func (c *Cache) GetOrFetch(
	ctx context.Context,
	key string,
	fresh bool,
	fetch func(ctx context.Context) (*domain.ReportSnapshot, error),
) (*domain.ReportSnapshot, error) {
	if fresh {
		c.Invalidate(key)
	} else if snap, ok := c.Peek(key); ok {
		return snap, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		if !fresh {
			if snap, ok := c.Peek(key); ok {
				return snap, nil
			}
		}
		snap, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.store(key, snap)
		return snap, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.ReportSnapshot), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.KindTimeout, ctx.Err(), "gave up waiting for snapshot %s", key)
		}
		return nil, apperr.Wrap(apperr.KindCanceled, ctx.Err(), "stopped waiting for snapshot %s", key)
	}
}

// Invalidate removes the entry for key, if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) store(key string, snap *domain.ReportSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.snap = snap
		e.createdAt = c.now()
		c.order.MoveToFront(e.elem)
		return
	}

	e := &entry{key: key, snap: snap, createdAt: c.now()}
	e.elem = c.order.PushFront(e)
	c.entries[key] = e

	for len(c.entries) > c.capacity {
		victim := c.order.Back()
		if victim == nil {
			break
		}
		evicted := victim.Value.(*entry)
		c.removeLocked(evicted)
		c.logger.Debug().Str("key", evicted.key).Msg("evicted snapshot")
	}
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}
