package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// Cache is a keyed TTL cache with request coalescing: concurrent Gets for the
// same key share exactly one fetch, and stale entries are swept lazily at
// most once per sweep interval. Instances are constructed once at process
// start and injected; there is no package-level state.
type Cache[K comparable, V any] struct {
	name       string
	ttl        time.Duration
	sweepEvery time.Duration
	entries    *xsync.Map[K, entry[V]]
	inflight   *xsync.Map[K, *flight[V]]
	lastSweep  atomic.Int64 // unix nanos
	logger     *zap.Logger
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

type flight[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// Opts is the set of options for a new Cache.
type Opts struct {
	Name       string
	TTL        time.Duration
	SweepEvery time.Duration
	Logger     *zap.Logger
}

// New creates a cache instance with the given options.
func New[K comparable, V any](o Opts) *Cache[K, V] {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}
	if o.SweepEvery <= 0 {
		o.SweepEvery = time.Minute
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Cache[K, V]{
		name:       o.Name,
		ttl:        o.TTL,
		sweepEvery: o.SweepEvery,
		entries:    xsync.NewMap[K, entry[V]](),
		inflight:   xsync.NewMap[K, *flight[V]](),
		logger:     o.Logger,
	}
}

// Get returns the live entry for key, joins an in-flight fetch for it, or
// starts fetch and shares the outcome (value or error) with every concurrent
// caller. Only successful results are stored.
func (c *Cache[K, V]) Get(ctx context.Context, key K, fetch func(ctx context.Context) (V, error)) (V, error) {
	c.sweepIfDue()

	if e, ok := c.entries.Load(key); ok && time.Since(e.insertedAt) <= c.ttl {
		return e.value, nil
	}

	f := &flight[V]{done: make(chan struct{})}
	if cur, loaded := c.inflight.LoadOrStore(key, f); loaded {
		select {
		case <-cur.done:
			return cur.value, cur.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}

	f.value, f.err = fetch(ctx)
	if f.err == nil {
		c.entries.Store(key, entry[V]{value: f.value, insertedAt: time.Now()})
	}
	c.inflight.Delete(key)
	close(f.done)
	return f.value, f.err
}

// Peek returns the live entry for key without fetching.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	if e, ok := c.entries.Load(key); ok && time.Since(e.insertedAt) <= c.ttl {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Put stores a value with the current timestamp.
func (c *Cache[K, V]) Put(key K, value V) {
	c.entries.Store(key, entry[V]{value: value, insertedAt: time.Now()})
}

// Invalidate drops the entry for key, if any.
func (c *Cache[K, V]) Invalidate(key K) {
	c.entries.Delete(key)
}

// Len returns the number of stored entries, live or stale.
func (c *Cache[K, V]) Len() int {
	return c.entries.Size()
}

// sweepIfDue removes expired entries, at most once per sweep interval so the
// sweep cost is not paid on every access.
func (c *Cache[K, V]) sweepIfDue() {
	now := time.Now()
	last := c.lastSweep.Load()
	if now.UnixNano()-last < c.sweepEvery.Nanoseconds() {
		return
	}
	if !c.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}

	removed := 0
	c.entries.Range(func(k K, e entry[V]) bool {
		if now.Sub(e.insertedAt) > c.ttl {
			c.entries.Delete(k)
			removed++
		}
		return true
	})
	if removed > 0 {
		c.logger.Debug("swept expired cache entries",
			zap.String("cache", c.name),
			zap.Int("removed", removed))
	}
}
