package governor

import (
	"math"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// RateLimiter is a per-identity token bucket. Tokens refill continuously up
// to capacity; an identity that runs dry is blocked for a fixed cooldown and
// keeps returning a consistent retry-after until the block lapses.
type RateLimiter struct {
	capacity  float64
	refillSec float64
	cost      float64
	cooldown  time.Duration
	buckets   *xsync.Map[string, *bucket]
	now       func() time.Time
}

type bucket struct {
	mu           sync.Mutex
	tokens       float64
	lastRefill   time.Time
	blockedUntil time.Time
}

// RateLimiterOpts is the set of options for a new RateLimiter.
type RateLimiterOpts struct {
	Capacity     float64
	RefillPerSec float64
	Cost         float64
	Cooldown     time.Duration
	// Now is injectable for tests.
	Now func() time.Time
}

// NewRateLimiter creates a limiter with the given options.
func NewRateLimiter(o RateLimiterOpts) *RateLimiter {
	if o.Capacity <= 0 {
		o.Capacity = 10
	}
	if o.RefillPerSec <= 0 {
		o.RefillPerSec = 0.5
	}
	if o.Cost <= 0 {
		o.Cost = 1
	}
	if o.Cooldown <= 0 {
		o.Cooldown = time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &RateLimiter{
		capacity:  o.Capacity,
		refillSec: o.RefillPerSec,
		cost:      o.Cost,
		cooldown:  o.Cooldown,
		buckets:   xsync.NewMap[string, *bucket](),
		now:       o.Now,
	}
}

// Allow reports whether id may proceed. When denied it returns the whole
// number of seconds to wait before retrying, at least 1.
func (l *RateLimiter) Allow(id string) (bool, int) {
	b, _ := l.buckets.LoadOrStore(id, &bucket{tokens: l.capacity, lastRefill: l.now()})
	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	if now.Before(b.blockedUntil) {
		return false, retryAfterSeconds(b.blockedUntil.Sub(now))
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = math.Min(l.capacity, b.tokens+elapsed*l.refillSec)
	b.lastRefill = now

	if b.tokens >= l.cost {
		b.tokens -= l.cost
		return true, 0
	}

	b.blockedUntil = now.Add(l.cooldown)
	return false, retryAfterSeconds(l.cooldown)
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
