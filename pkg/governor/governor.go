package governor

import (
	"context"
	"time"

	"github.com/canopy-network/chainlens/pkg/cache"
	"github.com/canopy-network/chainlens/pkg/constellation"
	"github.com/canopy-network/chainlens/pkg/redis"
	"go.uber.org/zap"
)

// Governor gates constellation builds: per-IP rate limiting, a short-TTL
// response cache whose in-flight table coalesces concurrent builds for the
// same address, and an optional shared Redis layer in front of the builder.
type Governor struct {
	limiter   *RateLimiter
	builder   *constellation.Builder
	responses *cache.Cache[string, *constellation.Graph]
	redis     *redis.Client
	redisTTL  time.Duration
	logger    *zap.Logger
}

// Opts is the set of options for a new Governor.
type Opts struct {
	Builder     *constellation.Builder
	Limiter     *RateLimiter
	ResponseTTL time.Duration
	// Redis is optional; nil disables the shared layer.
	Redis  *redis.Client
	Logger *zap.Logger
}

// New creates a Governor with the given options.
func New(o Opts) *Governor {
	if o.ResponseTTL <= 0 {
		o.ResponseTTL = 60 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Limiter == nil {
		o.Limiter = NewRateLimiter(RateLimiterOpts{})
	}
	return &Governor{
		limiter: o.Limiter,
		builder: o.Builder,
		responses: cache.New[string, *constellation.Graph](cache.Opts{
			Name: "constellation-responses", TTL: o.ResponseTTL, Logger: o.Logger,
		}),
		redis:    o.Redis,
		redisTTL: o.ResponseTTL,
		logger:   o.Logger,
	}
}

// Allow applies the per-identity rate limit. No upstream work happens for a
// denied identity.
func (g *Governor) Allow(identity string) (bool, int) {
	return g.limiter.Allow(identity)
}

// Graph returns the constellation for address, served from cache when fresh;
// concurrent callers for the same address share one build.
func (g *Governor) Graph(ctx context.Context, address string) (*constellation.Graph, error) {
	return g.responses.Get(ctx, address, func(ctx context.Context) (*constellation.Graph, error) {
		if g.redis != nil {
			var cached constellation.Graph
			ok, err := g.redis.GetJSON(ctx, redisKey(address), &cached)
			if err != nil {
				g.logger.Warn("Redis response cache read failed", zap.Error(err))
			} else if ok {
				return &cached, nil
			}
		}

		graph, err := g.builder.Build(ctx, address)
		if err != nil {
			return nil, err
		}
		if g.redis != nil {
			g.redis.SetJSON(ctx, redisKey(address), graph, g.redisTTL)
		}
		return graph, nil
	})
}

func redisKey(address string) string {
	return "constellation:" + address
}
