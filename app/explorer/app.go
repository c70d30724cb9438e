package explorer

import (
	"context"

	"github.com/canopy-network/chainlens/app/explorer/types"
	"github.com/canopy-network/chainlens/pkg/constellation"
	"github.com/canopy-network/chainlens/pkg/daemon"
	"github.com/canopy-network/chainlens/pkg/governor"
	"github.com/canopy-network/chainlens/pkg/history"
	"github.com/canopy-network/chainlens/pkg/logging"
	"github.com/canopy-network/chainlens/pkg/redis"
	"github.com/canopy-network/chainlens/pkg/utils"
	"go.uber.org/zap"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	node := daemon.NewWithOpts(daemon.Opts{
		URL:      utils.Env("DAEMON_RPC_URL", "http://localhost:8332"),
		Username: utils.Env("DAEMON_RPC_USER", ""),
		Password: utils.Env("DAEMON_RPC_PASSWORD", ""),
		Timeout:  utils.EnvDuration("DAEMON_RPC_TIMEOUT", 0),
		Logger:   logger,
	})

	scanner := history.NewScanner(history.ScannerOpts{
		Daemon:     node,
		Logger:     logger,
		WindowSize: uint64(utils.EnvInt("SCAN_WINDOW_SIZE", 10_000)),
	})

	enricher := history.NewEnricher(history.EnricherOpts{
		Daemon:  node,
		Scanner: scanner,
		Workers: utils.EnvInt("ENRICH_WORKERS", 4),
		Logger:  logger,
	})

	builder := constellation.NewBuilder(constellation.BuilderOpts{
		Scanner:  scanner,
		Enricher: enricher,
		Daemon:   node,
		Logger:   logger,
		Config:   constellation.DefaultConfig(),
	})

	// Optional shared response cache; in-process caching still applies when
	// Redis is absent.
	var redisClient *redis.Client
	if utils.Env("REDIS_ENABLED", "false") == "true" {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - constellation responses will only be cached in-process",
				zap.Error(err))
			redisClient = nil
		}
	}

	gov := governor.New(governor.Opts{
		Builder: builder,
		Limiter: governor.NewRateLimiter(governor.RateLimiterOpts{
			Capacity:     float64(utils.EnvInt("RATE_LIMIT_CAPACITY", 10)),
			RefillPerSec: 0.5,
			Cooldown:     utils.EnvDuration("RATE_LIMIT_COOLDOWN", 0),
		}),
		ResponseTTL: utils.EnvDuration("CONSTELLATION_CACHE_TTL", 0),
		Redis:       redisClient,
		Logger:      logger,
	})

	return &types.App{
		Daemon:   node,
		Scanner:  scanner,
		Enricher: enricher,
		Governor: gov,
		Redis:    redisClient,
		Logger:   logger,
	}
}
