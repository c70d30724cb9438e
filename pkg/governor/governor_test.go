package governor

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/canopy-network/chainlens/pkg/constellation"
	"github.com/canopy-network/chainlens/pkg/daemon"
	"github.com/canopy-network/chainlens/pkg/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const center = "center0000000000000000000000000000"

// newTestGovernor wires a governor over fixture data and returns a counter of
// balance lookups, which run once per build and therefore expose whether the
// response cache absorbed a request.
func newTestGovernor(t *testing.T, limiter *RateLimiter) (*Governor, *atomic.Int32) {
	t.Helper()
	var balanceCalls atomic.Int32

	f := daemon.NewFixtures()
	f.Register(daemon.MethodBestHeight, func(params []any) (any, error) {
		return 50, nil
	})
	f.Register(daemon.MethodAddressDeltas, func(params []any) (any, error) {
		p := params[0].(map[string]any)
		if p["addresses"].([]string)[0] != center {
			return []daemon.AddressDelta{}, nil
		}
		return []daemon.AddressDelta{
			{Address: center, TxID: "t1", Height: 50, TxIndex: 1, Satoshis: big.NewInt(-700), Counterparty: "peer100000000000000000000000000000"},
		}, nil
	})
	f.Register(daemon.MethodAddressTxCount, func(params []any) (any, error) {
		return 1, nil
	})
	f.Register(daemon.MethodAddressBalance, func(params []any) (any, error) {
		balanceCalls.Add(1)
		return map[string]any{"balance": 123}, nil
	})

	logger := zaptest.NewLogger(t)
	client := daemon.NewWithOpts(daemon.Opts{Fixtures: f, Logger: logger})
	scanner := history.NewScanner(history.ScannerOpts{Daemon: client, Logger: logger})
	enricher := history.NewEnricher(history.EnricherOpts{Daemon: client, Scanner: scanner, Logger: logger})
	builder := constellation.NewBuilder(constellation.BuilderOpts{
		Scanner:  scanner,
		Enricher: enricher,
		Daemon:   client,
		Logger:   logger,
		Config:   constellation.DefaultConfig(),
	})

	return New(Opts{
		Builder:     builder,
		Limiter:     limiter,
		ResponseTTL: time.Minute,
		Logger:      logger,
	}), &balanceCalls
}

func TestGraphServedFromResponseCache(t *testing.T) {
	g, balanceCalls := newTestGovernor(t, nil)

	first, err := g.Graph(context.Background(), center)
	require.NoError(t, err)
	require.NotEmpty(t, first.Nodes)
	built := balanceCalls.Load()
	require.Positive(t, built)

	// A repeat within the TTL must not rebuild.
	second, err := g.Graph(context.Background(), center)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, built, balanceCalls.Load())
}

func TestGraphCoalescesConcurrentRequests(t *testing.T) {
	g, balanceCalls := newTestGovernor(t, nil)

	const n = 8
	var wg sync.WaitGroup
	graphs := make([]*constellation.Graph, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			graph, err := g.Graph(context.Background(), center)
			assert.NoError(t, err)
			graphs[i] = graph
		}(i)
	}
	wg.Wait()

	// One build, shared by everyone: exactly one balance lookup per node of
	// the two-node graph.
	assert.Equal(t, int32(2), balanceCalls.Load())
	for i := 1; i < n; i++ {
		assert.Same(t, graphs[0], graphs[i])
	}
}

func TestAllowDelegatesToLimiter(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(RateLimiterOpts{Capacity: 2, Cooldown: time.Minute, Now: clock.now})
	g, _ := newTestGovernor(t, limiter)

	ok, _ := g.Allow("ip1")
	assert.True(t, ok)
	ok, _ = g.Allow("ip1")
	assert.True(t, ok)
	ok, retryAfter := g.Allow("ip1")
	assert.False(t, ok)
	assert.GreaterOrEqual(t, retryAfter, 1)
}
