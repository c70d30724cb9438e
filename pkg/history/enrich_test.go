package history

import (
	"context"
	"math/big"
	"testing"

	"github.com/canopy-network/chainlens/pkg/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func ioEntry(address string, sat int64) daemon.IOEntry {
	return daemon.IOEntry{Address: address, Satoshis: big.NewInt(sat)}
}

func TestSummarizeSpend(t *testing.T) {
	// A spends 1000, pays B 600, gets 300 change; 100 is the fee.
	tx := &daemon.TxDeltas{
		TxID:    "spend",
		Index:   3,
		Inputs:  []daemon.IOEntry{ioEntry("A", -1000)},
		Outputs: []daemon.IOEntry{ioEntry("B", 600), ioEntry("A", 300)},
	}
	s := summarize("A", tx)

	assert.False(t, s.Coinbase)
	assert.Equal(t, []string{"A"}, s.From)
	assert.ElementsMatch(t, []string{"A", "B"}, s.To)
	assert.Equal(t, int64(100), s.Fee.Int64())
	assert.Equal(t, int64(300), s.Change.Int64())
	assert.Equal(t, int64(1000), s.ToOthers.Int64())
}

func TestSummarizeReceive(t *testing.T) {
	tx := &daemon.TxDeltas{
		TxID:    "recv",
		Index:   1,
		Inputs:  []daemon.IOEntry{ioEntry("B", -500)},
		Outputs: []daemon.IOEntry{ioEntry("A", 400), ioEntry("B", 50)},
	}
	s := summarize("A", tx)

	assert.False(t, s.Coinbase)
	assert.Equal(t, int64(50), s.Fee.Int64())
	// A sent nothing, so nothing counts as change or as paid to others.
	assert.Zero(t, s.Change.Sign())
	assert.Zero(t, s.ToOthers.Sign())
}

func TestSummarizeCoinbase(t *testing.T) {
	tx := &daemon.TxDeltas{
		TxID:    "cb",
		Index:   0,
		Outputs: []daemon.IOEntry{ioEntry("A", 5000)},
	}
	s := summarize("A", tx)

	assert.True(t, s.Coinbase)
	// Coinbase mints value; no fee is attributed.
	assert.Zero(t, s.Fee.Sign())
	assert.Empty(t, s.From)
}

func TestSummarizePageDegradesPerBlock(t *testing.T) {
	chain := &chainFixture{
		tip: 10,
		blocks: map[uint64]daemon.BlockDeltas{
			7: {Hash: "hash-7", Height: 7, Deltas: []daemon.TxDeltas{{
				TxID:    "t7",
				Index:   2,
				Inputs:  []daemon.IOEntry{ioEntry("A", -900)},
				Outputs: []daemon.IOEntry{ioEntry("B", 850)},
			}}},
			// Height 9 intentionally missing: its block fetch fails.
		},
	}
	logger := zaptest.NewLogger(t)
	client := daemon.NewWithOpts(daemon.Opts{Fixtures: chain.fixtures(), Logger: logger})
	scanner := NewScanner(ScannerOpts{Daemon: client, Logger: logger})
	e := NewEnricher(EnricherOpts{Daemon: client, Scanner: scanner, Workers: 2, Logger: logger})

	txs := []GroupedTransaction{
		{TxID: "t7", Height: 7, TxIndex: 2, Net: big.NewInt(-900), Received: big.NewInt(0), Sent: big.NewInt(900)},
		{TxID: "t9", Height: 9, TxIndex: 1, Net: big.NewInt(100), Received: big.NewInt(100), Sent: big.NewInt(0)},
	}
	summaries := e.Summarize(context.Background(), "A", txs)

	require.Contains(t, summaries, "t7")
	assert.Equal(t, []string{"B"}, summaries["t7"].To)
	assert.Equal(t, int64(50), summaries["t7"].Fee.Int64())
	// The failed block degrades just its own transactions.
	assert.NotContains(t, summaries, "t9")
}
