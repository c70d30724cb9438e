package history

import (
	"math/big"
	"slices"
	"sort"

	"github.com/canopy-network/chainlens/pkg/daemon"
)

type groupKey struct {
	height  uint64
	txIndex uint32
	txid    string
}

// Group folds raw address deltas into one GroupedTransaction per
// (height, txIndex, txid) key, summing net/received/sent, and returns them
// newest-first. Grouping is keyed, so the result is independent of the input
// order.
func Group(deltas []daemon.AddressDelta) []GroupedTransaction {
	acc := make(map[groupKey]*GroupedTransaction, len(deltas))
	for _, d := range deltas {
		k := groupKey{height: d.Height, txIndex: d.TxIndex, txid: d.TxID}
		g, ok := acc[k]
		if !ok {
			g = &GroupedTransaction{
				TxID:     d.TxID,
				Height:   d.Height,
				TxIndex:  d.TxIndex,
				Net:      new(big.Int),
				Received: new(big.Int),
				Sent:     new(big.Int),
			}
			acc[k] = g
		}
		sat := d.Satoshis
		if sat == nil {
			continue
		}
		g.Net.Add(g.Net, sat)
		if sat.Sign() >= 0 {
			g.Received.Add(g.Received, sat)
		} else {
			g.Sent.Sub(g.Sent, sat)
		}
		if d.Counterparty != "" && d.Counterparty != d.Address && !slices.Contains(g.Counterparties, d.Counterparty) {
			g.Counterparties = append(g.Counterparties, d.Counterparty)
		}
	}

	out := make([]GroupedTransaction, 0, len(acc))
	for _, g := range acc {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].precedes(&out[j])
	})
	return out
}
