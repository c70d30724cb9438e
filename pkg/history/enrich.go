package history

import (
	"context"
	"errors"
	"math/big"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/chainlens/pkg/daemon"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// Summary is per-transaction enrichment derived from the block's full delta
// listing, relative to one address. Computed per page, never cached beyond it.
type Summary struct {
	From     []string
	To       []string
	Fee      *big.Int
	Change   *big.Int
	ToOthers *big.Int
	Coinbase bool
}

// Enricher resolves counterparty and fee/change breakdowns for a page of
// grouped transactions by fetching each touched block's deltas on a bounded
// worker pool. Per-block failures degrade the affected transactions instead
// of failing the page.
type Enricher struct {
	daemon  *daemon.Client
	scanner *Scanner
	pool    pond.Pool
	logger  *zap.Logger
}

// EnricherOpts is the set of options for a new Enricher.
type EnricherOpts struct {
	Daemon  *daemon.Client
	Scanner *Scanner
	Workers int
	Logger  *zap.Logger
}

// NewEnricher creates an Enricher with the given options.
func NewEnricher(o EnricherOpts) *Enricher {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Enricher{
		daemon:  o.Daemon,
		scanner: o.Scanner,
		pool:    pond.NewPool(o.Workers),
		logger:  o.Logger,
	}
}

// Summarize computes a Summary per txid for the page, relative to address.
// Transactions whose block fetch failed are simply absent from the result.
func (e *Enricher) Summarize(ctx context.Context, address string, txs []GroupedTransaction) map[string]*Summary {
	heights := map[uint64]bool{}
	for i := range txs {
		heights[txs[i].Height] = true
	}

	blocks := xsync.NewMap[uint64, *daemon.BlockDeltas]()
	group := e.pool.NewGroupContext(ctx)
	for h := range heights {
		group.Submit(func() {
			hdr, err := e.scanner.HeaderByHeight(ctx, h)
			if err != nil {
				e.logger.Debug("enrichment header lookup failed",
					zap.Uint64("height", h), zap.Error(err))
				return
			}
			bd, err := e.daemon.BlockDeltas(ctx, hdr.Hash)
			if err != nil {
				e.logger.Debug("enrichment block fetch failed",
					zap.Uint64("height", h), zap.String("hash", hdr.Hash), zap.Error(err))
				return
			}
			blocks.Store(h, bd)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		e.logger.Warn("enrichment fan-out error", zap.Error(err))
	}

	out := make(map[string]*Summary, len(txs))
	for i := range txs {
		t := &txs[i]
		bd, ok := blocks.Load(t.Height)
		if !ok {
			continue
		}
		for j := range bd.Deltas {
			if bd.Deltas[j].TxID == t.TxID {
				out[t.TxID] = summarize(address, &bd.Deltas[j])
				break
			}
		}
	}
	return out
}

// summarize computes the IO breakdown of one transaction relative to address.
func summarize(address string, tx *daemon.TxDeltas) *Summary {
	s := &Summary{
		Fee:      new(big.Int),
		Change:   new(big.Int),
		ToOthers: new(big.Int),
	}

	totalIn := new(big.Int)
	totalOut := new(big.Int)
	sentBy := new(big.Int)
	recvBy := new(big.Int)

	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		if in.Satoshis != nil {
			// Input satoshis are recorded negative.
			abs := new(big.Int).Neg(in.Satoshis)
			totalIn.Add(totalIn, abs)
			if in.Address == address {
				sentBy.Add(sentBy, abs)
			}
		}
		if in.Address != "" && !contains(s.From, in.Address) {
			s.From = append(s.From, in.Address)
		}
	}
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		if out.Satoshis != nil {
			totalOut.Add(totalOut, out.Satoshis)
			if out.Address == address {
				recvBy.Add(recvBy, out.Satoshis)
			}
		}
		if out.Address != "" && !contains(s.To, out.Address) {
			s.To = append(s.To, out.Address)
		}
	}

	s.Coinbase = tx.Index == 0 || len(tx.Inputs) == 0
	if !s.Coinbase {
		if fee := new(big.Int).Sub(totalIn, totalOut); fee.Sign() > 0 {
			s.Fee = fee
		}
	}
	if sentBy.Sign() > 0 {
		// Amount returned to the address when it was also a sender.
		s.Change.Set(recvBy)
	}
	// toOthers = max(0, sent - (received - change))
	toOthers := new(big.Int).Sub(recvBy, s.Change)
	toOthers.Sub(sentBy, toOthers)
	if toOthers.Sign() > 0 {
		s.ToOthers = toOthers
	}
	return s
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
