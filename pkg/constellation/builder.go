package constellation

import (
	"context"
	"errors"
	"math"
	"math/big"
	"sort"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/chainlens/pkg/daemon"
	"github.com/canopy-network/chainlens/pkg/history"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// Config bounds the builder's work. Every cap exists to keep one request's
// upstream cost and latency predictable.
type Config struct {
	TotalBudget      time.Duration
	BudgetFloor      time.Duration
	RootScanLimit    int
	HopScanLimit     int
	FirstHopCap      int
	SecondHopExpand  int
	SecondHopCap     int
	PerParentCap     int
	HopWorkers       int
	BalanceWorkers   int
	BalanceTimeout   time.Duration
	CoverageRatio    float64
	ReconstructBatch int
}

// DefaultConfig returns the production caps.
func DefaultConfig() Config {
	return Config{
		TotalBudget:      10 * time.Second,
		BudgetFloor:      500 * time.Millisecond,
		RootScanLimit:    250,
		HopScanLimit:     150,
		FirstHopCap:      24,
		SecondHopExpand:  8,
		SecondHopCap:     30,
		PerParentCap:     3,
		HopWorkers:       3,
		BalanceWorkers:   6,
		BalanceTimeout:   2 * time.Second,
		CoverageRatio:    0.5,
		ReconstructBatch: 20,
	}
}

// Builder expands a target address into a bounded two-hop transaction
// neighborhood under a wall-clock budget. Budget exhaustion truncates the
// graph; it never fails the request.
type Builder struct {
	scanner  *history.Scanner
	enricher *history.Enricher
	daemon   *daemon.Client
	logger   *zap.Logger
	cfg      Config

	hopPool     pond.Pool
	balancePool pond.Pool
}

// BuilderOpts is the set of options for a new Builder.
type BuilderOpts struct {
	Scanner  *history.Scanner
	Enricher *history.Enricher
	Daemon   *daemon.Client
	Logger   *zap.Logger
	Config   Config
}

// NewBuilder creates a Builder with the given options.
func NewBuilder(o BuilderOpts) *Builder {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	def := DefaultConfig()
	if o.Config.TotalBudget <= 0 {
		o.Config = def
	}
	if o.Config.HopWorkers <= 0 {
		o.Config.HopWorkers = def.HopWorkers
	}
	if o.Config.BalanceWorkers <= 0 {
		o.Config.BalanceWorkers = def.BalanceWorkers
	}
	return &Builder{
		scanner:     o.Scanner,
		enricher:    o.Enricher,
		daemon:      o.Daemon,
		logger:      o.Logger,
		cfg:         o.Config,
		hopPool:     pond.NewPool(o.Config.HopWorkers),
		balancePool: pond.NewPool(o.Config.BalanceWorkers),
	}
}

// candidate accumulates one address's relationship to its anchor.
type candidate struct {
	addr     string
	parent   string
	txCount  uint64
	inbound  uint64
	outbound uint64
	volume   *big.Int
}

func newCandidate(addr, parent string) *candidate {
	return &candidate{addr: addr, parent: parent, volume: new(big.Int)}
}

// score ranks candidates by aggregated volume and activity.
func (c *candidate) score() float64 {
	v, _ := new(big.Float).SetInt(c.volume).Float64()
	return math.Log10(v+1)*0.7 + math.Log10(float64(c.txCount)+1)*0.3
}

type edgeKey struct{ a, b string }

func newEdgeKey(x, y string) edgeKey {
	if x < y {
		return edgeKey{a: x, b: y}
	}
	return edgeKey{a: y, b: x}
}

// edgeAgg accumulates flow over one unordered pair. toAnchor/fromAnchor count
// transfers toward/away from the edge's anchor address and only classify
// direction.
type edgeAgg struct {
	txCount    uint64
	volume     *big.Int
	toAnchor   uint64
	fromAnchor uint64
}

// Build assembles the constellation for address. Failures of the root scan
// surface; everything downstream degrades into a smaller graph.
func (b *Builder) Build(ctx context.Context, address string) (*Graph, error) {
	budget := NewBudget(b.cfg.TotalBudget, b.cfg.BudgetFloor)
	g := &Graph{Center: address, GeneratedAt: time.Now().UTC()}

	rootAgg := newCandidate(address, "")
	edges := map[edgeKey]*edgeAgg{}
	firstPool := map[string]*candidate{}

	// Step 1: root scan. Reward-like transactions are skipped during
	// attribution; they dominate volume without representing relationships.
	rootTxs, err := b.scanRecent(ctx, budget, address, b.cfg.RootScanLimit)
	if err != nil {
		if errors.Is(err, ErrBudgetExhausted) {
			g.Truncated.Requests = true
			return g, nil
		}
		return nil, err
	}
	g.Stats.AnalyzedTransactions += len(rootTxs)

	// Step 2: attribute root volume to counterparties.
	b.attribute(ctx, budget, address, rootTxs, firstPool, nil, rootAgg, edges, &g.Truncated)

	// Step 3: rank and cap first hop.
	first := rankCandidates(firstPool)
	if len(first) > b.cfg.FirstHopCap {
		first = first[:b.cfg.FirstHopCap]
		g.Truncated.FirstHop = true
	}
	firstSet := map[string]bool{address: true}
	for _, c := range first {
		firstSet[c.addr] = true
	}

	// Step 4: expand a smaller subset of first-hop nodes one hop further.
	secondPool := b.expandSecondHop(ctx, budget, first, firstSet, edges, g)

	// Step 5: fair second-hop selection.
	second := b.selectSecond(first, secondPool)
	if len(secondPool) > len(second) {
		g.Truncated.SecondHop = true
	}

	// Step 6: balances, bounded and best-effort.
	ids := make([]string, 0, 1+len(first)+len(second))
	ids = append(ids, address)
	for _, c := range first {
		ids = append(ids, c.addr)
	}
	for _, c := range second {
		ids = append(ids, c.addr)
	}
	balances := b.resolveBalances(ctx, budget, ids, &g.Truncated)

	// Step 7: assemble.
	b.assemble(g, rootAgg, first, second, edges, balances)
	return g, nil
}

// scanRecent runs one bounded history scan under the budget.
func (b *Builder) scanRecent(ctx context.Context, budget *Budget, address string, limit int) ([]history.GroupedTransaction, error) {
	cctx, cancel, err := budget.Context(ctx, 0)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return b.scanner.Recent(cctx, address, limit)
}

// rewardLike reports coinbase or received-with-no-known-sender transactions.
func rewardLike(t *history.GroupedTransaction) bool {
	if t.Coinbase() {
		return true
	}
	return t.Net.Sign() > 0 && t.Sent.Sign() == 0 && len(t.Counterparties) == 0
}

// attribute folds anchor's transactions into per-counterparty candidates and
// edges. When too few transactions carry direct counterparties, the missing
// ones are reconstructed from full block data in bounded batches.
func (b *Builder) attribute(
	ctx context.Context,
	budget *Budget,
	anchor string,
	txs []history.GroupedTransaction,
	pool map[string]*candidate,
	exclude map[string]bool,
	anchorAgg *candidate,
	edges map[edgeKey]*edgeAgg,
	trunc *Truncated,
) {
	kept := make([]*history.GroupedTransaction, 0, len(txs))
	counterparties := make(map[string][]string, len(txs))
	direct := 0
	var pending []history.GroupedTransaction

	for i := range txs {
		t := &txs[i]
		if rewardLike(t) {
			continue
		}
		kept = append(kept, t)
		if len(t.Counterparties) > 0 {
			direct++
			counterparties[t.TxID] = t.Counterparties
		} else {
			pending = append(pending, *t)
		}
	}
	if len(kept) == 0 {
		return
	}

	// Full reconstruction is expensive; only pay for it when direct
	// attribution misses too often.
	coverage := float64(direct) / float64(len(kept))
	if coverage < b.cfg.CoverageRatio && len(pending) > 0 {
		b.reconstruct(ctx, budget, anchor, pending, counterparties, trunc)
	}

	for _, t := range kept {
		cps := make([]string, 0, len(counterparties[t.TxID]))
		for _, cp := range counterparties[t.TxID] {
			if cp == anchor || (exclude != nil && exclude[cp]) {
				continue
			}
			cps = append(cps, cp)
		}
		if len(cps) == 0 {
			continue
		}

		amount := new(big.Int).Abs(t.Net)
		// Even split across counterparties.
		share := new(big.Int).Div(amount, big.NewInt(int64(len(cps))))
		sent := t.Net.Sign() < 0

		if anchorAgg != nil {
			anchorAgg.txCount++
			anchorAgg.volume.Add(anchorAgg.volume, amount)
			if sent {
				anchorAgg.outbound++
			} else {
				anchorAgg.inbound++
			}
		}

		for _, cp := range cps {
			c, ok := pool[cp]
			if !ok {
				c = newCandidate(cp, anchor)
				pool[cp] = c
			}
			c.txCount++
			c.volume.Add(c.volume, share)
			if sent {
				c.inbound++
			} else {
				c.outbound++
			}

			e, ok := edges[newEdgeKey(anchor, cp)]
			if !ok {
				e = &edgeAgg{volume: new(big.Int)}
				edges[newEdgeKey(anchor, cp)] = e
			}
			e.txCount++
			e.volume.Add(e.volume, share)
			if sent {
				e.fromAnchor++
			} else {
				e.toAnchor++
			}
		}
	}
}

// reconstruct fills counterparty lists from full input/output data, in
// batches, stopping when the budget runs out. Each batch is best-effort.
func (b *Builder) reconstruct(
	ctx context.Context,
	budget *Budget,
	anchor string,
	pending []history.GroupedTransaction,
	counterparties map[string][]string,
	trunc *Truncated,
) {
	batch := b.cfg.ReconstructBatch
	if batch <= 0 {
		batch = 20
	}
	for lo := 0; lo < len(pending); lo += batch {
		hi := lo + batch
		if hi > len(pending) {
			hi = len(pending)
		}
		cctx, cancel, err := budget.Context(ctx, 0)
		if err != nil {
			trunc.Requests = true
			return
		}
		summaries := b.enricher.Summarize(cctx, anchor, pending[lo:hi])
		cancel()

		for i := lo; i < hi; i++ {
			t := &pending[i]
			s, ok := summaries[t.TxID]
			if !ok {
				continue
			}
			// Outgoing transactions relate the anchor to recipients,
			// incoming ones to senders.
			var cps []string
			if t.Net.Sign() < 0 {
				cps = s.To
			} else {
				cps = s.From
			}
			for _, cp := range cps {
				if cp != anchor {
					counterparties[t.TxID] = append(counterparties[t.TxID], cp)
				}
			}
		}
	}
}

// expandSecondHop scans a capped subset of first-hop nodes on a bounded pool
// and attributes their counterparties into a second-hop candidate pool.
func (b *Builder) expandSecondHop(
	ctx context.Context,
	budget *Budget,
	first []*candidate,
	firstSet map[string]bool,
	edges map[edgeKey]*edgeAgg,
	g *Graph,
) map[string]*candidate {
	expand := first
	if len(expand) > b.cfg.SecondHopExpand {
		expand = expand[:b.cfg.SecondHopExpand]
	}

	type hopResult struct {
		parent string
		txs    []history.GroupedTransaction
	}
	results := xsync.NewMap[string, hopResult]()

	var exhausted atomic.Bool
	group := b.hopPool.NewGroupContext(ctx)
	submitted := 0
	for _, parent := range expand {
		if budget.Exhausted() {
			exhausted.Store(true)
			break
		}
		submitted++
		group.Submit(func() {
			txs, err := b.scanRecent(ctx, budget, parent.addr, b.cfg.HopScanLimit)
			if err != nil {
				if errors.Is(err, ErrBudgetExhausted) {
					exhausted.Store(true)
					return
				}
				b.logger.Debug("hop expansion scan failed",
					zap.String("address", parent.addr), zap.Error(err))
				return
			}
			results.Store(parent.addr, hopResult{parent: parent.addr, txs: txs})
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		b.logger.Warn("hop expansion fan-out error", zap.Error(err))
	}
	g.Stats.HopRequests += submitted
	if exhausted.Load() {
		g.Truncated.Requests = true
	}

	pool := map[string]*candidate{}
	for _, parent := range expand {
		res, ok := results.Load(parent.addr)
		if !ok {
			continue
		}
		g.Stats.AnalyzedTransactions += len(res.txs)
		b.attribute(ctx, budget, parent.addr, res.txs, pool, firstSet, nil, edges, &g.Truncated)
	}
	return pool
}

// selectSecond picks final second-hop nodes round-robin across first-hop
// parents (capped per parent), topping up from the global ranking when
// fairness under-fills the cap.
func (b *Builder) selectSecond(first []*candidate, pool map[string]*candidate) []*candidate {
	byParent := map[string][]*candidate{}
	for _, c := range pool {
		byParent[c.parent] = append(byParent[c.parent], c)
	}
	for _, list := range byParent {
		sortByScore(list)
	}

	selected := make([]*candidate, 0, b.cfg.SecondHopCap)
	taken := map[string]bool{}

	for round := 0; round < b.cfg.PerParentCap && len(selected) < b.cfg.SecondHopCap; round++ {
		for _, parent := range first {
			list := byParent[parent.addr]
			if round >= len(list) {
				continue
			}
			c := list[round]
			if taken[c.addr] {
				continue
			}
			taken[c.addr] = true
			selected = append(selected, c)
			if len(selected) == b.cfg.SecondHopCap {
				break
			}
		}
	}

	if len(selected) < b.cfg.SecondHopCap {
		rest := rankCandidates(pool)
		for _, c := range rest {
			if taken[c.addr] {
				continue
			}
			taken[c.addr] = true
			selected = append(selected, c)
			if len(selected) == b.cfg.SecondHopCap {
				break
			}
		}
	}
	return selected
}

// resolveBalances looks up balances with bounded concurrency; each lookup has
// its own timeout and failures yield null balances, never an error.
func (b *Builder) resolveBalances(ctx context.Context, budget *Budget, ids []string, trunc *Truncated) map[string]*big.Int {
	found := xsync.NewMap[string, *big.Int]()
	var exhausted atomic.Bool
	group := b.balancePool.NewGroupContext(ctx)
	for _, id := range ids {
		if budget.Exhausted() {
			exhausted.Store(true)
			break
		}
		group.Submit(func() {
			cctx, cancel, err := budget.Context(ctx, b.cfg.BalanceTimeout)
			if err != nil {
				exhausted.Store(true)
				return
			}
			defer cancel()
			bal, err := b.daemon.AddressBalance(cctx, id)
			if err != nil {
				b.logger.Debug("balance lookup failed",
					zap.String("address", id), zap.Error(err))
				return
			}
			if bal != nil && bal.Balance != nil {
				found.Store(id, bal.Balance)
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		b.logger.Warn("balance fan-out error", zap.Error(err))
	}
	if exhausted.Load() {
		trunc.Requests = true
	}

	out := make(map[string]*big.Int, len(ids))
	found.Range(func(k string, v *big.Int) bool {
		out[k] = v
		return true
	})
	return out
}

// assemble finalizes nodes and edges: direction relative to each edge's
// anchor and strength normalized against the strongest edge.
func (b *Builder) assemble(g *Graph, root *candidate, first, second []*candidate, edges map[edgeKey]*edgeAgg, balances map[string]*big.Int) {
	include := map[string]int{root.addr: 0}
	appendNode := func(c *candidate, hop int) {
		n := Node{
			ID:              c.addr,
			Hop:             hop,
			TxCount:         c.txCount,
			Volume:          c.volume.String(),
			InboundTxCount:  c.inbound,
			OutboundTxCount: c.outbound,
			Score:           c.score(),
		}
		if bal, ok := balances[c.addr]; ok {
			s := bal.String()
			n.Balance = &s
		}
		g.Nodes = append(g.Nodes, n)
	}

	appendNode(root, 0)
	for _, c := range first {
		include[c.addr] = 1
		appendNode(c, 1)
	}
	for _, c := range second {
		include[c.addr] = 2
		appendNode(c, 2)
	}

	maxVolume := new(big.Float)
	kept := make([]edgeKey, 0, len(edges))
	for k, e := range edges {
		if _, ok := include[k.a]; !ok {
			continue
		}
		if _, ok := include[k.b]; !ok {
			continue
		}
		kept = append(kept, k)
		if v := new(big.Float).SetInt(e.volume); v.Cmp(maxVolume) > 0 {
			maxVolume = v
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].a != kept[j].a {
			return kept[i].a < kept[j].a
		}
		return kept[i].b < kept[j].b
	})

	for _, k := range kept {
		e := edges[k]
		direction := "mixed"
		switch {
		case e.toAnchor > 0 && e.fromAnchor > 0:
			direction = "mixed"
		case e.toAnchor > 0:
			direction = "inbound"
		case e.fromAnchor > 0:
			direction = "outbound"
		}
		strength := 0.0
		if maxVolume.Sign() > 0 {
			q := new(big.Float).Quo(new(big.Float).SetInt(e.volume), maxVolume)
			strength, _ = q.Float64()
		}
		g.Edges = append(g.Edges, Edge{
			A:         k.a,
			B:         k.b,
			TxCount:   e.txCount,
			Volume:    e.volume.String(),
			Direction: direction,
			Strength:  strength,
		})
	}

	g.Stats.FirstHopCount = len(first)
	g.Stats.SecondHopCount = len(second)
	g.Stats.EdgeCount = len(g.Edges)
}

// rankCandidates orders a pool by score, ties broken by address for
// deterministic output.
func rankCandidates(pool map[string]*candidate) []*candidate {
	out := make([]*candidate, 0, len(pool))
	for _, c := range pool {
		out = append(out, c)
	}
	sortByScore(out)
	return out
}

func sortByScore(list []*candidate) {
	sort.Slice(list, func(i, j int) bool {
		si, sj := list[i].score(), list[j].score()
		if si != sj {
			return si > sj
		}
		return list[i].addr < list[j].addr
	})
}
