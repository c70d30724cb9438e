package history

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-network/chainlens/pkg/cache"
	"github.com/canopy-network/chainlens/pkg/daemon"
	"go.uber.org/zap"
)

const (
	// maxLimit matches the API clamp; the scanner enforces it again so no
	// caller can request unbounded pages.
	maxLimit     = 250
	defaultLimit = 25

	// scanBudgetFactor caps the candidates examined per request at
	// limit × factor, so sparse or heavily filtered queries stay bounded.
	scanBudgetFactor = 50

	// jumpOffsetThreshold is the offset above which the scanner asks the node
	// for a precomputed position instead of skipping linearly.
	jumpOffsetThreshold = 1000
)

// Scanner serves cursor- and offset-paginated, newest-first transaction
// histories for an address by walking the chain backward in fixed sub-windows
// and grouping raw deltas per window. Grouped windows, the chain tip, headers
// and counts each sit behind their own cache instance.
type Scanner struct {
	daemon *daemon.Client
	logger *zap.Logger

	windowSize uint64

	windows *cache.Cache[string, []GroupedTransaction]
	counts  *cache.Cache[string, uint64]
	tip     *cache.Cache[string, uint64]
	headers *cache.Cache[uint64, *daemon.BlockHeader]
}

// ScannerOpts is the set of options for a new Scanner.
type ScannerOpts struct {
	Daemon     *daemon.Client
	Logger     *zap.Logger
	WindowSize uint64
	WindowTTL  time.Duration
	CountTTL   time.Duration
	TipTTL     time.Duration
	HeaderTTL  time.Duration
}

// NewScanner creates a Scanner with the given options.
func NewScanner(o ScannerOpts) *Scanner {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.WindowSize == 0 {
		o.WindowSize = 10_000
	}
	if o.WindowTTL <= 0 {
		o.WindowTTL = 2 * time.Minute
	}
	if o.CountTTL <= 0 {
		o.CountTTL = time.Minute
	}
	if o.TipTTL <= 0 {
		o.TipTTL = 5 * time.Second
	}
	if o.HeaderTTL <= 0 {
		// Headers are immutable once confirmed; the TTL only bounds memory.
		o.HeaderTTL = 10 * time.Minute
	}
	return &Scanner{
		daemon:     o.Daemon,
		logger:     o.Logger,
		windowSize: o.WindowSize,
		windows: cache.New[string, []GroupedTransaction](cache.Opts{
			Name: "grouped-windows", TTL: o.WindowTTL, Logger: o.Logger,
		}),
		counts: cache.New[string, uint64](cache.Opts{
			Name: "address-counts", TTL: o.CountTTL, Logger: o.Logger,
		}),
		tip: cache.New[string, uint64](cache.Opts{
			Name: "chain-tip", TTL: o.TipTTL, SweepEvery: o.TipTTL, Logger: o.Logger,
		}),
		headers: cache.New[uint64, *daemon.BlockHeader](cache.Opts{
			Name: "headers", TTL: o.HeaderTTL, Logger: o.Logger,
		}),
	}
}

// Request describes one history page query.
type Request struct {
	Address string
	Limit   int
	// Offset is used when Cursor is nil.
	Offset int
	Cursor *Cursor
	// FromBlock/ToBlock bound the scanned height range; zero means unset.
	FromBlock uint64
	ToBlock   uint64
	// FromTimestamp/ToTimestamp filter by block time (unix seconds); zero
	// means unset.
	FromTimestamp int64
	ToTimestamp   int64
	ExcludeCoinbase bool
}

func (r Request) filtered() bool {
	return r.ExcludeCoinbase || r.FromTimestamp > 0 || r.ToTimestamp > 0
}

// Page is one emitted history page.
type Page struct {
	Items      []GroupedTransaction
	NextCursor *Cursor
	// Total is the address's transaction count for the range. If the cached
	// count lags items proven by paging (tip advanced mid-scan), the larger
	// number wins; the transient inconsistency is deliberate.
	Total uint64
	// FilteredTotal equals Total when no emission filters are active,
	// otherwise the number of matches proven during this scan.
	FilteredTotal uint64
	// Tip is the chain height the page was computed against.
	Tip uint64
}

// Tip returns the cached chain tip height.
func (s *Scanner) Tip(ctx context.Context) (uint64, error) {
	return s.tip.Get(ctx, "tip", func(ctx context.Context) (uint64, error) {
		return s.daemon.BestHeight(ctx)
	})
}

// HeaderByHeight resolves a block header through the header cache.
func (s *Scanner) HeaderByHeight(ctx context.Context, height uint64) (*daemon.BlockHeader, error) {
	return s.headers.Get(ctx, height, func(ctx context.Context) (*daemon.BlockHeader, error) {
		hash, err := s.daemon.BlockHash(ctx, height)
		if err != nil {
			return nil, err
		}
		return s.daemon.BlockHeader(ctx, hash)
	})
}

// window returns the grouped transactions for one (address, range) window,
// cached so concurrent pagination over the same range fetches once.
func (s *Scanner) window(ctx context.Context, address string, start, end uint64) ([]GroupedTransaction, error) {
	key := fmt.Sprintf("%s:%d:%d", address, start, end)
	return s.windows.Get(ctx, key, func(ctx context.Context) ([]GroupedTransaction, error) {
		deltas, err := s.daemon.AddressDeltas(ctx, address, start, end)
		if err != nil {
			return nil, err
		}
		return Group(deltas), nil
	})
}

// total returns the cached transaction count for the address range.
func (s *Scanner) total(ctx context.Context, address string, start, end uint64) (uint64, error) {
	key := fmt.Sprintf("%s:%d:%d", address, start, end)
	return s.counts.Get(ctx, key, func(ctx context.Context) (uint64, error) {
		return s.daemon.AddressTxCount(ctx, address, start, end)
	})
}

// Scan serves one page. It walks sub-windows from the newest height toward
// FromBlock, seeks past the cursor (or skips Offset matches), applies
// emission filters and stops when the page is full, the range is exhausted or
// the scan budget runs out.
func (s *Scanner) Scan(ctx context.Context, req Request) (*Page, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	tip, err := s.Tip(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve tip: %w", err)
	}

	end := tip
	if req.ToBlock > 0 && req.ToBlock < end {
		end = req.ToBlock
	}
	start := req.FromBlock

	page := &Page{Tip: tip}
	if end < start {
		return page, nil
	}

	cursor := req.Cursor
	skip := 0
	provenBase := 0
	if cursor == nil {
		skip = req.Offset
		provenBase = req.Offset
		// Large offsets: ask the node for the position of the last skipped
		// item and resume after it instead of walking linearly. The node maps
		// offsets against the address's full stream, so offsets into a
		// filtered or range-restricted stream cannot be mapped this way.
		if skip >= jumpOffsetThreshold && !req.filtered() && req.FromBlock == 0 && req.ToBlock == 0 {
			pos, jerr := s.daemon.AddressPosition(ctx, req.Address, skip-1)
			if jerr != nil {
				s.logger.Debug("offset jump unavailable, skipping linearly",
					zap.String("address", req.Address), zap.Error(jerr))
			} else if pos != nil {
				cursor = &Cursor{Height: pos.Height, TxIndex: pos.TxIndex, TxID: pos.TxID}
				skip = 0
			}
		}
	}

	seeking := cursor != nil
	budget := limit * scanBudgetFactor
	var lastExamined *Cursor
	var matched uint64

scan:
	for wEnd := end; ; {
		wStart := start
		if wEnd-start+1 > s.windowSize {
			wStart = wEnd - s.windowSize + 1
		}

		// While seeking, windows entirely above the cursor height cannot
		// contain it.
		if seeking && cursor.Height < wStart {
			if wStart <= start {
				break
			}
			wEnd = wStart - 1
			continue
		}

		txs, werr := s.window(ctx, req.Address, wStart, wEnd)
		if werr != nil {
			if len(page.Items) == 0 {
				return nil, fmt.Errorf("scan window [%d,%d]: %w", wStart, wEnd, werr)
			}
			// Degrade: keep what was emitted and resume from the last item.
			s.logger.Warn("window fetch failed mid-scan, returning partial page",
				zap.String("address", req.Address),
				zap.Uint64("windowStart", wStart),
				zap.Uint64("windowEnd", wEnd),
				zap.Error(werr))
			last := page.Items[len(page.Items)-1]
			page.NextCursor = &Cursor{Height: last.Height, TxIndex: last.TxIndex, TxID: last.TxID}
			break
		}

		for i := range txs {
			t := &txs[i]
			if seeking {
				if cursor.Matches(t) {
					seeking = false
				}
				continue
			}

			if budget == 0 {
				// Budget exhausted: close the page at the last examined
				// position so callers always make forward progress.
				page.NextCursor = lastExamined
				break scan
			}
			budget--
			lastExamined = &Cursor{Height: t.Height, TxIndex: t.TxIndex, TxID: t.TxID}

			if req.ExcludeCoinbase && t.Coinbase() {
				continue
			}
			if req.FromTimestamp > 0 || req.ToTimestamp > 0 {
				hdr, herr := s.HeaderByHeight(ctx, t.Height)
				if herr != nil {
					s.logger.Debug("header lookup failed, skipping candidate",
						zap.Uint64("height", t.Height), zap.Error(herr))
					continue
				}
				if req.FromTimestamp > 0 && hdr.Time < req.FromTimestamp {
					continue
				}
				if req.ToTimestamp > 0 && hdr.Time > req.ToTimestamp {
					continue
				}
			}

			matched++
			if skip > 0 {
				skip--
				continue
			}
			page.Items = append(page.Items, *t)
			if len(page.Items) == limit {
				break scan
			}
		}

		if wStart <= start {
			break
		}
		wEnd = wStart - 1
	}

	if page.NextCursor == nil && len(page.Items) == limit {
		last := page.Items[len(page.Items)-1]
		page.NextCursor = &Cursor{Height: last.Height, TxIndex: last.TxIndex, TxID: last.TxID}
	}

	total, terr := s.total(ctx, req.Address, start, end)
	if terr != nil {
		s.logger.Warn("count query failed, reporting proven total only",
			zap.String("address", req.Address), zap.Error(terr))
	}
	if proven := uint64(provenBase + len(page.Items)); proven > total {
		total = proven
	}
	page.Total = total
	if req.filtered() {
		page.FilteredTotal = matched
	} else {
		page.FilteredTotal = total
	}

	return page, nil
}

// Recent returns up to limit grouped transactions for the address, scanning
// back from the tip with no filters. Used by the constellation builder.
func (s *Scanner) Recent(ctx context.Context, address string, limit int) ([]GroupedTransaction, error) {
	page, err := s.Scan(ctx, Request{Address: address, Limit: limit})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}
