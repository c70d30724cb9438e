package daemon

import (
	"context"
)

const (
	MethodBestHeight      = "getblockcount"
	MethodBlockHash       = "getblockhash"
	MethodBlockHeader     = "getblockheader"
	MethodBlockDeltas     = "getblockdeltas"
	MethodAddressDeltas   = "getaddressdeltas"
	MethodAddressTxCount  = "getaddresstxcount"
	MethodAddressPosition = "getaddressposition"
	MethodAddressBalance  = "getaddressbalance"
)

// BestHeight returns the current chain tip height.
func (c *Client) BestHeight(ctx context.Context) (uint64, error) {
	var h uint64
	if err := c.Call(ctx, MethodBestHeight, nil, 0, &h); err != nil {
		return 0, err
	}
	return h, nil
}

// BlockHash returns the block hash at the given height.
func (c *Client) BlockHash(ctx context.Context, height uint64) (string, error) {
	var hash string
	if err := c.Call(ctx, MethodBlockHash, []any{height}, 0, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

// BlockHeader returns the header for the given block hash.
func (c *Client) BlockHeader(ctx context.Context, hash string) (*BlockHeader, error) {
	var hdr BlockHeader
	if err := c.Call(ctx, MethodBlockHeader, []any{hash}, 0, &hdr); err != nil {
		return nil, err
	}
	return &hdr, nil
}

// BlockDeltas returns the block's full per-transaction input/output listing.
// This is the one retried method; see policyFor.
func (c *Client) BlockDeltas(ctx context.Context, hash string) (*BlockDeltas, error) {
	var bd BlockDeltas
	if err := c.Call(ctx, MethodBlockDeltas, []any{hash}, 0, &bd); err != nil {
		return nil, err
	}
	return &bd, nil
}

// AddressDeltas returns the raw balance changes for one address over the
// inclusive height range [start, end].
func (c *Client) AddressDeltas(ctx context.Context, address string, start, end uint64) ([]AddressDelta, error) {
	params := []any{map[string]any{
		"addresses": []string{address},
		"start":     start,
		"end":       end,
	}}
	var deltas []AddressDelta
	if err := c.Call(ctx, MethodAddressDeltas, params, 0, &deltas); err != nil {
		return nil, err
	}
	return deltas, nil
}

// AddressTxCount returns the node's transaction count for the address within
// [start, end]. The count is computed independently of paging and may lag a
// moving tip.
func (c *Client) AddressTxCount(ctx context.Context, address string, start, end uint64) (uint64, error) {
	params := []any{map[string]any{
		"addresses": []string{address},
		"start":     start,
		"end":       end,
	}}
	var n uint64
	if err := c.Call(ctx, MethodAddressTxCount, params, 0, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// AddressPosition asks the node for the precomputed pagination position at
// the given newest-first offset. A nil position means the node cannot map the
// offset and the caller must skip linearly.
func (c *Client) AddressPosition(ctx context.Context, address string, offset int) (*TxPosition, error) {
	params := []any{map[string]any{
		"address": address,
		"offset":  offset,
	}}
	var pos *TxPosition
	if err := c.Call(ctx, MethodAddressPosition, params, 0, &pos); err != nil {
		return nil, err
	}
	if pos != nil && pos.TxID == "" {
		return nil, nil
	}
	return pos, nil
}

// AddressBalance returns the address's current balance.
func (c *Client) AddressBalance(ctx context.Context, address string) (*AddressBalance, error) {
	params := []any{map[string]any{
		"addresses": []string{address},
	}}
	var bal AddressBalance
	if err := c.Call(ctx, MethodAddressBalance, params, 0, &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}
