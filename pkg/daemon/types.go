package daemon

import "math/big"

// AddressDelta is one recorded balance change for an address, as returned by
// the node's address index. Satoshis is negative for spends.
type AddressDelta struct {
	Address string `json:"address"`
	TxID    string `json:"txid"`
	Height  uint64 `json:"height"`
	TxIndex uint32 `json:"blockindex"`
	// Satoshis is kept arbitrary-precision: chains with large supplies
	// overflow int64 in aggregate math downstream.
	Satoshis *big.Int `json:"satoshis"`
	// Counterparty is populated by the node for simple transfer shapes and
	// empty otherwise (multi-input, protocol messages).
	Counterparty string `json:"counterparty,omitempty"`
}

// BlockHeader is the subset of header fields the read side needs.
type BlockHeader struct {
	Hash   string `json:"hash"`
	Height uint64 `json:"height"`
	Time   int64  `json:"time"`
}

// IOEntry is one input or output of a transaction in a block delta listing.
// Satoshis is negative on inputs.
type IOEntry struct {
	Address  string   `json:"address"`
	Satoshis *big.Int `json:"satoshis"`
	Index    uint32   `json:"index"`
}

// TxDeltas is the full input/output listing of one transaction.
type TxDeltas struct {
	TxID    string    `json:"txid"`
	Index   uint32    `json:"index"`
	Inputs  []IOEntry `json:"inputs"`
	Outputs []IOEntry `json:"outputs"`
}

// BlockDeltas is a block's complete per-transaction delta listing.
type BlockDeltas struct {
	Hash   string     `json:"hash"`
	Height uint64     `json:"height"`
	Deltas []TxDeltas `json:"deltas"`
}

// AddressBalance is the current balance view of one address.
type AddressBalance struct {
	Balance  *big.Int `json:"balance"`
	Received *big.Int `json:"received"`
}

// TxPosition is a precomputed pagination position for an address, used to
// convert large offsets into cursor scans.
type TxPosition struct {
	Height  uint64 `json:"height"`
	TxIndex uint32 `json:"blockindex"`
	TxID    string `json:"txid"`
}
