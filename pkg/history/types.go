package history

import (
	"math/big"
)

// GroupedTransaction is one logical transaction's net effect on one address
// within a scanned window: all raw deltas sharing (height, txIndex, txid)
// folded together. Net == Received - Sent always holds.
type GroupedTransaction struct {
	TxID     string
	Height   uint64
	TxIndex  uint32
	Net      *big.Int
	Received *big.Int
	Sent     *big.Int
	// Counterparties are the senders/recipients the node reported directly on
	// the deltas; empty for transaction shapes the node cannot attribute.
	Counterparties []string
}

// Coinbase reports whether the transaction is the block's coinbase.
func (t *GroupedTransaction) Coinbase() bool {
	return t.TxIndex == 0
}

// precedes reports whether t comes before o in the newest-first order:
// higher height, then higher txIndex, then lexicographically greater txid.
func (t *GroupedTransaction) precedes(o *GroupedTransaction) bool {
	if t.Height != o.Height {
		return t.Height > o.Height
	}
	if t.TxIndex != o.TxIndex {
		return t.TxIndex > o.TxIndex
	}
	return t.TxID > o.TxID
}

// Cursor is an opaque pagination position: the (height, txIndex, txid) of the
// last emitted transaction. It is valid only for the address it was issued
// for and is re-sought inside freshly grouped windows on replay.
type Cursor struct {
	Height  uint64 `json:"height"`
	TxIndex uint32 `json:"txIndex"`
	TxID    string `json:"txid"`
}

// Matches reports an exact cursor hit.
func (c Cursor) Matches(t *GroupedTransaction) bool {
	return c.Height == t.Height && c.TxIndex == t.TxIndex && c.TxID == t.TxID
}
