package constellation

import "time"

// Node is an address participating in the graph. Hop 0 is the root, 1 a
// direct counterparty, 2 a counterparty-of-counterparty. Amounts are decimal
// strings in the smallest currency unit.
type Node struct {
	ID              string  `json:"id"`
	Hop             int     `json:"hop"`
	TxCount         uint64  `json:"txCount"`
	Volume          string  `json:"volume"`
	InboundTxCount  uint64  `json:"inboundTxCount"`
	OutboundTxCount uint64  `json:"outboundTxCount"`
	Score           float64 `json:"score"`
	// Balance is null when the lookup failed or was skipped.
	Balance *string `json:"balance"`
}

// Edge is an unordered address pair (A < B lexicographically) with aggregated
// flow. Direction is relative to the edge's anchor: the root for first-hop
// edges, the first-hop parent for second-hop edges.
type Edge struct {
	A         string  `json:"a"`
	B         string  `json:"b"`
	TxCount   uint64  `json:"txCount"`
	Volume    string  `json:"volume"`
	Direction string  `json:"direction"` // inbound | outbound | mixed
	Strength  float64 `json:"strength"`
}

// Stats summarizes the work behind one graph.
type Stats struct {
	AnalyzedTransactions int `json:"analyzedTransactions"`
	HopRequests          int `json:"hopRequests"`
	FirstHopCount        int `json:"firstHopCount"`
	SecondHopCount       int `json:"secondHopCount"`
	EdgeCount            int `json:"edgeCount"`
}

// Truncated reports which caps were hit while assembling the graph.
type Truncated struct {
	FirstHop  bool `json:"firstHop"`
	SecondHop bool `json:"secondHop"`
	Requests  bool `json:"requests"`
}

// Graph is a bounded two-hop transaction neighborhood of the center address.
type Graph struct {
	Center      string    `json:"center"`
	GeneratedAt time.Time `json:"generatedAt"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	Stats       Stats     `json:"stats"`
	Truncated   Truncated `json:"truncated"`
}
