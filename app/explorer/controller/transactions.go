package controller

import (
	"net/http"

	"github.com/canopy-network/chainlens/pkg/daemon"
	"github.com/canopy-network/chainlens/pkg/history"
	"github.com/canopy-network/chainlens/pkg/utils"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// transactionItem is one history entry. Amounts are decimal strings in the
// smallest currency unit.
type transactionItem struct {
	TxID          string   `json:"txid"`
	Height        uint64   `json:"height"`
	TxIndex       uint32   `json:"txIndex"`
	Direction     string   `json:"direction"` // in | out | self
	Net           string   `json:"net"`
	Received      string   `json:"received"`
	Sent          string   `json:"sent"`
	FromAddresses []string `json:"fromAddresses"`
	ToAddresses   []string `json:"toAddresses"`
	FromCount     int      `json:"fromCount"`
	ToCount       int      `json:"toCount"`
	// Fee, Change and ToOthers are null when block enrichment was
	// unavailable for this transaction.
	Fee           *string `json:"fee"`
	Change        *string `json:"change"`
	ToOthers      *string `json:"toOthers"`
	Confirmations uint64  `json:"confirmations"`
	Coinbase      bool    `json:"coinbase"`
}

type transactionsResponse struct {
	Transactions  []transactionItem `json:"transactions"`
	Total         uint64            `json:"total"`
	FilteredTotal uint64            `json:"filteredTotal"`
	Limit         int               `json:"limit"`
	Offset        *int              `json:"offset,omitempty"`
	NextCursor    *history.Cursor   `json:"nextCursor,omitempty"`
}

// HandleAddressTransactions serves the cursor-paginated, filterable history
// of one address.
func (c *Controller) HandleAddressTransactions(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if !validAddress.MatchString(address) {
		writeError(w, http.StatusBadRequest, "invalid_address", "malformed address")
		return
	}

	req, err := parseHistoryRequest(r, address)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx := r.Context()
	page, err := c.App.Scanner.Scan(ctx, req)
	if err != nil {
		c.writeUpstreamError(w, "history scan failed", address, err)
		return
	}

	summaries := c.App.Enricher.Summarize(ctx, address, page.Items)

	items := make([]transactionItem, 0, len(page.Items))
	for i := range page.Items {
		t := &page.Items[i]
		item := transactionItem{
			TxID:          t.TxID,
			Height:        t.Height,
			TxIndex:       t.TxIndex,
			Direction:     direction(t),
			Net:           t.Net.String(),
			Received:      t.Received.String(),
			Sent:          t.Sent.String(),
			FromAddresses: []string{},
			ToAddresses:   []string{},
			Coinbase:      t.Coinbase(),
		}
		// Without enrichment the delta-level counterparties are all we have:
		// senders for incoming transactions, recipients otherwise.
		if cps := utils.Dedup(t.Counterparties); item.Direction == "in" {
			item.FromAddresses = cps
		} else {
			item.ToAddresses = cps
		}
		if page.Tip >= t.Height {
			item.Confirmations = page.Tip - t.Height + 1
		}
		if s, ok := summaries[t.TxID]; ok {
			item.FromAddresses = s.From
			item.ToAddresses = s.To
			fee, change, toOthers := s.Fee.String(), s.Change.String(), s.ToOthers.String()
			item.Fee = &fee
			item.Change = &change
			item.ToOthers = &toOthers
			item.Coinbase = s.Coinbase
		}
		item.FromCount = len(item.FromAddresses)
		item.ToCount = len(item.ToAddresses)
		items = append(items, item)
	}

	resp := transactionsResponse{
		Transactions:  items,
		Total:         page.Total,
		FilteredTotal: page.FilteredTotal,
		Limit:         req.Limit,
		NextCursor:    page.NextCursor,
	}
	if req.Cursor == nil {
		offset := req.Offset
		resp.Offset = &offset
	}

	writeJSON(w, http.StatusOK, resp)
}

func direction(t *history.GroupedTransaction) string {
	switch t.Net.Sign() {
	case 1:
		return "in"
	case -1:
		return "out"
	default:
		return "self"
	}
}

// writeUpstreamError maps gateway failures onto response codes: rejections
// keep their upstream flavor, timeouts become 504s.
func (c *Controller) writeUpstreamError(w http.ResponseWriter, msg, address string, err error) {
	c.App.Logger.Error(msg, zap.String("address", address), zap.Error(err))
	switch {
	case daemon.IsTimeout(err):
		writeError(w, http.StatusGatewayTimeout, "upstream_timeout", "node did not answer in time")
	case daemon.IsRejected(err):
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "request failed")
	}
}
