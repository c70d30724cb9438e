package controller

import (
	"net/http"
	"strconv"

	"github.com/canopy-network/chainlens/pkg/history"
)

const (
	defaultLimit = 25
	maxLimit     = 250
)

// parseHistoryRequest maps query parameters onto a scanner request. Exactly
// one of offset or the cursor triple may be supplied; the cursor wins when
// both appear.
func parseHistoryRequest(r *http.Request, address string) (history.Request, error) {
	qs := r.URL.Query()
	req := history.Request{Address: address, Limit: defaultLimit}

	if v := qs.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, errInvalidLimit
		}
		// Clamp rather than reject out-of-range limits.
		if n < 1 {
			n = 1
		}
		if n > maxLimit {
			n = maxLimit
		}
		req.Limit = n
	}

	cursorHeight := qs.Get("cursorHeight")
	cursorTxIndex := qs.Get("cursorTxIndex")
	cursorTxid := qs.Get("cursorTxid")
	if cursorHeight != "" || cursorTxIndex != "" || cursorTxid != "" {
		h, err := strconv.ParseUint(cursorHeight, 10, 64)
		if err != nil {
			return req, errInvalidCursor
		}
		idx, err := strconv.ParseUint(cursorTxIndex, 10, 32)
		if err != nil {
			return req, errInvalidCursor
		}
		if cursorTxid == "" {
			return req, errInvalidCursor
		}
		req.Cursor = &history.Cursor{Height: h, TxIndex: uint32(idx), TxID: cursorTxid}
	} else if v := qs.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return req, errInvalidOffset
		}
		req.Offset = n
	}

	var err error
	if req.FromBlock, err = parseUint(qs.Get("fromBlock")); err != nil {
		return req, errInvalidRange
	}
	if req.ToBlock, err = parseUint(qs.Get("toBlock")); err != nil {
		return req, errInvalidRange
	}
	if req.FromTimestamp, err = parseInt(qs.Get("fromTimestamp")); err != nil {
		return req, errInvalidRange
	}
	if req.ToTimestamp, err = parseInt(qs.Get("toTimestamp")); err != nil {
		return req, errInvalidRange
	}
	req.ExcludeCoinbase = qs.Get("excludeCoinbase") == "true"

	return req, nil
}

func parseUint(v string) (uint64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func parseInt(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

var (
	errInvalidLimit  = &parseError{msg: "invalid limit"}
	errInvalidCursor = &parseError{msg: "invalid cursor, requires cursorHeight, cursorTxIndex and cursorTxid"}
	errInvalidOffset = &parseError{msg: "invalid offset"}
	errInvalidRange  = &parseError{msg: "invalid block or timestamp range"}
)

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }
