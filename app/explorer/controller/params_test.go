package controller

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/canopy-network/chainlens/pkg/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, query string) (history.Request, error) {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/v1/address/a/transactions?"+query, nil)
	return parseHistoryRequest(r, "a")
}

func TestParseDefaults(t *testing.T) {
	req, err := parse(t, "")
	require.NoError(t, err)
	assert.Equal(t, 25, req.Limit)
	assert.Equal(t, 0, req.Offset)
	assert.Nil(t, req.Cursor)
	assert.False(t, req.ExcludeCoinbase)
}

func TestParseLimitClamping(t *testing.T) {
	req, err := parse(t, "limit=0")
	require.NoError(t, err)
	assert.Equal(t, 1, req.Limit)

	req, err = parse(t, "limit=99999")
	require.NoError(t, err)
	assert.Equal(t, 250, req.Limit)

	_, err = parse(t, "limit=abc")
	assert.Error(t, err)
}

func TestParseCursorTriple(t *testing.T) {
	req, err := parse(t, "cursorHeight=120&cursorTxIndex=3&cursorTxid=deadbeef")
	require.NoError(t, err)
	require.NotNil(t, req.Cursor)
	assert.Equal(t, history.Cursor{Height: 120, TxIndex: 3, TxID: "deadbeef"}, *req.Cursor)

	// All three parts are required.
	for _, q := range []string{
		"cursorHeight=120",
		"cursorHeight=120&cursorTxIndex=3",
		"cursorTxIndex=3&cursorTxid=deadbeef",
	} {
		_, err := parse(t, q)
		assert.Error(t, err, q)
	}
}

func TestParseCursorWinsOverOffset(t *testing.T) {
	req, err := parse(t, "cursorHeight=120&cursorTxIndex=3&cursorTxid=deadbeef&offset=50")
	require.NoError(t, err)
	require.NotNil(t, req.Cursor)
	assert.Equal(t, 0, req.Offset)
}

func TestParseOffset(t *testing.T) {
	req, err := parse(t, "offset=40")
	require.NoError(t, err)
	assert.Equal(t, 40, req.Offset)

	_, err = parse(t, "offset=-1")
	assert.Error(t, err)
}

func TestParseRangeAndFilters(t *testing.T) {
	req, err := parse(t, "fromBlock=100&toBlock=200&fromTimestamp=1700000000&toTimestamp=1700100000&excludeCoinbase=true")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), req.FromBlock)
	assert.Equal(t, uint64(200), req.ToBlock)
	assert.Equal(t, int64(1700000000), req.FromTimestamp)
	assert.Equal(t, int64(1700100000), req.ToTimestamp)
	assert.True(t, req.ExcludeCoinbase)

	_, err = parse(t, "fromBlock=abc")
	assert.Error(t, err)

	// Anything but the literal "true" leaves the filter off.
	req, err = parse(t, "excludeCoinbase=1")
	require.NoError(t, err)
	assert.False(t, req.ExcludeCoinbase)
}
