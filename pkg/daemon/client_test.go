package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func rpcServer(t *testing.T, handler func(method string, params []any) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, rpcErr := handler(req.Method, req.Params)
		if rpcErr != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"result": nil, "error": rpcErr})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "error": nil})
	}))
}

func TestCallDecodesEnvelopeResult(t *testing.T) {
	srv := rpcServer(t, func(method string, params []any) (any, *rpcError) {
		assert.Equal(t, MethodBestHeight, method)
		return 1234, nil
	})
	defer srv.Close()

	c := NewWithOpts(Opts{URL: srv.URL, Logger: zaptest.NewLogger(t)})
	h, err := c.BestHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), h)
}

func TestCallDecodesBareResult(t *testing.T) {
	// Some endpoints answer with the raw value instead of the envelope.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`"00aa11"`))
	}))
	defer srv.Close()

	c := NewWithOpts(Opts{URL: srv.URL, Logger: zaptest.NewLogger(t)})
	hash, err := c.BlockHash(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "00aa11", hash)
}

func TestCallSendsBasicAuthAndEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rpcuser", user)
		assert.Equal(t, "rpcpass", pass)

		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "1.0", req.JSONRPC)
		assert.NotZero(t, req.ID)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": 1, "error": nil})
	}))
	defer srv.Close()

	c := NewWithOpts(Opts{URL: srv.URL, Username: "rpcuser", Password: "rpcpass", Logger: zaptest.NewLogger(t)})
	_, err := c.BestHeight(context.Background())
	require.NoError(t, err)
}

func TestCallMapsRPCErrorToRejection(t *testing.T) {
	srv := rpcServer(t, func(method string, params []any) (any, *rpcError) {
		return nil, &rpcError{Code: -5, Message: "No information available for address"}
	})
	defer srv.Close()

	c := NewWithOpts(Opts{URL: srv.URL, Logger: zaptest.NewLogger(t)})
	_, err := c.AddressBalance(context.Background(), "someaddr")
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.False(t, IsTimeout(err))

	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, derr.Message, "No information available")
}

func TestCallMapsDeadlineToTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewWithOpts(Opts{URL: srv.URL, Logger: zaptest.NewLogger(t)})
	err := c.Call(context.Background(), MethodBestHeight, nil, 30*time.Millisecond, nil)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.False(t, IsRejected(err))
}

func TestBlockDeltasRetriesTransportFailureOnce(t *testing.T) {
	var attempts atomic.Int32
	transport := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("connection reset by peer")
		}
		rec := httptest.NewRecorder()
		_ = json.NewEncoder(rec.Body).Encode(map[string]any{
			"result": BlockDeltas{Hash: "h", Height: 9},
			"error":  nil,
		})
		return rec.Result(), nil
	})

	c := NewWithOpts(Opts{
		URL:        "http://node.invalid",
		HTTPClient: &http.Client{Transport: transport},
		Logger:     zaptest.NewLogger(t),
	})
	bd, err := c.BlockDeltas(context.Background(), "h")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), bd.Height)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestBlockDeltasDoesNotRetryRejection(t *testing.T) {
	var attempts atomic.Int32
	srv := rpcServer(t, func(method string, params []any) (any, *rpcError) {
		attempts.Add(1)
		return nil, &rpcError{Code: -8, Message: "Block not found"}
	})
	defer srv.Close()

	c := NewWithOpts(Opts{URL: srv.URL, Logger: zaptest.NewLogger(t)})
	_, err := c.BlockDeltas(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.Equal(t, int32(1), attempts.Load(), "rejections are permanent")
}

func TestOtherMethodsFailFast(t *testing.T) {
	var attempts atomic.Int32
	transport := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		attempts.Add(1)
		return nil, errors.New("connection refused")
	})

	c := NewWithOpts(Opts{
		URL:        "http://node.invalid",
		HTTPClient: &http.Client{Transport: transport},
		Logger:     zaptest.NewLogger(t),
	})
	_, err := c.BestHeight(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestAddressPositionUnmappableOffset(t *testing.T) {
	srv := rpcServer(t, func(method string, params []any) (any, *rpcError) {
		// The node answers but cannot map the offset.
		return TxPosition{}, nil
	})
	defer srv.Close()

	c := NewWithOpts(Opts{URL: srv.URL, Logger: zaptest.NewLogger(t)})
	pos, err := c.AddressPosition(context.Background(), "addr", 5000)
	require.NoError(t, err)
	assert.Nil(t, pos)
}
