package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/canopy-network/chainlens/pkg/retry"
	"github.com/canopy-network/chainlens/pkg/utils"
	"go.uber.org/zap"
)

// Client is the single gateway to the node's JSON-RPC interface. Every
// upstream call in the service funnels through Call, so timeout, retry and
// fixture interception live in one place.
type Client struct {
	url      string
	username string
	password string
	timeout  time.Duration
	client   *http.Client
	fixtures *Fixtures
	logger   *zap.Logger
	reqID    atomic.Int64
}

// Opts is the set of options for a new Client.
type Opts struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
	// HTTPClient lets tests inject a transport; fixtures are preferred for
	// full offline runs.
	HTTPClient *http.Client
	// Fixtures, when set, answers every call from canned responses and the
	// client performs no network I/O.
	Fixtures *Fixtures
	Logger   *zap.Logger
}

// NewWithOpts creates a new Client with the given options.
func NewWithOpts(o Opts) *Client {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	}
	return &Client{
		url:      o.URL,
		username: o.Username,
		password: o.Password,
		timeout:  o.Timeout,
		client:   client,
		fixtures: o.Fixtures,
		logger:   o.Logger,
	}
}

// rpcRequest is the bitcoind-style JSON-RPC envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// policyFor declares the per-method retry policy once. getblockdeltas is
// empirically the flakiest call on loaded nodes and gets a single linear
// retry; everything else fails fast.
func policyFor(method string) retry.Config {
	if method == MethodBlockDeltas {
		return retry.Config{
			MaxAttempts: 2,
			Delay:       150 * time.Millisecond,
			Permanent:   IsRejected,
		}
	}
	return retry.FailFast()
}

// Call issues one logical RPC call with the given timeout, decoding the
// response (bare value or {result, error} envelope) into out.
func (c *Client) Call(ctx context.Context, method string, params []any, timeout time.Duration, out any) error {
	if timeout <= 0 {
		timeout = c.timeout
	}
	if c.fixtures != nil {
		return c.fixtures.call(method, params, out)
	}
	return retry.WithBackoff(ctx, policyFor(method), c.logger, method, func() error {
		return c.callOnce(ctx, method, params, timeout, out)
	})
}

func (c *Client) callOnce(ctx context.Context, method string, params []any, timeout time.Duration, out any) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if IsTimeout(err) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s after %s: %w", method, timeout, ErrTimeout)
		}
		return fmt.Errorf("%s: %w", method, err)
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	var raw json.RawMessage
	decodeErr := json.NewDecoder(resp.Body).Decode(&raw)

	if resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil {
			var env rpcEnvelope
			if json.Unmarshal(raw, &env) == nil && env.Error != nil {
				msg = env.Error.Message
			}
		}
		return &Error{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("%s: decode response: %w", method, decodeErr)
	}

	body := raw
	var env rpcEnvelope
	if json.Unmarshal(raw, &env) == nil {
		if env.Error != nil {
			return &Error{Status: http.StatusBadGateway, Message: env.Error.Message}
		}
		if len(env.Result) > 0 && string(env.Result) != "null" {
			body = env.Result
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: unmarshal result: %w", method, err)
	}
	return nil
}
