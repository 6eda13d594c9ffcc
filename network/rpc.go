package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// RPCClient talks JSON-RPC 1.0 to a defid node. All ChainService methods
// are built on Call.
type RPCClient struct {
	url    string
	user   string
	pass   string
	client *http.Client
	nextID atomic.Int64

	tokensMu    sync.Mutex
	tokens      map[string]Token // by symbol
	swapAddress string
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// DefaultRPCTimeout bounds a call when RPCConfig.Timeout is zero.
const DefaultRPCTimeout = 30 * time.Second

// maxResponseBytes caps a response body; listpoolpairs pages are the
// largest responses the bots read.
const maxResponseBytes = 32 << 20

// NewRPCClient creates a client for one node endpoint.
func NewRPCClient(cfg RPCConfig) *RPCClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4
	return &RPCClient{
		url:    cfg.URL,
		user:   cfg.User,
		pass:   cfg.Password,
		client: &http.Client{Timeout: timeout, Transport: transport},
	}
}

// URL returns the endpoint this client talks to.
func (c *RPCClient) URL() string { return c.url }

// Call invokes method and decodes the result into result (which may be nil).
//
// Transport failures and non-2xx responses without an RPC error body wrap
// ErrConnectionFailed; undecodable bodies wrap ErrInvalidResponse; node
// errors are returned as *RPCError.
func (c *RPCClient) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	id := c.nextID.Add(1)
	req, err := c.newRequest(ctx, rpcRequest{JSONRPC: "1.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrConnectionFailed, method, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("%w: %s: HTTP %d: %s", ErrConnectionFailed, method, resp.StatusCode, truncate(raw, 256))
		}
		return fmt.Errorf("%w: decode %s: %w", ErrInvalidResponse, method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if rpcResp.ID != id {
		return fmt.Errorf("%w: %s: response id %d, want %d", ErrInvalidResponse, method, rpcResp.ID, id)
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("%w: unmarshal %s: %w", ErrInvalidResponse, method, err)
		}
	}
	return nil
}

func (c *RPCClient) newRequest(ctx context.Context, body rpcRequest) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("network: marshal %s: %w", body.Method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("network: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	return req, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
