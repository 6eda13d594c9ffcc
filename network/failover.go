package network

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Endpoint is a ChainService with a display URL.
type Endpoint struct {
	URL     string
	Service ChainService
}

// Failover routes every call to the active endpoint. Rotate switches to
// the next one; callers rotate after a transient failure so that the next
// run uses a different node.
type Failover struct {
	mu        sync.RWMutex
	endpoints []Endpoint
	active    int
}

var _ ChainService = (*Failover)(nil)

// NewFailover wraps endpoints in order of preference.
func NewFailover(endpoints ...Endpoint) (*Failover, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	return &Failover{endpoints: endpoints}, nil
}

// NewRPCFailover builds a Failover of RPC clients, one per config.
func NewRPCFailover(cfgs ...RPCConfig) (*Failover, error) {
	eps := make([]Endpoint, 0, len(cfgs))
	for _, cfg := range cfgs {
		eps = append(eps, Endpoint{URL: cfg.URL, Service: NewRPCClient(cfg)})
	}
	return NewFailover(eps...)
}

// Rotate activates the next endpoint and returns its URL.
func (f *Failover) Rotate() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = (f.active + 1) % len(f.endpoints)
	return f.endpoints[f.active].URL
}

// URL returns the active endpoint's URL.
func (f *Failover) URL() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.endpoints[f.active].URL
}

// URLs lists every endpoint URL in order of preference.
func (f *Failover) URLs() []string {
	out := make([]string, len(f.endpoints))
	for i, ep := range f.endpoints {
		out[i] = ep.URL
	}
	return out
}

// Len is the number of endpoints.
func (f *Failover) Len() int { return len(f.endpoints) }

// SetSwapAddress forwards the swap estimate address to every RPC endpoint.
func (f *Failover) SetSwapAddress(addr string) {
	for _, ep := range f.endpoints {
		if c, ok := ep.Service.(interface{ SetSwapAddress(string) }); ok {
			c.SetSwapAddress(addr)
		}
	}
}

func (f *Failover) svc() ChainService {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.endpoints[f.active].Service
}

func (f *Failover) GetVault(ctx context.Context, vaultID string) (*Vault, error) {
	return f.svc().GetVault(ctx, vaultID)
}

func (f *Failover) ListUnspent(ctx context.Context, address string, limit int) ([]*UTXO, error) {
	return f.svc().ListUnspent(ctx, address, limit)
}

func (f *Failover) ListTokenBalances(ctx context.Context, address string) ([]TokenAmount, error) {
	return f.svc().ListTokenBalances(ctx, address)
}

func (f *Failover) ListTokens(ctx context.Context) ([]Token, error) {
	return f.svc().ListTokens(ctx)
}

func (f *Failover) ListPools(ctx context.Context, req PageRequest) (*Page[Pool], error) {
	return f.svc().ListPools(ctx, req)
}

func (f *Failover) ListCollateralTokens(ctx context.Context) ([]CollateralToken, error) {
	return f.svc().ListCollateralTokens(ctx)
}

func (f *Failover) GetLoanToken(ctx context.Context, symbol string) (*LoanToken, error) {
	return f.svc().GetLoanToken(ctx, symbol)
}

func (f *Failover) GetOraclePrice(ctx context.Context, symbol string) (*OraclePrice, error) {
	return f.svc().GetOraclePrice(ctx, symbol)
}

func (f *Failover) GetBestPath(ctx context.Context, fromID, toID string, amount decimal.Decimal) (*BestPath, error) {
	return f.svc().GetBestPath(ctx, fromID, toID, amount)
}

func (f *Failover) GetBlockHeight(ctx context.Context) (uint64, error) {
	return f.svc().GetBlockHeight(ctx)
}

func (f *Failover) ListBlocks(ctx context.Context, count int) ([]Block, error) {
	return f.svc().ListBlocks(ctx, count)
}

func (f *Failover) SendRawTx(ctx context.Context, rawTxHex string) (string, error) {
	return f.svc().SendRawTx(ctx, rawTxHex)
}

func (f *Failover) GetTransaction(ctx context.Context, txid string) (*TxStatus, error) {
	return f.svc().GetTransaction(ctx, txid)
}

func (f *Failover) ImportAddress(ctx context.Context, address string) error {
	return f.svc().ImportAddress(ctx, address)
}
