package network

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrMockNotConfigured is returned by MockChainService methods whose Fn
// field is nil.
var ErrMockNotConfigured = errors.New("network: mock method not configured")

// MockChainService is a test double for ChainService. Unset Fn fields
// make the method fail with ErrMockNotConfigured.
type MockChainService struct {
	GetVaultFn             func(ctx context.Context, vaultID string) (*Vault, error)
	ListUnspentFn          func(ctx context.Context, address string, limit int) ([]*UTXO, error)
	ListTokenBalancesFn    func(ctx context.Context, address string) ([]TokenAmount, error)
	ListTokensFn           func(ctx context.Context) ([]Token, error)
	ListPoolsFn            func(ctx context.Context, req PageRequest) (*Page[Pool], error)
	ListCollateralTokensFn func(ctx context.Context) ([]CollateralToken, error)
	GetLoanTokenFn         func(ctx context.Context, symbol string) (*LoanToken, error)
	GetOraclePriceFn       func(ctx context.Context, symbol string) (*OraclePrice, error)
	GetBestPathFn          func(ctx context.Context, fromID, toID string, amount decimal.Decimal) (*BestPath, error)
	GetBlockHeightFn       func(ctx context.Context) (uint64, error)
	ListBlocksFn           func(ctx context.Context, count int) ([]Block, error)
	SendRawTxFn            func(ctx context.Context, rawTxHex string) (string, error)
	GetTransactionFn       func(ctx context.Context, txid string) (*TxStatus, error)
	ImportAddressFn        func(ctx context.Context, address string) error
}

var _ ChainService = (*MockChainService)(nil)

func (m *MockChainService) GetVault(ctx context.Context, vaultID string) (*Vault, error) {
	if m.GetVaultFn == nil {
		return nil, ErrMockNotConfigured
	}
	return m.GetVaultFn(ctx, vaultID)
}

func (m *MockChainService) ListUnspent(ctx context.Context, address string, limit int) ([]*UTXO, error) {
	if m.ListUnspentFn == nil {
		return nil, ErrMockNotConfigured
	}
	return m.ListUnspentFn(ctx, address, limit)
}

func (m *MockChainService) ListTokenBalances(ctx context.Context, address string) ([]TokenAmount, error) {
	if m.ListTokenBalancesFn == nil {
		return nil, ErrMockNotConfigured
	}
	return m.ListTokenBalancesFn(ctx, address)
}

func (m *MockChainService) ListTokens(ctx context.Context) ([]Token, error) {
	if m.ListTokensFn == nil {
		return nil, ErrMockNotConfigured
	}
	return m.ListTokensFn(ctx)
}

func (m *MockChainService) ListPools(ctx context.Context, req PageRequest) (*Page[Pool], error) {
	if m.ListPoolsFn == nil {
		return nil, ErrMockNotConfigured
	}
	return m.ListPoolsFn(ctx, req)
}

func (m *MockChainService) ListCollateralTokens(ctx context.Context) ([]CollateralToken, error) {
	if m.ListCollateralTokensFn == nil {
		return nil, ErrMockNotConfigured
	}
	return m.ListCollateralTokensFn(ctx)
}

func (m *MockChainService) GetLoanToken(ctx context.Context, symbol string) (*LoanToken, error) {
	if m.GetLoanTokenFn == nil {
		return nil, ErrMockNotConfigured
	}
	return m.GetLoanTokenFn(ctx, symbol)
}

func (m *MockChainService) GetOraclePrice(ctx context.Context, symbol string) (*OraclePrice, error) {
	if m.GetOraclePriceFn == nil {
		return nil, ErrMockNotConfigured
	}
	return m.GetOraclePriceFn(ctx, symbol)
}

func (m *MockChainService) GetBestPath(ctx context.Context, fromID, toID string, amount decimal.Decimal) (*BestPath, error) {
	if m.GetBestPathFn == nil {
		return nil, ErrMockNotConfigured
	}
	return m.GetBestPathFn(ctx, fromID, toID, amount)
}

func (m *MockChainService) GetBlockHeight(ctx context.Context) (uint64, error) {
	if m.GetBlockHeightFn == nil {
		return 0, ErrMockNotConfigured
	}
	return m.GetBlockHeightFn(ctx)
}

func (m *MockChainService) ListBlocks(ctx context.Context, count int) ([]Block, error) {
	if m.ListBlocksFn == nil {
		return nil, ErrMockNotConfigured
	}
	return m.ListBlocksFn(ctx, count)
}

func (m *MockChainService) SendRawTx(ctx context.Context, rawTxHex string) (string, error) {
	if m.SendRawTxFn == nil {
		return "", ErrMockNotConfigured
	}
	return m.SendRawTxFn(ctx, rawTxHex)
}

func (m *MockChainService) GetTransaction(ctx context.Context, txid string) (*TxStatus, error) {
	if m.GetTransactionFn == nil {
		return nil, ErrMockNotConfigured
	}
	return m.GetTransactionFn(ctx, txid)
}

func (m *MockChainService) ImportAddress(ctx context.Context, address string) error {
	if m.ImportAddressFn == nil {
		return nil
	}
	return m.ImportAddressFn(ctx, address)
}
