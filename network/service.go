// Package network is the bots' view of a DeFiChain node: vaults, pools,
// balances, prices and transaction submission over the node's JSON-RPC
// interface, with endpoint failover.
package network

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ChainService is everything the bots query or submit.
type ChainService interface {
	GetVault(ctx context.Context, vaultID string) (*Vault, error)
	ListUnspent(ctx context.Context, address string, limit int) ([]*UTXO, error)
	ListTokenBalances(ctx context.Context, address string) ([]TokenAmount, error)
	ListTokens(ctx context.Context) ([]Token, error)
	ListPools(ctx context.Context, req PageRequest) (*Page[Pool], error)
	ListCollateralTokens(ctx context.Context) ([]CollateralToken, error)
	GetLoanToken(ctx context.Context, symbol string) (*LoanToken, error)
	GetOraclePrice(ctx context.Context, symbol string) (*OraclePrice, error)

	// GetBestPath asks the node for the best swap route and the expected
	// output for amount of fromID.
	GetBestPath(ctx context.Context, fromID, toID string, amount decimal.Decimal) (*BestPath, error)

	GetBlockHeight(ctx context.Context) (uint64, error)

	// ListBlocks returns the newest count blocks, newest first.
	ListBlocks(ctx context.Context, count int) ([]Block, error)

	// SendRawTx broadcasts a signed transaction and returns its txid.
	SendRawTx(ctx context.Context, rawTxHex string) (string, error)

	// GetTransaction returns ErrTxNotFound for unknown transactions.
	GetTransaction(ctx context.Context, txid string) (*TxStatus, error)

	// ImportAddress registers a watch-only address so that ListUnspent
	// sees its outputs. Safe to repeat.
	ImportAddress(ctx context.Context, address string) error
}

// VaultState is the node's lifecycle state of a vault.
type VaultState string

const (
	VaultActive        VaultState = "active"
	VaultFrozen        VaultState = "frozen"
	VaultInLiquidation VaultState = "inLiquidation"
	VaultMayLiquidate  VaultState = "mayLiquidate"
	VaultUnknown       VaultState = "unknown"
)

// OraclePrice is a fixed-interval price: the current and the next block
// interval's value.
type OraclePrice struct {
	Active decimal.Decimal
	Next   decimal.Decimal
	IsLive bool
}

// TokenAmount is an amount of one token, optionally priced.
type TokenAmount struct {
	ID     string
	Symbol string
	Amount decimal.Decimal
	Price  *OraclePrice
}

// LoanScheme is the vault's loan scheme.
type LoanScheme struct {
	ID           string
	MinColRatio  decimal.Decimal
	InterestRate decimal.Decimal
}

// Vault is a loan vault as reported by the node. CollateralRatio is -1
// when the vault has no loans.
type Vault struct {
	ID               string
	Owner            string
	State            VaultState
	Scheme           LoanScheme
	Collateral       []TokenAmount
	Loans            []TokenAmount
	Interests        []TokenAmount
	CollateralValue  decimal.Decimal
	LoanValue        decimal.Decimal
	InterestValue    decimal.Decimal
	CollateralRatio  decimal.Decimal
	InformativeRatio decimal.Decimal
}

// PoolToken is one side of a pool.
type PoolToken struct {
	ID        string
	Symbol    string
	Reserve   decimal.Decimal
	FeeInPct  decimal.Decimal
	FeeOutPct decimal.Decimal
}

// PoolAPR is the reward split of a pool. The node does not report it, so
// Pool.APR is nil unless a richer source fills it.
type PoolAPR struct {
	Reward     decimal.Decimal
	Commission decimal.Decimal
	Total      decimal.Decimal
}

// Pool is a liquidity pool. RatioAB is reserveA/reserveB.
type Pool struct {
	ID             string
	Symbol         string
	TokenA         PoolToken
	TokenB         PoolToken
	RatioAB        decimal.Decimal
	RatioBA        decimal.Decimal
	TotalLiquidity decimal.Decimal
	Commission     decimal.Decimal
	APR            *PoolAPR
}

// Token is a token definition.
type Token struct {
	ID          string
	Symbol      string
	SymbolKey   string
	IsDAT       bool
	IsLPS       bool
	IsLoanToken bool
}

// CollateralToken is a token accepted as vault collateral.
type CollateralToken struct {
	Token     Token
	Factor    decimal.Decimal
	PriceFeed string
}

// LoanToken is a mintable loan token.
type LoanToken struct {
	Token     Token
	Interest  decimal.Decimal
	PriceFeed string
}

// UTXO is an unspent output of the bot's address. Amount is in DFI.
type UTXO struct {
	TxID          string
	Vout          uint32
	Amount        decimal.Decimal
	ScriptPubKey  string
	TokenID       uint32
	Confirmations int64
}

// PathPool is one hop of a swap route.
type PathPool struct {
	ID     string
	Symbol string
}

// BestPath is a swap route and its estimated output per input unit.
type BestPath struct {
	Pools           []PathPool
	EstimatedReturn decimal.Decimal
}

// TxStatus is the confirmation state of a transaction.
type TxStatus struct {
	TxID          string
	Confirmed     bool
	BlockHash     string
	Confirmations int64
}

// Block is a block summary.
type Block struct {
	Height     uint64
	Hash       string
	Time       time.Time
	MedianTime time.Time
}

// PageRequest asks for at most Limit items after Start ("" for the first page).
type PageRequest struct {
	Start string
	Limit int
}

// Page is one page of a listing. Next is the Start of the following page.
type Page[T any] struct {
	Items   []T
	Next    string
	HasMore bool
}

// DefaultPageSize is the page size of paginated listings.
const DefaultPageSize = 200

// ListAllPools pages through ListPools until the node reports no more.
func ListAllPools(ctx context.Context, svc ChainService) ([]Pool, error) {
	var all []Pool
	req := PageRequest{Limit: DefaultPageSize}
	for {
		page, err := svc.ListPools(ctx, req)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if !page.HasMore || page.Next == "" || page.Next == req.Start {
			return all, nil
		}
		req.Start = page.Next
	}
}
