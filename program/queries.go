package program

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/defichain-maxi/maxi-go/network"
)

const balanceUnspentLimit = 1000

// UTXOBalance sums the DFI held as unspent outputs of the address.
func (p *Program) UTXOBalance(ctx context.Context) (decimal.Decimal, error) {
	utxos, err := p.chain.ListUnspent(ctx, p.Address(), balanceUnspentLimit)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, u := range utxos {
		if u.TokenID == 0 {
			total = total.Add(u.Amount)
		}
	}
	return total, nil
}

// TokenBalances returns the account balances keyed by symbol.
func (p *Program) TokenBalances(ctx context.Context) (map[string]network.TokenAmount, error) {
	list, err := p.chain.ListTokenBalances(ctx, p.Address())
	if err != nil {
		return nil, err
	}
	out := make(map[string]network.TokenAmount, len(list))
	for _, t := range list {
		out[t.Symbol] = t
	}
	return out, nil
}

// TokenBalance returns the balance of symbol, or nil when none is held.
func (p *Program) TokenBalance(ctx context.Context, symbol string) (*network.TokenAmount, error) {
	all, err := p.TokenBalances(ctx)
	if err != nil {
		return nil, err
	}
	if t, ok := all[symbol]; ok {
		return &t, nil
	}
	return nil, nil
}

// Vault fetches the configured vault.
func (p *Program) Vault(ctx context.Context) (*network.Vault, error) {
	if err := p.requireVault(); err != nil {
		return nil, err
	}
	return p.chain.GetVault(ctx, p.settings.Vault)
}

// Pools lists every pool, following pagination.
func (p *Program) Pools(ctx context.Context) ([]network.Pool, error) {
	return network.ListAllPools(ctx, p.chain)
}

// Pool returns the pool with the given symbol, e.g. "TSLA-DUSD".
func (p *Program) Pool(ctx context.Context, symbol string) (*network.Pool, error) {
	pools, err := p.Pools(ctx)
	if err != nil {
		return nil, err
	}
	for i := range pools {
		if pools[i].Symbol == symbol {
			return &pools[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, symbol)
}

// Token returns the token with the given symbol.
func (p *Program) Token(ctx context.Context, symbol string) (*network.Token, error) {
	tokens, err := p.chain.ListTokens(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tokens {
		if tokens[i].Symbol == symbol || tokens[i].SymbolKey == symbol {
			return &tokens[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, symbol)
}

// CollateralTokens lists the tokens accepted as vault collateral.
func (p *Program) CollateralTokens(ctx context.Context) ([]network.CollateralToken, error) {
	return p.chain.ListCollateralTokens(ctx)
}

// LoanToken returns the loan token metadata of symbol.
func (p *Program) LoanToken(ctx context.Context, symbol string) (*network.LoanToken, error) {
	return p.chain.GetLoanToken(ctx, symbol)
}

// OraclePrice returns the active and next USD price of symbol.
func (p *Program) OraclePrice(ctx context.Context, symbol string) (*network.OraclePrice, error) {
	return p.chain.GetOraclePrice(ctx, symbol)
}

// BlockHeight returns the node's current height.
func (p *Program) BlockHeight(ctx context.Context) (uint64, error) {
	return p.chain.GetBlockHeight(ctx)
}

// ParseTokenID converts a node token id such as "15" to its numeric form.
func ParseTokenID(id string) (uint32, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: id %q", ErrTokenNotFound, id)
	}
	return uint32(n), nil
}
