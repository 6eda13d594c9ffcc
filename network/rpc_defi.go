package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var _ ChainService = (*RPCClient)(nil)

// SetSwapAddress sets the address used as sender and receiver in swap
// estimates. The node requires a syntactically valid one.
func (c *RPCClient) SetSwapAddress(addr string) {
	c.tokensMu.Lock()
	c.swapAddress = addr
	c.tokensMu.Unlock()
}

type rpcVault struct {
	VaultID           string          `json:"vaultId"`
	LoanSchemeID      string          `json:"loanSchemeId"`
	OwnerAddress      string          `json:"ownerAddress"`
	State             string          `json:"state"`
	CollateralAmounts []string        `json:"collateralAmounts"`
	LoanAmounts       []string        `json:"loanAmounts"`
	InterestAmounts   []string        `json:"interestAmounts"`
	CollateralValue   decimal.Decimal `json:"collateralValue"`
	LoanValue         decimal.Decimal `json:"loanValue"`
	InterestValue     decimal.Decimal `json:"interestValue"`
	CollateralRatio   decimal.Decimal `json:"collateralRatio"`
	InformativeRatio  decimal.Decimal `json:"informativeRatio"`
}

type rpcLoanScheme struct {
	ID           string          `json:"id"`
	MinColRatio  decimal.Decimal `json:"mincolratio"`
	InterestRate decimal.Decimal `json:"interestrate"`
}

type rpcToken struct {
	Symbol      string `json:"symbol"`
	SymbolKey   string `json:"symbolKey"`
	IsDAT       bool   `json:"isDAT"`
	IsLPS       bool   `json:"isLPS"`
	IsLoanToken bool   `json:"isLoanToken"`
}

type rpcFixedPrice struct {
	ActivePrice decimal.Decimal `json:"activePrice"`
	NextPrice   decimal.Decimal `json:"nextPrice"`
	IsLive      bool            `json:"isLive"`
}

// GetVault fetches a vault with its loan scheme and prices every
// collateral and loan amount.
func (c *RPCClient) GetVault(ctx context.Context, vaultID string) (*Vault, error) {
	var rv rpcVault
	if err := c.Call(ctx, "getvault", []interface{}{vaultID}, &rv); err != nil {
		return nil, notFoundOn(err, "vault "+vaultID)
	}
	v := &Vault{
		ID:               rv.VaultID,
		Owner:            rv.OwnerAddress,
		State:            parseVaultState(rv.State),
		CollateralValue:  rv.CollateralValue,
		LoanValue:        rv.LoanValue,
		InterestValue:    rv.InterestValue,
		CollateralRatio:  rv.CollateralRatio,
		InformativeRatio: rv.InformativeRatio,
	}
	var scheme rpcLoanScheme
	if err := c.Call(ctx, "getloanscheme", []interface{}{rv.LoanSchemeID}, &scheme); err != nil {
		return nil, fmt.Errorf("network: loan scheme %s: %w", rv.LoanSchemeID, err)
	}
	v.Scheme = LoanScheme{ID: scheme.ID, MinColRatio: scheme.MinColRatio, InterestRate: scheme.InterestRate}

	var err error
	if v.Collateral, err = c.pricedAmounts(ctx, rv.CollateralAmounts); err != nil {
		return nil, err
	}
	if v.Loans, err = c.pricedAmounts(ctx, rv.LoanAmounts); err != nil {
		return nil, err
	}
	if v.Interests, err = c.pricedAmounts(ctx, rv.InterestAmounts); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *RPCClient) pricedAmounts(ctx context.Context, raw []string) ([]TokenAmount, error) {
	out := make([]TokenAmount, 0, len(raw))
	for _, s := range raw {
		ta, err := c.resolveAmount(ctx, s)
		if err != nil {
			return nil, err
		}
		if ta.Price, err = c.GetOraclePrice(ctx, ta.Symbol); err != nil {
			return nil, err
		}
		out = append(out, ta)
	}
	return out, nil
}

func parseVaultState(s string) VaultState {
	switch VaultState(s) {
	case VaultActive, VaultFrozen, VaultInLiquidation, VaultMayLiquidate:
		return VaultState(s)
	}
	return VaultUnknown
}

// ParseAmount splits the node's "amount@SYMBOL" notation.
func ParseAmount(s string) (decimal.Decimal, string, error) {
	amount, symbol, ok := strings.Cut(s, "@")
	if !ok || symbol == "" {
		return decimal.Zero, "", fmt.Errorf("%w: amount %q", ErrInvalidResponse, s)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("%w: amount %q: %w", ErrInvalidResponse, s, err)
	}
	return d, symbol, nil
}

func (c *RPCClient) resolveAmount(ctx context.Context, s string) (TokenAmount, error) {
	amount, symbol, err := ParseAmount(s)
	if err != nil {
		return TokenAmount{}, err
	}
	tok, err := c.tokenBySymbol(ctx, symbol)
	if err != nil {
		return TokenAmount{}, err
	}
	return TokenAmount{ID: tok.ID, Symbol: tok.Symbol, Amount: amount}, nil
}

// ListUnspent returns up to limit unspent outputs of address, including
// unconfirmed ones.
func (c *RPCClient) ListUnspent(ctx context.Context, address string, limit int) ([]*UTXO, error) {
	var raw []struct {
		TxID          string          `json:"txid"`
		Vout          uint32          `json:"vout"`
		Amount        decimal.Decimal `json:"amount"`
		TokenID       uint32          `json:"tokenId"`
		ScriptPubKey  string          `json:"scriptPubKey"`
		Confirmations int64           `json:"confirmations"`
	}
	opts := map[string]interface{}{"maximumCount": limit}
	if err := c.Call(ctx, "listunspent", []interface{}{0, 9999999, []string{address}, true, opts}, &raw); err != nil {
		return nil, err
	}
	utxos := make([]*UTXO, 0, len(raw))
	for _, u := range raw {
		utxos = append(utxos, &UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Amount:        u.Amount,
			ScriptPubKey:  u.ScriptPubKey,
			TokenID:       u.TokenID,
			Confirmations: u.Confirmations,
		})
	}
	return utxos, nil
}

// ListTokenBalances returns the account (non-UTXO) token balances of address.
func (c *RPCClient) ListTokenBalances(ctx context.Context, address string) ([]TokenAmount, error) {
	var raw []string
	pagination := map[string]interface{}{"limit": 1000}
	if err := c.Call(ctx, "getaccount", []interface{}{address, pagination, false}, &raw); err != nil {
		return nil, err
	}
	out := make([]TokenAmount, 0, len(raw))
	for _, s := range raw {
		ta, err := c.resolveAmount(ctx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, ta)
	}
	return out, nil
}

// ListTokens returns every token definition. The result is cached for the
// lifetime of the client.
func (c *RPCClient) ListTokens(ctx context.Context) ([]Token, error) {
	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()
	if c.tokens == nil {
		if err := c.loadTokensLocked(ctx); err != nil {
			return nil, err
		}
	}
	out := make([]Token, 0, len(c.tokens))
	for _, t := range c.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out, nil
}

func (c *RPCClient) loadTokensLocked(ctx context.Context) error {
	var raw map[string]rpcToken
	pagination := map[string]interface{}{"start": 0, "including_start": true, "limit": 10000}
	if err := c.Call(ctx, "listtokens", []interface{}{pagination, true}, &raw); err != nil {
		return err
	}
	tokens := make(map[string]Token, len(raw))
	for id, t := range raw {
		tokens[t.Symbol] = Token{
			ID:          id,
			Symbol:      t.Symbol,
			SymbolKey:   t.SymbolKey,
			IsDAT:       t.IsDAT,
			IsLPS:       t.IsLPS,
			IsLoanToken: t.IsLoanToken,
		}
	}
	c.tokens = tokens
	return nil
}

func (c *RPCClient) tokenBySymbol(ctx context.Context, symbol string) (Token, error) {
	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()
	if c.tokens == nil {
		if err := c.loadTokensLocked(ctx); err != nil {
			return Token{}, err
		}
	}
	t, ok := c.tokens[symbol]
	if !ok {
		return Token{}, fmt.Errorf("%w: token %s", ErrNotFound, symbol)
	}
	return t, nil
}

func (c *RPCClient) tokenByID(ctx context.Context, id string) (Token, error) {
	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()
	if c.tokens == nil {
		if err := c.loadTokensLocked(ctx); err != nil {
			return Token{}, err
		}
	}
	for _, t := range c.tokens {
		if t.ID == id {
			return t, nil
		}
	}
	return Token{}, fmt.Errorf("%w: token id %s", ErrNotFound, id)
}

// ListPools returns one page of pool pairs ordered by pool id.
func (c *RPCClient) ListPools(ctx context.Context, req PageRequest) (*Page[Pool], error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	pagination := map[string]interface{}{"limit": limit, "including_start": req.Start == ""}
	if req.Start != "" {
		start, err := strconv.ParseUint(req.Start, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("network: pool page start %q: %w", req.Start, err)
		}
		pagination["start"] = start
	} else {
		pagination["start"] = 0
	}

	var raw map[string]struct {
		Symbol             string          `json:"symbol"`
		IDTokenA           string          `json:"idTokenA"`
		IDTokenB           string          `json:"idTokenB"`
		ReserveA           decimal.Decimal `json:"reserveA"`
		ReserveB           decimal.Decimal `json:"reserveB"`
		RatioAB            decimal.Decimal `json:"reserveA/reserveB"`
		RatioBA            decimal.Decimal `json:"reserveB/reserveA"`
		Commission         decimal.Decimal `json:"commission"`
		TotalLiquidity     decimal.Decimal `json:"totalLiquidity"`
		DexFeeInPctTokenA  decimal.Decimal `json:"dexFeeInPctTokenA"`
		DexFeeOutPctTokenA decimal.Decimal `json:"dexFeeOutPctTokenA"`
		DexFeeInPctTokenB  decimal.Decimal `json:"dexFeeInPctTokenB"`
		DexFeeOutPctTokenB decimal.Decimal `json:"dexFeeOutPctTokenB"`
	}
	if err := c.Call(ctx, "listpoolpairs", []interface{}{pagination, true}, &raw); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return idLess(ids[i], ids[j]) })

	page := &Page[Pool]{Items: make([]Pool, 0, len(ids)), HasMore: len(ids) >= limit}
	for _, id := range ids {
		p := raw[id]
		symA, symB, _ := strings.Cut(p.Symbol, "-")
		page.Items = append(page.Items, Pool{
			ID:     id,
			Symbol: p.Symbol,
			TokenA: PoolToken{ID: p.IDTokenA, Symbol: symA, Reserve: p.ReserveA,
				FeeInPct: p.DexFeeInPctTokenA, FeeOutPct: p.DexFeeOutPctTokenA},
			TokenB: PoolToken{ID: p.IDTokenB, Symbol: symB, Reserve: p.ReserveB,
				FeeInPct: p.DexFeeInPctTokenB, FeeOutPct: p.DexFeeOutPctTokenB},
			RatioAB:        p.RatioAB,
			RatioBA:        p.RatioBA,
			TotalLiquidity: p.TotalLiquidity,
			Commission:     p.Commission,
		})
	}
	if len(ids) > 0 {
		page.Next = ids[len(ids)-1]
	}
	return page, nil
}

// ListCollateralTokens returns the tokens accepted as vault collateral.
func (c *RPCClient) ListCollateralTokens(ctx context.Context) ([]CollateralToken, error) {
	var raw []struct {
		Token                string          `json:"token"`
		Factor               decimal.Decimal `json:"factor"`
		FixedIntervalPriceID string          `json:"fixedIntervalPriceId"`
	}
	if err := c.Call(ctx, "listcollateraltokens", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]CollateralToken, 0, len(raw))
	for _, r := range raw {
		tok, err := c.tokenBySymbol(ctx, r.Token)
		if err != nil {
			return nil, err
		}
		out = append(out, CollateralToken{Token: tok, Factor: r.Factor, PriceFeed: r.FixedIntervalPriceID})
	}
	return out, nil
}

// GetLoanToken returns the loan token definition for symbol.
func (c *RPCClient) GetLoanToken(ctx context.Context, symbol string) (*LoanToken, error) {
	var raw struct {
		Token                map[string]rpcToken `json:"token"`
		FixedIntervalPriceID string              `json:"fixedIntervalPriceId"`
		Interest             decimal.Decimal     `json:"interest"`
	}
	if err := c.Call(ctx, "getloantoken", []interface{}{symbol}, &raw); err != nil {
		return nil, notFoundOn(err, "loan token "+symbol)
	}
	for id, t := range raw.Token {
		return &LoanToken{
			Token: Token{ID: id, Symbol: t.Symbol, SymbolKey: t.SymbolKey,
				IsDAT: t.IsDAT, IsLPS: t.IsLPS, IsLoanToken: t.IsLoanToken},
			Interest:  raw.Interest,
			PriceFeed: raw.FixedIntervalPriceID,
		}, nil
	}
	return nil, fmt.Errorf("%w: loan token %s", ErrNotFound, symbol)
}

// GetOraclePrice returns the fixed-interval USD price of symbol. DUSD has
// no feed and is valued at 1.
func (c *RPCClient) GetOraclePrice(ctx context.Context, symbol string) (*OraclePrice, error) {
	if symbol == "DUSD" {
		return &OraclePrice{Active: decimal.NewFromInt(1), Next: decimal.NewFromInt(1), IsLive: true}, nil
	}
	var raw rpcFixedPrice
	if err := c.Call(ctx, "getfixedintervalprice", []interface{}{symbol + "/USD"}, &raw); err != nil {
		return nil, notFoundOn(err, "price "+symbol)
	}
	return &OraclePrice{Active: raw.ActivePrice, Next: raw.NextPrice, IsLive: raw.IsLive}, nil
}

// GetBestPath estimates a swap via the node's automatic routing.
func (c *RPCClient) GetBestPath(ctx context.Context, fromID, toID string, amount decimal.Decimal) (*BestPath, error) {
	if !amount.IsPositive() {
		amount = decimal.NewFromInt(1)
	}
	c.tokensMu.Lock()
	addr := c.swapAddress
	c.tokensMu.Unlock()

	var raw struct {
		Path   string   `json:"path"`
		Pools  []string `json:"pools"`
		Amount string   `json:"amount"`
	}
	params := map[string]interface{}{
		"from":       addr,
		"tokenFrom":  fromID,
		"amountFrom": amount.String(),
		"to":         addr,
		"tokenTo":    toID,
	}
	if err := c.Call(ctx, "testpoolswap", []interface{}{params, "auto", true}, &raw); err != nil {
		return nil, err
	}
	out, _, err := ParseAmount(raw.Amount)
	if err != nil {
		return nil, err
	}
	path := &BestPath{EstimatedReturn: out.DivRound(amount, 8)}
	for _, id := range raw.Pools {
		pp := PathPool{ID: id}
		if tok, err := c.tokenByID(ctx, id); err == nil {
			pp.Symbol = tok.Symbol
		}
		path.Pools = append(path.Pools, pp)
	}
	return path, nil
}

// GetBlockHeight returns the current chain height.
func (c *RPCClient) GetBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.Call(ctx, "getblockcount", nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// ListBlocks returns the newest count blocks, newest first.
func (c *RPCClient) ListBlocks(ctx context.Context, count int) ([]Block, error) {
	tip, err := c.GetBlockHeight(ctx)
	if err != nil {
		return nil, err
	}
	blocks := make([]Block, 0, count)
	for i := 0; i < count && uint64(i) <= tip; i++ {
		h := tip - uint64(i)
		var hash string
		if err := c.Call(ctx, "getblockhash", []interface{}{h}, &hash); err != nil {
			return nil, err
		}
		var raw struct {
			Hash       string `json:"hash"`
			Height     uint64 `json:"height"`
			Time       int64  `json:"time"`
			MedianTime int64  `json:"mediantime"`
		}
		if err := c.Call(ctx, "getblock", []interface{}{hash, 1}, &raw); err != nil {
			return nil, err
		}
		blocks = append(blocks, Block{
			Height:     raw.Height,
			Hash:       raw.Hash,
			Time:       time.Unix(raw.Time, 0),
			MedianTime: time.Unix(raw.MedianTime, 0),
		})
	}
	return blocks, nil
}

// SendRawTx broadcasts rawTxHex. Node rejections wrap ErrBroadcastRejected.
func (c *RPCClient) SendRawTx(ctx context.Context, rawTxHex string) (string, error) {
	var txid string
	if err := c.Call(ctx, "sendrawtransaction", []interface{}{rawTxHex}, &txid); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return "", fmt.Errorf("%w: %w", ErrBroadcastRejected, err)
		}
		return "", err
	}
	return txid, nil
}

// GetTransaction returns the confirmation state of txid.
func (c *RPCClient) GetTransaction(ctx context.Context, txid string) (*TxStatus, error) {
	var raw struct {
		TxID          string `json:"txid"`
		BlockHash     string `json:"blockhash"`
		Confirmations int64  `json:"confirmations"`
	}
	if err := c.Call(ctx, "getrawtransaction", []interface{}{txid, true}, &raw); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == CodeInvalidAddressOrKey {
			return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txid)
		}
		return nil, err
	}
	return &TxStatus{
		TxID:          raw.TxID,
		Confirmed:     raw.Confirmations > 0,
		BlockHash:     raw.BlockHash,
		Confirmations: raw.Confirmations,
	}, nil
}

// ImportAddress adds address as watch-only without a rescan.
func (c *RPCClient) ImportAddress(ctx context.Context, address string) error {
	return c.Call(ctx, "importaddress", []interface{}{address, "", false}, nil)
}

// notFoundOn maps the node's "does not exist" codes to ErrNotFound.
func notFoundOn(err error, what string) error {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && (rpcErr.Code == CodeInvalidAddressOrKey || rpcErr.Code == CodeInvalidParameter) {
		return fmt.Errorf("%w: %s: %s", ErrNotFound, what, rpcErr.Message)
	}
	return err
}

// idLess orders numeric ids numerically and falls back to string order.
func idLess(a, b string) bool {
	ai, errA := strconv.ParseUint(a, 10, 64)
	bi, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}
