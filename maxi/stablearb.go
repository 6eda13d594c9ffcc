package maxi

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/defichain-maxi/maxi-go/network"
	"github.com/defichain-maxi/maxi-go/program"
	"github.com/defichain-maxi/maxi-go/state"
	"github.com/defichain-maxi/maxi-go/tx"
)

const dusdPoolSymbol = "DUSD-DFI"

var (
	percent = decimal.NewFromInt(100)
	// premiumReserve is the share of the collateral value that DUSD and
	// DFI must still cover after a DUSD batch was sold.
	premiumReserve = decimal.RequireFromString("0.6")
)

var stablecoins = []string{"USDT", "USDC"}

// Peg is where DUSD is expected to trade against USDT and USDC.
type Peg struct {
	Reference decimal.Decimal
	// MinDiff is how far the price after fees has to be off Reference
	// before a batch is traded.
	MinDiff decimal.Decimal
}

// DefaultPeg is 1:1 with a one cent margin.
func DefaultPeg() Peg {
	return Peg{Reference: one, MinDiff: decimal.RequireFromString("0.01")}
}

// stableRoute is one way between DUSD and a stablecoin. ratio is the
// stablecoin price of one DUSD; feeIn applies when buying DUSD, feeOut
// when selling it. pools run from the stablecoin to DUSD.
type stableRoute struct {
	ratio  decimal.Decimal
	feeIn  decimal.Decimal
	feeOut decimal.Decimal
	coll   *network.TokenAmount
	token  network.PoolToken
	pools  []string
}

func (r stableRoute) premium() decimal.Decimal  { return r.ratio.Mul(r.feeOut) }
func (r stableRoute) discount() decimal.Decimal { return r.feeIn.Div(r.ratio) }

func (r stableRoute) String() string {
	return fmt.Sprintf("%s: %s/%s via %d pools", r.token.Symbol, r.premium().StringFixed(4), r.discount().StringFixed(4), len(r.pools))
}

func combineFees(fees ...decimal.Decimal) decimal.Decimal {
	out := one
	for _, f := range fees {
		out = out.Mul(one.Sub(f))
	}
	return out
}

// stableRoutes collects the routes through DFI and the direct DUSD pools
// where they exist. ok is false without the DFI pools.
func stableRoutes(pools []network.Pool, v *network.Vault) (routes []stableRoute, dusd network.PoolToken, ok bool) {
	bySymbol := make(map[string]*network.Pool, len(pools))
	for i := range pools {
		bySymbol[pools[i].Symbol] = &pools[i]
	}
	dp := bySymbol[dusdPoolSymbol]
	if dp == nil || !dp.RatioBA.IsPositive() {
		return nil, dusd, false
	}
	for _, coin := range stablecoins {
		sp := bySymbol[coin+"-DFI"]
		if sp == nil || !sp.RatioAB.IsPositive() {
			return nil, dusd, false
		}
		routes = append(routes, stableRoute{
			ratio: dp.RatioBA.Mul(sp.RatioAB),
			feeIn: combineFees(sp.TokenA.FeeInPct, sp.TokenB.FeeOutPct, dp.TokenB.FeeInPct, dp.TokenA.FeeOutPct,
				sp.Commission, dp.Commission),
			feeOut: combineFees(dp.TokenA.FeeInPct, dp.TokenB.FeeOutPct, sp.TokenB.FeeInPct, sp.TokenA.FeeOutPct,
				sp.Commission, dp.Commission),
			coll:  find(v.Collateral, coin),
			token: sp.TokenA,
			pools: []string{sp.ID, dp.ID},
		})
	}
	for _, coin := range stablecoins {
		direct := bySymbol[coin+"-DUSD"]
		if direct == nil || !direct.RatioAB.IsPositive() {
			continue
		}
		routes = append(routes, stableRoute{
			ratio:  direct.RatioAB,
			feeIn:  combineFees(direct.TokenA.FeeInPct, direct.TokenB.FeeOutPct, direct.Commission),
			feeOut: combineFees(direct.TokenB.FeeInPct, direct.TokenA.FeeOutPct, direct.Commission),
			coll:   find(v.Collateral, coin),
			token:  direct.TokenA,
			pools:  []string{direct.ID},
		})
	}
	return routes, dp.TokenA, true
}

// arbTrade is a decided batch: withdraw from, swap it along pools into to.
type arbTrade struct {
	from     *network.TokenAmount
	to       network.PoolToken
	pools    []string
	maxPrice decimal.Decimal
}

// pickStableTrade prefers buying discounted DUSD with stablecoin
// collateral. Selling DUSD at a premium needs DUSD and DFI to keep
// covering premiumReserve of the collateral value after the batch.
func (e *Engine) pickStableTrade(routes []stableRoute, dusd network.PoolToken, v *network.Vault, batch decimal.Decimal) *arbTrade {
	peg := e.Peg
	best := slices.MaxFunc(routes, func(a, b stableRoute) int { return a.premium().Cmp(b.premium()) })

	var cheapest *stableRoute
	for i, r := range routes {
		if r.coll == nil || !r.coll.Amount.IsPositive() {
			continue
		}
		if cheapest == nil || r.discount().GreaterThan(cheapest.discount()) {
			cheapest = &routes[i]
		}
	}
	e.log.Info().Str("routes", fmt.Sprint(routes)).Str("peg", peg.Reference.String()).
		Str("minDiff", peg.MinDiff.String()).Str("batch", batch.String()).Msg("stable arb")

	if cheapest != nil && cheapest.discount().GreaterThanOrEqual(one.Div(peg.Reference).Add(peg.MinDiff)) {
		e.log.Info().Str("against", cheapest.coll.Symbol).Str("ratio", cheapest.ratio.StringFixed(4)).Msg("found DUSD discount")
		return &arbTrade{from: cheapest.coll, to: dusd, pools: cheapest.pools, maxPrice: peg.Reference}
	}
	dusdColl := find(v.Collateral, "DUSD")
	if dusdColl == nil || !dusdColl.Amount.IsPositive() || best.premium().LessThan(peg.Reference.Add(peg.MinDiff)) {
		return nil
	}
	left := dusdColl.Amount.Add(amountOf(find(v.Collateral, "DFI"))).Sub(batch)
	if !left.GreaterThan(v.CollateralValue.Mul(premiumReserve)) {
		return nil
	}
	e.log.Info().Str("against", best.token.Symbol).Str("ratio", best.ratio.StringFixed(4)).Msg("found DUSD premium")
	pools := slices.Clone(best.pools)
	slices.Reverse(pools)
	return &arbTrade{from: dusdColl, to: best.token, pools: pools, maxPrice: one.Div(peg.Reference)}
}

// targetValue is what one unit of symbol counts as collateral. Tokens
// that are no collateral count as 1.
func (e *Engine) targetValue(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c := program.CollateralTokenByKey(e.collateral, symbol)
	if c == nil {
		return one, nil
	}
	if symbol == "DUSD" {
		return c.Factor, nil
	}
	price, err := e.prog.OraclePrice(ctx, c.Token.Symbol)
	if errors.Is(err, network.ErrNotFound) {
		return c.Factor, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return price.Active.Mul(c.Factor), nil
}

// limitByRatio shrinks size so that swapping into a lower valued
// collateral keeps the current and next ratio at the band minimum.
func (e *Engine) limitByRatio(ctx context.Context, v *network.Vault, size, delta decimal.Decimal) decimal.Decimal {
	loan, nextLoan := v.LoanValue, e.NextLoanValue(v)
	if !loan.IsPositive() || !nextLoan.IsPositive() {
		return size
	}
	coll, nextColl := v.CollateralValue, e.NextCollateralValue(v)
	lost := size.Mul(delta)
	ratio := coll.Sub(lost).Div(loan)
	nextRatio := nextColl.Sub(lost).Div(nextLoan)
	minRatio := decimal.NewFromFloat(e.set.MinCollateralRatio).Div(percent)
	if decimal.Min(ratio, nextRatio).GreaterThanOrEqual(minRatio) {
		return size
	}
	usedColl, usedLoan := coll, loan
	if nextRatio.LessThan(ratio) {
		usedColl, usedLoan = nextColl, nextLoan
	}
	size = decimal.Min(size, usedColl.Sub(usedLoan.Mul(minRatio)).Div(delta))
	e.log.Info().Str("size", size.StringFixed(2)).Str("delta", delta.String()).Msg("reduced arb size for collateral factor")
	e.send(ctx, "stableArb: needed to reduce size due to collValue differences. used size: "+size.StringFixed(2))
	return size
}

// StableArb trades one batch of stablecoin collateral against DUSD when
// DUSD is off its peg by more than the configured margin. batch is in
// USD. The swapped tokens go back into the vault; a failed swap puts the
// withdrawn tokens back instead. It reports whether anything was sent.
func (e *Engine) StableArb(ctx context.Context, v *network.Vault, batch decimal.Decimal) (bool, error) {
	pools, err := e.prog.Pools(ctx)
	if err != nil {
		return false, err
	}
	routes, dusd, ok := stableRoutes(pools, v)
	if !ok {
		e.log.Error().Msg("couldn't get stable pool data")
		return false, nil
	}
	trade := e.pickStableTrade(routes, dusd, v, batch)
	if trade == nil {
		return false, nil
	}

	collValue := e.collateralPrice(trade.from)
	if !collValue.IsPositive() {
		e.log.Warn().Str("token", trade.from.Symbol).Msg("no collateral price for stable arb")
		return false, nil
	}
	size := decimal.Min(batch.Div(collValue), trade.from.Amount)
	targetValue, err := e.targetValue(ctx, trade.to.Symbol)
	if err != nil {
		return false, err
	}
	if delta := collValue.Sub(targetValue); delta.IsPositive() {
		size = e.limitByRatio(ctx, v, size, delta)
	}
	size = size.RoundFloor(8)
	if !size.IsPositive() {
		e.send(ctx, "stableArb: size zero after collValue checks, no stable arb done")
		return false, nil
	}

	fromID, err := program.ParseTokenID(trade.from.ID)
	if err != nil {
		return false, err
	}
	toID, err := program.ParseTokenID(trade.to.ID)
	if err != nil {
		return false, err
	}
	ids := make([]uint32, 0, len(trade.pools))
	for _, p := range trade.pools {
		id, err := program.ParseTokenID(p)
		if err != nil {
			return false, err
		}
		ids = append(ids, id)
	}

	e.log.Info().Str("size", size.StringFixed(2)).Str("from", trade.from.Symbol).Str("to", trade.to.Symbol).
		Str("pools", strings.Join(trade.pools, ">")).Msg("withdrawing for stable arb")
	withdraw, err := e.prog.WithdrawFromVault(ctx, fromID, size, nil)
	if err != nil {
		return false, err
	}
	e.state(ctx, state.OpStableArbitrage, withdraw.TxID)
	prevout := withdraw.Change

	swap, err := e.prog.CompositeSwap(ctx, size, fromID, toID, ids, trade.maxPrice.Round(8), nil, prevout)
	if err != nil {
		e.log.Warn().Err(err).Msg("stable arb swap not sent")
		swap = nil
	} else {
		e.state(ctx, state.OpStableArbitrage, swap.TxID)
		prevout = swap.Change
	}

	var (
		last *tx.Built
		msg  string
	)
	if swap == nil || !e.prog.WaitForTx(ctx, swap.TxID, 0) {
		msg = "tried stable arb but failed, swaptx failed directly."
		if swap != nil {
			msg = "tried stable arb but failed, swap didn't go through."
		}
		e.log.Info().Str("size", size.StringFixed(2)).Str("token", trade.from.Symbol).Msg("redepositing")
		last, err = e.prog.DepositToVault(ctx, fromID, size, prevout)
	} else {
		bal, berr := e.prog.TokenBalance(ctx, trade.to.Symbol)
		if berr != nil {
			return true, berr
		}
		got := amountOf(bal)
		msg = fmt.Sprintf("did stable arb. got %s@%s for %s@%s", got, trade.to.Symbol, size.StringFixed(4), trade.from.Symbol)
		if !got.IsPositive() {
			e.send(ctx, msg)
			return true, nil
		}
		last, err = e.prog.DepositToVault(ctx, toID, got, prevout)
	}
	if err != nil {
		return true, err
	}
	e.state(ctx, state.OpStableArbitrage, last.TxID)
	e.prog.WaitForTx(ctx, last.TxID, 0)
	e.send(ctx, msg)
	return true, nil
}
