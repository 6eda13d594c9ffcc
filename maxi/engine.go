// Package maxi keeps a loan vault's collateral ratio inside a band by
// minting loans into a liquidity pool and unwinding them again.
package maxi

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/defichain-maxi/maxi-go/config"
	"github.com/defichain-maxi/maxi-go/logger"
	"github.com/defichain-maxi/maxi-go/network"
	"github.com/defichain-maxi/maxi-go/program"
	"github.com/defichain-maxi/maxi-go/reinvest"
	"github.com/defichain-maxi/maxi-go/state"
	"github.com/defichain-maxi/maxi-go/tx"
	"github.com/defichain-maxi/maxi-go/wallet"
)

const (
	minRange              = 2
	lowUTXOWarning        = "0.0001"
	defaultDonationFloor  = 10
	executionsPerYear     = 35040
	defaultConsistencyPct = 1
)

// Engine runs the vault maximizer for one program.
type Engine struct {
	prog *program.Program
	set  config.MaxiSettings
	log  zerolog.Logger

	assetA, assetB string
	mode           Mode
	factors        map[string]decimal.Decimal
	collateral     []network.CollateralToken

	targets    []*reinvest.Target
	resolver   reinvest.Resolver
	reinvestor *reinvest.Reinvestor

	// SafetyOverride replaces twice the scheme minimum as the ratio the
	// safety pre-check aims for when positive.
	SafetyOverride decimal.Decimal
	// ConsistencyTolerance is the accepted deviation in percent.
	ConsistencyTolerance decimal.Decimal
	// Peg drives StableArb.
	Peg Peg
}

// NewEngine prepares an engine from the program's maxi settings. The
// settings are copied; checks may adjust the copy.
func NewEngine(p *program.Program) (*Engine, error) {
	s := p.Settings()
	if s == nil || s.Maxi == nil {
		return nil, ErrNotMaxiSettings
	}
	e := &Engine{
		prog:                 p,
		set:                  *s.Maxi,
		log:                  logger.GetForComponent("maxi"),
		factors:              map[string]decimal.Decimal{},
		ConsistencyTolerance: decimal.NewFromInt(defaultConsistencyPct),
		Peg:                  DefaultPeg(),
	}
	e.assetA, e.assetB, _ = strings.Cut(e.set.LMPair, "-")
	e.mode = ModeFor(e.assetA, e.assetB, e.set.MainCollateralAsset)
	return e, nil
}

// Init loads the collateral factors and the reinvest targets. Without a
// pattern, rewards go to the main collateral asset.
func (e *Engine) Init(ctx context.Context) error {
	coll, err := e.prog.CollateralTokens(ctx)
	if err != nil {
		return fmt.Errorf("maxi: collateral tokens: %w", err)
	}
	e.collateral = coll
	for _, c := range coll {
		e.factors[c.Token.ID] = c.Factor
	}
	e.resolver = reinvest.NewResolver(e.prog, coll)
	e.reinvestor = reinvest.New(e.prog, e.resolver)

	pattern := e.set.Reinvest.Pattern
	if pattern == "" {
		pattern = e.set.MainCollateralAsset
	}
	e.targets = reinvest.ParseTargets(pattern, e.resolver)
	e.log.Info().Str("pair", e.set.LMPair).Str("mode", e.mode.String()).Int("targets", len(e.targets)).Msg("engine initialised")
	return nil
}

// Pair is the configured pool symbol.
func (e *Engine) Pair() string { return e.set.LMPair }

// Mode is the minting mode in effect.
func (e *Engine) Mode() Mode { return e.mode }

// Settings returns the effective, possibly adjusted, settings.
func (e *Engine) Settings() config.MaxiSettings { return e.set }

// Band is the effective collateral ratio band.
func (e *Engine) Band() Band {
	return Band{Min: decimal.NewFromFloat(e.set.MinCollateralRatio), Max: decimal.NewFromFloat(e.set.MaxCollateralRatio)}
}

// RemoveAllExposure sets the band so the next decision removes exposure.
func (e *Engine) RemoveAllExposure() { e.set.MaxCollateralRatio = -1 }

// Values returns the current and next valuations of v.
func (e *Engine) Values(v *network.Vault) Values {
	return Values{
		Collateral:     v.CollateralValue,
		Loan:           v.LoanValue,
		NextCollateral: e.NextCollateralValue(v),
		NextLoan:       e.NextLoanValue(v),
	}
}

func (e *Engine) NextCollateralValue(v *network.Vault) decimal.Decimal {
	return NextCollateralValue(v, e.factors)
}

func (e *Engine) NextLoanValue(v *network.Vault) decimal.Decimal { return NextLoanValue(v) }

func (e *Engine) NextCollateralRatio(v *network.Vault) decimal.Decimal {
	return NextCollateralRatio(v, e.factors)
}

// UsedRatio is the lower of the current and next collateral ratio.
func (e *Engine) UsedRatio(v *network.Vault) decimal.Decimal {
	return decimal.Min(v.CollateralRatio, e.NextCollateralRatio(v))
}

// ConsistencyCheck compares node-reported values with recomputed ones.
func (e *Engine) ConsistencyCheck(v *network.Vault) bool {
	ok := ConsistencyCheck(v, e.factors, e.ConsistencyTolerance)
	if !ok {
		e.log.Warn().Str("collateral", v.CollateralValue.String()).Str("loan", v.LoanValue.String()).Msg("vault values inconsistent")
	}
	return ok
}

func (e *Engine) send(ctx context.Context, msg string) { e.prog.Notifier().Send(ctx, msg) }

func find(list []network.TokenAmount, symbol string) *network.TokenAmount {
	for i := range list {
		if list[i].Symbol == symbol {
			return &list[i]
		}
	}
	return nil
}

func amountOf(t *network.TokenAmount) decimal.Decimal {
	if t == nil {
		return decimal.Zero
	}
	return t.Amount
}

func (e *Engine) collateralPrice(t *network.TokenAmount) decimal.Decimal {
	if t == nil {
		return decimal.Zero
	}
	return CollateralPrice(t, factorOf(e.factors, t.ID))
}

// stablePrice prices asset A of a stablecoin pair as collateral.
func (e *Engine) stablePrice(ctx context.Context) (decimal.Decimal, error) {
	c := program.CollateralTokenByKey(e.collateral, e.assetA)
	if c == nil {
		return decimal.Zero, fmt.Errorf("%w: %s is no collateral", program.ErrTokenNotFound, e.assetA)
	}
	price, err := e.prog.OraclePrice(ctx, c.Token.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return CollateralPrice(&network.TokenAmount{ID: c.Token.ID, Symbol: c.Token.Symbol, Price: price}, c.Factor), nil
}

// legs returns the oracle prices used for the two pool legs.
func (e *Engine) legs(ctx context.Context, v *network.Vault) (decimal.Decimal, decimal.Decimal, error) {
	switch e.mode {
	case SingleMintA:
		return LoanPrice(find(v.Loans, e.assetA)), e.collateralPrice(find(v.Collateral, e.assetB)), nil
	case SingleMintB:
		a, err := e.stablePrice(ctx)
		return a, one, err
	}
	return LoanPrice(find(v.Loans, e.assetA)), one, nil
}

func (e *Engine) mintsA() bool { return e.mode != SingleMintB }
func (e *Engine) mintsB() bool { return e.mode != SingleMintA }

// Check validates the vault and pool and applies automatic corrections to
// the effective settings. It reports false when the run must stop.
func (e *Engine) Check(ctx context.Context, v *network.Vault, pool *network.Pool, balances map[string]network.TokenAmount) (bool, error) {
	if !e.prog.ValidationChecks(ctx, true) {
		return false, nil
	}
	if v == nil {
		e.send(ctx, fmt.Sprintf("Could not find vault. trying vault %s in %s. ", e.prog.VaultID(), e.prog.Address()))
		return false, nil
	}
	if v.Owner != e.prog.Address() {
		e.send(ctx, "Error: vault not owned by this address")
		return false, nil
	}
	if v.State == network.VaultInLiquidation {
		e.send(ctx, "Error: Can't maximize a vault in liquidation!")
		return false, nil
	}
	if e.assetB != "DUSD" && e.set.LMPair != "DUSD-DFI" {
		e.send(ctx, "vaultMaxi only works on dStock-DUSD pools or DUSD-DFI not on "+e.set.LMPair)
		return false, nil
	}
	if pool == nil {
		e.send(ctx, "No pool found for this token. tried: "+e.set.LMPair)
		return false, nil
	}

	utxos, err := e.prog.UTXOBalance(ctx)
	if err != nil {
		return false, err
	}
	if utxos.LessThanOrEqual(decimal.RequireFromString(lowUTXOWarning)) {
		if !utxos.IsPositive() {
			e.send(ctx, "!!!IMMEDIATE ACTION REQUIRED!!!\nyou have no UTXOs left in "+e.prog.Address()+
				". Please replenish otherwise you maxi can't protect your vault!")
			return false, nil
		}
		msg := "!!!ACTION REQUIRED!!!\nyour UTXO balance is running low in " + e.prog.Address() +
			", only " + utxos.StringFixed(5) + " DFI left. Please replenish to prevent any errors"
		e.send(ctx, msg)
		e.log.Warn().Str("utxos", utxos.String()).Msg("utxo balance low")
	}

	schemeMin, _ := v.Scheme.MinColRatio.Float64()
	if schemeMin >= e.set.MinCollateralRatio {
		e.send(ctx, fmt.Sprintf("minCollateralRatio is too low. thresholds %s - %s. loanscheme minimum is %s will use %s as minimum",
			fnum(e.set.MinCollateralRatio), fnum(e.set.MaxCollateralRatio), fnum(schemeMin), fnum(schemeMin+1)))
		e.set.MinCollateralRatio = schemeMin + 1
	}
	if e.set.MaxCollateralRatio > 0 && e.set.MinCollateralRatio > e.set.MaxCollateralRatio-minRange {
		e.send(ctx, fmt.Sprintf("Min collateral must be more than %d below max collateral. Please change your settings. thresholds %s - %s will use %s - %s",
			minRange, fnum(e.set.MinCollateralRatio), fnum(e.set.MaxCollateralRatio), fnum(e.set.MinCollateralRatio), fnum(e.set.MinCollateralRatio+minRange)))
		e.set.MaxCollateralRatio = e.set.MinCollateralRatio + minRange
	}
	if e.set.MainCollateralAsset != "DUSD" && e.set.MainCollateralAsset != "DFI" {
		e.send(ctx, "can't use this main collateral: "+e.set.MainCollateralAsset+". falling back to DFI")
		e.set.MainCollateralAsset = "DFI"
	}
	if e.set.MainCollateralAsset != "DFI" && e.assetB != e.set.MainCollateralAsset {
		e.send(ctx, "can't work with this combination of mainCollateralAsset "+e.set.MainCollateralAsset+" and lmPair "+e.set.LMPair)
		e.set.MainCollateralAsset = "DFI"
	}
	e.mode = ModeFor(e.assetA, e.assetB, e.set.MainCollateralAsset)

	if v.State != network.VaultFrozen {
		if err := e.safetyPreCheck(ctx, v, pool, balances); err != nil {
			return false, err
		}
	}

	e.set.Reinvest.AutoDonationPercent = min(e.set.Reinvest.AutoDonationPercent, reinvest.MaxDonationPercent)
	if problems := reinvest.Validate(e.targets); len(problems) > 0 {
		for _, p := range problems {
			e.send(ctx, p)
		}
		e.send(ctx, "will not do any reinvest until errors are fixed")
		e.targets = nil
	}
	return true, nil
}

// safetyPreCheck warns when unwinding the whole position could not bring
// the vault back to a safe ratio. It never stops the run.
func (e *Engine) safetyPreCheck(ctx context.Context, v *network.Vault, pool *network.Pool, balances map[string]network.TokenAmount) error {
	safe := v.Scheme.MinColRatio.Mul(decimal.NewFromInt(2))
	if e.SafetyOverride.IsPositive() {
		safe = e.SafetyOverride
		e.log.Info().Str("safety", safe.String()).Msg("using safety override")
	}
	if !v.CollateralRatio.IsPositive() || !v.CollateralRatio.LessThan(safe) {
		return nil
	}
	lp, hasLP := balances[e.set.LMPair]
	loanA, loanB := find(v.Loans, e.assetA), find(v.Loans, e.assetB)
	if !hasLP || (e.mintsA() && loanA == nil) || (e.mintsB() && loanB == nil) {
		e.send(ctx, "!!!IMMEDIATE ACTION REQUIRED!!!\nThere are no lpTokens in the address or no according loans in the vault.\n"+
			"Did you change the LMToken? VaultMaxi is NOT ABLE TO WORK! Your vault is NOT safe! ")
		return nil
	}
	level, err := e.SafetyLevel(ctx, v, pool, balances)
	if err != nil {
		return err
	}
	safeRatio := safe.Div(decimal.NewFromInt(100))
	repay := v.LoanValue.Sub(v.CollateralValue.Div(safeRatio))
	oracleA, oracleB, err := e.legs(ctx, v)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("VaultMaxi could only reach a collRatio of %s%%. This is not safe!\nIt is highly recommend to fix this!\n"+
		"To be able to reach a safe collRatio of %s%% it\n", level.StringFixed(0), safe.StringFixed(0))
	tl := pool.TotalLiquidity
	var short bool
	switch e.mode {
	case SingleMintA, SingleMintB:
		need := WantedLPTokens(e.mode, repay, safeRatio, pool, oracleA, oracleB)
		leg, reserve := loanA, pool.TokenA.Reserve
		if e.mode == SingleMintB {
			leg, reserve = loanB, pool.TokenB.Reserve
		}
		needLeg := need.Mul(reserve).Div(tl)
		if need.GreaterThan(lp.Amount) || needLeg.GreaterThan(leg.Amount) {
			short = true
			msg += fmt.Sprintf("would need %s but got %s %s.\nwould need %s but got %s %s.\n",
				need.StringFixed(4), lp.Amount.StringFixed(4), lp.Symbol, needLeg.StringFixed(4), leg.Amount.StringFixed(4), leg.Symbol)
		}
	default:
		stock := repay.Div(oracleA.Add(pool.RatioBA))
		dusd := stock.Mul(pool.RatioBA)
		need := stock.Div(pool.TokenA.Reserve.Div(tl))
		if need.GreaterThan(lp.Amount) || dusd.GreaterThan(loanB.Amount) || stock.GreaterThan(loanA.Amount) {
			short = true
			msg += fmt.Sprintf("would need %s but got %s %s.\nwould need %s  but got %s  %s.\nwould need %s but got %s %s.\n",
				need.StringFixed(4), lp.Amount.StringFixed(4), lp.Symbol,
				dusd.StringFixed(1), loanB.Amount.StringFixed(1), loanB.Symbol,
				stock.StringFixed(4), loanA.Amount.StringFixed(4), loanA.Symbol)
		}
	}
	if short {
		e.send(ctx, msg)
	}
	return nil
}

// SafetyLevel is the collateral ratio the vault would reach by unwinding
// the whole pool position into loan repayments. 99999 stands for "no
// relevant loan left".
func (e *Engine) SafetyLevel(ctx context.Context, v *network.Vault, pool *network.Pool, balances map[string]network.TokenAmount) (decimal.Decimal, error) {
	lp, hasLP := balances[e.set.LMPair]
	loanA, loanB := find(v.Loans, e.assetA), find(v.Loans, e.assetB)
	if pool == nil || !hasLP || (e.mintsA() && loanA == nil) || (e.mintsB() && loanB == nil) || !pool.TotalLiquidity.IsPositive() {
		return decimal.Zero, nil
	}
	tl := pool.TotalLiquidity
	aPerToken := pool.TokenA.Reserve.Div(tl)
	usedA := aPerToken.Mul(lp.Amount)
	var num, denom decimal.Decimal
	switch e.mode {
	case SingleMintA:
		oracleA, oracleB, _ := e.legs(ctx, v)
		usedLP := lp.Amount
		if usedA.GreaterThan(loanA.Amount) {
			usedA = loanA.Amount
			usedLP = usedA.Div(aPerToken)
		}
		share := usedLP.Div(tl)
		num = share.Mul(pool.TokenB.Reserve).Mul(oracleB).Add(v.CollateralValue)
		denom = v.LoanValue.Sub(share.Mul(pool.TokenA.Reserve).Mul(oracleA))
	case SingleMintB:
		oracleA, err := e.stablePrice(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		share := lp.Amount.Div(tl)
		num = share.Mul(pool.TokenA.Reserve).Mul(oracleA).Add(v.CollateralValue)
		denom = v.LoanValue.Sub(share.Mul(pool.TokenB.Reserve))
	default:
		oracle := LoanPrice(loanA)
		usedB := usedA.Mul(pool.RatioBA)
		if usedA.GreaterThan(loanA.Amount) {
			usedA = loanA.Amount
			usedB = usedA.Mul(pool.RatioBA)
		}
		if usedB.GreaterThan(loanB.Amount) {
			usedB = loanB.Amount
			usedA = usedB.Mul(pool.RatioAB)
		}
		num = v.CollateralValue
		denom = v.LoanValue.Sub(usedB).Sub(usedA.Mul(oracle))
	}
	if denom.LessThan(one) {
		return decimal.NewFromInt(99999), nil
	}
	return num.Div(denom).Mul(decimal.NewFromInt(100)), nil
}

// DecreaseExposure removes enough pool share to bring the vault back to
// the middle of the band and repays the loans with it.
func (e *Engine) DecreaseExposure(ctx context.Context, v *network.Vault, pool *network.Pool) (bool, error) {
	target := e.Band().Target()
	repay := NeededRepay(e.Values(v), target)
	if !repay.IsPositive() || pool == nil {
		e.log.Error().Str("loan", v.LoanValue.String()).Str("collateral", v.CollateralValue.String()).Str("target", target.String()).Msg("invalid reduce calculation")
		e.send(ctx, "ERROR: invalid reduce calculation. please check")
		return false, nil
	}
	balances, err := e.prog.TokenBalances(ctx)
	if err != nil {
		return false, err
	}
	loanA, loanB := amountOf(find(v.Loans, e.assetA)), amountOf(find(v.Loans, e.assetB))
	lp := amountOf(ptr(balances, e.set.LMPair))
	if !lp.IsPositive() || (e.mintsA() && !loanA.IsPositive()) || (e.mintsB() && !loanB.IsPositive()) {
		e.send(ctx, "ERROR: can't withdraw from pool, no tokens left or no loans left")
		return false, nil
	}
	oracleA, oracleB, err := e.legs(ctx, v)
	if err != nil {
		return false, err
	}
	wanted := WantedLPTokens(e.mode, repay, target, pool, oracleA, oracleB)
	remove := decimal.Min(wanted, lp)
	expectedA := remove.Mul(pool.TokenA.Reserve).Div(pool.TotalLiquidity)
	expectedB := remove.Mul(pool.TokenB.Reserve).Div(pool.TotalLiquidity)
	e.log.Info().
		Str("repay_usd", repay.StringFixed(4)).
		Str("wanted", wanted.StringFixed(8)).
		Str("removing", remove.StringFixed(8)).
		Str("held", lp.StringFixed(8)).
		Msg("reducing exposure")

	removed, ok, err := e.removeLiquidity(ctx, pool, remove)
	if err != nil || !ok {
		return false, err
	}

	balances, err = e.prog.TokenBalances(ctx)
	if err != nil {
		return false, err
	}
	var payback, deposits []network.TokenAmount
	if t, ok := balances[e.assetA]; ok {
		if !e.set.KeepWalletClean {
			t.Amount = decimal.Min(t.Amount, expectedA)
		}
		if e.mode == SingleMintB {
			deposits = append(deposits, t)
		} else {
			payback = append(payback, t)
		}
	}
	if t, ok := balances[e.assetB]; ok {
		if !e.set.KeepWalletClean {
			t.Amount = decimal.Min(t.Amount, expectedB)
		}
		if e.mode == SingleMintA {
			deposits = append(deposits, t)
		} else {
			payback = append(payback, t)
		}
	}
	done, err := e.paybackTokenBalances(ctx, payback, deposits, removed.Change, false)
	if done {
		e.send(ctx, "done reducing exposure")
	}
	return done, err
}

// RemoveExposure unwinds as much of the position as the loans allow.
// silent suppresses the message when there is nothing to remove.
func (e *Engine) RemoveExposure(ctx context.Context, v *network.Vault, pool *network.Pool, balances map[string]network.TokenAmount, silent bool) (bool, error) {
	lp, hasLP := balances[e.set.LMPair]
	loanA, loanB := find(v.Loans, e.assetA), find(v.Loans, e.assetB)
	if pool == nil || !hasLP || (e.mintsA() && loanA == nil) || (e.mintsB() && loanB == nil) {
		e.log.Info().Msg("nothing to remove from pool")
		if !silent {
			e.send(ctx, "ERROR: can't withdraw from pool, no tokens left or no loans left")
		}
		return false, nil
	}
	used := RemovableLPTokens(e.mode, lp.Amount, amountOf(loanA), amountOf(loanB), pool)
	if !used.IsPositive() {
		if !silent {
			e.send(ctx, "ERROR: can't withdraw 0 pool, no tokens left or no loans left")
		}
		return false, nil
	}
	e.log.Info().Str("tokens", used.StringFixed(5)).Str("held", lp.Amount.String()).Msg("removing as much exposure as possible")

	removed, ok, err := e.removeLiquidity(ctx, pool, used)
	if err != nil || !ok {
		return false, err
	}
	fresh, err := e.prog.TokenBalances(ctx)
	if err != nil {
		return false, err
	}
	var payback, deposits []network.TokenAmount
	if t, ok := fresh[e.assetB]; ok {
		if e.mode == SingleMintA {
			deposits = append(deposits, t)
		} else {
			payback = append(payback, t)
		}
	}
	if t, ok := fresh[e.assetA]; ok {
		if e.mode == SingleMintB {
			deposits = append(deposits, t)
		} else {
			payback = append(payback, t)
		}
	}
	done, err := e.paybackTokenBalances(ctx, payback, deposits, removed.Change, false)
	if done {
		e.send(ctx, "done removing exposure")
	}
	return done, err
}

func (e *Engine) removeLiquidity(ctx context.Context, pool *network.Pool, amount decimal.Decimal) (*tx.Built, bool, error) {
	id, err := program.ParseTokenID(pool.ID)
	if err != nil {
		return nil, false, err
	}
	built, err := e.prog.RemoveLiquidity(ctx, id, amount, nil)
	if err != nil {
		return nil, false, err
	}
	e.state(ctx, state.OpRemoveLiquidity, built.TxID)
	if !e.prog.WaitForTx(ctx, built.TxID, 0) {
		e.send(ctx, "ERROR: when removing liquidity")
		return built, false, nil
	}
	return built, true, nil
}

func (e *Engine) state(ctx context.Context, op state.Operation, txid string) {
	if err := e.prog.UpdateToState(ctx, state.PhaseWaitingForTransaction, op, txid); err != nil {
		e.log.Warn().Err(err).Msg("could not store state")
	}
}

// paybackTokenBalances repays loans and deposits collateral, chained from
// prevout. With oneByOne each loan is repaid in its own transaction and a
// failing one does not stop the others; the first error is returned after
// waiting for whatever did go out.
func (e *Engine) paybackTokenBalances(ctx context.Context, loans, deposits []network.TokenAmount, prevout *tx.Prevout, oneByOne bool) (bool, error) {
	if len(loans) == 0 && len(deposits) == 0 {
		e.send(ctx, "ERROR: want to pay back, but nothing to do. please check logs")
		return false, nil
	}
	var (
		last     *tx.Built
		tried    bool
		firstErr error
	)
	chain := func(b *tx.Built) {
		last = b
		prevout = b.Change
		e.state(ctx, state.OpPaybackLoan, b.TxID)
	}

	var amounts []program.TokenAmount
	for _, t := range loans {
		if !t.Amount.IsPositive() {
			e.log.Info().Str("token", t.Symbol).Str("amount", t.Amount.String()).Msg("skipping non-positive payback")
			continue
		}
		id, err := program.ParseTokenID(t.ID)
		if err != nil {
			return false, err
		}
		amounts = append(amounts, program.TokenAmount{Token: id, Amount: t.Amount})
	}
	if len(amounts) > 0 {
		tried = true
		if !oneByOne {
			b, err := e.prog.PaybackLoans(ctx, amounts, prevout)
			if err != nil {
				return false, err
			}
			chain(b)
		} else {
			for _, a := range amounts {
				b, err := e.prog.PaybackLoans(ctx, []program.TokenAmount{a}, prevout)
				if err != nil {
					e.log.Error().Err(err).Uint32("token", a.Token).Msg("payback failed, trying next one")
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				chain(b)
			}
		}
	}
	for _, t := range deposits {
		if !t.Amount.IsPositive() {
			continue
		}
		tried = true
		id, err := program.ParseTokenID(t.ID)
		if err != nil {
			return false, err
		}
		b, err := e.prog.DepositToVault(ctx, id, t.Amount, prevout)
		if err != nil {
			e.log.Error().Err(err).Str("token", t.Symbol).Msg("deposit failed, trying next one")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		chain(b)
	}

	result := !tried
	if last != nil {
		result = e.prog.WaitForTx(ctx, last.TxID, 0)
		if !result {
			e.send(ctx, "ERROR: paying back tokens")
		}
	}
	return result, firstErr
}

// IncreaseExposure takes additional loans and adds them to the pool. ok
// is false when the run ended in a state that needs a clean-up; changed
// reports whether any transaction went out.
func (e *Engine) IncreaseExposure(ctx context.Context, v *network.Vault, pool *network.Pool, balances map[string]network.TokenAmount) (ok, changed bool, err error) {
	target := e.Band().Target()
	additional := AdditionalLoan(e.Values(v), target)

	oracleA := one
	if e.assetA != "DUSD" {
		price, err := e.prog.OraclePrice(ctx, e.assetA)
		if err != nil {
			return false, false, err
		}
		if !price.IsLive || !price.Active.IsPositive() {
			e.send(ctx, "Could not increase exposure, token has currently no active price. Will try again later")
			return true, false, nil
		}
		oracleA = price.Active
	}

	hasDUSDLoan := find(v.Loans, "DUSD") != nil || e.set.MainCollateralAsset == "DFI" || (e.mode == SingleMintB && e.assetB == "DUSD")
	dfiDusd := decimal.Zero
	for i := range v.Collateral {
		c := &v.Collateral[i]
		if c.Symbol == "DFI" || (!hasDUSDLoan && c.Symbol == "DUSD") {
			dfiDusd = dfiDusd.Add(e.collateralPrice(c).Mul(c.Amount))
		}
	}
	minRatio := v.Scheme.MinColRatio
	hundred := decimal.NewFromInt(100)
	// collateral rule: DFI and DUSD must cover half of the required collateral
	covered := func(avail, newLoan decimal.Decimal) bool {
		return avail.Mul(decimal.NewFromInt(2)).GreaterThan(newLoan.Add(v.LoanValue).Mul(minRatio).Div(hundred))
	}
	possible := func(avail decimal.Decimal) decimal.Decimal {
		return avail.Mul(decimal.NewFromInt(200)).Div(minRatio).Sub(v.LoanValue)
	}
	shortOf := "DFI or DUSD"
	if hasDUSDLoan {
		shortOf = "DFI"
	}

	idA, err := program.ParseTokenID(pool.TokenA.ID)
	if err != nil {
		return false, false, err
	}
	idB, err := program.ParseTokenID(pool.TokenB.ID)
	if err != nil {
		return false, false, err
	}

	var (
		wantedA, wantedB decimal.Decimal
		loans            []program.TokenAmount
		prevout          *tx.Prevout
	)
	switch e.mode {
	case SingleMintA:
		coll := find(v.Collateral, e.assetB)
		oracleB := e.collateralPrice(coll)
		inColl := amountOf(coll)
		wantedA = additional.Div(oracleA.Add(oracleB.Mul(pool.RatioBA).Div(target)))
		wantedB = wantedA.Mul(pool.RatioBA)
		e.log.Info().Str("usd", additional.String()).Str("loan", wantedA.StringFixed(4)+"@"+e.assetA).Str("withdraw", wantedB.StringFixed(4)+"@"+e.assetB).Msg("increasing exposure")
		if wantedB.GreaterThan(inColl) {
			if oracleB.Mul(inColl).LessThan(one) {
				e.send(ctx, fmt.Sprintf("Could not increase exposure, not enough %s in collateral to use: %s vs. %s", e.assetB, wantedB.StringFixed(4), inColl.String()))
				return true, false, nil
			}
			e.send(ctx, fmt.Sprintf("Wanted to increase exposure, but you don't have enough of %s in the collateral. Wanted to take %s will only take %s",
				e.assetB, wantedB.StringFixed(4), inColl.String()))
			wantedB = inColl
			wantedA = wantedB.Mul(pool.RatioAB)
		}
		avail := dfiDusd
		if e.assetB == "DFI" || !hasDUSDLoan {
			avail = dfiDusd.Sub(wantedB.Mul(oracleB))
		}
		if !covered(avail, wantedA.Mul(oracleA)) {
			maxA := wantedA
			wantedA = decimal.Min(wantedA, possible(avail).Div(oracleA))
			wantedB = wantedA.Mul(pool.RatioBA)
			if wantedB.Mul(oracleB).LessThan(one) {
				e.send(ctx, "Wanted to take more loans, but you don't have enough "+shortOf+" in the collateral")
				return true, false, nil
			}
			e.send(ctx, fmt.Sprintf("Wanted to take more loans, but you don't have enough DFI or DUSD in the collateral. Wanted to take %s will only take %s of %s",
				maxA.StringFixed(2), wantedA.StringFixed(2), e.assetA))
		}
		w, err := e.prog.WithdrawFromVault(ctx, idB, wantedB, nil)
		if err != nil {
			return false, false, err
		}
		e.state(ctx, state.OpTakeLoan, w.TxID)
		prevout = w.Change
		changed = true
		loans = []program.TokenAmount{{Token: idA, Amount: wantedA}}

	case SingleMintB:
		coll := find(v.Collateral, e.assetA)
		oracleColl := e.collateralPrice(coll)
		inColl := amountOf(coll)
		wantedB = additional.Div(one.Add(oracleColl.Mul(pool.RatioAB).Div(target)))
		wantedA = wantedB.Mul(pool.RatioAB)
		e.log.Info().Str("usd", additional.String()).Str("loan", wantedB.StringFixed(4)+"@"+e.assetB).Str("withdraw", wantedA.StringFixed(4)+"@"+e.assetA).Msg("increasing exposure")
		if wantedA.GreaterThan(inColl) {
			if oracleColl.Mul(inColl).LessThan(one) {
				e.send(ctx, fmt.Sprintf("Could not increase exposure, not enough %s in collateral to use: %s vs. %s", e.assetA, wantedA.StringFixed(4), inColl.String()))
				return true, false, nil
			}
			e.send(ctx, fmt.Sprintf("Wanted to increase exposure, but you don't have enough of %s in the collateral. Wanted to take %s will only take %s",
				e.assetA, wantedA.StringFixed(4), inColl.String()))
			wantedA = inColl
			wantedB = wantedA.Mul(pool.RatioBA)
		}
		if !covered(dfiDusd, wantedB) {
			maxB := wantedB
			wantedB = decimal.Min(wantedB, possible(dfiDusd))
			wantedA = wantedB.Mul(pool.RatioAB)
			if wantedB.LessThan(one) {
				e.send(ctx, "Wanted to take more loans, but you don't have enough "+shortOf+" in the collateral")
				return true, false, nil
			}
			e.send(ctx, fmt.Sprintf("Wanted to take more loans, but you don't have enough DFI or DUSD in the collateral. Wanted to take %s will only take %s of %s",
				maxB.StringFixed(2), wantedB.StringFixed(2), e.assetB))
		}
		w, err := e.prog.WithdrawFromVault(ctx, idA, wantedA, nil)
		if err != nil {
			return false, false, err
		}
		e.state(ctx, state.OpTakeLoan, w.TxID)
		prevout = w.Change
		changed = true
		loans = []program.TokenAmount{{Token: idB, Amount: wantedB}}

	default:
		wantedA = additional.Div(oracleA.Add(pool.RatioBA))
		wantedB = wantedA.Mul(pool.RatioBA)
		e.log.Info().Str("usd", additional.String()).Str("a", wantedA.StringFixed(4)+"@"+e.assetA).Str("b", wantedB.StringFixed(4)+"@"+e.assetB).Msg("increasing exposure")
		if !covered(dfiDusd, additional) {
			possibleLoan := possible(dfiDusd)
			if possibleLoan.LessThan(one) {
				e.send(ctx, "Wanted to take more loans, but you don't have enough DFI in the collateral")
				return true, false, nil
			}
			e.send(ctx, fmt.Sprintf("Wanted to take more loans, but you don't have enough DFI or DUSD in the collateral. Wanted to take %s will only take %s",
				additional.StringFixed(2), possibleLoan.StringFixed(2)))
			wantedA = possibleLoan.Div(oracleA.Add(pool.RatioBA))
			wantedB = wantedA.Mul(pool.RatioBA)
		}
		loans = []program.TokenAmount{{Token: idA, Amount: wantedA}, {Token: idB, Amount: wantedB}}
	}

	taken, err := e.prog.TakeLoans(ctx, loans, prevout)
	if err != nil {
		return false, changed, err
	}
	changed = true
	e.state(ctx, state.OpTakeLoan, taken.TxID)
	if !e.prog.WaitForTx(ctx, taken.TxID, 0) {
		e.send(ctx, "ERROR: taking loans")
		return false, true, nil
	}

	// the pool may have moved while the loan confirmed
	fresh, err := e.prog.Pool(ctx, e.set.LMPair)
	if err != nil {
		return false, true, err
	}
	if e.set.KeepWalletClean {
		wantedA = wantedA.Add(amountOf(ptr(balances, e.assetA)))
		wantedB = wantedB.Add(amountOf(ptr(balances, e.assetB)))
	}
	usedB := wantedB
	usedA := usedB.Mul(fresh.RatioAB)
	if usedA.GreaterThan(wantedA) {
		usedA = wantedA
		usedB = usedA.Mul(fresh.RatioBA)
	}
	usedA, usedB = usedA.RoundFloor(8), usedB.RoundFloor(8)
	e.log.Info().Str("a", usedA.StringFixed(8)+"@"+e.assetA).Str("b", usedB.StringFixed(8)+"@"+e.assetB).Msg("adding liquidity")

	added, err := e.prog.AddLiquidity(ctx, []program.TokenAmount{{Token: idA, Amount: usedA}, {Token: idB, Amount: usedB}}, nil, taken.Change)
	if err != nil {
		return false, true, err
	}
	e.state(ctx, state.OpAddLiquidity, added.TxID)
	if !e.prog.WaitForTx(ctx, added.TxID, 0) {
		e.send(ctx, "ERROR: adding liquidity")
		return false, true, nil
	}
	e.send(ctx, "done increasing exposure")
	return true, true, nil
}

// CleanUp repays loan tokens left in the wallet and deposits leftover main
// collateral. After more than one failed attempt amounts are halved, and
// every retry repays loans one by one.
func (e *Engine) CleanUp(ctx context.Context, v *network.Vault, balances map[string]network.TokenAmount, previousTries int) (bool, error) {
	var (
		payback   []network.TokenAmount
		mainAsIOU bool
		minValue  = decimal.NewFromFloat(e.set.MinValueForCleanup)
	)
	for _, loan := range v.Loans {
		if loan.Symbol == e.set.MainCollateralAsset {
			mainAsIOU = true
		}
		t, ok := balances[loan.Symbol]
		if !ok {
			continue
		}
		if previousTries > 1 {
			t.Amount = t.Amount.Div(decimal.NewFromInt(2))
		}
		enough := true
		var estimate decimal.Decimal
		switch {
		case t.Symbol != "DUSD" && loan.Price == nil:
			// no oracle: repay, the value is unknown
		default:
			price := one
			if loan.Price != nil && t.Symbol != "DUSD" {
				price = loan.Price.Active
			}
			estimate = t.Amount.Mul(price)
			enough = estimate.GreaterThanOrEqual(minValue)
		}
		e.log.Info().Str("token", t.Symbol).Str("usd", estimate.StringFixed(2)).Bool("clean", enough).Msg("clean-up candidate")
		if enough {
			payback = append(payback, t)
		}
	}
	var deposits []network.TokenAmount
	if e.mode == SingleMintA && !mainAsIOU {
		if t, ok := balances[e.set.MainCollateralAsset]; ok && t.Amount.GreaterThan(minValue) {
			deposits = append(deposits, t)
		}
	}
	if len(payback) == 0 && len(deposits) == 0 {
		e.log.Info().Msg("nothing to clean up")
		return true, nil
	}
	return e.paybackTokenBalances(ctx, payback, deposits, nil, previousTries > 0)
}

// InterestAboveAPR reports whether DUSD interest exceeds the pool APR.
// Only relevant with DFI as main collateral; an unknown APR never
// triggers.
func (e *Engine) InterestAboveAPR(ctx context.Context, v *network.Vault, pool *network.Pool) (bool, error) {
	if e.set.MainCollateralAsset != "DFI" || pool == nil || pool.APR == nil {
		return false, nil
	}
	dusd, err := e.prog.LoanToken(ctx, "DUSD")
	if err != nil {
		return false, err
	}
	interest := v.Scheme.InterestRate.Add(dusd.Interest)
	apr := pool.APR.Total.Mul(decimal.NewFromInt(100))
	e.log.Info().Str("interest", interest.StringFixed(4)).Str("apr", apr.StringFixed(4)).Msg("DUSD interest vs pool APR")
	return interest.GreaterThan(apr), nil
}

// DonationThreshold is the amount from which a reinvest is treated as a
// transfer of funds: twice the expected reward per execution.
func (e *Engine) DonationThreshold(v *network.Vault, pool *network.Pool) decimal.Decimal {
	threshold := decimal.NewFromFloat(e.set.Reinvest.Threshold)
	var dfiPrice decimal.Decimal
	if c := find(v.Collateral, "DFI"); c != nil && c.Price != nil {
		dfiPrice = c.Price.Active
	}
	if dfiPrice.IsPositive() && pool != nil && pool.APR != nil {
		expected := v.LoanValue.Mul(pool.APR.Reward).Div(decimal.NewFromInt(executionsPerYear).Mul(dfiPrice))
		threshold = decimal.Max(threshold, expected)
	} else {
		threshold = decimal.Max(threshold, decimal.NewFromInt(defaultDonationFloor))
	}
	return threshold.Mul(decimal.NewFromInt(2))
}

// Reinvest runs the allocator. A reinvest transaction that did not
// confirm is reported in the result, not as an error.
func (e *Engine) Reinvest(ctx context.Context, v *network.Vault, pool *network.Pool, balances map[string]network.TokenAmount) (reinvest.Result, error) {
	res, err := e.reinvestor.Run(ctx, reinvest.Request{
		Threshold:       decimal.NewFromFloat(e.set.Reinvest.Threshold),
		DonationPercent: decimal.NewFromFloat(e.set.Reinvest.AutoDonationPercent),
		Targets:         e.targets,
		DFIBalance:      amountOf(ptr(balances, "DFI")),
		MaxForDonation:  e.DonationThreshold(v, pool),
	})
	if err != nil {
		return res, err
	}
	if res.Failed() {
		e.log.Warn().Str("txid", res.TxID).Str("op", string(res.Unconfirmed)).Msg("reinvest not confirmed, continuing")
		return res, nil
	}
	if res.Reinvested {
		if msg := e.MotivationMessage(v, pool, res.Donated); msg != "" {
			e.send(ctx, msg)
		}
	}
	return res, nil
}

// MotivationMessage estimates the extra rewards compared to a
// conservative reference ratio. It is empty when the pool APR is unknown
// or the difference is small.
func (e *Engine) MotivationMessage(v *network.Vault, pool *network.Pool, donated decimal.Decimal) string {
	target := e.Band().Target()
	if target.GreaterThan(decimal.RequireFromString("2.5")) || pool == nil || pool.APR == nil || e.mode == SingleMintB {
		return ""
	}
	reference := decimal.NewFromInt(300)
	if target.LessThan(decimal.RequireFromString("1.8")) {
		reference = decimal.NewFromInt(250)
	}
	refFactor := reference.Div(decimal.NewFromInt(100))
	repay := NeededRepay(e.Values(v), refFactor)
	oracleA := LoanPrice(find(v.Loans, e.assetA))
	oracleB := one
	var wanted decimal.Decimal
	if e.mode == SingleMintA {
		oracleB = e.collateralPrice(find(v.Collateral, e.assetB))
		wanted = repay.Mul(refFactor).Div(oracleA.Mul(pool.TokenA.Reserve).Mul(refFactor).Add(oracleB.Mul(pool.TokenB.Reserve)))
	} else {
		wanted = repay.Div(oracleA.Mul(pool.TokenA.Reserve).Add(pool.TokenB.Reserve))
	}
	loanDiff := wanted.Mul(oracleA.Mul(pool.TokenA.Reserve).Add(oracleB.Mul(pool.TokenB.Reserve)))
	rewards := loanDiff.Mul(pool.APR.Total)
	hundred := decimal.NewFromInt(100)
	if rewards.LessThan(hundred) {
		return ""
	}
	var per string
	switch {
	case rewards.GreaterThan(hundred.Mul(decimal.NewFromInt(365))):
		per = "$" + rewards.Div(decimal.NewFromInt(365)).StringFixed(0) + " in rewards per day"
	case rewards.GreaterThan(hundred.Mul(decimal.NewFromInt(52))):
		per = "$" + rewards.Div(decimal.NewFromInt(52)).StringFixed(0) + " in rewards per week"
	case rewards.GreaterThan(hundred.Mul(decimal.NewFromInt(12))):
		per = "$" + rewards.Div(decimal.NewFromInt(12)).StringFixed(0) + " in rewards per month"
	default:
		per = "$" + rewards.StringFixed(0) + " in rewards per year"
	}
	msg := "With VaultMaxi you currently earn additional " + per + " (compared to using " + reference.String() + "% collateral ratio).\n"
	if donated.IsPositive() {
		return msg + "Thank your for donating " + donated.StringFixed(3) + " DFI!"
	}
	return msg + "You are very welcome.\nDonations are always appreciated!"
}

// CheckMessage is the setup summary sent by check runs.
func (e *Engine) CheckMessage(v *network.Vault, pool *network.Pool, endpoint string, fallbacks []string) string {
	var b strings.Builder
	b.WriteString("Setup-Check result\n")
	if v != nil && v.ID == e.prog.VaultID() && v.Owner == e.prog.Address() {
		b.WriteString("monitoring vault " + wallet.ShortAddress(v.ID))
	} else {
		b.WriteString("no vault found")
	}
	b.WriteString("\n")
	if e.prog.Address() != "" {
		b.WriteString("from address " + wallet.ShortAddress(e.prog.Address()))
	} else {
		b.WriteString("no valid address")
	}
	fmt.Fprintf(&b, "\nSet collateral ratio range %s-%s\n", fnum(e.set.MinCollateralRatio), fnum(e.set.MaxCollateralRatio))
	if pool != nil && pool.Symbol == e.set.LMPair && (e.assetB == "DUSD" || e.set.LMPair == "DUSD-DFI") {
		b.WriteString("using pool " + e.set.LMPair)
	} else {
		b.WriteString("no pool found for token ")
	}
	b.WriteString("\n")
	if e.set.Reinvest.Threshold > 0 {
		b.WriteString("Will reinvest above " + fnum(e.set.Reinvest.Threshold) + " DFI")
	} else {
		b.WriteString("Will not reinvest")
	}
	if e.set.KeepWalletClean {
		b.WriteString("\ntrying to keep the wallet clean")
	} else {
		b.WriteString("\nignoring dust and commissions")
	}
	switch e.mode {
	case SingleMintA:
		b.WriteString("\nminting only " + e.assetA)
	case SingleMintB:
		b.WriteString("\nminting only " + e.assetB)
	default:
		b.WriteString("\nminting both assets")
	}
	b.WriteString("\nmain collateral asset is " + e.set.MainCollateralAsset)
	b.WriteString(reinvest.Message(e.targets, e.set.Reinvest.Threshold, e.set.Reinvest.AutoDonationPercent, e.resolver))
	b.WriteString("\nusing node at: " + endpoint)
	if len(fallbacks) > 0 {
		b.WriteString(" with fallbacks: " + strings.Join(fallbacks, ","))
	}
	return b.String()
}

// ShouldCleanUp reports whether an interrupted op leaves tokens in the
// wallet that a clean-up has to put back.
func ShouldCleanUp(op state.Operation) bool {
	return op == state.OpRemoveLiquidity || op == state.OpTakeLoan
}

func ptr(m map[string]network.TokenAmount, key string) *network.TokenAmount {
	if t, ok := m[key]; ok {
		return &t
	}
	return nil
}

func fnum(f float64) string { return decimal.NewFromFloat(f).String() }
