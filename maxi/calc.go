package maxi

import (
	"github.com/shopspring/decimal"

	"github.com/defichain-maxi/maxi-go/network"
)

// Action is the exposure change a run performs.
type Action int

const (
	ActionNone Action = iota
	ActionDecrease
	ActionIncrease
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionDecrease:
		return "decrease"
	case ActionIncrease:
		return "increase"
	case ActionRemove:
		return "remove"
	}
	return "none"
}

// Band is the configured collateral ratio range in percent. A Max of zero
// or below means all exposure should be removed.
type Band struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Target is the middle of the band as a factor (200% -> 2).
func (b Band) Target() decimal.Decimal {
	return b.Min.Add(b.Max).Div(decimal.NewFromInt(200))
}

// SelectAction picks the exposure change for ratio, the lower of the
// current and next collateral ratio. A negative ratio means the vault has
// no loans yet.
func SelectAction(ratio decimal.Decimal, band Band) Action {
	switch {
	case !band.Max.IsPositive():
		if ratio.IsPositive() {
			return ActionRemove
		}
		return ActionNone
	case ratio.IsPositive() && ratio.LessThan(band.Min):
		return ActionDecrease
	case ratio.IsNegative() || ratio.GreaterThan(band.Max):
		return ActionIncrease
	}
	return ActionNone
}

// Mode is the minting layout of the pair.
type Mode int

const (
	// MintBoth mints both assets of a dToken-DUSD pair.
	MintBoth Mode = iota
	// SingleMintA mints asset A; asset B comes from the collateral.
	SingleMintA
	// SingleMintB mints DUSD against a stablecoin from the collateral.
	SingleMintB
)

func (m Mode) String() string {
	switch m {
	case SingleMintA:
		return "single-mint-a"
	case SingleMintB:
		return "single-mint-b"
	}
	return "mint-both"
}

var stableCoins = map[string]bool{"USDT": true, "USDC": true, "EUROC": true, "XCHF": true}

// ModeFor derives the minting mode from the pair and main collateral.
func ModeFor(assetA, assetB, mainCollateral string) Mode {
	if assetB == "DUSD" && stableCoins[assetA] {
		return SingleMintB
	}
	if mainCollateral == "DUSD" || assetA+"-"+assetB == "DUSD-DFI" {
		return SingleMintA
	}
	return MintBoth
}

// Values are the current and next-interval valuations of a vault.
type Values struct {
	Collateral     decimal.Decimal
	Loan           decimal.Decimal
	NextCollateral decimal.Decimal
	NextLoan       decimal.Decimal
}

// NeededRepay is the loan value to repay to reach target. Both snapshots
// are considered and the larger need wins.
func NeededRepay(v Values, target decimal.Decimal) decimal.Decimal {
	return decimal.Max(
		v.Loan.Sub(v.Collateral.Div(target)),
		v.NextLoan.Sub(v.NextCollateral.Div(target)),
	)
}

// AdditionalLoan is the loan value that can be added while staying at
// target in both snapshots.
func AdditionalLoan(v Values, target decimal.Decimal) decimal.Decimal {
	return decimal.Min(
		v.Collateral.Div(target).Sub(v.Loan),
		v.NextCollateral.Div(target).Sub(v.NextLoan),
	)
}

var one = decimal.NewFromInt(1)

func priceOr(p *network.OraclePrice, next bool, fallback decimal.Decimal) decimal.Decimal {
	if p == nil {
		return fallback
	}
	if next {
		return p.Next
	}
	return p.Active
}

// CollateralPrice is the price a collateral amount counts with: the lower
// of active and next, times the collateral factor. DUSD counts as 1.
func CollateralPrice(t *network.TokenAmount, factor decimal.Decimal) decimal.Decimal {
	if t == nil {
		return decimal.Zero
	}
	price := one
	if t.Symbol != "DUSD" {
		price = decimal.Min(priceOr(t.Price, false, decimal.Zero), priceOr(t.Price, true, decimal.Zero))
	}
	return price.Mul(factor)
}

// LoanPrice is the price a loan counts with: the higher of active and
// next. DUSD loans count as 1.
func LoanPrice(t *network.TokenAmount) decimal.Decimal {
	if t == nil {
		return decimal.Zero
	}
	if t.Symbol == "DUSD" {
		return one
	}
	return decimal.Max(priceOr(t.Price, false, one), priceOr(t.Price, true, one))
}

// NextCollateralValue values the collateral at next-interval prices.
func NextCollateralValue(v *network.Vault, factors map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, c := range v.Collateral {
		total = total.Add(factorOf(factors, c.ID).Mul(priceOr(c.Price, true, one)).Mul(c.Amount))
	}
	return total
}

// NextLoanValue values the loans at next-interval prices.
func NextLoanValue(v *network.Vault) decimal.Decimal {
	total := decimal.Zero
	for _, l := range v.Loans {
		if l.Symbol == "DUSD" {
			total = total.Add(l.Amount)
			continue
		}
		total = total.Add(l.Amount.Mul(priceOr(l.Price, true, one)))
	}
	return total
}

// NextCollateralRatio is the floored next ratio in percent, -1 without
// loans.
func NextCollateralRatio(v *network.Vault, factors map[string]decimal.Decimal) decimal.Decimal {
	loan := NextLoanValue(v)
	if !loan.IsPositive() {
		return decimal.NewFromInt(-1)
	}
	return NextCollateralValue(v, factors).Div(loan).Mul(decimal.NewFromInt(100)).Floor()
}

func factorOf(factors map[string]decimal.Decimal, id string) decimal.Decimal {
	if f, ok := factors[id]; ok {
		return f
	}
	return one
}

// ConsistencyCheck recomputes the vault values from amounts and active
// prices and compares them with what the node reports. Deviations above
// tolerance percent fail.
func ConsistencyCheck(v *network.Vault, factors map[string]decimal.Decimal, tolerance decimal.Decimal) bool {
	coll := decimal.Zero
	for _, c := range v.Collateral {
		coll = coll.Add(factorOf(factors, c.ID).Mul(c.Amount).Mul(priceOr(c.Price, false, one)))
	}
	loan := decimal.Zero
	for _, l := range v.Loans {
		loan = loan.Add(l.Amount.Mul(priceOr(l.Price, false, one)))
	}
	hundred := decimal.NewFromInt(100)
	threshold := tolerance.Div(hundred)
	if loan.IsPositive() && loan.Sub(v.LoanValue).Abs().Div(loan).GreaterThan(threshold) {
		return false
	}
	if coll.IsPositive() && coll.Sub(v.CollateralValue).Abs().Div(coll).GreaterThan(threshold) {
		return false
	}
	if loan.IsPositive() && loan.GreaterThan(coll.Div(hundred)) {
		ratio := coll.Div(loan).Mul(hundred)
		if ratio.Sub(v.InformativeRatio).Abs().GreaterThan(tolerance) {
			return false
		}
	}
	return true
}

// WantedLPTokens is the pool share to remove so that repaying its yield
// lowers the loan value by repay. In single-mint modes one leg goes back
// into the collateral, which is why target enters the formula.
func WantedLPTokens(mode Mode, repay, target decimal.Decimal, pool *network.Pool, oracleA, oracleB decimal.Decimal) decimal.Decimal {
	ra, rb, tl := pool.TokenA.Reserve, pool.TokenB.Reserve, pool.TotalLiquidity
	var denom decimal.Decimal
	switch mode {
	case SingleMintA:
		denom = oracleA.Mul(ra).Mul(target).Add(oracleB.Mul(rb))
		repay = repay.Mul(target)
	case SingleMintB:
		denom = oracleA.Mul(ra).Add(oracleB.Mul(rb).Mul(target))
		repay = repay.Mul(target)
	default:
		denom = oracleA.Mul(ra).Add(rb)
	}
	if !denom.IsPositive() {
		return decimal.Zero
	}
	return repay.Mul(tl).Div(denom)
}

// RemovableLPTokens is the pool share that can be removed while every
// minted leg still has a loan to repay. Close to the full holding it
// takes everything to leave no dust in the pool.
func RemovableLPTokens(mode Mode, held, loanA, loanB decimal.Decimal, pool *network.Pool) decimal.Decimal {
	tl := pool.TotalLiquidity
	if !tl.IsPositive() || !pool.TokenA.Reserve.IsPositive() || !pool.TokenB.Reserve.IsPositive() {
		return decimal.Zero
	}
	maxFromA := loanA.Div(pool.TokenA.Reserve.Div(tl))
	maxFromB := loanB.Div(pool.TokenB.Reserve.Div(tl))
	first, second := maxFromA, maxFromB
	if mode == SingleMintB {
		first = maxFromB
	}
	if mode == SingleMintA {
		second = maxFromA
	}
	used := decimal.Min(held, first, second)
	if used.Div(decimal.RequireFromString("0.95")).GreaterThan(held) {
		used = held
	}
	return used
}
