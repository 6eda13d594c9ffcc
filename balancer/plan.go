package balancer

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/defichain-maxi/maxi-go/reinvest"
)

var (
	hundred  = decimal.NewFromInt(100)
	dust     = decimal.New(1, -8)
	minTrade = decimal.NewFromInt(1)
)

// Holding is a token an entry consists of, valued at its oracle price.
type Holding struct {
	ID     string
	Symbol string
	Amount decimal.Decimal
	Price  decimal.Decimal
}

// Entry is the current state of one portfolio target.
type Entry struct {
	Target *reinvest.Target
	// Held is the wallet amount of the target token, pool shares for LP
	// targets.
	Held    decimal.Decimal
	PoolID  string
	Value   decimal.Decimal
	Percent decimal.Decimal
	Delta   decimal.Decimal
	// Tokens holds the token itself, or both legs for LP targets.
	Tokens []Holding
}

// Removal recommends removing pool shares.
type Removal struct {
	PoolID string
	Symbol string
	Amount decimal.Decimal
}

// Swap recommends swapping Amount of From into To.
type Swap struct {
	From   Holding
	To     Holding
	Amount decimal.Decimal
}

// LiquidityAdd recommends adding both legs to a pool.
type LiquidityAdd struct {
	A Holding
	B Holding
}

// Plan is the outcome of an analysis. Entries are sorted by delta, most
// underexposed first.
type Plan struct {
	Total      decimal.Decimal
	Entries    []*Entry
	Imbalanced bool
	Removals   []Removal
	Swaps      []Swap
	Adds       []LiquidityAdd
}

// Quoter returns the expected output of swapping one unit of from into to.
type Quoter func(ctx context.Context, from, to Holding) (decimal.Decimal, error)

type match struct {
	token        Holding
	toDistribute decimal.Decimal
	forIncrease  decimal.Decimal
}

type matches struct {
	order []string
	by    map[string]*match
}

func (m *matches) get(h Holding) *match {
	if m.by == nil {
		m.by = map[string]*match{}
	}
	if x, ok := m.by[h.Symbol]; ok {
		return x
	}
	x := &match{token: h}
	m.by[h.Symbol] = x
	m.order = append(m.order, h.Symbol)
	return x
}

// Build computes percentages and deltas of entries and, when an entry is
// more than threshold percentage points above its target, the steps
// that move the excess into the underexposed entries.
func Build(ctx context.Context, entries []*Entry, threshold decimal.Decimal, quote Quoter) (*Plan, error) {
	plan := &Plan{Total: decimal.Zero}
	for _, e := range entries {
		plan.Total = plan.Total.Add(e.Value)
	}
	if !plan.Total.IsPositive() {
		plan.Entries = entries
		return plan, nil
	}

	var (
		tokens     matches
		distribute = decimal.Zero
	)
	for _, e := range entries {
		e.Percent = e.Value.Div(plan.Total).Mul(hundred)
		e.Delta = e.Value.Sub(plan.Total.Mul(e.Target.Percent).Div(hundred))
		if !e.Percent.GreaterThan(e.Target.Percent.Add(threshold)) {
			continue
		}
		plan.Imbalanced = true
		excess := plan.Total.Mul(e.Percent.Sub(e.Target.Percent)).Div(hundred)
		distribute = distribute.Add(excess)
		share := excess.Div(e.Value)
		if e.Target.Kind == reinvest.KindLP && e.PoolID != "" {
			plan.Removals = append(plan.Removals, Removal{PoolID: e.PoolID, Symbol: e.Target.Token, Amount: share.Mul(e.Held)})
		}
		for _, h := range e.Tokens {
			m := tokens.get(h)
			m.toDistribute = m.toDistribute.Add(h.Amount.Mul(share))
		}
	}
	sorted := append([]*Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Delta.LessThan(sorted[j].Delta) })
	plan.Entries = sorted
	if !plan.Imbalanced {
		return plan, nil
	}

	var (
		increase []*Entry
		gaps     = decimal.Zero
	)
	for _, e := range sorted {
		if !e.Delta.IsNegative() {
			break
		}
		gaps = gaps.Sub(e.Delta)
		increase = append(increase, e)
		if gaps.GreaterThanOrEqual(distribute) {
			break
		}
	}
	fill := decimal.Min(gaps, distribute).Div(distribute)
	for _, e := range increase {
		usd := fill.Mul(e.Delta.Neg())
		if usd.LessThan(minTrade) || len(e.Tokens) == 0 {
			continue
		}
		perToken := usd.Div(decimal.NewFromInt(int64(len(e.Tokens))))
		wanted := make([]Holding, 0, len(e.Tokens))
		for _, h := range e.Tokens {
			amount := decimal.Zero
			if h.Price.IsPositive() {
				amount = perToken.Div(h.Price)
			}
			m := tokens.get(h)
			m.forIncrease = m.forIncrease.Add(amount)
			w := h
			w.Amount = amount
			wanted = append(wanted, w)
		}
		if e.Target.Kind == reinvest.KindLP && len(wanted) == 2 {
			plan.Adds = append(plan.Adds, LiquidityAdd{A: wanted[0], B: wanted[1]})
		}
	}

	swaps, err := matchSwaps(ctx, &tokens, quote)
	if err != nil {
		return nil, err
	}
	plan.Swaps = swaps
	return plan, nil
}

type leg struct {
	token  Holding
	amount decimal.Decimal
}

// matchSwaps pairs tokens with a surplus against tokens with a shortfall,
// smallest first, until either side runs out.
func matchSwaps(ctx context.Context, tokens *matches, quote Quoter) ([]Swap, error) {
	var sources, targets []leg
	for _, sym := range tokens.order {
		m := tokens.by[sym]
		switch {
		case m.toDistribute.GreaterThan(m.forIncrease):
			sources = append(sources, leg{m.token, m.toDistribute.Sub(m.forIncrease)})
		case m.toDistribute.LessThan(m.forIncrease):
			targets = append(targets, leg{m.token, m.forIncrease.Sub(m.toDistribute)})
		}
	}
	byAmount := func(l []leg) {
		sort.SliceStable(l, func(i, j int) bool { return l[i].amount.LessThan(l[j].amount) })
	}
	byAmount(sources)
	byAmount(targets)

	var swaps []Swap
	if len(targets) == 0 {
		return swaps, nil
	}
	current := 0
	remainingTarget := targets[0].amount
	for _, src := range sources {
		if current >= len(targets) {
			break
		}
		remaining := src.amount
		for remaining.IsPositive() {
			target := targets[current]
			rate, err := quote(ctx, src.token, target.token)
			if err != nil {
				return nil, err
			}
			if !rate.IsPositive() {
				break
			}
			used := decimal.Min(remaining, remainingTarget.Div(rate))
			if used.LessThanOrEqual(dust) {
				break
			}
			swaps = append(swaps, Swap{From: src.token, To: target.token, Amount: used})
			remaining = remaining.Sub(used)
			remainingTarget = remainingTarget.Sub(used.Mul(rate))
			if remainingTarget.LessThanOrEqual(dust) {
				current++
				if current >= len(targets) {
					break
				}
				remainingTarget = targets[current].amount
			}
		}
	}
	return swaps, nil
}
