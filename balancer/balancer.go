// Package balancer compares a wallet with a target portfolio and sends
// the swaps and liquidity moves that would restore it. It never signs or
// broadcasts anything.
package balancer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/defichain-maxi/maxi-go/config"
	"github.com/defichain-maxi/maxi-go/logger"
	"github.com/defichain-maxi/maxi-go/network"
	"github.com/defichain-maxi/maxi-go/program"
	"github.com/defichain-maxi/maxi-go/reinvest"
)

// Balancer analyses the portfolio of one program.
type Balancer struct {
	prog     *program.Program
	set      config.BalancerSettings
	targets  []*reinvest.Target
	resolver reinvest.Resolver
	log      zerolog.Logger
}

// New prepares a balancer from the program's balancer settings.
func New(p *program.Program) (*Balancer, error) {
	s := p.Settings()
	if s == nil || s.Balancer == nil {
		return nil, ErrNotBalancerSettings
	}
	// no vault, so every target lands in the wallet
	r := reinvest.NewResolver(p, nil)
	return &Balancer{
		prog:     p,
		set:      *s.Balancer,
		resolver: r,
		targets:  reinvest.ParseTargets(s.Balancer.PortfolioPattern, r),
		log:      logger.GetForComponent("balancer"),
	}, nil
}

// Targets returns the accepted portfolio targets.
func (b *Balancer) Targets() []*reinvest.Target { return b.targets }

func (b *Balancer) send(ctx context.Context, msg string) { b.prog.Notifier().Send(ctx, msg) }

// Check validates the wallet and the pattern. Pattern problems empty the
// target list but do not fail the check.
func (b *Balancer) Check(ctx context.Context) (bool, error) {
	if !b.prog.ValidationChecks(ctx, false) {
		return false, nil
	}
	utxos, err := b.prog.UTXOBalance(ctx)
	if err != nil {
		return false, err
	}
	if utxos.LessThanOrEqual(decimal.New(1, -4)) {
		b.send(ctx, "your UTXO balance is running low in "+b.prog.Address()+", only "+utxos.StringFixed(5)+
			" DFI left. Please replenish to prevent any errors")
	}

	if problems := reinvest.Validate(b.targets); len(problems) > 0 {
		for _, p := range problems {
			b.send(ctx, p)
		}
		b.send(ctx, "will not do any reinvest until errors are fixed")
		b.targets = nil
		return true, nil
	}
	bad := false
	seen := map[string]bool{}
	for _, t := range b.targets {
		switch {
		case t.Dest.Kind != reinvest.DestWallet:
			b.send(ctx, "only wallet targets possible right now")
			bad = true
		case t.Dest.Address != b.prog.Address():
			b.send(ctx, "only own address targets possible right now")
			bad = true
		}
		if seen[t.Token] {
			b.send(ctx, "duplicate target for token "+t.Token)
			bad = true
		}
		seen[t.Token] = true
	}
	if bad {
		b.targets = nil
	}
	return true, nil
}

// CheckMessage is the setup summary sent by check runs.
func (b *Balancer) CheckMessage(endpoint string) string {
	var sb strings.Builder
	sb.WriteString("Setup-Check result:\n")
	if addr := b.prog.Address(); addr != "" {
		sb.WriteString("monitoring address " + addr)
	} else {
		sb.WriteString("no valid address")
	}
	if b.prog.CanSign() {
		sb.WriteString("\ngot valid key: will send tx automatically")
	} else {
		sb.WriteString("\nno valid key, will provide tx for manual signing")
	}
	sb.WriteString("\nportfolio Targets:")
	for _, t := range b.targets {
		fmt.Fprintf(&sb, "\n  %s%%  in %s", t.Percent.StringFixed(1), t.Token)
	}
	fmt.Fprintf(&sb, "\n will rebalance once one position is more than %s%% above target",
		decimal.NewFromFloat(b.set.RebalanceThreshold).String())
	sb.WriteString("\nusing node at: " + endpoint)
	return sb.String()
}

type priceCache struct {
	prog   *program.Program
	prices map[string]decimal.Decimal
}

func (c *priceCache) get(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if symbol == "DUSD" {
		return decimal.NewFromInt(1), nil
	}
	if p, ok := c.prices[symbol]; ok {
		return p, nil
	}
	price, err := c.prog.OraclePrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balancer: price of %s: %w", symbol, err)
	}
	c.prices[symbol] = price.Active
	return price.Active, nil
}

// Entries values every target from wallet balances, pools and oracle
// prices. Pool shares are split into both legs.
func (b *Balancer) Entries(ctx context.Context) ([]*Entry, error) {
	balances, err := b.prog.TokenBalances(ctx)
	if err != nil {
		return nil, err
	}
	var pools []network.Pool
	prices := &priceCache{prog: b.prog, prices: map[string]decimal.Decimal{}}
	entries := make([]*Entry, 0, len(b.targets))
	for _, t := range b.targets {
		e := &Entry{Target: t, Held: decimal.Zero, Value: decimal.Zero}
		held, ok := balances[t.Token]
		if ok {
			e.Held = held.Amount
		}
		if t.Kind == reinvest.KindLP {
			if pools == nil {
				if pools, err = b.prog.Pools(ctx); err != nil {
					return nil, err
				}
			}
			pool := findPool(pools, t.Token)
			if pool == nil {
				return nil, &PoolError{Symbol: t.Token}
			}
			pa, err := prices.get(ctx, pool.TokenA.Symbol)
			if err != nil {
				return nil, err
			}
			pb, err := prices.get(ctx, pool.TokenB.Symbol)
			if err != nil {
				return nil, err
			}
			var myA, myB decimal.Decimal
			if pool.TotalLiquidity.IsPositive() {
				myA = e.Held.Mul(pool.TokenA.Reserve).Div(pool.TotalLiquidity)
				myB = e.Held.Mul(pool.TokenB.Reserve).Div(pool.TotalLiquidity)
			}
			e.PoolID = pool.ID
			e.Value = myA.Mul(pa).Add(myB.Mul(pb))
			e.Tokens = []Holding{
				{ID: pool.TokenA.ID, Symbol: pool.TokenA.Symbol, Amount: myA, Price: pa},
				{ID: pool.TokenB.ID, Symbol: pool.TokenB.Symbol, Amount: myB, Price: pb},
			}
		} else {
			id := held.ID
			if !ok {
				tok, err := b.prog.Token(ctx, t.Token)
				if err != nil {
					return nil, err
				}
				id = tok.ID
			}
			price, err := prices.get(ctx, t.Token)
			if err != nil {
				return nil, err
			}
			e.Value = e.Held.Mul(price)
			e.Tokens = []Holding{{ID: id, Symbol: t.Token, Amount: e.Held, Price: price}}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func findPool(pools []network.Pool, symbol string) *network.Pool {
	for i := range pools {
		if pools[i].Symbol == symbol {
			return &pools[i]
		}
	}
	return nil
}

func (b *Balancer) quote(ctx context.Context, from, to Holding) (decimal.Decimal, error) {
	fromID, err := program.ParseTokenID(from.ID)
	if err != nil {
		return decimal.Zero, err
	}
	toID, err := program.ParseTokenID(to.ID)
	if err != nil {
		return decimal.Zero, err
	}
	_, rate, err := b.prog.BestPathPools(ctx, fromID, toID, decimal.NewFromInt(1))
	return rate, err
}

// Rebalance analyses the portfolio and sends the distribution and, if it
// is off target, the recommended steps.
func (b *Balancer) Rebalance(ctx context.Context) (*Plan, error) {
	if len(b.targets) == 0 {
		b.send(ctx, "no portfolio targets defined. please provide valid targets")
		return nil, ErrNoTargets
	}
	entries, err := b.Entries(ctx)
	if err != nil {
		var pe *PoolError
		if errors.As(err, &pe) {
			b.send(ctx, "could not find pool for "+pe.Symbol+". please fix. won't continue until fixed.")
		}
		return nil, err
	}
	plan, err := Build(ctx, entries, decimal.NewFromFloat(b.set.RebalanceThreshold), b.quote)
	if err != nil {
		return nil, err
	}
	b.prog.Notifier().Log(ctx, DistributionMessage(plan))
	if !plan.Imbalanced {
		b.log.Info().Str("total", plan.Total.StringFixed(2)).Msg("portfolio within threshold")
		return plan, nil
	}
	b.log.Info().Int("removals", len(plan.Removals)).Int("swaps", len(plan.Swaps)).Int("adds", len(plan.Adds)).Msg("portfolio imbalanced")
	for _, msg := range StepMessages(plan) {
		b.send(ctx, msg)
	}
	return plan, nil
}

// DistributionMessage lists value, share, target and delta per entry.
func DistributionMessage(p *Plan) string {
	var sb strings.Builder
	sb.WriteString("your current portfolio distribution:\n")
	for _, e := range p.Entries {
		fmt.Fprintf(&sb, "%s: $%s = %s%% (%s%%) delta $%s\n", e.Target.Token, e.Value.StringFixed(2),
			e.Percent.StringFixed(1), e.Target.Percent.String(), e.Delta.StringFixed(2))
	}
	return sb.String()
}

// StepMessages renders the recommended steps of an imbalanced plan.
func StepMessages(p *Plan) []string {
	msgs := []string{"Your portfolio is imbalanced, here are some recommended steps to rebalance it:"}
	if len(p.Removals) > 0 {
		var sb strings.Builder
		sb.WriteString("remove the following liquidity:\n")
		for _, r := range p.Removals {
			fmt.Fprintf(&sb, "%s@%s\n", r.Amount.StringFixed(8), r.Symbol)
		}
		msgs = append(msgs, sb.String())
	}
	if len(p.Swaps) > 0 {
		var sb strings.Builder
		sb.WriteString("do the following swaps:\n")
		for _, s := range p.Swaps {
			fmt.Fprintf(&sb, "%s@%s %s %s\n", s.Amount.StringFixed(8), s.From.Symbol, reinvest.SwappedSymbol, s.To.Symbol)
		}
		msgs = append(msgs, sb.String())
	}
	if len(p.Adds) > 0 {
		var sb strings.Builder
		sb.WriteString("add the following liquidity:\n")
		for _, a := range p.Adds {
			fmt.Fprintf(&sb, "%s@%s with %s@%s\n", a.A.Amount.StringFixed(8), a.A.Symbol, a.B.Amount.StringFixed(8), a.B.Symbol)
		}
		msgs = append(msgs, sb.String())
	}
	return msgs
}
