package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/defichain-maxi/maxi-go/balancer"
	"github.com/defichain-maxi/maxi-go/config"
	"github.com/defichain-maxi/maxi-go/maxi"
	"github.com/defichain-maxi/maxi-go/network"
	"github.com/defichain-maxi/maxi-go/program"
	"github.com/defichain-maxi/maxi-go/reinvest"
	"github.com/defichain-maxi/maxi-go/state"
)

// Versions written into the state records of the non-maxi bots.
const (
	ReinvestVersion = "v1.0"
	BalancerVersion = "v0.1"
)

// minDonationThreshold is the reinvest amount below which every reinvest
// counts as rewards for the auto donation.
const minDonationThreshold = 20

// Cycle is what a bot gets for one decision cycle.
type Cycle struct {
	Program *program.Program
	// Remaining reports the time left in the invocation.
	Remaining        func() time.Duration
	MinTimePerAction time.Duration
	Endpoint         string
	Fallbacks        []string
	// BeforeWork is called once the setup checks passed.
	BeforeWork func(ctx context.Context)
}

func (c Cycle) beforeWork(ctx context.Context) {
	if c.BeforeWork != nil {
		c.BeforeWork(ctx)
	}
}

// Outcome is the result of a completed cycle.
type Outcome struct {
	OK bool
	// CheckChain asks the runner to verify the node's chain before
	// finishing the invocation.
	CheckChain bool
}

// Bot is one bot kind's behaviour inside a Runner.
type Bot interface {
	Kind() config.BotKind
	// Name is used in the message prefix.
	Name() string
	Version() string
	// CheckSetup validates the settings and reports the configuration to
	// both notification channels.
	CheckSetup(ctx context.Context, c Cycle) (bool, error)
	// Execute runs one decision cycle.
	Execute(ctx context.Context, c Cycle) (Outcome, error)
}

// NewBot returns the bot for kind.
func NewBot(kind config.BotKind) (Bot, error) {
	switch kind {
	case config.BotMaxi:
		return &MaxiBot{}, nil
	case config.BotReinvest:
		return &ReinvestBot{}, nil
	case config.BotBalancer:
		return &BalancerBot{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func report(ctx context.Context, p *program.Program, msg string) {
	p.Notifier().Send(ctx, msg)
	p.Notifier().Log(ctx, "log channel active")
}

// --- maxi ---

// MaxiBot runs the vault maximizer. Failed clean-ups are counted across
// the cycles of one invocation.
type MaxiBot struct {
	// ConsistencyDelay overrides the pause between consistency checks.
	ConsistencyDelay time.Duration
	// Peg replaces the default DUSD peg of the stable arbitrage when its
	// Reference is set.
	Peg maxi.Peg

	cleanUpTries int
}

func (*MaxiBot) Kind() config.BotKind { return config.BotMaxi }
func (*MaxiBot) Name() string         { return "Maxi" }
func (*MaxiBot) Version() string      { return program.Version }

func (b *MaxiBot) engine(ctx context.Context, p *program.Program) (*maxi.Engine, error) {
	e, err := maxi.NewEngine(p)
	if err != nil {
		return nil, err
	}
	if b.Peg.Reference.IsPositive() {
		e.Peg = b.Peg
	}
	if err := e.Init(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// CheckSetup runs the vault checks and reports the setup. A check run is
// only successful when the regular checks pass as well.
func (b *MaxiBot) CheckSetup(ctx context.Context, c Cycle) (bool, error) {
	p := c.Program
	e, err := b.engine(ctx, p)
	if err != nil {
		return false, err
	}
	v, err := p.Vault(ctx)
	if err != nil && !errors.Is(err, network.ErrNotFound) {
		return false, err
	}
	pool, err := p.Pool(ctx, e.Pair())
	if err != nil && !errors.Is(err, program.ErrPoolNotFound) {
		return false, err
	}
	balances, err := p.TokenBalances(ctx)
	if err != nil {
		return false, err
	}
	if ok, err := e.Check(ctx, v, pool, balances); err != nil || !ok {
		return false, err
	}
	report(ctx, p, e.CheckMessage(v, pool, c.Endpoint, c.Fallbacks))
	return true, nil
}

func (b *MaxiBot) Execute(ctx context.Context, c Cycle) (Outcome, error) {
	e, err := b.engine(ctx, c.Program)
	if err != nil {
		return Outcome{}, err
	}
	s := &maxi.Session{
		Engine:           e,
		Remaining:        c.Remaining,
		MinTimePerAction: c.MinTimePerAction,
		ConsistencyDelay: b.ConsistencyDelay,
		BeforeWork:       c.BeforeWork,
	}
	out, err := s.Run(ctx, c.Program.Settings().State, b.cleanUpTries)
	b.cleanUpTries = out.CleanUpTries
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{OK: out.OK, CheckChain: !out.Stop}, nil
}

// --- reinvest ---

// ReinvestBot reinvests liquidity mining rewards. Without a pattern the
// rewards go into the configured pool.
type ReinvestBot struct{}

func (*ReinvestBot) Kind() config.BotKind { return config.BotReinvest }
func (*ReinvestBot) Name() string         { return "Reinvest" }
func (*ReinvestBot) Version() string      { return ReinvestVersion }

func reinvestSettings(p *program.Program) (*config.ReinvestSettings, error) {
	s := p.Settings()
	if s == nil || s.Reinvest == nil {
		return nil, fmt.Errorf("%w: %s", config.ErrMissingPayload, config.BotReinvest)
	}
	return s.Reinvest, nil
}

// resolver knows which tokens can go into a vault, so collateral targets
// default to the own vault.
func resolver(ctx context.Context, p *program.Program) (reinvest.Resolver, error) {
	coll, err := p.CollateralTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("reinvest: collateral tokens: %w", err)
	}
	return reinvest.NewResolver(p, coll), nil
}

func reinvestPattern(s *config.ReinvestSettings) string {
	if s.Reinvest.Pattern != "" {
		return s.Reinvest.Pattern
	}
	return s.LMPair
}

func (b *ReinvestBot) CheckSetup(ctx context.Context, c Cycle) (bool, error) {
	p := c.Program
	set, err := reinvestSettings(p)
	if err != nil {
		return false, err
	}
	if !p.ValidationChecks(ctx, false) {
		return false, nil
	}
	pool, err := p.Pool(ctx, set.LMPair)
	if err != nil && !errors.Is(err, program.ErrPoolNotFound) {
		return false, err
	}
	r, err := resolver(ctx, p)
	if err != nil {
		return false, err
	}
	targets := reinvest.ParseTargets(reinvestPattern(set), r)

	var sb strings.Builder
	sb.WriteString("Setup-Check result\n")
	if addr := p.Address(); addr != "" {
		sb.WriteString("in address " + addr)
	} else {
		sb.WriteString("no valid address")
	}
	sb.WriteString("\n")
	if pool != nil {
		sb.WriteString("using pool ")
	} else {
		sb.WriteString("no pool found for pair ")
	}
	sb.WriteString(set.LMPair)
	sb.WriteString(reinvest.Message(targets, set.Reinvest.Threshold, set.Reinvest.AutoDonationPercent, r))
	sb.WriteString("\nusing node at: " + c.Endpoint)
	report(ctx, p, sb.String())
	return true, nil
}

func (b *ReinvestBot) Execute(ctx context.Context, c Cycle) (Outcome, error) {
	p := c.Program
	set, err := reinvestSettings(p)
	if err != nil {
		return Outcome{}, err
	}
	if !p.ValidationChecks(ctx, false) {
		return Outcome{}, nil
	}
	if _, err := p.Pool(ctx, set.LMPair); err != nil {
		if errors.Is(err, program.ErrPoolNotFound) {
			p.Notifier().Send(ctx, "No pool found for this token. tried: "+set.LMPair)
			return Outcome{}, nil
		}
		return Outcome{}, err
	}
	c.beforeWork(ctx)

	if prev := p.Settings().State; !prev.IsIdle() || prev.HasPendingTx() {
		if prev.HasPendingTx() {
			confirmed := p.WaitForTx(ctx, prev.TxID, prev.BlockHeight)
			if !confirmed {
				p.Notifier().Log(ctx, "transaction "+prev.TxID+" from last run did not confirm")
			}
		}
		if err := p.UpdateToState(ctx, state.PhaseIdle, state.OpNone, ""); err != nil {
			return Outcome{}, err
		}
	}

	r, err := resolver(ctx, p)
	if err != nil {
		return Outcome{}, err
	}
	targets := reinvest.Prepare(ctx, reinvestPattern(set), r, p.Notifier())
	dfi, err := p.TokenBalance(ctx, "DFI")
	if err != nil {
		return Outcome{}, err
	}
	var inAddress decimal.Decimal
	if dfi != nil {
		inAddress = dfi.Amount
	}
	threshold := decimal.NewFromFloat(set.Reinvest.Threshold)
	res, err := reinvest.New(p, r).Run(ctx, reinvest.Request{
		Threshold:       threshold,
		DonationPercent: decimal.NewFromFloat(set.Reinvest.AutoDonationPercent),
		Targets:         targets,
		DFIBalance:      inAddress,
		MaxForDonation:  decimal.Max(threshold, decimal.NewFromInt(minDonationThreshold)).Mul(decimal.NewFromInt(2)),
	})
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{OK: true}
	switch {
	case res.Failed():
		out.OK = false
		if err := p.UpdateToState(ctx, state.PhaseError, res.Unconfirmed, res.TxID); err != nil {
			return out, err
		}
	case res.Touched:
		if err := p.UpdateToState(ctx, state.PhaseIdle, state.OpNone, ""); err != nil {
			return out, err
		}
	}
	p.Notifier().Log(ctx, "executed script with "+inAddress.StringFixed(4)+" DFI in address")
	return out, nil
}

// --- balancer ---

// BalancerBot reports the steps that restore the target portfolio.
type BalancerBot struct{}

func (*BalancerBot) Kind() config.BotKind { return config.BotBalancer }
func (*BalancerBot) Name() string         { return "Balancer" }
func (*BalancerBot) Version() string      { return BalancerVersion }

func (b *BalancerBot) CheckSetup(ctx context.Context, c Cycle) (bool, error) {
	bal, err := balancer.New(c.Program)
	if err != nil {
		return false, err
	}
	if ok, err := bal.Check(ctx); err != nil || !ok {
		return false, err
	}
	report(ctx, c.Program, bal.CheckMessage(c.Endpoint))
	return true, nil
}

func (b *BalancerBot) Execute(ctx context.Context, c Cycle) (Outcome, error) {
	bal, err := balancer.New(c.Program)
	if err != nil {
		return Outcome{}, err
	}
	if ok, err := bal.Check(ctx); err != nil || !ok {
		return Outcome{}, err
	}
	c.beforeWork(ctx)
	if _, err := bal.Rebalance(ctx); err != nil {
		if errors.Is(err, balancer.ErrNoTargets) || errors.Is(err, balancer.ErrMissingPool) {
			return Outcome{}, nil
		}
		return Outcome{}, err
	}
	return Outcome{OK: true}, nil
}
