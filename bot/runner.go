// Package bot drives one invocation of a bot: it repeats decision cycles
// while the time budget allows, resumes from the persisted state, and
// turns failures into notifications, an Error state and a cooldown.
package bot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/defichain-maxi/maxi-go/config"
	"github.com/defichain-maxi/maxi-go/logger"
	"github.com/defichain-maxi/maxi-go/metrics"
	"github.com/defichain-maxi/maxi-go/network"
	"github.com/defichain-maxi/maxi-go/notify"
	"github.com/defichain-maxi/maxi-go/program"
	"github.com/defichain-maxi/maxi-go/state"
	"github.com/defichain-maxi/maxi-go/store"
)

// Defaults for the Runner timing fields.
const (
	DefaultBudget           = 15 * time.Minute
	DefaultMinTimePerAction = 5 * time.Minute
	DefaultErrorCooldown    = time.Minute
)

const (
	stabilityBlocks   = 100
	staleChainAfter   = 15 * time.Minute
	blockTimeMainnet  = 45 * time.Second
	blockTimeTestnet  = 75 * time.Second
	heartbeatTimeout  = 30 * time.Second
	skippedMessage    = "skipped one execution as requested"
	heartbeatErrorMsg = "Error sending heartbeat. please check logs and adapt settings"
)

// Event is one invocation request.
type Event struct {
	// CheckSetup validates the settings and reports the configuration
	// instead of running the bot.
	CheckSetup bool
	Override   *Override
}

// Override replaces maxi settings for one invocation. Zero fields are
// left alone.
type Override struct {
	MinCollateralRatio  float64
	MaxCollateralRatio  float64
	LMToken             string
	LMPair              string
	MainCollateralAsset string
	// IgnoreSkip runs despite a pending skip request and keeps the
	// request for the next invocation.
	IgnoreSkip bool
}

func (o *Override) apply(set *config.Settings) {
	if o == nil || set.Maxi == nil {
		return
	}
	if o.MinCollateralRatio != 0 {
		set.Maxi.MinCollateralRatio = o.MinCollateralRatio
	}
	if o.MaxCollateralRatio != 0 {
		set.Maxi.MaxCollateralRatio = o.MaxCollateralRatio
	}
	if o.LMToken != "" {
		set.Maxi.LMPair = o.LMToken + "-DUSD"
	}
	if o.LMPair != "" {
		set.Maxi.LMPair = o.LMPair
	}
	if o.MainCollateralAsset != "" {
		set.Maxi.MainCollateralAsset = o.MainCollateralAsset
	}
}

// Result reports an invocation. OK is false when the last cycle failed or
// the time budget ran out before a cycle completed.
type Result struct {
	OK     bool
	Cycles int
	Errors int
	Err    error
}

// Factory builds the program of one cycle from freshly fetched settings.
type Factory func(set *config.Settings, n notify.Notifier) (*program.Program, error)

// Endpoints is the rotation of node endpoints. *network.Failover
// implements it.
type Endpoints interface {
	URL() string
	URLs() []string
	Rotate() string
	Len() int
}

// Runner executes invocations of one bot.
type Runner struct {
	Store     store.Store
	Factory   Factory
	Bot       Bot
	Endpoints Endpoints
	// Notify builds the notifier of a cycle. Defaults to Telegram.
	Notify     func(set *config.Settings, prefix string) notify.Notifier
	Metrics    *metrics.Metrics
	HTTPClient *http.Client

	Budget           time.Duration
	MinTimePerAction time.Duration
	ErrorCooldown    time.Duration
	// CooldownStep is added to the cooldown after every failed cycle.
	CooldownStep time.Duration
	// LogID is appended to the message prefix.
	LogID string

	// Now is the clock; tests may replace it.
	Now func() time.Time

	log zerolog.Logger
}

// invocation is the state carried across the cycles of one Run.
type invocation struct {
	cooldown      time.Duration
	heartbeatSent bool
	extraRounds   int
}

type cycleResult struct {
	done    bool
	ok      bool
	skipped bool
	err     error

	prog     *program.Program
	notifier notify.Notifier
	height   uint64
	log      zerolog.Logger
}

func (r *Runner) defaults() {
	if r.Budget <= 0 {
		r.Budget = DefaultBudget
	}
	if r.MinTimePerAction <= 0 {
		r.MinTimePerAction = DefaultMinTimePerAction
	}
	if r.ErrorCooldown <= 0 {
		r.ErrorCooldown = DefaultErrorCooldown
	}
	if r.CooldownStep == 0 {
		r.CooldownStep = r.ErrorCooldown
	}
	if r.Notify == nil {
		r.Notify = func(set *config.Settings, prefix string) notify.Notifier {
			return notify.NewTelegram(set.Telegram, prefix)
		}
	}
	if r.HTTPClient == nil {
		r.HTTPClient = &http.Client{Timeout: heartbeatTimeout}
	}
	if r.Now == nil {
		r.Now = time.Now
	}
	r.log = logger.GetForComponent("bot")
}

// Run repeats cycles until one completes or less than MinTimePerAction of
// the budget is left. Failed cycles are followed by a growing cooldown.
func (r *Runner) Run(ctx context.Context, ev Event) Result {
	switch {
	case r.Store == nil:
		return Result{Err: ErrNoStore}
	case r.Factory == nil:
		return Result{Err: ErrNoFactory}
	case r.Bot == nil:
		return Result{Err: fmt.Errorf("%w: no bot", ErrUnknownKind)}
	}
	r.defaults()

	start := r.Now()
	remaining := func() time.Duration { return r.Budget - r.Now().Sub(start) }
	inv := &invocation{cooldown: r.ErrorCooldown}
	var res Result
	for remaining() >= r.MinTimePerAction && ctx.Err() == nil {
		res.Cycles++
		c := r.cycle(ctx, ev, inv, remaining)
		if c.err == nil {
			if c.done {
				res.OK = c.ok
				return res
			}
			continue
		}
		res.Errors++
		res.Err = c.err
		r.fail(ctx, c)
		if err := sleep(ctx, inv.cooldown); err != nil {
			break
		}
		inv.cooldown += r.CooldownStep
	}
	r.log.Warn().Str("bot", string(r.Bot.Kind())).Int("cycles", res.Cycles).Msg("stopping, not enough time left")
	return res
}

func (r *Runner) cycle(ctx context.Context, ev Event, inv *invocation, remaining func() time.Duration) (c cycleResult) {
	kind := r.Bot.Kind()
	c.log = r.log.With().Str("run_id", uuid.New().String()).Str("bot", string(kind)).Logger()
	c.notifier = notify.Nop{}
	started := r.Now()
	defer func() { r.observe(kind, c, r.Now().Sub(started)) }()

	c.log.Info().Dur("remaining", remaining()).Msg("starting cycle")
	set, err := r.Store.FetchSettings(kind)
	if err != nil {
		c.err = fmt.Errorf("bot: fetch settings: %w", err)
		return c
	}
	c.log.Info().Str("state", set.State.String()).Msg("initial state")
	c.notifier = r.Notify(set, notify.Prefix(r.Bot.Name(), set.Postfix, r.Bot.Version(), r.LogID))

	if set.SkipNext {
		c.log.Info().Msg("got skip command, reset to false")
		if err := r.Store.ClearSkip(); err != nil {
			c.err = err
			return c
		}
		if ev.Override != nil && ev.Override.IgnoreSkip {
			if err := r.Store.SkipNext(); err != nil {
				c.err = err
				return c
			}
		} else {
			c.notifier.Send(ctx, skippedMessage)
			c.done, c.ok, c.skipped = true, true, true
			return c
		}
	}
	ev.Override.apply(set)
	if err := set.Validate(); err != nil {
		c.log.Error().Err(err).Msg("invalid settings")
		c.notifier.Send(ctx, "Invalid settings: "+err.Error()+". please check your parameters.")
		c.done = true
		return c
	}

	p, err := r.Factory(set, c.notifier)
	if err != nil {
		c.err = fmt.Errorf("bot: build program: %w", err)
		return c
	}
	c.prog = p
	p.Init(ctx)
	if c.height, err = p.BlockHeight(ctx); err != nil {
		c.err = err
		return c
	}
	c.log.Info().Uint64("height", c.height).Str("node", r.endpoint()).Msg("starting at block")

	cyc := Cycle{
		Program:          p,
		Remaining:        remaining,
		MinTimePerAction: r.MinTimePerAction,
		Endpoint:         r.endpoint(),
		Fallbacks:        r.fallbacks(),
		BeforeWork: func(ctx context.Context) {
			r.heartbeat(ctx, inv, set.HeartbeatURL, c.notifier, c.log)
		},
	}
	if ev.CheckSetup {
		c.ok, c.err = r.Bot.CheckSetup(ctx, cyc)
		c.done = true
		return c
	}

	out, err := r.Bot.Execute(ctx, cyc)
	if err != nil {
		c.err = err
		return c
	}
	c.done, c.ok = true, out.OK
	if out.CheckChain && r.chainUnstable(ctx, inv, p, c.notifier, c.log) {
		c.done = false
	}
	return c
}

// fail reports a failed cycle and records the Error state with the
// transaction that was in flight, so the next run waits for it.
func (r *Runner) fail(ctx context.Context, c cycleResult) {
	c.log.Error().Err(c.err).Msg("error in script")
	msg := userMessage(c.err)
	if url := r.endpoint(); url != "" {
		msg += "\nused node at " + url
	}
	c.notifier.Send(ctx, msg)

	info := state.Info{
		Phase:       state.PhaseError,
		Operation:   state.OpNone,
		BlockHeight: c.height,
		Version:     r.Bot.Version(),
	}
	if c.prog != nil {
		info.TxID = c.prog.PendingTx()
	}
	if err := r.Store.UpdateState(r.Bot.Kind(), info); err != nil {
		c.log.Error().Err(err).Msg("could not store error state")
	}
	if network.IsTransient(c.err) && r.Endpoints != nil && r.Endpoints.Len() > 1 {
		c.log.Info().Str("node", r.Endpoints.Rotate()).Msg("falling back to next node")
	}
}

func (r *Runner) heartbeat(ctx context.Context, inv *invocation, url string, n notify.Notifier, log zerolog.Logger) {
	if inv.heartbeatSent || url == "" {
		return
	}
	inv.heartbeatSent = true
	log.Info().Str("url", url).Msg("sending heartbeat")
	if err := notify.Heartbeat(ctx, r.HTTPClient, url); err != nil {
		log.Error().Err(err).Msg("error sending heartbeat")
		n.Send(ctx, heartbeatErrorMsg)
	}
}

// chainUnstable reports whether the active node looks off the main chain:
// no block for 15 minutes, or an average block time above the network's
// threshold over the last blocks. It rotates to the next endpoint when so.
// Each fallback gets at most one extra round per invocation.
func (r *Runner) chainUnstable(ctx context.Context, inv *invocation, p *program.Program, n notify.Notifier, log zerolog.Logger) bool {
	if r.Endpoints == nil || inv.extraRounds >= r.Endpoints.Len()-1 {
		return false
	}
	blocks, err := p.Chain().ListBlocks(ctx, stabilityBlocks)
	if err != nil || len(blocks) < 2 {
		log.Warn().Err(err).Int("blocks", len(blocks)).Msg("could not check chain stability")
		return false
	}
	last, first := blocks[0].Time, blocks[len(blocks)-1].Time
	threshold := blockTimeMainnet
	if p.IsTestnet() {
		threshold = blockTimeTestnet
	}
	now := r.Now()
	span := last.Sub(first)
	if !last.Before(now.Add(-staleChainAfter)) && span <= time.Duration(len(blocks))*threshold {
		return false
	}
	inv.extraRounds++
	used := r.Endpoints.URL()
	next := r.Endpoints.Rotate()
	n.Send(ctx, fmt.Sprintf("chain feels unstable on node %s, doing an extra round with next fallback node.%d vs %d (diff %.1f min), avg blocktime %.1f",
		used, now.Unix(), last.Unix(), now.Sub(last).Minutes(), span.Seconds()/float64(len(blocks))))
	log.Warn().Str("node", used).Str("next", next).Msg("chain unstable")
	return true
}

func (r *Runner) observe(kind config.BotKind, c cycleResult, d time.Duration) {
	result := "failed"
	switch {
	case c.err != nil:
		result = "error"
	case c.skipped:
		result = "skipped"
	case !c.done:
		result = "retry"
	case c.ok:
		result = "ok"
	}
	r.Metrics.ObserveRun(string(kind), result, d)
}

func (r *Runner) endpoint() string {
	if r.Endpoints == nil {
		return ""
	}
	return r.Endpoints.URL()
}

func (r *Runner) fallbacks() []string {
	if r.Endpoints == nil {
		return nil
	}
	active := r.Endpoints.URL()
	var out []string
	for _, u := range r.Endpoints.URLs() {
		if u != active {
			out = append(out, u)
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
