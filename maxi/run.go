package maxi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/defichain-maxi/maxi-go/network"
	"github.com/defichain-maxi/maxi-go/state"
)

const (
	maxCleanUpTries     = 3
	minVaultValueUSD    = 10
	defaultConsistDelay = 15 * time.Second
	allSafeLevel        = 10000
)

// Session is one decision cycle of the maximizer.
type Session struct {
	Engine *Engine
	// Remaining reports the time left in the invocation. Nil means
	// unlimited.
	Remaining func() time.Duration
	// MinTimePerAction is the budget an extra step needs to be started.
	MinTimePerAction time.Duration
	// ConsistencyDelay separates the two consistency checks.
	ConsistencyDelay time.Duration
	// BeforeWork runs once the setup checks passed, before any recovery
	// or exposure change.
	BeforeWork func(ctx context.Context)
}

// Outcome summarises a cycle.
type Outcome struct {
	OK              bool
	ExposureChanged bool
	// CleanUpTries carries failed clean-ups into the next cycle of the
	// same invocation.
	CleanUpTries int
	// Stop is set when the cycle ended early and no more cycles should
	// run in this invocation.
	Stop        bool
	SafetyLevel decimal.Decimal
	// PendingReinvest is the reinvest transaction that did not confirm
	// during the cycle. The next run waits for it.
	PendingReinvest string
}

func (s *Session) timeLeft() bool {
	if s.Remaining == nil {
		return true
	}
	return s.Remaining() > s.MinTimePerAction
}

type snapshot struct {
	vault    *network.Vault
	pool     *network.Pool
	balances map[string]network.TokenAmount
}

func (s *Session) refresh(ctx context.Context, snap *snapshot, withPool bool) error {
	p := s.Engine.prog
	v, err := p.Vault(ctx)
	if err != nil {
		return err
	}
	b, err := p.TokenBalances(ctx)
	if err != nil {
		return err
	}
	snap.vault, snap.balances = v, b
	if withPool {
		pool, err := p.Pool(ctx, s.Engine.Pair())
		if err != nil {
			return err
		}
		snap.pool = pool
	}
	return nil
}

// load fetches vault, pool and balances and runs the setup checks. ok is
// false when a check failed and was reported.
func (s *Session) load(ctx context.Context) (*snapshot, bool, error) {
	snap := &snapshot{}
	p := s.Engine.prog
	v, err := p.Vault(ctx)
	if err != nil && !errors.Is(err, network.ErrNotFound) {
		return nil, false, err
	}
	snap.vault = v
	if snap.pool, err = p.Pool(ctx, s.Engine.Pair()); err != nil {
		snap.pool = nil
		s.Engine.log.Warn().Err(err).Msg("pool lookup failed")
	}
	if snap.balances, err = p.TokenBalances(ctx); err != nil {
		return nil, false, err
	}
	ok, err := s.Engine.Check(ctx, snap.vault, snap.pool, snap.balances)
	return snap, ok, err
}

// Run executes one cycle starting from the persisted state prev.
func (s *Session) Run(ctx context.Context, prev state.Info, cleanUpTries int) (Outcome, error) {
	e := s.Engine
	p := e.prog
	out := Outcome{OK: true, CleanUpTries: cleanUpTries}

	snap, ok, err := s.load(ctx)
	if err != nil || !ok {
		out.OK, out.Stop = false, true
		return out, err
	}
	height, err := p.BlockHeight(ctx)
	if err != nil {
		return out, err
	}
	if s.BeforeWork != nil {
		s.BeforeWork(ctx)
	}

	if prev.Phase != state.PhaseIdle {
		e.log.Info().Str("phase", string(prev.Phase)).Str("op", string(prev.Operation)).Str("txid", prev.TxID).
			Uint64("height", prev.BlockHeight).Msg("last execution stopped early")
		phase := prev.Phase
		if phase == state.PhaseWaitingForTransaction || prev.TxID != "" {
			confirmed := p.WaitForTx(ctx, prev.TxID, prev.BlockHeight)
			if err := s.refresh(ctx, snap, true); err != nil {
				return out, err
			}
			switch {
			case !confirmed || ShouldCleanUp(prev.Operation):
				phase = state.PhaseError
			case phase == state.PhaseWaitingForTransaction:
				phase = state.PhaseIdle
			}
			if err := p.UpdateToState(ctx, phase, state.OpNone, ""); err != nil {
				return out, err
			}
		}
		if phase == state.PhaseError && out.CleanUpTries < maxCleanUpTries {
			stop, err := s.recover(ctx, snap, &out)
			if err != nil || stop {
				out.Stop = true
				return out, err
			}
		}
	}

	v := snap.vault
	e.log.Info().Str("state", string(v.State)).Str("ratio", v.CollateralRatio.String()).
		Str("collateral", v.CollateralValue.String()).Str("loan", v.LoanValue.String()).Msg("vault")

	if v.State == network.VaultFrozen {
		if _, err := e.RemoveExposure(ctx, v, snap.pool, snap.balances, true); err != nil {
			return out, err
		}
		e.send(ctx, "vault is frozen. trying again later ")
		return out, nil
	}

	above, err := e.InterestAboveAPR(ctx, v, snap.pool)
	if err != nil {
		return out, err
	}
	if above {
		e.send(ctx, "interest rate higher than APR -> removing/preventing exposure")
		e.RemoveAllExposure()
	}

	oldRatio, nextRatio := v.CollateralRatio, e.NextCollateralRatio(v)
	band := e.Band()
	e.log.Info().Str("ratio", oldRatio.String()).Str("next", nextRatio.String()).
		Str("min", band.Min.String()).Str("max", band.Max.String()).Str("pair", e.Pair()).
		Str("mode", e.Mode().String()).Msg("starting")

	if !e.ConsistencyCheck(v) {
		delay := s.ConsistencyDelay
		if delay == 0 {
			delay = defaultConsistDelay
		}
		if err := sleep(ctx, delay); err != nil {
			return out, err
		}
		if err := s.refresh(ctx, snap, true); err != nil {
			return out, err
		}
		v = snap.vault
		if !e.ConsistencyCheck(v) {
			e.send(ctx, "Consistency checks in node data failed. Something is wrong, so will remove exposure to be safe.")
			e.RemoveAllExposure()
		}
	}

	band = e.Band()
	switch SelectAction(e.UsedRatio(v), band) {
	case ActionRemove:
		out.OK, err = e.RemoveExposure(ctx, v, snap.pool, snap.balances, false)
		out.ExposureChanged = true
		if err == nil {
			err = s.refresh(ctx, snap, false)
		}
	case ActionDecrease:
		out.OK, err = e.DecreaseExposure(ctx, v, snap.pool)
		out.ExposureChanged = true
		if err == nil {
			err = s.refresh(ctx, snap, false)
		}
	default:
		err = s.reinvestThenIncrease(ctx, snap, &out)
		if err == nil {
			err = s.stableArb(ctx, snap, &out)
		}
	}
	if err != nil {
		return out, err
	}

	v = snap.vault
	if v.State == network.VaultMayLiquidate {
		e.send(ctx, "The chain thinks your vault might get liquidated, but data gave us no reason to change something. "+
			"There is something wrong so we remove exposure for safety sake.")
		if out.OK, err = e.RemoveExposure(ctx, v, snap.pool, snap.balances, false); err != nil {
			return out, err
		}
		if !out.OK {
			if err := s.refresh(ctx, snap, false); err != nil {
				return out, err
			}
			if _, err := e.CleanUp(ctx, snap.vault, snap.balances, 0); err != nil {
				return out, err
			}
		}
	}

	final, op, txid := state.PhaseError, state.OpNone, ""
	switch {
	case !out.OK || out.CleanUpTries > 0:
	case out.PendingReinvest != "":
		final, op, txid = state.PhaseWaitingForTransaction, state.OpReinvest, out.PendingReinvest
	default:
		final = state.PhaseIdle
	}
	if err := p.UpdateToState(ctx, final, op, txid); err != nil {
		return out, err
	}
	if err := s.refresh(ctx, snap, true); err != nil {
		return out, err
	}
	level, err := e.SafetyLevel(ctx, snap.vault, snap.pool, snap.balances)
	if err != nil {
		return out, err
	}
	out.SafetyLevel = level
	p.Notifier().Log(ctx, s.summary(height, out, oldRatio, nextRatio, snap.vault))
	e.log.Info().Str("safety", level.StringFixed(0)).Bool("ok", out.OK).Msg("script done")
	return out, nil
}

// recover cleans up after an interrupted run. stop is set when too little
// time is left to continue with a regular cycle.
func (s *Session) recover(ctx context.Context, snap *snapshot, out *Outcome) (bool, error) {
	e := s.Engine
	p := e.prog
	e.log.Warn().Int("tries", out.CleanUpTries).Msg("cleaning up after failed run")
	out.CleanUpTries++
	ok, err := e.CleanUp(ctx, snap.vault, snap.balances, out.CleanUpTries-1)
	if err != nil {
		return false, err
	}
	if err := s.refresh(ctx, snap, true); err != nil {
		return false, err
	}
	p.Notifier().Log(ctx, fmt.Sprintf("executed clean-up part of script %s. vault ratio after clean-up %s",
		okWord(ok), snap.vault.CollateralRatio.String()))
	if !ok {
		e.send(ctx, "There was an error in recovering from a failed state. please check yourself!")
		if s.timeLeft() {
			if ok, err = e.CleanUp(ctx, snap.vault, snap.balances, out.CleanUpTries); err != nil {
				return false, err
			}
			if err := s.refresh(ctx, snap, true); err != nil {
				return false, err
			}
		}
	} else {
		e.send(ctx, "Successfully cleaned up after some error happened")
	}
	out.OK = ok
	phase := state.PhaseIdle
	if out.CleanUpTries >= maxCleanUpTries {
		phase = state.PhaseError
	}
	if err := p.UpdateToState(ctx, phase, state.OpNone, ""); err != nil {
		return false, err
	}
	out.CleanUpTries = 0
	return !s.timeLeft(), nil
}

func (s *Session) reinvestThenIncrease(ctx context.Context, snap *snapshot, out *Outcome) error {
	e := s.Engine
	res, err := e.Reinvest(ctx, snap.vault, snap.pool, snap.balances)
	if err != nil {
		return err
	}
	if res.Failed() {
		out.PendingReinvest = res.TxID
	}
	out.ExposureChanged = res.Touched
	if res.Touched {
		if err := s.refresh(ctx, snap, true); err != nil {
			return err
		}
	}
	if !s.timeLeft() {
		return nil
	}
	v := snap.vault
	if v.CollateralValue.LessThan(decimal.NewFromInt(minVaultValueUSD)) {
		e.send(ctx, "less than 10 dollar in the vault. can't work like that")
		return nil
	}
	if SelectAction(e.UsedRatio(v), e.Band()) != ActionIncrease {
		return nil
	}
	ok, changed, err := e.IncreaseExposure(ctx, v, snap.pool, snap.balances)
	if err != nil {
		return err
	}
	out.OK = ok
	out.ExposureChanged = out.ExposureChanged || changed
	return s.refresh(ctx, snap, false)
}

// stableArb trades one batch when the batch size is set and time is
// left. The batch is capped by the collateral the ratio can spare.
func (s *Session) stableArb(ctx context.Context, snap *snapshot, out *Outcome) error {
	e := s.Engine
	batch := decimal.NewFromFloat(e.set.StableArbBatchSize)
	if !batch.IsPositive() || !s.timeLeft() {
		return nil
	}
	v := snap.vault
	margin := v.Scheme.MinColRatio.Div(percent).Add(decimal.RequireFromString("0.01"))
	free := decimal.Min(
		v.CollateralValue.Sub(v.LoanValue.Mul(margin)),
		e.NextCollateralValue(v).Sub(e.NextLoanValue(v).Mul(margin)),
	)
	if free.LessThan(batch) {
		e.send(ctx, "available collateral from ratio ("+free.StringFixed(1)+") is less than batchsize for Arb, please adjust")
		batch = free
	}
	if !batch.IsPositive() {
		return nil
	}
	changed, err := e.StableArb(ctx, v, batch)
	if err != nil || !changed {
		return err
	}
	out.ExposureChanged = true
	return s.refresh(ctx, snap, true)
}

func (s *Session) summary(height uint64, out Outcome, oldRatio, nextRatio decimal.Decimal, v *network.Vault) string {
	e := s.Engine
	msg := fmt.Sprintf("executed script at block %d ", height)
	if out.ExposureChanged {
		msg += fmt.Sprintf("%s.\nvault ratio changed from %s (next %s) to %s (next %s).",
			okWord(out.OK), oldRatio, nextRatio, v.CollateralRatio, e.NextCollateralRatio(v))
	} else {
		msg += fmt.Sprintf("without changes.\nvault ratio %s next %s.", oldRatio, nextRatio)
	}
	band := e.Band()
	msg += fmt.Sprintf("\ntarget range %s - %s\n", band.Min, band.Max)
	if out.SafetyLevel.GreaterThan(decimal.NewFromInt(allSafeLevel)) {
		msg += "Maxi could bring your vault above 10000% collRatio. All safe."
	} else {
		msg += "Maxi could bring your vault to a collRatio of " + out.SafetyLevel.StringFixed(0) + "%"
	}
	return msg
}

func okWord(ok bool) string {
	if ok {
		return "successfully"
	}
	return "with problems"
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
