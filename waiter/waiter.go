// Package waiter polls the node until a transaction confirms or a bounded
// wait expires.
package waiter

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/defichain-maxi/maxi-go/logger"
	"github.com/defichain-maxi/maxi-go/network"
)

// Limits bounds one wait. Whichever limit is reached first ends it.
type Limits struct {
	Duration time.Duration
	Blocks   uint64
}

// Default limits. A bot that cannot sign waits longer since someone has
// to cosign and broadcast by hand.
var (
	SigningLimits    = Limits{Duration: 10 * time.Minute, Blocks: 20}
	NonSigningLimits = Limits{Duration: 15 * time.Minute, Blocks: 30}
)

const (
	DefaultInitialDelay = 15 * time.Second
	DefaultPollInterval = 15 * time.Second
)

// Waiter polls GetTransaction.
type Waiter struct {
	svc network.ChainService
	log zerolog.Logger

	InitialDelay time.Duration
	PollInterval time.Duration
	Signing      Limits
	NonSigning   Limits

	// OnTimeout, when set, is called whenever a wait ends unconfirmed.
	OnTimeout func()
}

// New returns a Waiter with the default timings.
func New(svc network.ChainService) *Waiter {
	return &Waiter{
		svc:          svc,
		log:          logger.GetForComponent("waiter"),
		InitialDelay: DefaultInitialDelay,
		PollInterval: DefaultPollInterval,
		Signing:      SigningLimits,
		NonSigning:   NonSigningLimits,
	}
}

// Wait returns true once txid is confirmed and false when the time or block
// limit passes first or ctx ends. startBlock 0 means the current height.
func (w *Waiter) Wait(ctx context.Context, txid string, startBlock uint64, canSign bool) bool {
	limits := w.Signing
	if !canSign {
		limits = w.NonSigning
	}
	log := w.log.With().Str("txid", txid).Logger()

	if startBlock == 0 {
		h, err := w.svc.GetBlockHeight(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("could not read start height")
		}
		startBlock = h
	}

	deadline := time.Now().Add(limits.Duration)
	delay := w.InitialDelay
	for {
		if !w.sleep(ctx, delay) {
			log.Warn().Err(ctx.Err()).Msg("wait cancelled")
			return w.timedOut()
		}
		delay = w.PollInterval

		st, err := w.svc.GetTransaction(ctx, txid)
		if err == nil && st.Confirmed {
			log.Debug().Msg("transaction confirmed")
			return true
		}
		if err != nil && !errors.Is(err, network.ErrTxNotFound) {
			log.Debug().Err(err).Msg("transaction lookup failed")
		}

		if !time.Now().Before(deadline) {
			log.Error().Dur("waited", limits.Duration).Msg("transaction not confirmed in time")
			return w.timedOut()
		}
		if h, err := w.svc.GetBlockHeight(ctx); err == nil && startBlock > 0 && h >= startBlock+limits.Blocks {
			log.Error().Uint64("blocks", limits.Blocks).
				Msg("transaction not confirmed within block limit, possibly conflicting with other inputs")
			return w.timedOut()
		}
	}
}

func (w *Waiter) timedOut() bool {
	if w.OnTimeout != nil {
		w.OnTimeout()
	}
	return false
}

func (w *Waiter) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
