package tx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/defichain-maxi/maxi-go/logger"
	"github.com/defichain-maxi/maxi-go/network"
)

// Sender defaults.
const (
	DefaultSendInterval = 10 * time.Second
	DefaultSendAttempts = 5
	DefaultStallAfter   = 3
	DefaultMaxStallWait = 10 * time.Minute

	// ChainedInitialWait delays a send that spends an unconfirmed change
	// output so the parent reaches the node's mempool first.
	ChainedInitialWait = 3 * time.Second
)

// SenderConfig tunes broadcast retries.
type SenderConfig struct {
	Interval     time.Duration
	Attempts     int
	StallAfter   int
	MaxStallWait time.Duration
}

func (c SenderConfig) withDefaults() SenderConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultSendInterval
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultSendAttempts
	}
	if c.StallAfter <= 0 {
		c.StallAfter = DefaultStallAfter
	}
	if c.MaxStallWait <= 0 {
		c.MaxStallWait = DefaultMaxStallWait
	}
	return c
}

// Sender broadcasts built transactions with retry.
type Sender struct {
	svc network.ChainService
	cfg SenderConfig
	log zerolog.Logger

	// OnRetry, when set, is called before every retry.
	OnRetry func()
}

// NewSender creates a sender using svc for broadcast and block height.
func NewSender(svc network.ChainService, cfg SenderConfig) *Sender {
	return &Sender{svc: svc, cfg: cfg.withDefaults(), log: logger.GetForComponent("tx")}
}

// Send broadcasts built after initialWait. Failures are retried every
// Interval up to Attempts times. Once StallAfter consecutive failures
// happen at the same block height, retries pause until a new block
// arrives (at most MaxStallWait).
func (s *Sender) Send(ctx context.Context, built *Built, initialWait time.Duration) (string, error) {
	if built == nil {
		return "", fmt.Errorf("%w: built transaction", ErrNilParam)
	}
	log := s.log.With().Str("txid", built.TxID).Str("op", built.Op.String()).Logger()
	if len(built.Inputs) > 0 {
		log.Info().Str("input", built.Inputs[0].key()).Msg("sending transaction")
	}
	if err := sleep(ctx, initialWait); err != nil {
		return "", err
	}

	var (
		lastErr    error
		lastHeight uint64
		sameHeight int
	)
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		txid, err := s.svc.SendRawTx(ctx, built.Hex)
		if err == nil {
			return txid, nil
		}
		if alreadyKnown(err) {
			log.Info().Msg("transaction already known to node")
			return built.TxID, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt == s.cfg.Attempts {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", s.cfg.Interval).Msg("error sending transaction, retrying")
		if s.OnRetry != nil {
			s.OnRetry()
		}

		height, herr := s.svc.GetBlockHeight(ctx)
		switch {
		case herr != nil:
			sameHeight = 0
		case height == lastHeight:
			sameHeight++
		default:
			lastHeight, sameHeight = height, 1
		}

		if herr == nil && sameHeight >= s.cfg.StallAfter {
			log.Warn().Uint64("height", lastHeight).Msg("no new block during retries, waiting for next block")
			next, err := s.waitForBlock(ctx, lastHeight)
			if err != nil {
				return "", err
			}
			lastHeight, sameHeight = next, 0
			continue
		}
		if err := sleep(ctx, s.cfg.Interval); err != nil {
			return "", err
		}
	}
	log.Error().Err(lastErr).Int("attempts", s.cfg.Attempts).Msg("failed to send transaction after retries")
	return "", fmt.Errorf("%w: %s: %w", ErrSendFailed, built.TxID, lastErr)
}

func (s *Sender) waitForBlock(ctx context.Context, height uint64) (uint64, error) {
	deadline := time.Now().Add(s.cfg.MaxStallWait)
	for time.Now().Before(deadline) {
		if err := sleep(ctx, s.cfg.Interval); err != nil {
			return 0, err
		}
		h, err := s.svc.GetBlockHeight(ctx)
		if err == nil && h > height {
			return h, nil
		}
	}
	return 0, fmt.Errorf("%w: no block after %d within %s", ErrChainStalled, height, s.cfg.MaxStallWait)
}

// alreadyKnown matches node rejections that mean the transaction is
// already in the mempool or chain.
func alreadyKnown(err error) bool {
	var rpcErr *network.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	msg := strings.ToLower(rpcErr.Message)
	return strings.Contains(msg, "already in block chain") ||
		strings.Contains(msg, "txn-already-known") ||
		strings.Contains(msg, "txn-already-in-mempool")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
