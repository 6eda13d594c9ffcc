// Package program is the shared layer under every bot. It binds the chain
// service, transaction builder, sender, confirmation waiter, parameter
// store and notifier for one wallet address, and exposes one method per
// protocol operation.
package program

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/defichain-maxi/maxi-go/config"
	"github.com/defichain-maxi/maxi-go/logger"
	"github.com/defichain-maxi/maxi-go/metrics"
	"github.com/defichain-maxi/maxi-go/network"
	"github.com/defichain-maxi/maxi-go/notify"
	"github.com/defichain-maxi/maxi-go/state"
	"github.com/defichain-maxi/maxi-go/store"
	"github.com/defichain-maxi/maxi-go/tx"
	"github.com/defichain-maxi/maxi-go/waiter"
	"github.com/defichain-maxi/maxi-go/wallet"
)

// Version is written into every persisted state record and shown in
// message prefixes.
const Version = "v2.5.3"

// Options wires a Program. Settings, Store and Chain are required.
type Options struct {
	Settings *config.Settings
	Store    store.Store
	Chain    network.ChainService
	Notifier notify.Notifier
	Network  *wallet.NetworkConfig
	Builder  tx.BuilderConfig
	Sender   tx.SenderConfig
	Waiter   *waiter.Waiter
	Metrics  *metrics.Metrics
	Version  string

	// ChainedWait delays the broadcast of a transaction that spends an
	// unconfirmed change output. Zero means tx.ChainedInitialWait.
	ChainedWait time.Duration
}

// Program is the per-invocation view of one wallet address.
type Program struct {
	settings *config.Settings
	store    store.Store
	chain    network.ChainService
	notifier notify.Notifier
	net      *wallet.NetworkConfig
	metrics  *metrics.Metrics
	version  string

	script  []byte
	account *wallet.KeyPair
	builder *tx.Builder
	sender  *tx.Sender
	waiter  *waiter.Waiter

	chainedWait time.Duration
	pendingTx   string
	log         zerolog.Logger
}

// New resolves the address script and, when the seed controls the
// address, the signing key. A seed that does not own the address is not
// an error: the program then builds unsigned transactions.
func New(opts Options) (*Program, error) {
	if opts.Chain == nil {
		return nil, ErrNoChain
	}
	if opts.Settings == nil || opts.Store == nil {
		return nil, fmt.Errorf("%w: settings and store are required", tx.ErrNilParam)
	}
	p := &Program{
		settings: opts.Settings,
		store:    opts.Store,
		chain:    opts.Chain,
		notifier: opts.Notifier,
		net:      opts.Network,
		metrics:  opts.Metrics,
		version:  opts.Version,
		waiter:   opts.Waiter,

		chainedWait: opts.ChainedWait,
		log: logger.GetForComponent("program").With().
			Str("bot", string(opts.Settings.Kind)).Logger(),
	}
	if p.notifier == nil {
		p.notifier = notify.Nop{}
	}
	if p.net == nil {
		p.net = wallet.GuessNetwork(opts.Settings.Address)
	}
	if p.version == "" {
		p.version = Version
	}
	if p.chainedWait <= 0 {
		p.chainedWait = tx.ChainedInitialWait
	}

	if s, err := wallet.AddressToScript(opts.Settings.Address, p.net); err == nil {
		p.script = s
	} else {
		p.log.Error().Err(err).Str("address", opts.Settings.Address).Msg("address does not decode")
	}
	if len(opts.Settings.Seed) > 0 && p.script != nil {
		w, err := wallet.FromWords(opts.Settings.Seed, p.net)
		if err == nil {
			p.account, err = w.FindAccount(opts.Settings.Address, wallet.DefaultDiscoveryLimit)
		}
		if err != nil {
			p.log.Warn().Err(err).Msg("seed does not control the address, running unsigned")
		}
	}

	p.builder = tx.NewBuilder(opts.Chain, opts.Settings.Address, p.script, p.signingKey(), tx.NewChain(), opts.Builder)
	p.sender = tx.NewSender(opts.Chain, opts.Sender)
	if p.waiter == nil {
		p.waiter = waiter.New(opts.Chain)
	}
	if p.metrics != nil {
		p.sender.OnRetry = p.metrics.SendRetry
		p.waiter.OnTimeout = p.metrics.WaitTimeout
	}
	return p, nil
}

// Init registers the address with the node so that its unspent outputs
// are listed. Failure is logged only; a node that already watches the
// address works either way.
func (p *Program) Init(ctx context.Context) {
	if p.script == nil {
		return
	}
	if err := p.chain.ImportAddress(ctx, p.settings.Address); err != nil {
		p.log.Warn().Err(err).Msg("could not import address into node wallet")
	}
}

// CanSign reports whether the seed controls the address.
func (p *Program) CanSign() bool { return p.account != nil }

// Address returns the wallet address, or "" when it is invalid.
func (p *Program) Address() string {
	if p.script == nil {
		return ""
	}
	return p.settings.Address
}

// Script returns the locking script of the wallet address.
func (p *Program) Script() []byte { return p.script }

// VaultID returns the configured vault id.
func (p *Program) VaultID() string { return p.settings.Vault }

// Settings returns the settings this program was built from.
func (p *Program) Settings() *config.Settings { return p.settings }

// Chain returns the chain service.
func (p *Program) Chain() network.ChainService { return p.chain }

// Notifier returns the message channel.
func (p *Program) Notifier() notify.Notifier { return p.notifier }

// Network returns the wallet network.
func (p *Program) Network() *wallet.NetworkConfig { return p.net }

// PendingTx returns the id of the last transaction handed to the node.
func (p *Program) PendingTx() string { return p.pendingTx }

// ValidationChecks verifies that the address decodes and, when needKey is
// set, that the seed controls it. Failures are reported to the user.
func (p *Program) ValidationChecks(ctx context.Context, needKey bool) bool {
	if p.script == nil || (needKey && !p.CanSign()) {
		msg := fmt.Sprintf("Could not initialize wallet. Check your settings! %d words in seedphrase, trying address: %s.",
			len(p.settings.Seed), p.settings.Address)
		p.notifier.Send(ctx, msg)
		p.log.Error().Msg(msg)
		return false
	}
	return true
}

// WaitForTx waits for txid with the limits that match CanSign.
func (p *Program) WaitForTx(ctx context.Context, txid string, startBlock uint64) bool {
	return p.waiter.Wait(ctx, txid, startBlock, p.CanSign())
}

// UpdateToState persists the state record with the current block height.
func (p *Program) UpdateToState(ctx context.Context, phase state.Phase, op state.Operation, txid string) error {
	height, err := p.chain.GetBlockHeight(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("block height unavailable for state record")
		height = 0
	}
	info := state.Info{Phase: phase, Operation: op, TxID: txid, BlockHeight: height, Version: p.version}
	if err := p.store.UpdateState(p.settings.Kind, info); err != nil {
		return fmt.Errorf("program: update state: %w", err)
	}
	return nil
}

// Store returns the parameter store.
func (p *Program) Store() store.Store { return p.store }

func (p *Program) requireVault() error {
	if p.settings.Vault == "" {
		return ErrNoVault
	}
	return nil
}

// IsSendFailure reports whether err means a broadcast never reached the
// node: rejected, out of attempts, or stalled on a chain without blocks.
func IsSendFailure(err error) bool {
	return errors.Is(err, network.ErrBroadcastRejected) ||
		errors.Is(err, tx.ErrSendFailed) ||
		errors.Is(err, tx.ErrChainStalled)
}

// IsTestnet reports whether the wallet is not on mainnet.
func (p *Program) IsTestnet() bool { return p.net.IsTestnet() }

// IsVaultID reports whether s has the shape of a vault id.
func IsVaultID(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// CollateralTokenByKey returns the collateral token whose symbol key is
// key, or nil.
func CollateralTokenByKey(tokens []network.CollateralToken, key string) *network.CollateralToken {
	for i := range tokens {
		if tokens[i].Token.SymbolKey == key || tokens[i].Token.Symbol == key {
			return &tokens[i]
		}
	}
	return nil
}
