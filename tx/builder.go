package tx

import (
	"context"
	"encoding/hex"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/defichain-maxi/maxi-go/logger"
	"github.com/defichain-maxi/maxi-go/network"
)

// Fee and input selection defaults.
const (
	// DefaultFeeRate is 0.00001 DFI per 1000 virtual bytes.
	DefaultFeeRate = uint64(1000)

	// MinFeeReserve is the DFI (in satoshi) expected on top of the output
	// value before the larger unspent page is fetched.
	MinFeeReserve = uint64(100000)

	DefaultInitialPage   = 10
	DefaultEscalatedPage = 1000

	// Size of a DER signature plus sighash byte and a compressed key, used
	// to estimate the witness before signing.
	estSigLen    = 72
	estPubKeyLen = 33
)

// BuilderConfig tunes fee and input selection.
type BuilderConfig struct {
	FeeRate       uint64
	StrictFees    bool
	InitialPage   int
	EscalatedPage int
}

func (c BuilderConfig) withDefaults() BuilderConfig {
	if c.FeeRate == 0 {
		c.FeeRate = DefaultFeeRate
	}
	if c.InitialPage <= 0 {
		c.InitialPage = DefaultInitialPage
	}
	if c.EscalatedPage < c.InitialPage {
		c.EscalatedPage = DefaultEscalatedPage
	}
	return c
}

// Built is a constructed transaction. Change is output 1 and can be passed
// directly as the prevout of the next Build.
type Built struct {
	Tx     *Transaction
	TxID   string
	Hex    string
	Signed bool
	Op     OpType
	Fee    uint64
	Inputs []Prevout
	Change *Prevout
}

// Builder turns payloads into transactions funded by one address.
type Builder struct {
	svc     network.ChainService
	address string
	script  []byte
	key     *ec.PrivateKey
	chain   *Chain
	cfg     BuilderConfig
	log     zerolog.Logger
}

// NewBuilder creates a builder for address, whose locking script is
// ownScript. A nil key produces unsigned transactions. chain may be nil.
func NewBuilder(svc network.ChainService, address string, ownScript []byte, key *ec.PrivateKey, chain *Chain, cfg BuilderConfig) *Builder {
	if chain == nil {
		chain = NewChain()
	}
	return &Builder{
		svc:     svc,
		address: address,
		script:  ownScript,
		key:     key,
		chain:   chain,
		cfg:     cfg.withDefaults(),
		log:     logger.GetForComponent("tx"),
	}
}

// CanSign reports whether built transactions are signed.
func (b *Builder) CanSign() bool { return b.key != nil }

// Script is the locking script of the funding address.
func (b *Builder) Script() []byte { return b.script }

// Chain is the virtual prevout chain used for input selection.
func (b *Builder) Chain() *Chain { return b.chain }

// EstimateFee returns ceil(vsize · rate / 1000).
func EstimateFee(vsize int, rate uint64) uint64 {
	if rate == 0 {
		rate = DefaultFeeRate
	}
	return (uint64(vsize)*rate + 999) / 1000
}

// Build creates the transaction [payload(outValue), change, extra...]. With
// prevout nil the inputs are chosen from the address's unspent outputs.
// Extra outputs are minted by the payload and not funded by the inputs.
func (b *Builder) Build(ctx context.Context, payload Payload, prevout *Prevout, outValue uint64, extra ...Output) (*Built, error) {
	opScript, err := payload.Script()
	if err != nil {
		return nil, err
	}

	var inputs []Prevout
	if prevout != nil {
		inputs = []Prevout{*prevout}
	} else {
		inputs, err = b.selectInputs(ctx, outValue+MinFeeReserve)
		if err != nil {
			return nil, err
		}
	}

	t := &Transaction{Version: TxVersion}
	var total uint64
	for _, in := range inputs {
		h, err := hashFromHex(in.TxID)
		if err != nil {
			return nil, err
		}
		t.Inputs = append(t.Inputs, &TxIn{PrevTxID: h, Vout: in.Vout, Sequence: SequenceFinal})
		total += in.Amount
	}
	change := &TxOut{Script: b.script}
	t.Outputs = append(t.Outputs, &TxOut{Value: outValue, Script: opScript}, change)
	for _, o := range extra {
		t.Outputs = append(t.Outputs, &TxOut{Value: o.Amount, Script: o.Script, TokenID: o.TokenID})
	}

	fee := EstimateFee(estimatedVSize(t), b.cfg.FeeRate)
	if total < outValue+fee {
		b.log.Error().
			Str("op", payload.Type.String()).
			Uint64("inputs", total).
			Uint64("out_value", outValue).
			Uint64("fee", fee).
			Msg("inputs do not cover output value and fee")
		if b.cfg.StrictFees {
			return nil, fmt.Errorf("%w: inputs %d < output %d + fee %d", ErrInsufficientFunds, total, outValue, fee)
		}
		change.Value = 0
	} else {
		change.Value = total - outValue - fee
	}

	built := &Built{Tx: t, Op: payload.Type, Fee: fee, Inputs: inputs}
	if b.key != nil {
		if err := SignP2WPKH(t, inputs, b.key); err != nil {
			return nil, err
		}
		built.Signed = true
	}
	built.TxID = t.TxID()
	built.Hex = t.Hex()
	built.Change = &Prevout{TxID: built.TxID, Vout: 1, Amount: change.Value, Script: b.script}
	return built, nil
}

// estimatedVSize sizes t as if every input carried a P2WPKH witness.
func estimatedVSize(t *Transaction) int {
	saved := make([][][]byte, len(t.Inputs))
	for i, in := range t.Inputs {
		saved[i] = in.Witness
		in.Witness = [][]byte{make([]byte, estSigLen), make([]byte, estPubKeyLen)}
	}
	vsize := t.VirtualSize()
	for i, in := range t.Inputs {
		in.Witness = saved[i]
	}
	return vsize
}

// selectInputs fetches a small page of DFI outputs and escalates to a
// large page when the small one does not reach minimum.
func (b *Builder) selectInputs(ctx context.Context, minimum uint64) ([]Prevout, error) {
	inputs, total, err := b.fetchInputs(ctx, b.cfg.InitialPage)
	if err != nil {
		return nil, err
	}
	if total < minimum {
		b.log.Debug().Uint64("total", total).Uint64("minimum", minimum).
			Int("page", b.cfg.EscalatedPage).Msg("small unspent page insufficient, fetching more")
		inputs, _, err = b.fetchInputs(ctx, b.cfg.EscalatedPage)
		if err != nil {
			return nil, err
		}
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoInputs, b.address)
	}
	return inputs, nil
}

func (b *Builder) fetchInputs(ctx context.Context, limit int) ([]Prevout, uint64, error) {
	utxos, err := b.svc.ListUnspent(ctx, b.address, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list unspent: %w", err)
	}
	confirmed := make([]Prevout, 0, len(utxos))
	for _, u := range utxos {
		if u.TokenID != 0 {
			continue
		}
		lockScript, err := hex.DecodeString(u.ScriptPubKey)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: script of %s:%d: %w", network.ErrInvalidResponse, u.TxID, u.Vout, err)
		}
		confirmed = append(confirmed, Prevout{
			TxID:   u.TxID,
			Vout:   u.Vout,
			Amount: uint64(u.Amount.Shift(8).Round(0).IntPart()),
			Script: lockScript,
		})
	}
	inputs := b.chain.Filter(confirmed)
	var total uint64
	for _, in := range inputs {
		total += in.Amount
	}
	return inputs, total, nil
}

// SatoshiOf converts a DFI amount to satoshi, truncating.
func SatoshiOf(d decimal.Decimal) uint64 {
	if d.IsNegative() {
		return 0
	}
	return uint64(ToSatoshi(d))
}
