package tx

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/shopspring/decimal"
)

// DfTxMarker prefixes every custom transaction payload ("DfTx").
var DfTxMarker = []byte{0x44, 0x66, 0x54, 0x78}

// OpType is the one-byte custom transaction type following the marker.
type OpType byte

// Custom transaction types used by the bots.
const (
	OpUtxosToAccount      OpType = 'U'
	OpAccountToUtxos      OpType = 'b'
	OpAccountToAccount    OpType = 'B'
	OpPoolSwap            OpType = 's'
	OpCompositeSwap       OpType = 'i'
	OpAddPoolLiquidity    OpType = 'l'
	OpRemovePoolLiquidity OpType = 'r'
	OpDepositToVault      OpType = 'S'
	OpWithdrawFromVault   OpType = 'J'
	OpTakeLoan            OpType = 'X'
	OpPaybackLoan         OpType = 'H'
)

var opNames = map[OpType]string{
	OpUtxosToAccount:      "UtxosToAccount",
	OpAccountToUtxos:      "AccountToUtxos",
	OpAccountToAccount:    "AccountToAccount",
	OpPoolSwap:            "PoolSwap",
	OpCompositeSwap:       "CompositeSwap",
	OpAddPoolLiquidity:    "AddPoolLiquidity",
	OpRemovePoolLiquidity: "RemovePoolLiquidity",
	OpDepositToVault:      "DepositToVault",
	OpWithdrawFromVault:   "WithdrawFromVault",
	OpTakeLoan:            "TakeLoan",
	OpPaybackLoan:         "PaybackLoan",
}

func (o OpType) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OpType(%#02x)", byte(o))
}

// Payload is an encoded custom transaction message.
type Payload struct {
	Type OpType
	Body []byte
}

// Bytes returns marker, type and body.
func (p Payload) Bytes() []byte {
	out := make([]byte, 0, len(DfTxMarker)+1+len(p.Body))
	out = append(out, DfTxMarker...)
	out = append(out, byte(p.Type))
	return append(out, p.Body...)
}

// Script returns the OP_RETURN locking script carrying the payload.
func (p Payload) Script() ([]byte, error) {
	s := &script.Script{}
	*s = append(*s, script.OpRETURN)
	if err := s.AppendPushData(p.Bytes()); err != nil {
		return nil, fmt.Errorf("%w: push %s payload: %w", ErrInvalidPayload, p.Type, err)
	}
	return []byte(*s), nil
}

// ParsePayload extracts the custom transaction message from an OP_RETURN
// locking script holding a single push.
func ParsePayload(lockingScript []byte) (Payload, error) {
	if len(lockingScript) < 2 || lockingScript[0] != script.OpRETURN {
		return Payload{}, fmt.Errorf("%w: missing OP_RETURN", ErrNotDfTx)
	}
	data, rest, err := readPush(lockingScript[1:])
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrNotDfTx, err)
	}
	if len(rest) != 0 {
		return Payload{}, fmt.Errorf("%w: %d trailing bytes", ErrNotDfTx, len(rest))
	}
	if len(data) < len(DfTxMarker)+1 || !bytes.Equal(data[:len(DfTxMarker)], DfTxMarker) {
		return Payload{}, fmt.Errorf("%w: missing marker", ErrNotDfTx)
	}
	return Payload{
		Type: OpType(data[len(DfTxMarker)]),
		Body: append([]byte(nil), data[len(DfTxMarker)+1:]...),
	}, nil
}

// readPush decodes one data push and returns it with the remaining bytes.
func readPush(b []byte) ([]byte, []byte, error) {
	op := b[0]
	b = b[1:]
	var n int
	switch {
	case op >= 0x01 && op <= 0x4b:
		n = int(op)
	case op == script.OpPUSHDATA1 && len(b) >= 1:
		n, b = int(b[0]), b[1:]
	case op == script.OpPUSHDATA2 && len(b) >= 2:
		n, b = int(binary.LittleEndian.Uint16(b)), b[2:]
	case op == script.OpPUSHDATA4 && len(b) >= 4:
		n, b = int(binary.LittleEndian.Uint32(b)), b[4:]
	default:
		return nil, nil, fmt.Errorf("opcode %#02x is not a data push", op)
	}
	if n < 0 || n > len(b) {
		return nil, nil, fmt.Errorf("push of %d bytes exceeds script", n)
	}
	return b[:n], b[n:], nil
}

// TokenBalance is an amount of one token in satoshi units.
type TokenBalance struct {
	TokenID uint32
	Amount  int64
}

// ScriptBalances assigns token balances to an owner script.
type ScriptBalances struct {
	Script   []byte
	Balances []TokenBalance
}

// PoolSwapParams describes a swap. A zero MaxPrice means unlimited.
type PoolSwapParams struct {
	From      []byte
	FromToken uint32
	Amount    int64
	To        []byte
	ToToken   uint32
	MaxPrice  decimal.Decimal
}

func writeBalances(w *writer, balances []TokenBalance) {
	w.compactSize(uint64(len(balances)))
	for _, b := range balances {
		w.u32(b.TokenID)
		w.i64(b.Amount)
	}
}

func writeScriptBalances(w *writer, sb []ScriptBalances) {
	w.compactSize(uint64(len(sb)))
	for _, s := range sb {
		w.varBytes(s.Script)
		writeBalances(w, s.Balances)
	}
}

func writeVaultID(w *writer, vaultID string) error {
	id, err := hashFromHex(vaultID)
	if err != nil {
		return fmt.Errorf("%w: vault id %q: %w", ErrInvalidPayload, vaultID, err)
	}
	w.Write(id[:])
	return nil
}

func writePoolSwap(w *writer, p PoolSwapParams) {
	w.varBytes(p.From)
	w.varInt(uint64(p.FromToken))
	w.i64(p.Amount)
	w.varBytes(p.To)
	w.varInt(uint64(p.ToToken))
	integer, fraction := maxPriceParts(p.MaxPrice)
	w.i64(integer)
	w.i64(fraction)
}

func maxPriceParts(price decimal.Decimal) (int64, int64) {
	if !price.IsPositive() {
		return math.MaxInt64, math.MaxInt64
	}
	integer := price.Truncate(0)
	fraction := price.Sub(integer).Shift(8).Truncate(0)
	return integer.IntPart(), fraction.IntPart()
}

// UtxosToAccount converts the DFI value of output 0 into account balances.
func UtxosToAccount(to []ScriptBalances) Payload {
	var w writer
	writeScriptBalances(&w, to)
	return Payload{Type: OpUtxosToAccount, Body: w.Bytes()}
}

// AccountToUtxos mints balances of from as outputs starting at index
// mintingOutputsStart.
func AccountToUtxos(from []byte, balances []TokenBalance, mintingOutputsStart uint32) Payload {
	var w writer
	w.varBytes(from)
	writeBalances(&w, balances)
	w.u32(mintingOutputsStart)
	return Payload{Type: OpAccountToUtxos, Body: w.Bytes()}
}

// AccountToAccount moves account balances of from to other owners.
func AccountToAccount(from []byte, to []ScriptBalances) Payload {
	var w writer
	w.varBytes(from)
	writeScriptBalances(&w, to)
	return Payload{Type: OpAccountToAccount, Body: w.Bytes()}
}

// PoolSwap swaps through the single pool joining both tokens.
func PoolSwap(p PoolSwapParams) Payload {
	var w writer
	writePoolSwap(&w, p)
	return Payload{Type: OpPoolSwap, Body: w.Bytes()}
}

// CompositeSwap swaps along an explicit pool path.
func CompositeSwap(p PoolSwapParams, pools []uint32) Payload {
	var w writer
	writePoolSwap(&w, p)
	w.compactSize(uint64(len(pools)))
	for _, id := range pools {
		w.varInt(uint64(id))
	}
	return Payload{Type: OpCompositeSwap, Body: w.Bytes()}
}

// AddPoolLiquidity adds both pool tokens from the given owners and credits
// the shares to shareScript.
func AddPoolLiquidity(from []ScriptBalances, shareScript []byte) Payload {
	var w writer
	writeScriptBalances(&w, from)
	w.varBytes(shareScript)
	return Payload{Type: OpAddPoolLiquidity, Body: w.Bytes()}
}

// RemovePoolLiquidity burns amount of the pool share token.
func RemovePoolLiquidity(from []byte, shareToken uint32, amount int64) Payload {
	var w writer
	w.varBytes(from)
	w.varInt(uint64(shareToken))
	w.i64(amount)
	return Payload{Type: OpRemovePoolLiquidity, Body: w.Bytes()}
}

// DepositToVault moves one token balance of from into the vault.
func DepositToVault(vaultID string, from []byte, amount TokenBalance) (Payload, error) {
	var w writer
	if err := writeVaultID(&w, vaultID); err != nil {
		return Payload{}, err
	}
	w.varBytes(from)
	w.varInt(uint64(amount.TokenID))
	w.i64(amount.Amount)
	return Payload{Type: OpDepositToVault, Body: w.Bytes()}, nil
}

// WithdrawFromVault moves collateral out of the vault to the to script.
func WithdrawFromVault(vaultID string, to []byte, amount TokenBalance) (Payload, error) {
	var w writer
	if err := writeVaultID(&w, vaultID); err != nil {
		return Payload{}, err
	}
	w.varBytes(to)
	w.varInt(uint64(amount.TokenID))
	w.i64(amount.Amount)
	return Payload{Type: OpWithdrawFromVault, Body: w.Bytes()}, nil
}

// TakeLoan mints loan tokens against the vault to the to script.
func TakeLoan(vaultID string, to []byte, amounts []TokenBalance) (Payload, error) {
	var w writer
	if err := writeVaultID(&w, vaultID); err != nil {
		return Payload{}, err
	}
	w.varBytes(to)
	writeBalances(&w, amounts)
	return Payload{Type: OpTakeLoan, Body: w.Bytes()}, nil
}

// PaybackLoan repays loan tokens of from into the vault.
func PaybackLoan(vaultID string, from []byte, amounts []TokenBalance) (Payload, error) {
	var w writer
	if err := writeVaultID(&w, vaultID); err != nil {
		return Payload{}, err
	}
	w.varBytes(from)
	writeBalances(&w, amounts)
	return Payload{Type: OpPaybackLoan, Body: w.Bytes()}, nil
}

// ToSatoshi converts a token amount to its 8-decimal integer form,
// truncating extra precision.
func ToSatoshi(d decimal.Decimal) int64 {
	return d.Shift(8).Truncate(0).IntPart()
}

// FromSatoshi converts an 8-decimal integer amount back to a decimal.
func FromSatoshi(v int64) decimal.Decimal {
	return decimal.New(v, -8)
}

// VaultIDHex is the display form of a 32-byte vault id as written into
// payloads (byte-reversed, like a txid).
func VaultIDHex(raw []byte) string {
	rev := make([]byte, len(raw))
	for i := range raw {
		rev[len(raw)-1-i] = raw[i]
	}
	return hex.EncodeToString(rev)
}
