package tx

import (
	"encoding/hex"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
)

// Transaction constants of the DeFiChain token-aware format.
const (
	TxVersion      = 4
	SequenceFinal  = 0xffffffff
	SighashAll     = 0x01
	witnessMarker  = 0x00
	witnessFlag    = 0x01
	witnessScale   = 4
	maxVectorItems = 100000
)

// TxIn spends PrevTxID:Vout. PrevTxID is in internal (little-endian) byte
// order.
type TxIn struct {
	PrevTxID  chainhash.Hash
	Vout      uint32
	ScriptSig []byte
	Sequence  uint32
	Witness   [][]byte
}

// TxOut carries a value of TokenID locked by Script.
type TxOut struct {
	Value   uint64
	Script  []byte
	TokenID uint32
}

// Transaction is a version 4 DeFiChain transaction: segwit inputs and a
// token id on every output.
type Transaction struct {
	Version  int32
	Inputs   []*TxIn
	Outputs  []*TxOut
	LockTime uint32
}

func (t *Transaction) hasWitness() bool {
	for _, in := range t.Inputs {
		if len(in.Witness) > 0 {
			return true
		}
	}
	return false
}

func writeOutput(w *writer, out *TxOut) {
	w.u64(out.Value)
	w.varBytes(out.Script)
	w.varInt(uint64(out.TokenID))
}

func (t *Transaction) serialize(withWitness bool) []byte {
	withWitness = withWitness && t.hasWitness()
	var w writer
	w.u32(uint32(t.Version))
	if withWitness {
		w.u8(witnessMarker)
		w.u8(witnessFlag)
	}
	w.compactSize(uint64(len(t.Inputs)))
	for _, in := range t.Inputs {
		w.Write(in.PrevTxID[:])
		w.u32(in.Vout)
		w.varBytes(in.ScriptSig)
		w.u32(in.Sequence)
	}
	w.compactSize(uint64(len(t.Outputs)))
	for _, out := range t.Outputs {
		writeOutput(&w, out)
	}
	if withWitness {
		for _, in := range t.Inputs {
			w.compactSize(uint64(len(in.Witness)))
			for _, item := range in.Witness {
				w.varBytes(item)
			}
		}
	}
	w.u32(t.LockTime)
	return w.Bytes()
}

// Bytes is the full network serialization including witnesses.
func (t *Transaction) Bytes() []byte { return t.serialize(true) }

// Hex is the hex form of Bytes, as accepted by sendrawtransaction.
func (t *Transaction) Hex() string { return hex.EncodeToString(t.Bytes()) }

// TxID is the display-order hash of the witness-stripped serialization.
func (t *Transaction) TxID() string {
	return chainhash.DoubleHashH(t.serialize(false)).String()
}

// VirtualSize is ceil(weight / 4), weight = 3·base + total.
func (t *Transaction) VirtualSize() int {
	base := len(t.serialize(false))
	total := len(t.serialize(true))
	weight := base*(witnessScale-1) + total
	return (weight + witnessScale - 1) / witnessScale
}

// DecodeTransaction parses the network serialization.
func DecodeTransaction(b []byte) (*Transaction, error) {
	r := newReader(b)
	t := &Transaction{Version: int32(r.u32())}

	count := r.compactSize()
	segwit := false
	if count == 0 && r.err == nil {
		if flag := r.u8(); flag != witnessFlag {
			return nil, fmt.Errorf("%w: witness flag %#02x", ErrInvalidTx, flag)
		}
		segwit = true
		count = r.compactSize()
	}
	if count > maxVectorItems {
		return nil, fmt.Errorf("%w: %d inputs", ErrInvalidTx, count)
	}
	for i := uint64(0); i < count && r.err == nil; i++ {
		in := &TxIn{}
		copy(in.PrevTxID[:], r.take(chainhash.HashSize))
		in.Vout = r.u32()
		in.ScriptSig = r.varBytes()
		in.Sequence = r.u32()
		t.Inputs = append(t.Inputs, in)
	}

	count = r.compactSize()
	if count > maxVectorItems {
		return nil, fmt.Errorf("%w: %d outputs", ErrInvalidTx, count)
	}
	for i := uint64(0); i < count && r.err == nil; i++ {
		out := &TxOut{Value: r.u64(), Script: r.varBytes()}
		out.TokenID = uint32(r.varInt())
		t.Outputs = append(t.Outputs, out)
	}

	if segwit {
		for _, in := range t.Inputs {
			items := r.compactSize()
			if items > maxVectorItems {
				return nil, fmt.Errorf("%w: %d witness items", ErrInvalidTx, items)
			}
			for j := uint64(0); j < items && r.err == nil; j++ {
				in.Witness = append(in.Witness, r.varBytes())
			}
		}
	}
	t.LockTime = r.u32()

	if r.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTx, r.err)
	}
	if !r.done() {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidTx, len(b)-r.off)
	}
	return t, nil
}

// hashFromHex parses a display-order (byte-reversed) 32-byte hash.
func hashFromHex(s string) (chainhash.Hash, error) {
	var h chainhash.Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("%w: %w", ErrInvalidTxID, err)
	}
	if len(raw) != chainhash.HashSize {
		return h, fmt.Errorf("%w: %d bytes", ErrInvalidTxID, len(raw))
	}
	for i := range raw {
		h[chainhash.HashSize-1-i] = raw[i]
	}
	return h, nil
}
