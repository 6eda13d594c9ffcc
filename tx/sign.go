package tx

import (
	"bytes"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	bsvhash "github.com/bsv-blockchain/go-sdk/primitives/hash"
	"github.com/bsv-blockchain/go-sdk/script"
)

// p2wpkhProgramLen is OP_0 <20-byte hash>.
const p2wpkhProgramLen = 22

// witnessHash160 returns the key hash of a P2WPKH locking script.
func witnessHash160(lockingScript []byte) ([]byte, bool) {
	if len(lockingScript) != p2wpkhProgramLen || lockingScript[0] != script.Op0 || lockingScript[1] != 0x14 {
		return nil, false
	}
	return lockingScript[2:], true
}

// SignatureHash computes the segwit v0 signature digest of input idx
// spending a P2WPKH output worth amount. Outputs are hashed with their
// token ids.
func SignatureHash(t *Transaction, idx int, keyHash []byte, amount uint64) ([]byte, error) {
	if idx < 0 || idx >= len(t.Inputs) {
		return nil, fmt.Errorf("%w: input %d of %d", ErrSigningFailed, idx, len(t.Inputs))
	}

	var prevouts, sequences, outputs writer
	for _, in := range t.Inputs {
		prevouts.Write(in.PrevTxID[:])
		prevouts.u32(in.Vout)
		sequences.u32(in.Sequence)
	}
	for _, out := range t.Outputs {
		writeOutput(&outputs, out)
	}

	scriptCode := &script.Script{}
	*scriptCode = append(*scriptCode, script.OpDUP, script.OpHASH160)
	if err := scriptCode.AppendPushData(keyHash); err != nil {
		return nil, fmt.Errorf("%w: script code: %w", ErrSigningFailed, err)
	}
	*scriptCode = append(*scriptCode, script.OpEQUALVERIFY, script.OpCHECKSIG)

	in := t.Inputs[idx]
	var pre writer
	pre.u32(uint32(t.Version))
	pre.Write(chainhash.DoubleHashB(prevouts.Bytes()))
	pre.Write(chainhash.DoubleHashB(sequences.Bytes()))
	pre.Write(in.PrevTxID[:])
	pre.u32(in.Vout)
	pre.varBytes(*scriptCode)
	pre.u64(amount)
	pre.u32(in.Sequence)
	pre.Write(chainhash.DoubleHashB(outputs.Bytes()))
	pre.u32(t.LockTime)
	pre.u32(SighashAll)
	return chainhash.DoubleHashB(pre.Bytes()), nil
}

// SignP2WPKH signs every input with key. prevouts[i] describes the output
// spent by input i and must be a P2WPKH output of key.
func SignP2WPKH(t *Transaction, prevouts []Prevout, key *ec.PrivateKey) error {
	if t == nil || key == nil {
		return fmt.Errorf("%w: transaction or key", ErrNilParam)
	}
	if len(prevouts) != len(t.Inputs) {
		return fmt.Errorf("%w: have %d prevouts for %d inputs", ErrSigningFailed, len(prevouts), len(t.Inputs))
	}
	pub := key.PubKey().Compressed()
	ownHash := bsvhash.Hash160(pub)

	for i, prev := range prevouts {
		keyHash, ok := witnessHash160(prev.Script)
		if !ok || !bytes.Equal(keyHash, ownHash) {
			return fmt.Errorf("%w: input %d (%s:%d)", ErrUnsupportedInput, i, prev.TxID, prev.Vout)
		}
		digest, err := SignatureHash(t, i, keyHash, prev.Amount)
		if err != nil {
			return err
		}
		sig, err := key.Sign(digest)
		if err != nil {
			return fmt.Errorf("%w: input %d: %w", ErrSigningFailed, i, err)
		}
		t.Inputs[i].ScriptSig = nil
		t.Inputs[i].Witness = [][]byte{append(sig.Serialize(), SighashAll), pub}
	}
	return nil
}
