package wallet

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
	bsvhash "github.com/bsv-blockchain/go-sdk/primitives/hash"
	"github.com/bsv-blockchain/go-sdk/script"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// ScriptType classifies the standard locking scripts the bots use.
type ScriptType int

const (
	ScriptUnknown ScriptType = iota
	ScriptP2PKH
	ScriptP2SH
	ScriptP2WPKH
	ScriptP2WSH
)

// AddressToScript decodes a DeFiChain address into its locking script.
func AddressToScript(address string, net *NetworkConfig) ([]byte, error) {
	if net == nil {
		net = &MainNet
	}
	if strings.HasPrefix(strings.ToLower(address), net.Bech32HRP+"1") {
		return segwitScript(address, net)
	}

	payload, version, err := base58.CheckDecode(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidAddress, address, err)
	}
	if len(payload) != 20 {
		return nil, fmt.Errorf("%w: %s: hash length %d", ErrInvalidAddress, address, len(payload))
	}
	switch version {
	case net.PubKeyHashVersion:
		return P2PKHScript(payload)
	case net.ScriptHashVersion:
		s := &script.Script{}
		_ = s.AppendOpcodes(script.OpHASH160)
		if err := s.AppendPushData(payload); err != nil {
			return nil, err
		}
		_ = s.AppendOpcodes(script.OpEQUAL)
		return []byte(*s), nil
	}
	return nil, fmt.Errorf("%w: %s: version 0x%02x not on %s", ErrInvalidAddress, address, version, net.Name)
}

func segwitScript(address string, net *NetworkConfig) ([]byte, error) {
	hrp, data, err := bech32.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidAddress, address, err)
	}
	if hrp != net.Bech32HRP || len(data) < 1 {
		return nil, fmt.Errorf("%w: %s: wrong prefix", ErrInvalidAddress, address)
	}
	if data[0] != 0 {
		return nil, fmt.Errorf("%w: %s: witness version %d", ErrInvalidAddress, address, data[0])
	}
	program, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidAddress, address, err)
	}
	if len(program) != 20 && len(program) != 32 {
		return nil, fmt.Errorf("%w: %s: program length %d", ErrInvalidAddress, address, len(program))
	}
	return witnessScript(program)
}

// P2PKHScript returns OP_DUP OP_HASH160 <hash> OP_EQUALVERIFY OP_CHECKSIG.
func P2PKHScript(pubKeyHash []byte) ([]byte, error) {
	s := &script.Script{}
	_ = s.AppendOpcodes(script.OpDUP, script.OpHASH160)
	if err := s.AppendPushData(pubKeyHash); err != nil {
		return nil, err
	}
	_ = s.AppendOpcodes(script.OpEQUALVERIFY, script.OpCHECKSIG)
	return []byte(*s), nil
}

// P2WPKHScript returns OP_0 <hash160(pubkey)>.
func P2WPKHScript(pub *ec.PublicKey) ([]byte, error) {
	return witnessScript(bsvhash.Hash160(pub.Compressed()))
}

func witnessScript(program []byte) ([]byte, error) {
	s := &script.Script{}
	_ = s.AppendOpcodes(script.Op0)
	if err := s.AppendPushData(program); err != nil {
		return nil, err
	}
	return []byte(*s), nil
}

// ClassifyScript returns the script type and the embedded hash.
func ClassifyScript(s []byte) (ScriptType, []byte) {
	switch {
	case len(s) == 22 && s[0] == script.Op0 && s[1] == 20:
		return ScriptP2WPKH, s[2:]
	case len(s) == 34 && s[0] == script.Op0 && s[1] == 32:
		return ScriptP2WSH, s[2:]
	case len(s) == 25 && s[0] == script.OpDUP && s[1] == script.OpHASH160 && s[2] == 20 &&
		s[23] == script.OpEQUALVERIFY && s[24] == script.OpCHECKSIG:
		return ScriptP2PKH, s[3:23]
	case len(s) == 23 && s[0] == script.OpHASH160 && s[1] == 20 && s[22] == script.OpEQUAL:
		return ScriptP2SH, s[2:22]
	}
	return ScriptUnknown, nil
}

// ScriptToAddress is the inverse of AddressToScript.
func ScriptToAddress(s []byte, net *NetworkConfig) (string, error) {
	if net == nil {
		net = &MainNet
	}
	typ, hash := ClassifyScript(s)
	switch typ {
	case ScriptP2PKH:
		return base58.CheckEncode(hash, net.PubKeyHashVersion), nil
	case ScriptP2SH:
		return base58.CheckEncode(hash, net.ScriptHashVersion), nil
	case ScriptP2WPKH, ScriptP2WSH:
		conv, err := bech32.ConvertBits(hash, 8, 5, true)
		if err != nil {
			return "", err
		}
		return bech32.Encode(net.Bech32HRP, append([]byte{0}, conv...))
	}
	return "", ErrUnsupportedScript
}

// P2WPKHAddress returns the native segwit address of pub.
func P2WPKHAddress(pub *ec.PublicKey, net *NetworkConfig) (string, error) {
	s, err := P2WPKHScript(pub)
	if err != nil {
		return "", err
	}
	return ScriptToAddress(s, net)
}

// ShortAddress abbreviates an address or vault id for chat messages.
func ShortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-6:]
}
