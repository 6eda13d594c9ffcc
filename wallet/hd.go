package wallet

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	bip32 "github.com/bsv-blockchain/go-sdk/compat/bip32"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	chaincfg "github.com/bsv-blockchain/go-sdk/transaction/chaincfg"
)

const (
	// PurposeDeFi is the first path element of DeFiChain light wallets.
	PurposeDeFi = 1129

	// SeedWords is the number of mnemonic words a wallet seed must have.
	SeedWords = 24

	// DefaultDiscoveryLimit is how many account indices FindAccount tries.
	DefaultDiscoveryLimit = 20
)

// Wallet derives DeFiChain account keys from a BIP39 seed, or wraps a
// single imported private key.
type Wallet struct {
	master *bip32.ExtendedKey
	single *ec.PrivateKey
	net    *NetworkConfig
}

// KeyPair is one derived account key with its native segwit address.
type KeyPair struct {
	PrivateKey *ec.PrivateKey
	PublicKey  *ec.PublicKey
	Path       string
	Address    string
}

// NewWallet creates a Wallet from a BIP39 seed.
func NewWallet(seed []byte, net *NetworkConfig) (*Wallet, error) {
	if len(seed) == 0 {
		return nil, ErrInvalidSeed
	}
	if net == nil {
		net = &MainNet
	}
	params := &chaincfg.TestNet
	if net.Name == MainNet.Name {
		params = &chaincfg.MainNet
	}
	master, err := bip32.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	return &Wallet{master: master, net: net}, nil
}

// FromWords builds a Wallet from the stored seed parameter: 24 mnemonic
// words, or a single WIF-encoded private key.
func FromWords(words []string, net *NetworkConfig) (*Wallet, error) {
	if net == nil {
		net = &MainNet
	}
	switch len(words) {
	case 1:
		priv, err := DecodeWIF(words[0], net)
		if err != nil {
			return nil, err
		}
		return &Wallet{single: priv, net: net}, nil
	case SeedWords:
		seed, err := SeedFromMnemonic(strings.Join(words, " "), "")
		if err != nil {
			return nil, err
		}
		return NewWallet(seed, net)
	}
	return nil, fmt.Errorf("%w: got %d words", ErrInvalidSeedWords, len(words))
}

// SplitSeed normalises a stored seed string ("w1, w2 w3") into words.
func SplitSeed(raw string) []string {
	return strings.Fields(strings.ReplaceAll(raw, ",", " "))
}

// Network returns the wallet's network.
func (w *Wallet) Network() *NetworkConfig { return w.net }

// DeriveAccount derives the key at m/1129/0/0/index.
func (w *Wallet) DeriveAccount(index uint32) (*KeyPair, error) {
	if w.single != nil {
		if index != 0 {
			return nil, fmt.Errorf("%w: imported key has only index 0", ErrDerivationFailed)
		}
		return w.keyPair(w.single, "wif")
	}
	key := w.master
	for depth, child := range []uint32{PurposeDeFi, 0, 0, index} {
		next, err := key.Child(child)
		if err != nil {
			return nil, fmt.Errorf("%w: depth %d: %w", ErrDerivationFailed, depth, err)
		}
		key = next
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	return w.keyPair(priv, fmt.Sprintf("m/%d/0/0/%d", PurposeDeFi, index))
}

func (w *Wallet) keyPair(priv *ec.PrivateKey, path string) (*KeyPair, error) {
	pub := priv.PubKey()
	addr, err := P2WPKHAddress(pub, w.net)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	return &KeyPair{PrivateKey: priv, PublicKey: pub, Path: path, Address: addr}, nil
}

// FindAccount searches the first limit account indices for the key that
// controls address. It returns ErrAddressNotOwned when none matches, in
// which case the bot runs without signing.
func (w *Wallet) FindAccount(address string, limit int) (*KeyPair, error) {
	if limit <= 0 {
		limit = DefaultDiscoveryLimit
	}
	if w.single != nil {
		limit = 1
	}
	for i := 0; i < limit; i++ {
		kp, err := w.DeriveAccount(uint32(i))
		if err != nil {
			return nil, err
		}
		if kp.Address == address {
			return kp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAddressNotOwned, address)
}

// DecodeWIF parses a compressed or uncompressed WIF key for net.
func DecodeWIF(wif string, net *NetworkConfig) (*ec.PrivateKey, error) {
	payload, version, err := base58.CheckDecode(wif)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWIF, err)
	}
	if version != net.WIFVersion {
		return nil, fmt.Errorf("%w: version 0x%02x on %s", ErrInvalidWIF, version, net.Name)
	}
	switch {
	case len(payload) == 33 && payload[32] == 0x01:
		payload = payload[:32]
	case len(payload) != 32:
		return nil, fmt.Errorf("%w: key length %d", ErrInvalidWIF, len(payload))
	}
	priv, _ := ec.PrivateKeyFromBytes(payload)
	return priv, nil
}

// EncodeWIF is the inverse of DecodeWIF (always compressed).
func EncodeWIF(priv *ec.PrivateKey, net *NetworkConfig) string {
	return base58.CheckEncode(append(priv.Serialize(), 0x01), net.WIFVersion)
}
