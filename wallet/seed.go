// Package wallet turns the stored seed into DeFiChain signing keys and
// converts between addresses and locking scripts.
//
// Accounts follow the light-wallet layout m/1129/0/0/{index}; the account
// whose native segwit address matches the configured address signs.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/bsv-blockchain/go-sdk/compat/bip39"
	"golang.org/x/crypto/argon2"
)

const (
	Mnemonic12Words = 128
	Mnemonic24Words = 256

	// Argon2id parameters for the sealed seed parameter.
	Argon2Time        = 3
	Argon2Memory      = 64 * 1024
	Argon2Parallelism = 4
	Argon2KeyLen      = 32

	SaltLen     = 16
	NonceLen    = 12
	ChecksumLen = 4
)

// GenerateMnemonic creates a new mnemonic with 128 or 256 bits of entropy.
func GenerateMnemonic(entropyBits int) (string, error) {
	if entropyBits != Mnemonic12Words && entropyBits != Mnemonic24Words {
		return "", ErrInvalidEntropy
	}
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", fmt.Errorf("wallet: entropy: %w", err)
	}
	m, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("wallet: mnemonic: %w", err)
	}
	return m, nil
}

// ValidateMnemonic checks a mnemonic against the BIP39 word list and checksum.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// SeedFromMnemonic derives the 64-byte BIP39 seed.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !ValidateMnemonic(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("wallet: seed: %w", err)
	}
	return seed, nil
}

// SealWords encrypts seed words for storage in the parameter store.
func SealWords(words []string, password string) ([]byte, error) {
	return Seal([]byte(strings.Join(words, " ")), password)
}

// OpenWords decrypts what SealWords produced.
func OpenWords(sealed []byte, password string) ([]string, error) {
	plain, err := Open(sealed, password)
	if err != nil {
		return nil, err
	}
	return SplitSeed(string(plain)), nil
}

// Seal encrypts secret as salt || nonce || AES-256-GCM(secret || sha256(secret)[:4])
// under an Argon2id key derived from password.
func Seal(secret []byte, password string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidSeed
	}
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("wallet: salt: %w", err)
	}
	aead, err := newAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("wallet: nonce: %w", err)
	}
	sum := sha256.Sum256(secret)
	plain := append(append([]byte{}, secret...), sum[:ChecksumLen]...)

	out := append(salt, nonce...)
	return aead.Seal(out, nonce, plain, nil), nil
}

// Open reverses Seal.
func Open(sealed []byte, password string) ([]byte, error) {
	if len(sealed) < SaltLen+NonceLen+ChecksumLen {
		return nil, ErrDecryptionFailed
	}
	salt, nonce, body := sealed[:SaltLen], sealed[SaltLen:SaltLen+NonceLen], sealed[SaltLen+NonceLen:]
	aead, err := newAEAD(password, salt)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plain, err := aead.Open(nil, nonce, body, nil)
	if err != nil || len(plain) < ChecksumLen {
		return nil, ErrDecryptionFailed
	}
	secret, check := plain[:len(plain)-ChecksumLen], plain[len(plain)-ChecksumLen:]
	sum := sha256.Sum256(secret)
	if subtle.ConstantTimeCompare(sum[:ChecksumLen], check) != 1 {
		return nil, ErrChecksumMismatch
	}
	return secret, nil
}

func newAEAD(password string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(password), salt, Argon2Time, Argon2Memory, Argon2Parallelism, Argon2KeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("wallet: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
