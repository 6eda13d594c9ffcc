package wallet

import "errors"

var (
	// ErrInvalidMnemonic indicates the mnemonic fails BIP39 validation.
	ErrInvalidMnemonic = errors.New("wallet: invalid BIP39 mnemonic")

	// ErrInvalidEntropy indicates entropy bits is not 128 or 256.
	ErrInvalidEntropy = errors.New("wallet: entropy bits must be 128 or 256")

	// ErrInvalidSeedWords indicates the seed is neither 24 words nor a single WIF key.
	ErrInvalidSeedWords = errors.New("wallet: seed must be 24 words or a single WIF key")

	// ErrInvalidWIF indicates a malformed or wrong-network WIF private key.
	ErrInvalidWIF = errors.New("wallet: invalid WIF private key")

	// ErrDecryptionFailed indicates wrong password or corrupted ciphertext.
	ErrDecryptionFailed = errors.New("wallet: decryption failed (wrong password or corrupted data)")

	// ErrChecksumMismatch indicates checksum verification failed after decryption.
	ErrChecksumMismatch = errors.New("wallet: checksum mismatch")

	// ErrInvalidNetwork indicates an unknown network name.
	ErrInvalidNetwork = errors.New("wallet: invalid network name")

	// ErrInvalidSeed indicates the seed is empty.
	ErrInvalidSeed = errors.New("wallet: invalid seed")

	// ErrDerivationFailed indicates BIP32 key derivation failed.
	ErrDerivationFailed = errors.New("wallet: key derivation failed")

	// ErrInvalidAddress indicates an address that does not decode for the network.
	ErrInvalidAddress = errors.New("wallet: invalid address")

	// ErrUnsupportedScript indicates a script with no address form.
	ErrUnsupportedScript = errors.New("wallet: unsupported script type")

	// ErrAddressNotOwned indicates no derived key controls the address.
	ErrAddressNotOwned = errors.New("wallet: address not controlled by seed")
)
