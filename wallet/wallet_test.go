package wallet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic24 = "abandon abandon abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon abandon abandon art"

func testWallet(t *testing.T, net *NetworkConfig) *Wallet {
	t.Helper()
	w, err := FromWords(strings.Fields(testMnemonic24), net)
	require.NoError(t, err)
	return w
}

// --- Mnemonic tests ---

func TestGenerateMnemonic(t *testing.T) {
	m, err := GenerateMnemonic(Mnemonic24Words)
	require.NoError(t, err)
	assert.Len(t, strings.Fields(m), 24)
	assert.True(t, ValidateMnemonic(m))

	_, err = GenerateMnemonic(64)
	assert.ErrorIs(t, err, ErrInvalidEntropy)
}

func TestSeedFromMnemonic(t *testing.T) {
	s1, err := SeedFromMnemonic(testMnemonic24, "")
	require.NoError(t, err)
	assert.Len(t, s1, 64)

	s2, err := SeedFromMnemonic(testMnemonic24, "")
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	_, err = SeedFromMnemonic("foo bar", "")
	assert.ErrorIs(t, err, ErrInvalidMnemonic)
}

// --- Sealing tests ---

func TestSealOpenWords_RoundTrip(t *testing.T) {
	words := strings.Fields(testMnemonic24)
	sealed, err := SealWords(words, "hunter2")
	require.NoError(t, err)

	opened, err := OpenWords(sealed, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, words, opened)
}

func TestOpen_WrongPassword(t *testing.T) {
	sealed, err := Seal([]byte("secret words"), "right")
	require.NoError(t, err)
	_, err = Open(sealed, "wrong")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestOpen_TooShort(t *testing.T) {
	_, err := Open([]byte{1, 2, 3}, "x")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestSeal_Empty(t *testing.T) {
	_, err := Seal(nil, "x")
	assert.ErrorIs(t, err, ErrInvalidSeed)
}

func TestSeal_FreshSaltEachTime(t *testing.T) {
	a, err := Seal([]byte("same"), "pw")
	require.NoError(t, err)
	b, err := Seal([]byte("same"), "pw")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSplitSeed(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitSeed(" a, b  c,"))
	assert.Empty(t, SplitSeed(""))
}

// --- Derivation tests ---

func TestFromWords_RejectsWrongLength(t *testing.T) {
	_, err := FromWords([]string{"abandon", "abandon"}, &MainNet)
	assert.ErrorIs(t, err, ErrInvalidSeedWords)
}

func TestDeriveAccount_DeterministicAndDistinct(t *testing.T) {
	w := testWallet(t, &MainNet)

	k0, err := w.DeriveAccount(0)
	require.NoError(t, err)
	again, err := w.DeriveAccount(0)
	require.NoError(t, err)
	k1, err := w.DeriveAccount(1)
	require.NoError(t, err)

	assert.Equal(t, "m/1129/0/0/0", k0.Path)
	assert.Equal(t, k0.Address, again.Address)
	assert.NotEqual(t, k0.Address, k1.Address)
	assert.True(t, strings.HasPrefix(k0.Address, "df1q"))
}

func TestDeriveAccount_TestnetPrefix(t *testing.T) {
	w := testWallet(t, &TestNet)
	k, err := w.DeriveAccount(0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(k.Address, "tf1q"))
}

func TestFindAccount(t *testing.T) {
	w := testWallet(t, &MainNet)
	k3, err := w.DeriveAccount(3)
	require.NoError(t, err)

	found, err := w.FindAccount(k3.Address, 10)
	require.NoError(t, err)
	assert.Equal(t, k3.Path, found.Path)

	_, err = w.FindAccount(k3.Address, 2)
	assert.ErrorIs(t, err, ErrAddressNotOwned)
}

func TestWIFWallet(t *testing.T) {
	hd := testWallet(t, &MainNet)
	k, err := hd.DeriveAccount(0)
	require.NoError(t, err)

	wif := EncodeWIF(k.PrivateKey, &MainNet)
	w, err := FromWords([]string{wif}, &MainNet)
	require.NoError(t, err)

	found, err := w.FindAccount(k.Address, 0)
	require.NoError(t, err)
	assert.Equal(t, k.Address, found.Address)

	_, err = w.DeriveAccount(1)
	assert.ErrorIs(t, err, ErrDerivationFailed)

	_, err = DecodeWIF(wif, &TestNet)
	assert.ErrorIs(t, err, ErrInvalidWIF)
}

// --- Network tests ---

func TestGetNetwork(t *testing.T) {
	n, err := GetNetwork("testnet")
	require.NoError(t, err)
	assert.Equal(t, "tf", n.Bech32HRP)

	_, err = GetNetwork("devnet")
	assert.ErrorIs(t, err, ErrInvalidNetwork)
}

func TestGuessNetwork(t *testing.T) {
	assert.Equal(t, "testnet", GuessNetwork("tf1qxyz").Name)
	assert.Equal(t, "regtest", GuessNetwork("bcrt1qxyz").Name)
	assert.Equal(t, "mainnet", GuessNetwork("df1qxyz").Name)
	assert.Equal(t, "mainnet", GuessNetwork("8abc").Name)
	assert.True(t, TestNet.IsTestnet())
	assert.False(t, MainNet.IsTestnet())
}
