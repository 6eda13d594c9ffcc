package wallet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mainnetSegwit = "df1qqtlz4uw9w5s4pupwgucv4shl6atqw7xlz2wn07"
	testnetP2SH   = "tZ1GuasY57oin5cej1Wp3MA1pAE4y3tmzq"
)

func TestAddressToScript_Bech32RoundTrip(t *testing.T) {
	s, err := AddressToScript(mainnetSegwit, &MainNet)
	require.NoError(t, err)
	require.Len(t, s, 22)

	typ, hash := ClassifyScript(s)
	assert.Equal(t, ScriptP2WPKH, typ)
	assert.Len(t, hash, 20)

	back, err := ScriptToAddress(s, &MainNet)
	require.NoError(t, err)
	assert.Equal(t, mainnetSegwit, back)
}

func TestAddressToScript_Base58RoundTrip(t *testing.T) {
	s, err := AddressToScript(testnetP2SH, &TestNet)
	require.NoError(t, err)

	typ, _ := ClassifyScript(s)
	assert.Equal(t, ScriptP2SH, typ)

	back, err := ScriptToAddress(s, &TestNet)
	require.NoError(t, err)
	assert.Equal(t, testnetP2SH, back)
}

func TestAddressToScript_WrongNetwork(t *testing.T) {
	_, err := AddressToScript(testnetP2SH, &MainNet)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = AddressToScript(strings.Replace(mainnetSegwit, "df1", "tf1", 1), &TestNet)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestAddressToScript_Garbage(t *testing.T) {
	for _, in := range []string{"", "wallet", "df1qqqqq", "1111111111"} {
		_, err := AddressToScript(in, &MainNet)
		assert.ErrorIs(t, err, ErrInvalidAddress, in)
	}
}

func TestP2PKHScriptShape(t *testing.T) {
	hash := make([]byte, 20)
	hash[0] = 0xaa
	s, err := P2PKHScript(hash)
	require.NoError(t, err)
	typ, got := ClassifyScript(s)
	assert.Equal(t, ScriptP2PKH, typ)
	assert.Equal(t, hash, got)

	addr, err := ScriptToAddress(s, &MainNet)
	require.NoError(t, err)
	s2, err := AddressToScript(addr, &MainNet)
	require.NoError(t, err)
	assert.Equal(t, s, s2)
}

func TestScriptToAddress_Unsupported(t *testing.T) {
	_, err := ScriptToAddress([]byte{0x6a, 0x01, 0x02}, &MainNet)
	assert.ErrorIs(t, err, ErrUnsupportedScript)
}

func TestShortAddress(t *testing.T) {
	assert.Equal(t, "df1qqt...z2wn07", ShortAddress(mainnetSegwit))
	assert.Equal(t, "short", ShortAddress("short"))
}
