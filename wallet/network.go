package wallet

import (
	"fmt"
	"strings"
)

// NetworkConfig holds the DeFiChain address and key prefixes of a network.
type NetworkConfig struct {
	Name              string
	PubKeyHashVersion byte
	ScriptHashVersion byte
	Bech32HRP         string
	WIFVersion        byte
	RPCPort           uint16
}

// Predefined DeFiChain networks.
var (
	MainNet = NetworkConfig{
		Name:              "mainnet",
		PubKeyHashVersion: 0x12,
		ScriptHashVersion: 0x5a,
		Bech32HRP:         "df",
		WIFVersion:        0x80,
		RPCPort:           8554,
	}

	TestNet = NetworkConfig{
		Name:              "testnet",
		PubKeyHashVersion: 0x0f,
		ScriptHashVersion: 0x80,
		Bech32HRP:         "tf",
		WIFVersion:        0xef,
		RPCPort:           18554,
	}

	RegTest = NetworkConfig{
		Name:              "regtest",
		PubKeyHashVersion: 0x6f,
		ScriptHashVersion: 0xc4,
		Bech32HRP:         "bcrt",
		WIFVersion:        0xef,
		RPCPort:           19554,
	}
)

var predefined = map[string]*NetworkConfig{
	"mainnet": &MainNet,
	"testnet": &TestNet,
	"regtest": &RegTest,
}

// GetNetwork returns a predefined network by name.
func GetNetwork(name string) (*NetworkConfig, error) {
	if n, ok := predefined[name]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidNetwork, name)
}

// GuessNetwork infers the network from a bech32 address prefix and falls
// back to mainnet.
func GuessNetwork(address string) *NetworkConfig {
	switch {
	case strings.HasPrefix(address, TestNet.Bech32HRP+"1"):
		return &TestNet
	case strings.HasPrefix(address, RegTest.Bech32HRP+"1"):
		return &RegTest
	default:
		return &MainNet
	}
}

// IsTestnet reports whether n is not mainnet.
func (n *NetworkConfig) IsTestnet() bool { return n.Name != MainNet.Name }
