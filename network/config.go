package network

import (
	"fmt"
	"time"
)

// RPCConfig holds the connection parameters of one node endpoint.
type RPCConfig struct {
	URL      string `json:"url"`
	User     string `json:"user"`
	Password string `json:"password"`
	Network  string `json:"network"`
	// Timeout bounds one call including the response body. Zero means
	// DefaultRPCTimeout.
	Timeout time.Duration `json:"timeout"`
}

// NetworkPresets holds local-node defaults. Mainnet has none so that a
// production bot never silently talks to localhost.
var NetworkPresets = map[string]RPCConfig{
	"regtest": {URL: "http://localhost:19554"},
	"testnet": {URL: "http://localhost:18554"},
}

// ResolveConfig layers preset < env (MAXI_RPC_URL, MAXI_RPC_USER,
// MAXI_RPC_PASS) < flags and fails when no URL results.
func ResolveConfig(flags *RPCConfig, env map[string]string, network string) (*RPCConfig, error) {
	result := RPCConfig{Network: network}
	if preset, ok := NetworkPresets[network]; ok {
		result = preset
		result.Network = network
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&result.URL, env["MAXI_RPC_URL"])
	set(&result.User, env["MAXI_RPC_USER"])
	set(&result.Password, env["MAXI_RPC_PASS"])
	if flags != nil {
		set(&result.URL, flags.URL)
		set(&result.User, flags.User)
		set(&result.Password, flags.Password)
		if flags.Timeout > 0 {
			result.Timeout = flags.Timeout
		}
	}
	if result.URL == "" {
		return nil, fmt.Errorf("%w: %s has no default node, set rpc.url or MAXI_RPC_URL", ErrNoEndpoints, network)
	}
	return &result, nil
}
