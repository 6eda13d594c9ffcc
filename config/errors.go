// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import "errors"

// Bootstrap configuration errors.
var (
	ErrConfigNotFound    = errors.New("config: configuration file not found")
	ErrEmptyDataDir      = errors.New("config: data directory must not be empty")
	ErrInvalidNetwork    = errors.New("config: network must be mainnet, testnet or regtest")
	ErrInvalidBotKind    = errors.New("config: bot must be maxi, reinvest or balancer")
	ErrInvalidListenAddr = errors.New("config: invalid listen address")
	ErrInvalidLogLevel   = errors.New("config: log level must be debug, info, warn or error")
	ErrInvalidRuntime    = errors.New("config: max runtime must be positive")
	ErrInvalidTimeout    = errors.New("config: rpc timeout must not be negative")
	ErrInvalidSchedule   = errors.New("config: invalid cron schedule")
	ErrInvalidPeg        = errors.New("config: dusd peg reference must be positive and the minimum difference not negative")
)

// Settings errors.
var (
	// ErrMissingPayload means the settings lack the section of their bot kind.
	ErrMissingPayload = errors.New("config: settings payload missing for bot kind")

	// ErrMissingAddress means the settings carry no wallet address.
	ErrMissingAddress = errors.New("config: wallet address not set")
)
