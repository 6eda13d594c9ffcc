// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"fmt"

	"github.com/defichain-maxi/maxi-go/state"
)

// BotKind selects which bot a process runs and which settings payload
// applies.
type BotKind string

const (
	BotMaxi     BotKind = "maxi"
	BotReinvest BotKind = "reinvest"
	BotBalancer BotKind = "balancer"
)

// Valid reports whether k is a known bot kind.
func (k BotKind) Valid() bool {
	switch k {
	case BotMaxi, BotReinvest, BotBalancer:
		return true
	}
	return false
}

// Telegram holds the two notification channels. Either pair may be empty.
type Telegram struct {
	ChatID    string
	Token     string
	LogChatID string
	LogToken  string
}

// Common carries the fields every bot reads from the store.
type Common struct {
	Address      string
	Vault        string
	Seed         []string
	Telegram     Telegram
	Postfix      string
	HeartbeatURL string
	SkipNext     bool
	State        state.Info
}

// ReinvestConfig is shared by the maxi and the reinvest bot.
type ReinvestConfig struct {
	// Threshold in DFI; zero or negative disables reinvesting.
	Threshold           float64
	Pattern             string
	AutoDonationPercent float64
}

// MaxiSettings is the vault maximizer payload.
type MaxiSettings struct {
	MinCollateralRatio  float64
	MaxCollateralRatio  float64
	LMPair              string
	MainCollateralAsset string
	StableArbBatchSize  float64
	KeepWalletClean     bool
	MinValueForCleanup  float64
	Reinvest            ReinvestConfig
}

// ReinvestSettings is the liquidity-mining reinvest bot payload.
type ReinvestSettings struct {
	LMPair   string
	Reinvest ReinvestConfig
}

// BalancerSettings is the portfolio balancer payload.
type BalancerSettings struct {
	// RebalanceThreshold is the tolerated deviation in percentage points.
	RebalanceThreshold float64
	PortfolioPattern   string
}

// Settings is one bot's full settings record: shared fields plus exactly
// the payload selected by Kind.
type Settings struct {
	Kind BotKind
	Common
	Maxi     *MaxiSettings
	Reinvest *ReinvestSettings
	Balancer *BalancerSettings
}

// DefaultMaxiSettings returns the maxi defaults applied to unset keys.
func DefaultMaxiSettings() MaxiSettings {
	return MaxiSettings{
		MinCollateralRatio:  200,
		MaxCollateralRatio:  250,
		LMPair:              "GLD-DUSD",
		MainCollateralAsset: "DFI",
		StableArbBatchSize:  -1,
		KeepWalletClean:     true,
		MinValueForCleanup:  1,
	}
}

// DefaultReinvestSettings returns the reinvest bot defaults.
func DefaultReinvestSettings() ReinvestSettings {
	return ReinvestSettings{LMPair: "GLD-DUSD"}
}

// DefaultBalancerSettings returns the balancer defaults.
func DefaultBalancerSettings() BalancerSettings {
	return BalancerSettings{RebalanceThreshold: 5}
}

// Validate checks that the payload matching Kind is present and that an
// address is configured.
func (s *Settings) Validate() error {
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidBotKind, s.Kind)
	}
	var present bool
	switch s.Kind {
	case BotMaxi:
		present = s.Maxi != nil
	case BotReinvest:
		present = s.Reinvest != nil
	case BotBalancer:
		present = s.Balancer != nil
	}
	if !present {
		return fmt.Errorf("%w: %s", ErrMissingPayload, s.Kind)
	}
	if s.Address == "" {
		return ErrMissingAddress
	}
	return nil
}

// ReinvestConfig returns the reinvest section for bots that have one.
func (s *Settings) ReinvestConfig() (ReinvestConfig, bool) {
	switch {
	case s.Kind == BotMaxi && s.Maxi != nil:
		return s.Maxi.Reinvest, true
	case s.Kind == BotReinvest && s.Reinvest != nil:
		return s.Reinvest.Reinvest, true
	}
	return ReinvestConfig{}, false
}
