// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// scheduleParser accepts the six-field schedules the daemon runs with.
var scheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateConfig checks the bootstrap configuration. All problems are
// reported together.
func ValidateConfig(cfg Config) error {
	var errs []error
	if strings.TrimSpace(cfg.DataDir) == "" {
		errs = append(errs, ErrEmptyDataDir)
	}
	if _, ok := networks[cfg.Network]; !ok {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidNetwork, cfg.Network))
	}
	if !cfg.Bot.Valid() {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidBotKind, cfg.Bot))
	}
	if cfg.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidListenAddr, err))
		}
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogLevel, cfg.LogLevel))
	}
	if cfg.MaxRuntime <= 0 {
		errs = append(errs, ErrInvalidRuntime)
	}
	if cfg.PegReference <= 0 || cfg.MinPegDiff < 0 {
		errs = append(errs, fmt.Errorf("%w: %v/%v", ErrInvalidPeg, cfg.PegReference, cfg.MinPegDiff))
	}
	if cfg.RPC.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidTimeout, cfg.RPC.Timeout))
	}
	if _, err := scheduleParser.Parse(cfg.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidSchedule, err))
	}
	return errors.Join(errs...)
}

var networks = map[string]struct{}{"mainnet": {}, "testnet": {}, "regtest": {}}
