// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config holds the process bootstrap configuration (where the
// store lives, which node to talk to, how to log) and the per-bot settings
// records that the store hands to each bot.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the bootstrap configuration of one bot process.
type Config struct {
	DataDir      string        `yaml:"data_dir"`
	StorePostfix string        `yaml:"store_postfix"`
	Network      string        `yaml:"network"`
	Bot          BotKind       `yaml:"bot"`
	RPC          RPCConfig     `yaml:"rpc"`
	LogLevel     string        `yaml:"log_level"`
	ListenAddr   string        `yaml:"listen_addr"`
	Schedule     string        `yaml:"schedule"`
	MaxRuntime   time.Duration `yaml:"max_runtime"`
	StrictFees   bool          `yaml:"strict_fees"`

	// DUSD peg the maxi's stable arbitrage trades around.
	PegReference float64 `yaml:"dusd_peg_reference"`
	MinPegDiff   float64 `yaml:"dusd_min_peg_diff"`

	// SeedPasswordEnv names the environment variable holding the password
	// that unlocks the encrypted seed parameter.
	SeedPasswordEnv string `yaml:"seed_password_env"`
}

// RPCConfig lists the node endpoints. Fallbacks are tried in order after
// URL when the orchestrator rotates endpoints.
type RPCConfig struct {
	URL       string   `yaml:"url"`
	Fallbacks []string `yaml:"fallbacks,omitempty"`
	User      string   `yaml:"user"`
	Password  string   `yaml:"password"`

	// Timeout bounds one RPC call. Zero leaves the client default.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Endpoints returns URL followed by the fallbacks, skipping blanks.
func (r RPCConfig) Endpoints() []string {
	out := make([]string, 0, 1+len(r.Fallbacks))
	for _, u := range append([]string{r.URL}, r.Fallbacks...) {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		DataDir:         DefaultDataDir(),
		Network:         "mainnet",
		Bot:             BotMaxi,
		LogLevel:        "info",
		ListenAddr:      "127.0.0.1:9108",
		Schedule:        "0 */15 * * * *",
		MaxRuntime:      15 * time.Minute,
		PegReference:    1,
		MinPegDiff:      0.01,
		SeedPasswordEnv: "MAXI_SEED_PASSWORD",
	}
}

// DefaultDataDir returns ~/.vault-maxi, or ./.vault-maxi without a home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".vault-maxi"
	}
	return filepath.Join(home, ".vault-maxi")
}

// ConfigPath returns the conventional config file location in dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// StorePath returns the bolt database file for this instance. Each store
// postfix gets its own file.
func (c Config) StorePath() string {
	return filepath.Join(c.DataDir, "maxi"+c.StorePostfix+".db")
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating the parent directory.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (a missing file is fine), then a .env file in the working directory,
// then MAXI_* environment variables.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		loaded, err := LoadConfig(path)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, ErrConfigNotFound):
		default:
			return cfg, err
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: load .env: %w", err)
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from environment variables read through lookup.
// VAULTMAXI_STORE_POSTFIX is honoured for compatibility with existing
// deployments.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("MAXI_DATA_DIR", &cfg.DataDir)
	str("VAULTMAXI_STORE_POSTFIX", &cfg.StorePostfix)
	str("MAXI_STORE_POSTFIX", &cfg.StorePostfix)
	str("MAXI_NETWORK", &cfg.Network)
	str("MAXI_RPC_URL", &cfg.RPC.URL)
	str("MAXI_RPC_USER", &cfg.RPC.User)
	str("MAXI_RPC_PASS", &cfg.RPC.Password)
	str("MAXI_LOG_LEVEL", &cfg.LogLevel)
	str("MAXI_LISTEN_ADDR", &cfg.ListenAddr)
	str("MAXI_SCHEDULE", &cfg.Schedule)
	str("MAXI_SEED_PASSWORD_ENV", &cfg.SeedPasswordEnv)

	if v, ok := lookup("MAXI_BOT"); ok && v != "" {
		cfg.Bot = BotKind(v)
	}
	if v, ok := lookup("MAXI_RPC_FALLBACKS"); ok && v != "" {
		cfg.RPC.Fallbacks = strings.Split(v, ",")
	}
	if v, ok := lookup("MAXI_MAX_RUNTIME"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: MAXI_MAX_RUNTIME: %w", err)
		}
		cfg.MaxRuntime = d
	}
	if v, ok := lookup("MAXI_RPC_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: MAXI_RPC_TIMEOUT: %w", err)
		}
		cfg.RPC.Timeout = d
	}
	for key, dst := range map[string]*float64{
		"VAULTMAXI_DUSD_PEG_REF":      &cfg.PegReference,
		"VAULTMAXI_DUSD_MIN_PEG_DIFF": &cfg.MinPegDiff,
	} {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			*dst = f
		}
	}
	if v, ok := lookup("MAXI_STRICT_FEES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: MAXI_STRICT_FEES: %w", err)
		}
		cfg.StrictFees = b
	}
	return nil
}
