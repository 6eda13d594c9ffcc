// Package store persists bot settings, seed and program state in a bbolt
// database laid out as a flat parameter namespace: keys are slash paths
// such as /defichain-maxi/settings/lm-pair, values are strings.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"

	"github.com/defichain-maxi/maxi-go/config"
	"github.com/defichain-maxi/maxi-go/logger"
	"github.com/defichain-maxi/maxi-go/state"
	"github.com/defichain-maxi/maxi-go/wallet"
)

var (
	bucketParams  = []byte("params")
	bucketSecrets = []byte("secrets")
)

// Store is what the bots need from the parameter store.
type Store interface {
	FetchSettings(kind config.BotKind) (*config.Settings, error)
	UpdateState(kind config.BotKind, info state.Info) error
	UpdateSetting(key, value string) error
	SkipNext() error
	ClearSkip() error
}

// Options tune how a BoltStore resolves keys and the seed.
type Options struct {
	// Postfix distinguishes bot instances sharing one database.
	Postfix string
	// SeedKey overrides KeySeed, as DEFICHAIN_SEED_KEY does.
	SeedKey string
	// SeedPassword unlocks the sealed seed. Without it the bots run in
	// unsigned mode.
	SeedPassword string
}

// BoltStore is a Store on a bbolt file.
type BoltStore struct {
	db   *bbolt.DB
	opts Options
	log  zerolog.Logger
}

var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the database at dbPath, creating the
// parent directory when needed.
func OpenBoltStore(dbPath string, opts Options) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketParams, bucketSecrets} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}
	if opts.SeedKey == "" {
		opts.SeedKey = KeySeed
	}
	return &BoltStore{db: db, opts: opts, log: logger.GetForComponent("store")}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error { return s.db.Close() }

// Postfix returns the instance postfix.
func (s *BoltStore) Postfix() string { return s.opts.Postfix }

// Key resolves an unpostfixed key to the name it is stored under.
func (s *BoltStore) Key(key string) string {
	if shared(key) || key == s.opts.SeedKey {
		return key
	}
	return Postfixed(key, s.opts.Postfix)
}

// Get reads the raw value stored under name. No postfix is applied.
func (s *BoltStore) Get(name string) (string, error) {
	var out string
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketParams).Get([]byte(name))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		out = string(v)
		return nil
	})
	return out, err
}

// Put stores value under name. No postfix is applied.
func (s *BoltStore) Put(name, value string) error {
	if name == "" {
		return ErrEmptyKey
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketParams).Put([]byte(name), []byte(value))
	})
}

// Delete removes name. Deleting a missing key is not an error.
func (s *BoltStore) Delete(name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketParams).Delete([]byte(name))
	})
}

// List returns all parameters whose name starts with prefix.
func (s *BoltStore) List(prefix string) (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketParams).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			out[string(k)] = string(v)
		}
		return nil
	})
	return out, err
}

// UpdateSetting stores value under the postfixed form of key.
func (s *BoltStore) UpdateSetting(key, value string) error {
	return s.Put(s.Key(key), value)
}

// UpdateState persists info under the state key of kind.
func (s *BoltStore) UpdateState(kind config.BotKind, info state.Info) error {
	key, err := StateKey(kind)
	if err != nil {
		return err
	}
	return s.Put(s.Key(key), info.String())
}

// SkipNext makes the next maxi run return without doing anything.
func (s *BoltStore) SkipNext() error { return s.Put(s.Key(KeySkip), "true") }

// ClearSkip resets the skip flag.
func (s *BoltStore) ClearSkip() error { return s.Put(s.Key(KeySkip), "false") }

// StoreSeed seals words with password and stores them under the seed key.
func (s *BoltStore) StoreSeed(words []string, password string) error {
	sealed, err := wallet.SealWords(words, password)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSecrets).Put([]byte(s.opts.SeedKey), sealed)
	})
}

// Seed returns the unsealed seed words, or nil when no seed is stored.
func (s *BoltStore) Seed() ([]string, error) {
	var sealed []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketSecrets).Get([]byte(s.opts.SeedKey)); v != nil {
			sealed = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || sealed == nil {
		return nil, err
	}
	if s.opts.SeedPassword == "" {
		return nil, ErrSeedLocked
	}
	return wallet.OpenWords(sealed, s.opts.SeedPassword)
}

// FetchSettings reads the full settings record of kind. Unset keys keep
// their defaults; a locked seed yields an empty seed so the bot runs
// unsigned.
func (s *BoltStore) FetchSettings(kind config.BotKind) (*config.Settings, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	params, err := s.List("/defichain-maxi")
	if err != nil {
		return nil, fmt.Errorf("store: read parameters: %w", err)
	}
	r := &reader{params: params, key: s.Key}

	set := &config.Settings{Kind: kind}
	set.Postfix = s.opts.Postfix
	set.Telegram = config.Telegram{
		ChatID:    r.str(KeyTelegramChatID),
		Token:     r.str(KeyTelegramToken),
		LogChatID: r.str(KeyTelegramLogChatID),
		LogToken:  r.str(KeyTelegramLogToken),
	}
	set.Address = r.str(AddressKey(kind))
	stateKey, _ := StateKey(kind)
	set.State = state.Parse(r.str(stateKey))

	switch kind {
	case config.BotMaxi:
		m := config.DefaultMaxiSettings()
		set.Vault = r.str(KeyVault)
		set.HeartbeatURL = r.str(KeyHeartbeatURL)
		set.SkipNext = r.str(KeySkip) == "true"
		r.float(KeyMinCollateralRatio, &m.MinCollateralRatio)
		r.float(KeyMaxCollateralRatio, &m.MaxCollateralRatio)
		if pair, ok := r.opt(KeyLMPair); ok {
			m.LMPair = pair
		} else if token, ok := r.opt(KeyLMToken); ok {
			m.LMPair = token + "-DUSD"
		}
		if asset, ok := r.opt(KeyMainCollateralAsset); ok {
			m.MainCollateralAsset = asset
		}
		r.float(KeyStableArbBatchSize, &m.StableArbBatchSize)
		r.bool(KeyKeepWalletClean, &m.KeepWalletClean)
		r.float(KeyMinValueForCleanup, &m.MinValueForCleanup)
		r.float(KeyReinvestThreshold, &m.Reinvest.Threshold)
		m.Reinvest.Pattern = r.str(KeyReinvestPattern)
		r.float(KeyAutoDonationPercent, &m.Reinvest.AutoDonationPercent)
		set.Maxi = &m
	case config.BotReinvest:
		rs := config.DefaultReinvestSettings()
		if pair, ok := r.opt(KeyReinvestLMPair); ok {
			rs.LMPair = pair
		}
		r.float(KeyReinvestReinvest, &rs.Reinvest.Threshold)
		rs.Reinvest.Pattern = r.str(KeyReinvestPatternReinvest)
		r.float(KeyReinvestDonation, &rs.Reinvest.AutoDonationPercent)
		set.Reinvest = &rs
	case config.BotBalancer:
		b := config.DefaultBalancerSettings()
		r.float(KeyRebalanceThreshold, &b.RebalanceThreshold)
		b.PortfolioPattern = r.str(KeyPortfolioPattern)
		set.Balancer = &b
	}
	if r.err != nil {
		return nil, r.err
	}

	seed, err := s.Seed()
	switch {
	case err == nil:
		set.Seed = seed
	case errors.Is(err, ErrSeedLocked):
		s.log.Warn().Msg("seed is sealed and no password is set, running unsigned")
	default:
		return nil, err
	}
	return set, nil
}

// reader pulls typed values out of a parameter snapshot and keeps the
// first conversion error.
type reader struct {
	params map[string]string
	key    func(string) string
	err    error
}

func (r *reader) opt(key string) (string, bool) {
	v, ok := r.params[r.key(key)]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *reader) str(key string) string {
	v, _ := r.opt(key)
	return v
}

func (r *reader) float(key string, dst *float64) {
	v, ok := r.opt(key)
	if !ok || r.err != nil {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.err = fmt.Errorf("%w: %s=%q", ErrInvalidValue, r.key(key), v)
		return
	}
	*dst = f
}

func (r *reader) bool(key string, dst *bool) {
	v, ok := r.opt(key)
	if !ok || r.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.err = fmt.Errorf("%w: %s=%q", ErrInvalidValue, r.key(key), v)
		return
	}
	*dst = b
}
