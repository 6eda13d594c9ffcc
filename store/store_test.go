package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defichain-maxi/maxi-go/config"
	"github.com/defichain-maxi/maxi-go/state"
	"github.com/defichain-maxi/maxi-go/wallet"
)

func openTestStore(t *testing.T, opts Options) *BoltStore {
	t.Helper()
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "nested", "maxi.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// --- Key tests ---

func TestPostfixed(t *testing.T) {
	assert.Equal(t, "/defichain-maxi/state", Postfixed(KeyState, ""))
	assert.Equal(t, "/defichain-maxi-two/state", Postfixed(KeyState, "-two"))
	assert.Equal(t, "/defichain-maxi-two/state-reinvest", Postfixed(KeyReinvestState, "-two"))
}

func TestKeyLeavesSharedKeysAlone(t *testing.T) {
	s := openTestStore(t, Options{Postfix: "-b"})
	assert.Equal(t, KeyTelegramToken, s.Key(KeyTelegramToken))
	assert.Equal(t, KeySeed, s.Key(KeySeed))
	assert.Equal(t, "/defichain-maxi-b/wallet/address", s.Key(KeyAddress))
}

func TestStateKey(t *testing.T) {
	k, err := StateKey(config.BotBalancer)
	require.NoError(t, err)
	assert.Equal(t, KeyBalancerState, k)

	_, err = StateKey("other")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

// --- Raw parameter tests ---

func TestGetPutDelete(t *testing.T) {
	s := openTestStore(t, Options{})

	_, err := s.Get("/x")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put("/x", "1"))
	v, err := s.Get("/x")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	require.NoError(t, s.Delete("/x"))
	_, err = s.Get("/x")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Put("", "v"), ErrEmptyKey)
}

func TestListByPrefix(t *testing.T) {
	s := openTestStore(t, Options{})
	require.NoError(t, s.Put("/a/1", "x"))
	require.NoError(t, s.Put("/a/2", "y"))
	require.NoError(t, s.Put("/b/1", "z"))

	got, err := s.List("/a/")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"/a/1": "x", "/a/2": "y"}, got)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maxi.db")
	s, err := OpenBoltStore(path, Options{})
	require.NoError(t, err)
	require.NoError(t, s.UpdateSetting(KeyLMPair, "TSLA-DUSD"))
	require.NoError(t, s.Close())

	s, err = OpenBoltStore(path, Options{})
	require.NoError(t, err)
	defer s.Close()
	v, err := s.Get(KeyLMPair)
	require.NoError(t, err)
	assert.Equal(t, "TSLA-DUSD", v)
}

// --- Settings tests ---

func TestFetchMaxiSettingsDefaults(t *testing.T) {
	s := openTestStore(t, Options{})
	require.NoError(t, s.UpdateSetting(KeyAddress, "df1qaddr"))

	set, err := s.FetchSettings(config.BotMaxi)
	require.NoError(t, err)
	require.NotNil(t, set.Maxi)
	assert.Equal(t, config.DefaultMaxiSettings(), *set.Maxi)
	assert.Equal(t, "df1qaddr", set.Address)
	assert.Equal(t, state.Idle(), set.State)
	assert.False(t, set.SkipNext)
	assert.Empty(t, set.Seed)
	assert.NoError(t, set.Validate())
}

func TestFetchMaxiSettingsValues(t *testing.T) {
	s := openTestStore(t, Options{Postfix: "-2"})
	for k, v := range map[string]string{
		KeyTelegramChatID:      "42",
		KeyTelegramToken:       "tok",
		KeyAddress:             "df1qaddr",
		KeyVault:               "ab12",
		KeyMinCollateralRatio:  "180",
		KeyMaxCollateralRatio:  " 190 ",
		KeyLMToken:             "TSLA",
		KeyMainCollateralAsset: "DUSD",
		KeyReinvestThreshold:   "5",
		KeyReinvestPattern:     "DFI:50 BTC-DFI:50",
		KeyAutoDonationPercent: "3",
		KeyKeepWalletClean:     "false",
		KeyHeartbeatURL:        "https://hb.example",
		KeySkip:                "true",
	} {
		require.NoError(t, s.UpdateSetting(k, v))
	}
	info := state.Info{Phase: state.PhaseWaitingForTransaction, Operation: state.OpTakeLoan, TxID: "ff", BlockHeight: 7, Version: "v2.5"}
	require.NoError(t, s.UpdateState(config.BotMaxi, info))

	set, err := s.FetchSettings(config.BotMaxi)
	require.NoError(t, err)
	m := set.Maxi
	assert.Equal(t, "42", set.Telegram.ChatID)
	assert.Equal(t, "tok", set.Telegram.Token)
	assert.Equal(t, "ab12", set.Vault)
	assert.Equal(t, "-2", set.Postfix)
	assert.Equal(t, 180.0, m.MinCollateralRatio)
	assert.Equal(t, 190.0, m.MaxCollateralRatio)
	assert.Equal(t, "TSLA-DUSD", m.LMPair)
	assert.Equal(t, "DUSD", m.MainCollateralAsset)
	assert.Equal(t, 5.0, m.Reinvest.Threshold)
	assert.Equal(t, "DFI:50 BTC-DFI:50", m.Reinvest.Pattern)
	assert.Equal(t, 3.0, m.Reinvest.AutoDonationPercent)
	assert.False(t, m.KeepWalletClean)
	assert.Equal(t, "https://hb.example", set.HeartbeatURL)
	assert.True(t, set.SkipNext)
	assert.Equal(t, info, set.State)
}

func TestFetchSettingsLMPairWinsOverToken(t *testing.T) {
	s := openTestStore(t, Options{})
	require.NoError(t, s.UpdateSetting(KeyLMToken, "TSLA"))
	require.NoError(t, s.UpdateSetting(KeyLMPair, "DUSD-DFI"))

	set, err := s.FetchSettings(config.BotMaxi)
	require.NoError(t, err)
	assert.Equal(t, "DUSD-DFI", set.Maxi.LMPair)
}

func TestFetchSettingsIgnoresOtherPostfix(t *testing.T) {
	s := openTestStore(t, Options{Postfix: "-a"})
	require.NoError(t, s.Put(Postfixed(KeyMinCollateralRatio, "-b"), "300"))

	set, err := s.FetchSettings(config.BotMaxi)
	require.NoError(t, err)
	assert.Equal(t, 200.0, set.Maxi.MinCollateralRatio)
}

func TestFetchSettingsInvalidNumber(t *testing.T) {
	s := openTestStore(t, Options{})
	require.NoError(t, s.UpdateSetting(KeyMinCollateralRatio, "lots"))

	_, err := s.FetchSettings(config.BotMaxi)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestFetchReinvestSettings(t *testing.T) {
	s := openTestStore(t, Options{})
	require.NoError(t, s.UpdateSetting(KeyReinvestAddress, "df1qlm"))
	require.NoError(t, s.UpdateSetting(KeyReinvestLMPair, "BTC-DFI"))
	require.NoError(t, s.UpdateSetting(KeyReinvestReinvest, "20"))
	require.NoError(t, s.UpdateSetting(KeyAddress, "df1qmaxi"))
	require.NoError(t, s.UpdateState(config.BotReinvest, state.Info{Phase: state.PhaseError, Operation: state.OpReinvestSwap}))

	set, err := s.FetchSettings(config.BotReinvest)
	require.NoError(t, err)
	require.NotNil(t, set.Reinvest)
	assert.Nil(t, set.Maxi)
	assert.Equal(t, "df1qlm", set.Address)
	assert.Equal(t, "BTC-DFI", set.Reinvest.LMPair)
	assert.Equal(t, 20.0, set.Reinvest.Reinvest.Threshold)
	assert.Equal(t, state.PhaseError, set.State.Phase)
}

func TestFetchBalancerSettings(t *testing.T) {
	s := openTestStore(t, Options{})
	require.NoError(t, s.UpdateSetting(KeyPortfolioPattern, "DFI:50 DUSD:50"))

	set, err := s.FetchSettings(config.BotBalancer)
	require.NoError(t, err)
	require.NotNil(t, set.Balancer)
	assert.Equal(t, 5.0, set.Balancer.RebalanceThreshold)
	assert.Equal(t, "DFI:50 DUSD:50", set.Balancer.PortfolioPattern)
}

func TestFetchSettingsUnknownKind(t *testing.T) {
	s := openTestStore(t, Options{})
	_, err := s.FetchSettings("nope")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

// --- Skip flag tests ---

func TestSkipNextAndClear(t *testing.T) {
	s := openTestStore(t, Options{})
	require.NoError(t, s.SkipNext())
	set, err := s.FetchSettings(config.BotMaxi)
	require.NoError(t, err)
	assert.True(t, set.SkipNext)

	require.NoError(t, s.ClearSkip())
	set, err = s.FetchSettings(config.BotMaxi)
	require.NoError(t, err)
	assert.False(t, set.SkipNext)
}

// --- Seed tests ---

const testWords = "abandon abandon abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon abandon abandon art"

func TestSeedRoundTrip(t *testing.T) {
	s := openTestStore(t, Options{SeedPassword: "pw"})
	words := wallet.SplitSeed(testWords)
	require.NoError(t, s.StoreSeed(words, "pw"))

	set, err := s.FetchSettings(config.BotMaxi)
	require.NoError(t, err)
	assert.Equal(t, words, set.Seed)
}

func TestSeedLockedRunsUnsigned(t *testing.T) {
	s := openTestStore(t, Options{})
	require.NoError(t, s.StoreSeed(wallet.SplitSeed(testWords), "pw"))

	_, err := s.Seed()
	assert.ErrorIs(t, err, ErrSeedLocked)

	set, err := s.FetchSettings(config.BotMaxi)
	require.NoError(t, err)
	assert.Empty(t, set.Seed)
}

func TestSeedWrongPassword(t *testing.T) {
	s := openTestStore(t, Options{SeedPassword: "wrong"})
	require.NoError(t, s.StoreSeed(wallet.SplitSeed(testWords), "pw"))

	_, err := s.FetchSettings(config.BotMaxi)
	assert.ErrorIs(t, err, wallet.ErrDecryptionFailed)
}

func TestCustomSeedKey(t *testing.T) {
	s := openTestStore(t, Options{SeedKey: "/my/seed", SeedPassword: "pw"})
	require.NoError(t, s.StoreSeed([]string{"a", "b"}, "pw"))
	words, err := s.Seed()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, words)
}
