package store

import (
	"strings"

	"github.com/defichain-maxi/maxi-go/config"
)

// Parameter keys. Every key except the telegram and seed keys is rewritten
// with the instance postfix before use, see Postfixed.
const (
	KeyTelegramChatID    = "/defichain-maxi/telegram/notifications/chat-id"
	KeyTelegramToken     = "/defichain-maxi/telegram/notifications/token"
	KeyTelegramLogChatID = "/defichain-maxi/telegram/logs/chat-id"
	KeyTelegramLogToken  = "/defichain-maxi/telegram/logs/token"

	KeyAddress = "/defichain-maxi/wallet/address"
	KeyVault   = "/defichain-maxi/wallet/vault"
	KeySeed    = "/defichain-maxi/wallet/seed"

	KeyMinCollateralRatio  = "/defichain-maxi/settings/min-collateral-ratio"
	KeyMaxCollateralRatio  = "/defichain-maxi/settings/max-collateral-ratio"
	KeyLMToken             = "/defichain-maxi/settings/lm-token"
	KeyLMPair              = "/defichain-maxi/settings/lm-pair"
	KeyMainCollateralAsset = "/defichain-maxi/settings/main-collateral-asset"
	KeyReinvestThreshold   = "/defichain-maxi/settings/reinvest"
	KeyReinvestPattern     = "/defichain-maxi/settings/reinvest-pattern"
	KeyStableArbBatchSize  = "/defichain-maxi/settings/stable-arb-batch-size"
	KeyAutoDonationPercent = "/defichain-maxi/settings/auto-donation-percent-of-reinvest"
	KeyKeepWalletClean     = "/defichain-maxi/settings/keep-wallet-clean"
	KeyMinValueForCleanup  = "/defichain-maxi/settings/min-value-for-cleanup"
	KeyHeartbeatURL        = "/defichain-maxi/settings/heartbeat-url"
	KeyState               = "/defichain-maxi/state"
	KeySkip                = "/defichain-maxi/skip"

	KeyReinvestAddress         = "/defichain-maxi/wallet-reinvest/address"
	KeyReinvestLMPair          = "/defichain-maxi/settings-reinvest/lm-pair"
	KeyReinvestReinvest        = "/defichain-maxi/settings-reinvest/reinvest"
	KeyReinvestPatternReinvest = "/defichain-maxi/settings-reinvest/reinvest-pattern"
	KeyReinvestDonation        = "/defichain-maxi/settings-reinvest/auto-donation-percent-of-reinvest"
	KeyReinvestState           = "/defichain-maxi/state-reinvest"

	KeyRebalanceThreshold = "/defichain-maxi/settings/rebalance-threshold"
	KeyPortfolioPattern   = "/defichain-maxi/settings/portfolio-pattern"
	KeyBalancerState      = "/defichain-maxi/state-balancer"
)

const postfixAnchor = "-maxi"

// Postfixed inserts postfix after the first "-maxi" of key, so that
// several bot instances can share one store.
func Postfixed(key, postfix string) string {
	if postfix == "" {
		return key
	}
	return strings.Replace(key, postfixAnchor, postfixAnchor+postfix, 1)
}

// StateKey returns the unpostfixed state key of a bot kind.
func StateKey(kind config.BotKind) (string, error) {
	switch kind {
	case config.BotMaxi:
		return KeyState, nil
	case config.BotReinvest:
		return KeyReinvestState, nil
	case config.BotBalancer:
		return KeyBalancerState, nil
	}
	return "", ErrUnknownKind
}

// AddressKey returns the unpostfixed wallet address key of a bot kind.
func AddressKey(kind config.BotKind) string {
	if kind == config.BotReinvest {
		return KeyReinvestAddress
	}
	return KeyAddress
}

// shared keys are read without the instance postfix.
func shared(key string) bool {
	switch key {
	case KeyTelegramChatID, KeyTelegramToken, KeyTelegramLogChatID, KeyTelegramLogToken, KeySeed:
		return true
	}
	return false
}
