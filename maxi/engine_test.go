package maxi_test

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defichain-maxi/maxi-go/config"
	"github.com/defichain-maxi/maxi-go/maxi"
	"github.com/defichain-maxi/maxi-go/network"
	"github.com/defichain-maxi/maxi-go/program/programtest"
	"github.com/defichain-maxi/maxi-go/state"
	"github.com/defichain-maxi/maxi-go/tx"
)

var ctx = context.Background()

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func price(p string) *network.OraclePrice {
	return &network.OraclePrice{Active: dec(p), Next: dec(p), IsLive: true}
}

func collateral(id, symbol string) network.CollateralToken {
	return network.CollateralToken{Token: network.Token{ID: id, Symbol: symbol, SymbolKey: symbol, IsDAT: true}, Factor: decimal.NewFromInt(1)}
}

// node serves a GLD-DUSD pool of 1000 GLD / 100000 DUSD / 10000 shares
// and a vault with 5 GLD and 500 DUSD of loans against dfi DFI at 2 USD.
// The wallet holds 5 pool shares.
func node(t *testing.T, dfi string) *programtest.Node {
	t.Helper()
	n := programtest.NewNode(t)
	n.Collateral = []network.CollateralToken{collateral("0", "DFI"), collateral("15", "DUSD")}
	n.Tokens = []network.Token{{ID: "20", Symbol: "GLD", SymbolKey: "GLD", IsDAT: true, IsLoanToken: true}}
	n.Pools = []network.Pool{{
		ID:             "30",
		Symbol:         "GLD-DUSD",
		TokenA:         network.PoolToken{ID: "20", Symbol: "GLD", Reserve: dec("1000")},
		TokenB:         network.PoolToken{ID: "15", Symbol: "DUSD", Reserve: dec("100000")},
		RatioAB:        dec("0.01"),
		RatioBA:        dec("100"),
		TotalLiquidity: dec("10000"),
	}}
	n.Prices["GLD"] = price("100")
	n.Prices["DFI"] = price("2")

	coll := dec(dfi).Mul(dec("2"))
	ratio := coll.Div(dec("1000")).Mul(dec("100"))
	n.Vault = &network.Vault{
		ID:               programtest.VaultID,
		Owner:            programtest.Account(t).Address,
		State:            network.VaultActive,
		Scheme:           network.LoanScheme{ID: "MIN150", MinColRatio: dec("150"), InterestRate: dec("1")},
		Collateral:       []network.TokenAmount{{ID: "0", Symbol: "DFI", Amount: dec(dfi), Price: price("2")}},
		Loans:            []network.TokenAmount{{ID: "20", Symbol: "GLD", Amount: dec("5"), Price: price("100")}, {ID: "15", Symbol: "DUSD", Amount: dec("500")}},
		CollateralValue:  coll,
		LoanValue:        dec("1000"),
		CollateralRatio:  ratio,
		InformativeRatio: ratio,
	}
	n.SetBalance("30", "GLD-DUSD", dec("5"))
	return n
}

// yieldOnRemove credits the tokens 5 pool shares are worth once a
// remove-liquidity is broadcast.
func yieldOnRemove(n *programtest.Node) {
	n.OnSend = func(n *programtest.Node, t *tx.Transaction) {
		p, err := tx.ParsePayload(t.Outputs[0].Script)
		if err != nil || p.Type != tx.OpRemovePoolLiquidity {
			return
		}
		n.SetBalance("20", "GLD", dec("0.5"))
		n.SetBalance("15", "DUSD", dec("50"))
	}
}

func setup(t *testing.T, n *programtest.Node, tune func(*config.MaxiSettings)) (*programtest.Env, *maxi.Engine) {
	t.Helper()
	set := programtest.Settings(t, config.BotMaxi, true)
	set.Maxi.MinCollateralRatio = 170
	set.Maxi.MaxCollateralRatio = 200
	if tune != nil {
		tune(set.Maxi)
	}
	env := programtest.New(t, set, n)
	e, err := maxi.NewEngine(env.Program)
	require.NoError(t, err)
	require.NoError(t, e.Init(ctx))
	return env, e
}

func load(t *testing.T, env *programtest.Env, e *maxi.Engine) (*network.Vault, *network.Pool, map[string]network.TokenAmount) {
	t.Helper()
	v, err := env.Program.Vault(ctx)
	require.NoError(t, err)
	pool, err := env.Program.Pool(ctx, e.Pair())
	require.NoError(t, err)
	balances, err := env.Program.TokenBalances(ctx)
	require.NoError(t, err)
	return v, pool, balances
}

func contains(msgs []string, part string) bool {
	for _, m := range msgs {
		if strings.Contains(m, part) {
			return true
		}
	}
	return false
}

func payback(t *testing.T, env *programtest.Env, amounts ...tx.TokenBalance) tx.Payload {
	t.Helper()
	p, err := tx.PaybackLoan(programtest.VaultID, env.Program.Script(), amounts)
	require.NoError(t, err)
	return p
}

func sats(token uint32, amount string) tx.TokenBalance {
	return tx.TokenBalance{TokenID: token, Amount: tx.ToSatoshi(dec(amount))}
}

// --- construction ---

func TestNewEngineNeedsMaxiSettings(t *testing.T) {
	env := programtest.New(t, programtest.Settings(t, config.BotReinvest, true), programtest.NewNode(t))
	_, err := maxi.NewEngine(env.Program)
	assert.ErrorIs(t, err, maxi.ErrNotMaxiSettings)
}

func TestEngineMode(t *testing.T) {
	_, e := setup(t, node(t, "750"), nil)
	assert.Equal(t, maxi.MintBoth, e.Mode())

	_, e = setup(t, node(t, "750"), func(m *config.MaxiSettings) { m.MainCollateralAsset = "DUSD" })
	assert.Equal(t, maxi.SingleMintA, e.Mode())
}

// --- checks ---

func TestCheckPasses(t *testing.T) {
	env, e := setup(t, node(t, "925"), nil)
	v, pool, balances := load(t, env, e)

	ok, err := e.Check(ctx, v, pool, balances)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckRejects(t *testing.T) {
	tests := []struct {
		name string
		edit func(*programtest.Node)
		msg  string
	}{
		{"missing vault", func(n *programtest.Node) { n.Vault = nil }, "Could not find vault"},
		{"foreign vault", func(n *programtest.Node) { n.Vault.Owner = "df1qsomeoneelse" }, "Error: vault not owned by this address"},
		{"liquidation", func(n *programtest.Node) { n.Vault.State = network.VaultInLiquidation }, "Can't maximize a vault in liquidation"},
		{"missing pool", func(n *programtest.Node) { n.Pools = nil }, "No pool found for this token. tried: GLD-DUSD"},
		{"no utxos", func(n *programtest.Node) { n.UTXOs = nil }, "you have no UTXOs left"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := node(t, "925")
			tt.edit(n)
			env, e := setup(t, n, nil)
			v, _ := env.Program.Vault(ctx)
			pool, _ := env.Program.Pool(ctx, e.Pair())
			balances, err := env.Program.TokenBalances(ctx)
			require.NoError(t, err)

			ok, err := e.Check(ctx, v, pool, balances)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.True(t, contains(env.Notifier.Sent(), tt.msg), env.Notifier.Sent())
		})
	}
}

func TestCheckRejectsNonDUSDPair(t *testing.T) {
	n := node(t, "925")
	n.Pools[0].Symbol = "GLD-DFI"
	env, e := setup(t, n, func(m *config.MaxiSettings) { m.LMPair = "GLD-DFI" })
	v, pool, balances := load(t, env, e)

	ok, err := e.Check(ctx, v, pool, balances)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, contains(env.Notifier.Sent(), "vaultMaxi only works on dStock-DUSD pools or DUSD-DFI not on GLD-DFI"))
}

func TestCheckRaisesMinimumToScheme(t *testing.T) {
	env, e := setup(t, node(t, "925"), func(m *config.MaxiSettings) { m.MinCollateralRatio = 140 })
	v, pool, balances := load(t, env, e)

	ok, err := e.Check(ctx, v, pool, balances)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 151.0, e.Settings().MinCollateralRatio)
	assert.True(t, contains(env.Notifier.Sent(), "minCollateralRatio is too low"))
}

func TestCheckWidensNarrowBand(t *testing.T) {
	env, e := setup(t, node(t, "925"), func(m *config.MaxiSettings) { m.MaxCollateralRatio = 171 })
	v, pool, balances := load(t, env, e)

	_, err := e.Check(ctx, v, pool, balances)
	require.NoError(t, err)
	assert.Equal(t, 172.0, e.Settings().MaxCollateralRatio)
}

func TestCheckFallsBackToDFIMainCollateral(t *testing.T) {
	env, e := setup(t, node(t, "925"), func(m *config.MaxiSettings) { m.MainCollateralAsset = "BTC" })
	v, pool, balances := load(t, env, e)

	_, err := e.Check(ctx, v, pool, balances)
	require.NoError(t, err)
	assert.Equal(t, "DFI", e.Settings().MainCollateralAsset)
	assert.Equal(t, maxi.MintBoth, e.Mode())
}

func TestCheckCapsDonation(t *testing.T) {
	env, e := setup(t, node(t, "925"), func(m *config.MaxiSettings) { m.Reinvest.AutoDonationPercent = 80 })
	v, pool, balances := load(t, env, e)

	_, err := e.Check(ctx, v, pool, balances)
	require.NoError(t, err)
	assert.Equal(t, 50.0, e.Settings().Reinvest.AutoDonationPercent)
}

func TestCheckMessage(t *testing.T) {
	env, e := setup(t, node(t, "925"), nil)
	v, pool, _ := load(t, env, e)

	msg := e.CheckMessage(v, pool, "http://node:8554", []string{"http://backup:8554"})
	assert.True(t, strings.HasPrefix(msg, "Setup-Check result\nmonitoring vault "))
	assert.Contains(t, msg, "Set collateral ratio range 170-200")
	assert.Contains(t, msg, "using pool GLD-DUSD")
	assert.Contains(t, msg, "minting both assets")
	assert.Contains(t, msg, "using node at: http://node:8554 with fallbacks: http://backup:8554")
}

// --- decrease exposure ---

func TestDecreaseExposureRemovesAtMostHeld(t *testing.T) {
	n := node(t, "750")
	yieldOnRemove(n)
	env, e := setup(t, n, nil)
	v, pool, _ := load(t, env, e)

	// the vault would need about 9.46 shares, only 5 are held
	ok, err := e.DecreaseExposure(ctx, v, pool)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []tx.OpType{tx.OpRemovePoolLiquidity, tx.OpPaybackLoan}, n.Ops())
	payloads := n.Payloads()
	assert.Equal(t, tx.RemovePoolLiquidity(env.Program.Script(), 30, tx.ToSatoshi(dec("5"))), payloads[0])
	assert.Equal(t, payback(t, env, sats(20, "0.5"), sats(15, "50")), payloads[1])
	assert.Contains(t, env.Notifier.Sent(), "done reducing exposure")
}

func TestDecreaseExposureRemovesWhatIsNeeded(t *testing.T) {
	n := node(t, "750")
	n.SetBalance("30", "GLD-DUSD", dec("100"))
	yieldOnRemove(n)
	env, e := setup(t, n, nil)
	v, pool, _ := load(t, env, e)

	ok, err := e.DecreaseExposure(ctx, v, pool)
	require.NoError(t, err)
	assert.True(t, ok)

	repay := maxi.NeededRepay(e.Values(v), e.Band().Target())
	wanted := maxi.WantedLPTokens(maxi.MintBoth, repay, e.Band().Target(), pool, dec("100"), dec("1"))
	assert.Equal(t, tx.RemovePoolLiquidity(env.Program.Script(), 30, tx.ToSatoshi(wanted)), n.Payloads()[0])
}

func TestDecreaseExposureWithoutShares(t *testing.T) {
	n := node(t, "750")
	n.SetBalance("30", "GLD-DUSD", decimal.Zero)
	env, e := setup(t, n, nil)
	v, pool, _ := load(t, env, e)

	ok, err := e.DecreaseExposure(ctx, v, pool)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, n.Sent)
	assert.Contains(t, env.Notifier.Sent(), "ERROR: can't withdraw from pool, no tokens left or no loans left")
}

func TestDecreaseExposureReportsUnconfirmedRemoval(t *testing.T) {
	n := node(t, "750")
	n.Unconfirmed = true
	env, e := setup(t, n, nil)
	v, pool, _ := load(t, env, e)

	ok, err := e.DecreaseExposure(ctx, v, pool)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []tx.OpType{tx.OpRemovePoolLiquidity}, n.Ops())
	assert.Contains(t, env.Notifier.Sent(), "ERROR: when removing liquidity")

	set, err := env.Store.FetchSettings(config.BotMaxi)
	require.NoError(t, err)
	assert.Equal(t, state.PhaseWaitingForTransaction, set.State.Phase)
	assert.Equal(t, state.OpRemoveLiquidity, set.State.Operation)
}

// --- increase exposure ---

func TestIncreaseExposureTakesLoansThenAddsLiquidity(t *testing.T) {
	n := node(t, "1500")
	env, e := setup(t, n, nil)
	v, pool, balances := load(t, env, e)

	ok, changed, err := e.IncreaseExposure(ctx, v, pool, balances)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, changed)
	assert.Equal(t, []tx.OpType{tx.OpTakeLoan, tx.OpAddPoolLiquidity}, n.Ops())
	assert.Contains(t, env.Notifier.Sent(), "done increasing exposure")
}

func TestIncreaseExposureWaitsForLivePrice(t *testing.T) {
	n := node(t, "1500")
	n.Prices["GLD"] = &network.OraclePrice{Active: dec("100"), Next: dec("100"), IsLive: false}
	env, e := setup(t, n, nil)
	v, pool, balances := load(t, env, e)

	ok, changed, err := e.IncreaseExposure(ctx, v, pool, balances)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, changed)
	assert.Empty(t, n.Sent)
	assert.Contains(t, env.Notifier.Sent(), "Could not increase exposure, token has currently no active price. Will try again later")
}

func TestIncreaseExposureLimitedByDFICollateral(t *testing.T) {
	n := node(t, "1500")
	// most of the collateral is BTC, which does not count for the DFI rule
	n.Collateral = append(n.Collateral, collateral("2", "BTC"))
	n.Vault.Collateral = []network.TokenAmount{
		{ID: "0", Symbol: "DFI", Amount: dec("600"), Price: price("2")},
		{ID: "2", Symbol: "BTC", Amount: dec("1"), Price: price("1800")},
	}
	env, e := setup(t, n, nil)
	v, pool, balances := load(t, env, e)

	ok, changed, err := e.IncreaseExposure(ctx, v, pool, balances)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, changed)
	assert.Contains(t, env.Notifier.Sent(),
		"Wanted to take more loans, but you don't have enough DFI or DUSD in the collateral. Wanted to take 621.62 will only take 600.00")
	assert.Equal(t, []tx.OpType{tx.OpTakeLoan, tx.OpAddPoolLiquidity}, n.Ops())
}

// --- remove exposure ---

func TestRemoveExposure(t *testing.T) {
	n := node(t, "750")
	yieldOnRemove(n)
	env, e := setup(t, n, func(m *config.MaxiSettings) { m.MaxCollateralRatio = -1 })
	v, pool, balances := load(t, env, e)

	ok, err := e.RemoveExposure(ctx, v, pool, balances, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []tx.OpType{tx.OpRemovePoolLiquidity, tx.OpPaybackLoan}, n.Ops())
	assert.Equal(t, tx.RemovePoolLiquidity(env.Program.Script(), 30, tx.ToSatoshi(dec("5"))), n.Payloads()[0])
	assert.Contains(t, env.Notifier.Sent(), "done removing exposure")
}

func TestRemoveExposureSilentWithoutShares(t *testing.T) {
	n := node(t, "750")
	n.Balances = nil
	env, e := setup(t, n, nil)
	v, pool, balances := load(t, env, e)

	ok, err := e.RemoveExposure(ctx, v, pool, balances, true)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, env.Notifier.Sent())
}

// --- clean-up ---

func TestCleanUpPaysBackWalletLoans(t *testing.T) {
	n := node(t, "925")
	n.SetBalance("20", "GLD", dec("0.5"))
	n.SetBalance("15", "DUSD", dec("0.5"))
	env, e := setup(t, n, nil)
	v, _, balances := load(t, env, e)

	ok, err := e.CleanUp(ctx, v, balances, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	// DUSD worth 0.5 is below the clean-up minimum of 1
	assert.Equal(t, []tx.Payload{payback(t, env, sats(20, "0.5"))}, n.Payloads())
}

func TestCleanUpHalvesAndSplitsOnRetries(t *testing.T) {
	n := node(t, "925")
	n.SetBalance("20", "GLD", dec("1"))
	n.SetBalance("15", "DUSD", dec("100"))
	env, e := setup(t, n, nil)
	v, _, balances := load(t, env, e)

	ok, err := e.CleanUp(ctx, v, balances, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []tx.Payload{
		payback(t, env, sats(20, "0.5")),
		payback(t, env, sats(15, "50")),
	}, n.Payloads())
}

func TestCleanUpNothingToDo(t *testing.T) {
	n := node(t, "925")
	env, e := setup(t, n, nil)
	v, _, balances := load(t, env, e)

	ok, err := e.CleanUp(ctx, v, balances, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, n.Sent)
}

func TestShouldCleanUp(t *testing.T) {
	assert.True(t, maxi.ShouldCleanUp(state.OpRemoveLiquidity))
	assert.True(t, maxi.ShouldCleanUp(state.OpTakeLoan))
	assert.False(t, maxi.ShouldCleanUp(state.OpAddLiquidity))
	assert.False(t, maxi.ShouldCleanUp(state.OpPaybackLoan))
}

// --- safety level ---

func TestSafetyLevel(t *testing.T) {
	env, e := setup(t, node(t, "750"), nil)
	v, pool, balances := load(t, env, e)

	// 5 shares repay 0.5 GLD (50 USD) and 50 DUSD: 1500 / 900
	level, err := e.SafetyLevel(ctx, v, pool, balances)
	require.NoError(t, err)
	assert.Equal(t, "166.67", level.StringFixed(2))
}

func TestSafetyLevelAllSafe(t *testing.T) {
	n := node(t, "750")
	n.SetBalance("30", "GLD-DUSD", dec("100"))
	env, e := setup(t, n, nil)
	v, pool, balances := load(t, env, e)

	level, err := e.SafetyLevel(ctx, v, pool, balances)
	require.NoError(t, err)
	assert.True(t, dec("99999").Equal(level))
}

// --- reinvest ---

func TestDonationThresholdFallback(t *testing.T) {
	env, e := setup(t, node(t, "750"), func(m *config.MaxiSettings) { m.Reinvest.Threshold = 3 })
	v, pool, _ := load(t, env, e)

	assert.True(t, dec("20").Equal(e.DonationThreshold(v, pool)))
}

func TestDonationThresholdFromRewards(t *testing.T) {
	n := node(t, "750")
	n.Pools[0].APR = &network.PoolAPR{Reward: dec("350.4"), Total: dec("0.5")}
	env, e := setup(t, n, func(m *config.MaxiSettings) { m.Reinvest.Threshold = 3 })
	v, pool, _ := load(t, env, e)

	// 1000 * 350.4 / (35040 * 2) = 5 DFI per execution
	assert.True(t, dec("10").Equal(e.DonationThreshold(v, pool)))
}

func TestInterestAboveAPR(t *testing.T) {
	n := node(t, "750")
	n.LoanTokens["DUSD"] = &network.LoanToken{Token: network.Token{ID: "15", Symbol: "DUSD"}, Interest: dec("30")}
	n.Pools[0].APR = &network.PoolAPR{Total: dec("0.2")}
	env, e := setup(t, n, nil)
	v, pool, _ := load(t, env, e)

	above, err := e.InterestAboveAPR(ctx, v, pool)
	require.NoError(t, err)
	assert.True(t, above)

	pool.APR.Total = dec("0.5")
	above, err = e.InterestAboveAPR(ctx, v, pool)
	require.NoError(t, err)
	assert.False(t, above)

	pool.APR = nil
	above, err = e.InterestAboveAPR(ctx, v, pool)
	require.NoError(t, err)
	assert.False(t, above)
}
