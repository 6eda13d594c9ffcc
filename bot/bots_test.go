package bot_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defichain-maxi/maxi-go/bot"
	"github.com/defichain-maxi/maxi-go/config"
	"github.com/defichain-maxi/maxi-go/network"
	"github.com/defichain-maxi/maxi-go/program/programtest"
	"github.com/defichain-maxi/maxi-go/state"
	"github.com/defichain-maxi/maxi-go/tx"
)

func TestNewBot(t *testing.T) {
	for kind, name := range map[config.BotKind]string{
		config.BotMaxi:     "Maxi",
		config.BotReinvest: "Reinvest",
		config.BotBalancer: "Balancer",
	} {
		b, err := bot.NewBot(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, b.Kind())
		assert.Equal(t, name, b.Name())
		assert.NotEmpty(t, b.Version())
	}
	_, err := bot.NewBot("nope")
	assert.ErrorIs(t, err, bot.ErrUnknownKind)
}

// --- maxi ---

func TestMaxiBotCheckSetupFailsWithoutVault(t *testing.T) {
	n := maxiNode(t)
	n.Vault = nil
	env := programtest.New(t, maxiSettings(t), n)

	ok, err := maxiBot().CheckSetup(ctx, bot.Cycle{Program: env.Program, Endpoint: "http://a"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, contains(env.Notifier.Sent(), "Setup-Check result"))
}

func TestMaxiBotExecuteCallsBeforeWork(t *testing.T) {
	env := programtest.New(t, maxiSettings(t), maxiNode(t))
	called := 0
	out, err := maxiBot().Execute(ctx, bot.Cycle{Program: env.Program, BeforeWork: func(context.Context) { called++ }})
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.True(t, out.CheckChain)
	assert.Equal(t, 1, called)
}

// --- reinvest ---

// reinvestNode holds one 10 DFI output and 1 DFI of account balance next
// to a GLD-DUSD pool reachable from DFI.
func reinvestNode(t *testing.T) *programtest.Node {
	t.Helper()
	n := programtest.NewNode(t)
	n.SetBalance("0", "DFI", dec("1"))
	n.Tokens = []network.Token{{ID: "20", Symbol: "GLD", SymbolKey: "GLD"}}
	n.Pools = []network.Pool{{
		ID: "30", Symbol: "GLD-DUSD",
		TokenA:         network.PoolToken{ID: "20", Symbol: "GLD", Reserve: dec("100")},
		TokenB:         network.PoolToken{ID: "15", Symbol: "DUSD", Reserve: dec("1000")},
		RatioAB:        dec("0.1"),
		RatioBA:        dec("10"),
		TotalLiquidity: dec("300"),
	}}
	n.Paths["0>15"] = &network.BestPath{Pools: []network.PathPool{{ID: "17", Symbol: "DUSD-DFI"}}, EstimatedReturn: dec("2")}
	n.Paths["0>20"] = &network.BestPath{Pools: []network.PathPool{{ID: "17", Symbol: "DUSD-DFI"}, {ID: "30", Symbol: "GLD-DUSD"}}, EstimatedReturn: dec("0.2")}
	return n
}

func reinvestSettings(t *testing.T, threshold float64) *config.Settings {
	t.Helper()
	set := programtest.Settings(t, config.BotReinvest, true)
	set.State = state.Idle()
	set.Reinvest.Reinvest.Threshold = threshold
	return set
}

func TestReinvestBotAddsRewardsToPair(t *testing.T) {
	n := reinvestNode(t)
	n.SetBalance("20", "GLD", dec("0.8"))
	n.SetBalance("15", "DUSD", dec("100"))
	env := programtest.New(t, reinvestSettings(t, 5), n)

	out, err := (&bot.ReinvestBot{}).Execute(ctx, bot.Cycle{Program: env.Program})
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.False(t, out.CheckChain)
	assert.Equal(t, []tx.OpType{tx.OpUtxosToAccount, tx.OpCompositeSwap, tx.OpCompositeSwap, tx.OpAddPoolLiquidity}, n.Ops())
	assert.Contains(t, env.Notifier.Logged(), "executed script with 1.0000 DFI in address")

	set, err := env.Store.FetchSettings(config.BotReinvest)
	require.NoError(t, err)
	assert.Equal(t, state.PhaseIdle, set.State.Phase)
}

func TestReinvestBotDepositsCollateralToVault(t *testing.T) {
	n := reinvestNode(t)
	n.Collateral = []network.CollateralToken{{Token: network.Token{ID: "2", Symbol: "BTC", SymbolKey: "BTC", IsDAT: true}, Factor: dec("1")}}
	n.Paths["0>2"] = &network.BestPath{Pools: []network.PathPool{{ID: "5", Symbol: "BTC-DFI"}}, EstimatedReturn: dec("0.0001")}
	n.SetBalance("2", "BTC", dec("1"))
	set := reinvestSettings(t, 5)
	set.Reinvest.Reinvest.Pattern = "BTC:100:vault"
	env := programtest.New(t, set, n)

	out, err := (&bot.ReinvestBot{}).Execute(ctx, bot.Cycle{Program: env.Program})
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, []tx.OpType{tx.OpUtxosToAccount, tx.OpCompositeSwap, tx.OpDepositToVault}, n.Ops())

	want, err := tx.DepositToVault(programtest.VaultID, env.Program.Script(), tx.TokenBalance{TokenID: 2, Amount: tx.ToSatoshi(dec("0.001"))})
	require.NoError(t, err)
	assert.Equal(t, want, n.Payloads()[2])
}

func TestReinvestBotBelowThreshold(t *testing.T) {
	n := reinvestNode(t)
	env := programtest.New(t, reinvestSettings(t, 50), n)

	out, err := (&bot.ReinvestBot{}).Execute(ctx, bot.Cycle{Program: env.Program})
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Empty(t, n.Sent)
}

func TestReinvestBotReportsUnconfirmedSwap(t *testing.T) {
	n := reinvestNode(t)
	n.Unconfirmed = true
	env := programtest.New(t, reinvestSettings(t, 5), n)

	out, err := (&bot.ReinvestBot{}).Execute(ctx, bot.Cycle{Program: env.Program})
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.Contains(t, env.Notifier.Sent(), "ERROR: swapping reinvestment failed")

	set, err := env.Store.FetchSettings(config.BotReinvest)
	require.NoError(t, err)
	assert.Equal(t, state.PhaseError, set.State.Phase)
	assert.Equal(t, state.OpReinvestSwap, set.State.Operation)
}

func TestReinvestBotNeedsPool(t *testing.T) {
	n := reinvestNode(t)
	n.Pools = nil
	env := programtest.New(t, reinvestSettings(t, 5), n)

	out, err := (&bot.ReinvestBot{}).Execute(ctx, bot.Cycle{Program: env.Program})
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.Contains(t, env.Notifier.Sent(), "No pool found for this token. tried: GLD-DUSD")
	assert.Empty(t, n.Sent)
}

func TestReinvestBotWaitsForPendingTx(t *testing.T) {
	n := reinvestNode(t)
	set := reinvestSettings(t, 50)
	set.State = state.Info{Phase: state.PhaseWaitingForTransaction, Operation: state.OpReinvestSwap, TxID: strings.Repeat("ab", 32), BlockHeight: 999}
	env := programtest.New(t, set, n)

	out, err := (&bot.ReinvestBot{}).Execute(ctx, bot.Cycle{Program: env.Program})
	require.NoError(t, err)
	assert.True(t, out.OK)
	stored, err := env.Store.FetchSettings(config.BotReinvest)
	require.NoError(t, err)
	assert.Equal(t, state.Idle().Phase, stored.State.Phase)
	assert.Empty(t, stored.State.TxID)
}

func TestReinvestBotCheckSetup(t *testing.T) {
	env := programtest.New(t, reinvestSettings(t, 5), reinvestNode(t))

	ok, err := (&bot.ReinvestBot{}).CheckSetup(ctx, bot.Cycle{Program: env.Program, Endpoint: "http://a"})
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, env.Notifier.Sent(), 1)
	msg := env.Notifier.Sent()[0]
	assert.True(t, strings.HasPrefix(msg, "Setup-Check result\nin address "+env.Program.Address()))
	assert.Contains(t, msg, "using pool GLD-DUSD")
	assert.Contains(t, msg, "auto donation is turned off")
	assert.Contains(t, msg, "using node at: http://a")
	assert.Contains(t, env.Notifier.Logged(), "log channel active")
}

// --- balancer ---

func balancerEnv(t *testing.T, pattern string) *programtest.Env {
	t.Helper()
	n := programtest.NewNode(t)
	n.SetBalance("2", "BTC", dec("0.02"))
	n.SetBalance("0", "DFI", dec("100"))
	n.Tokens = []network.Token{{ID: "15", Symbol: "DUSD", SymbolKey: "DUSD"}}
	n.Prices["BTC"] = price("40000")
	n.Prices["DFI"] = price("2")
	n.Paths["2>0"] = &network.BestPath{Pools: []network.PathPool{{ID: "5", Symbol: "BTC-DFI"}}, EstimatedReturn: dec("20000")}
	set := programtest.Settings(t, config.BotBalancer, false)
	set.Balancer.PortfolioPattern = pattern
	return programtest.New(t, set, n)
}

func TestBalancerBotSendsSteps(t *testing.T) {
	env := balancerEnv(t, "BTC:50 DFI:50")

	out, err := (&bot.BalancerBot{}).Execute(ctx, bot.Cycle{Program: env.Program})
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Empty(t, env.Node.Sent)
	assert.True(t, contains(env.Notifier.Logged(), "your current portfolio distribution:\n"))
	assert.NotEmpty(t, env.Notifier.Sent())
}

func TestBalancerBotWithoutTargets(t *testing.T) {
	env := balancerEnv(t, "")

	out, err := (&bot.BalancerBot{}).Execute(ctx, bot.Cycle{Program: env.Program})
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.Contains(t, env.Notifier.Sent(), "no portfolio targets defined. please provide valid targets")
}

func TestBalancerBotCheckSetup(t *testing.T) {
	env := balancerEnv(t, "BTC:50 DFI:50")

	ok, err := (&bot.BalancerBot{}).CheckSetup(ctx, bot.Cycle{Program: env.Program, Endpoint: "http://a"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, contains(env.Notifier.Sent(), "Setup-Check result:\n"))
	assert.Contains(t, env.Notifier.Logged(), "log channel active")
}
