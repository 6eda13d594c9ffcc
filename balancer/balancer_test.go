package balancer_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defichain-maxi/maxi-go/balancer"
	"github.com/defichain-maxi/maxi-go/config"
	"github.com/defichain-maxi/maxi-go/network"
	"github.com/defichain-maxi/maxi-go/program/programtest"
	"github.com/defichain-maxi/maxi-go/reinvest"
)

var ctx = context.Background()

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func price(p string) *network.OraclePrice {
	return &network.OraclePrice{Active: dec(p), Next: dec(p), IsLive: true}
}

// node holds 0.02 BTC (800 USD) and 100 DFI (200 USD).
func node(t *testing.T) *programtest.Node {
	t.Helper()
	n := programtest.NewNode(t)
	n.SetBalance("2", "BTC", dec("0.02"))
	n.SetBalance("0", "DFI", dec("100"))
	n.Tokens = []network.Token{{ID: "15", Symbol: "DUSD", SymbolKey: "DUSD"}}
	n.Prices["BTC"] = price("40000")
	n.Prices["DFI"] = price("2")
	n.Paths["2>0"] = &network.BestPath{Pools: []network.PathPool{{ID: "5", Symbol: "BTC-DFI"}}, EstimatedReturn: dec("20000")}
	return n
}

func setup(t *testing.T, n *programtest.Node, pattern string) (*programtest.Env, *balancer.Balancer) {
	t.Helper()
	set := programtest.Settings(t, config.BotBalancer, false)
	set.Balancer.PortfolioPattern = pattern
	env := programtest.New(t, set, n)
	b, err := balancer.New(env.Program)
	require.NoError(t, err)
	return env, b
}

// --- checks ---

func TestNewNeedsBalancerSettings(t *testing.T) {
	env := programtest.New(t, programtest.Settings(t, config.BotMaxi, false), programtest.NewNode(t))
	_, err := balancer.New(env.Program)
	assert.ErrorIs(t, err, balancer.ErrNotBalancerSettings)
}

func TestCheckAcceptsOwnWalletTargets(t *testing.T) {
	_, b := setup(t, node(t), "BTC:50 DFI:50")
	ok, err := b.Check(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, b.Targets(), 2)
}

func TestCheckRejectsTargets(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		msg     string
	}{
		{"foreign address", "BTC:50 DFI:50:" + reinvest.DonationAddress, "only own address targets possible right now"},
		{"duplicate", "BTC:50 BTC:50", "duplicate target for token BTC"},
		{"bad sum", "BTC:50 DFI:20", "sum of reinvest targets is not 100%. Its 70"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, b := setup(t, node(t), tt.pattern)
			ok, err := b.Check(ctx)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Empty(t, b.Targets())
			assert.Contains(t, env.Notifier.Sent(), tt.msg)
		})
	}
}

func TestCheckMessage(t *testing.T) {
	_, b := setup(t, node(t), "BTC:50 DFI:50")
	msg := b.CheckMessage("http://node:8554")
	assert.Contains(t, msg, "no valid key, will provide tx for manual signing")
	assert.Contains(t, msg, "portfolio Targets:\n  50.0%  in BTC\n  50.0%  in DFI")
	assert.Contains(t, msg, "will rebalance once one position is more than 5% above target")
	assert.Contains(t, msg, "using node at: http://node:8554")
}

// --- rebalancing ---

func TestRebalanceRecommendsSwaps(t *testing.T) {
	n := node(t)
	env, b := setup(t, n, "BTC:50 DFI:50")

	plan, err := b.Rebalance(ctx)
	require.NoError(t, err)
	assert.True(t, plan.Imbalanced)
	assert.Contains(t, env.Notifier.Sent(), "do the following swaps:\n0.00750000@BTC ➡ DFI\n")
	assert.Contains(t, env.Notifier.Logged()[0], "BTC: $800.00 = 80.0% (50%)")
	assert.Empty(t, n.Sent)
}

func TestRebalanceBalancedPortfolio(t *testing.T) {
	env, b := setup(t, node(t), "BTC:80 DFI:20")

	plan, err := b.Rebalance(ctx)
	require.NoError(t, err)
	assert.False(t, plan.Imbalanced)
	assert.Empty(t, env.Notifier.Sent())
}

func TestRebalanceValuesMissingTokens(t *testing.T) {
	_, b := setup(t, node(t), "BTC:40 DFI:40 DUSD:20")

	entries, err := b.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "15", entries[2].Tokens[0].ID)
	assert.True(t, entries[2].Value.IsZero())
}

func TestRebalanceWithoutTargets(t *testing.T) {
	env, b := setup(t, node(t), "")

	_, err := b.Rebalance(ctx)
	assert.ErrorIs(t, err, balancer.ErrNoTargets)
	assert.Contains(t, env.Notifier.Sent(), "no portfolio targets defined. please provide valid targets")
}

func TestRebalanceMissingPool(t *testing.T) {
	env, b := setup(t, node(t), "GLD-DUSD:50 DFI:50")

	_, err := b.Rebalance(ctx)
	assert.ErrorIs(t, err, balancer.ErrMissingPool)
	assert.Contains(t, env.Notifier.Sent(), "could not find pool for GLD-DUSD. please fix. won't continue until fixed.")
}

func TestRebalanceSplitsPoolShares(t *testing.T) {
	n := node(t)
	n.Pools = []network.Pool{{
		ID:             "30",
		Symbol:         "GLD-DUSD",
		TokenA:         network.PoolToken{ID: "20", Symbol: "GLD", Reserve: dec("1000")},
		TokenB:         network.PoolToken{ID: "15", Symbol: "DUSD", Reserve: dec("100000")},
		TotalLiquidity: dec("10000"),
	}}
	n.Prices["GLD"] = price("100")
	n.SetBalance("30", "GLD-DUSD", dec("10"))
	_, b := setup(t, n, "GLD-DUSD:50 DFI:50")

	entries, err := b.Entries(ctx)
	require.NoError(t, err)
	// 10 shares are 1 GLD and 100 DUSD
	assert.Equal(t, "30", entries[0].PoolID)
	assert.True(t, dec("200").Equal(entries[0].Value))
	assert.True(t, dec("1").Equal(entries[0].Tokens[0].Amount))
	assert.True(t, dec("100").Equal(entries[0].Tokens[1].Amount))
}
