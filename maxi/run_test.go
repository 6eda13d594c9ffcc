package maxi_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defichain-maxi/maxi-go/config"
	"github.com/defichain-maxi/maxi-go/maxi"
	"github.com/defichain-maxi/maxi-go/network"
	"github.com/defichain-maxi/maxi-go/program/programtest"
	"github.com/defichain-maxi/maxi-go/state"
	"github.com/defichain-maxi/maxi-go/tx"
)

func session(e *maxi.Engine) *maxi.Session {
	return &maxi.Session{Engine: e, ConsistencyDelay: time.Millisecond}
}

func storedState(t *testing.T, env *programtest.Env) state.Info {
	t.Helper()
	set, err := env.Store.FetchSettings(config.BotMaxi)
	require.NoError(t, err)
	return set.State
}

// --- decision cycle ---

func TestRunDecreasesBelowBand(t *testing.T) {
	n := node(t, "750")
	yieldOnRemove(n)
	env, e := setup(t, n, nil)

	out, err := session(e).Run(ctx, state.Idle(), 0)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.True(t, out.ExposureChanged)
	assert.Equal(t, []tx.OpType{tx.OpRemovePoolLiquidity, tx.OpPaybackLoan}, n.Ops())
	assert.Equal(t, state.PhaseIdle, storedState(t, env).Phase)
	assert.True(t, contains(env.Notifier.Logged(), "executed script at block 1000 successfully."))
}

func TestRunIncreasesAboveBand(t *testing.T) {
	n := node(t, "1500")
	env, e := setup(t, n, nil)

	out, err := session(e).Run(ctx, state.Idle(), 0)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, []tx.OpType{tx.OpTakeLoan, tx.OpAddPoolLiquidity}, n.Ops())
	assert.Equal(t, state.PhaseIdle, storedState(t, env).Phase)
}

func TestRunInsideBandDoesNothing(t *testing.T) {
	n := node(t, "925")
	env, e := setup(t, n, nil)

	out, err := session(e).Run(ctx, state.Idle(), 0)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.False(t, out.ExposureChanged)
	assert.Empty(t, n.Sent)
	assert.True(t, contains(env.Notifier.Logged(), "without changes.\nvault ratio 185 next 185."))
}

func TestRunContinuesAfterUnconfirmedReinvest(t *testing.T) {
	n := node(t, "925")
	n.Unconfirmed = true
	env, e := setup(t, n, func(m *config.MaxiSettings) {
		m.Reinvest.Threshold = 1
		m.Reinvest.Pattern = "DFI"
	})

	out, err := session(e).Run(ctx, state.Idle(), 0)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.False(t, out.Stop)
	assert.NotEmpty(t, out.PendingReinvest)
	assert.Contains(t, env.Notifier.Sent(), "ERROR: swapping reinvestment failed")
	assert.Equal(t, tx.OpUtxosToAccount, n.Ops()[0])

	st := storedState(t, env)
	assert.Equal(t, state.PhaseWaitingForTransaction, st.Phase)
	assert.Equal(t, state.OpReinvest, st.Operation)
	assert.Equal(t, out.PendingReinvest, st.TxID)
	assert.True(t, contains(env.Notifier.Logged(), "executed script at block 1000"))
}

func TestRunSkipsIncreaseWithoutTime(t *testing.T) {
	n := node(t, "1500")
	_, e := setup(t, n, nil)
	s := session(e)
	s.MinTimePerAction = time.Minute
	s.Remaining = func() time.Duration { return time.Second }

	_, err := s.Run(ctx, state.Idle(), 0)
	require.NoError(t, err)
	assert.Empty(t, n.Sent)
}

func TestRunStopsOnFailedCheck(t *testing.T) {
	n := node(t, "750")
	n.Vault.State = network.VaultInLiquidation
	_, e := setup(t, n, nil)

	out, err := session(e).Run(ctx, state.Idle(), 0)
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.True(t, out.Stop)
	assert.Empty(t, n.Sent)
}

func TestRunRemovesExposureOfFrozenVault(t *testing.T) {
	n := node(t, "925")
	n.Vault.State = network.VaultFrozen
	yieldOnRemove(n)
	env, e := setup(t, n, nil)

	_, err := session(e).Run(ctx, state.Idle(), 0)
	require.NoError(t, err)
	assert.Equal(t, []tx.OpType{tx.OpRemovePoolLiquidity, tx.OpPaybackLoan}, n.Ops())
	assert.Contains(t, env.Notifier.Sent(), "vault is frozen. trying again later ")
}

func TestRunRemovesExposureOnInconsistentData(t *testing.T) {
	n := node(t, "925")
	n.Vault.LoanValue = n.Vault.LoanValue.Mul(dec("1.5"))
	yieldOnRemove(n)
	env, e := setup(t, n, nil)

	_, err := session(e).Run(ctx, state.Idle(), 0)
	require.NoError(t, err)
	assert.True(t, contains(env.Notifier.Sent(), "Consistency checks in node data failed"))
	assert.Equal(t, []tx.OpType{tx.OpRemovePoolLiquidity, tx.OpPaybackLoan}, n.Ops())
}

func TestRunRemovesExposureWhenInterestAboveAPR(t *testing.T) {
	n := node(t, "925")
	n.LoanTokens["DUSD"] = &network.LoanToken{Token: network.Token{ID: "15", Symbol: "DUSD"}, Interest: dec("30")}
	n.Pools[0].APR = &network.PoolAPR{Total: dec("0.1")}
	yieldOnRemove(n)
	env, e := setup(t, n, nil)

	_, err := session(e).Run(ctx, state.Idle(), 0)
	require.NoError(t, err)
	assert.Contains(t, env.Notifier.Sent(), "interest rate higher than APR -> removing/preventing exposure")
	assert.Equal(t, tx.OpRemovePoolLiquidity, n.Ops()[0])
}

// --- recovery ---

func TestRunCleansUpInterruptedRemoval(t *testing.T) {
	n := node(t, "925")
	n.SetBalance("20", "GLD", dec("0.5"))
	env, e := setup(t, n, nil)
	prev := state.Info{
		Phase:       state.PhaseWaitingForTransaction,
		Operation:   state.OpRemoveLiquidity,
		TxID:        strings.Repeat("ab", 32),
		BlockHeight: 999,
	}

	out, err := session(e).Run(ctx, prev, 0)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Zero(t, out.CleanUpTries)
	assert.Equal(t, []tx.Payload{payback(t, env, sats(20, "0.5"))}, n.Payloads())
	assert.Contains(t, env.Notifier.Sent(), "Successfully cleaned up after some error happened")
	assert.Equal(t, state.PhaseIdle, storedState(t, env).Phase)
}

func TestRunResumesConfirmedAddLiquidity(t *testing.T) {
	n := node(t, "925")
	env, e := setup(t, n, nil)
	prev := state.Info{
		Phase:       state.PhaseWaitingForTransaction,
		Operation:   state.OpAddLiquidity,
		TxID:        strings.Repeat("ab", 32),
		BlockHeight: 999,
	}

	out, err := session(e).Run(ctx, prev, 0)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Empty(t, n.Sent)
	assert.NotContains(t, env.Notifier.Sent(), "Successfully cleaned up after some error happened")
}

func TestRunSkipsCleanUpAfterTooManyTries(t *testing.T) {
	n := node(t, "925")
	n.SetBalance("20", "GLD", dec("0.5"))
	env, e := setup(t, n, nil)
	prev := state.Info{Phase: state.PhaseError}

	out, err := session(e).Run(ctx, prev, 3)
	require.NoError(t, err)
	assert.Empty(t, n.Sent)
	assert.Equal(t, 3, out.CleanUpTries)
	assert.Equal(t, state.PhaseError, storedState(t, env).Phase)
}
