package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoStringAndParseRoundTrip(t *testing.T) {
	tests := []Info{
		Idle(),
		{Phase: PhaseWaitingForTransaction, Operation: OpRemoveLiquidity, TxID: "ab12", BlockHeight: 2145914, Version: "v2.1"},
		{Phase: PhaseError, Operation: OpTakeLoan, TxID: "ff", BlockHeight: 7},
		{Phase: PhaseWaitingForTransaction, Operation: OpReinvestSwap, TxID: "cd", BlockHeight: 1, Version: "v1.0"},
		{Phase: PhaseIdle, Operation: OpNone, BlockHeight: 0, Version: "v2.0"},
	}
	for _, want := range tests {
		t.Run(want.String(), func(t *testing.T) {
			assert.Equal(t, want, Parse(want.String()))
		})
	}
}

func TestInfoStringFieldCount(t *testing.T) {
	assert.Equal(t, "idle|none||0", Idle().String())
	withVersion := Info{Phase: PhaseIdle, Operation: OpNone, BlockHeight: 12, Version: "v2.0"}
	assert.Equal(t, "idle|none||12|v2.0", withVersion.String())
}

func TestParseMalformedFallsBackToIdle(t *testing.T) {
	inputs := []string{
		"",
		"idle",
		"idle|none",
		"waiting-for-transaction|removeliquidity|abc",
		"|none|abc|12",
		"error-occured|takeloan|abc|notanumber",
		"error-occured|takeloan|abc|-4",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, Idle(), Parse(in))
		})
	}
}

func TestParseToleratesExtraFields(t *testing.T) {
	got := Parse("waiting-for-transaction|addliquidity|tx1|55|v2.1|extra|more")
	assert.Equal(t, PhaseWaitingForTransaction, got.Phase)
	assert.Equal(t, OpAddLiquidity, got.Operation)
	assert.Equal(t, "tx1", got.TxID)
	assert.Equal(t, uint64(55), got.BlockHeight)
	assert.Equal(t, "v2.1", got.Version)
}

func TestParseEmptyHeightAndOperation(t *testing.T) {
	got := Parse("error-occured|||")
	assert.Equal(t, PhaseError, got.Phase)
	assert.Equal(t, OpNone, got.Operation)
	assert.Equal(t, uint64(0), got.BlockHeight)
	assert.False(t, got.HasPendingTx())
	assert.False(t, got.IsIdle())
}

// --- version check ---

func newTestVersionCheck() *VersionCheck {
	return NewVersionCheck(map[string]Version{
		"maxi":     {Major: "2", Minor: "0"},
		"reinvest": {Major: "1", Minor: "0"},
	})
}

func TestVersionCheckEmptyStateIsCompatible(t *testing.T) {
	vc := newTestVersionCheck()
	ok, err := vc.IsCompatible("maxi", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVersionCheckComparesMajorAndMinor(t *testing.T) {
	vc := newTestVersionCheck()
	tests := []struct {
		kind    string
		version string
		want    bool
	}{
		{"maxi", "v1.9", false},
		{"maxi", "v2.0", true},
		{"maxi", "v2.1", true},
		{"reinvest", "v0.9", false},
		{"reinvest", "v1.0", true},
		{"reinvest", "v1.1", true},
		{"reinvest", "1", true},
	}
	for _, tc := range tests {
		t.Run(tc.kind+"-"+tc.version, func(t *testing.T) {
			ok, err := vc.IsCompatible(tc.kind, "idle|none||2145914|"+tc.version)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestVersionCheckMissingVersion(t *testing.T) {
	vc := newTestVersionCheck()
	_, err := vc.IsCompatible("maxi", "idle|none||2145914")
	assert.ErrorIs(t, err, ErrNoVersion)
}

func TestVersionCheckUnknownBot(t *testing.T) {
	vc := newTestVersionCheck()
	_, err := vc.IsCompatible("balancer", "idle|none||1|v1.0")
	assert.ErrorIs(t, err, ErrUnknownBot)
}

func TestVersionCheckDoesNotShareMinimums(t *testing.T) {
	mins := map[string]Version{"maxi": {Major: "2", Minor: "0"}}
	vc := NewVersionCheck(mins)
	mins["maxi"] = Version{Major: "9", Minor: "0"}
	ok, err := vc.IsCompatible("maxi", "idle|none||1|v2.0")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParseVersion(t *testing.T) {
	assert.Equal(t, Version{Major: "v2", Minor: "1"}, ParseVersion("v2.1"))
	assert.Equal(t, Version{Major: "3", Minor: "0"}, ParseVersion("3"))
	assert.Equal(t, "v2.0", Version{Major: "2", Minor: "0"}.String())
}
