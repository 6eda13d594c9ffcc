// Package state holds the resumable program-state record that every bot
// persists between invocations, and its pipe-delimited string form.
//
// Wire format: phase|operation|txid|height[|version]. Records that cannot
// be read decode to the idle record instead of failing.
package state

import (
	"strconv"
	"strings"
)

// Phase is the lifecycle phase of a bot.
type Phase string

// Phase values. The strings are stored verbatim and read back by older
// deployments, including the historical spelling of the error phase.
const (
	PhaseIdle                  Phase = "idle"
	PhaseWaitingForTransaction Phase = "waiting-for-transaction"
	PhaseError                 Phase = "error-occured"
)

// Operation names the in-flight step a bot was executing.
type Operation string

const (
	OpNone                Operation = "none"
	OpRemoveLiquidity     Operation = "removeliquidity"
	OpPaybackLoan         Operation = "paybackloan"
	OpTakeLoan            Operation = "takeloan"
	OpAddLiquidity        Operation = "addliquidity"
	OpReinvest            Operation = "reinvest"
	OpStableArbitrage     Operation = "stablearbitrage"
	OpReinvestSwap        Operation = "ReinvestSwap"
	OpReinvestDepositOrLM Operation = "ReinvestDepositOrLM"
)

const fieldSep = "|"

// Info is one persisted state record.
type Info struct {
	Phase       Phase
	Operation   Operation
	TxID        string
	BlockHeight uint64
	Version     string
}

// Idle returns the default record: idle, no operation, no pending tx.
func Idle() Info {
	return Info{Phase: PhaseIdle, Operation: OpNone}
}

// String encodes the record. The version field is omitted when empty so
// that records written without a version stay four fields wide.
func (i Info) String() string {
	parts := []string{
		string(i.Phase),
		string(i.Operation),
		i.TxID,
		strconv.FormatUint(i.BlockHeight, 10),
	}
	if i.Version != "" {
		parts = append(parts, i.Version)
	}
	return strings.Join(parts, fieldSep)
}

// IsIdle reports whether no operation is in flight.
func (i Info) IsIdle() bool { return i.Phase == PhaseIdle }

// HasPendingTx reports whether the record carries a transaction that the
// next run should wait for before doing anything else.
func (i Info) HasPendingTx() bool { return i.TxID != "" }

// Parse decodes a persisted record. Fewer than four fields, an empty
// phase, or a non-numeric height yield Idle(). Fields past the fifth are
// ignored.
func Parse(s string) Info {
	parts := strings.Split(strings.TrimSpace(s), fieldSep)
	if len(parts) < 4 || parts[0] == "" {
		return Idle()
	}
	height := uint64(0)
	if parts[3] != "" {
		h, err := strconv.ParseUint(parts[3], 10, 64)
		if err != nil {
			return Idle()
		}
		height = h
	}
	info := Info{
		Phase:       Phase(parts[0]),
		Operation:   Operation(parts[1]),
		TxID:        parts[2],
		BlockHeight: height,
	}
	if info.Operation == "" {
		info.Operation = OpNone
	}
	if len(parts) > 4 {
		info.Version = parts[4]
	}
	return info
}
