package bot

import (
	"errors"

	"github.com/defichain-maxi/maxi-go/network"
)

var (
	// ErrNoStore is returned by Run when the runner has no store.
	ErrNoStore = errors.New("bot: store is required")

	// ErrNoFactory is returned by Run when the runner cannot build programs.
	ErrNoFactory = errors.New("bot: program factory is required")

	// ErrUnknownKind is returned by NewBot for an unsupported bot kind.
	ErrUnknownKind = errors.New("bot: unknown bot kind")
)

// userMessage is the notification sent when a cycle failed with err.
func userMessage(err error) string {
	switch {
	case errors.Is(err, network.ErrInvalidResponse):
		return "There was a error from the node api. will try again."
	case network.IsTransient(err):
		return "There was a timeout from the node api. will try again."
	}
	msg := "There was an unexpected error in the script. please check the logs."
	var rpcErr *network.RPCError
	if errors.As(err, &rpcErr) {
		msg += "\nMessage was: " + rpcErr.Message
	}
	return msg
}
