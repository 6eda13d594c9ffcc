package network

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrConnectionFailed indicates the client could not reach the node.
	ErrConnectionFailed = errors.New("network: connection failed")

	// ErrTxNotFound indicates the transaction is unknown to the node.
	ErrTxNotFound = errors.New("network: transaction not found")

	// ErrBroadcastRejected indicates the node refused a raw transaction.
	ErrBroadcastRejected = errors.New("network: broadcast rejected")

	// ErrInvalidResponse indicates a malformed or unexpected response, such
	// as an HTML error page from a proxy.
	ErrInvalidResponse = errors.New("network: invalid response")

	// ErrNotFound indicates a queried vault, token or pool does not exist.
	ErrNotFound = errors.New("network: not found")

	// ErrNoEndpoints indicates a failover service built without endpoints.
	ErrNoEndpoints = errors.New("network: no endpoints configured")
)

// Node RPC error codes the bots react to.
const (
	CodeInvalidAddressOrKey = -5
	CodeInvalidParameter    = -8
)

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("network: rpc error %d: %s", e.Code, e.Message)
}

// IsTransient reports whether err is a connectivity or timeout problem
// worth retrying on another endpoint, as opposed to a node rejection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrInvalidResponse) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
