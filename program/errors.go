package program

import "errors"

var (
	// ErrNoChain indicates the program was built without a chain service.
	ErrNoChain = errors.New("program: no chain service")

	// ErrInvalidAddress indicates the configured address does not decode on the network.
	ErrInvalidAddress = errors.New("program: invalid wallet address")

	// ErrNoVault indicates a vault operation without a configured vault id.
	ErrNoVault = errors.New("program: no vault configured")

	// ErrTokenNotFound indicates a symbol that the node does not know.
	ErrTokenNotFound = errors.New("program: token not found")

	// ErrPoolNotFound indicates a pool symbol that the node does not list.
	ErrPoolNotFound = errors.New("program: pool not found")

	// ErrInvalidAmount indicates a zero or negative amount for an operation.
	ErrInvalidAmount = errors.New("program: amount must be positive")
)
