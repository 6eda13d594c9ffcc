package balancer

import "errors"

var (
	// ErrNotBalancerSettings is returned when the program carries settings
	// of another bot kind.
	ErrNotBalancerSettings = errors.New("balancer: settings are not balancer settings")

	// ErrNoTargets indicates an empty or rejected portfolio pattern.
	ErrNoTargets = errors.New("balancer: no portfolio targets")

	// ErrMissingPool indicates an LP target whose pool does not exist.
	ErrMissingPool = errors.New("balancer: pool not found")
)

// PoolError names the LP target whose pool is missing.
type PoolError struct {
	Symbol string
}

func (e *PoolError) Error() string { return ErrMissingPool.Error() + ": " + e.Symbol }

func (e *PoolError) Unwrap() error { return ErrMissingPool }
