package state

import "errors"

var (
	// ErrNoVersion indicates a stored state has no version field.
	ErrNoVersion = errors.New("state: no version in state found")

	// ErrUnknownBot indicates a version check for a bot kind without a minimum.
	ErrUnknownBot = errors.New("state: unknown bot kind")
)
