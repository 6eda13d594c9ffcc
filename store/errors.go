package store

import "errors"

var (
	// ErrNotFound indicates a parameter key has no stored value.
	ErrNotFound = errors.New("store: parameter not found")

	// ErrInvalidValue indicates a stored value cannot be read as the expected type.
	ErrInvalidValue = errors.New("store: invalid parameter value")

	// ErrUnknownKind indicates settings were requested for an unknown bot kind.
	ErrUnknownKind = errors.New("store: unknown bot kind")

	// ErrSeedLocked indicates a sealed seed exists but no password was given.
	ErrSeedLocked = errors.New("store: seed is sealed and no password is configured")

	// ErrEmptyKey indicates an empty parameter key.
	ErrEmptyKey = errors.New("store: empty parameter key")
)
