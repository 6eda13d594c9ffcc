package maxi

import "errors"

var (
	ErrNotMaxiSettings = errors.New("maxi: settings carry no maxi payload")
	ErrInvalidPair     = errors.New("maxi: pair must be X-DUSD or DUSD-DFI")
	ErrNoPool          = errors.New("maxi: pool not found")
	ErrNothingToRemove = errors.New("maxi: no pool tokens or no loans left")
)
