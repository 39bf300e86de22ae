package domain

import "errors"

var (
	// ErrInvalidConfig is returned when a marketplace config document fails validation
	ErrInvalidConfig = errors.New("invalid marketplace config")

	// ErrMissingIdentity is returned when an event yields no entity identity after extraction
	ErrMissingIdentity = errors.New("event missing entity identity")

	// ErrBadAmount is returned when a price or amount field cannot be parsed as an integer
	ErrBadAmount = errors.New("unparseable amount")

	// ErrStreamGap is returned when the transaction stream skips ahead of the expected version
	ErrStreamGap = errors.New("transaction stream gap")
)
