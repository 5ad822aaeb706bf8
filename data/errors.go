package data

import "errors"

var (
	// ErrStaleVersion reports an owner transfer or permission change whose
	// claimed version does not match the current head.
	ErrStaleVersion = errors.New("data: stale version")
	// ErrTombstoned reports a mutation of an aggregate that has been
	// deleted by its owner.
	ErrTombstoned = errors.New("data: aggregate is tombstoned")
	// ErrAddressMismatch reports an operation or merge aimed at a different
	// aggregate.
	ErrAddressMismatch = errors.New("data: address mismatch")
)
