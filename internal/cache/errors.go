// Package cache implements the self-refreshing computation cache.
// This file defines the error taxonomy surfaced by the package.
package cache

import "errors"

// Runtime errors. These are the only errors a caller can observe on the
// read and registration paths once arguments are valid.
var (
	// ErrAlreadyRegistered is returned by RegisterFunction when the key is
	// in use: a worker exists for it, or the store still holds an entry
	// under it.
	ErrAlreadyRegistered = errors.New("key already registered")

	// ErrNotRegistered is returned by Get when no worker exists for the key
	// and no stored value is present.
	ErrNotRegistered = errors.New("key not registered")

	// ErrTimeout is returned by Get when a computation was in flight (or
	// needed) and did not produce a success within the caller's deadline.
	// Computation failures are folded into this error; failure reasons are
	// never propagated to readers.
	ErrTimeout = errors.New("timed out waiting for computation")
)

// Contract errors. These indicate caller bugs in RegisterFunction arguments
// and are rejected synchronously, before any worker is spawned. They are not
// part of the runtime taxonomy above.
var (
	// ErrNilFunc is returned when the compute function is nil.
	ErrNilFunc = errors.New("compute function must not be nil")

	// ErrInvalidTTL is returned when the ttl is not positive.
	ErrInvalidTTL = errors.New("ttl must be positive")

	// ErrInvalidRefreshInterval is returned when the refresh interval is not
	// positive or is not strictly less than the ttl. The strict ordering is
	// what guarantees a successful refresh lands before expiry, so a stored
	// entry never transiently disappears between writes.
	ErrInvalidRefreshInterval = errors.New("refresh interval must be positive and less than ttl")
)
