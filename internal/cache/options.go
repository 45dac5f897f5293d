// Package cache implements the self-refreshing computation cache.
// This file defines the functional options accepted by NewRegistry.
package cache

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/dreamware/recache/internal/storage"
)

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithStore backs the registry with the given store instead of a private
// sharded store. Passing storage.Shared() attaches the registry to the
// process-wide store.
func WithStore(s storage.Store) Option {
	return func(r *Registry) {
		r.store = s
	}
}

// WithClock substitutes the clock used for all worker timers and read
// deadlines. Tests pass a clockwork.FakeClock to drive the state machine
// deterministically.
func WithClock(c clockwork.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// WithLogger sets the logger for the registry and all workers it spawns.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// WithStartupDelay overrides the pause between a worker's creation and its
// first computation. Non-positive values are ignored.
func WithStartupDelay(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.startupDelay = d
		}
	}
}

// WithDefaultTimeout overrides the deadline applied when Get is called
// with a non-positive timeout. Non-positive values are ignored.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}
