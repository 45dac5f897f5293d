// Package recache provides a process-wide, self-refreshing keyed value
// cache. Entries are produced by registered zero-argument computations;
// for every registered key a dedicated worker periodically recomputes the
// value, stores successes, retries failures, and expires stale entries.
//
// The package-level functions operate on a lazily-created singleton backed
// by the shared process-wide store: one cache per process, the common
// deployment. Independent instances (for tests, or for separately scoped
// caches) come from New.
//
// Usage:
//
//	err := recache.RegisterFunction("config", fetchConfig,
//	    5*time.Minute, time.Minute)
//	...
//	value, err := recache.Get("config")
//
// Readers either get a fresh stored value, an older stored value while a
// refresh runs, or block on the in-flight computation up to a bounded
// timeout. Computation failures never surface to readers; the only read
// errors are ErrTimeout and ErrNotRegistered.
package recache

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dreamware/recache/internal/cache"
	"github.com/dreamware/recache/internal/storage"
)

// Func is a registered computation: a zero-argument function producing the
// value to cache, or an error when the value cannot be produced.
type Func = cache.Func

// Registry is a self-contained cache instance. Most callers use the
// package-level functions instead; New exists for isolated instances.
type Registry = cache.Registry

// Option configures a Registry created by New.
type Option = cache.Option

// Store is the value store interface a Registry can be backed with.
type Store = storage.Store

// StoreStats describes a store's size.
type StoreStats = storage.StoreStats

// Configuration options, re-exported from the cache package.
var (
	WithStore          = cache.WithStore
	WithClock          = cache.WithClock
	WithLogger         = cache.WithLogger
	WithStartupDelay   = cache.WithStartupDelay
	WithDefaultTimeout = cache.WithDefaultTimeout
)

// Errors surfaced by the cache. See the cache package for the taxonomy.
var (
	ErrAlreadyRegistered = cache.ErrAlreadyRegistered
	ErrNotRegistered     = cache.ErrNotRegistered
	ErrTimeout           = cache.ErrTimeout

	ErrNilFunc                = cache.ErrNilFunc
	ErrInvalidTTL             = cache.ErrInvalidTTL
	ErrInvalidRefreshInterval = cache.ErrInvalidRefreshInterval
)

// DefaultTimeout is the read deadline used by Get.
const DefaultTimeout = cache.DefaultTimeout

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// New creates an independent cache instance. Without options it uses its
// own sharded store, the real clock, and the default startup delay and
// read timeout.
func New(opts ...Option) *Registry {
	return cache.NewRegistry(opts...)
}

// Default returns the process-wide cache, creating it on first use. The
// singleton attaches to the shared process-wide store, so constructing it
// is a no-op when an earlier caller already did.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = cache.NewRegistry(
			cache.WithStore(storage.Shared()),
			cache.WithLogger(log.With().Str("component", "recache").Logger()),
		)
	})
	return defaultRegistry
}

// RegisterFunction registers fn under key on the process-wide cache and
// starts the worker that keeps its value fresh. The first computation runs
// after a fixed 1s startup delay; thereafter the value is recomputed every
// refreshInterval and expires ttl after its last successful write.
//
// refreshInterval must be positive and strictly less than ttl. Returns
// ErrAlreadyRegistered when key is in use.
func RegisterFunction(key string, fn Func, ttl, refreshInterval time.Duration) error {
	return Default().RegisterFunction(key, fn, ttl, refreshInterval)
}

// Get returns the cached value for key from the process-wide cache,
// waiting up to DefaultTimeout when no stored value is available yet.
func Get(key string) (any, error) {
	return Default().Get(key, 0)
}

// GetWithTimeout is Get with an explicit deadline. A non-positive timeout
// selects DefaultTimeout.
func GetWithTimeout(key string, timeout time.Duration) (any, error) {
	return Default().Get(key, timeout)
}

// Invalidate removes any stored entry for key from the process-wide
// cache. The key's worker keeps running and repopulates the entry on its
// next successful computation.
func Invalidate(key string) {
	Default().Invalidate(key)
}

// Refresh signals key's worker on the process-wide cache to recompute now.
func Refresh(key string) error {
	return Default().Refresh(key)
}

// Keys lists the keys currently present in the process-wide cache.
func Keys() []string {
	return Default().Keys()
}

// Stats reports the process-wide cache's store statistics.
func Stats() StoreStats {
	return Default().Stats()
}
