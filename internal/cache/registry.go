// Package cache implements the self-refreshing computation cache.
// This file implements the registry, the single entry point that owns the
// store and the set of workers.
package cache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/dreamware/recache/internal/storage"
)

const (
	// DefaultTimeout is the read deadline applied when Get is called with a
	// non-positive timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultStartupDelay is the fixed pause between a worker's creation and
	// its first computation. Registration returns immediately; the first
	// value becomes observable within a few seconds of it.
	DefaultStartupDelay = 1000 * time.Millisecond
)

// Registry is the cache's facade: it enforces key uniqueness at
// registration, spawns one worker per registered key, and routes reads
// either to the store (hit), to the key's worker (miss with a live
// worker), or to ErrNotRegistered.
//
// The registry holds no values itself; the store is the single source of
// truth for present entries. Workers never talk to each other and never
// reference the registry back, so ownership is strictly tree-shaped:
// Registry → {Store, Workers}, Worker → {its timers, its run, Store}.
//
// Concurrency model:
//   - the workers map is guarded by an RWMutex; registration takes the
//     write lock, making concurrent registrations of the same key resolve
//     to exactly one winner
//   - reads take the read lock only to locate a worker; they never block
//     registration for longer than a map lookup
//
// A Registry is typically process-wide (see the recache root package), but
// independent instances are cheap and fully isolated, which tests rely on.
type Registry struct {
	store          storage.Store
	clock          clockwork.Clock
	log            zerolog.Logger
	startupDelay   time.Duration
	defaultTimeout time.Duration

	// mu protects workers and closed. Single-writer discipline: only
	// RegisterFunction mutates the map; Close reads it and sets closed.
	mu      sync.RWMutex
	workers map[string]*Worker

	closed bool
}

// NewRegistry creates a registry with its own store and workers, applying
// any options. With no options it uses a fresh sharded store, the real
// clock, a no-op logger, and the default startup delay and timeout.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		store:          storage.NewShardedStore(32),
		clock:          clockwork.NewRealClock(),
		log:            zerolog.Nop(),
		startupDelay:   DefaultStartupDelay,
		defaultTimeout: DefaultTimeout,
		workers:        make(map[string]*Worker),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// RegisterFunction registers fn under key and spawns the worker that will
// keep its value fresh.
//
// Validation (contract errors, checked synchronously):
//   - fn must be non-nil
//   - ttl must be positive
//   - refreshInterval must be positive and strictly less than ttl
//
// Uniqueness: registration fails with ErrAlreadyRegistered when a worker
// for key exists or the store still holds an entry under key. The check
// and the worker spawn happen under one lock, so two concurrent
// registrations of the same key yield exactly one success.
//
// On success the worker is live immediately; its first computation starts
// after the registry's startup delay.
func (r *Registry) RegisterFunction(key string, fn Func, ttl, refreshInterval time.Duration) error {
	if fn == nil {
		return ErrNilFunc
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	if refreshInterval <= 0 || refreshInterval >= ttl {
		return ErrInvalidRefreshInterval
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[key]; exists {
		return ErrAlreadyRegistered
	}
	if _, err := r.store.Get(key); err == nil {
		// An entry without a worker cannot normally arise, but the
		// uniqueness rule is: worker or entry, either blocks the key.
		return ErrAlreadyRegistered
	}

	w := newWorker(key, fn, ttl, refreshInterval, workerDeps{
		store:        r.store,
		clock:        r.clock,
		log:          r.log,
		startupDelay: r.startupDelay,
	})
	r.workers[key] = w
	w.Start()

	r.log.Info().
		Str("key", key).
		Dur("ttl", ttl).
		Dur("refresh_interval", refreshInterval).
		Msg("function registered")

	return nil
}

// Get returns the cached value for key, waiting at most timeout.
//
// Routing:
//   - store hit: the stored value is returned immediately, even while a
//     refresh for the same key is in flight — a slightly stale read is
//     preferred over blocking
//   - store miss with a live worker: the call delegates to the worker and
//     blocks until the current (or next) computation succeeds or the
//     deadline passes, returning ErrTimeout for every non-success outcome
//   - no worker: ErrNotRegistered
//
// A non-positive timeout selects the registry's default (30s unless
// configured otherwise). The call returns within timeout plus scheduling
// slack regardless of what the computation does.
func (r *Registry) Get(key string, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	if value, err := r.store.Get(key); err == nil {
		return value, nil
	}

	r.mu.RLock()
	w := r.workers[key]
	r.mu.RUnlock()

	if w == nil {
		return nil, ErrNotRegistered
	}

	// The entry may have landed between the miss and the worker lookup;
	// re-reading here spares such a reader a wait on the next run.
	if value, err := r.store.Get(key); err == nil {
		return value, nil
	}

	return w.AwaitCurrent(timeout)
}

// Invalidate removes any stored entry for key without touching its worker.
// The next successful run repopulates the entry; until then readers block
// on the worker as for any other miss. Idempotent; unknown keys are a
// no-op.
func (r *Registry) Invalidate(key string) {
	if err := r.store.Delete(key); err != nil {
		r.log.Error().Err(err).Str("key", key).Msg("invalidate failed")
	}
}

// Refresh signals key's worker to run its function now instead of waiting
// for the next refresh tick. Returns ErrNotRegistered when no worker
// exists for key. The signal is fire-and-forget; use Get to observe the
// result.
func (r *Registry) Refresh(key string) error {
	r.mu.RLock()
	w := r.workers[key]
	r.mu.RUnlock()

	if w == nil {
		return ErrNotRegistered
	}

	w.Refresh()
	return nil
}

// Keys returns a snapshot of the keys currently present in the store.
// Registered keys whose first computation has not succeeded yet (or whose
// entry expired) are absent.
func (r *Registry) Keys() []string {
	return r.store.List()
}

// Stats returns store statistics.
func (r *Registry) Stats() storage.StoreStats {
	return r.store.Stats()
}

// Registered reports whether a worker exists for key.
func (r *Registry) Registered(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.workers[key]
	return exists
}

// Close stops all workers and waits for their loops to exit. Pending
// readers receive ErrTimeout. The registry must not be used afterwards;
// Close exists for tests and for process shutdown, not for cache
// lifecycle management.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	workers := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(workers))
	for _, w := range workers {
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()

	r.log.Debug().Int("workers", len(workers)).Msg("registry closed")
}
