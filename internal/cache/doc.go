// Package cache implements recache's core: a self-refreshing keyed value
// cache whose entries are produced by registered zero-argument computations.
//
// # Overview
//
// The cache is built for read-cheap, compute-expensive values — remote
// lookups, heavy aggregations — where callers need a recent value quickly
// and must never drive the computation themselves. For every registered key
// the cache owns a dedicated worker that periodically recomputes the value,
// stores successes, retries failures, and expires stale entries.
//
// # Architecture
//
//	┌─────────────────────────────────────────┐
//	│               Registry                  │
//	│  RegisterFunction / Get / Invalidate /  │
//	│        Refresh / Keys / Stats           │
//	└─────────────────────────────────────────┘
//	          │                    │
//	          ▼                    ▼
//	┌──────────────────┐   ┌──────────────────┐
//	│  workers (map)   │   │      Store       │
//	│  one per key     │──▶│  key → value     │
//	└──────────────────┘   └──────────────────┘
//
// The registry owns the store and the worker set. Readers call the
// registry; the registry inspects the store and, on a miss, delegates to
// the worker addressed by key. Workers write to the store and to their own
// timers; they never talk to each other and never call back into the
// registry.
//
// # Worker State Machine
//
// Each worker cycles through four states:
//
//	idle ──startup delay──▶ running ──success──▶ stored
//	                          │  ▲                 │  │
//	                      failure │             refresh │
//	                          │  retry             │  expiry
//	                          ▼  │                 ▼  ▼
//	                        retrying            (entry removed,
//	                                             worker lives on)
//
// On success the worker writes the value, cancels the previous expiry
// timer, and schedules the next refresh at now+refreshInterval and the
// next expiry at now+ttl. Because registration enforces refreshInterval
// strictly less than ttl, an on-time successful refresh always lands
// before expiry and the entry never transiently disappears. When a
// computation keeps failing, the expiry timer eventually fires, the entry
// is deleted, and the next success repopulates it.
//
// Failures and recovered panics are retried immediately and forever; they
// never mutate the store and never cross the API.
//
// # Read Protocol
//
// Get serves three cases:
//   - store hit: return the stored value at once, even mid-refresh (stale
//     reads are deliberately preferred over blocking)
//   - miss with a live worker: block on the worker's current — or, between
//     runs, next — computation until it succeeds or the caller's deadline
//     passes; every non-success outcome surfaces as ErrTimeout
//   - no worker: ErrNotRegistered
//
// Awaiters of a failed run are not rebound to its retry; they time out on
// their original deadline, keeping read latency bounded and independent of
// retry loops.
//
// # Concurrency
//
// One goroutine per worker runs the event loop; each computation executes
// on its own goroutine so a slow function never stalls timer handling or
// await requests. The store has a single writer per key (the worker), so
// per-key writes are totally ordered and a reader can never observe an
// older value after a newer one.
//
// # Testing
//
// NewRegistry instances are fully isolated. WithClock accepts a
// clockwork.FakeClock for deterministic timer control, and WithStartupDelay
// compresses the pre-first-run pause for fast tests.
package cache
