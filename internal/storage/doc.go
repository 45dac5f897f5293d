// Package storage defines the abstract storage interfaces and provides concrete
// implementations for recache's value store, the single source of truth for
// entries currently held by the cache.
//
// # Overview
//
// The storage package is the leaf of the recache component stack. It provides
// a thread-safe mapping from string keys to opaque values with point-in-time
// semantics and nothing else: no TTLs, no refresh scheduling, no knowledge of
// the workers that write to it. All lifetime semantics live in the cache layer
// above; a value is present here exactly when the most recent computation for
// its key succeeded and the entry has not yet been expired or invalidated.
//
// # Architecture
//
// The package follows a layered design:
//
//	┌─────────────────────────────────────┐
//	│          Cache Layer                │
//	│      (Registry, Workers)            │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│        Storage Interface            │
//	│             (Store)                 │
//	└─────────────────────────────────────┘
//	                 │
//	        ┌────────┴────────┐
//	        ▼                 ▼
//	   ┌────────┐       ┌──────────┐
//	   │ Memory │       │ Sharded  │
//	   │ Store  │       │  Store   │
//	   └────────┘       └──────────┘
//
// # Core Interface
//
// Store: basic key-value storage operations
//   - Get(key) - Retrieve a value, or ErrKeyNotFound
//   - Put(key, value) - Store or replace a key-value pair
//   - Delete(key) - Remove a key-value pair (idempotent)
//   - List() - Snapshot of all keys
//   - Stats() - Key count for monitoring
//
// # Implementations
//
// MemoryStore: a single map guarded by a sync.RWMutex. Suitable for tests
// and small key sets.
//
// ShardedStore: FNV-1a hash partitioning across independent MemoryStore
// segments. Operations on keys in different segments never contend; this is
// the default backing for the shared process-wide store.
//
// # Concurrency and Thread Safety
//
// All implementations guarantee:
//   - Safety under arbitrary parallel readers and writers
//   - Linearizability per key (the cache layer has a single writer per key,
//     so per-key writes are additionally totally ordered)
//   - Snapshot semantics for List and Stats (stale immediately)
//
// No guarantees are made across keys; the cache layer never needs them.
//
// # Failure Model
//
// None. The store is purely in-memory; out-of-memory and similar host
// failures are fatal to the process and not the store's concern. Put and
// Delete return errors only to keep the interface open to future backends.
//
// # Process-Wide Store
//
// Shared() returns the lazily-created process-wide store. The first caller
// creates it; every later call attaches to the existing instance. Components
// may therefore call Shared() in any order during startup.
//
// # See Also
//
// Related packages:
//   - internal/cache: the refresh/expiry/retry machinery that writes here
package storage
