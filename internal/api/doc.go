// Package api defines the JSON wire types and helpers shared by recache's
// HTTP read surface.
//
// # Overview
//
// The cache core is purely programmatic; the only network surface in the
// repository is the read-only daemon under cmd/recached. This package holds
// the request/response shapes that surface serves, kept separate from the
// daemon so tests and future clients can share them.
//
// # Types
//
//   - ValueResponse: a successful read ({"key": ..., "value": ...})
//   - KeysResponse: the present-keys listing
//   - StatsResponse: store statistics
//   - ErrorResponse: a failed read with a machine-readable error kind
//
// # Error Kinds
//
// Failed reads carry one of the cache's runtime error kinds:
//
//   - "timeout": a computation was in flight (or needed) and did not
//     succeed within the caller's deadline
//   - "not_registered": no computation is registered under the key
//
// Computation failure reasons never appear on the wire; they are folded
// into "timeout" by the cache core.
package api
