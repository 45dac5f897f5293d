// Package cache implements the self-refreshing computation cache.
// This file models a single execution of a registered compute function.
package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// Func is a registered computation: a zero-argument function producing the
// value to cache, or an error when the value cannot be produced.
//
// The cache treats the function as opaque. It is invoked off the worker's
// event loop, so it may block for as long as it needs; a slow function
// delays its own refresh cycle but never the worker's timer handling or
// readers of already-stored values. Panics are recovered and handled like
// returned errors.
type Func func() (any, error)

// computation is one pending or running execution of a Func.
//
// Each run gets its own computation instance, identified by run ID. The
// done channel is a latch: it is closed exactly once, by the worker loop,
// after a successful result has been written to the store. Failed or
// superseded runs never close it, which is what makes awaiters of a failed
// run sit out their full deadline instead of observing the failure.
type computation struct {
	// id identifies this run, distinguishing a live run's result from a
	// late result delivered after the run was superseded.
	id uuid.UUID

	// value holds the successful result. Written by the worker loop
	// before done is closed; the close is the publication barrier, so
	// readers must only touch value after done is closed.
	value any

	// done is closed on success only.
	done chan struct{}
}

// newComputation creates a computation latch for the next run.
func newComputation() *computation {
	return &computation{
		id:   uuid.New(),
		done: make(chan struct{}),
	}
}

// result carries a terminal computation outcome back to the worker loop.
// Exactly one result is produced per started run: success, failure, or a
// recovered crash (folded into err).
type result struct {
	comp  *computation
	value any
	err   error
}

// runProtected invokes fn, converting a panic into an error so a crashing
// computation is indistinguishable from a failing one at the worker level.
func runProtected(fn Func) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("computation panicked: %v", r)
		}
	}()
	return fn()
}
