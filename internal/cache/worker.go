// Package cache implements the self-refreshing computation cache.
// This file implements the per-key worker that runs the refresh, expiry
// and retry state machine.
package cache

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/dreamware/recache/internal/storage"
)

// workerState names the phase the worker's state machine is in. Held and
// mutated only by the worker's event loop; exposed solely through logging.
type workerState int

const (
	// stateIdle: created, waiting out the startup delay before the first run.
	stateIdle workerState = iota
	// stateRunning: a computation is in flight, started by a timer or signal.
	stateRunning
	// stateStored: last run succeeded; value present, refresh and expiry pending.
	stateStored
	// stateRetrying: last run failed or crashed; a fresh run is already active.
	stateRetrying
)

// String returns the state name for log fields.
func (s workerState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateStored:
		return "stored"
	case stateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// Worker owns the refresh/expiry/retry state machine for exactly one key.
//
// Each worker runs a single event-loop goroutine consuming four kinds of
// events: timer fires (startup, refresh, expiry), computation completions,
// refresh signals, and await requests from readers. The registered function
// executes on a separate goroutine per run so that a slow computation never
// stalls timer handling or readers.
//
// Lifecycle per run:
//   - a timer fire or Refresh signal starts a computation (at most one in
//     flight at any moment)
//   - success writes the value to the store, releases awaiters, cancels the
//     previous expiry timer and schedules the next refresh and expiry
//   - failure or crash starts a new run immediately, touching neither the
//     store nor the awaiters of the failed run
//   - an expiry fire deletes the store entry; the worker itself lives on
//     and repopulates the entry on its next successful run
//
// Workers are created by the Registry at registration time and live until
// the registry is closed; there is no per-key shutdown.
type Worker struct {
	key             string
	fn              Func
	ttl             time.Duration
	refreshInterval time.Duration
	startupDelay    time.Duration

	store storage.Store
	clock clockwork.Clock
	log   zerolog.Logger

	// awaitQ carries reader requests into the loop; the loop answers each
	// with the computation the reader should wait on.
	awaitQ chan chan *computation

	// refreshNow coalesces external run-now signals. Buffered so Refresh
	// never blocks; a signal arriving while a run is active is a no-op.
	refreshNow chan struct{}

	// results delivers terminal computation outcomes back to the loop.
	results chan result

	// Loop-owned state. Touched only from the run goroutine.
	state        workerState
	current      *computation // run in flight, nil otherwise
	next         *computation // latch handed to awaiters between runs
	refreshTimer clockwork.Timer
	expiryTimer  clockwork.Timer

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// newWorker creates a worker for key. The worker does nothing until Start
// is called.
func newWorker(key string, fn Func, ttl, refreshInterval time.Duration, cfg workerDeps) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		key:             key,
		fn:              fn,
		ttl:             ttl,
		refreshInterval: refreshInterval,
		startupDelay:    cfg.startupDelay,
		store:           cfg.store,
		clock:           cfg.clock,
		log:             cfg.log.With().Str("key", key).Logger(),
		awaitQ:          make(chan chan *computation),
		refreshNow:      make(chan struct{}, 1),
		results:         make(chan result, 1),
		state:           stateIdle,
		ctx:             ctx,
		cancel:          cancel,
		stopped:         make(chan struct{}),
	}
}

// workerDeps bundles the collaborators the registry hands to each worker.
type workerDeps struct {
	store        storage.Store
	clock        clockwork.Clock
	log          zerolog.Logger
	startupDelay time.Duration
}

// Key returns the key this worker owns.
func (w *Worker) Key() string {
	return w.key
}

// Start launches the worker's event loop.
func (w *Worker) Start() {
	go w.run()
}

// Stop terminates the event loop and waits for it to exit. In-flight
// computations are abandoned (their results are discarded); pending
// awaiters return ErrTimeout.
func (w *Worker) Stop() {
	w.cancel()
	<-w.stopped
}

// AwaitCurrent blocks until the worker's current computation completes
// successfully, for at most timeout.
//
// Readers arriving while no run is in flight (during the startup delay, or
// after an expiry emptied the store) are bound to the next run instead.
// Only a success releases awaiters; if the run fails or crashes the worker
// retries with a fresh computation, awaiters are not rebound, and they
// return ErrTimeout at their own deadline. This keeps reader deadlines
// bounded regardless of how long the retry loop spins.
//
// Returns the success value, or ErrTimeout for every non-success outcome.
func (w *Worker) AwaitCurrent(timeout time.Duration) (any, error) {
	deadline := w.clock.After(timeout)

	reply := make(chan *computation, 1)
	select {
	case w.awaitQ <- reply:
	case <-deadline:
		return nil, ErrTimeout
	case <-w.ctx.Done():
		return nil, ErrTimeout
	}

	comp := <-reply
	select {
	case <-comp.done:
		return comp.value, nil
	case <-deadline:
		return nil, ErrTimeout
	case <-w.ctx.Done():
		return nil, ErrTimeout
	}
}

// Refresh signals the worker to run its function now. The signal is
// coalesced: if a run is already in flight, or a signal is already
// pending, Refresh is a no-op. It never blocks.
func (w *Worker) Refresh() {
	select {
	case w.refreshNow <- struct{}{}:
	default:
	}
}

// run is the worker's event loop. All state-machine transitions happen
// here, on a single goroutine; computations execute elsewhere and report
// back through the results channel.
func (w *Worker) run() {
	defer close(w.stopped)

	startupTimer := w.clock.NewTimer(w.startupDelay)
	defer startupTimer.Stop()
	startupC := startupTimer.Chan()

	w.log.Debug().
		Dur("ttl", w.ttl).
		Dur("refresh_interval", w.refreshInterval).
		Msg("worker started")

	for {
		// Timers are created lazily; a nil channel arm never fires.
		var refreshC, expiryC <-chan time.Time
		if w.refreshTimer != nil {
			refreshC = w.refreshTimer.Chan()
		}
		if w.expiryTimer != nil {
			expiryC = w.expiryTimer.Chan()
		}

		select {
		case <-startupC:
			startupC = nil
			w.startRun()

		case <-refreshC:
			w.startRun()

		case <-w.refreshNow:
			w.startRun()

		case res := <-w.results:
			w.handleResult(res)

		case reply := <-w.awaitQ:
			reply <- w.currentOrNext()

		case <-expiryC:
			w.expire()

		case <-w.ctx.Done():
			w.log.Debug().Msg("worker stopped")
			return
		}
	}
}

// startRun begins a computation unless one is already in flight. A pending
// next latch (handed out to awaiters between runs) becomes the current run
// so those awaiters see its outcome.
func (w *Worker) startRun() {
	if w.current != nil {
		// One computation in flight at a time; a racing trigger (refresh
		// signal vs startup timer, for instance) is dropped here.
		return
	}

	c := w.next
	if c == nil {
		c = newComputation()
	}
	w.next = nil
	w.current = c
	w.state = stateRunning

	w.log.Debug().Str("run_id", c.id.String()).Msg("computation started")
	go w.execute(c)
}

// execute runs the registered function for one computation and reports the
// outcome to the loop. Runs on its own goroutine.
func (w *Worker) execute(c *computation) {
	value, err := runProtected(w.fn)

	select {
	case w.results <- result{comp: c, value: value, err: err}:
	case <-w.ctx.Done():
	}
}

// handleResult applies a terminal computation outcome to the state machine.
func (w *Worker) handleResult(res result) {
	if w.current == nil || res.comp.id != w.current.id {
		// A result from a superseded run arriving after its monitoring
		// reference was released. Discard silently.
		w.log.Debug().Str("run_id", res.comp.id.String()).Msg("late result discarded")
		return
	}

	if res.err != nil {
		w.log.Warn().
			Err(res.err).
			Str("run_id", res.comp.id.String()).
			Str("state", stateRetrying.String()).
			Msg("computation failed, retrying")

		// Immediate retry with a fresh computation. Awaiters of the failed
		// run stay bound to it and will hit their own deadlines; the failed
		// latch is simply abandoned.
		c := newComputation()
		w.current = c
		w.state = stateRetrying
		go w.execute(c)
		return
	}

	// Success: publish to the store before releasing awaiters, so a reader
	// woken here and re-reading through the registry sees the same value.
	if err := w.store.Put(w.key, res.value); err != nil {
		// The in-memory store cannot fail; treat a failure from a future
		// backend like a failed computation.
		w.log.Error().Err(err).Msg("store write failed, retrying")
		c := newComputation()
		w.current = c
		w.state = stateRetrying
		go w.execute(c)
		return
	}

	res.comp.value = res.value
	close(res.comp.done)
	w.current = nil
	w.state = stateStored

	// Cancel-and-reschedule both timers: the refresh consumed its fire (or
	// this was a signalled run), and the fresh value supersedes the old
	// expiry deadline.
	w.scheduleRefresh(w.refreshInterval)
	w.scheduleExpiry(w.ttl)

	w.log.Debug().Str("run_id", res.comp.id.String()).Str("state", w.state.String()).Msg("value stored")
}

// expire removes the stored entry after its ttl elapsed without a
// successful refresh. The worker stays alive; the next successful run
// repopulates the entry.
func (w *Worker) expire() {
	if err := w.store.Delete(w.key); err != nil {
		w.log.Error().Err(err).Msg("store delete failed")
		return
	}
	w.log.Info().Msg("entry expired")
}

// currentOrNext returns the computation a newly arrived reader should wait
// on: the in-flight run if there is one, otherwise a latch for the next run.
func (w *Worker) currentOrNext() *computation {
	if w.current != nil {
		return w.current
	}
	if w.next == nil {
		w.next = newComputation()
	}
	return w.next
}

// scheduleRefresh (re)arms the refresh timer. Stopping and draining before
// Reset tolerates a just-fired-but-unhandled timer, so at most one refresh
// is ever pending.
func (w *Worker) scheduleRefresh(d time.Duration) {
	if w.refreshTimer == nil {
		w.refreshTimer = w.clock.NewTimer(d)
		return
	}
	if !w.refreshTimer.Stop() {
		select {
		case <-w.refreshTimer.Chan():
		default:
		}
	}
	w.refreshTimer.Reset(d)
}

// scheduleExpiry (re)arms the expiry timer, cancelling any previous expiry
// deadline. Same spurious-fire tolerance as scheduleRefresh.
func (w *Worker) scheduleExpiry(d time.Duration) {
	if w.expiryTimer == nil {
		w.expiryTimer = w.clock.NewTimer(d)
		return
	}
	if !w.expiryTimer.Stop() {
		select {
		case <-w.expiryTimer.Chan():
		default:
		}
	}
	w.expiryTimer.Reset(d)
}
