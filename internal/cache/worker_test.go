// Package cache implements the self-refreshing computation cache.
// This file contains tests for the per-key worker state machine.
package cache

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/recache/internal/storage"
)

// testDeps builds worker dependencies around a fake clock so tests can
// drive the timers deterministically.
func testDeps(clk clockwork.Clock, store storage.Store, startupDelay time.Duration) workerDeps {
	return workerDeps{
		store:        store,
		clock:        clk,
		log:          zerolog.Nop(),
		startupDelay: startupDelay,
	}
}

// waitForValue polls the store until key holds want or the deadline passes.
// The poll runs on the real clock: once a fake-clock advance releases a
// timer, the resulting store write completes in real time.
func waitForValue(t *testing.T, store storage.Store, key string, want any) {
	t.Helper()
	require.Eventually(t, func() bool {
		value, err := store.Get(key)
		return err == nil && value == want
	}, 2*time.Second, 5*time.Millisecond)
}

// TestWorkerStartupDelay verifies that no computation runs before the fixed
// startup delay has elapsed, and that the first run follows promptly after.
func TestWorkerStartupDelay(t *testing.T) {
	clk := clockwork.NewFakeClock()
	store := storage.NewMemoryStore()

	var runs atomic.Int32
	fn := func() (any, error) {
		runs.Add(1)
		return 42, nil
	}

	w := newWorker("answer", fn, 100*time.Second, 10*time.Second, testDeps(clk, store, time.Second))
	w.Start()
	defer w.Stop()

	// The loop is parked on the startup timer once it registers as a
	// clock waiter.
	clk.BlockUntil(1)

	assert.Equal(t, int32(0), runs.Load(), "no run may start during the startup delay")
	_, err := store.Get("answer")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)

	// Elapse the startup delay; the first run fires and stores its value.
	clk.Advance(time.Second)
	waitForValue(t, store, "answer", 42)
	assert.Equal(t, int32(1), runs.Load())
}

// TestWorkerRefreshCycle verifies that each refresh fire triggers exactly
// one recomputation and that successive successes overwrite the entry.
func TestWorkerRefreshCycle(t *testing.T) {
	clk := clockwork.NewFakeClock()
	store := storage.NewMemoryStore()

	var counter atomic.Int32
	fn := func() (any, error) {
		return int(counter.Add(1)), nil
	}

	w := newWorker("counter", fn, 100*time.Second, 10*time.Second, testDeps(clk, store, time.Second))
	w.Start()
	defer w.Stop()

	clk.BlockUntil(1)
	clk.Advance(time.Second)
	waitForValue(t, store, "counter", 1)

	// After a success both the refresh and expiry timers are pending.
	clk.BlockUntil(2)
	clk.Advance(10 * time.Second)
	waitForValue(t, store, "counter", 2)

	clk.BlockUntil(2)
	clk.Advance(10 * time.Second)
	waitForValue(t, store, "counter", 3)
}

// TestWorkerExpiry verifies that a missed refresh lets the expiry timer
// fire and remove the entry, and that the worker survives the expiry.
func TestWorkerExpiry(t *testing.T) {
	clk := clockwork.NewFakeClock()
	store := storage.NewMemoryStore()

	// First run succeeds; later runs block until released so no refresh
	// can land before the expiry fires.
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var runs atomic.Int32
	fn := func() (any, error) {
		if runs.Add(1) == 1 {
			return "fresh", nil
		}
		<-release
		return "late", nil
	}

	w := newWorker("entry", fn, 30*time.Second, 10*time.Second, testDeps(clk, store, time.Second))
	w.Start()
	defer w.Stop()

	clk.BlockUntil(1)
	clk.Advance(time.Second)
	waitForValue(t, store, "entry", "fresh")

	// Advance past the ttl: the refresh at +10s starts a run that hangs,
	// and the expiry at +30s removes the entry.
	clk.BlockUntil(2)
	clk.Advance(30 * time.Second)

	require.Eventually(t, func() bool {
		_, err := store.Get("entry")
		return errors.Is(err, storage.ErrKeyNotFound)
	}, 2*time.Second, 5*time.Millisecond, "entry should expire without a successful refresh")
}

// TestWorkerFailureDoesNotStore verifies that failing computations never
// mutate the store and are retried.
func TestWorkerFailureDoesNotStore(t *testing.T) {
	clk := clockwork.NewFakeClock()
	store := storage.NewMemoryStore()

	var runs atomic.Int32
	fn := func() (any, error) {
		runs.Add(1)
		// Pace the retry loop so the test doesn't spin.
		time.Sleep(5 * time.Millisecond)
		return nil, errors.New("upstream unavailable")
	}

	w := newWorker("flaky", fn, 100*time.Second, 10*time.Second, testDeps(clk, store, time.Second))
	w.Start()
	defer w.Stop()

	clk.BlockUntil(1)
	clk.Advance(time.Second)

	// Retries happen without any further clock advance.
	require.Eventually(t, func() bool {
		return runs.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond, "failed runs should retry immediately")

	_, err := store.Get("flaky")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound, "failures must not write the store")
}

// TestWorkerPanicIsRetried verifies that a panicking computation is treated
// like a failure: recovered, not stored, retried.
func TestWorkerPanicIsRetried(t *testing.T) {
	clk := clockwork.NewFakeClock()
	store := storage.NewMemoryStore()

	var runs atomic.Int32
	fn := func() (any, error) {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		return "recovered", nil
	}

	w := newWorker("crashy", fn, 100*time.Second, 10*time.Second, testDeps(clk, store, time.Second))
	w.Start()
	defer w.Stop()

	clk.BlockUntil(1)
	clk.Advance(time.Second)

	// The retry after the panic succeeds and stores its value.
	waitForValue(t, store, "crashy", "recovered")
	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}

// TestWorkerRefreshSignal verifies that an external refresh signal starts a
// run without waiting for any timer.
func TestWorkerRefreshSignal(t *testing.T) {
	clk := clockwork.NewFakeClock()
	store := storage.NewMemoryStore()

	fn := func() (any, error) { return "signalled", nil }

	// Long startup delay: only the signal can start the run.
	w := newWorker("manual", fn, 100*time.Second, 10*time.Second, testDeps(clk, store, time.Hour))
	w.Start()
	defer w.Stop()

	clk.BlockUntil(1)
	w.Refresh()

	waitForValue(t, store, "manual", "signalled")
}

// TestWorkerRefreshSignalCoalesces verifies that signals arriving while a
// run is in flight do not queue up extra runs.
func TestWorkerRefreshSignalCoalesces(t *testing.T) {
	clk := clockwork.NewFakeClock()
	store := storage.NewMemoryStore()

	started := make(chan struct{}, 8)
	release := make(chan struct{})

	var runs atomic.Int32
	fn := func() (any, error) {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return "done", nil
	}

	w := newWorker("busy", fn, 100*time.Second, 10*time.Second, testDeps(clk, store, time.Hour))
	w.Start()
	defer w.Stop()

	clk.BlockUntil(1)
	w.Refresh()
	<-started

	// Signals during the run: at most one may be pending afterwards.
	for i := 0; i < 5; i++ {
		w.Refresh()
	}
	close(release)

	waitForValue(t, store, "busy", "done")

	// Allow any single coalesced signal to drain, then confirm the burst
	// did not fan out into five runs.
	assert.Eventually(t, func() bool {
		n := runs.Load()
		return n >= 1 && n <= 2
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, runs.Load(), int32(2))
}

// TestWorkerAwaitCurrent verifies the reader protocol against a real clock.
func TestWorkerAwaitCurrent(t *testing.T) {
	t.Run("await during startup delay returns first value", func(t *testing.T) {
		store := storage.NewMemoryStore()
		fn := func() (any, error) { return 7, nil }

		w := newWorker("first", fn, time.Minute, time.Second,
			testDeps(clockwork.NewRealClock(), store, 30*time.Millisecond))
		w.Start()
		defer w.Stop()

		value, err := w.AwaitCurrent(2 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, 7, value)
	})

	t.Run("await times out on failing computation", func(t *testing.T) {
		store := storage.NewMemoryStore()
		fn := func() (any, error) {
			time.Sleep(10 * time.Millisecond)
			return nil, errors.New("permanent failure")
		}

		w := newWorker("failing", fn, time.Minute, time.Second,
			testDeps(clockwork.NewRealClock(), store, 10*time.Millisecond))
		w.Start()
		defer w.Stop()

		start := time.Now()
		_, err := w.AwaitCurrent(200 * time.Millisecond)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond,
			"failure must not release the awaiter early")
	})

	t.Run("awaiters are not rebound to the retry run", func(t *testing.T) {
		store := storage.NewMemoryStore()

		// First run fails; every later run succeeds immediately.
		var runs atomic.Int32
		fn := func() (any, error) {
			if runs.Add(1) == 1 {
				return nil, errors.New("cold start")
			}
			return "warm", nil
		}

		w := newWorker("rebind", fn, time.Minute, time.Second,
			testDeps(clockwork.NewRealClock(), store, 20*time.Millisecond))
		w.Start()
		defer w.Stop()

		// The awaiter binds to the first (failing) run and must ride out
		// its full deadline even though the retry succeeds quickly.
		start := time.Now()
		_, err := w.AwaitCurrent(300 * time.Millisecond)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)

		// The retry's success is visible to the store and to new awaiters.
		waitForValue(t, store, "rebind", "warm")
	})

	t.Run("await binds to next run when none is in flight", func(t *testing.T) {
		store := storage.NewMemoryStore()

		var counter atomic.Int32
		fn := func() (any, error) {
			return int(counter.Add(1)), nil
		}

		w := newWorker("next", fn, time.Minute, 50*time.Millisecond,
			testDeps(clockwork.NewRealClock(), store, 5*time.Millisecond))
		w.Start()
		defer w.Stop()

		waitForValue(t, store, "next", 1)

		// Between runs: the awaiter should receive the next run's value.
		value, err := w.AwaitCurrent(2 * time.Second)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, value.(int), 2)
	})

	t.Run("await returns promptly after worker stop", func(t *testing.T) {
		store := storage.NewMemoryStore()
		fn := func() (any, error) { return 0, nil }

		w := newWorker("stopping", fn, time.Minute, time.Second,
			testDeps(clockwork.NewRealClock(), store, time.Hour))
		w.Start()

		done := make(chan error, 1)
		go func() {
			_, err := w.AwaitCurrent(10 * time.Second)
			done <- err
		}()

		time.Sleep(20 * time.Millisecond)
		w.Stop()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrTimeout)
		case <-time.After(time.Second):
			t.Fatal("awaiter did not return after worker stop")
		}
	})
}

// TestWorkerLateResultDiscarded verifies that a result whose run is no
// longer current is dropped without touching the store.
func TestWorkerLateResultDiscarded(t *testing.T) {
	clk := clockwork.NewFakeClock()
	store := storage.NewMemoryStore()

	fn := func() (any, error) { return "live", nil }

	// Long startup delay keeps the loop idle so the injected result is
	// the only event it sees.
	w := newWorker("late", fn, time.Minute, time.Second, testDeps(clk, store, time.Hour))
	w.Start()
	defer w.Stop()

	clk.BlockUntil(1)

	stale := newComputation()
	w.results <- result{comp: stale, value: "stale"}

	// The loop must discard the orphaned result rather than store it.
	time.Sleep(50 * time.Millisecond)
	_, err := store.Get("late")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

// TestWorkerSingleFlight verifies that at most one computation runs at any
// moment even when triggers race.
func TestWorkerSingleFlight(t *testing.T) {
	clk := clockwork.NewFakeClock()
	store := storage.NewMemoryStore()

	var inFlight atomic.Int32
	var maxInFlight atomic.Int32
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	fn := func() (any, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			prev := maxInFlight.Load()
			if n <= prev || maxInFlight.CompareAndSwap(prev, n) {
				break
			}
		}
		<-release
		return "ok", nil
	}

	w := newWorker("single", fn, time.Minute, time.Second, testDeps(clk, store, time.Hour))
	w.Start()
	defer w.Stop()

	clk.BlockUntil(1)

	// Fire every trigger we have while the first run is still blocked.
	w.Refresh()
	time.Sleep(20 * time.Millisecond)
	w.Refresh()
	w.Refresh()
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(1), maxInFlight.Load(), "only one computation may be in flight")
}
