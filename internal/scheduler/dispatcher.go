package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/simclock/internal/metrics"
	"github.com/ChuLiYu/simclock/internal/worker"
	"github.com/ChuLiYu/simclock/pkg/types"
)

// activity counts running activations and lets a caller wait until none is
// left. Unlike sync.WaitGroup it tolerates new activations while waiting.
type activity struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int
}

func newActivity() *activity {
	a := &activity{}
	a.cond = sync.NewCond(&a.mu)
	return a
}

func (a *activity) begin() {
	a.mu.Lock()
	a.count++
	a.mu.Unlock()
}

func (a *activity) end() {
	a.mu.Lock()
	a.count--
	if a.count == 0 {
		a.cond.Broadcast()
	}
	a.mu.Unlock()
}

func (a *activity) wait() {
	a.mu.Lock()
	for a.count > 0 {
		a.cond.Wait()
	}
	a.mu.Unlock()
}

// dispatcher posts task activations to the worker pool and applies the
// overlap part of the violation strategy.
//
// gate is held shared around every dispatch and exclusively from
// TimeResetBegin to TimeResetEnd, so no activation runs while the clock is
// reset. epoch counts resets; a clock reading taken under an older epoch is
// stale.
type dispatcher struct {
	pool    *worker.Pool
	metrics *metrics.Collector
	abort   func(error)
	active  *activity

	gate  sync.RWMutex
	epoch atomic.Uint64
	held  atomic.Bool
}

func newDispatcher(pool *worker.Pool, m *metrics.Collector, abort func(error)) *dispatcher {
	return &dispatcher{pool: pool, metrics: m, abort: abort, active: newActivity()}
}

// beginReset closes the gate and waits for running activations.
func (d *dispatcher) beginReset() {
	d.gate.Lock()
	d.epoch.Add(1)
	d.held.Store(true)
	d.active.wait()
}

// endReset reopens the gate. Without a matching beginReset it does nothing.
func (d *dispatcher) endReset() {
	if d.held.CompareAndSwap(true, false) {
		d.gate.Unlock()
	}
}

func (d *dispatcher) resets() uint64 {
	return d.epoch.Load()
}

// dispatch posts one activation of t at simulation time at. It returns the
// completion channel, or nil when the activation was dropped. The caller
// holds gate shared.
func (d *dispatcher) dispatch(t *task, at types.Timestamp) <-chan struct{} {
	if t.runner.consumeSkip() {
		log.Debug("activation skipped after overrun", "job", t.name, "time", at)
		d.metrics.RecordSkip(t.name, "skip_cycle")
		return nil
	}

	if t.inFlight.Load() > 0 && !d.allowOverlap(t) {
		return nil
	}

	t.inFlight.Add(1)
	t.startedAt.Store(time.Now().UnixNano())
	d.active.begin()
	done, err := d.pool.PostWithCompletion(t.name, func() {
		t.runner.run(at, t.job)
	})
	if err != nil {
		d.active.end()
		t.inFlight.Add(-1)
		log.Debug("activation not posted", "job", t.name, "error", err)
		return nil
	}
	d.metrics.RecordDispatch(t.name)

	// done is also closed when the pool drops the activation on stop
	go func() {
		<-done
		t.inFlight.Add(-1)
		d.active.end()
	}()
	return done
}

// allowOverlap decides whether a task still running from its previous
// activation is started again.
func (d *dispatcher) allowOverlap(t *task) bool {
	switch t.runner.strategy {
	case types.StrategyIgnoreRuntimeViolation:
		return true
	case types.StrategyWarnAboutRuntime:
		log.Warn("job still running from previous activation, starting anyway", "job", t.name)
		return true
	case types.StrategySkipCycle, types.StrategySkipOutputPublish:
		log.Warn("job still running from previous activation, activation skipped", "job", t.name)
		d.metrics.RecordSkip(t.name, "overlap")
		return false
	case types.StrategyAbortOnViolation:
		overrun := time.Since(time.Unix(0, t.startedAt.Load()))
		if d.abort != nil {
			d.abort(&types.AbortError{JobName: t.name, Reason: "previous activation still running", Overrun: overrun})
		}
		return false
	default:
		return true
	}
}
