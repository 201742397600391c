package scheduler

import (
	"sync"

	"github.com/ChuLiYu/simclock/pkg/types"
)

// syncExecutor drives tasks from a discrete clock. Every time update runs
// the due tasks sub step by sub step and returns only when they completed, so
// the clock does not advance while jobs run.
type syncExecutor struct {
	mu      sync.Mutex
	storage *taskStorage
	d       *dispatcher
	running bool
}

func newSyncExecutor(storage *taskStorage, d *dispatcher) *syncExecutor {
	return &syncExecutor{storage: storage, d: d}
}

func (e *syncExecutor) start() {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
}

func (e *syncExecutor) stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	e.d.active.wait()

	e.d.gate.Lock()
	e.storage.prepareRestart()
	e.d.gate.Unlock()
}

func (e *syncExecutor) timeUpdating(cur types.Timestamp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}

	for e.dispatchStep(cur) {
		e.d.active.wait()
	}
}

// dispatchStep posts the tasks of the earliest sub step not after cur. It
// reports false when nothing was due.
func (e *syncExecutor) dispatchStep(cur types.Timestamp) bool {
	e.d.gate.RLock()
	defer e.d.gate.RUnlock()

	step, ok := e.storage.earliest(cur)
	if !ok {
		return false
	}
	for _, t := range e.storage.dueAt(step) {
		at := t.next
		if t.runner.strategy == types.StrategySkipCycle {
			// missed boundaries collapse into one activation
			t.next = catchUp(t.next, t.period, cur)
			at = t.next - t.period
		} else {
			t.next += t.period
		}
		e.d.dispatch(t, at)
	}
	return true
}

func (e *syncExecutor) timeResetBegin(oldTime, newTime types.Timestamp) {
	e.d.beginReset()
	e.storage.timeReset(oldTime, newTime)
}

func (e *syncExecutor) timeResetEnd() {
	e.d.endReset()
}
