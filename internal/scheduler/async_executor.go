package scheduler

import (
	"sync"
	"time"

	"github.com/ChuLiYu/simclock/pkg/types"
)

// idleWait bounds the sleep of the dispatch loop when no task is scheduled.
const idleWait = time.Second

// asyncExecutor drives tasks from a continuous clock. A loop goroutine sleeps
// until the next due instant, dispatches due tasks and is woken early by
// resets and stop. The clock is read before the dispatch gate is taken, since
// a reset holds the clock while it waits for the gate.
type asyncExecutor struct {
	mu      sync.Mutex // guards stopCh
	storage *taskStorage
	d       *dispatcher
	now     func() types.Timestamp

	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newAsyncExecutor(storage *taskStorage, d *dispatcher, now func() types.Timestamp) *asyncExecutor {
	return &asyncExecutor{
		storage: storage,
		d:       d,
		now:     now,
		wakeCh:  make(chan struct{}, 1),
	}
}

func (e *asyncExecutor) start() {
	e.mu.Lock()
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	e.wg.Add(1)
	go e.loop(stopCh)
}

func (e *asyncExecutor) stop() {
	e.mu.Lock()
	if e.stopCh == nil {
		e.mu.Unlock()
		return
	}
	close(e.stopCh)
	e.stopCh = nil
	e.mu.Unlock()

	e.wg.Wait()
	e.d.active.wait()

	e.d.gate.Lock()
	e.storage.prepareRestart()
	e.d.gate.Unlock()
}

func (e *asyncExecutor) loop(stopCh <-chan struct{}) {
	defer e.wg.Done()
	for {
		epoch := e.d.resets()
		wait := e.run(e.now(), epoch)

		timer := time.NewTimer(wait)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-e.wakeCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// run dispatches all tasks due at cur and returns the time until the next
// due instant. A reading taken before a reset is dropped and the loop reads
// the clock again.
func (e *asyncExecutor) run(cur types.Timestamp, epoch uint64) time.Duration {
	e.d.gate.RLock()
	defer e.d.gate.RUnlock()
	if e.d.resets() != epoch {
		return 0
	}

	for _, t := range e.storage.due(cur) {
		at := t.next
		t.next = catchUp(t.next, t.period, cur)
		e.d.dispatch(t, at)
	}

	next, ok := e.storage.nextInstant()
	if !ok {
		return idleWait
	}
	if wait := next - cur; wait > 0 {
		return wait
	}
	return 0
}

func (e *asyncExecutor) timeUpdating(types.Timestamp) {
	e.wake()
}

// timeResetBegin blocks dispatch, waits for running activations and moves
// the tasks to the new time base. Dispatch stays blocked until timeResetEnd.
func (e *asyncExecutor) timeResetBegin(oldTime, newTime types.Timestamp) {
	e.d.beginReset()
	e.storage.timeReset(oldTime, newTime)
}

func (e *asyncExecutor) timeResetEnd() {
	e.d.endReset()
	e.wake()
}

func (e *asyncExecutor) wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}
