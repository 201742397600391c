package scheduler

import (
	"sort"
	"sync"

	"github.com/ChuLiYu/simclock/pkg/types"
)

// DataTriggeredExecutor runs jobs when one of their signals fires instead of
// on clock boundaries. A trigger for a job that is still running is dropped.
// It shares the dispatcher of the clock driven executor, so resets exclude
// both kinds of activation.
type DataTriggeredExecutor struct {
	mu       sync.Mutex
	bySignal map[string][]*task
	d        *dispatcher
	now      func() types.Timestamp
	running  bool
}

func newDataTriggeredExecutor(d *dispatcher, now func() types.Timestamp) *DataTriggeredExecutor {
	return &DataTriggeredExecutor{
		bySignal: make(map[string][]*task),
		d:        d,
		now:      now,
	}
}

func (e *DataTriggeredExecutor) add(t *task, signals []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sig := range signals {
		e.bySignal[sig] = append(e.bySignal[sig], t)
		sort.Slice(e.bySignal[sig], func(i, j int) bool {
			return e.bySignal[sig][i].name < e.bySignal[sig][j].name
		})
	}
}

func (e *DataTriggeredExecutor) start() {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
}

func (e *DataTriggeredExecutor) stop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.d.active.wait()
}

// Signals returns the signal names some job listens to.
func (e *DataTriggeredExecutor) Signals() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.bySignal))
	for sig := range e.bySignal {
		out = append(out, sig)
	}
	sort.Strings(out)
	return out
}

// Trigger posts every job listening to signal at the current clock time.
// While the clock is being reset the jobs are skipped.
func (e *DataTriggeredExecutor) Trigger(signal string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return types.NewInvalidState("data triggered executor is not running")
	}
	tasks, ok := e.bySignal[signal]
	if !ok {
		return types.NewNotFound("no job listens to signal %q", signal)
	}

	for {
		epoch := e.d.resets()
		at := e.now()
		if !e.d.gate.TryRLock() {
			for _, t := range tasks {
				log.Debug("clock reset in progress, trigger skipped", "job", t.name, "signal", signal)
				e.d.metrics.RecordSkip(t.name, "reset")
			}
			return nil
		}
		if e.d.resets() != epoch {
			// at predates a reset
			e.d.gate.RUnlock()
			continue
		}

		for _, t := range tasks {
			if t.inFlight.Load() > 0 {
				log.Debug("job still running, trigger skipped", "job", t.name, "signal", signal)
				e.d.metrics.RecordSkip(t.name, "busy")
				continue
			}
			e.d.dispatch(t, at)
		}
		e.d.gate.RUnlock()
		return nil
	}
}
