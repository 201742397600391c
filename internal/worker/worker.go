// ============================================================================
// simclock Worker - Task Execution Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Work unit that executes job activations, each Worker runs in an
// independent goroutine
//
// Execution Model:
//   ┌──────────────────────────────────────┐
//   │  Worker Goroutine                    │
//   │  ┌───────────────────────────────┐   │
//   │  │ select stopCh / taskCh        │   │
//   │  │   ├─ re-check stopCh          │   │
//   │  │   ├─ run task (recover panic) │   │
//   │  │   └─ close completion channel │   │
//   │  └───────────────────────────────┘   │
//   └──────────────────────────────────────┘
//
// A task taken from the queue after the pool was stopped is dropped, not run.
// Once Stop returns no new task starts.
//
// ============================================================================

package worker

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Worker represents a work execution unit
type Worker struct {
	id     int
	taskCh <-chan Task
	stopCh <-chan struct{}
	stats  *poolStats
	log    *slog.Logger
}

type poolStats struct {
	executed atomic.Uint64
	dropped  atomic.Uint64
	panics   atomic.Uint64
	busy     atomic.Int64
}

func newWorker(id int, taskCh <-chan Task, stopCh <-chan struct{}, stats *poolStats, log *slog.Logger) *Worker {
	return &Worker{
		id:     id,
		taskCh: taskCh,
		stopCh: stopCh,
		stats:  stats,
		log:    log,
	}
}

// Run is the main loop of Worker
func (w *Worker) Run() {
	for {
		select {
		case <-w.stopCh:
			return
		case task := <-w.taskCh:
			// select picks randomly when both are ready
			select {
			case <-w.stopCh:
				w.drop(task)
				return
			default:
			}
			w.execute(task)
		}
	}
}

func (w *Worker) execute(task Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.stats.panics.Add(1)
			w.log.Error("task panicked", "worker", w.id, "task", task.Name, "panic", r)
		}
		w.stats.busy.Add(int64(time.Since(start)))
		w.stats.executed.Add(1)
		if task.done != nil {
			close(task.done)
		}
	}()
	task.Run()
}

func (w *Worker) drop(task Task) {
	w.stats.dropped.Add(1)
	if task.done != nil {
		close(task.done)
	}
}
