package clock

import (
	"sync"
	"sync/atomic"

	"github.com/ChuLiYu/simclock/pkg/types"
)

// sinkWorker delivers events to one sink on its own goroutine.
type sinkWorker struct {
	sink EventSink
	ch   chan func()
	done chan struct{}
}

func newSinkWorker(sink EventSink) *sinkWorker {
	w := &sinkWorker{sink: sink, ch: make(chan func(), 1), done: make(chan struct{})}
	go func() {
		defer close(w.done)
		for f := range w.ch {
			f()
		}
	}()
	return w
}

// fanout is the event sink the clock service attaches to the active clock.
// Every event is handed to all registered sinks in parallel and the clock
// is released only after all of them returned.
type fanout struct {
	mu      sync.Mutex
	workers []*sinkWorker
	onEvent atomic.Pointer[func(event string)]
}

// observe installs the hook called after each delivered event; nil removes it.
func (f *fanout) observe(fn func(event string)) {
	if fn == nil {
		f.onEvent.Store(nil)
		return
	}
	f.onEvent.Store(&fn)
}

func (f *fanout) add(sink EventSink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.workers {
		if w.sink == sink {
			return types.NewDuplicateName("event sink", "")
		}
	}
	f.workers = append(f.workers, newSinkWorker(sink))
	return nil
}

// remove detaches sink and waits for an in-flight delivery to it.
func (f *fanout) remove(sink EventSink) error {
	f.mu.Lock()
	var removed *sinkWorker
	for i, w := range f.workers {
		if w.sink == sink {
			removed = w
			f.workers = append(f.workers[:i:i], f.workers[i+1:]...)
			break
		}
	}
	if removed != nil {
		close(removed.ch)
	}
	f.mu.Unlock()

	if removed == nil {
		return types.NewNotFound("event sink")
	}
	<-removed.done
	return nil
}

func (f *fanout) closeAll() {
	f.mu.Lock()
	workers := f.workers
	f.workers = nil
	for _, w := range workers {
		close(w.ch)
	}
	f.mu.Unlock()
	for _, w := range workers {
		<-w.done
	}
}

func (f *fanout) trigger(event string, deliver func(EventSink)) {
	var wg sync.WaitGroup
	f.mu.Lock()
	for _, w := range f.workers {
		wg.Add(1)
		sink := w.sink
		w.ch <- func() {
			defer wg.Done()
			deliver(sink)
		}
	}
	f.mu.Unlock()
	wg.Wait()

	if fn := f.onEvent.Load(); fn != nil {
		(*fn)(event)
	}
}

func (f *fanout) TimeUpdateBegin(oldTime, newTime types.Timestamp) {
	f.trigger("time_update_begin", func(s EventSink) { s.TimeUpdateBegin(oldTime, newTime) })
}

func (f *fanout) TimeUpdating(newTime types.Timestamp) {
	f.trigger("time_updating", func(s EventSink) { s.TimeUpdating(newTime) })
}

func (f *fanout) TimeUpdateEnd(newTime types.Timestamp) {
	f.trigger("time_update_end", func(s EventSink) { s.TimeUpdateEnd(newTime) })
}

func (f *fanout) TimeResetBegin(oldTime, newTime types.Timestamp) {
	f.trigger("time_reset_begin", func(s EventSink) { s.TimeResetBegin(oldTime, newTime) })
}

func (f *fanout) TimeResetEnd(newTime types.Timestamp) {
	f.trigger("time_reset_end", func(s EventSink) { s.TimeResetEnd(newTime) })
}
