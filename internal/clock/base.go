package clock

import (
	"sync"
	"sync/atomic"

	"github.com/ChuLiYu/simclock/pkg/types"
)

// base holds the state shared by continuous and discrete clocks.
//
// mu guards sink and current; eventMu serializes every event delivery so a
// sink is never re-entered, even when the clock is driven from several
// goroutines.
type base struct {
	name string

	mu      sync.Mutex
	sink    EventSink
	current types.Timestamp

	eventMu sync.Mutex
	updated atomic.Bool
	started atomic.Bool
}

func newBase(name string) base {
	return base{name: name}
}

func (b *base) Name() string {
	return b.name
}

func (b *base) currentTime() types.Timestamp {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *base) setSink(sink EventSink) {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
}

func (b *base) snapshot() (EventSink, types.Timestamp) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink, b.current
}

func (b *base) store(t types.Timestamp) {
	b.mu.Lock()
	b.current = t
	b.mu.Unlock()
}

// setResetTime moves the clock to t, emitting the reset pair.
// The caller must hold eventMu.
func (b *base) setResetTime(t types.Timestamp) {
	sink, old := b.snapshot()
	b.updated.Store(true)

	if sink != nil {
		sink.TimeResetBegin(old, t)
	}
	b.store(t)
	if sink != nil {
		sink.TimeResetEnd(t)
	}
}
