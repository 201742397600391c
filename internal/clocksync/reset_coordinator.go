package clocksync

import (
	"sync"

	"github.com/ChuLiYu/simclock/pkg/types"
)

// ResetCoordinator orders start, stop and reset of a slave clock that arrive
// from independent goroutines. A reset before start is kept and applied once
// at start, a reset while started is applied immediately, and a reset after
// stop is dropped. Start after stop begins a fresh cycle.
//
// apply runs with the coordinator lock held.
type ResetCoordinator struct {
	mu      sync.Mutex
	apply   func(t types.Timestamp)
	started bool
	stopped bool
	pending *types.Timestamp
}

// NewResetCoordinator creates a coordinator calling apply for every reset
// that takes effect.
func NewResetCoordinator(apply func(t types.Timestamp)) *ResetCoordinator {
	return &ResetCoordinator{apply: apply}
}

func (c *ResetCoordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	c.stopped = false
	if c.pending != nil {
		t := *c.pending
		c.pending = nil
		c.apply(t)
	}
}

func (c *ResetCoordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	c.stopped = true
	c.pending = nil
}

// Reset applies, caches or drops t depending on the lifecycle.
func (c *ResetCoordinator) Reset(t types.Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.started:
		c.apply(t)
	case c.stopped:
		log.Debug("reset after stop ignored", "time", t)
	default:
		c.pending = &t
	}
}
