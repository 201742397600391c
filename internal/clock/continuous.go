package clock

import (
	"github.com/ChuLiYu/simclock/pkg/types"
)

// TimeSource supplies the raw time of a continuous clock.
type TimeSource interface {
	// NewTime returns the current raw time.
	NewTime() types.Timestamp
	// ResetTime re-bases the source so it continues from t and returns the
	// time the clock should report after the reset.
	ResetTime(t types.Timestamp) types.Timestamp
}

// ContinuousClock advances autonomously. Time is read from its TimeSource on
// every query and clamped so that it never moves backward between resets.
// The first query after start emits a reset pair; later queries emit no
// update events.
type ContinuousClock struct {
	base
	src TimeSource
}

// NewContinuousClock creates a continuous clock reading from src.
func NewContinuousClock(name string, src TimeSource) *ContinuousClock {
	return &ContinuousClock{base: newBase(name), src: src}
}

func (c *ContinuousClock) Type() types.ClockType {
	return types.ClockContinuous
}

func (c *ContinuousClock) Time() types.Timestamp {
	if !c.started.Load() {
		return c.currentTime()
	}
	return c.setNewTime(c.src.NewTime())
}

func (c *ContinuousClock) setNewTime(t types.Timestamp) types.Timestamp {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	if !c.updated.Load() {
		c.setResetTime(t)
		return t
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.current {
		c.current = t
	}
	return c.current
}

func (c *ContinuousClock) Reset(t types.Timestamp) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.setResetTime(c.src.ResetTime(t))
}

func (c *ContinuousClock) Start(sink EventSink) {
	c.updated.Store(false)
	c.setSink(sink)
	c.started.Store(true)
	c.Reset(0)
}

func (c *ContinuousClock) Stop() {
	// keep the last observed time for queries after stop
	if c.started.Load() {
		c.Time()
	}
	c.started.Store(false)
	c.setSink(nil)
}
