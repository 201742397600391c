package clock

import (
	"github.com/ChuLiYu/simclock/pkg/types"
)

// DiscreteClock only changes when SetNewTime or Reset is called. Between
// steps it reports the last time unchanged.
type DiscreteClock struct {
	base
}

// NewDiscreteClock creates a discrete clock stepped by its owner.
func NewDiscreteClock(name string) *DiscreteClock {
	return &DiscreteClock{base: newBase(name)}
}

func (c *DiscreteClock) Type() types.ClockType {
	return types.ClockDiscrete
}

func (c *DiscreteClock) Time() types.Timestamp {
	return c.currentTime()
}

// SetNewTime steps the clock to t. The first step after start and any step
// backwards are delivered as a reset. Otherwise TimeUpdating is emitted,
// bracketed by TimeUpdateBegin/TimeUpdateEnd when beforeAndAfter is set.
func (c *DiscreteClock) SetNewTime(t types.Timestamp, beforeAndAfter bool) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	sink, old := c.snapshot()
	if !c.updated.Load() || t < old {
		c.setResetTime(t)
		return
	}

	if beforeAndAfter && sink != nil {
		sink.TimeUpdateBegin(old, t)
	}
	c.store(t)
	if sink != nil {
		sink.TimeUpdating(t)
	}
	if beforeAndAfter && sink != nil {
		sink.TimeUpdateEnd(t)
	}
}

// NotifyUpdateBegin forwards an externally announced update begin to the sink.
func (c *DiscreteClock) NotifyUpdateBegin(oldTime, newTime types.Timestamp) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	if sink, _ := c.snapshot(); sink != nil {
		sink.TimeUpdateBegin(oldTime, newTime)
	}
}

// NotifyUpdateEnd forwards an externally announced update end to the sink.
func (c *DiscreteClock) NotifyUpdateEnd(newTime types.Timestamp) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	if sink, _ := c.snapshot(); sink != nil {
		sink.TimeUpdateEnd(newTime)
	}
}

func (c *DiscreteClock) Reset(t types.Timestamp) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.setResetTime(t)
}

func (c *DiscreteClock) Start(sink EventSink) {
	c.updated.Store(false)
	c.setSink(sink)
	c.started.Store(true)
	c.Reset(0)
}

func (c *DiscreteClock) Stop() {
	c.started.Store(false)
	c.setSink(nil)
}

// Started reports whether the clock is between Start and Stop.
func (c *DiscreteClock) Started() bool {
	return c.started.Load()
}
