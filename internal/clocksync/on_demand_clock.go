package clocksync

import (
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/simclock/internal/clock"
	"github.com/ChuLiYu/simclock/internal/metrics"
	"github.com/ChuLiYu/simclock/pkg/types"
)

// OnDemandClock is the continuous slave clock slave_master_on_demand. It
// free-runs between polls of the master. The first estimate, and any estimate
// further off than one sync cycle, is applied as a reset; smaller drift only
// re-bases the interpolation.
type OnDemandClock struct {
	*clock.ContinuousClock
	interp  *InterpolationTime
	coord   *ResetCoordinator
	updater *FarClockUpdater
	jump    time.Duration
	synced  atomic.Bool
}

// NewOnDemandClock creates the continuous slave clock following master.
func NewOnDemandClock(cfg UpdaterConfig, master MasterClient, m *metrics.Collector) *OnDemandClock {
	interp := NewInterpolationTime(time.Now)
	c := &OnDemandClock{
		ContinuousClock: clock.NewContinuousClock(types.ClockSlaveMasterOnDemand, interp),
		interp:          interp,
	}
	c.coord = NewResetCoordinator(c.ContinuousClock.Reset)
	c.updater = newFarClockUpdater(cfg, master, c, m)
	c.jump = c.updater.cfg.SyncCycleTime
	return c
}

// Updater returns the updater driving this clock.
func (c *OnDemandClock) Updater() *FarClockUpdater {
	return c.updater
}

func (c *OnDemandClock) Start(sink clock.EventSink) {
	c.synced.Store(false)
	c.ContinuousClock.Start(sink)
	c.coord.Start()
}

func (c *OnDemandClock) Stop() {
	c.coord.Stop()
	c.ContinuousClock.Stop()
}

func (c *OnDemandClock) applyMasterTime(master types.Timestamp, rtt time.Duration) {
	estimate := master + rtt/2
	drift := estimate - c.Time()
	if drift < 0 {
		drift = -drift
	}
	if !c.synced.Swap(true) || drift > c.jump {
		c.coord.Reset(estimate)
		return
	}
	c.interp.SetTime(master, rtt)
}

func (c *OnDemandClock) handleEvent(id types.EventID, newTime, oldTime types.Timestamp) (types.Timestamp, error) {
	switch id {
	case types.EventTimeReset:
		if newTime != oldTime {
			c.coord.Reset(newTime)
		}
	case types.EventTimeUpdating:
		c.interp.SetTime(newTime, 0)
	default:
		return 0, types.NewInvalidArgument("continuous slave does not handle %s", id)
	}
	return c.Time(), nil
}

// OnDemandDiscreteClock is the discrete slave clock
// slave_master_on_demand_discrete. Its time only changes on events pushed by
// the master.
type OnDemandDiscreteClock struct {
	*clock.DiscreteClock
	coord          *ResetCoordinator
	updater        *FarClockUpdater
	beforeAndAfter bool
}

// NewOnDemandDiscreteClock creates the discrete slave clock following master.
// With beforeAndAfter the clock subscribes to the update begin and end events
// as well and forwards them to its sink.
func NewOnDemandDiscreteClock(cfg UpdaterConfig, master MasterClient, beforeAndAfter bool, m *metrics.Collector) *OnDemandDiscreteClock {
	c := &OnDemandDiscreteClock{
		DiscreteClock:  clock.NewDiscreteClock(types.ClockSlaveMasterOnDemandDiscrete),
		beforeAndAfter: beforeAndAfter,
	}
	cfg.Flags = SlaveFlags(types.ClockSlaveMasterOnDemandDiscrete, beforeAndAfter)
	c.coord = NewResetCoordinator(c.DiscreteClock.Reset)
	c.updater = newFarClockUpdater(cfg, master, c, m)
	return c
}

// Updater returns the updater driving this clock.
func (c *OnDemandDiscreteClock) Updater() *FarClockUpdater {
	return c.updater
}

func (c *OnDemandDiscreteClock) Start(sink clock.EventSink) {
	c.DiscreteClock.Start(sink)
	c.coord.Start()
}

func (c *OnDemandDiscreteClock) Stop() {
	c.coord.Stop()
	c.DiscreteClock.Stop()
}

// applyMasterTime is unused: a discrete master is never polled.
func (c *OnDemandDiscreteClock) applyMasterTime(types.Timestamp, time.Duration) {}

func (c *OnDemandDiscreteClock) handleEvent(id types.EventID, newTime, oldTime types.Timestamp) (types.Timestamp, error) {
	if id == types.EventTimeReset {
		if newTime != oldTime {
			c.coord.Reset(newTime)
		}
		return c.Time(), nil
	}

	if !c.Started() {
		log.Warn("event before clock start dropped", "clock", c.Name(), "event", id, "time", newTime)
		return c.Time(), nil
	}

	switch id {
	case types.EventTimeUpdateBefore:
		c.NotifyUpdateBegin(oldTime, newTime)
	case types.EventTimeUpdating:
		c.SetNewTime(newTime, !c.beforeAndAfter)
	case types.EventTimeUpdateAfter:
		c.NotifyUpdateEnd(newTime)
	default:
		return 0, types.NewInvalidArgument("unknown event %s", id)
	}
	return c.Time(), nil
}
