package clocksync

import (
	"context"
	"testing"
	"time"

	"github.com/ChuLiYu/simclock/internal/clock"
	"github.com/ChuLiYu/simclock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUpdaterConfig() UpdaterConfig {
	return UpdaterConfig{
		ParticipantName: "slave",
		SyncCycleTime:   5 * ms,
		MaxMissedSyncs:  3,
		CallTimeout:     100 * ms,
	}
}

// TestOnDemandClockFollowsMaster tests polling a continuous master
func TestOnDemandClockFollowsMaster(t *testing.T) {
	master := &fakeMaster{typ: types.ClockContinuous, time: 5 * time.Second}
	c := NewOnDemandClock(testUpdaterConfig(), master, nil)
	assert.Equal(t, types.ClockSlaveMasterOnDemand, c.Name())
	assert.Equal(t, types.ClockContinuous, c.Type())

	sink := &recordingSink{}
	c.Start(sink)
	defer c.Stop()

	require.NoError(t, c.Updater().StartRPC(context.Background()))
	assert.Equal(t, []types.EventIDFlag{types.FlagTimeUpdating | types.FlagTimeReset}, master.registrations)

	c.Updater().StartWork()
	defer c.Updater().StopWork()

	require.Eventually(t, func() bool { return c.Time() >= 5*time.Second }, time.Second, ms)
	// the first estimate arrives as a reset
	assert.Contains(t, sink.recorded(), "reset_begin 0s 0s")
	assert.GreaterOrEqual(t, len(sink.recorded()), 4)
}

// TestOnDemandClockMissedSyncs tests failure counting and recovery
func TestOnDemandClockMissedSyncs(t *testing.T) {
	master := &fakeMaster{typ: types.ClockContinuous, time: time.Second}
	c := NewOnDemandClock(testUpdaterConfig(), master, nil)
	c.Start(clock.NopSink{})
	defer c.Stop()

	u := c.Updater()
	require.NoError(t, u.StartRPC(context.Background()))

	master.setErr(errUnreachable)
	u.StartWork()
	defer u.StopWork()

	require.Eventually(t, func() bool { return u.ConsecutiveFailures() >= 5 }, time.Second, ms)
	assert.False(t, u.Registered())
	// the clock keeps running
	before := c.Time()
	time.Sleep(5 * ms)
	assert.Greater(t, c.Time(), before)

	registrations := master.registrationCount()
	master.setErr(nil)
	require.Eventually(t, func() bool { return u.ConsecutiveFailures() == 0 && u.Registered() }, time.Second, ms)
	assert.Greater(t, master.registrationCount(), registrations, "re-registered after the failure")
}

// TestOnDemandClockStopRPC tests unregistering from the master
func TestOnDemandClockStopRPC(t *testing.T) {
	master := &fakeMaster{typ: types.ClockContinuous}
	c := NewOnDemandClock(testUpdaterConfig(), master, nil)
	u := c.Updater()

	require.NoError(t, u.StopRPC(context.Background()))
	assert.Empty(t, master.unregistered, "not registered yet")

	require.NoError(t, u.StartRPC(context.Background()))
	require.NoError(t, u.StopRPC(context.Background()))
	assert.Equal(t, []string{"slave"}, master.unregistered)
}

// TestOnDemandDiscreteClockEvents tests applying pushed master events
func TestOnDemandDiscreteClockEvents(t *testing.T) {
	master := &fakeMaster{typ: types.ClockDiscrete}
	c := NewOnDemandDiscreteClock(testUpdaterConfig(), master, false, nil)
	u := c.Updater()

	// before start: updates are dropped, resets are kept for start
	local, err := u.HandleEvent(types.EventTimeUpdating, 100*ms, 0)
	require.NoError(t, err)
	assert.Equal(t, types.Timestamp(0), local)

	_, err = u.HandleEvent(types.EventTimeReset, 500*ms, 0)
	require.NoError(t, err)

	_, err = u.HandleEvent(types.EventTimeUpdateBefore, 100*ms, 0)
	assert.ErrorIs(t, err, types.ErrInvalidArgument, "not subscribed without before and after")

	sink := &recordingSink{}
	c.Start(sink)
	defer c.Stop()
	assert.Equal(t, 500*ms, c.Time())

	local, err = u.HandleEvent(types.EventTimeUpdating, 600*ms, 500*ms)
	require.NoError(t, err)
	assert.Equal(t, 600*ms, local)

	assert.Equal(t, []string{
		"reset_begin 0s 0s",
		"reset_end 0s",
		"reset_begin 0s 500ms",
		"reset_end 500ms",
		"begin 500ms 600ms",
		"updating 600ms",
		"end 600ms",
	}, sink.recorded())

	// a reset to the same time is not a reset
	_, err = u.HandleEvent(types.EventTimeReset, 600*ms, 600*ms)
	require.NoError(t, err)
	assert.Len(t, sink.recorded(), 7)
}

// TestOnDemandDiscreteClockBeforeAndAfter tests forwarding of begin and end events
func TestOnDemandDiscreteClockBeforeAndAfter(t *testing.T) {
	master := &fakeMaster{typ: types.ClockDiscrete}
	c := NewOnDemandDiscreteClock(testUpdaterConfig(), master, true, nil)

	require.NoError(t, c.Updater().StartRPC(context.Background()))
	assert.Equal(t, []types.EventIDFlag{types.FlagsAll}, master.registrations)

	sink := &recordingSink{}
	c.Start(sink)
	defer c.Stop()

	u := c.Updater()
	for _, ev := range []types.EventID{types.EventTimeUpdateBefore, types.EventTimeUpdating, types.EventTimeUpdateAfter} {
		_, err := u.HandleEvent(ev, 100*ms, 0)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{
		"reset_begin 0s 0s",
		"reset_end 0s",
		"begin 0s 100ms",
		"updating 100ms",
		"end 100ms",
	}, sink.recorded())
}
