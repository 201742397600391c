package clocksync

import (
	"context"
	"testing"

	"github.com/ChuLiYu/simclock/internal/clock"
	"github.com/ChuLiYu/simclock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, mainClock string, master *fakeMaster) (*Service, *fakeRegistrar) {
	t.Helper()
	reg := &fakeRegistrar{}
	cfg := Config{
		TimingMaster:    "master",
		SyncCycleTime:   5 * ms,
		MaxMissedSyncs:  3,
		CallTimeout:     100 * ms,
		ParticipantName: "slave",
		MainClock:       mainClock,
	}
	connect := func(name string) (MasterClient, error) {
		if name != "master" {
			return nil, types.NewNotFound("participant %q", name)
		}
		return master, nil
	}
	return NewService(cfg, reg, connect, nil), reg
}

// TestServiceLocalClock tests that a local main clock needs no synchronization
func TestServiceLocalClock(t *testing.T) {
	s, reg := newTestService(t, types.ClockLocalSystemRealtime, &fakeMaster{})

	require.NoError(t, s.Initialize(context.Background()))
	assert.False(t, s.IsSlave())
	assert.Nil(t, s.Updater())
	assert.Nil(t, reg.get(types.ClockSlaveMasterOnDemand))
	assert.Equal(t, "-1", s.SyncTimeEvent(int32(types.EventTimeUpdating), "1", "0"))

	s.Start()
	s.Stop()
	require.NoError(t, s.Deinitialize(context.Background()))
}

// TestServiceMissingMaster tests a slave clock without timing master
func TestServiceMissingMaster(t *testing.T) {
	s := NewService(Config{MainClock: types.ClockSlaveMasterOnDemand}, &fakeRegistrar{}, nil, nil)
	assert.ErrorIs(t, s.Initialize(context.Background()), types.ErrInvalidArgument)
}

// TestServiceDiscreteSlave tests the lifecycle of a discrete slave
func TestServiceDiscreteSlave(t *testing.T) {
	master := &fakeMaster{typ: types.ClockDiscrete}
	s, reg := newTestService(t, types.ClockSlaveMasterOnDemandDiscrete, master)
	ctx := context.Background()

	require.NoError(t, s.Initialize(ctx))
	assert.ErrorIs(t, s.Initialize(ctx), types.ErrInvalidState)

	c := reg.get(types.ClockSlaveMasterOnDemandDiscrete)
	require.NotNil(t, c)
	assert.Equal(t, types.ClockDiscrete, c.Type())
	assert.Equal(t, 1, master.registrationCount())

	c.Start(clock.NopSink{})
	s.Start()

	assert.Equal(t, "250000000", s.SyncTimeEvent(int32(types.EventTimeUpdating), "250000000", "0"))
	assert.Equal(t, types.Timestamp(250*ms), c.Time())

	assert.Equal(t, "-1", s.SyncTimeEvent(int32(types.EventTimeUpdating), "abc", "0"))
	assert.Equal(t, "-1", s.SyncTimeEvent(int32(types.EventTimeUpdating), "1", "x"))
	assert.Equal(t, "-1", s.SyncTimeEvent(99, "1", "0"))

	s.Stop()
	c.Stop()
	require.NoError(t, s.Deinitialize(ctx))
	assert.Nil(t, reg.get(types.ClockSlaveMasterOnDemandDiscrete))
	assert.Equal(t, []string{"slave"}, master.unregistered)
	assert.Equal(t, "-1", s.SyncTimeEvent(int32(types.EventTimeUpdating), "1", "0"))
}

// TestServiceUnreachableMaster tests that initialization survives a master that is not up yet
func TestServiceUnreachableMaster(t *testing.T) {
	master := &fakeMaster{typ: types.ClockContinuous, err: errUnreachable}
	s, reg := newTestService(t, types.ClockSlaveMasterOnDemand, master)

	require.NoError(t, s.Initialize(context.Background()))
	require.NotNil(t, reg.get(types.ClockSlaveMasterOnDemand))
	assert.False(t, s.Updater().Registered())
	require.NoError(t, s.Deinitialize(context.Background()))
}
