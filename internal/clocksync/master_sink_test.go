package clocksync

import (
	"testing"
	"time"

	"github.com/ChuLiYu/simclock/internal/metrics"
	"github.com/ChuLiYu/simclock/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T, slaves map[string]*fakeSlave, timeout time.Duration) *MasterSink {
	s, _ := newTestSinkWithRegistry(t, slaves, timeout)
	return s
}

func newTestSinkWithRegistry(t *testing.T, slaves map[string]*fakeSlave, timeout time.Duration) (*MasterSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewCollectorWith(reg, "master")
	s := NewMasterSink(dialerFor(slaves), func() time.Duration { return timeout }, m)
	t.Cleanup(s.Close)
	return s, reg
}

// metricValue sums the counters and gauges of the family called name.
func metricValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	return sum
}

// TestMasterSinkFiltersByFlags tests that each slave only gets its events
func TestMasterSinkFiltersByFlags(t *testing.T) {
	updatesOnly, all := newFakeSlave(), newFakeSlave()
	s := newTestSink(t, map[string]*fakeSlave{"u": updatesOnly, "a": all}, time.Second)

	require.NoError(t, s.RegisterSlave(types.FlagTimeUpdating|types.FlagTimeReset, "u"))
	require.NoError(t, s.RegisterSlave(types.FlagsAll, "a"))

	s.TimeUpdateBegin(0, 100*ms)
	s.TimeUpdating(100 * ms)
	s.TimeUpdateEnd(100 * ms)
	s.TimeResetBegin(100*ms, 0)
	s.TimeResetEnd(0)

	assert.Equal(t, []types.EventID{types.EventTimeUpdating, types.EventTimeReset}, updatesOnly.received())
	assert.Equal(t, []types.EventID{
		types.EventTimeUpdateBefore,
		types.EventTimeUpdating,
		types.EventTimeUpdateAfter,
		types.EventTimeReset,
	}, all.received())

	infos := s.Slaves()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Name)
	assert.True(t, infos[0].Active)
	assert.Equal(t, types.Timestamp(0), infos[0].LastSynced)
}

// TestMasterSinkRegistrationErrors tests argument checks and unknown names
func TestMasterSinkRegistrationErrors(t *testing.T) {
	s := newTestSink(t, map[string]*fakeSlave{"a": newFakeSlave()}, time.Second)

	assert.ErrorIs(t, s.RegisterSlave(types.FlagsAll, ""), types.ErrInvalidArgument)
	assert.ErrorIs(t, s.RegisterSlave(0x40, "a"), types.ErrInvalidArgument)
	assert.ErrorIs(t, s.RegisterSlave(types.FlagsAll, "missing"), errUnreachable)
	assert.ErrorIs(t, s.UnregisterSlave("a"), types.ErrNotFound)
	assert.ErrorIs(t, s.SlaveSynced(10*ms, "a"), types.ErrNotFound)

	require.NoError(t, s.RegisterSlave(types.FlagsAll, "a"))
	require.NoError(t, s.SlaveSynced(10*ms, "a"))
	assert.Equal(t, 10*ms, s.Slaves()[0].LastSynced)
}

// TestMasterSinkDeactivatesOnInvalidResponse tests deactivation and re-registration
func TestMasterSinkDeactivatesOnInvalidResponse(t *testing.T) {
	bad := newFakeSlave()
	bad.err = errUnreachable
	s, reg := newTestSinkWithRegistry(t, map[string]*fakeSlave{"bad": bad}, time.Second)
	require.NoError(t, s.RegisterSlave(types.FlagTimeUpdating, "bad"))

	s.TimeUpdating(100 * ms)
	assert.False(t, s.Slaves()[0].Active)
	assert.Equal(t, 1.0, metricValue(t, reg, "simclock_clocksync_slave_deactivated_total"))
	assert.Equal(t, 0.0, metricValue(t, reg, "simclock_clocksync_slaves"))

	// inactive slaves get nothing
	s.TimeUpdating(200 * ms)
	assert.Len(t, bad.received(), 1)

	bad.mu.Lock()
	bad.err = nil
	bad.mu.Unlock()
	require.NoError(t, s.RegisterSlave(types.FlagTimeUpdating|types.FlagTimeReset, "bad"))
	info := s.Slaves()[0]
	assert.True(t, info.Active)
	assert.Equal(t, types.FlagTimeUpdating|types.FlagTimeReset, info.Flags)

	s.TimeUpdating(300 * ms)
	assert.Len(t, bad.received(), 2)
	assert.Equal(t, 300*ms, s.Slaves()[0].LastSynced)
}

// TestMasterSinkTimeout tests that a slow slave delays an event by at most the timeout
func TestMasterSinkTimeout(t *testing.T) {
	slow := newFakeSlave()
	slow.block = make(chan struct{})
	s, reg := newTestSinkWithRegistry(t, map[string]*fakeSlave{"slow": slow}, 30*ms)
	require.NoError(t, s.RegisterSlave(types.FlagTimeUpdating, "slow"))

	start := time.Now()
	s.TimeUpdating(100 * ms)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 30*ms)
	assert.Less(t, elapsed, time.Second)
	assert.True(t, s.Slaves()[0].Active, "a timeout does not deactivate")
	assert.Equal(t, 1.0, metricValue(t, reg, "simclock_clocksync_relay_timeouts_total"))

	close(slow.block)
}

// TestMasterSinkUnregisterWaitsForDelivery tests teardown while a delivery is in flight
func TestMasterSinkUnregisterWaitsForDelivery(t *testing.T) {
	slave := newFakeSlave()
	slave.block = make(chan struct{})
	s := newTestSink(t, map[string]*fakeSlave{"s": slave}, time.Second)
	require.NoError(t, s.RegisterSlave(types.FlagTimeUpdating, "s"))

	go s.TimeUpdating(100 * ms)
	<-slave.entered

	unregistered := make(chan struct{})
	go func() {
		assert.NoError(t, s.UnregisterSlave("s"))
		close(unregistered)
	}()

	select {
	case <-unregistered:
		t.Fatal("unregister returned during a delivery")
	case <-time.After(30 * ms):
	}

	close(slave.block)
	select {
	case <-unregistered:
	case <-time.After(time.Second):
		t.Fatal("unregister did not return")
	}

	s.TimeUpdating(200 * ms)
	assert.Len(t, slave.received(), 1)
	assert.Empty(t, s.Slaves())
}
