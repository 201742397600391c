package jobregistry

import (
	"errors"
	"testing"
	"time"

	"github.com/ChuLiYu/simclock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cyclic(cycle time.Duration) types.JobConfiguration {
	return types.JobConfiguration{
		CycleSimTime:             cycle,
		RuntimeViolationStrategy: types.StrategyIgnoreRuntimeViolation,
	}
}

// TestAddJobUniqueness tests duplicate and unknown names
func TestAddJobUniqueness(t *testing.T) {
	r := New()

	require.NoError(t, r.AddJob("x", FuncJob{}, cyclic(100*time.Millisecond)))
	err := r.AddJob("x", FuncJob{}, cyclic(100*time.Millisecond))
	assert.ErrorIs(t, err, types.ErrResourceInUse)

	assert.ErrorIs(t, r.RemoveJob("y"), types.ErrNotFound)
	require.NoError(t, r.RemoveJob("x"))
	assert.Empty(t, r.Names())
}

// TestAddJobValidation tests configuration checks
func TestAddJobValidation(t *testing.T) {
	tests := []struct {
		name string
		info types.JobInfo
	}{
		{"empty name", ClockTriggered("", cyclic(time.Second))},
		{"zero cycle", ClockTriggered("a", cyclic(0))},
		{"negative delay", ClockTriggered("a", types.JobConfiguration{CycleSimTime: time.Second, DelaySimTime: -1})},
		{"bad strategy", ClockTriggered("a", types.JobConfiguration{CycleSimTime: time.Second, RuntimeViolationStrategy: "explode"})},
		{"data without signals", DataTriggered("a")},
	}
	r := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Add(FuncJob{}, tt.info)
			assert.ErrorIs(t, err, types.ErrInvalidArgument)
		})
	}

	assert.ErrorIs(t, r.Add(nil, ClockTriggered("n", cyclic(time.Second))), types.ErrInvalidArgument)
}

// TestFrozenRegistry tests InvalidState while the scheduler is initialized
func TestFrozenRegistry(t *testing.T) {
	r := New()
	require.NoError(t, r.AddJob("a", FuncJob{}, cyclic(time.Second)))

	r.Freeze()
	assert.True(t, r.Frozen())
	assert.ErrorIs(t, r.AddJob("b", FuncJob{}, cyclic(time.Second)), types.ErrInvalidState)
	assert.ErrorIs(t, r.RemoveJob("a"), types.ErrInvalidState)
	assert.ErrorIs(t, r.ApplyOverrides(nil), types.ErrInvalidState)

	r.Thaw()
	assert.NoError(t, r.AddJob("b", FuncJob{}, cyclic(time.Second)))
}

// TestJobInfos tests snapshots and lookups
func TestJobInfos(t *testing.T) {
	r := New()
	require.NoError(t, r.AddJob("b", FuncJob{}, cyclic(time.Second)))
	require.NoError(t, r.AddJob("a", FuncJob{}, cyclic(2*time.Second)))
	require.NoError(t, r.AddDataTriggeredJob("c", FuncJob{}, "sig"))

	infos := r.JobInfos()
	require.Len(t, infos, 3)
	assert.Equal(t, "a", infos[0].Name)
	assert.Equal(t, types.TriggerData, infos[2].Trigger)

	info, err := r.JobInfo("a")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, info.Config.CycleSimTime)

	_, err = r.JobInfo("zzz")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// the snapshot is detached from the registry
	jobs := r.Jobs()
	delete(jobs, "a")
	assert.Len(t, r.Jobs(), 3)
}

// TestApplyOverrides tests YAML style reconfiguration
func TestApplyOverrides(t *testing.T) {
	r := New()
	require.NoError(t, r.AddJob("a", FuncJob{}, cyclic(time.Second)))

	cycle := 250 * time.Millisecond
	maxRt := 10 * time.Millisecond
	strategy := "skip_cycle"
	err := r.ApplyOverrides(map[string]Override{
		"a":       {CycleSimTime: &cycle, MaxRuntimeRealTime: &maxRt, RuntimeViolationStrategy: &strategy},
		"missing": {CycleSimTime: &cycle},
	})
	require.NoError(t, err)

	info, err := r.JobInfo("a")
	require.NoError(t, err)
	assert.Equal(t, cycle, info.Config.CycleSimTime)
	require.NotNil(t, info.Config.MaxRuntimeRealTime)
	assert.Equal(t, maxRt, *info.Config.MaxRuntimeRealTime)
	assert.Equal(t, types.StrategySkipCycle, info.Config.RuntimeViolationStrategy)

	bad := "nope"
	err = r.ApplyOverrides(map[string]Override{"a": {RuntimeViolationStrategy: &bad}})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

// TestFuncJob tests the function adapter
func TestFuncJob(t *testing.T) {
	boom := errors.New("boom")
	var got types.Timestamp
	j := FuncJob{Exec: func(ts types.Timestamp) error { got = ts; return boom }}

	assert.NoError(t, j.ExecuteDataIn(1))
	assert.ErrorIs(t, j.Execute(5), boom)
	assert.Equal(t, types.Timestamp(5), got)
	assert.NoError(t, j.ExecuteDataOut(1))
}
