package scheduler

import (
	"testing"

	"github.com/ChuLiYu/simclock/internal/jobregistry"
	"github.com/ChuLiYu/simclock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// namedScheduler is a second scheduler type for registry tests.
type namedScheduler struct {
	*ClockBasedScheduler
	name string
}

func (n namedScheduler) Name() string { return n.name }

// TestRegistryRules tests default protection and active fallback
func TestRegistryRules(t *testing.T) {
	r := NewRegistry(NewClockBasedScheduler(Options{}))
	other := namedScheduler{ClockBasedScheduler: NewClockBasedScheduler(Options{}), name: "other"}

	assert.Equal(t, types.SchedulerClockBased, r.Active().Name())
	require.NoError(t, r.Register(other))
	assert.ErrorIs(t, r.Register(other), types.ErrDuplicateName)
	assert.Equal(t, []string{types.SchedulerClockBased, "other"}, r.Names())

	assert.ErrorIs(t, r.Unregister(types.SchedulerClockBased), types.ErrInvalidArgument)
	assert.ErrorIs(t, r.Unregister("missing"), types.ErrNotFound)
	assert.ErrorIs(t, r.Select("missing"), types.ErrNotFound)

	require.NoError(t, r.Select("other"))
	assert.Equal(t, "other", r.Active().Name())

	require.NoError(t, r.Unregister("other"))
	assert.Equal(t, types.SchedulerClockBased, r.Active().Name())
}

// TestServiceFreezesJobs tests the job registry lock while a scheduler is initialized
func TestServiceFreezesJobs(t *testing.T) {
	clocks := newDiscreteClocks()
	reg := jobregistry.New()
	job := &recorder{}
	require.NoError(t, reg.AddJob("a", job, types.JobConfiguration{CycleSimTime: 100 * ms}))

	svc := NewService(Config{}, clocks, reg, nil, nil)
	assert.ErrorIs(t, svc.Start(), types.ErrInvalidState)
	assert.ErrorIs(t, svc.Deinitialize(), types.ErrInvalidState)

	require.NoError(t, svc.Initialize())
	assert.True(t, reg.Frozen())
	assert.ErrorIs(t, reg.AddJob("b", job, types.JobConfiguration{CycleSimTime: 100 * ms}), types.ErrInvalidState)
	assert.ErrorIs(t, svc.Schedulers().Register(namedScheduler{name: "late"}), types.ErrInvalidState)

	require.NoError(t, svc.Start())
	clocks.update(0)
	assert.Equal(t, []types.Timestamp{0}, job.ran())
	require.NoError(t, svc.Stop())

	require.NoError(t, svc.Deinitialize())
	assert.False(t, reg.Frozen())
	require.NoError(t, reg.AddJob("b", job, types.JobConfiguration{CycleSimTime: 100 * ms}))
	assert.NoError(t, svc.Err())
}

// TestServiceUnknownScheduler tests a configured scheduler that is not registered
func TestServiceUnknownScheduler(t *testing.T) {
	svc := NewService(Config{Scheduler: "missing"}, newDiscreteClocks(), jobregistry.New(), nil, nil)
	assert.ErrorIs(t, svc.Initialize(), types.ErrNotFound)
}
