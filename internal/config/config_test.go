package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChuLiYu/simclock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestDefaultIsValid tests that the built-in defaults pass validation
func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, types.ClockLocalSystemRealtime, cfg.Clock.MainClock)
	assert.Equal(t, types.SchedulerClockBased, cfg.Scheduling.Scheduler)
	assert.Equal(t, 100*time.Millisecond, cfg.ClockSynchronization.SyncCycleTime)
}

// TestLoadYAML tests reading a file over the defaults
func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "cfg.yaml", `
participant:
  name: slave-1
clock:
  main_clock: slave_master_on_demand_discrete
clock_synchronization:
  timing_master: master
  sync_cycle_time: 250ms
  before_and_after_event: true
job_registry:
  jobs:
    control:
      cycle_sim_time: 20ms
      runtime_violation_strategy: skip_cycle
transport:
  peers:
    master: localhost:50051
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "slave-1", cfg.Participant.Name)
	assert.Equal(t, 250*time.Millisecond, cfg.ClockSynchronization.SyncCycleTime)
	assert.Equal(t, types.DefaultMaxMissedSyncs, cfg.ClockSynchronization.MaxMissedSyncs, "default kept")
	assert.Equal(t, "localhost:50051", cfg.Transport.Peers["master"])

	sc := cfg.ClockSync()
	assert.Equal(t, "slave-1", sc.ParticipantName)
	assert.Equal(t, types.ClockSlaveMasterOnDemandDiscrete, sc.MainClock)
	assert.True(t, sc.BeforeAndAfterEvent)

	overrides := cfg.JobOverrides()
	require.Contains(t, overrides, "control")
	assert.Equal(t, 20*time.Millisecond, *overrides["control"].CycleSimTime)
	assert.Nil(t, overrides["control"].DelaySimTime)
}

// TestLoadErrors tests unreadable and malformed files
func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "clock: [oops"))
	assert.Error(t, err)
}

// TestEnvOverrides tests SIMCLOCK_* variables
func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIMCLOCK_PARTICIPANT_NAME", "env-node")
	t.Setenv("SIMCLOCK_SYNC_CYCLE_TIME", "50ms")
	t.Setenv("SIMCLOCK_PEERS", "master=10.0.0.1:50051, other=10.0.0.2:50051")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-node", cfg.Participant.Name)
	assert.Equal(t, 50*time.Millisecond, cfg.ClockSynchronization.SyncCycleTime)
	assert.Equal(t, map[string]string{"master": "10.0.0.1:50051", "other": "10.0.0.2:50051"}, cfg.Transport.Peers)

	t.Setenv("SIMCLOCK_SYNC_CYCLE_TIME", "soon")
	_, err = Load("")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	t.Setenv("SIMCLOCK_SYNC_CYCLE_TIME", "50ms")
	t.Setenv("SIMCLOCK_PEERS", "broken")
	_, err = Load("")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

// TestLoadEnvFile tests .env loading without overriding the environment
func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "SIMCLOCK_LOG_LEVEL=debug\nSIMCLOCK_SCHEDULER=from_file\n")
	t.Setenv("SIMCLOCK_SCHEDULER", "from_env")
	// registered so t.Setenv restores it after the test
	t.Setenv("SIMCLOCK_LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("SIMCLOCK_LOG_LEVEL"))

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "debug", os.Getenv("SIMCLOCK_LOG_LEVEL"))
	assert.Equal(t, "from_env", os.Getenv("SIMCLOCK_SCHEDULER"))

	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "none.env")))
}

// TestValidate tests the value checks
func TestValidate(t *testing.T) {
	bad := "sometimes"
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty name", func(c *Config) { c.Participant.Name = "" }},
		{"zero step", func(c *Config) { c.Clock.StepSize = 0 }},
		{"zero sync cycle", func(c *Config) { c.ClockSynchronization.SyncCycleTime = 0 }},
		{"no missed syncs", func(c *Config) { c.ClockSynchronization.MaxMissedSyncs = 0 }},
		{"slave without master", func(c *Config) { c.Clock.MainClock = types.ClockSlaveMasterOnDemand }},
		{"own master", func(c *Config) {
			c.Clock.MainClock = types.ClockSlaveMasterOnDemand
			c.ClockSynchronization.TimingMaster = c.Participant.Name
		}},
		{"no scheduler", func(c *Config) { c.Scheduling.Scheduler = "" }},
		{"no workers", func(c *Config) { c.Scheduling.MaxWorkers = 0 }},
		{"bad strategy", func(c *Config) {
			c.JobRegistry.Jobs = map[string]JobOverride{"j": {RuntimeViolationStrategy: &bad}}
		}},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// TestProperties tests the flattened keys
func TestProperties(t *testing.T) {
	cfg := Default()
	cfg.ClockSynchronization.TimingMaster = "master"
	cfg.Transport.Peers = map[string]string{"master": "localhost:50051"}

	p := cfg.Properties()
	assert.Equal(t, types.SchedulerClockBased, p["scheduling/scheduler"])
	assert.Equal(t, "master", p["clock_synchronization/timing_master"])
	assert.Equal(t, "100ms", p["clock_synchronization/sync_cycle_time"])
	assert.Equal(t, "localhost:50051", p["transport/peers/master"])

	keys := PropertyKeys(p)
	assert.Len(t, keys, len(p))
	assert.Equal(t, "clock/main_clock", keys[0])
}

// TestSlogLevel tests level parsing
func TestSlogLevel(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "debug"
	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}
