package cli

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/ChuLiYu/simclock/internal/config"
	"github.com/ChuLiYu/simclock/internal/snapshot"
	"github.com/ChuLiYu/simclock/internal/transport"
	"github.com/ChuLiYu/simclock/pkg/types"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.Equal(t, "simclock", cmd.Use)
	assert.Equal(t, Version, cmd.Version)

	commandNames := make(map[string]bool)
	for _, c := range cmd.Commands() {
		commandNames[c.Use] = true
	}
	for _, name := range []string{"run", "status", "time", "inspect", "config"} {
		assert.True(t, commandNames[name], "missing %q command", name)
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("env-file"))
}

func TestBuildTimeCommand(t *testing.T) {
	cmd := buildTimeCommand()
	assert.Equal(t, "time", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("master"))
	assert.NotNil(t, cmd.Flags().Lookup("clock"))
	assert.NotNil(t, cmd.RunE)
}

func TestBuiltinJobs(t *testing.T) {
	jobs, err := builtinJobs()
	require.NoError(t, err)
	assert.Equal(t, []string{"heartbeat"}, jobs.Names())

	info, err := jobs.JobInfo("heartbeat")
	require.NoError(t, err)
	assert.Equal(t, time.Second, info.Config.CycleSimTime)
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"

	var buf bytes.Buffer
	logger, err := newLogger(cfg, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestShowStatus_NoSnapshot(t *testing.T) {
	cfg := config.Default()
	cfg.Snapshot.Path = filepath.Join(t.TempDir(), "missing.json")

	var out bytes.Buffer
	require.NoError(t, showStatus(&out, cfg))
	assert.Contains(t, out.String(), "no health snapshot")
}

func TestShowStatus(t *testing.T) {
	cfg := config.Default()
	cfg.Snapshot.Path = filepath.Join(t.TempDir(), "health.json")
	require.NoError(t, snapshot.NewManager(cfg.Snapshot.Path).Write(types.HealthSnapshot{
		Participant: "node-1",
		Clock:       types.ClockLocalSystemSimtime,
		SimTime:     3 * time.Second,
		Jobs: []types.JobHealth{
			{JobName: "control", Execute: types.ExecuteError{ErrorCount: 1, LastError: "boom", SimulationTime: time.Second}},
		},
	}))

	var out bytes.Buffer
	require.NoError(t, showStatus(&out, cfg))
	s := out.String()
	assert.Contains(t, s, "node-1")
	assert.Contains(t, s, "3s")
	assert.Contains(t, s, "control")
	assert.Contains(t, s, "errors=1")
	assert.Contains(t, s, "boom")
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("participant:\n  name: printed\n"), 0o644))

	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "--config", path, "--env-file", filepath.Join(t.TempDir(), "none.env")})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "participant/name = printed")
	assert.Contains(t, out.String(), "scheduling/scheduler = clock_based_scheduler")
}

type staticMaster struct{}

func (staticMaster) GetClockNames() string                 { return "local_system_realtime,local_system_simtime" }
func (staticMaster) GetMasterTime() string                 { return "2500000000" }
func (staticMaster) GetMasterType() int32                  { return int32(types.ClockDiscrete) }
func (staticMaster) RegisterSyncSlave(int32, string) int32 { return 0 }
func (staticMaster) UnregisterSyncSlave(string) int32      { return 0 }
func (staticMaster) SlaveSyncedEvent(string, string) int32 { return 0 }
func (staticMaster) GetTime(name string) string {
	if name == types.ClockLocalSystemSimtime {
		return "2500000000"
	}
	return "-1"
}

type staticInspector struct{}

func (staticInspector) GetJobNames() string { return `["control"]` }
func (staticInspector) GetJobInfo(name string) string {
	if name != "control" {
		return "-1"
	}
	return `{"name":"control","trigger":"clock_triggered"}`
}
func (staticInspector) GetHealth() string { return `[{"job_name":"control"}]` }
func (staticInspector) GetSlaves() string { return `[]` }

func startRemote(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	transport.RegisterMaster(srv, staticMaster{})
	transport.RegisterInspector(srv, staticInspector{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestQueryTime(t *testing.T) {
	addr := startRemote(t)

	var out bytes.Buffer
	require.NoError(t, queryTime(context.Background(), &out, addr, types.ClockLocalSystemSimtime))
	s := out.String()
	assert.Contains(t, s, "local_system_realtime,local_system_simtime")
	assert.Contains(t, s, "master time: 2.5s")
	assert.Contains(t, s, "local_system_simtime: 2.5s")

	err := queryTime(context.Background(), &out, addr, "nope")
	assert.ErrorIs(t, err, transport.ErrRemoteFailure)

	assert.ErrorIs(t, queryTime(context.Background(), &out, "", ""), types.ErrInvalidArgument)
}

func TestInspect(t *testing.T) {
	addr := startRemote(t)

	var out bytes.Buffer
	require.NoError(t, inspect(context.Background(), &out, addr, "control"))
	s := out.String()
	assert.Contains(t, s, "jobs:")
	assert.Contains(t, s, `"control"`)
	assert.Contains(t, s, "job control:")

	assert.ErrorIs(t, inspect(context.Background(), &out, addr, "missing"), transport.ErrRemoteFailure)
}
