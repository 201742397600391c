// ============================================================================
// simclock CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra based command line interface of a simulation participant
//
// Command Structure:
//   simclock                       # Root command
//   ├── run                        # Start a participant
//   ├── status                     # Show the last health snapshot
//   ├── time                       # Query the clocks of a remote participant
//   │   ├── --master              # gRPC address of the participant
//   │   └── --clock               # Optional clock name
//   ├── inspect                    # Query jobs, health and slaves of a participant
//   ├── config                     # Print the effective configuration
//   ├── --config, -c               # Config file (default: configs/default.yaml)
//   └── --env-file                 # Optional .env file
//
// run Command:
//   1. Load .env, config file and SIMCLOCK_* overrides
//   2. Configure slog from log/level and log/format
//   3. Register the built-in jobs and build the controller
//   4. Wait for SIGINT/SIGTERM or a scheduler abort
//   5. Stop the controller (final health snapshot); the stop is also
//      registered as an exit hook so atexit.Exit flushes it
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/ChuLiYu/simclock/internal/config"
	"github.com/ChuLiYu/simclock/internal/controller"
	"github.com/ChuLiYu/simclock/internal/jobregistry"
	"github.com/ChuLiYu/simclock/internal/snapshot"
	"github.com/ChuLiYu/simclock/internal/transport"
	"github.com/ChuLiYu/simclock/pkg/types"
)

// Version is injected at build time.
var Version = "dev"

const (
	defaultConfigFile = "configs/default.yaml"
	remoteTimeout     = 5 * time.Second
	stopTimeout       = 10 * time.Second
)

var (
	configFile string
	envFile    string
)

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "simclock",
		Short: "simclock: timing backbone of a distributed simulation participant",
		Long: `simclock runs a simulation participant with:
- pluggable clocks (realtime, simulation time, remote master)
- master/slave clock synchronization over gRPC
- a clock based job scheduler with runtime violation strategies
- job health reporting and Prometheus metrics`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigFile, "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional .env file with SIMCLOCK_* variables")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildTimeCommand())
	rootCmd.AddCommand(buildInspectCommand())
	rootCmd.AddCommand(buildConfigCommand())

	return rootCmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the slog handler selected by log/format.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the participant",
		Long:  "Start the clocks, the clock synchronization, the scheduler and the gRPC/admin servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return runParticipant(cmd.Context(), cfg)
		},
	}
}

// builtinJobs registers the jobs every participant runs. Their scheduling
// can be changed through job_registry/jobs.
func builtinJobs() (*jobregistry.Registry, error) {
	jobs := jobregistry.New()
	var beats atomic.Uint64
	err := jobs.AddJob("heartbeat", jobregistry.FuncJob{
		Exec: func(t types.Timestamp) error {
			slog.Debug("heartbeat", "sim_time", t, "count", beats.Add(1))
			return nil
		},
	}, types.JobConfiguration{
		CycleSimTime:             time.Second,
		RuntimeViolationStrategy: types.StrategyWarnAboutRuntime,
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func runParticipant(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	jobs, err := builtinJobs()
	if err != nil {
		return err
	}
	ctrl, err := controller.New(cfg, jobs, controller.Options{})
	if err != nil {
		return fmt.Errorf("failed to create participant: %w", err)
	}

	stop := func() {
		sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := ctrl.Stop(sctx); err != nil {
			slog.Error("participant stopped with errors", "error", err)
		}
	}
	atexit.Register(stop)

	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start participant: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal, stopping gracefully", "signal", sig.String())
	case runErr = <-ctrl.Done():
		slog.Error("scheduler aborted, stopping participant", "error", runErr)
	case <-ctx.Done():
	}

	stop()
	return runErr
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last health snapshot",
		Long:  "Display the clock state and job health recorded in the snapshot file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return showStatus(cmd.OutOrStdout(), cfg)
		},
	}
}

func showStatus(w io.Writer, cfg *config.Config) error {
	snap, err := snapshot.NewManager(cfg.Snapshot.Path).Load()
	if errors.Is(err, snapshot.ErrSnapshotNotFound) {
		fmt.Fprintf(w, "no health snapshot at %s (run 'simclock run' first)\n", cfg.Snapshot.Path)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           simclock Participant Status                     ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Clock:")
	fmt.Fprintf(w, "  ├─ Participant:  %s\n", snap.Participant)
	fmt.Fprintf(w, "  ├─ Main Clock:   %s\n", snap.Clock)
	fmt.Fprintf(w, "  ├─ Sim Time:     %s\n", snap.SimTime)
	fmt.Fprintf(w, "  └─ Taken At:     %s\n", time.UnixMilli(snap.TakenAt).Format(time.RFC3339))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Jobs:")
	if len(snap.Jobs) == 0 {
		fmt.Fprintln(w, "  └─ none")
	}
	for i, j := range snap.Jobs {
		branch := "├─"
		if i == len(snap.Jobs)-1 {
			branch = "└─"
		}
		errs := j.DataIn.ErrorCount + j.Execute.ErrorCount + j.DataOut.ErrorCount
		fmt.Fprintf(w, "  %s %-20s errors=%d runs=%d p99=%s\n", branch, j.JobName, errs, j.Runtime.Count, j.Runtime.P99)
		if j.Execute.LastError != "" {
			fmt.Fprintf(w, "       last execute error at %s: %s\n", j.Execute.SimulationTime, j.Execute.LastError)
		}
	}
	return nil
}

// ============================================================================
// time / inspect
// ============================================================================

func dialParticipant(addr string) (*transport.GrpcTransport, error) {
	if addr == "" {
		return nil, types.NewInvalidArgument("participant address is required (use --master)")
	}
	return transport.NewGrpcTransport(transport.NewDirectory(map[string]string{"remote": addr})), nil
}

func buildTimeCommand() *cobra.Command {
	var masterAddr, clockName string
	cmd := &cobra.Command{
		Use:   "time",
		Short: "Query the clocks of a remote participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return queryTime(cmd.Context(), cmd.OutOrStdout(), masterAddr, clockName)
		},
	}
	cmd.Flags().StringVar(&masterAddr, "master", "", "gRPC address of the participant (e.g. localhost:50051)")
	cmd.Flags().StringVar(&clockName, "clock", "", "also read the clock with this name")
	return cmd
}

func queryTime(ctx context.Context, w io.Writer, addr, clockName string) error {
	tr, err := dialParticipant(addr)
	if err != nil {
		return err
	}
	defer tr.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	mc, err := tr.Master("remote")
	if err != nil {
		return err
	}
	client := mc.(*transport.MasterClient)

	names, err := client.GetClockNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", addr, err)
	}
	typ, err := client.GetMasterType(ctx)
	if err != nil {
		return err
	}
	now, err := client.GetMasterTime(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "clocks:      %s\n", names)
	fmt.Fprintf(w, "master type: %s\n", typ)
	fmt.Fprintf(w, "master time: %s (%d ns)\n", now, int64(now))

	if clockName != "" {
		t, err := client.GetTime(ctx, clockName)
		if err != nil {
			return fmt.Errorf("clock %q: %w", clockName, err)
		}
		fmt.Fprintf(w, "%s: %s (%d ns)\n", clockName, t, int64(t))
	}
	return nil
}

func buildInspectCommand() *cobra.Command {
	var addr, jobName string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Query jobs, job health and slaves of a remote participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.Context(), cmd.OutOrStdout(), addr, jobName)
		},
	}
	cmd.Flags().StringVar(&addr, "master", "", "gRPC address of the participant")
	cmd.Flags().StringVar(&jobName, "job", "", "show the configuration of this job")
	return cmd
}

func inspect(ctx context.Context, w io.Writer, addr, jobName string) error {
	tr, err := dialParticipant(addr)
	if err != nil {
		return err
	}
	defer tr.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	ic, err := tr.Inspector("remote")
	if err != nil {
		return err
	}

	type section struct {
		title string
		call  func(context.Context) (string, error)
	}
	sections := []section{
		{"jobs", ic.GetJobNames},
		{"health", ic.GetHealth},
		{"slaves", ic.GetSlaves},
	}
	if jobName != "" {
		sections = append(sections, section{"job " + jobName, func(ctx context.Context) (string, error) {
			return ic.GetJobInfo(ctx, jobName)
		}})
	}

	for _, s := range sections {
		raw, err := s.call(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", s.title, err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return fmt.Errorf("%s: invalid reply: %w", s.title, err)
		}
		pretty, _ := json.MarshalIndent(v, "", "  ")
		fmt.Fprintf(w, "%s:\n%s\n", s.title, pretty)
	}
	return nil
}

// ============================================================================
// config
// ============================================================================

func buildConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as section/key properties",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			printProperties(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printProperties(w io.Writer, cfg *config.Config) {
	p := cfg.Properties()
	for _, k := range config.PropertyKeys(p) {
		fmt.Fprintf(w, "%s = %s\n", k, p[k])
	}
}
