package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ChuLiYu/simclock/internal/config"
	"github.com/ChuLiYu/simclock/internal/controller"
	"github.com/ChuLiYu/simclock/internal/jobregistry"
	"github.com/ChuLiYu/simclock/pkg/types"
)

// demo 在同一個行程中啟動一個 master 與一個 slave，slave 的主時鐘經由
// loopback gRPC 追隨 master。
//
//	go run cmd/demo/main.go            # 離散 master（local_system_simtime）
//	go run cmd/demo/main.go continuous # 連續 master（local_system_realtime）
func main() {
	mode := "discrete"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	masterClock, slaveClock := types.ClockLocalSystemSimtime, types.ClockSlaveMasterOnDemandDiscrete
	switch mode {
	case "discrete":
	case "continuous":
		masterClock, slaveClock = types.ClockLocalSystemRealtime, types.ClockSlaveMasterOnDemand
	default:
		fmt.Println("Usage: go run cmd/demo/main.go [discrete|continuous]")
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if err := run(masterClock, slaveClock); err != nil {
		fmt.Fprintf(os.Stderr, "demo failed: %v\n", err)
		os.Exit(1)
	}
}

func run(masterClock, slaveClock string) error {
	masterLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	slaveLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	peers := map[string]string{
		"master": masterLis.Addr().String(),
		"slave":  slaveLis.Addr().String(),
	}
	dir, err := os.MkdirTemp("", "simclock-demo")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	newConfig := func(name, clock string) *config.Config {
		cfg := config.Default()
		cfg.Participant.Name = name
		cfg.Clock.MainClock = clock
		cfg.Transport.Peers = peers
		cfg.Metrics.Enabled = false
		cfg.Snapshot.Path = filepath.Join(dir, name+".json")
		return cfg
	}
	masterCfg := newConfig("master", masterClock)
	slaveCfg := newConfig("slave", slaveClock)
	slaveCfg.ClockSynchronization.TimingMaster = "master"

	// slave 端每 500ms 模擬時間執行一次的任務
	var cycles atomic.Int64
	jobs := jobregistry.New()
	if err := jobs.AddJob("control_loop", jobregistry.FuncJob{
		Exec: func(types.Timestamp) error {
			cycles.Add(1)
			return nil
		},
	}, types.JobConfiguration{CycleSimTime: 500 * time.Millisecond}); err != nil {
		return err
	}

	master, err := controller.New(masterCfg, nil, controller.Options{GRPCListener: masterLis})
	if err != nil {
		return err
	}
	slave, err := controller.New(slaveCfg, jobs, controller.Options{GRPCListener: slaveLis})
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := master.Start(ctx); err != nil {
		return err
	}
	defer master.Stop(ctx)
	fmt.Printf("✓ master started on %s (clock: %s)\n", master.GRPCAddr(), masterClock)

	if err := slave.Start(ctx); err != nil {
		return err
	}
	defer slave.Stop(ctx)
	fmt.Printf("✓ slave started on %s (clock: %s)\n\n", slave.GRPCAddr(), slaveClock)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(3 * time.Second)

	fmt.Printf("%-12s %-12s %-10s %s\n", "MASTER", "SLAVE", "CYCLES", "SLAVES@MASTER")
	for {
		select {
		case <-sigChan:
			fmt.Println("\nReceived shutdown signal, stopping...")
			return nil
		case <-deadline:
			fmt.Println("\n✓ demo finished")
			return nil
		case <-ticker.C:
			var registered []string
			for _, s := range master.Sink().Slaves() {
				state := "inactive"
				if s.Active {
					state = "active"
				}
				registered = append(registered, s.Name+"("+state+")")
			}
			fmt.Printf("%-12s %-12s %-10d %v\n",
				master.Clocks().Time().Round(time.Millisecond),
				slave.Clocks().Time().Round(time.Millisecond),
				cycles.Load(),
				registered)
		}
	}
}
