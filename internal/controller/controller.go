// ============================================================================
// simclock 控制器 - 參與者生命週期協調器
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 組裝一個模擬參與者的所有元件，並依序啟動與停止
//
// 架構設計:
//   - clock.Service:      時鐘註冊與主時鐘
//   - clocksync.Service:  從屬時鐘（連線到 timing master）
//   - MasterSink:         主時鐘端，把時鐘事件轉送給已註冊的從屬端
//   - scheduler.Service:  依主時鐘分派任務
//   - health.Registry:    任務健康狀態
//   - snapshot.Manager:   週期性與停止時寫入健康快照
//   - server.Server:      gRPC 對外介面
//   - admin HTTP:         /metrics /healthz /api/*
//
// 啟動順序:
//   1. gRPC server（master 推送事件前必須已可連線）
//   2. 時鐘同步初始化（註冊從屬時鐘）-> 選定主時鐘
//   3. 健康註冊表 -> 排程器初始化與啟動
//   4. 主時鐘啟動 -> 同步工作迴圈啟動
//   5. 快照週期任務、admin HTTP
//
// 停止順序與啟動相反；任務中止（abort）只停止本地排程器，並經由 Done()
// 通知呼叫端
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"google.golang.org/grpc"

	"github.com/ChuLiYu/simclock/internal/clock"
	"github.com/ChuLiYu/simclock/internal/clocksync"
	"github.com/ChuLiYu/simclock/internal/config"
	"github.com/ChuLiYu/simclock/internal/health"
	"github.com/ChuLiYu/simclock/internal/jobregistry"
	"github.com/ChuLiYu/simclock/internal/metrics"
	"github.com/ChuLiYu/simclock/internal/scheduler"
	"github.com/ChuLiYu/simclock/internal/server"
	"github.com/ChuLiYu/simclock/internal/snapshot"
	"github.com/ChuLiYu/simclock/internal/transport"
	"github.com/ChuLiYu/simclock/internal/worker"
	"github.com/ChuLiYu/simclock/pkg/types"
)

var log = slog.With("component", "controller")

// ============================================================================
// 資料結構定義
// ============================================================================

// Options 測試或嵌入時替換網路資源
type Options struct {
	GRPCListener net.Listener      // nil 時監聽 transport/listen_addr
	HTTPListener net.Listener      // nil 時監聽 metrics/addr
	DialOptions  []grpc.DialOption // 附加到 gRPC 用戶端
	Registry     *prometheus.Registry
}

type state int

const (
	stateCreated state = iota
	stateRunning
	stateStopped
)

// Controller 參與者控制器
type Controller struct {
	cfg        *config.Config
	opts       Options
	instanceID xid.ID
	startedAt  time.Time

	registry  *prometheus.Registry
	metrics   *metrics.Collector
	clocks    *clock.Service
	transport *transport.GrpcTransport
	sink      *clocksync.MasterSink
	sync      *clocksync.Service
	jobs      *jobregistry.Registry
	health    *health.Registry
	sched     *scheduler.Service
	snapshot  *snapshot.Manager
	pool      *worker.Pool
	rpc       *server.Server

	grpcServer *grpc.Server
	grpcLis    net.Listener
	httpServer *http.Server
	httpLis    net.Listener
	serveWg    sync.WaitGroup

	mu    sync.Mutex
	state state
	done  chan error
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 依設定建立控制器；jobs 為程式已註冊的任務，設定檔中的覆寫會套用到其上
func New(cfg *config.Config, jobs *jobregistry.Registry, opts Options) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if jobs == nil {
		jobs = jobregistry.New()
	}
	if err := jobs.ApplyOverrides(cfg.JobOverrides()); err != nil {
		return nil, fmt.Errorf("failed to apply job configuration: %w", err)
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.NewCollectorWith(reg, cfg.Participant.Name)

	clocks, err := clock.NewService(cfg.ClockService())
	if err != nil {
		return nil, fmt.Errorf("failed to create clock service: %w", err)
	}
	clocks.SetEventObserver(m.RecordClockEvent)

	tr := transport.NewGrpcTransport(transport.NewDirectory(cfg.Transport.Peers), opts.DialOptions...)
	sink := clocksync.NewMasterSink(tr.Slave, clocks.TimeUpdateTimeout, m)
	if err := clocks.RegisterEventSink(sink); err != nil {
		return nil, fmt.Errorf("failed to attach master sink: %w", err)
	}
	syncSvc := clocksync.NewService(cfg.ClockSync(), clocks, tr.Master, m)

	hr := health.NewRegistry()
	c := &Controller{
		cfg:        cfg,
		opts:       opts,
		instanceID: xid.New(),
		registry:   reg,
		metrics:    m,
		clocks:     clocks,
		transport:  tr,
		sink:       sink,
		sync:       syncSvc,
		jobs:       jobs,
		health:     hr,
		sched:      scheduler.NewService(cfg.SchedulerService(), clocks, jobs, hr, m),
		snapshot:   snapshot.NewManager(cfg.Snapshot.Path),
		pool:       worker.NewPool(4),
		rpc:        server.NewServer(clocks, sink, syncSvc, jobs, hr),
		done:       make(chan error, 1),
	}
	c.sched.OnAbort(c.onAbort)
	return c, nil
}

// Start 依序啟動所有元件；任何一步失敗會回滾已啟動的部分
func (c *Controller) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateCreated {
		return types.NewInvalidState("controller cannot be started twice")
	}

	var undo []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}()

	// 1. gRPC server
	if err := c.startGRPC(); err != nil {
		return err
	}
	undo = append(undo, c.stopGRPC)

	// 2. 時鐘同步與主時鐘
	if err := c.sync.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize clock synchronization: %w", err)
	}
	undo = append(undo, func() { _ = c.sync.Deinitialize(context.Background()) })
	if err := c.clocks.Tense(); err != nil {
		return fmt.Errorf("failed to select main clock: %w", err)
	}

	// 3. 排程器
	c.health.Initialize(c.jobs.Names())
	if err := c.sched.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	undo = append(undo, func() { _ = c.sched.Deinitialize() })
	if err := c.sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	undo = append(undo, func() { _ = c.sched.Stop() })

	// 4. 主時鐘與同步工作迴圈
	if err := c.clocks.Start(); err != nil {
		return fmt.Errorf("failed to start clock: %w", err)
	}
	undo = append(undo, func() { _ = c.clocks.Stop() })
	c.sync.Start()
	undo = append(undo, c.sync.Stop)

	// 5. 快照與 admin HTTP
	if err := c.pool.Start(1); err != nil {
		return fmt.Errorf("failed to start background pool: %w", err)
	}
	undo = append(undo, c.pool.Stop)
	if c.snapshot.Enabled() && c.cfg.Snapshot.Interval > 0 {
		if _, err := c.pool.PostPeriodic(c.cfg.Snapshot.Interval, "health-snapshot", func() bool {
			if err := c.snapshot.WriteFrom(c.Snapshot); err != nil {
				log.Error("failed to write health snapshot", "error", err)
			}
			return true
		}); err != nil {
			return fmt.Errorf("failed to schedule health snapshot: %w", err)
		}
	}
	if c.cfg.Metrics.Enabled {
		if err := c.startHTTP(); err != nil {
			return err
		}
	}

	c.state = stateRunning
	c.startedAt = time.Now()
	log.Info("participant started",
		"participant", c.cfg.Participant.Name,
		"instance", c.instanceID.String(),
		"clock", c.clocks.MainClockName(),
		"jobs", len(c.jobs.Names()),
		"grpc", c.GRPCAddr())
	return nil
}

func (c *Controller) startGRPC() error {
	lis := c.opts.GRPCListener
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", c.cfg.Transport.ListenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", c.cfg.Transport.ListenAddr, err)
		}
	}
	c.grpcLis = lis
	c.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(transport.LoggingInterceptor))
	c.rpc.Register(c.grpcServer)

	c.serveWg.Add(1)
	go func() {
		defer c.serveWg.Done()
		if err := c.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("gRPC server failed", "error", err)
		}
	}()
	return nil
}

func (c *Controller) stopGRPC() {
	if c.grpcServer == nil {
		return
	}
	c.grpcServer.Stop()
	c.serveWg.Wait()
	c.grpcServer = nil
}

// Stop 依與啟動相反的順序停止，並寫入最後一次快照；可重複呼叫
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRunning {
		return nil
	}
	c.state = stateStopped
	log.Info("stopping participant", "participant", c.cfg.Participant.Name)

	var errs []error
	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin http shutdown: %w", err))
		}
	}

	// 週期任務取消，執行中的快照會完成
	c.pool.Stop()
	c.sync.Stop()
	if err := c.clocks.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := c.sched.Stop(); err != nil {
		errs = append(errs, err)
	}

	if err := c.snapshot.WriteFrom(c.Snapshot); err != nil {
		errs = append(errs, fmt.Errorf("final snapshot: %w", err))
	}

	if err := c.sched.Deinitialize(); err != nil {
		errs = append(errs, err)
	}
	if err := c.sync.Deinitialize(ctx); err != nil {
		errs = append(errs, err)
	}

	c.stopGRPC()
	c.sink.Close()
	if err := c.transport.Close(); err != nil {
		log.Debug("closing connections", "error", err)
	}
	c.clocks.Close()

	log.Info("participant stopped", "participant", c.cfg.Participant.Name, "uptime", time.Since(c.startedAt))
	return errors.Join(errs...)
}

// onAbort 排程器因任務違規中止時呼叫；時鐘與同步維持運作
func (c *Controller) onAbort(err error) {
	log.Error("scheduler aborted", "participant", c.cfg.Participant.Name, "error", err)
	select {
	case c.done <- err:
	default:
	}
}

// Done 排程器中止時收到中止錯誤
func (c *Controller) Done() <-chan error {
	return c.done
}

// Snapshot 目前的健康快照內容
func (c *Controller) Snapshot() types.HealthSnapshot {
	return types.HealthSnapshot{
		Participant: c.cfg.Participant.Name,
		Clock:       c.clocks.MainClockName(),
		SimTime:     c.clocks.Time(),
		Jobs:        c.health.GetHealth(),
	}
}

// Trigger 發出資料觸發訊號
func (c *Controller) Trigger(signal string) error {
	return c.sched.Trigger(signal)
}

// ============================================================================
// 存取器（admin HTTP、CLI 與測試使用）
// ============================================================================

func (c *Controller) Name() string { return c.cfg.Participant.Name }
func (c *Controller) InstanceID() string { return c.instanceID.String() }
func (c *Controller) Clocks() *clock.Service { return c.clocks }
func (c *Controller) Sync() *clocksync.Service { return c.sync }
func (c *Controller) Sink() *clocksync.MasterSink { return c.sink }
func (c *Controller) Jobs() *jobregistry.Registry { return c.jobs }
func (c *Controller) Health() *health.Registry { return c.health }
func (c *Controller) Scheduler() *scheduler.Service { return c.sched }
func (c *Controller) Transport() *transport.GrpcTransport { return c.transport }

// GRPCAddr 實際監聽的 gRPC 位址
func (c *Controller) GRPCAddr() string {
	if c.grpcLis == nil {
		return ""
	}
	return c.grpcLis.Addr().String()
}

// HTTPAddr 實際監聽的 admin HTTP 位址
func (c *Controller) HTTPAddr() string {
	if c.httpLis == nil {
		return ""
	}
	return c.httpLis.Addr().String()
}
