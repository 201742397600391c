// ============================================================================
// 時鐘驅動排程器
// ============================================================================
//
// Package: internal/scheduler
// 文件: scheduler.go
// 功能: 依照時鐘事件派發週期任務，資料觸發任務則由訊號直接派發
//
// 狀態機:
//   uninitialized -> initialized -> running -> initialized -> uninitialized
//
// 執行器選擇:
//   - 連續時鐘: asyncExecutor，背景迴圈依牆鐘等待下一個到期時間
//   - 離散時鐘: syncExecutor，在 TimeUpdating 事件中同步執行並等待完成
//
// 並發保證:
//   - 派發與時間重置互斥，重置前等待所有執行中的任務
//   - Stop 返回後不會再有任務開始執行
//
// ============================================================================

package scheduler

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/ChuLiYu/simclock/internal/clock"
	"github.com/ChuLiYu/simclock/internal/jobregistry"
	"github.com/ChuLiYu/simclock/internal/metrics"
	"github.com/ChuLiYu/simclock/internal/worker"
	"github.com/ChuLiYu/simclock/pkg/types"
)

var log = slog.With("component", "scheduler")

// DefaultMaxWorkers 預設的 worker 上限
const DefaultMaxWorkers = 64

// ClockService 排程器需要的時鐘服務介面
type ClockService interface {
	Time() types.Timestamp
	Type() types.ClockType
	RegisterEventSink(sink clock.EventSink) error
	UnregisterEventSink(sink clock.EventSink) error
}

// Scheduler 可註冊到 Registry 的排程器
type Scheduler interface {
	Name() string
	Initialize(clocks ClockService, jobs map[string]jobregistry.Entry) error
	Start() error
	Stop() error
	Deinitialize() error
	Trigger(signal string) error
	Err() error
	OnAbort(fn func(error))
}

// taskExecutor 由時鐘事件驅動的執行器
type taskExecutor interface {
	start()
	stop()
	timeUpdating(cur types.Timestamp)
	timeResetBegin(oldTime, newTime types.Timestamp)
	timeResetEnd()
}

type state int

const (
	stateUninitialized state = iota
	stateInitialized
	stateRunning
)

func (s state) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateInitialized:
		return "initialized"
	case stateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// ============================================================================
// 資料結構定義
// ============================================================================

// Options 排程器的依賴與限制
type Options struct {
	MaxWorkers int
	Health     HealthReporter
	Metrics    *metrics.Collector
}

// ClockBasedScheduler 預設排程器 clock_based_scheduler
type ClockBasedScheduler struct {
	mu    sync.Mutex
	opts  Options
	state state

	clocks   ClockService
	sink     *clockSink
	pool     *worker.Pool
	storage  *taskStorage
	exec     taskExecutor
	data     *DataTriggeredExecutor
	jobCount int

	errMu   sync.Mutex
	err     error
	onAbort func(error)
}

// NewClockBasedScheduler 建立時鐘驅動排程器
func NewClockBasedScheduler(opts Options) *ClockBasedScheduler {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	return &ClockBasedScheduler{opts: opts}
}

func (s *ClockBasedScheduler) Name() string {
	return types.SchedulerClockBased
}

// ============================================================================
// 生命週期
// ============================================================================

// Initialize 為每個任務建立排程資料，並依時鐘類型選擇執行器
func (s *ClockBasedScheduler) Initialize(clocks ClockService, jobs map[string]jobregistry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateUninitialized {
		return types.NewInvalidState("scheduler is %s", s.state)
	}

	names := make([]string, 0, len(jobs))
	for name := range jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	pool := worker.NewPool(4 * len(jobs))
	storage := &taskStorage{}
	d := newDispatcher(pool, s.opts.Metrics, s.abort)
	data := newDataTriggeredExecutor(d, clocks.Time)

	now := clocks.Time()
	for _, name := range names {
		entry := jobs[name]
		cfg := entry.Info.Config
		runner := newJobRunner(name, cfg, s.opts.Health, s.opts.Metrics, s.abort)

		if entry.Info.Trigger == types.TriggerData {
			data.add(&task{name: name, job: entry.Job, runner: runner}, entry.Info.Signals)
			continue
		}

		t := &task{
			name:   name,
			job:    entry.Job,
			runner: runner,
			period: cfg.CycleSimTime,
			delay:  cfg.DelaySimTime,
			next:   firstDue(now, cfg.CycleSimTime, cfg.DelaySimTime),
		}
		if err := storage.add(t); err != nil {
			return err
		}
	}

	var exec taskExecutor
	if clocks.Type() == types.ClockDiscrete {
		exec = newSyncExecutor(storage, d)
	} else {
		exec = newAsyncExecutor(storage, d, clocks.Time)
	}

	sink := &clockSink{exec: exec}
	if err := clocks.RegisterEventSink(sink); err != nil {
		return err
	}

	s.clocks = clocks
	s.sink = sink
	s.pool = pool
	s.storage = storage
	s.exec = exec
	s.data = data
	s.jobCount = len(jobs)
	s.state = stateInitialized

	log.Info("scheduler initialized", "jobs", len(jobs), "clock_type", clocks.Type())
	return nil
}

// Start 啟動 worker pool 與執行器
func (s *ClockBasedScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateInitialized {
		return types.NewInvalidState("scheduler is %s", s.state)
	}

	workers := s.jobCount
	if workers > s.opts.MaxWorkers {
		workers = s.opts.MaxWorkers
	}
	if err := s.pool.Start(workers); err != nil {
		return err
	}

	s.errMu.Lock()
	s.err = nil
	s.errMu.Unlock()

	s.exec.start()
	s.data.start()
	s.state = stateRunning

	log.Info("scheduler started", "workers", workers)
	return nil
}

// Stop 停止派發；返回後不會再有任務開始
//  1. 停止 worker pool，丟棄尚未開始的任務
//  2. 停止執行器並等待執行中的任務
//  3. 任務退回一個週期，重新啟動時重跑被中斷的週期
func (s *ClockBasedScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateUninitialized:
		return types.NewInvalidState("scheduler is %s", s.state)
	case stateInitialized:
		return nil
	}

	s.pool.Stop()
	s.exec.stop()
	s.data.stop()
	s.state = stateInitialized

	log.Info("scheduler stopped", "pool", s.pool.Stats())
	return nil
}

// Deinitialize 取消時鐘事件訂閱並釋放任務
func (s *ClockBasedScheduler) Deinitialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateInitialized {
		return types.NewInvalidState("scheduler is %s", s.state)
	}

	if err := s.clocks.UnregisterEventSink(s.sink); err != nil {
		log.Warn("clock sink not unregistered", "error", err)
	}
	s.clocks = nil
	s.sink = nil
	s.pool = nil
	s.storage = nil
	s.exec = nil
	s.data = nil
	s.jobCount = 0
	s.state = stateUninitialized
	return nil
}

// Trigger 派發監聽 signal 的資料觸發任務
func (s *ClockBasedScheduler) Trigger(signal string) error {
	s.mu.Lock()
	data := s.data
	running := s.state == stateRunning
	s.mu.Unlock()

	if !running {
		return types.NewInvalidState("scheduler is not running")
	}
	return data.Trigger(signal)
}

// Err 返回使排程器中止的錯誤
func (s *ClockBasedScheduler) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// OnAbort 設定中止時的回呼，在排程器停止後呼叫
func (s *ClockBasedScheduler) OnAbort(fn func(error)) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.onAbort = fn
}

// abort 只記錄第一個錯誤；停止在背景進行，呼叫端可能是 worker 本身
func (s *ClockBasedScheduler) abort(err error) {
	s.errMu.Lock()
	if s.err != nil {
		s.errMu.Unlock()
		return
	}
	s.err = err
	cb := s.onAbort
	s.errMu.Unlock()

	log.Error("scheduler aborted", "error", err)
	s.opts.Metrics.RecordAbort()

	go func() {
		if stopErr := s.Stop(); stopErr != nil {
			log.Warn("stop after abort failed", "error", stopErr)
		}
		if cb != nil {
			cb(err)
		}
	}()
}

// tasks 回傳時鐘觸發任務，測試用
func (s *ClockBasedScheduler) tasks() []*task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storage == nil {
		return nil
	}
	return s.storage.all()
}

// clockSink 將時鐘事件轉給執行器
type clockSink struct {
	clock.NopSink
	exec taskExecutor
}

func (k *clockSink) TimeUpdating(newTime types.Timestamp) {
	k.exec.timeUpdating(newTime)
}

func (k *clockSink) TimeResetBegin(oldTime, newTime types.Timestamp) {
	k.exec.timeResetBegin(oldTime, newTime)
}

func (k *clockSink) TimeResetEnd(types.Timestamp) {
	k.exec.timeResetEnd()
}
