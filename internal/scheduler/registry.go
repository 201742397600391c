package scheduler

import (
	"sort"
	"sync"

	"github.com/ChuLiYu/simclock/internal/jobregistry"
	"github.com/ChuLiYu/simclock/internal/metrics"
	"github.com/ChuLiYu/simclock/pkg/types"
)

// Registry 具名排程器集合，預設排程器不可移除
type Registry struct {
	mu         sync.RWMutex
	schedulers map[string]Scheduler
	def        string
	active     string
	locked     bool
}

// NewRegistry 建立註冊表並啟用 def
func NewRegistry(def Scheduler) *Registry {
	return &Registry{
		schedulers: map[string]Scheduler{def.Name(): def},
		def:        def.Name(),
		active:     def.Name(),
	}
}

// Register 新增排程器
func (r *Registry) Register(s Scheduler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked {
		return types.NewInvalidState("cannot register scheduler %q while a scheduler is initialized", s.Name())
	}
	if _, ok := r.schedulers[s.Name()]; ok {
		return types.NewDuplicateName("scheduler", s.Name())
	}
	r.schedulers[s.Name()] = s
	return nil
}

// Unregister 移除排程器；若移除的是目前使用中的，改用預設排程器
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked {
		return types.NewInvalidState("cannot unregister scheduler %q while a scheduler is initialized", name)
	}
	if name == r.def {
		return types.NewInvalidArgument("default scheduler %q cannot be unregistered", name)
	}
	if _, ok := r.schedulers[name]; !ok {
		return types.NewNotFound("scheduler %q", name)
	}
	delete(r.schedulers, name)
	if r.active == name {
		log.Warn("active scheduler unregistered, falling back", "scheduler", name, "fallback", r.def)
		r.active = r.def
	}
	return nil
}

// Select 設定使用中的排程器，空字串代表預設
func (r *Registry) Select(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		name = r.def
	}
	if r.locked && name != r.active {
		return types.NewInvalidState("cannot change scheduler while a scheduler is initialized")
	}
	if _, ok := r.schedulers[name]; !ok {
		return types.NewNotFound("scheduler %q", name)
	}
	r.active = name
	return nil
}

// Active 目前使用中的排程器
func (r *Registry) Active() Scheduler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schedulers[r.active]
}

// Names 已註冊的排程器名稱（排序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schedulers))
	for n := range r.schedulers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) setLocked(v bool) {
	r.mu.Lock()
	r.locked = v
	r.mu.Unlock()
}

// ============================================================================
// 排程服務
// ============================================================================

// Config 排程服務設定
type Config struct {
	Scheduler  string // scheduling/scheduler
	MaxWorkers int    // scheduling/max_workers
}

// Service 連接時鐘服務、任務註冊表與使用中的排程器
type Service struct {
	mu       sync.Mutex
	cfg      Config
	clocks   ClockService
	jobs     *jobregistry.Registry
	registry *Registry
	current  Scheduler
	onAbort  func(error)
}

// NewService 建立排程服務，預設排程器為 clock_based_scheduler
func NewService(cfg Config, clocks ClockService, jobs *jobregistry.Registry, health HealthReporter, m *metrics.Collector) *Service {
	def := NewClockBasedScheduler(Options{
		MaxWorkers: cfg.MaxWorkers,
		Health:     health,
		Metrics:    m,
	})
	return &Service{
		cfg:      cfg,
		clocks:   clocks,
		jobs:     jobs,
		registry: NewRegistry(def),
	}
}

// Schedulers 排程器註冊表
func (s *Service) Schedulers() *Registry {
	return s.registry
}

// Initialize 選擇設定的排程器並以凍結的任務集合初始化
func (s *Service) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return types.NewInvalidState("scheduler %q already initialized", s.current.Name())
	}
	if err := s.registry.Select(s.cfg.Scheduler); err != nil {
		return err
	}
	sched := s.registry.Active()
	if s.onAbort != nil {
		sched.OnAbort(s.onAbort)
	}

	s.jobs.Freeze()
	if err := sched.Initialize(s.clocks, s.jobs.Jobs()); err != nil {
		s.jobs.Thaw()
		return err
	}
	s.registry.setLocked(true)
	s.current = sched
	return nil
}

// Start 啟動目前的排程器
func (s *Service) Start() error {
	sched, err := s.initialized()
	if err != nil {
		return err
	}
	return sched.Start()
}

// Stop 停止目前的排程器
func (s *Service) Stop() error {
	sched, err := s.initialized()
	if err != nil {
		return err
	}
	return sched.Stop()
}

// Deinitialize 反初始化排程器並解凍任務註冊表
func (s *Service) Deinitialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return types.NewInvalidState("no scheduler initialized")
	}
	if err := s.current.Deinitialize(); err != nil {
		return err
	}
	s.current = nil
	s.registry.setLocked(false)
	s.jobs.Thaw()
	return nil
}

// Trigger 轉送資料觸發訊號
func (s *Service) Trigger(signal string) error {
	sched, err := s.initialized()
	if err != nil {
		return err
	}
	return sched.Trigger(signal)
}

// Err 使用中排程器的中止錯誤
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.Err()
}

// OnAbort 設定中止回呼，於 Initialize 時交給選定的排程器
func (s *Service) OnAbort(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAbort = fn
	if s.current != nil {
		s.current.OnAbort(fn)
	}
}

func (s *Service) initialized() (Scheduler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, types.NewInvalidState("no scheduler initialized")
	}
	return s.current, nil
}

