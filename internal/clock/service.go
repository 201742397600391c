package clock

import (
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/simclock/pkg/types"
)

// Config configures the clock service.
type Config struct {
	MainClock         string
	StepSize          time.Duration
	TimeFactor        float64
	TimeUpdateTimeout time.Duration
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		MainClock:         types.DefaultMainClockName,
		StepSize:          types.DefaultStepSize,
		TimeFactor:        types.DefaultTimeFactor,
		TimeUpdateTimeout: types.DefaultTimeUpdateTimeout,
	}
}

// Validate checks the value ranges.
func (c Config) Validate() error {
	if c.StepSize <= 0 {
		return types.NewInvalidArgument("clock step size must be positive, got %s", c.StepSize)
	}
	if c.TimeFactor < 0 {
		return types.NewInvalidArgument("clock time factor must not be negative, got %v", c.TimeFactor)
	}
	if c.TimeUpdateTimeout < types.MinTimeUpdateTimeout {
		return types.NewInvalidArgument("time update timeout must be at least %s, got %s",
			types.MinTimeUpdateTimeout, c.TimeUpdateTimeout)
	}
	return nil
}

// EventObserver is notified after each event has been delivered to all sinks.
type EventObserver func(clock, event string)

// Service owns the clock registry and exactly one active clock. It attaches
// itself as the active clock's sink on Start and forwards every event to the
// sinks registered with RegisterEventSink.
type Service struct {
	mu       sync.RWMutex
	cfg      Config
	registry *Registry
	active   Clock
	started  bool
	lastTime types.Timestamp

	realtime *SystemClock
	simtime  *SimulationClock
	sinks    *fanout
}

// NewService creates a clock service with the built-in clocks registered and
// local_system_realtime active.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		registry: NewRegistry(),
		realtime: NewSystemClock(),
		simtime:  NewSimulationClock(cfg.StepSize, cfg.TimeFactor),
		sinks:    &fanout{},
	}
	if err := s.registry.Register(s.realtime); err != nil {
		return nil, err
	}
	if err := s.registry.Register(s.simtime); err != nil {
		return nil, err
	}
	s.active = s.realtime
	return s, nil
}

// SetEventObserver installs a hook called once per delivered event.
func (s *Service) SetEventObserver(obs EventObserver) {
	if obs == nil {
		s.sinks.observe(nil)
		return
	}
	s.sinks.observe(func(event string) {
		obs(s.MainClockName(), event)
	})
}

func isBuiltin(name string) bool {
	return name == types.ClockLocalSystemRealtime || name == types.ClockLocalSystemSimtime
}

// RegisterClock adds c to the registry.
func (s *Service) RegisterClock(c Clock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return types.NewInvalidState("cannot register clock %q while the clock service is running", c.Name())
	}
	return s.registry.Register(c)
}

// UnregisterClock removes a clock. Built-in clocks cannot be removed. If the
// active clock is removed, local_system_realtime becomes active.
func (s *Service) UnregisterClock(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return types.NewInvalidState("cannot unregister clock %q while the clock service is running", name)
	}
	if isBuiltin(name) {
		return types.NewInvalidArgument("built-in clock %q cannot be unregistered", name)
	}
	if err := s.registry.Unregister(name); err != nil {
		return err
	}
	if s.active != nil && s.active.Name() == name {
		log.Warn("active clock unregistered, falling back", "clock", name, "fallback", s.realtime.Name())
		s.active = s.realtime
	}
	return nil
}

// SetActiveClock selects the clock that Start will run.
func (s *Service) SetActiveClock(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return types.NewInvalidState("cannot change main clock while the clock service is running")
	}
	c, err := s.registry.Find(name)
	if err != nil {
		return err
	}
	s.active = c
	return nil
}

// Tense applies the configuration before a run: configures the simulation
// clock and selects the main clock.
func (s *Service) Tense() error {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()

	if err := s.simtime.Configure(cfg.StepSize, cfg.TimeFactor); err != nil {
		return err
	}
	name := cfg.MainClock
	if name == "" {
		name = types.DefaultMainClockName
	}
	return s.SetActiveClock(name)
}

// Start starts the active clock with the service as its sink.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return types.NewInvalidState("clock service already started")
	}
	active := s.active
	s.started = true
	s.mu.Unlock()

	log.Info("starting clock", "clock", active.Name(), "type", active.Type())
	active.Start(s.sinks)
	return nil
}

// Stop stops the active clock. Time queries keep returning the last observed
// time until the next Start.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	active := s.active
	s.mu.Unlock()

	last := active.Time()
	active.Stop()

	s.mu.Lock()
	s.started = false
	s.lastTime = last
	s.mu.Unlock()
	log.Info("clock stopped", "clock", active.Name(), "time", last)
	return nil
}

// Close detaches all event sinks. The service must be stopped.
func (s *Service) Close() {
	_ = s.Stop()
	s.sinks.closeAll()
}

// Time returns the time of the active clock, zero before the first start.
func (s *Service) Time() types.Timestamp {
	s.mu.RLock()
	started, active, last := s.started, s.active, s.lastTime
	s.mu.RUnlock()
	if !started {
		return last
	}
	return active.Time()
}

// Type returns the type of the active clock.
func (s *Service) Type() types.ClockType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.Type()
}

// MainClockName returns the name of the active clock.
func (s *Service) MainClockName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.Name()
}

// ClockNames lists the registered clocks.
func (s *Service) ClockNames() []string {
	return s.registry.Names()
}

// ClockNamesString lists the registered clocks comma separated.
func (s *Service) ClockNamesString() string {
	return strings.Join(s.registry.Names(), ",")
}

// TimeOf returns the time of the registered clock called name.
func (s *Service) TimeOf(name string) (types.Timestamp, error) {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()
	if active.Name() == name {
		return s.Time(), nil
	}
	c, err := s.registry.Find(name)
	if err != nil {
		return 0, err
	}
	return c.Time(), nil
}

// Started reports whether the active clock is running.
func (s *Service) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// TimeUpdateTimeout returns the configured bound for remote event delivery.
func (s *Service) TimeUpdateTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.TimeUpdateTimeout
}

// RegisterEventSink subscribes sink to the events of the active clock.
func (s *Service) RegisterEventSink(sink EventSink) error {
	if sink == nil {
		return types.NewInvalidArgument("event sink must not be nil")
	}
	return s.sinks.add(sink)
}

// UnregisterEventSink unsubscribes sink and waits for an in-flight delivery.
func (s *Service) UnregisterEventSink(sink EventSink) error {
	return s.sinks.remove(sink)
}
