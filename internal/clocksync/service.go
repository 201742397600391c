package clocksync

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ChuLiYu/simclock/internal/clock"
	"github.com/ChuLiYu/simclock/internal/metrics"
	"github.com/ChuLiYu/simclock/pkg/types"
)

// Config holds the clock_synchronization settings of a participant.
type Config struct {
	TimingMaster        string        // clock_synchronization/timing_master
	SyncCycleTime       time.Duration // clock_synchronization/sync_cycle_time
	MaxMissedSyncs      int           // clock_synchronization/max_missed_syncs
	BeforeAndAfterEvent bool          // clock_synchronization/before_and_after_event
	CallTimeout         time.Duration
	ParticipantName     string
	MainClock           string // clock/main_clock
}

// ClockRegistrar is the part of the clock service the sync service needs.
type ClockRegistrar interface {
	RegisterClock(c clock.Clock) error
	UnregisterClock(name string) error
}

// MasterConnector returns the client of the master participant called name.
type MasterConnector func(name string) (MasterClient, error)

type slaveClock interface {
	clock.Clock
	Updater() *FarClockUpdater
}

// Service creates the slave clock when the main clock follows a remote
// master and runs its updater with the participant lifecycle.
type Service struct {
	cfg     Config
	clocks  ClockRegistrar
	connect MasterConnector
	metrics *metrics.Collector

	mu    sync.Mutex
	slave slaveClock
}

// NewService creates the sync service.
func NewService(cfg Config, clocks ClockRegistrar, connect MasterConnector, m *metrics.Collector) *Service {
	return &Service{cfg: cfg, clocks: clocks, connect: connect, metrics: m}
}

// IsSlave reports whether the configured main clock follows a master.
func (s *Service) IsSlave() bool {
	return IsSlaveClock(s.cfg.MainClock)
}

// Initialize registers the slave clock and registers this participant at
// the master. A master that cannot be reached yet is retried by the updater.
func (s *Service) Initialize(ctx context.Context) error {
	if !s.IsSlave() {
		if s.cfg.TimingMaster != "" {
			log.Info("timing master configured but main clock is local", "master", s.cfg.TimingMaster, "clock", s.cfg.MainClock)
		}
		return nil
	}
	if s.cfg.TimingMaster == "" {
		return types.NewInvalidArgument("main clock %q needs clock_synchronization/timing_master", s.cfg.MainClock)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slave != nil {
		return types.NewInvalidState("clock synchronization already initialized")
	}

	master, err := s.connect(s.cfg.TimingMaster)
	if err != nil {
		return err
	}

	ucfg := UpdaterConfig{
		ParticipantName: s.cfg.ParticipantName,
		SyncCycleTime:   s.cfg.SyncCycleTime,
		MaxMissedSyncs:  s.cfg.MaxMissedSyncs,
		CallTimeout:     s.cfg.CallTimeout,
		Flags:           SlaveFlags(s.cfg.MainClock, s.cfg.BeforeAndAfterEvent),
	}
	var slave slaveClock
	if s.cfg.MainClock == types.ClockSlaveMasterOnDemandDiscrete {
		slave = NewOnDemandDiscreteClock(ucfg, master, s.cfg.BeforeAndAfterEvent, s.metrics)
	} else {
		slave = NewOnDemandClock(ucfg, master, s.metrics)
	}
	if err := s.clocks.RegisterClock(slave); err != nil {
		return err
	}
	s.slave = slave

	// 主時鐘尚未啟動時由工作迴圈重新註冊
	_ = slave.Updater().StartRPC(ctx)
	return nil
}

// Start runs the updater work loop.
func (s *Service) Start() {
	if u := s.updater(); u != nil {
		u.StartWork()
	}
}

// Stop ends the updater work loop.
func (s *Service) Stop() {
	if u := s.updater(); u != nil {
		u.StopWork()
	}
}

// Deinitialize unregisters from the master and removes the slave clock.
func (s *Service) Deinitialize(ctx context.Context) error {
	s.mu.Lock()
	slave := s.slave
	s.slave = nil
	s.mu.Unlock()
	if slave == nil {
		return nil
	}

	slave.Updater().StopWork()
	if err := slave.Updater().StopRPC(ctx); err != nil {
		log.Warn("unregister at master failed", "master", s.cfg.TimingMaster, "error", err)
	}
	return s.clocks.UnregisterClock(slave.Name())
}

// SyncTimeEvent handles an event pushed by the master and returns the local
// time after it, or "-1" when it cannot be handled.
func (s *Service) SyncTimeEvent(eventID int32, newTime, oldTime string) string {
	u := s.updater()
	if u == nil {
		return "-1"
	}
	nt, err := strconv.ParseInt(newTime, 10, 64)
	if err != nil {
		return "-1"
	}
	ot, err := strconv.ParseInt(oldTime, 10, 64)
	if err != nil {
		return "-1"
	}
	local, err := u.HandleEvent(types.EventID(eventID), types.Timestamp(nt), types.Timestamp(ot))
	if err != nil {
		log.Warn("sync event rejected", "event", types.EventID(eventID), "error", err)
		return "-1"
	}
	return strconv.FormatInt(int64(local), 10)
}

// Updater returns the updater of the slave clock, or nil when this
// participant is not a slave.
func (s *Service) Updater() *FarClockUpdater {
	return s.updater()
}

func (s *Service) updater() *FarClockUpdater {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slave == nil {
		return nil
	}
	return s.slave.Updater()
}
