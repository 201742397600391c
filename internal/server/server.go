// Package server is the RPC facade of a participant. It serves the master,
// slave and inspector gRPC services on top of the clock service, the master
// sink, the job registry and the health registry, translating every error
// into the "-1" reply convention.
package server

import (
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/ChuLiYu/simclock/internal/transport"
	"github.com/ChuLiYu/simclock/pkg/types"
	"google.golang.org/grpc"
)

var log = slog.With("component", "server")

const failure = "-1"

// Clocks is the read side of the clock service.
type Clocks interface {
	ClockNamesString() string
	Time() types.Timestamp
	Type() types.ClockType
	TimeOf(name string) (types.Timestamp, error)
}

// Slaves keeps the slaves registered at this participant.
type Slaves interface {
	RegisterSlave(flags types.EventIDFlag, name string) error
	UnregisterSlave(name string) error
	SlaveSynced(t types.Timestamp, name string) error
	Slaves() []types.SlaveInfo
}

// SyncEvents handles events pushed by a remote master.
type SyncEvents interface {
	SyncTimeEvent(eventID int32, newTime, oldTime string) string
}

// Jobs is the read side of the job registry.
type Jobs interface {
	Names() []string
	JobInfo(name string) (types.JobInfo, error)
}

// Health is the read side of the health registry.
type Health interface {
	GetHealth() []types.JobHealth
}

// Server implements the gRPC handlers of a participant.
type Server struct {
	clocks Clocks
	slaves Slaves
	events SyncEvents
	jobs   Jobs
	health Health
}

// NewServer creates the facade. events may be nil on a participant that is
// not a slave.
func NewServer(clocks Clocks, slaves Slaves, events SyncEvents, jobs Jobs, health Health) *Server {
	return &Server{
		clocks: clocks,
		slaves: slaves,
		events: events,
		jobs:   jobs,
		health: health,
	}
}

// Register registers all services of s on the gRPC server.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	transport.RegisterMaster(r, s)
	transport.RegisterSlave(r, s)
	transport.RegisterInspector(r, s)
}

// ============================================================================
// ClockSyncMaster
// ============================================================================

func (s *Server) GetClockNames() string {
	return s.clocks.ClockNamesString()
}

func (s *Server) GetMasterTime() string {
	return strconv.FormatInt(int64(s.clocks.Time()), 10)
}

func (s *Server) GetMasterType() int32 {
	return int32(s.clocks.Type())
}

func (s *Server) RegisterSyncSlave(eventFlag int32, clientName string) int32 {
	if err := s.slaves.RegisterSlave(types.EventIDFlag(eventFlag), clientName); err != nil {
		log.Warn("slave registration rejected", "slave", clientName, "flags", eventFlag, "error", err)
		return -1
	}
	log.Info("slave registered", "slave", clientName, "flags", eventFlag)
	return 0
}

func (s *Server) UnregisterSyncSlave(clientName string) int32 {
	if err := s.slaves.UnregisterSlave(clientName); err != nil {
		log.Warn("slave unregistration rejected", "slave", clientName, "error", err)
		return -1
	}
	log.Info("slave unregistered", "slave", clientName)
	return 0
}

func (s *Server) SlaveSyncedEvent(timestamp, clientName string) int32 {
	t, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return -1
	}
	if err := s.slaves.SlaveSynced(types.Timestamp(t), clientName); err != nil {
		log.Debug("synced event rejected", "slave", clientName, "error", err)
		return -1
	}
	return 0
}

// GetTime returns the time of the named clock, or "-1" for an unknown name.
func (s *Server) GetTime(clockName string) string {
	t, err := s.clocks.TimeOf(clockName)
	if err != nil {
		return failure
	}
	return strconv.FormatInt(int64(t), 10)
}

// ============================================================================
// ClockSyncSlave
// ============================================================================

func (s *Server) SyncTimeEvent(eventID int32, newTime, oldTime string) string {
	if s.events == nil {
		return failure
	}
	return s.events.SyncTimeEvent(eventID, newTime, oldTime)
}

// ============================================================================
// Inspector
// ============================================================================

func (s *Server) GetJobNames() string {
	return marshal(s.jobs.Names())
}

func (s *Server) GetJobInfo(name string) string {
	info, err := s.jobs.JobInfo(name)
	if err != nil {
		return failure
	}
	return marshal(info)
}

func (s *Server) GetHealth() string {
	return marshal(s.health.GetHealth())
}

func (s *Server) GetSlaves() string {
	return marshal(s.slaves.Slaves())
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error("reply not encodable", "error", err)
		return failure
	}
	return string(b)
}

var (
	_ transport.MasterHandler    = (*Server)(nil)
	_ transport.SlaveHandler     = (*Server)(nil)
	_ transport.InspectorHandler = (*Server)(nil)
)
