// Package clocksync implements master/slave clock synchronization: the
// master relays its clock events to registered slaves, and the slave clocks
// follow a remote master either by polling it (continuous) or by applying
// the pushed events (discrete).
package clocksync

import (
	"context"
	"log/slog"
	"time"

	"github.com/ChuLiYu/simclock/pkg/types"
)

var log = slog.With("component", "clocksync")

// DefaultCallTimeout bounds a single remote call of the slave side.
const DefaultCallTimeout = time.Second

// MasterClient is the slave's view of the master participant.
type MasterClient interface {
	GetMasterTime(ctx context.Context) (types.Timestamp, error)
	GetMasterType(ctx context.Context) (types.ClockType, error)
	RegisterSyncSlave(ctx context.Context, flags types.EventIDFlag, name string) error
	UnregisterSyncSlave(ctx context.Context, name string) error
	SlaveSyncedEvent(ctx context.Context, t types.Timestamp, name string) error
}

// SlaveClient is the master's reverse channel to one slave.
type SlaveClient interface {
	// SyncTimeEvent delivers one clock event and returns the slave's local
	// time after handling it.
	SyncTimeEvent(ctx context.Context, id types.EventID, newTime, oldTime types.Timestamp) (types.Timestamp, error)
}

// SlaveDialer opens the reverse channel to the slave called name.
type SlaveDialer func(name string) (SlaveClient, error)

// IsSlaveClock reports whether name is one of the slave clock names.
func IsSlaveClock(name string) bool {
	return name == types.ClockSlaveMasterOnDemand || name == types.ClockSlaveMasterOnDemandDiscrete
}

// SlaveFlags returns the events a slave clock subscribes to.
func SlaveFlags(clockName string, beforeAndAfter bool) types.EventIDFlag {
	if clockName == types.ClockSlaveMasterOnDemandDiscrete && beforeAndAfter {
		return types.FlagsAll
	}
	return types.FlagTimeUpdating | types.FlagTimeReset
}
