// Package clock provides the participant time abstraction: continuous and
// discrete clocks, a named clock registry and the clock service that owns the
// active clock and broadcasts its events.
package clock

import (
	"log/slog"

	"github.com/ChuLiYu/simclock/pkg/types"
)

var log = slog.With("component", "clock")

// EventSink receives the events of a running clock.
//
// Per clock the calls are strictly ordered and never re-entrant. An update is
// delivered as TimeUpdateBegin, one or more TimeUpdating, TimeUpdateEnd; a
// reset as TimeResetBegin followed by TimeResetEnd. Continuous clocks only
// emit resets. A sink must not reset the clock that is notifying it.
type EventSink interface {
	TimeUpdateBegin(oldTime, newTime types.Timestamp)
	TimeUpdating(newTime types.Timestamp)
	TimeUpdateEnd(newTime types.Timestamp)
	TimeResetBegin(oldTime, newTime types.Timestamp)
	TimeResetEnd(newTime types.Timestamp)
}

// Clock is a named time source.
type Clock interface {
	Name() string
	Type() types.ClockType
	// Time returns the current time. Before the first start it is zero.
	Time() types.Timestamp
	// Reset moves the clock to t, bracketed by reset events.
	Reset(t types.Timestamp)
	// Start attaches sink and begins emitting events.
	Start(sink EventSink)
	// Stop detaches the sink.
	Stop()
}

// NopSink ignores every event. Embed it to implement a subset of EventSink.
type NopSink struct{}

func (NopSink) TimeUpdateBegin(types.Timestamp, types.Timestamp) {}
func (NopSink) TimeUpdating(types.Timestamp)                     {}
func (NopSink) TimeUpdateEnd(types.Timestamp)                    {}
func (NopSink) TimeResetBegin(types.Timestamp, types.Timestamp)  {}
func (NopSink) TimeResetEnd(types.Timestamp)                     {}
