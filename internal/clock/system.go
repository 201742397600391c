package clock

import (
	"sync"
	"time"

	"github.com/ChuLiYu/simclock/pkg/types"
)

// SystemClock is the continuous local_system_realtime clock: elapsed wall
// time since the last reset.
type SystemClock struct {
	*ContinuousClock
}

// NewSystemClock creates the real time clock.
func NewSystemClock() *SystemClock {
	return &SystemClock{
		ContinuousClock: NewContinuousClock(types.ClockLocalSystemRealtime, newWallSource(time.Now)),
	}
}

// wallSource measures time on the host monotonic clock relative to an origin.
type wallSource struct {
	mu     sync.Mutex
	now    func() time.Time
	origin time.Time
}

func newWallSource(now func() time.Time) *wallSource {
	return &wallSource{now: now, origin: now()}
}

func (s *wallSource) NewTime() types.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.origin)
}

func (s *wallSource) ResetTime(t types.Timestamp) types.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.origin = s.now().Add(-t)
	return t
}
