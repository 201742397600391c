package clocksync

import (
	"sync"
	"time"

	"github.com/ChuLiYu/simclock/pkg/types"
)

// InterpolationTime is the time source of the continuous slave clock. It
// free-runs on the host clock from the last master estimate and never goes
// backwards.
type InterpolationTime struct {
	mu    sync.Mutex
	now   func() time.Time
	base  types.Timestamp
	setAt time.Time
	last  types.Timestamp
}

// NewInterpolationTime creates a source starting at zero.
func NewInterpolationTime(now func() time.Time) *InterpolationTime {
	if now == nil {
		now = time.Now
	}
	return &InterpolationTime{now: now, setAt: now()}
}

func (s *InterpolationTime) NewTime() types.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.base + s.now().Sub(s.setAt)
	if t < s.last {
		t = s.last
	}
	s.last = t
	return t
}

func (s *InterpolationTime) ResetTime(t types.Timestamp) types.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = t
	s.setAt = s.now()
	s.last = t
	return t
}

// SetTime re-bases the source on a master reading taken rtt ago. The master
// time at receipt is estimated as master + rtt/2.
func (s *InterpolationTime) SetTime(master types.Timestamp, rtt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = master + rtt/2
	s.setAt = s.now()
}
