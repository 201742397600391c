package scheduler

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/simclock/internal/jobregistry"
	"github.com/ChuLiYu/simclock/pkg/types"
)

// task is the scheduled form of one clock triggered job for one scheduler run.
type task struct {
	name   string
	job    jobregistry.Job
	runner *jobRunner

	period time.Duration
	delay  time.Duration
	next   types.Timestamp

	inFlight  atomic.Int32
	startedAt atomic.Int64 // wall clock of the latest activation, unix nanos
}

// taskStorage holds the tasks of a clock based scheduler. It is not
// synchronized: the executor's dispatch path touches it under the shared
// dispatch gate, resets and restarts under the exclusive one.
type taskStorage struct {
	tasks []*task
}

func (s *taskStorage) add(t *task) error {
	if t.period <= 0 {
		return types.NewInvalidArgument("task %q: period must be positive", t.name)
	}
	for _, existing := range s.tasks {
		if existing.name == t.name {
			return types.NewDuplicateName("task", t.name)
		}
	}
	s.tasks = append(s.tasks, t)
	return nil
}

// due returns the tasks with next <= cur ordered by due time, then name.
func (s *taskStorage) due(cur types.Timestamp) []*task {
	var out []*task
	for _, t := range s.tasks {
		if t.next <= cur {
			out = append(out, t)
		}
	}
	sortByDue(out)
	return out
}

// earliest returns the smallest next instant <= cur.
func (s *taskStorage) earliest(cur types.Timestamp) (types.Timestamp, bool) {
	var (
		min   types.Timestamp
		found bool
	)
	for _, t := range s.tasks {
		if t.next <= cur && (!found || t.next < min) {
			min, found = t.next, true
		}
	}
	return min, found
}

// dueAt returns the tasks whose next instant is exactly at, ordered by name.
func (s *taskStorage) dueAt(at types.Timestamp) []*task {
	var out []*task
	for _, t := range s.tasks {
		if t.next == at {
			out = append(out, t)
		}
	}
	sortByDue(out)
	return out
}

// nextInstant returns the smallest next instant of all tasks.
func (s *taskStorage) nextInstant() (types.Timestamp, bool) {
	var (
		min   types.Timestamp
		found bool
	)
	for _, t := range s.tasks {
		if !found || t.next < min {
			min, found = t.next, true
		}
	}
	return min, found
}

// timeReset moves every task by the reset distance. A task that would end up
// before the new time restarts at newTime + delay, so stale cycles are not
// replayed.
func (s *taskStorage) timeReset(oldTime, newTime types.Timestamp) {
	diff := newTime - oldTime
	for _, t := range s.tasks {
		next := t.next + diff
		if next < newTime {
			next = newTime + t.delay
		}
		t.next = next
	}
}

// prepareRestart moves every task back one period so that a restarted
// scheduler repeats the cycle interrupted by stop.
func (s *taskStorage) prepareRestart() {
	for _, t := range s.tasks {
		if t.next >= t.period {
			t.next -= t.period
		}
	}
}

func (s *taskStorage) all() []*task {
	return s.tasks
}

func sortByDue(ts []*task) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].next != ts[j].next {
			return ts[i].next < ts[j].next
		}
		return ts[i].name < ts[j].name
	})
}

// firstDue is the first activation of a task created at now: the delay for a
// clock at zero, otherwise the next cycle boundary plus the delay.
func firstDue(now types.Timestamp, cycle, delay time.Duration) types.Timestamp {
	if now <= 0 || cycle <= 0 {
		return now + delay
	}
	boundary := ((now + cycle - 1) / cycle) * cycle
	return boundary + delay
}

// catchUp returns the smallest instant next + k*period that is > cur.
func catchUp(next types.Timestamp, period time.Duration, cur types.Timestamp) types.Timestamp {
	if period <= 0 {
		return next
	}
	if cur >= next {
		next += period * ((cur - next) / period)
		if next <= cur {
			next += period
		}
	}
	return next
}
