package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChuLiYu/simclock/internal/clock"
	"github.com/ChuLiYu/simclock/internal/jobregistry"
	"github.com/ChuLiYu/simclock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetWindows is a clock service that records the wall time span of every
// reset as seen by the registered sinks: from the return of TimeResetBegin
// to the call of TimeResetEnd.
type resetWindows struct {
	*clock.Service

	mu      sync.Mutex
	opened  time.Time
	spans   [][2]time.Time
	wrapped map[clock.EventSink]clock.EventSink
}

func newResetWindows(svc *clock.Service) *resetWindows {
	return &resetWindows{Service: svc, wrapped: make(map[clock.EventSink]clock.EventSink)}
}

func (r *resetWindows) RegisterEventSink(sink clock.EventSink) error {
	w := &windowSink{EventSink: sink, r: r}
	r.mu.Lock()
	r.wrapped[sink] = w
	r.mu.Unlock()
	return r.Service.RegisterEventSink(w)
}

func (r *resetWindows) UnregisterEventSink(sink clock.EventSink) error {
	r.mu.Lock()
	w, ok := r.wrapped[sink]
	delete(r.wrapped, sink)
	r.mu.Unlock()
	if !ok {
		return types.NewNotFound("sink")
	}
	return r.Service.UnregisterEventSink(w)
}

func (r *resetWindows) windows() [][2]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]time.Time(nil), r.spans...)
}

type windowSink struct {
	clock.EventSink
	r *resetWindows
}

func (w *windowSink) TimeResetBegin(oldTime, newTime types.Timestamp) {
	w.EventSink.TimeResetBegin(oldTime, newTime)
	w.r.mu.Lock()
	w.r.opened = time.Now()
	w.r.mu.Unlock()
}

func (w *windowSink) TimeResetEnd(newTime types.Timestamp) {
	w.r.mu.Lock()
	if !w.r.opened.IsZero() {
		w.r.spans = append(w.r.spans, [2]time.Time{w.r.opened, time.Now()})
		w.r.opened = time.Time{}
	}
	w.r.mu.Unlock()
	w.EventSink.TimeResetEnd(newTime)
}

// intervals records the wall time span of every job activation.
type intervals struct {
	mu    sync.Mutex
	spans map[string][][2]time.Time
}

func (iv *intervals) job(name string, busy time.Duration) jobregistry.Job {
	return jobregistry.FuncJob{Exec: func(types.Timestamp) error {
		start := time.Now()
		time.Sleep(busy)
		end := time.Now()
		iv.mu.Lock()
		if iv.spans == nil {
			iv.spans = make(map[string][][2]time.Time)
		}
		iv.spans[name] = append(iv.spans[name], [2]time.Time{start, end})
		iv.mu.Unlock()
		return nil
	}}
}

func (iv *intervals) runs(name string) int {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return len(iv.spans[name])
}

// overlaps counts activations that ran while one of windows was open.
func (iv *intervals) overlaps(windows [][2]time.Time) int {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	n := 0
	for _, spans := range iv.spans {
		for _, j := range spans {
			for _, w := range windows {
				if j[0].Before(w[1]) && w[0].Before(j[1]) {
					n++
				}
			}
		}
	}
	return n
}

// originSource is a wall time source that restarts from the reset time.
type originSource struct {
	mu     sync.Mutex
	origin time.Time
	base   types.Timestamp
}

func (s *originSource) NewTime() types.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base + time.Since(s.origin)
}

func (s *originSource) ResetTime(t types.Timestamp) types.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.origin = time.Now()
	s.base = t
	return t
}

func newClockService(t *testing.T, c clock.Clock) *clock.Service {
	t.Helper()
	svc, err := clock.NewService(clock.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	require.NoError(t, svc.RegisterClock(c))
	require.NoError(t, svc.SetActiveClock(c.Name()))
	return svc
}

func finishWithin(t *testing.T, d time.Duration, fns ...func()) {
	t.Helper()
	var wg sync.WaitGroup
	for _, fn := range fns {
		wg.Add(1)
		go func(fn func()) {
			defer wg.Done()
			fn()
		}(fn)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("clock and scheduler stopped making progress")
	}
}

// TestContinuousResetExcludesActivations tests resets of a running
// continuous clock against a scheduler started before the clock
func TestContinuousResetExcludesActivations(t *testing.T) {
	c := clock.NewContinuousClock("stress", &originSource{origin: time.Now()})
	svc := newClockService(t, c)
	clocks := newResetWindows(svc)

	iv := &intervals{}
	js := map[string]jobregistry.Entry{}
	for _, name := range []string{"a", "b", "c", "d"} {
		n, e := cyclic(name, iv.job(name, 200*time.Microsecond), ms, "", nil)
		js[n] = e
	}
	s := startScheduler(t, clocks, js, Options{})
	require.NoError(t, svc.Start())

	finishWithin(t, 10*time.Second,
		func() {
			for i := 0; i < 200; i++ {
				c.Reset(types.Timestamp(i%7) * ms)
				time.Sleep(300 * time.Microsecond)
			}
		},
		func() {
			for i := 0; i < 2000; i++ {
				svc.Time()
			}
		},
	)

	require.Eventually(t, func() bool { return iv.runs("a") > 0 }, 2*time.Second, ms)
	require.NoError(t, s.Stop())
	require.NoError(t, svc.Stop())

	assert.NotEmpty(t, clocks.windows())
	assert.Zero(t, iv.overlaps(clocks.windows()))
}

// TestDiscreteResetExcludesActivations tests stepping, resets and data
// triggers of a discrete clock running concurrently
func TestDiscreteResetExcludesActivations(t *testing.T) {
	c := clock.NewDiscreteClock("stepped")
	svc := newClockService(t, c)
	clocks := newResetWindows(svc)

	iv := &intervals{}
	js := jobs(
		entry("fast", iv.job("fast", 100*time.Microsecond), ms, "", nil),
		entry("slow", iv.job("slow", 300*time.Microsecond), 3*ms, types.StrategySkipCycle, nil),
	)
	js["on_input"] = jobregistry.Entry{
		Job:  iv.job("on_input", 200*time.Microsecond),
		Info: jobregistry.DataTriggered("on_input", "input"),
	}
	s := startScheduler(t, clocks, js, Options{})
	require.NoError(t, svc.Start())

	finishWithin(t, 10*time.Second,
		func() {
			for i := 1; i <= 400; i++ {
				c.SetNewTime(types.Timestamp(i)*ms, true)
			}
		},
		func() {
			for i := 0; i < 50; i++ {
				c.Reset(types.Timestamp(i) * ms)
				time.Sleep(200 * time.Microsecond)
			}
		},
		func() {
			for i := 0; i < 400; i++ {
				assert.NoError(t, s.Trigger("input"))
				time.Sleep(50 * time.Microsecond)
			}
		},
	)

	require.NoError(t, s.Trigger("input"))
	require.Eventually(t, func() bool { return iv.runs("on_input") > 0 }, 2*time.Second, ms)
	require.NoError(t, s.Stop())
	require.NoError(t, svc.Stop())

	assert.Positive(t, iv.runs("fast"))
	assert.NotEmpty(t, clocks.windows())
	assert.Zero(t, iv.overlaps(clocks.windows()))
}

// TestTriggerDuringReset tests that nothing is dispatched while a reset is
// in progress
func TestTriggerDuringReset(t *testing.T) {
	clocks := newWallClocks()
	tick := &recorder{}
	var data atomic.Int32
	js := jobs(entry("tick", tick, ms, "", nil))
	js["on_input"] = jobregistry.Entry{
		Job: jobregistry.FuncJob{Exec: func(types.Timestamp) error {
			data.Add(1)
			return nil
		}},
		Info: jobregistry.DataTriggered("on_input", "input"),
	}
	s := startScheduler(t, clocks, js, Options{})
	require.Eventually(t, func() bool { return tick.count() > 0 }, time.Second, ms)

	cur := clocks.Time()
	s.sink.TimeResetBegin(cur, cur)
	held := tick.count()
	require.NoError(t, s.Trigger("input"), "a trigger during a reset is not an error")
	time.Sleep(20 * ms)
	assert.Equal(t, held, tick.count())
	assert.Zero(t, data.Load())

	s.sink.TimeResetEnd(cur)
	require.NoError(t, s.Trigger("input"))
	require.Eventually(t, func() bool { return data.Load() == 1 }, time.Second, ms)
	require.Eventually(t, func() bool { return tick.count() > held }, time.Second, ms)
}
