package clock

import (
	"sync"
	"time"

	"github.com/ChuLiYu/simclock/pkg/types"
)

// SimulationClock is the discrete local_system_simtime clock. A worker
// goroutine steps it by StepSize and waits StepSize/TimeFactor of wall time
// between steps. A TimeFactor of zero runs as fast as possible.
type SimulationClock struct {
	*DiscreteClock

	mu     sync.Mutex
	step   time.Duration
	factor float64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSimulationClock creates the simulation clock with the given stepping.
func NewSimulationClock(step time.Duration, factor float64) *SimulationClock {
	c := &SimulationClock{DiscreteClock: NewDiscreteClock(types.ClockLocalSystemSimtime)}
	c.mu.Lock()
	c.step, c.factor = step, factor
	c.mu.Unlock()
	return c
}

// Configure changes stepping. It takes effect at the next Start.
func (c *SimulationClock) Configure(step time.Duration, factor float64) error {
	if step <= 0 {
		return types.NewInvalidArgument("step size must be positive, got %s", step)
	}
	if factor < 0 {
		return types.NewInvalidArgument("time factor must not be negative, got %v", factor)
	}
	c.mu.Lock()
	c.step, c.factor = step, factor
	c.mu.Unlock()
	return nil
}

func (c *SimulationClock) Start(sink EventSink) {
	c.DiscreteClock.Start(sink)

	c.mu.Lock()
	step, factor := c.step, c.factor
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	c.wg.Add(1)
	go c.work(step, factor, stopCh)
}

func (c *SimulationClock) Stop() {
	c.mu.Lock()
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.DiscreteClock.Stop()
}

func (c *SimulationClock) work(step time.Duration, factor float64, stopCh <-chan struct{}) {
	defer c.wg.Done()

	var wait time.Duration
	if factor > 0 {
		wait = time.Duration(float64(step) / factor)
	}

	simTime := c.Time()
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		c.SetNewTime(simTime, true)

		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-stopCh:
				t.Stop()
				return
			case <-t.C:
			}
		}
		// continue from the clock so an external reset is honoured
		simTime = c.Time() + step
	}
}
