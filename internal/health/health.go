// Package health records per job execution results: error counts per phase,
// the last error and the simulation time it happened at, and an execute
// runtime histogram.
package health

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/ChuLiYu/simclock/pkg/types"
)

const (
	// runtime histogram range: 1 microsecond to 60 seconds
	minRuntimeUs = 1
	maxRuntimeUs = 60_000_000
	sigFigs      = 3
)

var log = slog.With("component", "health")

type jobHealth struct {
	state     types.JobHealth
	histogram *hdrhistogram.Histogram
}

func newJobHealth(name string) *jobHealth {
	return &jobHealth{
		state:     types.JobHealth{JobName: name},
		histogram: hdrhistogram.New(minRuntimeUs, maxRuntimeUs, sigFigs),
	}
}

// Registry holds the health of every job known to the scheduler.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*jobHealth
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*jobHealth)}
}

// Initialize replaces the tracked jobs with names.
func (r *Registry) Initialize(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = make(map[string]*jobHealth, len(names))
	for _, n := range names {
		r.jobs[n] = newJobHealth(n)
	}
}

// Deinitialize forgets all jobs.
func (r *Registry) Deinitialize() {
	r.mu.Lock()
	r.jobs = make(map[string]*jobHealth)
	r.mu.Unlock()
}

// ResetHealth clears all counters while keeping the tracked jobs.
func (r *Registry) ResetHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for n := range r.jobs {
		r.jobs[n] = newJobHealth(n)
	}
}

// UpdateJobStatus records the result of one activation of job name.
func (r *Registry) UpdateJobStatus(name string, res types.JobExecuteResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	jh, ok := r.jobs[name]
	if !ok {
		return types.NewNotFound("job %q has no health entry", name)
	}

	jh.state.SimulationTime = res.SimulationTime
	record(&jh.state.DataIn, res.DataInErr, res.SimulationTime)
	record(&jh.state.Execute, res.ExecuteErr, res.SimulationTime)
	record(&jh.state.DataOut, res.DataOutErr, res.SimulationTime)

	us := res.Runtime.Microseconds()
	if us < minRuntimeUs {
		us = minRuntimeUs
	}
	if us > maxRuntimeUs {
		us = maxRuntimeUs
	}
	if err := jh.histogram.RecordValue(us); err != nil {
		log.Debug("runtime not recorded", "job", name, "error", err)
	}
	return nil
}

func record(e *types.ExecuteError, err error, t types.Timestamp) {
	if err == nil {
		return
	}
	e.ErrorCount++
	e.LastError = err.Error()
	e.SimulationTime = t
}

// GetHealth returns the health of all jobs sorted by name.
func (r *Registry) GetHealth() []types.JobHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.JobHealth, 0, len(r.jobs))
	for _, jh := range r.jobs {
		out = append(out, jh.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobName < out[j].JobName })
	return out
}

// JobHealth returns the health of a single job.
func (r *Registry) JobHealth(name string) (types.JobHealth, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jh, ok := r.jobs[name]
	if !ok {
		return types.JobHealth{}, types.NewNotFound("job %q has no health entry", name)
	}
	return jh.snapshot(), nil
}

func (jh *jobHealth) snapshot() types.JobHealth {
	s := jh.state
	if n := jh.histogram.TotalCount(); n > 0 {
		s.Runtime = types.RuntimeStats{
			Count: n,
			P50:   time.Duration(jh.histogram.ValueAtQuantile(50)) * time.Microsecond,
			P99:   time.Duration(jh.histogram.ValueAtQuantile(99)) * time.Microsecond,
			Max:   time.Duration(jh.histogram.Max()) * time.Microsecond,
		}
	}
	return s
}
