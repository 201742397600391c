package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/simclock/internal/jobregistry"
	"github.com/ChuLiYu/simclock/internal/metrics"
	"github.com/ChuLiYu/simclock/pkg/types"
)

// HealthReporter receives the result of every job activation.
type HealthReporter interface {
	UpdateJobStatus(name string, res types.JobExecuteResult) error
}

// jobRunner runs the three phases of one job and applies its runtime
// violation strategy when Execute takes longer than the configured maximum.
type jobRunner struct {
	name     string
	strategy types.ViolationStrategy
	maxRt    *time.Duration

	health  HealthReporter
	metrics *metrics.Collector
	abort   func(error)

	skipNext atomic.Bool
}

func newJobRunner(name string, cfg types.JobConfiguration, health HealthReporter, m *metrics.Collector, abort func(error)) *jobRunner {
	strategy := cfg.RuntimeViolationStrategy
	if strategy == "" {
		strategy = types.StrategyIgnoreRuntimeViolation
	}
	return &jobRunner{
		name:     name,
		strategy: strategy,
		maxRt:    cfg.MaxRuntimeRealTime,
		health:   health,
		metrics:  m,
		abort:    abort,
	}
}

// consumeSkip reports whether the next activation was dropped by a previous
// skip_cycle overrun and clears the mark.
func (r *jobRunner) consumeSkip() bool {
	return r.skipNext.CompareAndSwap(true, false)
}

func (r *jobRunner) run(t types.Timestamp, job jobregistry.Job) {
	res := types.JobExecuteResult{SimulationTime: t}

	res.DataInErr = job.ExecuteDataIn(t)
	if res.DataInErr != nil {
		log.Warn("data in failed", "job", r.name, "time", t, "error", res.DataInErr)
		r.metrics.RecordJobError(r.name, "data_in")
	}

	start := time.Now()
	res.ExecuteErr = job.Execute(t)
	res.Runtime = time.Since(start)
	r.metrics.ObserveJobRuntime(r.name, res.Runtime.Seconds())
	if res.ExecuteErr != nil {
		log.Warn("execute failed", "job", r.name, "time", t, "error", res.ExecuteErr)
		r.metrics.RecordJobError(r.name, "execute")
	}

	publish := true
	if r.maxRt != nil && res.Runtime > *r.maxRt {
		publish = r.handleOverrun(res.Runtime - *r.maxRt)
	}
	if publish {
		res.DataOutErr = job.ExecuteDataOut(t)
		if res.DataOutErr != nil {
			log.Warn("data out failed", "job", r.name, "time", t, "error", res.DataOutErr)
			r.metrics.RecordJobError(r.name, "data_out")
		}
	}

	if r.health != nil {
		if err := r.health.UpdateJobStatus(r.name, res); err != nil {
			log.Debug("health not updated", "job", r.name, "error", err)
		}
	}
}

// handleOverrun applies the strategy and reports whether outputs are published.
func (r *jobRunner) handleOverrun(overrun time.Duration) bool {
	r.metrics.RecordOverrun(r.name)
	switch r.strategy {
	case types.StrategyWarnAboutRuntime:
		log.Warn("job exceeded max runtime", "job", r.name, "overrun", overrun)
		return true
	case types.StrategySkipOutputPublish:
		log.Warn("job exceeded max runtime, outputs not published", "job", r.name, "overrun", overrun)
		return false
	case types.StrategySkipCycle:
		log.Warn("job exceeded max runtime, next cycle skipped", "job", r.name, "overrun", overrun)
		r.skipNext.Store(true)
		return true
	case types.StrategyAbortOnViolation:
		if r.abort != nil {
			r.abort(&types.AbortError{JobName: r.name, Reason: "max runtime exceeded", Overrun: overrun})
		}
		return false
	default:
		return true
	}
}
