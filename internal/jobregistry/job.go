package jobregistry

import (
	"github.com/ChuLiYu/simclock/pkg/types"
)

// Job is a schedulable unit of work. The scheduler calls the three phases in
// order for every activation, passing the simulation time of the activation.
type Job interface {
	// ExecuteDataIn reads the inputs that arrived since the last activation.
	ExecuteDataIn(t types.Timestamp) error
	// Execute runs the job logic.
	Execute(t types.Timestamp) error
	// ExecuteDataOut publishes the outputs.
	ExecuteDataOut(t types.Timestamp) error
}

// FuncJob adapts plain functions to Job. Nil phases are no-ops.
type FuncJob struct {
	DataIn  func(types.Timestamp) error
	Exec    func(types.Timestamp) error
	DataOut func(types.Timestamp) error
}

func (f FuncJob) ExecuteDataIn(t types.Timestamp) error {
	if f.DataIn == nil {
		return nil
	}
	return f.DataIn(t)
}

func (f FuncJob) Execute(t types.Timestamp) error {
	if f.Exec == nil {
		return nil
	}
	return f.Exec(t)
}

func (f FuncJob) ExecuteDataOut(t types.Timestamp) error {
	if f.DataOut == nil {
		return nil
	}
	return f.DataOut(t)
}

// Entry pairs a job with its description.
type Entry struct {
	Job  Job
	Info types.JobInfo
}

// ClockTriggered builds the description of a cyclic job.
func ClockTriggered(name string, cfg types.JobConfiguration) types.JobInfo {
	return types.JobInfo{Name: name, Trigger: types.TriggerClock, Config: cfg}
}

// DataTriggered builds the description of a job fired by input signals.
func DataTriggered(name string, signals ...string) types.JobInfo {
	return types.JobInfo{
		Name:    name,
		Trigger: types.TriggerData,
		Signals: signals,
		Config:  types.JobConfiguration{RuntimeViolationStrategy: types.StrategyIgnoreRuntimeViolation},
	}
}
