package metrics

import (
	"errors"

	"github.com/kilianp07/ugs/core/model"
)

// MetricsSink records the outcome of optimization runs.
type MetricsSink interface {
	RecordRun(rep model.Report) error
}

// PlanRecorder is implemented by sinks able to store the daily schedule.
type PlanRecorder interface {
	RecordPlan(runID string, plan model.Plan) error
}

// Closer is implemented by sinks holding connections or buffered output.
type Closer interface {
	Close() error
}

// NopSink implements every sink interface with no-op methods.
type NopSink struct{}

func (NopSink) RecordRun(model.Report) error        { return nil }
func (NopSink) RecordPlan(string, model.Plan) error { return nil }
func (NopSink) Close() error                        { return nil }

// MultiSink fans records out to several sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordRun forwards the report to every sink. Every sink is attempted and
// the failures are joined.
func (m *MultiSink) RecordRun(rep model.Report) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordRun(rep); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordPlan forwards the plan to sinks implementing PlanRecorder.
func (m *MultiSink) RecordPlan(runID string, plan model.Plan) error {
	var errs []error
	for _, s := range m.Sinks {
		if pr, ok := s.(PlanRecorder); ok {
			if err := pr.RecordPlan(runID, plan); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes sinks implementing Closer.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.Sinks {
		if c, ok := s.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Record sends rep to sink and, when supported, its daily plan.
func Record(sink MetricsSink, rep model.Report) error {
	if err := sink.RecordRun(rep); err != nil {
		return err
	}
	if pr, ok := sink.(PlanRecorder); ok {
		return pr.RecordPlan(rep.RunID, rep.Plan)
	}
	return nil
}
