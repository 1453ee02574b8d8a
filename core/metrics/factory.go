package metrics

import (
	"fmt"

	"github.com/kilianp07/ugs/core/factory"
)

var sinks = factory.NewRegistry[MetricsSink]()

// RegisterMetricsSink makes a sink type, and its aliases, available to
// NewMetricsSink.
func RegisterMetricsSink(name string, f factory.Factory[MetricsSink], aliases ...string) error {
	return sinks.Register(name, f, aliases...)
}

// SinkTypes lists the registered sink types.
func SinkTypes() []string { return sinks.Names() }

// NewMetricsSink builds the sinks listed in cfgs. No entry yields a NopSink
// and several entries are wrapped in a MultiSink. Sinks already opened are
// closed again when a later entry fails.
func NewMetricsSink(cfgs []factory.ModuleConfig) (MetricsSink, error) {
	switch len(cfgs) {
	case 0:
		return NopSink{}, nil
	case 1:
		s, err := sinks.Create(cfgs[0])
		if err != nil {
			return nil, fmt.Errorf("metrics sink %s: %w", cfgs[0].Type, err)
		}
		return s, nil
	}
	built := make([]MetricsSink, 0, len(cfgs))
	for i, c := range cfgs {
		s, err := sinks.Create(c)
		if err != nil {
			_ = NewMultiSink(built...).Close()
			return nil, fmt.Errorf("metrics sink %d (%s): %w", i, c.Type, err)
		}
		built = append(built, s)
	}
	return NewMultiSink(built...), nil
}
