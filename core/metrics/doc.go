// Package metrics defines the sinks that receive the outcome of an
// optimization run. Sinks such as the Prometheus, Influx and MQTT
// implementations in infra/metrics are created from configuration through
// NewMetricsSink, which returns a MultiSink when several sinks are
// configured. Optional capabilities like per-day plan export are expressed
// as small interfaces checked at runtime.
package metrics
