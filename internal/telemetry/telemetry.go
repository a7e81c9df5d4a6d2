// Package telemetry carries the scheduler's ambient observability
// stack: structured logging via zap, constructor-injected into every
// component (never a package-level logger), and a narrow MetricsSink
// interface. No concrete metrics backend is wired here — Prometheus is
// an external collaborator per spec.md §1, and only its interface
// belongs in this module.
package telemetry

import "time"

// MetricsSink is the narrow surface a real metrics backend would
// implement. NopSink below satisfies it for tests and for deployments
// that do not wire a sink.
type MetricsSink interface {
	IncrCounter(name string, tags map[string]string)
	ObserveDuration(name string, d time.Duration, tags map[string]string)
	SetGauge(name string, value float64, tags map[string]string)
}

// NopSink discards everything. It is the default sink.
type NopSink struct{}

func (NopSink) IncrCounter(string, map[string]string)                    {}
func (NopSink) ObserveDuration(string, time.Duration, map[string]string) {}
func (NopSink) SetGauge(string, float64, map[string]string)              {}
