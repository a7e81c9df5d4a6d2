// Package availability implements the pure telemetry-to-capacity
// calculations: current load, health classification, and
// estimated-free-at. None of these functions perform I/O or hold
// state beyond what is passed in.
package availability

import (
	"time"

	"titansched/internal/model"
)

// Thresholds bundles the health-classification knobs from
// configuration so callers pass one value instead of three.
type Thresholds struct {
	UnhealthyTimeout time.Duration
	RemovedTimeout   time.Duration
	DegradedLoad     float64 // default 0.9
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// CurrentLoad blends CPU and memory usage per spec.md §4.2:
// 0.6*cpu + 0.4*mem, both clamped to [0,1] first.
func CurrentLoad(cpuUsage, memUsage float64) float64 {
	return 0.6*clamp01(cpuUsage) + 0.4*clamp01(memUsage)
}

// EstimatedFreeAt projects when a worker will next be free, from its
// queue depth and its rolling average task duration.
func EstimatedFreeAt(now time.Time, queueDepth int, avgTaskDurationMs float64) time.Time {
	if queueDepth <= 0 || avgTaskDurationMs <= 0 {
		return now
	}
	return now.Add(time.Duration(float64(queueDepth)*avgTaskDurationMs) * time.Millisecond)
}

// Classify evaluates the health thresholds in the order the spec
// mandates: age against removed, then unhealthy, then load against
// degraded, defaulting to healthy.
func Classify(age time.Duration, load float64, th Thresholds) model.HealthClass {
	switch {
	case age >= th.RemovedTimeout:
		return model.HealthRemoved
	case age >= th.UnhealthyTimeout:
		return model.HealthUnhealthy
	case load >= th.DegradedLoad:
		return model.HealthDegraded
	default:
		return model.HealthHealthy
	}
}

// SignificantLoadChange reports whether a load delta is large enough
// to justify emitting a worker_load_changed event (|delta| >= 0.1).
func SignificantLoadChange(prev, next float64) bool {
	delta := next - prev
	if delta < 0 {
		delta = -delta
	}
	return delta >= 0.1
}

// DefaultDegradedLoad is the spec's fixed degraded-load threshold.
const DefaultDegradedLoad = 0.9

// AvgDurationAlpha is the smoothing factor for the rolling average
// task duration used by EstimatedFreeAt.
const AvgDurationAlpha = 0.1
