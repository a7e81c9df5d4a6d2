// Package config holds the scheduler's typed, validated
// configuration. It intentionally stays a plain struct with defaults
// and a Validate step rather than pulling in a file-format library:
// the teacher configures its components by constructor argument, not
// by config file, and this module follows the same convention.
package config

import (
	"time"

	"github.com/pkg/errors"
)

// Weights is the scorer's objective weighting. Must sum to 1 within
// 1e-3.
type Weights struct {
	Wait     float64
	Load     float64
	Priority float64
}

// Config is every runtime-recognized option from spec.md §6.
type Config struct {
	FallbackThreshold     int
	HeartbeatTimeoutMs    int
	UnhealthyTimeoutMs    int
	RemovedTimeoutMs      int
	HealthCheckIntervalMs int
	AvgTaskDurationMs     int
	Alpha                 float64
	DefaultDurationMs     int
	ConfidenceThreshold   int
	SnapshotInterval      int
	AccuracyWindowSize    int
	AccuracyThreshold     float64
	DriftLower            float64
	DriftUpper            float64
	DriftSeverityBoundary float64
	Weights               Weights
	MaxWaitMs             int
	MaxPriority           int
	ProbeIntervalMs       int // half-open probe cadence, default = HealthCheckIntervalMs
	DispatchChannelPrefix string
}

// Default returns the spec.md §6 default configuration.
func Default() Config {
	return Config{
		FallbackThreshold:     3,
		HeartbeatTimeoutMs:    30000,
		UnhealthyTimeoutMs:    30000,
		RemovedTimeoutMs:      300000,
		HealthCheckIntervalMs: 5000,
		AvgTaskDurationMs:     5000,
		Alpha:                 0.3,
		DefaultDurationMs:     5000,
		ConfidenceThreshold:   100,
		SnapshotInterval:      100,
		AccuracyWindowSize:    1000,
		AccuracyThreshold:     0.25,
		DriftLower:            0.5,
		DriftUpper:            2.0,
		DriftSeverityBoundary: 3.0,
		Weights:               Weights{Wait: 0.4, Load: 0.4, Priority: 0.2},
		MaxWaitMs:             60000,
		MaxPriority:           10,
		ProbeIntervalMs:       5000,
		DispatchChannelPrefix: "dispatch:",
	}
}

// Validate enforces the weight-sum and ordering invariants. It is
// called once at startup by cmd/scheduler, never from the hot loop;
// runtime weight updates go through scorer.Scorer.SetWeights, which
// applies the same weight-sum rule itself.
func (c Config) Validate() error {
	sum := c.Weights.Wait + c.Weights.Load + c.Weights.Priority
	if diff := sum - 1.0; diff > 1e-3 || diff < -1e-3 {
		return errors.Errorf("weights must sum to 1 (+/-1e-3), got %f", sum)
	}
	if c.FallbackThreshold < 1 {
		return errors.New("fallbackThreshold must be >= 1")
	}
	if c.HeartbeatTimeoutMs < 1000 {
		return errors.New("heartbeatTimeoutMs must be >= 1000")
	}
	if c.UnhealthyTimeoutMs >= c.RemovedTimeoutMs {
		return errors.New("unhealthyTimeoutMs must be less than removedTimeoutMs")
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		return errors.New("alpha must be in (0,1]")
	}
	if c.MaxPriority <= 0 {
		return errors.New("maxPriority must be > 0")
	}
	if c.MaxWaitMs <= 0 {
		return errors.New("maxWaitMs must be > 0")
	}
	return nil
}

// Duration helpers, used throughout the hot-path packages so they
// never format milliseconds by hand.
func (c Config) HeartbeatTimeout() time.Duration    { return time.Duration(c.HeartbeatTimeoutMs) * time.Millisecond }
func (c Config) UnhealthyTimeout() time.Duration    { return time.Duration(c.UnhealthyTimeoutMs) * time.Millisecond }
func (c Config) RemovedTimeout() time.Duration      { return time.Duration(c.RemovedTimeoutMs) * time.Millisecond }
func (c Config) HealthCheckInterval() time.Duration { return time.Duration(c.HealthCheckIntervalMs) * time.Millisecond }
// RollingAccuracyThreshold is the fixed bar the completion subscriber
// checks the rolling accuracy window against every 100 events
// (spec.md §4.8: "if accuracy < 0.8"). It is not a runtime option.
const RollingAccuracyThreshold = 0.8

func (c Config) ProbeInterval() time.Duration {
	if c.ProbeIntervalMs <= 0 {
		return c.HealthCheckInterval()
	}
	return time.Duration(c.ProbeIntervalMs) * time.Millisecond
}
