package model

import "time"

// DecisionReason is the closed enum of reasons a scheduling decision
// was made.
type DecisionReason string

const (
	ReasonPrediction             DecisionReason = "prediction"
	ReasonFallbackRoundRobin     DecisionReason = "fallback_round_robin"
	ReasonFallbackCircuitBreaker DecisionReason = "fallback_circuit_breaker"
)

// TaskPrediction is the predictor's output for a single task.
type TaskPrediction struct {
	TaskID              string
	EstimatedDurationMs float64
	Confidence          float64
	RecommendedWorker   string // empty: the predictor does not choose workers
}

// SchedulingDecision is the dispatcher's chosen worker for a task.
type SchedulingDecision struct {
	TaskID       string
	WorkerID     string
	Timestamp    time.Time
	UsedFallback bool
	Reason       DecisionReason
	Prediction   *TaskPrediction // nil unless Reason == ReasonPrediction
}

// EMAState is the predictor's per-task-type learned state.
type EMAState struct {
	TaskType    string
	EMA         float64
	SampleCount int64
	LastUpdated time.Time
}

// CircuitBreakerState is the dispatcher-owned predictor circuit
// breaker. HalfOpenProbeAt supports the periodic-probe half-open
// policy (see DESIGN.md).
type CircuitBreakerState struct {
	ConsecutiveFailures int
	LastFailure         time.Time
	Open                bool
	HalfOpenProbeAt     time.Time
}

// Reset clears the breaker back to closed, as happens on any
// successful prediction.
func (c *CircuitBreakerState) Reset() {
	c.ConsecutiveFailures = 0
	c.LastFailure = time.Time{}
	c.Open = false
	c.HalfOpenProbeAt = time.Time{}
}

// PredictionSample is one accuracy-tracker observation.
type PredictionSample struct {
	TaskType       string
	Predicted      float64
	Actual         float64
	Timestamp      time.Time
	WithinThreshold bool
}

// DriftSeverity classifies how far a completion's actual/predicted
// ratio fell outside the expected band.
type DriftSeverity string

const (
	DriftNone  DriftSeverity = "none"
	DriftMinor DriftSeverity = "minor"
	DriftMajor DriftSeverity = "major"
)
