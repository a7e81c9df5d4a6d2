// Package model holds the shared data types used across the scheduler:
// tasks, worker state, predictions, and scheduling decisions.
package model

import "time"

// Task is a unit of work read off the ingress stream.
type Task struct {
	ID                   string            `json:"id"`
	Type                 string            `json:"type"`
	Priority             int               `json:"priority"`
	CreatedAt            time.Time         `json:"createdAt"`
	Payload              []byte            `json:"payload"`
	RequiredCapabilities map[string]struct{} `json:"-"`
	MaxRetries           int               `json:"maxRetries,omitempty"`
	TimeoutMs            int               `json:"timeoutMs,omitempty"`
	Metadata             map[string]any    `json:"metadata,omitempty"`
}

// ClampPriority saturates p at max, matching the "saturating at
// configured max" invariant from the data model.
func ClampPriority(p, max int) int {
	if p > max {
		return max
	}
	if p < 0 {
		return 0
	}
	return p
}

// CompletionEvent is emitted by the completion stream when a worker
// finishes executing a task.
type CompletionEvent struct {
	TaskID              string    `json:"taskId"`
	TaskType            string    `json:"taskType"`
	WorkerID            string    `json:"workerId"`
	StartedAt           time.Time `json:"startedAt"`
	CompletedAt         time.Time `json:"completedAt"`
	DurationMs          float64   `json:"durationMs"`
	Success             bool      `json:"success"`
	PredictedDurationMs *float64  `json:"predictedDurationMs,omitempty"`
}
