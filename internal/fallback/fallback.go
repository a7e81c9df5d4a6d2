// Package fallback implements the deterministic scheduling paths used
// when prediction is unavailable: round-robin and lowest-load.
package fallback

import (
	"sort"
	"sync"
	"time"

	"titansched/internal/model"
)

// RoundRobin maintains a rotating cursor over whatever eligible list
// it is handed each call. The list is recomputed by the caller (the
// registry query reflects live eligibility); RoundRobin only owns the
// cursor position.
type RoundRobin struct {
	mu     sync.Mutex
	cursor int
}

// NewRoundRobin returns a RoundRobin starting at cursor 0.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Next returns a no-decision for an empty candidate list, otherwise
// advances the cursor modulo len(candidates) and returns that worker.
func (rr *RoundRobin) Next(taskID string, candidates []model.WorkerState, reason model.DecisionReason, now time.Time) (model.SchedulingDecision, bool) {
	if len(candidates) == 0 {
		return model.SchedulingDecision{}, false
	}
	rr.mu.Lock()
	idx := rr.cursor % len(candidates)
	rr.cursor++
	rr.mu.Unlock()

	w := candidates[idx]
	return model.SchedulingDecision{
		TaskID:       taskID,
		WorkerID:     w.ID,
		Timestamp:    now,
		UsedFallback: true,
		Reason:       reason,
	}, true
}

// LowestLoad sorts eligible workers ascending by (currentLoad,
// activeTasks/maxConcurrency) and picks the first.
func LowestLoad(taskID string, candidates []model.WorkerState, reason model.DecisionReason, now time.Time) (model.SchedulingDecision, bool) {
	if len(candidates) == 0 {
		return model.SchedulingDecision{}, false
	}
	sorted := make([]model.WorkerState, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CurrentLoad != sorted[j].CurrentLoad {
			return sorted[i].CurrentLoad < sorted[j].CurrentLoad
		}
		ri := fraction(sorted[i].ActiveTasks, sorted[i].MaxConcurrency)
		rj := fraction(sorted[j].ActiveTasks, sorted[j].MaxConcurrency)
		if ri != rj {
			return ri < rj
		}
		return sorted[i].ID < sorted[j].ID
	})

	w := sorted[0]
	return model.SchedulingDecision{
		TaskID:       taskID,
		WorkerID:     w.ID,
		Timestamp:    now,
		UsedFallback: true,
		Reason:       reason,
	}, true
}

func fraction(active, max int) float64 {
	if max <= 0 {
		return 0
	}
	return float64(active) / float64(max)
}
