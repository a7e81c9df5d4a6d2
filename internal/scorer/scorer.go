// Package scorer implements the pure multi-objective scoring function
// used to pick a worker for a task once a prediction is (or is not)
// available. Scoring never performs I/O.
package scorer

import (
	"sort"

	"github.com/pkg/errors"

	"titansched/internal/config"
	"titansched/internal/model"
)

// Scorer holds runtime-updatable weights. Weights are validated
// against config.Validate's weight-sum rule before being accepted.
type Scorer struct {
	weights     config.Weights
	maxWaitMs   float64
	maxPriority float64
}

// New constructs a Scorer from the scoring-relevant subset of Config.
func New(cfg config.Config) (*Scorer, error) {
	s := &Scorer{maxWaitMs: float64(cfg.MaxWaitMs), maxPriority: float64(cfg.MaxPriority)}
	if err := s.SetWeights(cfg.Weights); err != nil {
		return nil, err
	}
	return s, nil
}

// SetWeights validates and swaps in new weights atomically from the
// caller's perspective (Scorer holds no other mutable state).
func (s *Scorer) SetWeights(w config.Weights) error {
	sum := w.Wait + w.Load + w.Priority
	if diff := sum - 1.0; diff > 1e-3 || diff < -1e-3 {
		return errors.Errorf("scorer weights must sum to 1 (+/-1e-3), got %f", sum)
	}
	s.weights = w
	return nil
}

// Candidate is one eligible worker's sub-scores, included in
// Decision.Alternatives so callers can audit a choice.
type Candidate struct {
	WorkerID      string
	Score         float64
	WaitScore     float64
	LoadScore     float64
	PriorityScore float64
}

// Decision is the scorer's verdict for one call.
type Decision struct {
	Best         *Candidate
	Reasoning    string
	Alternatives []Candidate
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Score ranks candidates for task given an optional prediction, and
// returns a no-decision (Best == nil) if candidates is empty.
func (s *Scorer) Score(task model.Task, candidates []model.WorkerState, prediction *model.TaskPrediction) Decision {
	predictedDuration := 5000.0
	if prediction != nil && prediction.Confidence > 0 {
		predictedDuration = prediction.EstimatedDurationMs
	}

	scored := make([]Candidate, 0, len(candidates))
	for _, w := range candidates {
		estimatedWait := float64(w.ActiveTasks) * predictedDuration
		waitScore := 1 - clamp(estimatedWait, 0, s.maxWaitMs)/s.maxWaitMs

		loadScore := 1 - clamp(w.CurrentLoad, 0, 1)

		priorityScore := float64(model.ClampPriority(task.Priority, int(s.maxPriority))) / s.maxPriority

		total := s.weights.Wait*waitScore + s.weights.Load*loadScore + s.weights.Priority*priorityScore

		scored = append(scored, Candidate{
			WorkerID:      w.ID,
			Score:         total,
			WaitScore:     waitScore,
			LoadScore:     loadScore,
			PriorityScore: priorityScore,
		})
	}

	if len(scored) == 0 {
		return Decision{Reasoning: "no eligible candidates"}
	}

	// Deterministic tie-break: highest score first, stable order by
	// worker id for equal scores, so repeated calls on equal inputs
	// choose the same worker.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].WorkerID < scored[j].WorkerID
	})

	best := scored[0]
	return Decision{
		Best:         &best,
		Reasoning:    "highest weighted score among eligible workers",
		Alternatives: scored,
	}
}
