// Package predictor implements the heuristic duration predictor: an
// in-memory map of per-task-type EMA state, backed by an external
// persistence store for warm restart. Predict is pure and O(1); it
// never touches persistence. Feedback mutates state and occasionally
// triggers a snapshot.
package predictor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"titansched/internal/ema"
	"titansched/internal/model"
	"titansched/internal/persistence"
)

// Predictor is the tagged-interface "predict(task) -> prediction |
// nothing" + optional feedback + ready probe from spec.md §9. The
// dispatcher depends only on this interface, never on *Heuristic.
type Predictor interface {
	Predict(ctx context.Context, task model.Task) (model.TaskPrediction, error)
	Feedback(ctx context.Context, taskType string, actualDurationMs float64)
	Ready() bool
}

// Config bundles the predictor's tunables.
type Config struct {
	Alpha               float64
	DefaultDurationMs   float64
	ConfidenceThreshold int64
	SnapshotInterval    int
	PersistenceKey      string
}

// Heuristic is the EMA-backed predictor described in spec.md §4.4.
type Heuristic struct {
	cfg   Config
	store persistence.Store
	log   *zap.Logger

	mu             sync.RWMutex
	states         map[string]model.EMAState
	sinceSnapshot  int
}

// NewHeuristic constructs a predictor and attempts a warm start from
// store. A failed warm start is logged and swallowed: the predictor is
// still ready, serving the default estimate until feedback arrives.
func NewHeuristic(ctx context.Context, cfg Config, store persistence.Store, log *zap.Logger) *Heuristic {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Heuristic{
		cfg:    cfg,
		store:  store,
		log:    log,
		states: make(map[string]model.EMAState),
	}
	loaded, err := persistence.Load(ctx, store, cfg.PersistenceKey)
	if err != nil {
		log.Warn("predictor warm start failed, continuing with empty state", zap.Error(err))
		return h
	}
	h.states = loaded
	return h
}

// Ready always reports true: an empty map still serves default
// estimates, so the predictor never blocks on warm start.
func (h *Heuristic) Ready() bool { return true }

// Predict is O(1), performs no I/O, and must stay well under 1ms.
func (h *Heuristic) Predict(_ context.Context, task model.Task) (model.TaskPrediction, error) {
	h.mu.RLock()
	st, ok := h.states[task.Type]
	h.mu.RUnlock()

	if !ok {
		return model.TaskPrediction{
			TaskID:              task.ID,
			EstimatedDurationMs: h.cfg.DefaultDurationMs,
			Confidence:          0,
		}, nil
	}

	conf := ema.Confidence(st.SampleCount, h.cfg.ConfidenceThreshold)
	duration := st.EMA
	if conf == 0 {
		duration = h.cfg.DefaultDurationMs
	}
	return model.TaskPrediction{
		TaskID:              task.ID,
		EstimatedDurationMs: duration,
		Confidence:          conf,
	}, nil
}

// Feedback folds a completed task's actual duration into the
// per-type EMA, persisting a snapshot every SnapshotInterval updates.
func (h *Heuristic) Feedback(ctx context.Context, taskType string, actualDurationMs float64) {
	if taskType == "" {
		return
	}
	h.mu.Lock()
	st, ok := h.states[taskType]
	if !ok {
		st = model.EMAState{TaskType: taskType, EMA: actualDurationMs, SampleCount: 1}
	} else {
		st.EMA = ema.Blend(st.EMA, actualDurationMs, h.cfg.Alpha)
		st.SampleCount++
	}
	st.LastUpdated = time.Now().UTC()
	h.states[taskType] = st
	h.sinceSnapshot++

	shouldSnapshot := h.cfg.SnapshotInterval > 0 && h.sinceSnapshot >= h.cfg.SnapshotInterval
	var snapshotCopy map[string]model.EMAState
	if shouldSnapshot {
		snapshotCopy = h.copyStatesLocked()
		h.sinceSnapshot = 0
	}
	h.mu.Unlock()

	if shouldSnapshot {
		h.persist(ctx, snapshotCopy)
	}
}

// Shutdown performs the final persist required on clean shutdown.
func (h *Heuristic) Shutdown(ctx context.Context) {
	h.mu.RLock()
	snap := h.copyStatesLocked()
	h.mu.RUnlock()
	h.persist(ctx, snap)
}

func (h *Heuristic) persist(ctx context.Context, states map[string]model.EMAState) {
	if err := persistence.Save(ctx, h.store, h.cfg.PersistenceKey, states); err != nil {
		h.log.Warn("prediction snapshot persist failed, continuing from memory", zap.Error(err))
	}
}

// copyStatesLocked must be called with h.mu held (read or write).
func (h *Heuristic) copyStatesLocked() map[string]model.EMAState {
	cp := make(map[string]model.EMAState, len(h.states))
	for k, v := range h.states {
		cp[k] = v
	}
	return cp
}

// NoOpPredictor is the identity element used for tests and
// bootstrapping — it always returns the default estimate with zero
// confidence and ignores feedback.
type NoOpPredictor struct {
	DefaultDurationMs float64
}

func (n NoOpPredictor) Predict(_ context.Context, task model.Task) (model.TaskPrediction, error) {
	return model.TaskPrediction{TaskID: task.ID, EstimatedDurationMs: n.DefaultDurationMs, Confidence: 0}, nil
}
func (n NoOpPredictor) Feedback(context.Context, string, float64) {}
func (n NoOpPredictor) Ready() bool                                { return true }

var _ Predictor = (*Heuristic)(nil)
var _ Predictor = NoOpPredictor{}
