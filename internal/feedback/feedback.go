// Package feedback implements the completion subscriber: it forwards
// actual durations to the predictor, detects drift against the
// recorded prediction, and tracks rolling accuracy.
package feedback

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"titansched/internal/config"
	"titansched/internal/events"
	"titansched/internal/model"
	"titansched/internal/predictor"
	"titansched/internal/streaming"
)

// DurationRecorder folds an actual completion duration into a
// worker's adaptive rolling average. heartbeat.Subscriber implements
// this; it is the target of the per-worker EMA spec.md §4.2 names.
type DurationRecorder interface {
	RecordCompletion(workerID string, durationMs float64)
}

// Subscriber drains the completion stream and drives the feedback
// pipeline described in spec.md §4.8.
type Subscriber struct {
	pred      predictor.Predictor
	source    streaming.CompletionSource
	bus       *events.Bus
	cfg       config.Config
	log       *zap.Logger
	durations DurationRecorder

	mu      sync.Mutex
	window  []model.PredictionSample
	nextIdx int

	processed int64
	stopped   int32

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(pred predictor.Predictor, source streaming.CompletionSource, bus *events.Bus, cfg config.Config, log *zap.Logger) *Subscriber {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{
		pred:   pred,
		source: source,
		bus:    bus,
		cfg:    cfg,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// SetDurationRecorder wires the per-worker duration average target.
// Optional: callers that don't need EstimatedFreeAt to adapt (e.g.
// tests exercising drift/accuracy in isolation) can leave it nil.
func (s *Subscriber) SetDurationRecorder(r DurationRecorder) {
	s.durations = r
}

// Start launches the consumption loop.
func (s *Subscriber) Start(ctx context.Context) {
	completions, errs := s.source.Subscribe(ctx)
	s.wg.Add(1)
	go s.consume(ctx, completions, errs)
}

// Stop makes subsequent processCompletion calls (and the consumption
// loop) a no-op, idempotently.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() {
		atomic.StoreInt32(&s.stopped, 1)
		close(s.stopCh)
		s.source.Cancel()
	})
	s.wg.Wait()
}

func (s *Subscriber) consume(ctx context.Context, completions <-chan model.CompletionEvent, errs <-chan error) {
	defer s.wg.Done()
	for {
		select {
		case ev, ok := <-completions:
			if !ok {
				return
			}
			s.processCompletion(ctx, ev)
		case err := <-errs:
			s.log.Warn("completion stream error", zap.Error(err))
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// processCompletion is a no-op once Stop has been called.
func (s *Subscriber) processCompletion(ctx context.Context, ev model.CompletionEvent) {
	if atomic.LoadInt32(&s.stopped) == 1 {
		return
	}

	now := ev.CompletedAt
	if now.IsZero() {
		now = time.Now()
	}

	if ev.PredictedDurationMs != nil && *ev.PredictedDurationMs > 0 {
		predicted := *ev.PredictedDurationMs
		ratio := ev.DurationMs / predicted
		if severity := driftSeverity(ratio, s.cfg); severity != model.DriftNone {
			s.publish(events.Event{
				Kind:      events.DriftDetected,
				TaskType:  ev.TaskType,
				WorkerID:  ev.WorkerID,
				Timestamp: now,
				Fields: map[string]any{
					"severity":  string(severity),
					"predicted": predicted,
					"actual":    ev.DurationMs,
					"ratio":     ratio,
				},
			})
		}

		withinThreshold := math.Abs(ev.DurationMs-predicted)/predicted <= s.cfg.AccuracyThreshold
		s.recordSample(model.PredictionSample{
			TaskType:        ev.TaskType,
			Predicted:       predicted,
			Actual:          ev.DurationMs,
			Timestamp:       now,
			WithinThreshold: withinThreshold,
		})
	}

	s.pred.Feedback(ctx, ev.TaskType, ev.DurationMs)
	if s.durations != nil {
		s.durations.RecordCompletion(ev.WorkerID, ev.DurationMs)
	}
	s.publish(events.Event{Kind: events.PredictionUpdated, TaskType: ev.TaskType, Timestamp: now})

	n := atomic.AddInt64(&s.processed, 1)
	if n%100 == 0 {
		s.checkAccuracy(now)
	}
}

func driftSeverity(ratio float64, cfg config.Config) model.DriftSeverity {
	if ratio >= cfg.DriftLower && ratio <= cfg.DriftUpper {
		return model.DriftNone
	}
	// Outside the configured band: classify against the configured
	// severity boundary (DriftSeverityBoundary, default 3x, in either
	// direction), per spec.md §8 scenario 6.
	if ratio > 1 {
		if ratio <= cfg.DriftSeverityBoundary {
			return model.DriftMinor
		}
		return model.DriftMajor
	}
	if ratio >= 1/cfg.DriftSeverityBoundary {
		return model.DriftMinor
	}
	return model.DriftMajor
}

func (s *Subscriber) recordSample(sample model.PredictionSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cap := s.cfg.AccuracyWindowSize
	if cap <= 0 {
		cap = 1000
	}
	if len(s.window) < cap {
		s.window = append(s.window, sample)
		return
	}
	s.window[s.nextIdx] = sample
	s.nextIdx = (s.nextIdx + 1) % cap
}

func (s *Subscriber) checkAccuracy(now time.Time) {
	s.mu.Lock()
	total := len(s.window)
	within := 0
	for _, sample := range s.window {
		if sample.WithinThreshold {
			within++
		}
	}
	s.mu.Unlock()

	if total == 0 {
		return
	}
	accuracy := float64(within) / float64(total)
	if accuracy < config.RollingAccuracyThreshold {
		s.publish(events.Event{
			Kind:      events.AccuracyWarning,
			Timestamp: now,
			Fields:    map[string]any{"accuracy": accuracy, "window": total},
		})
	}
}

func (s *Subscriber) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

// Accuracy exposes the current rolling-window accuracy, for
// diagnostics and tests.
func (s *Subscriber) Accuracy() (accuracy float64, windowSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := len(s.window)
	if total == 0 {
		return 0, 0
	}
	within := 0
	for _, sample := range s.window {
		if sample.WithinThreshold {
			within++
		}
	}
	return float64(within) / float64(total), total
}
