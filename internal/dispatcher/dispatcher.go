// Package dispatcher drives the consume -> predict -> score -> publish
// loop, the per-task acknowledgment, and the predictor circuit
// breaker. It is the one place prediction, scoring, and fallback are
// composed into a single scheduling decision per task.
package dispatcher

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"titansched/internal/config"
	"titansched/internal/fallback"
	"titansched/internal/model"
	"titansched/internal/predictor"
	"titansched/internal/registry"
	"titansched/internal/scorer"
	"titansched/internal/streaming"
	"titansched/internal/telemetry"
)

// Result is the outcome of one dispatchTask call.
type Result struct {
	Success  bool
	Decision *model.SchedulingDecision
	Err      error
}

// Dispatcher owns the hot loop described in spec.md §4.7.
type Dispatcher struct {
	source    streaming.TaskSource
	publisher streaming.WorkerPublisher
	reg       *registry.Registry
	pred      predictor.Predictor
	scorer    *scorer.Scorer
	rr        *fallback.RoundRobin
	cfg       config.Config
	log       *zap.Logger
	breaker   *breaker
	metrics   telemetry.MetricsSink

	stopped int32
}

// New wires a Dispatcher from its collaborators. All dependencies are
// passed explicitly; there is no package-level state.
func New(source streaming.TaskSource, publisher streaming.WorkerPublisher, reg *registry.Registry, pred predictor.Predictor, sc *scorer.Scorer, cfg config.Config, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		source:    source,
		publisher: publisher,
		reg:       reg,
		pred:      pred,
		scorer:    sc,
		rr:        fallback.NewRoundRobin(),
		cfg:       cfg,
		log:       log,
		breaker:   newBreaker(cfg.FallbackThreshold, cfg.ProbeInterval()),
		metrics:   telemetry.NopSink{},
	}
}

// SetMetricsSink overrides the metrics sink used to record dispatch
// outcomes. Unset, the Dispatcher reports into telemetry.NopSink.
func (d *Dispatcher) SetMetricsSink(m telemetry.MetricsSink) {
	if m != nil {
		d.metrics = m
	}
}

// Run drives the batch-read loop until ctx is cancelled or Stop is
// called. A stream read error is logged, the loop sleeps 1s, and
// retries indefinitely, per spec.md §7.6.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		if atomic.LoadInt32(&d.stopped) == 1 {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := d.source.ReadBatch(ctx, 16)
		if err != nil {
			d.log.Warn("task stream read error, retrying", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, msg := range messages {
			d.handleMessage(ctx, msg)
		}
	}
}

// Stop sets the flag the loop checks at every iteration.
func (d *Dispatcher) Stop() {
	atomic.StoreInt32(&d.stopped, 1)
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg streaming.TaskMessage) {
	result := d.DispatchTask(ctx, msg.Task)
	if result.Success {
		if err := msg.Ack(ctx); err != nil {
			d.log.Warn("ack failed after successful publish", zap.Error(err))
		}
		return
	}
	// Malformed-payload handling lives in the stream source (it acks
	// and drains poison messages there, per spec.md §7.4). Any other
	// failure here — no workers, publish failure — is left unacked so
	// the broker redelivers.
	d.log.Warn("dispatch failed, leaving message unacked for redelivery", zap.String("taskID", msg.Task.ID), zap.Error(result.Err))
}

// DispatchTask implements the protocol in spec.md §4.7: attempt
// prediction when the breaker allows it, score eligible candidates
// against that prediction, and fall back to round-robin when
// prediction is unavailable or yields no eligible candidate.
func (d *Dispatcher) DispatchTask(ctx context.Context, task model.Task) Result {
	now := time.Now()
	eligible := d.reg.Eligible(registry.EligibleQuery{
		Now:                  now,
		HeartbeatTimeout:     d.cfg.HeartbeatTimeout(),
		RequiredCapabilities: task.RequiredCapabilities,
	})

	decision, predictionErr := d.tryPredict(ctx, task, eligible, now)
	if decision == nil {
		reason := model.ReasonFallbackRoundRobin
		if d.breaker.IsOpen() {
			reason = model.ReasonFallbackCircuitBreaker
		}
		fb, ok := d.rr.Next(task.ID, eligible, reason, now)
		if !ok {
			d.metrics.IncrCounter("dispatch_failed", map[string]string{"reason": "no_workers"})
			return Result{Success: false, Err: model.ErrNoWorkersAvailable}
		}
		decision = &fb
	}

	if predictionErr != nil {
		d.log.Warn("predictor call failed, used fallback", zap.String("taskID", task.ID), zap.Error(predictionErr))
	}

	result := d.publish(ctx, task, *decision)
	d.metrics.ObserveDuration("dispatch_latency", time.Since(now), map[string]string{"reason": string(decision.Reason)})
	return result
}

// tryPredict returns a non-nil decision only when the breaker allows
// a predict attempt, the predictor succeeds, and the scorer finds an
// eligible worker. Any other outcome returns (nil, err) so the caller
// falls back.
func (d *Dispatcher) tryPredict(ctx context.Context, task model.Task, eligible []model.WorkerState, now time.Time) (*model.SchedulingDecision, error) {
	if !d.breaker.ShouldAttemptPredict(now) {
		return nil, nil
	}

	prediction, err := d.pred.Predict(ctx, task)
	if err != nil {
		d.breaker.RecordFailure(now)
		return nil, err
	}

	// A predictor strategy that does pick a worker short-circuits the
	// scorer, per spec.md §4.7; the shipped Heuristic predictor never
	// sets this field (spec.md §4.4).
	if prediction.RecommendedWorker != "" {
		for _, w := range eligible {
			if w.ID == prediction.RecommendedWorker {
				d.breaker.RecordSuccess()
				return &model.SchedulingDecision{
					TaskID:       task.ID,
					WorkerID:     w.ID,
					Timestamp:    now,
					UsedFallback: false,
					Reason:       model.ReasonPrediction,
					Prediction:   &prediction,
				}, nil
			}
		}
	}

	d.breaker.RecordSuccess()
	decision := d.scorer.Score(task, eligible, &prediction)
	if decision.Best == nil {
		return nil, nil
	}
	return &model.SchedulingDecision{
		TaskID:       task.ID,
		WorkerID:     decision.Best.WorkerID,
		Timestamp:    now,
		UsedFallback: false,
		Reason:       model.ReasonPrediction,
		Prediction:   &prediction,
	}, nil
}

type dispatchPayload struct {
	TaskID     string     `json:"taskId"`
	Task       model.Task `json:"task"`
	AssignedAt time.Time  `json:"assignedAt"`
}

func (d *Dispatcher) publish(ctx context.Context, task model.Task, decision model.SchedulingDecision) Result {
	payload, err := json.Marshal(dispatchPayload{TaskID: task.ID, Task: task, AssignedAt: decision.Timestamp})
	if err != nil {
		return Result{Success: false, Decision: &decision, Err: err}
	}

	if err := d.publisher.Publish(ctx, decision.WorkerID, payload); err != nil {
		// Decision stands in memory; message is left unacked by the
		// caller so the broker redelivers, per spec.md §4.7.
		d.metrics.IncrCounter("dispatch_failed", map[string]string{"reason": "publish_error"})
		return Result{Success: false, Decision: &decision, Err: err}
	}
	d.metrics.IncrCounter("dispatch_succeeded", map[string]string{"reason": string(decision.Reason)})
	return Result{Success: true, Decision: &decision}
}

// Breaker exposes a read-only snapshot of the circuit breaker state,
// for diagnostics.
func (d *Dispatcher) Breaker() model.CircuitBreakerState {
	return d.breaker.Snapshot()
}
