package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titansched/internal/config"
	"titansched/internal/model"
	"titansched/internal/registry"
	"titansched/internal/scorer"
	"titansched/internal/streaming"
)

// stubPredictor lets tests script a sequence of predict outcomes.
type stubPredictor struct {
	outcomes []predictOutcome
	idx      int
}

type predictOutcome struct {
	prediction model.TaskPrediction
	err        error
}

func (s *stubPredictor) Predict(_ context.Context, task model.Task) (model.TaskPrediction, error) {
	if s.idx >= len(s.outcomes) {
		return model.TaskPrediction{TaskID: task.ID, EstimatedDurationMs: 5000}, nil
	}
	o := s.outcomes[s.idx]
	s.idx++
	o.prediction.TaskID = task.ID
	return o.prediction, o.err
}
func (s *stubPredictor) Feedback(context.Context, string, float64) {}
func (s *stubPredictor) Ready() bool                                { return true }

func mkEligibleWorkers(reg *registry.Registry, ids ...string) {
	for _, id := range ids {
		reg.Register(model.WorkerState{
			ID: id, Status: model.WorkerIdle, MaxConcurrency: 4,
			LastHeartbeat: time.Now(), Capabilities: map[string]struct{}{},
		})
	}
}

func newDispatcher(t *testing.T, pred *stubPredictor, cfg config.Config) (*Dispatcher, *streaming.MemoryPublisher, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	sc, err := scorer.New(cfg)
	require.NoError(t, err)
	pub := streaming.NewMemoryPublisher()
	d := New(nil, pub, reg, pred, sc, cfg, nil)
	return d, pub, reg
}

func TestColdStartDispatchSucceeds(t *testing.T) {
	cfg := config.Default()
	d, pub, reg := newDispatcher(t, &stubPredictor{}, cfg)
	mkEligibleWorkers(reg, "w1", "w2", "w3")

	result := d.DispatchTask(context.Background(), model.Task{ID: "t1", Type: "T", Priority: 5})
	require.True(t, result.Success)
	require.NotNil(t, result.Decision)
	assert.Equal(t, model.ReasonPrediction, result.Decision.Reason)
	assert.False(t, result.Decision.UsedFallback)
	assert.Len(t, pub.Published, 1)
}

func TestNoWorkersAvailable(t *testing.T) {
	cfg := config.Default()
	d, _, _ := newDispatcher(t, &stubPredictor{}, cfg)

	result := d.DispatchTask(context.Background(), model.Task{ID: "t1", Type: "T"})
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, model.ErrNoWorkersAvailable)
}

func TestCircuitBreakerOpensAfterThreeFailures(t *testing.T) {
	cfg := config.Default()
	cfg.FallbackThreshold = 3
	failErr := errors.New("predictor exploded")
	pred := &stubPredictor{outcomes: []predictOutcome{
		{err: failErr}, {err: failErr}, {err: failErr},
	}}
	d, _, reg := newDispatcher(t, pred, cfg)
	mkEligibleWorkers(reg, "w1")

	var last Result
	for i := 0; i < 3; i++ {
		last = d.DispatchTask(context.Background(), model.Task{ID: "t", Type: "T"})
	}
	require.True(t, last.Success)
	assert.Equal(t, model.ReasonFallbackCircuitBreaker, last.Decision.Reason)

	snap := d.Breaker()
	assert.Equal(t, 3, snap.ConsecutiveFailures)
	assert.True(t, snap.Open)

	// Breaker is open and not yet at the probe instant: the very next
	// dispatch must skip prediction and go straight to fallback.
	next := d.DispatchTask(context.Background(), model.Task{ID: "t2", Type: "T"})
	require.True(t, next.Success)
	assert.Equal(t, model.ReasonFallbackCircuitBreaker, next.Decision.Reason)
}

func TestBreakerResetsOnSuccessfulPredict(t *testing.T) {
	cfg := config.Default()
	cfg.FallbackThreshold = 1
	cfg.ProbeIntervalMs = 1
	failErr := errors.New("predictor exploded")
	pred := &stubPredictor{outcomes: []predictOutcome{{err: failErr}}}
	d, _, reg := newDispatcher(t, pred, cfg)
	mkEligibleWorkers(reg, "w1")

	first := d.DispatchTask(context.Background(), model.Task{ID: "t", Type: "T"})
	require.True(t, first.Success)
	assert.True(t, d.Breaker().Open)

	time.Sleep(5 * time.Millisecond)
	second := d.DispatchTask(context.Background(), model.Task{ID: "t2", Type: "T"})
	require.True(t, second.Success)
	assert.Equal(t, model.ReasonPrediction, second.Decision.Reason)
	assert.False(t, d.Breaker().Open)
}

func TestPublishFailureLeavesMessageUnacked(t *testing.T) {
	cfg := config.Default()
	d, pub, reg := newDispatcher(t, &stubPredictor{}, cfg)
	mkEligibleWorkers(reg, "w1")
	pub.FailFor["w1"] = true

	result := d.DispatchTask(context.Background(), model.Task{ID: "t", Type: "T"})
	assert.False(t, result.Success)
	require.NotNil(t, result.Decision)
	assert.Equal(t, "w1", result.Decision.WorkerID)
}
