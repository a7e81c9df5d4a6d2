package predictor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titansched/internal/model"
	"titansched/internal/persistence"
)

func newTestPredictor(t *testing.T) (*Heuristic, *persistence.MemoryStore) {
	t.Helper()
	store := persistence.NewMemoryStore()
	cfg := Config{
		Alpha:               0.3,
		DefaultDurationMs:   5000,
		ConfidenceThreshold: 100,
		SnapshotInterval:    100,
		PersistenceKey:      persistence.DefaultKey,
	}
	return NewHeuristic(context.Background(), cfg, store, nil), store
}

func TestColdStartUnknownType(t *testing.T) {
	p, _ := newTestPredictor(t)
	pred, err := p.Predict(context.Background(), model.Task{ID: "t1", Type: "unknown"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, pred.Confidence)
	assert.Equal(t, 5000.0, pred.EstimatedDurationMs)
}

func TestFeedbackFirstSampleLaw(t *testing.T) {
	p, _ := newTestPredictor(t)
	p.Feedback(context.Background(), "T", 1000)

	pred, err := p.Predict(context.Background(), model.Task{ID: "t1", Type: "T"})
	require.NoError(t, err)
	assert.InDelta(t, 0.01, pred.Confidence, 0.001)
	assert.Less(t, pred.EstimatedDurationMs, 5000.0)
}

func TestLearningConvergesTowardActual(t *testing.T) {
	p, _ := newTestPredictor(t)
	for i := 0; i < 10; i++ {
		p.Feedback(context.Background(), "T", 1000)
	}
	pred, err := p.Predict(context.Background(), model.Task{ID: "t1", Type: "T"})
	require.NoError(t, err)
	assert.InDelta(t, 0.10, pred.Confidence, 0.001)
	assert.Less(t, pred.EstimatedDurationMs, 4000.0)
	assert.InDelta(t, 1000.0, pred.EstimatedDurationMs, 500.0)
}

func TestSnapshotOnCounterThreshold(t *testing.T) {
	store := persistence.NewMemoryStore()
	cfg := Config{Alpha: 0.3, DefaultDurationMs: 5000, ConfidenceThreshold: 100, SnapshotInterval: 3, PersistenceKey: persistence.DefaultKey}
	p := NewHeuristic(context.Background(), cfg, store, nil)

	for i := 0; i < 3; i++ {
		p.Feedback(context.Background(), "T", 1000)
	}

	_, ok, err := store.Get(context.Background(), persistence.DefaultKey)
	require.NoError(t, err)
	assert.True(t, ok, "expected a snapshot to be persisted after SnapshotInterval updates")
}

func TestWarmStartFromPersistedSnapshot(t *testing.T) {
	store := persistence.NewMemoryStore()
	cfg := Config{Alpha: 0.3, DefaultDurationMs: 5000, ConfidenceThreshold: 100, SnapshotInterval: 1, PersistenceKey: persistence.DefaultKey}

	p1 := NewHeuristic(context.Background(), cfg, store, nil)
	p1.Feedback(context.Background(), "T", 2000)

	p2 := NewHeuristic(context.Background(), cfg, store, nil)
	pred, err := p2.Predict(context.Background(), model.Task{ID: "t1", Type: "T"})
	require.NoError(t, err)
	assert.Equal(t, 2000.0, pred.EstimatedDurationMs)
}

func TestShutdownPersistsFinalState(t *testing.T) {
	store := persistence.NewMemoryStore()
	cfg := Config{Alpha: 0.3, DefaultDurationMs: 5000, ConfidenceThreshold: 100, SnapshotInterval: 1000, PersistenceKey: persistence.DefaultKey}
	p := NewHeuristic(context.Background(), cfg, store, nil)
	p.Feedback(context.Background(), "T", 500)
	p.Shutdown(context.Background())

	_, ok, err := store.Get(context.Background(), persistence.DefaultKey)
	require.NoError(t, err)
	assert.True(t, ok)
}
