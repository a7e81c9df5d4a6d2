package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titansched/internal/config"
	"titansched/internal/model"
)

func TestScoreNoEligibleCandidates(t *testing.T) {
	s, err := New(config.Default())
	require.NoError(t, err)
	d := s.Score(model.Task{Priority: 5}, nil, nil)
	assert.Nil(t, d.Best)
}

func TestScoreWithinBoundsForValidWeights(t *testing.T) {
	s, err := New(config.Default())
	require.NoError(t, err)

	candidates := []model.WorkerState{
		{ID: "w1", CurrentLoad: 0.2, ActiveTasks: 1, MaxConcurrency: 4},
		{ID: "w2", CurrentLoad: 0.8, ActiveTasks: 3, MaxConcurrency: 4},
	}
	d := s.Score(model.Task{Priority: 5}, candidates, nil)
	require.NotNil(t, d.Best)
	for _, c := range d.Alternatives {
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
	}
}

func TestScoreDeterministicTieBreak(t *testing.T) {
	s, err := New(config.Default())
	require.NoError(t, err)

	candidates := []model.WorkerState{
		{ID: "zeta", CurrentLoad: 0.1, ActiveTasks: 0, MaxConcurrency: 4},
		{ID: "alpha", CurrentLoad: 0.1, ActiveTasks: 0, MaxConcurrency: 4},
	}
	d1 := s.Score(model.Task{Priority: 1}, candidates, nil)
	d2 := s.Score(model.Task{Priority: 1}, candidates, nil)
	require.NotNil(t, d1.Best)
	require.NotNil(t, d2.Best)
	assert.Equal(t, "alpha", d1.Best.WorkerID)
	assert.Equal(t, d1.Best.WorkerID, d2.Best.WorkerID)
}

func TestScorePrefersLowerLoadAndLowerWait(t *testing.T) {
	s, err := New(config.Default())
	require.NoError(t, err)

	candidates := []model.WorkerState{
		{ID: "busy", CurrentLoad: 0.9, ActiveTasks: 5, MaxConcurrency: 10},
		{ID: "idle", CurrentLoad: 0.1, ActiveTasks: 0, MaxConcurrency: 10},
	}
	d := s.Score(model.Task{Priority: 5}, candidates, nil)
	require.NotNil(t, d.Best)
	assert.Equal(t, "idle", d.Best.WorkerID)
}

func TestSetWeightsRejectsBadSum(t *testing.T) {
	s, err := New(config.Default())
	require.NoError(t, err)
	err = s.SetWeights(config.Weights{Wait: 1, Load: 1, Priority: 1})
	assert.Error(t, err)
}
