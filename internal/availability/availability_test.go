package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"titansched/internal/model"
)

func TestCurrentLoad(t *testing.T) {
	assert.InDelta(t, 0.6*0.5+0.4*0.2, CurrentLoad(0.5, 0.2), 1e-9)
	assert.Equal(t, 1.0, CurrentLoad(2, 2)) // clamps inputs above 1
	assert.Equal(t, 0.0, CurrentLoad(-1, -1))
}

func TestEstimatedFreeAt(t *testing.T) {
	now := time.Now()
	got := EstimatedFreeAt(now, 3, 1000)
	assert.Equal(t, now.Add(3*time.Second), got)

	assert.Equal(t, now, EstimatedFreeAt(now, 0, 1000))
}

func TestClassifyOrder(t *testing.T) {
	th := Thresholds{UnhealthyTimeout: 30 * time.Second, RemovedTimeout: 5 * time.Minute, DegradedLoad: DefaultDegradedLoad}

	assert.Equal(t, model.HealthRemoved, Classify(10*time.Minute, 0.1, th))
	assert.Equal(t, model.HealthUnhealthy, Classify(1*time.Minute, 0.1, th))
	assert.Equal(t, model.HealthDegraded, Classify(5*time.Second, 0.95, th))
	assert.Equal(t, model.HealthHealthy, Classify(5*time.Second, 0.2, th))
}

func TestSignificantLoadChange(t *testing.T) {
	assert.True(t, SignificantLoadChange(0.2, 0.31))
	assert.False(t, SignificantLoadChange(0.2, 0.25))
	assert.True(t, SignificantLoadChange(0.5, 0.39))
}
