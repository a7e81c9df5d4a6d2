package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titansched/internal/model"
)

func mkWorker(id string) model.WorkerState {
	return model.WorkerState{
		ID:             id,
		Status:         model.WorkerIdle,
		Capabilities:   map[string]struct{}{},
		MaxConcurrency: 4,
		LastHeartbeat:  time.Now(),
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	r.Register(mkWorker("w1"))

	got, ok := r.Get("w1")
	require.True(t, ok)
	assert.Equal(t, "w1", got.ID)
}

func TestTouchIgnoresUnknown(t *testing.T) {
	r := New()
	r.Touch("ghost", time.Now())
	assert.Equal(t, 0, r.Len())
}

func TestSetLoadClamps(t *testing.T) {
	r := New()
	r.Register(mkWorker("w1"))
	r.SetLoad("w1", 5)
	got, _ := r.Get("w1")
	assert.Equal(t, 1.0, got.CurrentLoad)

	r.SetLoad("w1", -5)
	got, _ = r.Get("w1")
	assert.Equal(t, 0.0, got.CurrentLoad)
}

func TestEligibleFiltersOfflineDrainingStaleAndFull(t *testing.T) {
	r := New()
	now := time.Now()

	w1 := mkWorker("w1")
	r.Register(w1)

	w2 := mkWorker("w2")
	w2.Status = model.WorkerOffline
	r.Register(w2)

	w3 := mkWorker("w3")
	w3.LastHeartbeat = now.Add(-time.Hour)
	r.Register(w3)

	w4 := mkWorker("w4")
	w4.ActiveTasks = w4.MaxConcurrency
	r.Register(w4)

	w5 := mkWorker("w5")
	w5.Capabilities = map[string]struct{}{"gpu": {}}
	r.Register(w5)

	eligible := r.Eligible(EligibleQuery{Now: now, HeartbeatTimeout: 30 * time.Second})
	ids := map[string]bool{}
	for _, w := range eligible {
		ids[w.ID] = true
	}
	assert.True(t, ids["w1"])
	assert.True(t, ids["w5"])
	assert.False(t, ids["w2"])
	assert.False(t, ids["w3"])
	assert.False(t, ids["w4"])

	withGPU := r.Eligible(EligibleQuery{Now: now, HeartbeatTimeout: 30 * time.Second, RequiredCapabilities: map[string]struct{}{"gpu": {}}})
	gpuIDs := map[string]bool{}
	for _, w := range withGPU {
		gpuIDs[w.ID] = true
	}
	assert.True(t, gpuIDs["w5"])
	assert.False(t, gpuIDs["w1"])
}

func TestReapMarksOfflineWithoutDeleting(t *testing.T) {
	r := New()
	now := time.Now()
	w := mkWorker("w1")
	w.LastHeartbeat = now.Add(-time.Hour)
	r.Register(w)

	reaped := r.Reap(now, 30*time.Second)
	assert.Equal(t, []string{"w1"}, reaped)

	got, ok := r.Get("w1")
	require.True(t, ok)
	assert.Equal(t, model.WorkerOffline, got.Status)
	assert.Equal(t, 1, r.Len())
}
