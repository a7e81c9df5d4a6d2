package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titansched/internal/config"
	"titansched/internal/events"
	"titansched/internal/model"
	"titansched/internal/registry"
	"titansched/internal/streaming"
)

func TestUnknownWorkerIgnored(t *testing.T) {
	reg := registry.New()
	src := streaming.NewMemoryHeartbeatSource()
	bus := events.NewBus(16)
	sub := New(reg, src, bus, config.Default(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub.Start(ctx)
	defer sub.Stop()

	src.Push(model.HeartbeatRecord{WorkerID: "ghost", TimestampMs: time.Now().UnixMilli()})
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, reg.Len())
}

func TestHealthyHeartbeatKeepsWorkerHealthy(t *testing.T) {
	reg := registry.New()
	now := time.Now()
	reg.Register(model.WorkerState{ID: "w1", Status: model.WorkerIdle, MaxConcurrency: 4, LastHeartbeat: now.Add(-time.Second), Capabilities: map[string]struct{}{}})

	src := streaming.NewMemoryHeartbeatSource()
	bus := events.NewBus(16)
	cfg := config.Default()
	sub := New(reg, src, bus, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub.Start(ctx)
	defer sub.Stop()

	sub2 := bus.Subscribe()
	src.Push(model.HeartbeatRecord{WorkerID: "w1", CPUUsage: 0.1, MemoryUsage: 0.1, TimestampMs: now.UnixMilli()})

	select {
	case ev := <-sub2:
		assert.Equal(t, events.WorkerHealthy, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a worker_healthy event")
	}

	w, ok := reg.Get("w1")
	require.True(t, ok)
	assert.InDelta(t, 0.1, w.CurrentLoad, 1e-9)
}

func TestReapForcesUnhealthyOffline(t *testing.T) {
	reg := registry.New()
	now := time.Now()
	reg.Register(model.WorkerState{ID: "w1", Status: model.WorkerIdle, MaxConcurrency: 4, LastHeartbeat: now.Add(-time.Minute), Capabilities: map[string]struct{}{}})

	src := streaming.NewMemoryHeartbeatSource()
	bus := events.NewBus(16)
	cfg := config.Default()
	sub := New(reg, src, bus, cfg, nil)
	listener := bus.Subscribe()

	sub.reapOnce(now)

	w, ok := reg.Get("w1")
	require.True(t, ok)
	assert.Equal(t, model.WorkerOffline, w.Status)

	select {
	case ev := <-listener:
		assert.Equal(t, events.WorkerUnhealthy, ev.Kind)
	default:
		t.Fatal("expected a worker_unhealthy event")
	}

	// A second reap at the same age must not emit a second event.
	sub.reapOnce(now)
	select {
	case <-listener:
		t.Fatal("expected exactly one worker_unhealthy event")
	default:
	}
}

func TestReapRemovesWorkerPastRemovedTimeout(t *testing.T) {
	reg := registry.New()
	now := time.Now()
	reg.Register(model.WorkerState{ID: "w1", Status: model.WorkerIdle, MaxConcurrency: 4, LastHeartbeat: now.Add(-10 * time.Minute), Capabilities: map[string]struct{}{}})

	src := streaming.NewMemoryHeartbeatSource()
	bus := events.NewBus(16)
	cfg := config.Default()
	sub := New(reg, src, bus, cfg, nil)
	listener := bus.Subscribe()

	sub.reapOnce(now)

	_, ok := reg.Get("w1")
	assert.False(t, ok)

	select {
	case ev := <-listener:
		assert.Equal(t, events.WorkerRemoved, ev.Kind)
	default:
		t.Fatal("expected a worker_removed event")
	}
}
