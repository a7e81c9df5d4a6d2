package registrar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titansched/internal/registry"
	"titansched/internal/model"
	"titansched/internal/streaming"
)

func TestRegistrationCreatesWorker(t *testing.T) {
	reg := registry.New()
	src := streaming.NewMemoryRegistrationSource()
	sub := New(reg, src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub.Start(ctx)
	defer sub.Stop()

	src.Push(model.WorkerRegistration{WorkerID: "w1", MaxConcurrency: 4, Capabilities: []string{"gpu"}})

	require.Eventually(t, func() bool {
		_, ok := reg.Get("w1")
		return ok
	}, time.Second, time.Millisecond)

	w, ok := reg.Get("w1")
	require.True(t, ok)
	assert.Equal(t, model.WorkerIdle, w.Status)
	assert.Equal(t, 4, w.MaxConcurrency)
	assert.True(t, w.HasCapabilities(map[string]struct{}{"gpu": {}}))
}
