package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"titansched/internal/model"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	states := map[string]model.EMAState{
		"resize-image": {TaskType: "resize-image", EMA: 1234.5, SampleCount: 7, LastUpdated: time.Now().UTC().Truncate(time.Millisecond)},
		"send-email":   {TaskType: "send-email", EMA: 42, SampleCount: 1, LastUpdated: time.Now().UTC().Truncate(time.Millisecond)},
	}

	require.NoError(t, Save(ctx, store, DefaultKey, states))

	loaded, err := Load(ctx, store, DefaultKey)
	require.NoError(t, err)
	require.Len(t, loaded, len(states))
	for k, want := range states {
		got, ok := loaded[k]
		require.True(t, ok)
		require.Equal(t, want.EMA, got.EMA)
		require.Equal(t, want.SampleCount, got.SampleCount)
		require.True(t, want.LastUpdated.Equal(got.LastUpdated))
	}
}

func TestLoadMissingKeyReturnsEmpty(t *testing.T) {
	store := NewMemoryStore()
	loaded, err := Load(context.Background(), store, DefaultKey)
	require.NoError(t, err)
	require.Empty(t, loaded)
}
