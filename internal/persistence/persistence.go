// Package persistence snapshots and restores predictor state to an
// external key/value store. The predictor depends only on the Store
// interface, never on a concrete backend, per the "predictor owns an
// interface handle to persistence" design note.
package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"titansched/internal/model"
)

// DefaultKey is the single key the snapshot is stored under, matching
// the wire format in spec.md §6.
const DefaultKey = "scheduler:predictions"

const snapshotVersion = 1

// Store is the narrow key/value interface the predictor persists
// through. Implementations: Etcd (production) and Memory (tests).
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// Snapshot is the JSON document written under DefaultKey.
type Snapshot struct {
	Version     int                        `json:"version"`
	SavedAt     time.Time                  `json:"savedAt"`
	Predictions map[string]SnapshotEntry   `json:"predictions"`
}

// SnapshotEntry is one task-type's persisted EMA state.
type SnapshotEntry struct {
	EMA         float64   `json:"ema"`
	SampleCount int64     `json:"sampleCount"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Save marshals states and writes them under key in store.
func Save(ctx context.Context, store Store, key string, states map[string]model.EMAState) error {
	if key == "" {
		key = DefaultKey
	}
	snap := Snapshot{
		Version:     snapshotVersion,
		SavedAt:     time.Now().UTC(),
		Predictions: make(map[string]SnapshotEntry, len(states)),
	}
	for taskType, st := range states {
		snap.Predictions[taskType] = SnapshotEntry{
			EMA:         st.EMA,
			SampleCount: st.SampleCount,
			LastUpdated: st.LastUpdated,
		}
	}
	blob, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal prediction snapshot")
	}
	if err := store.Put(ctx, key, blob); err != nil {
		return errors.Wrap(err, "write prediction snapshot")
	}
	return nil
}

// Load reads and unmarshals the snapshot under key. A missing key is
// not an error: it returns an empty map so the predictor starts cold.
func Load(ctx context.Context, store Store, key string) (map[string]model.EMAState, error) {
	if key == "" {
		key = DefaultKey
	}
	blob, ok, err := store.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "read prediction snapshot")
	}
	if !ok {
		return map[string]model.EMAState{}, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, errors.Wrap(err, "unmarshal prediction snapshot")
	}
	states := make(map[string]model.EMAState, len(snap.Predictions))
	for taskType, entry := range snap.Predictions {
		states[taskType] = model.EMAState{
			TaskType:    taskType,
			EMA:         entry.EMA,
			SampleCount: entry.SampleCount,
			LastUpdated: entry.LastUpdated,
		}
	}
	return states, nil
}
