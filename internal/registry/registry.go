// Package registry is the in-memory worker directory: the sole owner
// of live model.WorkerState, offering O(1) lookup by id and filtered
// enumeration. Every other component receives copies, never the live
// struct, matching the ownership rule in spec.md §3.
package registry

import (
	"sort"
	"sync"
	"time"

	"titansched/internal/model"
)

// Registry indexes workers by id under a single mutex. The registrar,
// the heartbeat subscriber and its reaper are the writers; the
// dispatcher and scorer are readers.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*model.WorkerState
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{workers: make(map[string]*model.WorkerState)}
}

// Register adds or replaces a worker entry. This is the only path
// that creates a worker; the heartbeat telemetry stream only updates
// workers that already exist here and silently ignores unknown ids.
func (r *Registry) Register(w model.WorkerState) {
	if w.LastHeartbeat.IsZero() {
		w.LastHeartbeat = time.Now()
	}
	cp := w
	r.mu.Lock()
	r.workers[w.ID] = &cp
	r.mu.Unlock()
}

// Unregister removes a worker outright.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.workers, id)
	r.mu.Unlock()
}

// Get returns a copy of the worker's state.
func (r *Registry) Get(id string) (model.WorkerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return model.WorkerState{}, false
	}
	return *w, true
}

// Touch updates the last-heartbeat timestamp for a known worker. It is
// a no-op for unknown workers, matching spec.md §4.3 ("if unknown,
// ignore").
func (r *Registry) Touch(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return
	}
	w.LastHeartbeat = at
}

// SetLoad clamps and stores a worker's current load.
func (r *Registry) SetLoad(id string, load float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return
	}
	w.CurrentLoad = model.ClampLoad(load)
}

// SetActiveTasks stores a worker's active-task count.
func (r *Registry) SetActiveTasks(id string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return
	}
	w.ActiveTasks = n
}

// SetStatus transitions a worker's status.
func (r *Registry) SetStatus(id string, status model.WorkerStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return
	}
	w.Status = status
}

// EligibleQuery narrows enumeration by the required capability set and
// the current time, for the staleness check.
type EligibleQuery struct {
	Now                  time.Time
	HeartbeatTimeout     time.Duration
	RequiredCapabilities map[string]struct{}
}

// Eligible returns the subset of workers that are simultaneously not
// offline/draining, within the heartbeat-timeout window, below
// max-concurrency, and a superset of the requested capabilities.
func (r *Registry) Eligible(q EligibleQuery) []model.WorkerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.WorkerState, 0, len(r.workers))
	for _, w := range r.workers {
		if !w.Eligible() {
			continue
		}
		if q.Now.Sub(w.LastHeartbeat) >= q.HeartbeatTimeout {
			continue
		}
		if w.ActiveTasks >= w.MaxConcurrency {
			continue
		}
		if len(q.RequiredCapabilities) > 0 && !w.HasCapabilities(q.RequiredCapabilities) {
			continue
		}
		out = append(out, *w)
	}
	// Map iteration order is randomized; callers that round-robin over
	// this slice need a stable order across calls.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns a copy of every worker currently registered,
// irrespective of eligibility — used by reaping and diagnostics.
func (r *Registry) All() []model.WorkerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.WorkerState, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	return out
}

// Reap marks every worker whose last heartbeat is older than timeout
// as offline and returns their ids. It does not delete: deletion only
// happens through the heartbeat subscriber's removed-timeout path or
// an explicit Unregister.
func (r *Registry) Reap(now time.Time, timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []string
	for id, w := range r.workers {
		if now.Sub(w.LastHeartbeat) >= timeout && w.Status != model.WorkerOffline {
			w.Status = model.WorkerOffline
			reaped = append(reaped, id)
		}
	}
	return reaped
}

// Len reports the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}
