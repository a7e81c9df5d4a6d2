// Package heartbeat implements the subscriber over the worker
// telemetry stream: it updates the registry and capacity tracker,
// emits state-transition events, and runs a periodic reaper. Grounded
// in the teacher's Agent.startHeartbeat ticker and EtcdManager's Watch
// translation, generalized from push (worker self-reports) to pull
// (subscriber drains a stream of all workers' telemetry).
package heartbeat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"titansched/internal/availability"
	"titansched/internal/config"
	"titansched/internal/ema"
	"titansched/internal/events"
	"titansched/internal/model"
	"titansched/internal/registry"
	"titansched/internal/streaming"
	"titansched/internal/telemetry"
)

// Subscriber owns the heartbeat consumption loop and the periodic
// reaper. It is the single writer for capacity state.
type Subscriber struct {
	reg     *registry.Registry
	source  streaming.HeartbeatSource
	bus     *events.Bus
	cfg     config.Config
	log     *zap.Logger
	metrics telemetry.MetricsSink

	mu               sync.Mutex
	capacity         map[string]model.WorkerCapacity
	avgDur           map[string]float64
	lastHealth       map[string]model.HealthClass
	unhealthyEmitted map[string]bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Subscriber. Call Start to begin consuming.
func New(reg *registry.Registry, source streaming.HeartbeatSource, bus *events.Bus, cfg config.Config, log *zap.Logger) *Subscriber {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{
		reg:              reg,
		source:           source,
		bus:              bus,
		cfg:              cfg,
		log:              log,
		metrics:          telemetry.NopSink{},
		capacity:         make(map[string]model.WorkerCapacity),
		avgDur:           make(map[string]float64),
		lastHealth:       make(map[string]model.HealthClass),
		unhealthyEmitted: make(map[string]bool),
		stopCh:           make(chan struct{}),
	}
}

// SetMetricsSink overrides the metrics sink used to record health
// transitions. Unset, the Subscriber reports into telemetry.NopSink.
func (s *Subscriber) SetMetricsSink(m telemetry.MetricsSink) {
	if m != nil {
		s.metrics = m
	}
}

// Start launches the telemetry consumption loop and the reaper timer
// as independent goroutines.
func (s *Subscriber) Start(ctx context.Context) {
	records, errs := s.source.Subscribe(ctx)

	s.wg.Add(2)
	go s.consume(ctx, records, errs)
	go s.reapLoop(ctx)
}

// Stop cancels the upstream stream and the reaper, idempotently.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.source.Cancel()
	})
	s.wg.Wait()
}

func (s *Subscriber) consume(ctx context.Context, records <-chan model.HeartbeatRecord, errs <-chan error) {
	defer s.wg.Done()
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				return
			}
			s.handleRecord(rec)
		case err := <-errs:
			s.log.Warn("heartbeat stream error", zap.Error(err))
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Subscriber) handleRecord(rec model.HeartbeatRecord) {
	w, ok := s.reg.Get(rec.WorkerID)
	if !ok {
		return // unknown worker: ignore, per spec.md §4.3
	}

	now := time.UnixMilli(rec.TimestampMs)
	load := availability.CurrentLoad(rec.CPUUsage, rec.MemoryUsage)

	s.mu.Lock()
	avg, ok := s.avgDur[rec.WorkerID]
	if !ok {
		// No completion has folded a real duration in yet; seed from the
		// configured default until RecordCompletion starts adapting it.
		avg = float64(s.cfg.AvgTaskDurationMs)
		s.avgDur[rec.WorkerID] = avg
	}
	freeAt := availability.EstimatedFreeAt(now, rec.QueueDepth, avg)

	// A record that just arrived is current by definition; staleness
	// (unhealthy/removed) is classified by the periodic reaper against
	// wall-clock time, not re-derived here from the pre-touch timestamp.
	health := availability.Classify(0, load, availability.Thresholds{
		UnhealthyTimeout: s.cfg.UnhealthyTimeout(),
		RemovedTimeout:   s.cfg.RemovedTimeout(),
		DegradedLoad:     availability.DefaultDegradedLoad,
	})

	prevHealth, hadHealth := s.lastHealth[rec.WorkerID]
	s.lastHealth[rec.WorkerID] = health

	prevLoad := w.CurrentLoad
	significant := availability.SignificantLoadChange(prevLoad, load)

	s.capacity[rec.WorkerID] = model.WorkerCapacity{
		WorkerID:        rec.WorkerID,
		QueueDepth:      rec.QueueDepth,
		EstimatedFreeAt: freeAt,
		Health:          health,
		AvgTaskDuration: avg,
	}
	s.mu.Unlock()

	s.reg.Touch(rec.WorkerID, now)
	s.reg.SetLoad(rec.WorkerID, load)

	if !hadHealth || prevHealth != health {
		s.emitHealthEvent(rec.WorkerID, health, now)
	}
	if significant {
		s.publish(events.Event{Kind: events.WorkerLoadChanged, WorkerID: rec.WorkerID, Timestamp: now, Fields: map[string]any{"load": load}})
	}
}

func (s *Subscriber) emitHealthEvent(workerID string, health model.HealthClass, at time.Time) {
	var kind events.Kind
	switch health {
	case model.HealthHealthy:
		kind = events.WorkerHealthy
	case model.HealthDegraded:
		kind = events.WorkerDegraded
	case model.HealthUnhealthy:
		kind = events.WorkerUnhealthy
	case model.HealthRemoved:
		kind = events.WorkerRemoved
	default:
		return
	}
	s.metrics.IncrCounter("worker_health_transition", map[string]string{"health": string(health)})
	s.publish(events.Event{Kind: kind, WorkerID: workerID, Timestamp: at})
}

func (s *Subscriber) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

func (s *Subscriber) reapLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HealthCheckInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.reapOnce(time.Now())
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// reapOnce applies the health thresholds to every registered worker's
// heartbeat age: unhealthy workers are forced offline (event emitted
// exactly once per transition) and removed workers are deleted from
// both the capacity map and the registry (event emitted exactly once).
func (s *Subscriber) reapOnce(now time.Time) {
	workers := s.reg.All()
	s.metrics.SetGauge("registered_workers", float64(len(workers)), nil)
	for _, w := range workers {
		age := now.Sub(w.LastHeartbeat)
		health := availability.Classify(age, w.CurrentLoad, availability.Thresholds{
			UnhealthyTimeout: s.cfg.UnhealthyTimeout(),
			RemovedTimeout:   s.cfg.RemovedTimeout(),
			DegradedLoad:     availability.DefaultDegradedLoad,
		})

		switch health {
		case model.HealthRemoved:
			s.mu.Lock()
			delete(s.capacity, w.ID)
			delete(s.avgDur, w.ID)
			delete(s.lastHealth, w.ID)
			delete(s.unhealthyEmitted, w.ID)
			s.mu.Unlock()
			s.reg.Unregister(w.ID)
			// Unregistering removes w from the next All() pass, so this
			// event fires exactly once per worker by construction.
			s.publish(events.Event{Kind: events.WorkerRemoved, WorkerID: w.ID, Timestamp: now})
		case model.HealthUnhealthy:
			s.mu.Lock()
			alreadyEmitted := s.unhealthyEmitted[w.ID]
			s.unhealthyEmitted[w.ID] = true
			s.mu.Unlock()
			if w.Status != model.WorkerOffline {
				s.reg.SetStatus(w.ID, model.WorkerOffline)
			}
			if !alreadyEmitted {
				s.publish(events.Event{Kind: events.WorkerUnhealthy, WorkerID: w.ID, Timestamp: now})
			}
		default:
			s.mu.Lock()
			s.unhealthyEmitted[w.ID] = false
			s.mu.Unlock()
		}
	}
}

// Capacity returns a copy of the current capacity snapshot for a
// worker, if known.
func (s *Subscriber) Capacity(workerID string) (model.WorkerCapacity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.capacity[workerID]
	return c, ok
}

// RecordCompletion folds an actual task duration into the worker's
// rolling average, per spec.md §4.2's EMA(α=0.1). It is the only
// writer that makes the average adaptive; handleRecord merely seeds
// it with the configured default on a worker's first heartbeat. The
// completion subscriber calls this for every completion that carries
// a worker id.
func (s *Subscriber) RecordCompletion(workerID string, durationMs float64) {
	if workerID == "" || durationMs <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.avgDur[workerID]
	if !ok {
		prev = float64(s.cfg.AvgTaskDurationMs)
	}
	s.avgDur[workerID] = ema.Blend(prev, durationMs, availability.AvgDurationAlpha)
	if c, ok := s.capacity[workerID]; ok {
		c.AvgTaskDuration = s.avgDur[workerID]
		s.capacity[workerID] = c
	}
}
