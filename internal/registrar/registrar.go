// Package registrar consumes the worker registration channel and
// creates or replaces entries in the worker registry. It is the
// "first registration" half of the lifecycle rule in spec.md §3; the
// heartbeat subscriber covers "first heartbeat" for workers that were
// already known.
package registrar

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"titansched/internal/model"
	"titansched/internal/registry"
	"titansched/internal/streaming"
)

// Subscriber drains the registration stream and writes new workers
// into the registry with zero load and idle status.
type Subscriber struct {
	reg    *registry.Registry
	source streaming.RegistrationSource
	log    *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(reg *registry.Registry, source streaming.RegistrationSource, log *zap.Logger) *Subscriber {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{reg: reg, source: source, log: log, stopCh: make(chan struct{})}
}

// Start launches the consumption loop.
func (s *Subscriber) Start(ctx context.Context) {
	regs, errs := s.source.Subscribe(ctx)
	s.wg.Add(1)
	go s.consume(ctx, regs, errs)
}

// Stop cancels the upstream subscription, idempotently.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.source.Cancel()
	})
	s.wg.Wait()
}

func (s *Subscriber) consume(ctx context.Context, regs <-chan model.WorkerRegistration, errs <-chan error) {
	defer s.wg.Done()
	for {
		select {
		case r, ok := <-regs:
			if !ok {
				return
			}
			s.handle(r)
		case err := <-errs:
			s.log.Warn("registration stream error", zap.Error(err))
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Subscriber) handle(r model.WorkerRegistration) {
	caps := make(map[string]struct{}, len(r.Capabilities))
	for _, c := range r.Capabilities {
		caps[c] = struct{}{}
	}
	s.reg.Register(model.WorkerState{
		ID:             r.WorkerID,
		Status:         model.WorkerIdle,
		Capabilities:   caps,
		MaxConcurrency: r.MaxConcurrency,
	})
	s.log.Info("worker registered", zap.String("workerID", r.WorkerID), zap.Int("maxConcurrency", r.MaxConcurrency))
}
