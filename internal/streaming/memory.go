package streaming

import (
	"context"
	"sync"
	"time"

	"titansched/internal/model"
)

// MemoryTaskSource is an in-process TaskSource for tests: Push queues
// a task, ReadBatch drains up to max at a time and blocks (respecting
// ctx) when empty, mirroring the real source's 1s block.
type MemoryTaskSource struct {
	mu      sync.Mutex
	pending []TaskMessage
	notify  chan struct{}
}

// NewMemoryTaskSource returns an empty MemoryTaskSource.
func NewMemoryTaskSource() *MemoryTaskSource {
	return &MemoryTaskSource{notify: make(chan struct{}, 1)}
}

// Push enqueues a task with an ack handle that records whether it was
// called, for tests to assert ack-only-after-publish.
func (m *MemoryTaskSource) Push(task model.Task, onAck func(ctx context.Context) error) {
	m.mu.Lock()
	m.pending = append(m.pending, TaskMessage{Task: task, Ack: onAck})
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *MemoryTaskSource) ReadBatch(ctx context.Context, max int) ([]TaskMessage, error) {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return nil, nil
		case <-m.notify:
		}
		m.mu.Lock()
	}
	defer m.mu.Unlock()

	if max <= 0 || max > len(m.pending) {
		max = len(m.pending)
	}
	batch := m.pending[:max]
	m.pending = m.pending[max:]
	return batch, nil
}

// MemoryPublisher records every publish call, and can be configured to
// fail for a given worker id, to exercise the publish-failure path.
type MemoryPublisher struct {
	mu        sync.Mutex
	Published []PublishedMessage
	FailFor   map[string]bool
}

type PublishedMessage struct {
	WorkerID string
	Payload  []byte
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{FailFor: make(map[string]bool)}
}

func (m *MemoryPublisher) Publish(_ context.Context, workerID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailFor[workerID] {
		return errPublishFailed
	}
	m.Published = append(m.Published, PublishedMessage{WorkerID: workerID, Payload: payload})
	return nil
}

var errPublishFailed = publishError{}

type publishError struct{}

func (publishError) Error() string { return "simulated publish failure" }

// MemoryHeartbeatSource lets tests push telemetry records synchronously.
type MemoryHeartbeatSource struct {
	ch        chan model.HeartbeatRecord
	errCh     chan error
	cancelled bool
	mu        sync.Mutex
}

func NewMemoryHeartbeatSource() *MemoryHeartbeatSource {
	return &MemoryHeartbeatSource{ch: make(chan model.HeartbeatRecord, 64), errCh: make(chan error, 1)}
}

func (m *MemoryHeartbeatSource) Subscribe(context.Context) (<-chan model.HeartbeatRecord, <-chan error) {
	return m.ch, m.errCh
}

func (m *MemoryHeartbeatSource) Push(r model.HeartbeatRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled {
		return
	}
	m.ch <- r
}

func (m *MemoryHeartbeatSource) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled {
		return
	}
	m.cancelled = true
	close(m.ch)
}

// MemoryRegistrationSource mirrors MemoryHeartbeatSource for worker
// registration announcements.
type MemoryRegistrationSource struct {
	ch        chan model.WorkerRegistration
	errCh     chan error
	cancelled bool
	mu        sync.Mutex
}

func NewMemoryRegistrationSource() *MemoryRegistrationSource {
	return &MemoryRegistrationSource{ch: make(chan model.WorkerRegistration, 64), errCh: make(chan error, 1)}
}

func (m *MemoryRegistrationSource) Subscribe(context.Context) (<-chan model.WorkerRegistration, <-chan error) {
	return m.ch, m.errCh
}

func (m *MemoryRegistrationSource) Push(r model.WorkerRegistration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled {
		return
	}
	m.ch <- r
}

func (m *MemoryRegistrationSource) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled {
		return
	}
	m.cancelled = true
	close(m.ch)
}

// MemoryCompletionSource mirrors MemoryHeartbeatSource for completions.
type MemoryCompletionSource struct {
	ch        chan model.CompletionEvent
	errCh     chan error
	cancelled bool
	mu        sync.Mutex
}

func NewMemoryCompletionSource() *MemoryCompletionSource {
	return &MemoryCompletionSource{ch: make(chan model.CompletionEvent, 64), errCh: make(chan error, 1)}
}

func (m *MemoryCompletionSource) Subscribe(context.Context) (<-chan model.CompletionEvent, <-chan error) {
	return m.ch, m.errCh
}

func (m *MemoryCompletionSource) Push(e model.CompletionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled {
		return
	}
	m.ch <- e
}

func (m *MemoryCompletionSource) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled {
		return
	}
	m.cancelled = true
	close(m.ch)
}
