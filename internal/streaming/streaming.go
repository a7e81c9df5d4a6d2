// Package streaming defines the narrow interfaces the dispatcher and
// heartbeat/completion subscribers consume. The durable stream broker
// itself is out of scope per spec.md §1; only these interfaces are
// specified here, with an etcd-watch-backed implementation and an
// in-memory implementation for deterministic tests.
package streaming

import (
	"context"

	"titansched/internal/model"
)

// TaskMessage is one ingress record together with its ack handle.
type TaskMessage struct {
	Task model.Task
	Raw  []byte // the undecoded record as read from the stream
	Ack  func(ctx context.Context) error
}

// TaskSource is the consumer-group read side of the durable task
// stream. ReadBatch blocks up to the source's own internal bound
// (spec.md §4.7 names 1s) when no messages are available, and returns
// an empty, non-error slice on that timeout.
type TaskSource interface {
	ReadBatch(ctx context.Context, max int) ([]TaskMessage, error)
}

// WorkerPublisher is the dispatch egress side: one channel per worker.
type WorkerPublisher interface {
	Publish(ctx context.Context, workerID string, payload []byte) error
}

// HeartbeatSource streams worker telemetry records. Cancel stops the
// upstream subscription; it must be safe to call more than once.
type HeartbeatSource interface {
	Subscribe(ctx context.Context) (<-chan model.HeartbeatRecord, <-chan error)
	Cancel()
}

// CompletionSource streams task completion events.
type CompletionSource interface {
	Subscribe(ctx context.Context) (<-chan model.CompletionEvent, <-chan error)
	Cancel()
}

// RegistrationSource streams worker registration announcements — the
// out-of-band channel a worker uses to join the registry, distinct
// from its ongoing heartbeat telemetry (spec.md §3: "created on first
// registration or first heartbeat").
type RegistrationSource interface {
	Subscribe(ctx context.Context) (<-chan model.WorkerRegistration, <-chan error)
	Cancel()
}
