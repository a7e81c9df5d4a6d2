package streaming

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"

	"titansched/internal/model"
)

// Key prefixes, generalizing the teacher's single jobs/nodes prefixes
// (pkg/store/etcd.go) to one prefix per stream this module consumes.
const (
	TaskPrefix         = "/titansched/tasks/"
	HeartbeatPrefix    = "/titansched/heartbeats/"
	CompletionPrefix   = "/titansched/completions/"
	DispatchPrefix     = "/titansched/dispatch/"
	RegistrationPrefix = "/titansched/registrations/"
)

// wireTask is the ingress wire format from spec.md §6: priority and
// createdAt travel as strings.
type wireTask struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Priority  string          `json:"priority"`
	CreatedAt string          `json:"createdAt"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// EtcdTaskSource reads pending tasks from TaskPrefix. A single active
// instance is assumed (see spec.md §9 on scheduler replicas); in-flight
// keys are tracked in memory so a redelivered ReadBatch does not hand
// the same unacked key out twice within one process.
type EtcdTaskSource struct {
	client *clientv3.Client

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewEtcdTaskSource(client *clientv3.Client) *EtcdTaskSource {
	return &EtcdTaskSource{client: client, inFlight: make(map[string]bool)}
}

func (s *EtcdTaskSource) ReadBatch(ctx context.Context, max int) ([]TaskMessage, error) {
	if max <= 0 {
		max = 16
	}
	resp, err := s.client.Get(ctx, TaskPrefix, clientv3.WithPrefix(), clientv3.WithLimit(int64(max*4)))
	if err != nil {
		return nil, errors.Wrap(err, "etcd get task batch")
	}

	var out []TaskMessage
	s.mu.Lock()
	for _, kv := range resp.Kvs {
		key := string(kv.Key)
		if s.inFlight[key] {
			continue
		}
		var wt wireTask
		if err := json.Unmarshal(kv.Value, &wt); err != nil {
			// Malformed payload: ack (delete) immediately to drain the
			// poison message, per spec.md §7.4.
			s.client.Delete(ctx, key)
			continue
		}
		task, perr := decodeTask(wt)
		if perr != nil {
			s.client.Delete(ctx, key)
			continue
		}
		s.inFlight[key] = true
		out = append(out, TaskMessage{
			Task: task,
			Raw:  kv.Value,
			Ack:  s.ackFunc(key),
		})
		if len(out) >= max {
			break
		}
	}
	s.mu.Unlock()

	if len(out) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return out, nil
}

func (s *EtcdTaskSource) ackFunc(key string) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.client.Delete(ctx, key)
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
		if err != nil {
			return errors.Wrap(err, "ack task (etcd delete)")
		}
		return nil
	}
}

func decodeTask(wt wireTask) (model.Task, error) {
	priority, err := strconv.Atoi(wt.Priority)
	if err != nil {
		return model.Task{}, errors.Wrap(err, "parse priority")
	}
	createdAt, err := time.Parse(time.RFC3339, wt.CreatedAt)
	if err != nil {
		return model.Task{}, errors.Wrap(err, "parse createdAt")
	}
	var meta map[string]any
	if len(wt.Metadata) > 0 {
		if err := json.Unmarshal(wt.Metadata, &meta); err != nil {
			return model.Task{}, errors.Wrap(err, "parse metadata")
		}
	}
	return model.Task{
		ID:        wt.ID,
		Type:      wt.Type,
		Priority:  priority,
		CreatedAt: createdAt,
		Payload:   []byte(wt.Payload),
		Metadata:  meta,
	}, nil
}

// EtcdPublisher writes the dispatch record under
// DispatchPrefix+workerID+"/"+<publish time in base-36 nanoseconds>;
// workers watch DispatchPrefix+workerID as their per-worker channel.
type EtcdPublisher struct {
	client *clientv3.Client
}

func NewEtcdPublisher(client *clientv3.Client) *EtcdPublisher {
	return &EtcdPublisher{client: client}
}

func (p *EtcdPublisher) Publish(ctx context.Context, workerID string, payload []byte) error {
	key := DispatchPrefix + workerID + "/" + strconv.FormatInt(time.Now().UnixNano(), 36)
	if _, err := p.client.Put(ctx, key, string(payload)); err != nil {
		return errors.Wrap(err, "etcd publish dispatch record")
	}
	return nil
}

// EtcdHeartbeatSource watches HeartbeatPrefix and decodes each put
// into a model.HeartbeatRecord, generalizing the teacher's WatchJobs.
type EtcdHeartbeatSource struct {
	client *clientv3.Client
	cancel context.CancelFunc
	once   sync.Once
}

func NewEtcdHeartbeatSource(client *clientv3.Client) *EtcdHeartbeatSource {
	return &EtcdHeartbeatSource{client: client}
}

func (s *EtcdHeartbeatSource) Subscribe(ctx context.Context) (<-chan model.HeartbeatRecord, <-chan error) {
	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	out := make(chan model.HeartbeatRecord)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		watchCh := s.client.Watch(wctx, HeartbeatPrefix, clientv3.WithPrefix())
		for resp := range watchCh {
			if err := resp.Err(); err != nil {
				select {
				case errCh <- err:
				default:
				}
				continue
			}
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				var rec model.HeartbeatRecord
				if err := json.Unmarshal(ev.Kv.Value, &rec); err != nil {
					continue
				}
				select {
				case out <- rec:
				case <-wctx.Done():
					return
				}
			}
		}
	}()

	return out, errCh
}

func (s *EtcdHeartbeatSource) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// EtcdCompletionSource mirrors EtcdHeartbeatSource for completion events.
type EtcdCompletionSource struct {
	client *clientv3.Client
	cancel context.CancelFunc
	once   sync.Once
}

func NewEtcdCompletionSource(client *clientv3.Client) *EtcdCompletionSource {
	return &EtcdCompletionSource{client: client}
}

func (s *EtcdCompletionSource) Subscribe(ctx context.Context) (<-chan model.CompletionEvent, <-chan error) {
	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	out := make(chan model.CompletionEvent)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		watchCh := s.client.Watch(wctx, CompletionPrefix, clientv3.WithPrefix())
		for resp := range watchCh {
			if err := resp.Err(); err != nil {
				select {
				case errCh <- err:
				default:
				}
				continue
			}
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				var e model.CompletionEvent
				if err := json.Unmarshal(ev.Kv.Value, &e); err != nil {
					continue
				}
				select {
				case out <- e:
				case <-wctx.Done():
					return
				}
			}
		}
	}()

	return out, errCh
}

func (s *EtcdCompletionSource) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// EtcdRegistrationSource watches RegistrationPrefix for worker
// join/rejoin announcements.
type EtcdRegistrationSource struct {
	client *clientv3.Client
	cancel context.CancelFunc
	once   sync.Once
}

func NewEtcdRegistrationSource(client *clientv3.Client) *EtcdRegistrationSource {
	return &EtcdRegistrationSource{client: client}
}

func (s *EtcdRegistrationSource) Subscribe(ctx context.Context) (<-chan model.WorkerRegistration, <-chan error) {
	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	out := make(chan model.WorkerRegistration)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		watchCh := s.client.Watch(wctx, RegistrationPrefix, clientv3.WithPrefix())
		for resp := range watchCh {
			if err := resp.Err(); err != nil {
				select {
				case errCh <- err:
				default:
				}
				continue
			}
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				var reg model.WorkerRegistration
				if err := json.Unmarshal(ev.Kv.Value, &reg); err != nil {
					continue
				}
				select {
				case out <- reg:
				case <-wctx.Done():
					return
				}
			}
		}
	}()

	return out, errCh
}

func (s *EtcdRegistrationSource) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
