package persistence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdStore adapts an etcd v3 client to the Store interface. It is the
// "external key/value store" spec.md §6 describes for prediction
// persistence, grounded in the teacher's EtcdManager.putValue/Get.
type EtcdStore struct {
	client *clientv3.Client
}

// NewEtcdStore dials endpoints with the teacher's connection
// conventions (a short dial timeout, no retry loop at construction
// time — failures surface to the caller immediately).
func NewEtcdStore(endpoints []string, dialTimeout time.Duration) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "dial etcd")
	}
	return &EtcdStore{client: cli}, nil
}

// Close releases the underlying etcd client connection.
func (e *EtcdStore) Close() error {
	return e.client.Close()
}

func (e *EtcdStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := e.client.Put(ctx, key, string(value))
	if err != nil {
		return errors.Wrap(err, "etcd put")
	}
	return nil
}

func (e *EtcdStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := e.client.Get(ctx, key)
	if err != nil {
		return nil, false, errors.Wrap(err, "etcd get")
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}
