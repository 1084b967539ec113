package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultEtcdPrefix is the key space used when no prefix is configured.
const DefaultEtcdPrefix = "/radiolink/v1/transfers"

// Etcd stores each transfer as a JSON document and each event under
// "<prefix>/<token>/events/<nanos>".
type Etcd struct {
	client *clientv3.Client
	prefix string
}

// NewEtcd dials the etcd cluster at endpoints.
func NewEtcd(endpoints []string, prefix string) (*Etcd, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd dial: %w", err)
	}
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}
	return &Etcd{client: client, prefix: prefix}, nil
}

func (e *Etcd) transferKey(token Token) string {
	return fmt.Sprintf("%s/%s", e.prefix, token)
}

func (e *Etcd) eventKey(token Token, at time.Time) string {
	return fmt.Sprintf("%s/%s/events/%020d", e.prefix, token, at.UnixNano())
}

// Begin writes the transfer document only if it does not exist yet.
func (e *Etcd) Begin(ctx context.Context, token Token, info TransferInfo) error {
	k := e.transferKey(token)
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	resp, err := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(k), "=", 0)).
		Then(clientv3.OpPut(k, string(data))).
		Commit()
	if err != nil {
		return fmt.Errorf("etcd txn create %q: %w", k, err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("%q already exists", k)
	}
	return nil
}

// Append writes one event document.
func (e *Etcd) Append(ctx context.Context, token Token, ev Event) error {
	k := e.eventKey(token, ev.Time)
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if _, err := e.client.Put(ctx, k, string(data)); err != nil {
		return fmt.Errorf("etcd put %q: %w", k, err)
	}
	return nil
}

// Close releases the etcd client.
func (e *Etcd) Close() error {
	return e.client.Close()
}
