package presence

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdTracker backs presence with etcd leases: Join grants a TTL-second
// lease and keeps it alive for the lifetime of the process; Leave deletes
// the key at once, and once keep-alive stops (Close, or the process exits)
// the key expires a TTL later, clearing the participant from every other
// client's List automatically.
type EtcdTracker struct {
	client *clientv3.Client
	ttl    time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewEtcdTracker wraps an already-connected etcd client. ttl defaults to
// DefaultTTL when zero.
func NewEtcdTracker(client *clientv3.Client, ttl time.Duration) *EtcdTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &EtcdTracker{client: client, ttl: ttl, cancels: make(map[string]context.CancelFunc)}
}

func (t *EtcdTracker) Join(ctx context.Context, reviewID, userID string) error {
	key := presenceKey(reviewID, userID)

	lease, err := t.client.Grant(ctx, int64(t.ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("presence: grant lease: %w", err)
	}
	if _, err := t.client.Put(ctx, key, time.Now().UTC().Format(time.RFC3339), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("presence: put %s: %w", key, err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := t.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("presence: keep-alive %s: %w", key, err)
	}
	go drainKeepAlive(ch)

	t.mu.Lock()
	if old, ok := t.cancels[key]; ok {
		old()
	}
	t.cancels[key] = cancel
	t.mu.Unlock()
	return nil
}

// drainKeepAlive consumes the keep-alive response channel. etcd's client
// stops renewing the lease if nothing reads from it.
func drainKeepAlive(ch <-chan *clientv3.LeaseKeepAliveResponse) {
	for range ch {
	}
}

func (t *EtcdTracker) Leave(ctx context.Context, reviewID, userID string) error {
	key := presenceKey(reviewID, userID)

	t.mu.Lock()
	if cancel, ok := t.cancels[key]; ok {
		cancel()
		delete(t.cancels, key)
	}
	t.mu.Unlock()

	if _, err := t.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("presence: delete %s: %w", key, err)
	}
	return nil
}

func (t *EtcdTracker) List(ctx context.Context, reviewID string) ([]Entry, error) {
	prefix := "presence/" + reviewID + "/"
	resp, err := t.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("presence: list %s: %w", prefix, err)
	}

	entries := make([]Entry, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		userID := strings.TrimPrefix(string(kv.Key), prefix)
		lastSeen, err := time.Parse(time.RFC3339, string(kv.Value))
		if err != nil {
			lastSeen = time.Now().UTC()
		}
		entries = append(entries, Entry{UserID: userID, LastSeen: lastSeen})
	}
	return entries, nil
}

func (t *EtcdTracker) Close() error {
	t.mu.Lock()
	for key, cancel := range t.cancels {
		cancel()
		delete(t.cancels, key)
	}
	t.mu.Unlock()
	return nil
}
