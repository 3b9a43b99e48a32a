package store

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultQueueDepth bounds how many pending writes an AsyncStore will
// buffer before PutAsync starts blocking the caller.
const DefaultQueueDepth = 256

// job is one queued write.
type job struct {
	namespace string
	key       string
	threadID  string
	value     []byte
	isCheckpoint bool
}

// AsyncStore wraps a synchronous Backend with a small worker pool so the
// orchestrator's hot path never blocks on disk or network I/O for
// writes. Reads pass straight through to the backend since callers always
// need the result before proceeding. Modeled on the stopCh/wg/sync.Once
// shutdown shape in codeready-toolchain-tarsy's pkg/queue/worker.go, minus
// its polling loop since jobs are pushed directly onto a channel here
// rather than claimed from a database table.
type AsyncStore struct {
	backend Backend
	jobs    chan job
	workers int

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewAsyncStore starts an AsyncStore with the given number of worker
// goroutines draining the write queue.
func NewAsyncStore(backend Backend, workers, queueDepth int) *AsyncStore {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}

	a := &AsyncStore{
		backend: backend,
		jobs:    make(chan job, queueDepth),
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.worker()
	}
	return a
}

func (a *AsyncStore) worker() {
	defer a.wg.Done()
	for j := range a.jobs {
		a.apply(j)
	}
}

func (a *AsyncStore) apply(j job) {
	ctx := context.Background()
	var err error
	if j.isCheckpoint {
		err = a.backend.PutCheckpoint(ctx, j.threadID, j.value)
	} else {
		err = a.backend.Put(ctx, j.namespace, j.key, j.value)
	}
	if err != nil {
		slog.Error("store: async write failed", "namespace", j.namespace, "thread_id", j.threadID, "error", err)
	}
}

// PutAsync enqueues a namespaced write without waiting for it to land.
// Blocks only if the queue is full (backpressure), or returns ctx.Err()
// if the context is cancelled first.
func (a *AsyncStore) PutAsync(ctx context.Context, namespace, key string, value []byte) error {
	select {
	case a.jobs <- job{namespace: namespace, key: key, value: value}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PutCheckpointAsync enqueues a checkpoint write for a thread.
func (a *AsyncStore) PutCheckpointAsync(ctx context.Context, threadID string, data []byte) error {
	select {
	case a.jobs <- job{threadID: threadID, value: data, isCheckpoint: true}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get reads synchronously; there is nothing to gain from queuing a read.
func (a *AsyncStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	return a.backend.Get(ctx, namespace, key)
}

// GetCheckpointTuple reads the latest checkpoint for a thread synchronously.
func (a *AsyncStore) GetCheckpointTuple(ctx context.Context, threadID string) ([]byte, bool, error) {
	return a.backend.GetCheckpointTuple(ctx, threadID)
}

// List returns all keys under namespace.
func (a *AsyncStore) List(ctx context.Context, namespace string) ([]string, error) {
	return a.backend.List(ctx, namespace)
}

// Delete removes namespace/key synchronously; deletes are rare enough
// (tabular snapshot cleanup, pattern eviction) that async buffering isn't
// worth the added complexity of tracking in-flight deletes against
// in-flight writes of the same key.
func (a *AsyncStore) Delete(ctx context.Context, namespace, key string) error {
	return a.backend.Delete(ctx, namespace, key)
}

// Close stops accepting new work, drains in-flight jobs, and closes the
// underlying backend.
func (a *AsyncStore) Close() error {
	a.stopOnce.Do(func() {
		close(a.jobs)
	})
	a.wg.Wait()
	return a.backend.Close()
}
