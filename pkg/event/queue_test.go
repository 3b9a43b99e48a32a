package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_EmitAndReceive(t *testing.T) {
	q := NewQueue(2)
	ctx := context.Background()

	require.NoError(t, q.Emit(ctx, Event{Type: TypePhase, Phase: "UNDERSTAND"}))
	got := <-q.Events()
	assert.Equal(t, TypePhase, got.Type)
}

func TestQueue_BlocksWhenFull(t *testing.T) {
	q := NewQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Emit(ctx, Event{Type: TypePhase}))

	done := make(chan struct{})
	go func() {
		_ = q.Emit(ctx, Event{Type: TypeError})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Emit should have blocked while queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	<-q.Events() // drain one, unblocking the goroutine
	<-done
}

func TestQueue_EmitRespectsCancellation(t *testing.T) {
	q := NewQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Emit(ctx, Event{Type: TypePhase}))

	cctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.Emit(cctx, Event{Type: TypeError})
	assert.ErrorIs(t, err, context.Canceled)
}
