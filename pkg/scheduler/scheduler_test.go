package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sobrief/orchestrator/pkg/state"
)

func TestRunFanout_MergesDisjointSlots(t *testing.T) {
	sch := New(4)
	s := state.New("C1", "U1", "R1", []string{"timeline", "key_facts", "entity_extraction"})

	_, err := sch.RunFanout(context.Background(), s, []string{"timeline", "key_facts", "entity_extraction"},
		func(ctx context.Context, kind string) (*state.ResultSlot, error) {
			return state.InlineResult(map[string]any{"kind": kind}), nil
		})
	require.NoError(t, err)

	assert.True(t, s.IsCompleted("timeline"))
	assert.True(t, s.IsCompleted("key_facts"))
	assert.True(t, s.IsCompleted("entity_extraction"))
}

func TestRunFanout_RespectsConcurrencyCap(t *testing.T) {
	sch := New(2)
	s := state.New("C1", "U1", "R1", nil)

	var current, maxSeen int64
	kinds := []string{"a", "b", "c", "d", "e"}

	_, err := sch.RunFanout(context.Background(), s, kinds, func(ctx context.Context, kind string) (*state.ResultSlot, error) {
		n := atomic.AddInt64(&current, 1)
		for {
			m := atomic.LoadInt64(&maxSeen)
			if n <= m || atomic.CompareAndSwapInt64(&maxSeen, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return state.InlineResult(map[string]any{}), nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt64(&maxSeen), int64(2))
}

func TestRunFanout_NonFatalErrorDoesNotCancelSiblings(t *testing.T) {
	sch := New(4)
	s := state.New("C1", "U1", "R1", nil)

	ran := make(map[string]bool)
	var mu sync.Mutex
	kinds := []string{"a", "b", "c"}

	_, err := sch.RunFanout(context.Background(), s, kinds, func(ctx context.Context, kind string) (*state.ResultSlot, error) {
		mu.Lock()
		ran[kind] = true
		mu.Unlock()
		if kind == "a" {
			return nil, fmt.Errorf("transient failure")
		}
		return state.InlineResult(map[string]any{}), nil
	})
	require.NoError(t, err)
	assert.True(t, ran["a"])
	assert.True(t, ran["b"])
	assert.True(t, ran["c"])
}

func TestRunFanout_FatalErrorCancelsSiblings(t *testing.T) {
	sch := New(4)
	s := state.New("C1", "U1", "R1", nil)

	kinds := []string{"a", "b"}
	_, err := sch.RunFanout(context.Background(), s, kinds, func(ctx context.Context, kind string) (*state.ResultSlot, error) {
		if kind == "a" {
			return nil, &FatalError{Err: fmt.Errorf("store unavailable")}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.Error(t, err)
}
