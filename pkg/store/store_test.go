package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) Backend {
	t.Helper()
	b, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSQLBackend_PutGetRoundtrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "agent_results/case1", "timeline", []byte(`{"items":[]}`)))

	value, found, err := b.Get(ctx, "agent_results/case1", "timeline")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"items":[]}`, string(value))
}

func TestSQLBackend_GetMissingKeyNotFound(t *testing.T) {
	b := newTestBackend(t)
	_, found, err := b.Get(context.Background(), "agent_results/case1", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLBackend_PutOverwrites(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "ns", "k", []byte("v1")))
	require.NoError(t, b.Put(ctx, "ns", "k", []byte("v2")))

	value, found, err := b.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v2", string(value))
}

func TestSQLBackend_List(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "ns", "a", []byte("1")))
	require.NoError(t, b.Put(ctx, "ns", "b", []byte("2")))
	require.NoError(t, b.Put(ctx, "other", "c", []byte("3")))

	keys, err := b.List(ctx, "ns")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestSQLBackend_Delete(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "ns", "k", []byte("v")))
	require.NoError(t, b.Delete(ctx, "ns", "k"))

	_, found, err := b.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLBackend_CheckpointRoundtrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.PutCheckpoint(ctx, "case_C1", []byte(`{"phase":"schedule"}`)))

	data, found, err := b.GetCheckpointTuple(ctx, "case_C1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"phase":"schedule"}`, string(data))

	// A later checkpoint replaces the prior one; get_tuple always returns
	// the latest, not a history.
	require.NoError(t, b.PutCheckpoint(ctx, "case_C1", []byte(`{"phase":"evaluate"}`)))
	data, found, err = b.GetCheckpointTuple(ctx, "case_C1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"phase":"evaluate"}`, string(data))
}

func TestAsyncStore_PutAsyncThenGet(t *testing.T) {
	b := newTestBackend(t)
	a := NewAsyncStore(b, 2, 8)
	ctx := context.Background()

	require.NoError(t, a.PutAsync(ctx, "ns", "k", []byte("v")))
	require.NoError(t, a.Close()) // drains queue before returning

	value, found, err := b.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", string(value))
}

func TestAsyncStore_CheckpointAsync(t *testing.T) {
	b := newTestBackend(t)
	a := NewAsyncStore(b, 2, 8)

	require.NoError(t, a.PutCheckpointAsync(context.Background(), "case_C2", []byte(`{"phase":"plan"}`)))
	require.NoError(t, a.Close())

	data, found, err := b.GetCheckpointTuple(context.Background(), "case_C2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"phase":"plan"}`, string(data))
}
