package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTracker_JoinThenListReportsUser(t *testing.T) {
	tr := NewMemoryTracker(200 * time.Millisecond)
	defer tr.Close()

	require.NoError(t, tr.Join(context.Background(), "rev-1", "alice"))
	entries, err := tr.List(context.Background(), "rev-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].UserID)
}

func TestMemoryTracker_LeaveRemovesUserImmediately(t *testing.T) {
	tr := NewMemoryTracker(time.Second)
	defer tr.Close()

	require.NoError(t, tr.Join(context.Background(), "rev-1", "alice"))
	require.NoError(t, tr.Leave(context.Background(), "rev-1", "alice"))

	entries, err := tr.List(context.Background(), "rev-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryTracker_EntryExpiresAfterTTL(t *testing.T) {
	tr := NewMemoryTracker(50 * time.Millisecond)
	defer tr.Close()

	require.NoError(t, tr.Join(context.Background(), "rev-1", "alice"))
	time.Sleep(150 * time.Millisecond)

	entries, err := tr.List(context.Background(), "rev-1")
	require.NoError(t, err)
	assert.Empty(t, entries, "entry should have expired and been swept")
}

func TestMemoryTracker_MultipleUsersIsolatedPerReview(t *testing.T) {
	tr := NewMemoryTracker(time.Second)
	defer tr.Close()

	require.NoError(t, tr.Join(context.Background(), "rev-1", "alice"))
	require.NoError(t, tr.Join(context.Background(), "rev-2", "bob"))

	entries, err := tr.List(context.Background(), "rev-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].UserID)
}

func TestCommentStore_AddAndThreadOrdering(t *testing.T) {
	s := NewCommentStore()
	c1 := s.Add("rev-1", "file-1", "col-1", "alice", "first")
	c2 := s.Add("rev-1", "file-1", "col-1", "bob", "second")

	thread := s.Thread("rev-1", "file-1", "col-1")
	require.Len(t, thread, 2)
	assert.Equal(t, c1.ID, thread[0].ID)
	assert.Equal(t, c2.ID, thread[1].ID)
}

func TestCommentStore_EditRejectedForNonAuthor(t *testing.T) {
	s := NewCommentStore()
	c := s.Add("rev-1", "file-1", "col-1", "alice", "original")

	err := s.Edit(c.ID, "bob", "tampered")
	assert.ErrorIs(t, err, ErrNotAuthor)

	err = s.Edit(c.ID, "alice", "revised")
	require.NoError(t, err)
	assert.Equal(t, "revised", s.Thread("rev-1", "file-1", "col-1")[0].Text)
}

func TestCommentStore_DeleteRequiresOwner(t *testing.T) {
	s := NewCommentStore()
	c := s.Add("rev-1", "file-1", "col-1", "alice", "original")

	err := s.Delete(c.ID, "alice", "owner-1")
	assert.ErrorIs(t, err, ErrNotOwner, "author is not automatically the owner")

	err = s.Delete(c.ID, "owner-1", "owner-1")
	require.NoError(t, err)
	assert.Empty(t, s.Thread("rev-1", "file-1", "col-1"))
}

func TestCommentStore_ResolveAndUnresolveIsIdempotent(t *testing.T) {
	s := NewCommentStore()
	c := s.Add("rev-1", "file-1", "col-1", "alice", "flagged value")

	require.NoError(t, s.Resolve(c.ID, "reviewer-1"))
	require.NoError(t, s.Resolve(c.ID, "reviewer-1"))
	thread := s.Thread("rev-1", "file-1", "col-1")
	assert.True(t, thread[0].Resolved)
	assert.Equal(t, "reviewer-1", thread[0].ResolvedBy)

	require.NoError(t, s.Unresolve(c.ID, "reviewer-2"))
	thread = s.Thread("rev-1", "file-1", "col-1")
	assert.False(t, thread[0].Resolved)
	assert.Empty(t, thread[0].ResolvedBy)
}

func TestCommentStore_UnknownCommentReturnsNotFound(t *testing.T) {
	s := NewCommentStore()
	assert.ErrorIs(t, s.Edit("missing", "alice", "x"), ErrCommentNotFound)
	assert.ErrorIs(t, s.Resolve("missing", "alice"), ErrCommentNotFound)
}
