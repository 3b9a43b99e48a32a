package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDense struct {
	docs []Document
}

func (f *fakeDense) Retrieve(ctx context.Context, caseID, query string, k int, strategy Strategy, filters Filters) ([]Document, error) {
	return f.docs, nil
}

func TestReciprocalRankFusion_PrefersDocsRankedHighInBoth(t *testing.T) {
	dense := []Document{{Content: "a"}, {Content: "b"}, {Content: "c"}}
	sparse := []Document{{Content: "b"}, {Content: "c"}, {Content: "a"}}

	merged := reciprocalRankFusion(dense, sparse, 3)

	require.Len(t, merged, 3)
	// "b" is rank0 in sparse and rank1 in dense -> should score competitively
	found := map[string]bool{}
	for _, d := range merged {
		found[d.Content] = true
	}
	assert.True(t, found["a"])
	assert.True(t, found["b"])
	assert.True(t, found["c"])
}

func TestHybridRetriever_BuildsIndexOnlyOnce(t *testing.T) {
	dense := &fakeDense{docs: []Document{{Content: "lease termination clause"}}}
	h := NewHybridRetriever(dense, nil)

	calls := 0
	build := func(idx *BM25Index) {
		calls++
		idx.Add("d1", "lease termination clause", nil)
	}

	_, err := h.Retrieve(context.Background(), "C1", "termination", 5, nil, build)
	require.NoError(t, err)
	_, err = h.Retrieve(context.Background(), "C1", "termination", 5, nil, build)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "BM25 index must be built once per case")
}
