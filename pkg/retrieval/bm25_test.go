package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBM25Index_RanksMoreRelevantDocHigher(t *testing.T) {
	idx := NewBM25Index()
	idx.Add("d1", "the lease agreement includes a termination clause", nil)
	idx.Add("d2", "termination clause termination rights termination date", nil)
	idx.Add("d3", "unrelated document about office supplies", nil)

	results := idx.Search("termination clause", 2)

	assert.Len(t, results, 2)
	assert.Equal(t, "termination clause termination rights termination date", results[0].Content)
}

func TestBM25Index_EmptyIndexReturnsNil(t *testing.T) {
	idx := NewBM25Index()
	assert.Nil(t, idx.Search("anything", 5))
}

func TestBM25Index_NoMatchingTerms(t *testing.T) {
	idx := NewBM25Index()
	idx.Add("d1", "completely different content", nil)

	results := idx.Search("zzzznomatch", 5)
	assert.Empty(t, results)
}
