package retrieval

import (
	"context"
	"sort"
	"sync"
)

// rrfK is the standard reciprocal-rank-fusion smoothing constant.
const rrfK = 60

// Reranker narrows a merged candidate list down to the top-M results with a
// (typically cross-encoder) scoring pass. M<K per §4.4.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []Document, m int) ([]Document, error)
}

// HybridRetriever merges dense results from an external Retriever with
// sparse BM25 results from a per-case index, by reciprocal-rank fusion, and
// optionally reranks the merged set.
type HybridRetriever struct {
	dense    Retriever
	reranker Reranker

	mu      sync.Mutex
	indices map[string]*BM25Index
	builds  map[string]*sync.Once
}

// NewHybridRetriever wires a dense retriever and an optional reranker
// (nil disables reranking).
func NewHybridRetriever(dense Retriever, reranker Reranker) *HybridRetriever {
	return &HybridRetriever{
		dense:    dense,
		reranker: reranker,
		indices:  make(map[string]*BM25Index),
		builds:   make(map[string]*sync.Once),
	}
}

// indexFor returns the BM25 index for a case, building it at most once even
// under concurrent callers (the per-case single-flight guard from §5).
func (h *HybridRetriever) indexFor(caseID string, build func(*BM25Index)) *BM25Index {
	h.mu.Lock()
	idx, ok := h.indices[caseID]
	if !ok {
		idx = NewBM25Index()
		h.indices[caseID] = idx
	}
	once, ok := h.builds[caseID]
	if !ok {
		once = &sync.Once{}
		h.builds[caseID] = once
	}
	h.mu.Unlock()

	once.Do(func() { build(idx) })
	return idx
}

// Retrieve runs dense + sparse retrieval and fuses them by RRF, then applies
// the reranker if configured. buildIndex is called at most once per case to
// populate the BM25 index (typically from the same corpus the dense
// retriever draws from); pass a no-op if the index is pre-populated.
func (h *HybridRetriever) Retrieve(ctx context.Context, caseID, query string, k int, filters Filters, buildIndex func(*BM25Index)) ([]Document, error) {
	dense, err := h.dense.Retrieve(ctx, caseID, query, k, StrategyHybrid, filters)
	if err != nil {
		return nil, err
	}

	idx := h.indexFor(caseID, buildIndex)
	sparse := idx.Search(query, k)

	merged := reciprocalRankFusion(dense, sparse, k)

	if h.reranker != nil && len(merged) > 0 {
		m := k
		if m > len(merged) {
			m = len(merged)
		}
		reranked, err := h.reranker.Rerank(ctx, query, merged, m)
		if err != nil {
			return merged, nil // rerank is best-effort; fall back to the fused set
		}
		return reranked, nil
	}

	return merged, nil
}

// reciprocalRankFusion combines two ranked lists into one, scoring each
// document by the sum of 1/(rrfK+rank) across the lists it appears in
// (matched by Content, since dense/sparse results don't share an id space).
func reciprocalRankFusion(dense, sparse []Document, k int) []Document {
	scores := make(map[string]float64)
	byContent := make(map[string]Document)

	add := func(docs []Document) {
		for rank, d := range docs {
			scores[d.Content] += 1.0 / float64(rrfK+rank+1)
			if _, ok := byContent[d.Content]; !ok {
				byContent[d.Content] = d
			}
		}
	}
	add(dense)
	add(sparse)

	merged := make([]Document, 0, len(byContent))
	for content, d := range byContent {
		d.Score = scores[content]
		merged = append(merged, d)
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })

	if k > 0 && k < len(merged) {
		merged = merged[:k]
	}
	return merged
}
