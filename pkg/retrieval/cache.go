package retrieval

import (
	"context"
	"strings"

	"github.com/sobrief/orchestrator/pkg/cache"
)

// CachedRetriever wraps a Retriever with the retrieval half of C2: results
// are memoized by RetrievalFingerprint (case_id, normalized_query, k,
// strategy, doc_types_sorted) in the shared result cache (C1), avoiding a
// repeat call to the external service within the cache's TTL.
type CachedRetriever struct {
	inner Retriever
	cache *cache.Cache
}

// NewCachedRetriever wraps inner with c for fingerprinted memoization.
func NewCachedRetriever(inner Retriever, c *cache.Cache) *CachedRetriever {
	return &CachedRetriever{inner: inner, cache: c}
}

// Retrieve returns the cached result for this fingerprint if present and
// unexpired, else calls through to inner and populates the cache.
func (r *CachedRetriever) Retrieve(ctx context.Context, caseID, query string, k int, strategy Strategy, filters Filters) ([]Document, error) {
	key := cache.Fingerprint(map[string]any{
		"case_id":  caseID,
		"query":    normalizeQuery(query),
		"k":        k,
		"strategy": string(strategy),
		"filters":  filters,
	})

	if cached, ok := r.cache.Get(key); ok {
		if docs, ok := cached.([]Document); ok {
			return docs, nil
		}
	}

	docs, err := r.inner.Retrieve(ctx, caseID, query, k, strategy, filters)
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, caseID, "retrieval", docs)
	return docs, nil
}

// normalizeQuery makes fingerprinting whitespace/case-insensitive so "Key
// Dates" and "key dates " hash identically.
func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}
