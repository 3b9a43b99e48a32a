package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// No BM25/full-text library is wired anywhere in the reference corpus for
// this module, so the sparse index is hand-rolled here rather than
// delegated to an ecosystem package (see DESIGN.md).

// BM25 tuning constants, standard defaults from the Okapi BM25 formula.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var tokenPattern = regexp.MustCompile(`[A-Za-zА-Яа-я0-9]+`)

func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	return matches
}

// bm25Doc is one indexed document.
type bm25Doc struct {
	id       string
	content  string
	metadata map[string]any
	terms    map[string]int
	length   int
}

// BM25Index is a per-case keyword index. Built once per case on first
// retrieval and read-only thereafter (§5); concurrent Search calls are
// safe while no Add is in flight.
type BM25Index struct {
	mu        sync.RWMutex
	docs      []*bm25Doc
	df        map[string]int // document frequency per term
	totalLen  int
	built     bool
}

// NewBM25Index creates an empty index ready for Add calls.
func NewBM25Index() *BM25Index {
	return &BM25Index{df: make(map[string]int)}
}

// Add indexes one document under the index's write lock, so it is safe to
// call alongside Search; the per-case single-flight build guard makes sure
// construction runs once.
func (idx *BM25Index) Add(id, content string, metadata map[string]any) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	terms := map[string]int{}
	tokens := tokenize(content)
	for _, t := range tokens {
		terms[t]++
	}
	for t := range terms {
		idx.df[t]++
	}

	idx.docs = append(idx.docs, &bm25Doc{
		id:       id,
		content:  content,
		metadata: metadata,
		terms:    terms,
		length:   len(tokens),
	})
	idx.totalLen += len(tokens)
	idx.built = true
}

// Search returns the top-k documents ranked by BM25 score for query.
func (idx *BM25Index) Search(query string, k int) []Document {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.built || len(idx.docs) == 0 {
		return nil
	}

	avgLen := float64(idx.totalLen) / float64(len(idx.docs))
	n := float64(len(idx.docs))
	qTerms := tokenize(query)

	type scored struct {
		doc   *bm25Doc
		score float64
	}
	results := make([]scored, 0, len(idx.docs))

	for _, d := range idx.docs {
		var score float64
		for _, qt := range qTerms {
			tf := float64(d.terms[qt])
			if tf == 0 {
				continue
			}
			df := float64(idx.df[qt])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			denom := tf + bm25K1*(1-bm25B+bm25B*float64(d.length)/avgLen)
			score += idf * (tf * (bm25K1 + 1) / denom)
		}
		if score > 0 {
			results = append(results, scored{doc: d, score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })

	if k > len(results) {
		k = len(results)
	}
	out := make([]Document, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, Document{
			Content:  results[i].doc.content,
			Metadata: results[i].doc.metadata,
			Score:    results[i].score,
		})
	}
	return out
}
