// Package retrieval implements the retrieval cache / BM25 sparse index
// (C2): a per-case keyword index combined with dense results from the
// external retrieval service. The retrieval service itself (document
// ingestion, embeddings, vector store) is an external collaborator (§1);
// this package only consumes it through the Retriever contract and adds the
// sparse/hybrid merge layer on top.
package retrieval

import "context"

// Strategy selects how a query is executed, per §6's outbound contract.
type Strategy string

const (
	StrategySimple     Strategy = "simple"
	StrategyMultiQuery Strategy = "multi_query"
	StrategyIterative  Strategy = "iterative"
	StrategyHybrid     Strategy = "hybrid"
)

// Document is one ranked retrieval result.
type Document struct {
	Content  string
	Metadata map[string]any
	Score    float64
}

// Filters narrows retrieval by document attributes (e.g. doc type).
type Filters map[string]any

// Retriever is the external retrieval service contract: `retrieve(case_id,
// query, k, filters) → ranked documents` (§1, §6).
type Retriever interface {
	Retrieve(ctx context.Context, caseID, query string, k int, strategy Strategy, filters Filters) ([]Document, error)
}
