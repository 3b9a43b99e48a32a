package tabular

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sobrief/orchestrator/pkg/llm"
	"github.com/sobrief/orchestrator/pkg/retrieval"
)

type fixedRetriever struct {
	docs []retrieval.Document
}

func (f *fixedRetriever) Retrieve(ctx context.Context, caseID, query string, k int, strategy retrieval.Strategy, filters retrieval.Filters) ([]retrieval.Document, error) {
	return f.docs, nil
}

type queuedLLM struct {
	responses []llm.Response
	i         int
}

func (q *queuedLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	r := q.responses[q.i]
	q.i++
	return r, nil
}

func (q *queuedLLM) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
	return nil, nil
}

func toolResponse(value string, confidence float64) llm.Response {
	return llm.Response{ToolCalls: []llm.ToolCall{{
		Name: "extract_cell",
		Arguments: map[string]any{
			"value":      value,
			"confidence": confidence,
		},
	}}}
}

type fakeTabularStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeTabularStore() *fakeTabularStore {
	return &fakeTabularStore{data: make(map[string][]byte)}
}

func (f *fakeTabularStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[namespace+"/"+key] = append([]byte(nil), value...)
	return nil
}

func (f *fakeTabularStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[namespace+"/"+key]
	return v, ok, nil
}

func textColumn(id string) ColumnSpec {
	return ColumnSpec{ColumnID: id, Label: id, Type: ColumnText, Prompt: "extract " + id}
}

func TestValidateColumns_RejectsTagWithoutOptions(t *testing.T) {
	err := ValidateColumns([]ColumnSpec{{ColumnID: "c1", Prompt: "p", Type: ColumnTag}})
	require.Error(t, err)
}

func TestValidateColumns_RejectsEmptyPrompt(t *testing.T) {
	err := ValidateColumns([]ColumnSpec{{ColumnID: "c1", Type: ColumnText}})
	require.Error(t, err)
}

func TestValidateColumns_AcceptsWellFormedSpec(t *testing.T) {
	err := ValidateColumns([]ColumnSpec{textColumn("c1")})
	require.NoError(t, err)
}

func TestEngine_Run_AgreeingCandidatesExtract(t *testing.T) {
	retriever := &fixedRetriever{docs: []retrieval.Document{
		{Content: "doc a"}, {Content: "doc b"},
	}}
	llmClient := &queuedLLM{responses: []llm.Response{
		toolResponse("Acme Corp", 0.9),
		toolResponse("Acme Corp", 0.95),
	}}
	st := newFakeTabularStore()
	engine, err := NewEngine(retriever, llmClient, st, 0.8, true)
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), Review{
		ReviewID: "rev-1", CaseID: "case-1",
		FileIDs: []string{"file-1"},
		Columns: []ColumnSpec{textColumn("party_name")},
	})
	require.NoError(t, err)
	require.False(t, result.Suspended)
	require.Len(t, result.Cells, 1)
	assert.Equal(t, StatusExtracted, result.Cells[0].Status)
	assert.Equal(t, 0.95, result.Cells[0].Confidence)

	_, found, err := st.Get(context.Background(), "tabular/rev-1", "cells")
	require.NoError(t, err)
	assert.True(t, found, "extracted grid must be persisted")
}

func TestEngine_Run_DisagreeingCandidatesConflict(t *testing.T) {
	retriever := &fixedRetriever{docs: []retrieval.Document{
		{Content: "doc a"}, {Content: "doc b"},
	}}
	llmClient := &queuedLLM{responses: []llm.Response{
		toolResponse("Acme Corp", 0.9),
		toolResponse("Acme Industries", 0.85),
	}}
	st := newFakeTabularStore()
	engine, err := NewEngine(retriever, llmClient, st, 0.8, false)
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), Review{
		ReviewID: "rev-2", CaseID: "case-1",
		FileIDs: []string{"file-1"},
		Columns: []ColumnSpec{textColumn("party_name")},
	})
	require.NoError(t, err)
	require.Len(t, result.Cells, 1)
	cell := result.Cells[0]
	assert.Equal(t, StatusConflict, cell.Status)
	assert.Equal(t, 0.85, cell.Confidence)
	assert.ElementsMatch(t, []string{"Acme Corp", "Acme Industries"}, cell.Candidates)
}

func TestEngine_Run_LowConfidenceSuspendsForHITL(t *testing.T) {
	retriever := &fixedRetriever{docs: []retrieval.Document{{Content: "ambiguous doc"}}}
	llmClient := &queuedLLM{responses: []llm.Response{toolResponse("maybe X", 0.6)}}
	st := newFakeTabularStore()
	engine, err := NewEngine(retriever, llmClient, st, 0.8, true)
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), Review{
		ReviewID: "rev-3", CaseID: "case-1",
		FileIDs: []string{"file-1"},
		Columns: []ColumnSpec{textColumn("ambiguous_field")},
	})
	require.NoError(t, err)
	require.True(t, result.Suspended)
	require.NotNil(t, result.PendingFeedback)
	require.Len(t, result.PendingFeedback.Requests, 1)
	assert.Equal(t, CellID("file-1", "ambiguous_field"), result.PendingFeedback.Requests[0].CellID)

	_, found, _ := st.Get(context.Background(), "tabular/rev-3", "cells")
	assert.False(t, found, "suspended run must not persist before resume")
}

func TestEngine_Resume_AppliesManualOverrideAndPersists(t *testing.T) {
	st := newFakeTabularStore()
	engine, err := NewEngine(&fixedRetriever{}, &queuedLLM{}, st, 0.8, true)
	require.NoError(t, err)

	cells := []CellExtraction{{
		ReviewID: "rev-4", FileID: "file-1", ColumnID: "ambiguous_field",
		Value: "maybe X", Confidence: 0.6, Status: StatusConflict,
	}}
	resumed, err := engine.Resume(context.Background(), "rev-4", cells, map[string]ReviewResult{
		CellID("file-1", "ambiguous_field"): {Value: "X", Confirmed: true},
	})
	require.NoError(t, err)
	require.Len(t, resumed, 1)
	assert.Equal(t, StatusManualOverride, resumed[0].Status)
	assert.Equal(t, "X", resumed[0].Value)
	require.Len(t, resumed[0].History, 1)
	assert.Equal(t, "maybe X", resumed[0].History[0].PreviousValue)

	_, found, _ := st.Get(context.Background(), "tabular/rev-4", "cells")
	assert.True(t, found)
}

func TestBuildSnapshot_ProducesNonEmptyWorkbook(t *testing.T) {
	cells := []CellExtraction{{
		FileID: "file-1", ColumnID: "party_name", Value: "Acme Corp", NormalizedValue: "Acme Corp", Status: StatusExtracted, Confidence: 0.9,
	}}
	data, err := BuildSnapshot([]string{"file-1"}, []ColumnSpec{textColumn("party_name")}, cells)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
