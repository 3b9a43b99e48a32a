package agentruntime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sobrief/orchestrator/pkg/agentkind"
	"github.com/sobrief/orchestrator/pkg/cache"
	"github.com/sobrief/orchestrator/pkg/event"
	"github.com/sobrief/orchestrator/pkg/faultpolicy"
	"github.com/sobrief/orchestrator/pkg/llm"
	"github.com/sobrief/orchestrator/pkg/retrieval"
	"github.com/sobrief/orchestrator/pkg/state"
)

type fakeRetriever struct {
	docs []retrieval.Document
	err  error
	n    int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, caseID, query string, k int, strategy retrieval.Strategy, filters retrieval.Filters) ([]retrieval.Document, error) {
	f.n++
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

type fakeLLM struct {
	responses []llm.Response
	errs      []error
	calls     int
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return llm.Response{}, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func (f *fakeLLM) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

type fakeStore struct {
	puts map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{puts: make(map[string][]byte)} }

func (f *fakeStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	f.puts[namespace+"/"+key] = value
	return nil
}

func newTestRuntime(t *testing.T, llmClient llm.Client, retr retrieval.Retriever, st Store) *Runtime {
	t.Helper()
	reg, err := agentkind.NewRegistry()
	require.NoError(t, err)
	rt := New(Config{
		Registry:   reg,
		Cache:      cache.New(time.Minute, 10),
		Retriever:  retr,
		LLM:        llmClient,
		Store:      st,
		RetrievalK: 4,
	})
	for _, spec := range AllSpecs() {
		rt.Register(spec)
	}
	return rt
}

func newState() *state.AnalysisState {
	return state.New("case-1", "user-1", "run-1", []string{"timeline"})
}

func TestExecute_RejectsWhenDependenciesNotSatisfied(t *testing.T) {
	rt := newTestRuntime(t, &fakeLLM{}, &fakeRetriever{}, newFakeStore())
	s := newState()
	// risk depends on discrepancy, which has not run.
	_, err := rt.Execute(context.Background(), agentkind.Risk, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDependenciesNotSatisfied)
}

func TestExecute_UnregisteredKindReturnsErrNoSpec(t *testing.T) {
	reg, err := agentkind.NewRegistry()
	require.NoError(t, err)
	rt := New(Config{Registry: reg, Cache: cache.New(time.Minute, 10), Retriever: &fakeRetriever{}, LLM: &fakeLLM{}, Store: newFakeStore()})
	_, err = rt.Execute(context.Background(), agentkind.Timeline, newState())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSpec)
}

func TestExecute_CacheHitSkipsLLMCall(t *testing.T) {
	retr := &fakeRetriever{docs: []retrieval.Document{{Content: "doc text", Metadata: map[string]any{"name": "a.pdf", "page": 1}}}}
	llmClient := &fakeLLM{responses: []llm.Response{{
		ToolCalls: []llm.ToolCall{{Name: "emit_timeline_result", Arguments: map[string]any{
			"events": []any{map[string]any{"date": "2021-01-01", "text": "signed", "source": "a.pdf"}},
		}}},
	}}}
	rt := newTestRuntime(t, llmClient, retr, newFakeStore())
	s := newState()

	slot1, err := rt.Execute(context.Background(), agentkind.Timeline, s)
	require.NoError(t, err)
	require.False(t, slot1.IsEmpty())
	require.Equal(t, 1, llmClient.calls)

	slot2, err := rt.Execute(context.Background(), agentkind.Timeline, s)
	require.NoError(t, err)
	assert.Equal(t, 1, llmClient.calls, "second call should be served from cache, not re-invoke the LLM")
	assert.Equal(t, slot1.Inline, slot2.Inline)
}

func TestExecute_RetrievalErrorPropagates(t *testing.T) {
	retr := &fakeRetriever{err: assertErr("retrieval down")}
	rt := newTestRuntime(t, &fakeLLM{}, retr, newFakeStore())
	_, err := rt.Execute(context.Background(), agentkind.Timeline, newState())
	require.Error(t, err)
}

func TestExecute_ParseFailureRetriesOnceThenSucceeds(t *testing.T) {
	llmClient := &fakeLLM{responses: []llm.Response{
		{Text: "not json"},
		{ToolCalls: []llm.ToolCall{{Name: "emit_timeline_result", Arguments: map[string]any{
			"events": []any{map[string]any{"date": "2021-01-01", "text": "signed", "source": "a.pdf"}},
		}}}},
	}}
	rt := newTestRuntime(t, llmClient, &fakeRetriever{}, newFakeStore())
	slot, err := rt.Execute(context.Background(), agentkind.Timeline, newState())
	require.NoError(t, err)
	require.False(t, slot.IsEmpty())
	assert.Equal(t, 2, llmClient.calls)
}

func TestExecute_ParseFailureTwiceProducesPartialResultAndErrorEntry(t *testing.T) {
	llmClient := &fakeLLM{responses: []llm.Response{{Text: "not json"}, {Text: "still not json"}}}
	rt := newTestRuntime(t, llmClient, &fakeRetriever{}, newFakeStore())
	s := newState()
	slot, err := rt.Execute(context.Background(), agentkind.Timeline, s)
	require.NoError(t, err)
	require.NotNil(t, slot.Inline)
	assert.Equal(t, true, slot.Inline["partial"])
	require.Len(t, s.Errors, 1)
	assert.Equal(t, "validation_error", s.Errors[0].Kind)
}

func TestExecute_PostValidationFailureFailsStepAndRecordsPartialResult(t *testing.T) {
	// risk level outside the enum fails Validate; per the error-classifier
	// table this fails the step outright (no retry) rather than completing
	// it, while still recording the partial output and the error entry.
	llmClient := &fakeLLM{responses: []llm.Response{{
		ToolCalls: []llm.ToolCall{{Name: "emit_risk_result", Arguments: map[string]any{
			"risks": []any{map[string]any{"text": "exposure", "level": "extreme"}},
		}}},
	}}}
	rt := newTestRuntime(t, llmClient, &fakeRetriever{}, newFakeStore())
	s := newState()
	s.Results["discrepancy"] = state.InlineResult(map[string]any{"items": []any{}})

	slot, err := rt.Execute(context.Background(), agentkind.Risk, s)
	require.Error(t, err)
	var ke *faultpolicy.KindError
	require.ErrorAs(t, err, &ke)
	assert.Equal(t, faultpolicy.KindValidationError, ke.Kind)
	require.NotNil(t, slot)
	assert.Equal(t, true, slot.Inline["partial"])
	require.Len(t, s.Errors, 1)
	assert.Equal(t, "validation_error", s.Errors[0].Kind)
}

func TestExecute_LargeResultIsOffloadedToStore(t *testing.T) {
	events := make([]any, 0, 150)
	for i := 0; i < 150; i++ {
		events = append(events, map[string]any{"date": "2021-01-01", "text": "event", "source": "a.pdf"})
	}
	llmClient := &fakeLLM{responses: []llm.Response{{
		ToolCalls: []llm.ToolCall{{Name: "emit_timeline_result", Arguments: map[string]any{"events": events}}},
	}}}
	st := newFakeStore()
	rt := newTestRuntime(t, llmClient, &fakeRetriever{}, st)
	s := newState()

	slot, err := rt.Execute(context.Background(), agentkind.Timeline, s)
	require.NoError(t, err)
	require.True(t, slot.IsRef())
	assert.Equal(t, 150, slot.Ref.Count)
	assert.NotEmpty(t, st.puts)
}

func TestExecute_SmallResultStaysInline(t *testing.T) {
	llmClient := &fakeLLM{responses: []llm.Response{{
		ToolCalls: []llm.ToolCall{{Name: "emit_timeline_result", Arguments: map[string]any{
			"events": []any{map[string]any{"date": "2021-01-01", "text": "signed", "source": "a.pdf"}},
		}}},
	}}}
	st := newFakeStore()
	rt := newTestRuntime(t, llmClient, &fakeRetriever{}, st)
	slot, err := rt.Execute(context.Background(), agentkind.Timeline, newState())
	require.NoError(t, err)
	require.False(t, slot.IsRef())
	assert.Empty(t, st.puts)
}

func TestExecute_EmitsStartedAndCompletedEvents(t *testing.T) {
	llmClient := &fakeLLM{responses: []llm.Response{{
		ToolCalls: []llm.ToolCall{{Name: "emit_timeline_result", Arguments: map[string]any{
			"events": []any{map[string]any{"date": "2021-01-01", "text": "signed", "source": "a.pdf"}},
		}}},
	}}}
	var events []event.Event
	reg, _ := agentkind.NewRegistry()
	rt := New(Config{
		Registry:  reg,
		Cache:     cache.New(time.Minute, 10),
		Retriever: &fakeRetriever{},
		LLM:       llmClient,
		Store:     newFakeStore(),
		Emit:      func(e event.Event) { events = append(events, e) },
	})
	for _, spec := range AllSpecs() {
		rt.Register(spec)
	}

	_, err := rt.Execute(context.Background(), agentkind.Timeline, newState())
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, event.TypeStepStarted, events[0].Type)
	assert.Equal(t, event.TypeStepCompleted, events[1].Type)
	assert.Contains(t, events[1].Summary, "item(s) produced")
}

func TestSetDocumentSetHash_InvalidatesCache(t *testing.T) {
	llmClient := &fakeLLM{responses: []llm.Response{{
		ToolCalls: []llm.ToolCall{{Name: "emit_timeline_result", Arguments: map[string]any{
			"events": []any{map[string]any{"date": "2021-01-01", "text": "signed", "source": "a.pdf"}},
		}}},
	}}}
	rt := newTestRuntime(t, llmClient, &fakeRetriever{}, newFakeStore())
	s := newState()

	_, err := rt.Execute(context.Background(), agentkind.Timeline, s)
	require.NoError(t, err)
	require.Equal(t, 1, llmClient.calls)

	rt.SetDocumentSetHash(s.CaseID, "new-document-added")
	_, err = rt.Execute(context.Background(), agentkind.Timeline, s)
	require.NoError(t, err)
	assert.Equal(t, 2, llmClient.calls, "changing the document set hash must miss the cache")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
