package router

import (
	"context"
	"testing"

	"github.com/sobrief/orchestrator/pkg/agentkind"
	"github.com/sobrief/orchestrator/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	reg, err := agentkind.NewRegistry()
	require.NoError(t, err)
	return New(reg, nil)
}

func TestDecide_DocumentClassifierFirst(t *testing.T) {
	r := newTestRouter(t)
	s := state.New("C1", "U1", "R1", []string{"document_classifier", "privilege_check"})

	tr, err := r.Decide(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, TransitionAgent, tr.Kind)
	assert.Equal(t, "document_classifier", tr.Agent)
}

func TestDecide_ParallelFanoutForTwoOrMoreIndependent(t *testing.T) {
	r := newTestRouter(t)
	s := state.New("C1", "U1", "R1", []string{"timeline", "key_facts", "entity_extraction"})

	tr, err := r.Decide(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, TransitionFanout, tr.Kind)
	assert.ElementsMatch(t, []string{"timeline", "key_facts", "entity_extraction"}, tr.Fanout)
}

func TestDecide_DependencyChainPrioritizesRiskOverSummary(t *testing.T) {
	r := newTestRouter(t)
	s := state.New("C1", "U1", "R1", []string{"risk", "summary"})
	s.SetResult("discrepancy", state.InlineResult(map[string]any{"items": []any{}}))
	s.SetResult("key_facts", state.InlineResult(map[string]any{"items": []any{}}))

	tr, err := r.Decide(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, TransitionAgent, tr.Kind)
	assert.Equal(t, "risk", tr.Agent)
}

func TestDecide_RiskWaitsForDiscrepancy(t *testing.T) {
	r := newTestRouter(t)
	s := state.New("C1", "U1", "R1", []string{"risk"})

	tr, err := r.Decide(context.Background(), s)
	require.NoError(t, err)
	// discrepancy is risk's dependency, but only explicitly-requested kinds
	// are in analysis_types here, so risk is pending and nothing is ready
	// -> the router must still return a legal transition (totality), here
	// Wait since risk's dependency was never requested and can never be
	// satisfied by this router alone.
	assert.Contains(t, []TransitionKind{TransitionEnd, TransitionWait}, tr.Kind)
}

func TestDecide_EndWhenAllCompleted(t *testing.T) {
	r := newTestRouter(t)
	s := state.New("C1", "U1", "R1", []string{"timeline"})
	s.SetResult("timeline", state.InlineResult(map[string]any{"items": []any{}}))

	tr, err := r.Decide(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, TransitionEnd, tr.Kind)
}

func TestDecide_PrivilegeCheckWaitsForFlag(t *testing.T) {
	r := newTestRouter(t)
	s := state.New("C1", "U1", "R1", []string{"document_classifier", "privilege_check"})
	s.SetResult("document_classifier", state.InlineResult(map[string]any{"has_privileged_documents": false}))

	tr, err := r.Decide(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, TransitionEnd, tr.Kind)
}

func TestDecide_PrivilegeCheckRunsWhenFlagged(t *testing.T) {
	r := newTestRouter(t)
	s := state.New("C1", "U1", "R1", []string{"document_classifier", "privilege_check"})
	s.SetResult("document_classifier", state.InlineResult(map[string]any{"has_privileged_documents": true}))

	tr, err := r.Decide(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, TransitionAgent, tr.Kind)
	assert.Equal(t, "privilege_check", tr.Agent)
}
