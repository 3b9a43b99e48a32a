package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sobrief/orchestrator/pkg/agentkind"
	"github.com/sobrief/orchestrator/pkg/checkpoint"
	"github.com/sobrief/orchestrator/pkg/state"
)

func newTestState() *state.AnalysisState {
	return state.New("case-1", "user-1", "run-1", []string{"privilege_review"})
}

func TestChain_OrdersOutermostFirst(t *testing.T) {
	var order []string
	trace := func(name string) Middleware {
		return func(next Runner) Runner {
			return func(ctx context.Context, kind agentkind.Kind, s *state.AnalysisState) (*state.ResultSlot, error) {
				order = append(order, name+":before")
				slot, err := next(ctx, kind, s)
				order = append(order, name+":after")
				return slot, err
			}
		}
	}

	final := func(ctx context.Context, kind agentkind.Kind, s *state.AnalysisState) (*state.ResultSlot, error) {
		order = append(order, "final")
		return state.InlineResult(map[string]any{"ok": true}), nil
	}

	chained := Chain(trace("a"), trace("b"))(final)
	_, err := chained(context.Background(), agentkind.KeyFacts, newTestState())
	require.NoError(t, err)

	assert.Equal(t, []string{"a:before", "b:before", "final", "b:after", "a:after"}, order)
}

func TestPIIRedaction_MasksEmailAndPhone(t *testing.T) {
	final := func(ctx context.Context, kind agentkind.Kind, s *state.AnalysisState) (*state.ResultSlot, error) {
		return state.InlineResult(map[string]any{
			"summary": "Contact jane.doe@example.com or 555-123-4567 for details.",
			"nested":  map[string]any{"note": "email jane.doe@example.com again"},
		}), nil
	}

	wrapped := PIIRedaction(NewRedactor())(final)
	slot, err := wrapped(context.Background(), agentkind.Summary, newTestState())
	require.NoError(t, err)

	assert.NotContains(t, slot.Inline["summary"], "jane.doe@example.com")
	assert.NotContains(t, slot.Inline["summary"], "555-123-4567")
	nested := slot.Inline["nested"].(map[string]any)
	assert.NotContains(t, nested["note"], "jane.doe@example.com")
}

func TestPIIRedaction_IdempotentOnRedactedText(t *testing.T) {
	r := NewRedactor()
	once := r.RedactText("reach me at jane.doe@example.com or 555-123-4567")
	twice := r.RedactText(once)
	assert.Equal(t, once, twice)
}

func TestModelTierSelector_DeclaredProNeverDowngrades(t *testing.T) {
	registry, err := agentkind.NewRegistry()
	require.NoError(t, err)

	selector := NewModelTierSelector(registry, nil)
	s := newTestState()
	s.Understanding.Complexity = state.ComplexitySimple

	tier := selector.Select(agentkind.Discrepancy, s, "", 1)
	assert.Equal(t, agentkind.TierPro, tier)
}

func TestModelTierSelector_EscalatesLiteOnHighComplexity(t *testing.T) {
	registry, err := agentkind.NewRegistry()
	require.NoError(t, err)

	selector := NewModelTierSelector(registry, nil)
	s := newTestState()
	s.Understanding.Complexity = state.ComplexityHigh

	tier := selector.Select(agentkind.DocumentClassifier, s, "", 1)
	assert.Equal(t, agentkind.TierPro, tier, "declared-lite kind must escalate under high complexity")
}

func TestModelTierSelector_EscalatesLiteOnDocumentCount(t *testing.T) {
	registry, err := agentkind.NewRegistry()
	require.NoError(t, err)

	selector := NewModelTierSelector(registry, nil)
	s := newTestState()

	tier := selector.Select(agentkind.EntityExtraction, s, "", DocumentCountThreshold+1)
	assert.Equal(t, agentkind.TierPro, tier)
}

func TestModelTierSelector_StaysLiteWhenNoTriggerFires(t *testing.T) {
	registry, err := agentkind.NewRegistry()
	require.NoError(t, err)

	selector := NewModelTierSelector(registry, nil)
	s := newTestState()
	s.Understanding.Complexity = state.ComplexitySimple

	tier := selector.Select(agentkind.Timeline, s, "", 1)
	assert.Equal(t, agentkind.TierLite, tier)
}

func TestTierContext_RoundtripsAndDefaultsToPro(t *testing.T) {
	assert.Equal(t, agentkind.TierPro, TierFromContext(context.Background()))

	ctx := WithTier(context.Background(), agentkind.TierLite)
	assert.Equal(t, agentkind.TierLite, TierFromContext(ctx))
}

type fakeCheckpointManager struct {
	enabled       bool
	savedTypes    []checkpoint.Type
	intervalDue   bool
	longOperation bool
}

func (f *fakeCheckpointManager) IsEnabled() bool { return f.enabled }

func (f *fakeCheckpointManager) Save(ctx context.Context, s *state.AnalysisState, t checkpoint.Type) error {
	f.savedTypes = append(f.savedTypes, t)
	return nil
}

func (f *fakeCheckpointManager) ShouldCheckpointInterval(caseID string, fallback time.Duration) bool {
	return f.intervalDue
}

func (f *fakeCheckpointManager) IsLongOperation(elapsed time.Duration) bool {
	return f.longOperation
}

func TestCheckpointTrigger_SavesOnError(t *testing.T) {
	mgr := &fakeCheckpointManager{enabled: true}
	final := func(ctx context.Context, kind agentkind.Kind, s *state.AnalysisState) (*state.ResultSlot, error) {
		return nil, errors.New("boom")
	}

	wrapped := CheckpointTrigger(mgr)(final)
	_, err := wrapped(context.Background(), agentkind.Risk, newTestState())

	require.Error(t, err)
	require.Len(t, mgr.savedTypes, 1)
	assert.Equal(t, checkpoint.TypeError, mgr.savedTypes[0])
}

func TestCheckpointTrigger_SavesOnLongOperation(t *testing.T) {
	mgr := &fakeCheckpointManager{enabled: true, longOperation: true}
	final := func(ctx context.Context, kind agentkind.Kind, s *state.AnalysisState) (*state.ResultSlot, error) {
		return state.InlineResult(map[string]any{}), nil
	}

	wrapped := CheckpointTrigger(mgr)(final)
	_, err := wrapped(context.Background(), agentkind.DeepReason, newTestState())

	require.NoError(t, err)
	require.Len(t, mgr.savedTypes, 1)
	assert.Equal(t, checkpoint.TypeLongOperation, mgr.savedTypes[0])
}

func TestCheckpointTrigger_SkipsWhenDisabled(t *testing.T) {
	mgr := &fakeCheckpointManager{enabled: false}
	final := func(ctx context.Context, kind agentkind.Kind, s *state.AnalysisState) (*state.ResultSlot, error) {
		return nil, errors.New("boom")
	}

	wrapped := CheckpointTrigger(mgr)(final)
	_, _ = wrapped(context.Background(), agentkind.Risk, newTestState())

	assert.Empty(t, mgr.savedTypes)
}

func TestMonitoring_RecordsCallsAndErrors(t *testing.T) {
	m := NewMonitor("test")

	ok := func(ctx context.Context, kind agentkind.Kind, s *state.AnalysisState) (*state.ResultSlot, error) {
		return state.InlineResult(map[string]any{}), nil
	}
	failing := func(ctx context.Context, kind agentkind.Kind, s *state.AnalysisState) (*state.ResultSlot, error) {
		return nil, errors.New("boom")
	}

	_, err := Monitoring(m)(ok)(context.Background(), agentkind.KeyFacts, newTestState())
	require.NoError(t, err)

	_, err = Monitoring(m)(failing)(context.Background(), agentkind.KeyFacts, newTestState())
	require.Error(t, err)

	metricFamilies, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, metricFamilies)
}
