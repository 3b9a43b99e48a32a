package middleware

import (
	"context"

	"github.com/sobrief/orchestrator/pkg/agentkind"
	"github.com/sobrief/orchestrator/pkg/state"
	"github.com/sobrief/orchestrator/pkg/tokencount"
)

// ContextSizeThreshold and DocumentCountThreshold are the cascade's
// numeric cutoffs, grounded on model_selector.py's CONTEXT_SIZE_THRESHOLD
// and DOCUMENT_COUNT_THRESHOLD.
const (
	ContextSizeThreshold  = 50000
	DocumentCountThreshold = 20
)

type tierContextKey struct{}

// WithTier stashes the selected model tier into ctx for this one agent
// invocation — request-scoped metadata (like a deadline), not mutable
// application state, so context.Value is the right carrier here.
func WithTier(ctx context.Context, tier agentkind.Tier) context.Context {
	return context.WithValue(ctx, tierContextKey{}, tier)
}

// TierFromContext retrieves a tier set by WithTier, defaulting to pro if
// none was set (the cascade's final fallback).
func TierFromContext(ctx context.Context) agentkind.Tier {
	if t, ok := ctx.Value(tierContextKey{}).(agentkind.Tier); ok {
		return t
	}
	return agentkind.TierPro
}

// ModelTierSelector implements the model-tier cascade, grounded on
// model_selector.py's ModelSelector.select_model: declared per-kind tier
// first, then context size, then document count, then task complexity,
// defaulting to pro when nothing else decides.
type ModelTierSelector struct {
	registry *agentkind.Registry
	counter  *tokencount.TokenCounter
}

// NewModelTierSelector builds a selector backed by the agent-kind registry
// (for each kind's declared default tier) and a token counter (to estimate
// context size in step 2 of the cascade).
func NewModelTierSelector(registry *agentkind.Registry, counter *tokencount.TokenCounter) *ModelTierSelector {
	return &ModelTierSelector{registry: registry, counter: counter}
}

// Select runs the cascade for one agent invocation. documentCount is the
// number of source documents available to this case; contextText is the
// prompt context about to be sent, used only for the token-size check.
// The declared tier is a baseline; (b)-(d) only ever escalate lite→pro,
// never downgrade — an agent declared pro stays pro regardless of context
// size or complexity.
func (m *ModelTierSelector) Select(kind agentkind.Kind, s *state.AnalysisState, contextText string, documentCount int) agentkind.Tier {
	// (a) Declared per-agent-kind tier, defaulting to pro when the kind
	// isn't in the registry at all (step 5's "default pro when uncertain").
	tier := agentkind.TierPro
	if decl, ok := m.registry.Get(string(kind)); ok && decl.Tier != "" {
		tier = decl.Tier
	}
	if tier == agentkind.TierPro {
		return tier
	}

	// (b) Context size.
	if m.counter != nil && contextText != "" && m.counter.Count(contextText) > ContextSizeThreshold {
		return agentkind.TierPro
	}

	// (c) Document count.
	if documentCount > DocumentCountThreshold {
		return agentkind.TierPro
	}

	// (d) Task complexity.
	if s.Understanding.Complexity == state.ComplexityHigh {
		return agentkind.TierPro
	}

	return agentkind.TierLite
}

// ModelTierSelection returns a Middleware that resolves the tier for each
// invocation and makes it available to the wrapped Runner via context. A
// tier the caller already placed on ctx with WithTier is kept as-is. No
// prompt context text is passed to Select here, so the context-size check
// (b) does not apply on this path.
func ModelTierSelection(selector *ModelTierSelector, documentCount int) Middleware {
	return func(next Runner) Runner {
		return func(ctx context.Context, kind agentkind.Kind, s *state.AnalysisState) (*state.ResultSlot, error) {
			if _, ok := ctx.Value(tierContextKey{}).(agentkind.Tier); ok {
				return next(ctx, kind, s)
			}
			tier := selector.Select(kind, s, "", documentCount)
			return next(WithTier(ctx, tier), kind, s)
		}
	}
}
