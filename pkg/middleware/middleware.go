// Package middleware implements the agent-run middleware chain (C7): PII
// redaction, model-tier selection, monitoring, checkpoint triggering, and
// structured logging wrapped around every agent invocation. Grounded on
// the teacher's `func(http.Handler) http.Handler` decorator pattern
// (pkg/ratelimit/middleware.go, pkg/auth/middleware.go), generalized from
// HTTP handlers to a single agent-kind invocation.
package middleware

import (
	"context"

	"github.com/sobrief/orchestrator/pkg/agentkind"
	"github.com/sobrief/orchestrator/pkg/state"
)

// Runner executes one agent kind against state and returns its result.
// Unlike scheduler.AgentRunner (ctx plus a kind string), it takes a typed
// agentkind.Kind and the state; the orchestrator adapts between the two, so
// this package does not import scheduler.
type Runner func(ctx context.Context, kind agentkind.Kind, s *state.AnalysisState) (*state.ResultSlot, error)

// Middleware wraps a Runner with cross-cutting behavior, exactly like an
// http.Handler decorator.
type Middleware func(next Runner) Runner

// Chain composes middlewares so the first one listed runs outermost (its
// before-code runs first, its after-code runs last) — the same ordering
// convention as net/http middleware chains.
func Chain(mws ...Middleware) Middleware {
	return func(final Runner) Runner {
		r := final
		for i := len(mws) - 1; i >= 0; i-- {
			r = mws[i](r)
		}
		return r
	}
}
