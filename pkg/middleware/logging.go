package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/sobrief/orchestrator/pkg/agentkind"
	"github.com/sobrief/orchestrator/pkg/logger"
	"github.com/sobrief/orchestrator/pkg/state"
)

// Logging wraps a Runner with structured start/finish log lines via the
// shared slog logger, mirroring the teacher's request-scoped logging in
// pkg/ratelimit/middleware.go (log the route, duration, and outcome of
// every wrapped call). A nil log falls back to logger.GetLogger().
func Logging(log *slog.Logger) Middleware {
	return func(next Runner) Runner {
		return func(ctx context.Context, kind agentkind.Kind, s *state.AnalysisState) (*state.ResultSlot, error) {
			l := log
			if l == nil {
				l = logger.ForRun(s.CaseID, s.RunID)
			} else {
				l = l.With("case_id", s.CaseID, "run_id", s.RunID)
			}
			l = l.With("agent_kind", string(kind), "tier", string(TierFromContext(ctx)))

			l.Debug("agent invocation started")
			start := time.Now()
			slot, err := next(ctx, kind, s)
			elapsed := time.Since(start)

			if err != nil {
				l.Error("agent invocation failed", "duration", elapsed, "error", err)
				return slot, err
			}
			l.Info("agent invocation completed", "duration", elapsed)
			return slot, nil
		}
	}
}
