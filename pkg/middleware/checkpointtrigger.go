package middleware

import (
	"context"
	"time"

	"github.com/sobrief/orchestrator/pkg/agentkind"
	"github.com/sobrief/orchestrator/pkg/checkpoint"
	"github.com/sobrief/orchestrator/pkg/state"
)

// CheckpointManager is the subset of *checkpoint.Manager this middleware
// needs, narrowed so tests can fake it.
type CheckpointManager interface {
	IsEnabled() bool
	Save(ctx context.Context, s *state.AnalysisState, t checkpoint.Type) error
	ShouldCheckpointInterval(caseID string, fallbackSinceLast time.Duration) bool
	IsLongOperation(elapsed time.Duration) bool
}

var _ CheckpointManager = (*checkpoint.Manager)(nil)

// CheckpointTrigger wraps a Runner so a checkpoint is saved after every
// invocation that completes an interval boundary or that ran long enough to
// count as a long operation, and unconditionally after any invocation that
// returns an error (checkpoint.TypeError) so a failed run can be resumed
// from its last-known-good state.
func CheckpointTrigger(mgr CheckpointManager) Middleware {
	return func(next Runner) Runner {
		return func(ctx context.Context, kind agentkind.Kind, s *state.AnalysisState) (*state.ResultSlot, error) {
			if !mgr.IsEnabled() {
				return next(ctx, kind, s)
			}

			start := time.Now()
			slot, err := next(ctx, kind, s)
			elapsed := time.Since(start)

			switch {
			case err != nil:
				_ = mgr.Save(ctx, s, checkpoint.TypeError)
			case mgr.IsLongOperation(elapsed):
				_ = mgr.Save(ctx, s, checkpoint.TypeLongOperation)
			case mgr.ShouldCheckpointInterval(s.CaseID, elapsed):
				_ = mgr.Save(ctx, s, checkpoint.TypeInterval)
			}

			return slot, err
		}
	}
}
