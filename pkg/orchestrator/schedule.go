package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sobrief/orchestrator/pkg/agentkind"
	"github.com/sobrief/orchestrator/pkg/event"
	"github.com/sobrief/orchestrator/pkg/faultpolicy"
	"github.com/sobrief/orchestrator/pkg/middleware"
	"github.com/sobrief/orchestrator/pkg/router"
	"github.com/sobrief/orchestrator/pkg/state"
)

// scheduleLoop repeatedly asks the router for the next transition and
// drives it until the router returns End or Wait (the latter meaning
// nothing is ready and this orchestrator, being synchronous, cannot make
// further progress without a human or external event). Router errors,
// context cancellation, and a *scheduler.FatalError from a fan-out
// propagate; any other agent error (an untagged one, such as
// agentruntime.ErrDependenciesNotSatisfied, is classified llm_error by
// classifyFailure) is resolved to a done, skipped, or failed PlanStep by
// runStep/runFanout and the loop continues.
func (o *Orchestrator) scheduleLoop(ctx context.Context, s *state.AnalysisState, emit func(*event.Event) bool) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if o.cfg.Compactor != nil {
			if should, err := o.cfg.Compactor.ShouldCompact(s); err == nil && should {
				if cErr := o.cfg.Compactor.Compact(ctx, s); cErr != nil {
					o.log.Warn("compaction failed", "case_id", s.CaseID, "error", cErr)
				}
			}
		}

		t, err := o.cfg.Router.Decide(ctx, s)
		if err != nil {
			return fmt.Errorf("orchestrator: route: %w", err)
		}

		switch t.Kind {
		case router.TransitionEnd, router.TransitionWait:
			return nil
		case router.TransitionAgent:
			if err := o.runStep(ctx, s, t.Agent, emit); err != nil {
				return err
			}
		case router.TransitionFanout:
			if err := o.runFanout(ctx, s, t.Fanout, emit); err != nil {
				return err
			}
		default:
			return fmt.Errorf("orchestrator: unknown transition kind %q", t.Kind)
		}
	}
}

// runStep runs one agent kind to a terminal PlanStep outcome (done,
// skipped, or failed), retrying per faultpolicy.Decide in between.
func (o *Orchestrator) runStep(ctx context.Context, s *state.AnalysisState, kind string, emit func(*event.Event) bool) error {
	step := o.findStep(s, kind)
	step.Transition(state.StepRunning)
	if !emit(&event.Event{Type: event.TypeStepStarted, Agent: kind, StepID: step.StepID}) {
		return context.Canceled
	}
	return o.runStepLoop(ctx, s, step, emit)
}

// runStepLoop is runStep's body, factored out so fanout retries (which
// already emitted step_started during the fan-out) can reenter it without
// a duplicate start event.
func (o *Orchestrator) runStepLoop(ctx context.Context, s *state.AnalysisState, step *state.PlanStep, emit func(*event.Event) bool) error {
	kind := step.AgentKind
	start := time.Now()

	for {
		stepCtx := ctx
		if tier, ok := step.Hints["model_tier_override"].(string); ok && tier == "pro" {
			stepCtx = middleware.WithTier(ctx, agentkind.TierPro)
		}

		slot, err := o.cfg.Runner(stepCtx, agentkind.Kind(kind), s)
		if err == nil {
			s.SetResult(kind, slot)
			step.Transition(state.StepDone)
			s.MarkCompleted(step.StepID)
			summary := ""
			if slot != nil {
				summary = slot.Summary
			}
			if !emit(&event.Event{
				Type:      event.TypeStepCompleted,
				Agent:     kind,
				StepID:    step.StepID,
				ElapsedMs: time.Since(start).Milliseconds(),
				Summary:   summary,
			}) {
				return context.Canceled
			}
			return nil
		}

		errKind := classifyFailure(err)
		s.AddError(state.ErrorEntry{Agent: kind, Kind: string(errKind), Message: err.Error(), RetryCount: step.Retries})
		decision := faultpolicy.Decide(errKind, step.Retries)

		switch decision.Strategy {
		case faultpolicy.StrategyRetry:
			step.Retries++
			if !sleepOrDone(ctx, decision.Delay) {
				return ctx.Err()
			}
			continue
		case faultpolicy.StrategyFallbackNoTools, faultpolicy.StrategyRetryThenFallback:
			// The agent runtime has no degraded "no tools" mode to switch
			// into from here, so both fallback strategies degrade to plain
			// extra attempts, bounded by faultpolicy.DefaultMaxRetries on
			// step.Retries, before giving up as a failed step.
			step.Retries++
			if step.Retries <= faultpolicy.DefaultMaxRetries {
				continue
			}
			return o.failStep(s, step, errKind, err, emit)
		case faultpolicy.StrategySkip:
			return o.skipStep(s, step, errKind, err, emit)
		default: // StrategyFail
			return o.failStep(s, step, errKind, err, emit)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// skipStep and failStep both install a synthetic, non-empty result slot so
// the router's IsCompleted check stops re-selecting the step (invariant:
// a terminal step id is never revisited) while leaving the real cause
// recorded in s.Errors and the PlanStep's status.
func (o *Orchestrator) skipStep(s *state.AnalysisState, step *state.PlanStep, errKind faultpolicy.Kind, err error, emit func(*event.Event) bool) error {
	step.Transition(state.StepSkipped)
	s.MarkCompleted(step.StepID)
	s.SetResult(step.AgentKind, state.InlineResult(map[string]any{"skipped": true, "reason": err.Error()}))
	emit(&event.Event{Type: event.TypeStepFailed, Agent: step.AgentKind, StepID: step.StepID, Kind: string(errKind), Message: err.Error()})
	return nil
}

func (o *Orchestrator) failStep(s *state.AnalysisState, step *state.PlanStep, errKind faultpolicy.Kind, err error, emit func(*event.Event) bool) error {
	step.Transition(state.StepFailed)
	s.MarkCompleted(step.StepID)
	s.SetResult(step.AgentKind, state.InlineResult(map[string]any{"failed": true, "reason": err.Error()}))
	emit(&event.Event{Type: event.TypeStepFailed, Agent: step.AgentKind, StepID: step.StepID, Kind: string(errKind), Message: err.Error()})
	return nil
}

// runFanout runs kinds concurrently via the scheduler, then resolves any
// per-kind failures one at a time through the same retry/skip/fail path
// runStep uses for a solo agent (best-effort parallelism, §4.3: a failed
// sibling never cancels the others). A fanout failure is recorded
// (AddError) and counted (step.Retries++) before the handoff to
// runStepLoop, the same bookkeeping runStepLoop's own error branch does
// for a solo step, so a fan-out agent that fails once then succeeds ends
// with the same retries count a solo agent hitting the identical error
// would.
func (o *Orchestrator) runFanout(ctx context.Context, s *state.AnalysisState, kinds []string, emit func(*event.Event) bool) error {
	steps := make(map[string]*state.PlanStep, len(kinds))
	for _, k := range kinds {
		step := o.findStep(s, k)
		step.Transition(state.StepRunning)
		steps[k] = step
		if !emit(&event.Event{Type: event.TypeStepStarted, Agent: k, StepID: step.StepID}) {
			return context.Canceled
		}
	}

	outcomes, fatalErr := o.cfg.Scheduler.RunFanout(ctx, s, kinds, o.agentRunner(s))
	if fatalErr != nil {
		return fatalErr
	}

	var retryKinds []string
	for _, oc := range outcomes {
		step := steps[oc.Kind]
		if oc.Err == nil {
			step.Transition(state.StepDone)
			s.MarkCompleted(step.StepID)
			summary := ""
			if oc.Slot != nil {
				summary = oc.Slot.Summary
			}
			if !emit(&event.Event{Type: event.TypeStepCompleted, Agent: oc.Kind, StepID: step.StepID, Summary: summary}) {
				return context.Canceled
			}
			continue
		}
		errKind := classifyFailure(oc.Err)
		s.AddError(state.ErrorEntry{Agent: oc.Kind, Kind: string(errKind), Message: oc.Err.Error(), RetryCount: step.Retries})
		step.Retries++
		retryKinds = append(retryKinds, oc.Kind)
	}

	sort.Strings(retryKinds)
	for _, k := range retryKinds {
		if err := o.runStepLoop(ctx, s, steps[k], emit); err != nil {
			return err
		}
	}
	return nil
}
