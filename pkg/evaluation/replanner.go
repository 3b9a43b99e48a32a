package evaluation

import (
	"fmt"

	"github.com/sobrief/orchestrator/pkg/state"
)

// DefaultThreshold and DefaultMaxReplans are spec §4.11's defaults.
const (
	DefaultThreshold  = 0.6
	DefaultMaxReplans = 1
)

// Replanner decides whether EVALUATE should loop back into SCHEDULE and,
// if so, builds the replanning PlanStep.
type Replanner struct {
	threshold  float64
	maxReplans int
}

// NewReplanner builds a Replanner. threshold<=0 and maxReplans<0 fall back
// to the spec defaults.
func NewReplanner(threshold float64, maxReplans int) *Replanner {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if maxReplans < 0 {
		maxReplans = DefaultMaxReplans
	}
	return &Replanner{threshold: threshold, maxReplans: maxReplans}
}

// ShouldReplan reports whether EVALUATE must inject a replanning step,
// per spec §4.11: aggregate below threshold and retry budget remaining.
func (r *Replanner) ShouldReplan(aggregate float64, replanCount int) bool {
	return aggregate < r.threshold && replanCount < r.maxReplans
}

// Weakest returns the agent kind with the lowest aggregate score among
// results, the target for the next replanning step.
func Weakest(results map[string]Metrics) (kind string, metrics Metrics, found bool) {
	best := 1.1
	for k, m := range results {
		if m.Aggregate < best {
			best = m.Aggregate
			kind = k
			metrics = m
			found = true
		}
	}
	return kind, metrics, found
}

// Replan builds a new PlanStep re-running weakestKind with hints derived
// from which metric(s) failed, per spec §4.11's examples: broaden
// retrieval, escalate to the pro tier, or require cited sources.
func (r *Replanner) Replan(replanCount int, weakestKind string, m Metrics) *state.PlanStep {
	hints := make(map[string]any)
	if m.Completeness < r.threshold {
		hints["retrieval_k"] = "broaden"
	}
	if m.Accuracy < r.threshold {
		hints["require_sources"] = true
	}
	if m.Relevance < r.threshold || m.Consistency < r.threshold {
		hints["model_tier_override"] = "pro"
	}

	return &state.PlanStep{
		StepID:    fmt.Sprintf("replan-%d-%s", replanCount+1, weakestKind),
		AgentKind: weakestKind,
		Status:    state.StepPending,
		Hints:     hints,
	}
}
