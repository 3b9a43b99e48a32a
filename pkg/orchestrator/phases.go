package orchestrator

import (
	"context"
	"sort"
	"strings"

	"github.com/sobrief/orchestrator/pkg/agentkind"
	"github.com/sobrief/orchestrator/pkg/evaluation"
	"github.com/sobrief/orchestrator/pkg/llm"
	"github.com/sobrief/orchestrator/pkg/state"
)

// highComplexityKeywords and simpleComplexityKeywords map a few task-text
// signals to a complexity level,
// grounded on the same keyword-cascade idiom faultpolicy/modeltier already
// use for their own rule tables.
var highComplexityKeywords = []string{"compare", "precedent", "risk", "conflict", "contradiction"}
var simpleComplexityKeywords = []string{"extract", "find", "list"}

const highDocumentCountThreshold = 20

// understand derives Understanding from the task text and document count,
// per spec §4.1's UNDERSTAND node: heuristics first, an optional LLM call
// only when analysis_types was left empty (needs_planning).
func (o *Orchestrator) understand(ctx context.Context, s *state.AnalysisState, req Request) {
	text := strings.ToLower(req.Task)

	complexity := state.ComplexityMedium
	switch {
	case req.DocumentCount > highDocumentCountThreshold || containsAny(text, highComplexityKeywords):
		complexity = state.ComplexityHigh
	case containsAny(text, simpleComplexityKeywords):
		complexity = state.ComplexitySimple
	}

	needsPlanning := len(req.AnalysisTypes) == 0 && strings.TrimSpace(req.Task) != ""

	s.Understanding = state.Understanding{
		Goals:         deriveGoals(text),
		Complexity:    complexity,
		TaskType:      "legal_document_analysis",
		NeedsPlanning: needsPlanning,
		Confidence:    0.8,
	}

	if !needsPlanning {
		return
	}

	suggested := o.suggestAnalysisTypes(ctx, text)
	if len(suggested) == 0 {
		suggested = []string{string(agentkind.Summary)}
	}
	s.AnalysisTypes = suggested
	s.Understanding.Reasoning = "derived from task text (no analysis_types supplied)"
}

// suggestAnalysisTypes maps task keywords to agent kinds when the caller
// left analysis_types empty, falling back to an LLM pick when the
// orchestrator has one configured and no keyword matched (mirrors the
// router's own deterministic-first, LLM-fallback-second shape).
func (o *Orchestrator) suggestAnalysisTypes(ctx context.Context, text string) []string {
	var picks []string
	add := func(kind agentkind.Kind, words ...string) {
		if containsAny(text, words) {
			picks = append(picks, string(kind))
		}
	}
	add(agentkind.Timeline, "date", "chronology", "when", "timeline")
	add(agentkind.KeyFacts, "fact", "key point")
	add(agentkind.Risk, "risk", "exposure", "liability")
	add(agentkind.Discrepancy, "contradict", "conflict", "inconsisten")
	add(agentkind.EntityExtraction, "party", "parties", "entit")
	add(agentkind.Relationship, "relationship", "connection")
	add(agentkind.Summary, "summary", "summarize", "overview")
	add(agentkind.PrivilegeCheck, "privilege", "confidential")

	if len(picks) > 0 {
		return picks
	}
	if o.cfg.LLM == nil {
		return nil
	}

	resp, err := o.cfg.LLM.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "Pick one or more analysis agent kinds (document_classifier, entity_extraction, timeline, key_facts, discrepancy, risk, summary, privilege_check, relationship) for the given task. Reply with a single kind name."},
			{Role: "user", Content: text},
		},
		Temperature: 0,
		ModelTier:   "lite",
	})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		return nil
	}
	return []string{strings.TrimSpace(resp.Text)}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func deriveGoals(text string) []string {
	fields := strings.Fields(text)
	var goals []string
	seen := make(map[string]bool)
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?")
		if len(f) < 4 || seen[f] {
			continue
		}
		seen[f] = true
		goals = append(goals, f)
	}
	return goals
}

// plan expands s.AnalysisTypes to its transitive dependency closure (the
// planner auto-adds an un-requested dependency, e.g. discrepancy for risk)
// and builds one PlanStep per closure member, persisted so a resumed run
// can tell what was requested from a checkpoint alone.
func (o *Orchestrator) plan(s *state.AnalysisState) {
	closure := o.dependencyClosure(s.AnalysisTypes)
	s.AnalysisTypes = closure

	existing := make(map[string]bool, len(s.Plan))
	for _, step := range s.Plan {
		existing[step.AgentKind] = true
	}

	for _, kind := range closure {
		if existing[kind] {
			continue
		}
		var deps []string
		if o.cfg.Registry != nil {
			if decl, ok := o.cfg.Registry.Get(kind); ok {
				deps = decl.DependsOnStrings()
			}
		}
		s.Plan = append(s.Plan, &state.PlanStep{
			StepID:    kind,
			AgentKind: kind,
			DependsOn: deps,
			Status:    state.StepPending,
		})
	}
}

// dependencyClosure returns requested plus every transitive dependency,
// sorted for deterministic plan ordering.
func (o *Orchestrator) dependencyClosure(requested []string) []string {
	set := make(map[string]bool, len(requested))
	var add func(kind string)
	add = func(kind string) {
		if set[kind] {
			return
		}
		set[kind] = true
		if o.cfg.Registry == nil {
			return
		}
		decl, ok := o.cfg.Registry.Get(kind)
		if !ok {
			return
		}
		for _, dep := range decl.DependsOnStrings() {
			add(dep)
		}
	}
	for _, kind := range requested {
		add(kind)
	}

	out := make([]string, 0, len(set))
	for kind := range set {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// findStep returns the PlanStep for kind, creating one (e.g. for a
// replanning step appended directly to s.Plan by evaluate, or a kind the
// router selected that PLAN did not anticipate) if none exists yet.
func (o *Orchestrator) findStep(s *state.AnalysisState, kind string) *state.PlanStep {
	for _, step := range s.Plan {
		if step.AgentKind == kind && !step.IsTerminal() {
			return step
		}
	}
	step := &state.PlanStep{StepID: kind, AgentKind: kind, Status: state.StepPending}
	s.Plan = append(s.Plan, step)
	return step
}

// evaluate scores every completed result against spec §4.11's four
// metrics and decides whether to inject a replanning step. It returns true
// when a replanning step was appended to s.Plan and SCHEDULE must run
// again.
func (o *Orchestrator) evaluate(ctx context.Context, s *state.AnalysisState, req Request) (bool, error) {
	if o.cfg.Replanner == nil {
		return false, nil
	}

	expected := req.DocumentCount
	if expected <= 0 {
		expected = o.cfg.DefaultExpectedItems
	}

	results := make(map[string]evaluation.Metrics, len(s.Results))
	for kind, slot := range s.Results {
		if slot == nil || slot.Inline == nil {
			continue
		}
		items := evaluation.ExtractItems(slot.Inline)
		results[kind] = evaluation.Evaluate(items, expected, s.Understanding.Goals)
	}
	if len(results) == 0 {
		return false, nil
	}

	var aggregate float64
	for _, m := range results {
		aggregate += m.Aggregate
	}
	aggregate /= float64(len(results))

	if !o.cfg.Replanner.ShouldReplan(aggregate, s.ReplanCount) {
		return false, nil
	}

	weakestKind, weakestMetrics, found := evaluation.Weakest(results)
	if !found {
		return false, nil
	}

	step := o.cfg.Replanner.Replan(s.ReplanCount, weakestKind, weakestMetrics)
	s.ReplanCount++
	s.Plan = append(s.Plan, step)
	// Force the weakest kind back to unsatisfied so the router selects it
	// again. Of the replanning step's Hints, runStepLoop applies only
	// model_tier_override; retrieval_k and require_sources are carried on
	// the step and not read downstream.
	delete(s.Results, weakestKind)

	return true, nil
}

// deliver finalizes the run: it gathers a reference (inline summary or
// store pointer) for every completed result, the shape event.TypeComplete's
// ResultRefs field carries per §6.
func (o *Orchestrator) deliver(s *state.AnalysisState) []string {
	var refs []string
	for _, kind := range s.AnalysisTypes {
		slot, ok := s.Results[kind]
		if !ok || slot == nil {
			continue
		}
		if slot.IsRef() {
			refs = append(refs, slot.Ref.Namespace+"/"+slot.Ref.Key)
		} else {
			refs = append(refs, kind)
		}
	}
	sort.Strings(refs)
	return refs
}
