// Package router implements the rule-based router with LLM fallback (C4).
// Grounded on the production rule_based_router.py's ten-rule priority
// cascade, reimplemented as an idiomatic Go switch/early-return chain
// instead of an if/elif ladder.
package router

import (
	"context"
	"fmt"

	"github.com/sobrief/orchestrator/pkg/agentkind"
	"github.com/sobrief/orchestrator/pkg/llm"
	"github.com/sobrief/orchestrator/pkg/state"
)

// TransitionKind distinguishes the shape of a routing decision.
type TransitionKind string

const (
	TransitionAgent   TransitionKind = "agent"
	TransitionFanout  TransitionKind = "fanout"
	TransitionWait    TransitionKind = "wait"
	TransitionEnd     TransitionKind = "end"
)

// Transition is the router's return value: the name of the next node, never
// a state mutation (the router never mutates state).
type Transition struct {
	Kind   TransitionKind
	Agent  string   // set when Kind == TransitionAgent
	Fanout []string // set when Kind == TransitionFanout
}

// dependentPriority is rule 4's fixed tie-break order.
var dependentPriority = []agentkind.Kind{agentkind.Risk, agentkind.Summary, agentkind.Relationship}

// Router decides the next graph node from state.
type Router struct {
	registry *agentkind.Registry
	llmFallback llm.Client // nil disables the LLM fallback (rule 7 becomes a direct deterministic pick)
}

// New builds a router against the given agent-kind registry. llmClient may
// be nil, in which case rule 7 always falls through to the deterministic
// highest-priority pick (see Open Question decision in DESIGN.md).
func New(registry *agentkind.Registry, llmClient llm.Client) *Router {
	return &Router{registry: registry, llmFallback: llmClient}
}

// Decide returns exactly one legal transition for s, satisfying the router
// totality property (§8): every reachable state yields a transition or End.
func (r *Router) Decide(ctx context.Context, s *state.AnalysisState) (Transition, error) {
	requested := toSet(s.AnalysisTypes)

	// Rule 1: document_classifier first.
	if requested[string(agentkind.DocumentClassifier)] && !s.IsCompleted(string(agentkind.DocumentClassifier)) {
		return Transition{Kind: TransitionAgent, Agent: string(agentkind.DocumentClassifier)}, nil
	}

	// Rule 2: privilege_check once classifier is done and a document is flagged.
	if requested[string(agentkind.PrivilegeCheck)] &&
		s.IsCompleted(string(agentkind.DocumentClassifier)) &&
		!s.IsCompleted(string(agentkind.PrivilegeCheck)) &&
		anyDocumentPrivileged(s) {
		return Transition{Kind: TransitionAgent, Agent: string(agentkind.PrivilegeCheck)}, nil
	}

	// Rule 3: independent agents, fan out if 2+, direct if exactly 1.
	pendingIndependent := r.pendingIndependent(s, requested)
	if len(pendingIndependent) >= 2 {
		return Transition{Kind: TransitionFanout, Fanout: pendingIndependent}, nil
	}
	if len(pendingIndependent) == 1 {
		return Transition{Kind: TransitionAgent, Agent: pendingIndependent[0]}, nil
	}

	// Rule 4: dependent agents whose dependencies are satisfied, by fixed priority.
	if next, ok := r.nextReadyDependent(s, requested); ok {
		return Transition{Kind: TransitionAgent, Agent: next}, nil
	}

	// Rule 6: everything requested is completed.
	if allCompleted(s, requested) {
		return Transition{Kind: TransitionEnd}, nil
	}

	// Rule 5: something requested remains, but none of it has its
	// dependencies satisfied yet.
	if r.anyPendingUnsatisfied(s, requested) {
		ready := false
		for kind := range requested {
			if decl, ok := r.registry.Get(kind); ok && !s.IsCompleted(kind) && s.DependenciesSatisfied(decl.DependsOnStrings()) {
				ready = true
				break
			}
		}
		if !ready {
			return Transition{Kind: TransitionWait}, nil
		}
		// Rule 7: LLM router, or the deterministic pick without one.
		if r.llmFallback == nil {
			return r.deterministicFallback(s, requested), nil
		}
		t, err := r.askLLM(ctx, s, requested)
		if err != nil || !r.isLegal(s, requested, t) {
			// Rule 7 fallback: illegal/failed LLM transition -> deterministic pick.
			return r.deterministicFallback(s, requested), nil
		}
		return t, nil
	}

	return Transition{Kind: TransitionEnd}, nil
}

func (r *Router) pendingIndependent(s *state.AnalysisState, requested map[string]bool) []string {
	var out []string
	for _, d := range r.registry.List() {
		if len(d.DependsOn) != 0 {
			continue
		}
		if !requested[string(d.Kind)] {
			continue
		}
		if s.IsCompleted(string(d.Kind)) {
			continue
		}
		out = append(out, string(d.Kind))
	}
	return out
}

func (r *Router) nextReadyDependent(s *state.AnalysisState, requested map[string]bool) (string, bool) {
	for _, kind := range dependentPriority {
		if !requested[string(kind)] || s.IsCompleted(string(kind)) {
			continue
		}
		decl, ok := r.registry.Get(string(kind))
		if !ok {
			continue
		}
		if s.DependenciesSatisfied(decl.DependsOnStrings()) {
			return string(kind), true
		}
	}
	return "", false
}

func (r *Router) anyPendingUnsatisfied(s *state.AnalysisState, requested map[string]bool) bool {
	for kind := range requested {
		if !s.IsCompleted(kind) {
			return true
		}
	}
	return false
}

// deterministicFallback is the Open Question resolution: pick the
// highest-priority pending step deterministically, by the same priority
// order rule 4 uses, falling back further to any pending requested kind in
// registry order.
func (r *Router) deterministicFallback(s *state.AnalysisState, requested map[string]bool) Transition {
	for _, kind := range dependentPriority {
		if requested[string(kind)] && !s.IsCompleted(string(kind)) {
			return Transition{Kind: TransitionAgent, Agent: string(kind)}
		}
	}
	for _, d := range r.registry.List() {
		if requested[string(d.Kind)] && !s.IsCompleted(string(d.Kind)) {
			return Transition{Kind: TransitionAgent, Agent: string(d.Kind)}
		}
	}
	return Transition{Kind: TransitionWait}
}

func (r *Router) isLegal(s *state.AnalysisState, requested map[string]bool, t Transition) bool {
	switch t.Kind {
	case TransitionEnd, TransitionWait:
		return true
	case TransitionAgent:
		return requested[t.Agent] && !s.IsCompleted(t.Agent)
	case TransitionFanout:
		for _, a := range t.Fanout {
			if !requested[a] || s.IsCompleted(a) {
				return false
			}
		}
		return len(t.Fanout) > 0
	default:
		return false
	}
}

func (r *Router) askLLM(ctx context.Context, s *state.AnalysisState, requested map[string]bool) (Transition, error) {
	if r.llmFallback == nil {
		return Transition{}, fmt.Errorf("no LLM fallback configured")
	}
	resp, err := r.llmFallback.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "Choose the next agent to run given the declared graph and unsatisfied goals."},
			{Role: "user", Content: describeState(s, requested)},
		},
		Temperature: 0,
		ModelTier:   "lite",
	})
	if err != nil {
		return Transition{}, err
	}
	return Transition{Kind: TransitionAgent, Agent: resp.Text}, nil
}

func describeState(s *state.AnalysisState, requested map[string]bool) string {
	return fmt.Sprintf("requested=%v completed=%v", requested, s.CompletedSteps)
}

func anyDocumentPrivileged(s *state.AnalysisState) bool {
	slot, ok := s.Results[string(agentkind.DocumentClassifier)]
	if !ok || slot == nil || slot.Inline == nil {
		return false
	}
	privileged, _ := slot.Inline["has_privileged_documents"].(bool)
	return privileged
}

func allCompleted(s *state.AnalysisState, requested map[string]bool) bool {
	for kind := range requested {
		if !s.IsCompleted(kind) {
			return false
		}
	}
	return true
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}
