// Package agentkind enumerates the fixed set of agent kinds the graph can
// route to (C3) and declares each kind's dependencies, model tier, default
// tools, and concurrency/timeout properties. Agents are variants of one
// capability set; concrete kinds differ only by this declaration and their
// prompt text, not by a class hierarchy.
package agentkind

import "time"

// Kind names the fixed AgentKind enum.
type Kind string

const (
	DocumentClassifier Kind = "document_classifier"
	EntityExtraction   Kind = "entity_extraction"
	Timeline           Kind = "timeline"
	KeyFacts           Kind = "key_facts"
	Discrepancy        Kind = "discrepancy"
	Risk               Kind = "risk"
	Summary            Kind = "summary"
	PrivilegeCheck     Kind = "privilege_check"
	Relationship       Kind = "relationship"
	TabularExtract     Kind = "tabular_extract"
	DraftEditor        Kind = "draft_editor"
	DeepReason         Kind = "deep_reason"
)

// Tier selects the model quality/cost tradeoff for a kind.
type Tier string

const (
	TierLite Tier = "lite"
	TierPro  Tier = "pro"
)

// Declaration is the table entry for one AgentKind: everything the router,
// scheduler, and middleware need to know about a kind without importing its
// prompt or parsing logic.
type Declaration struct {
	Kind            Kind
	DependsOn       []Kind
	Tier            Tier
	DefaultTools    []string
	Parallelizable  bool
	Idempotent      bool
	DefaultTimeout  time.Duration
}

// DependsOnStrings returns DependsOn as plain strings, for use against
// pkg/state.AnalysisState which is kind-agnostic.
func (d Declaration) DependsOnStrings() []string {
	out := make([]string, len(d.DependsOn))
	for i, k := range d.DependsOn {
		out[i] = string(k)
	}
	return out
}

// defaultTimeout is AGENT_TIMEOUT's default per §6's configuration table.
const defaultTimeout = 120 * time.Second

// Defaults is the fixed dependency graph and declaration table from spec
// §3: risk⇐discrepancy, summary⇐key_facts, relationship⇐entity_extraction,
// privilege_check⇐document_classifier; all others independent.
func Defaults() []Declaration {
	return []Declaration{
		{Kind: DocumentClassifier, Tier: TierLite, Parallelizable: true, Idempotent: true, DefaultTimeout: defaultTimeout},
		{Kind: EntityExtraction, Tier: TierLite, Parallelizable: true, Idempotent: true, DefaultTimeout: defaultTimeout},
		{Kind: Timeline, Tier: TierLite, Parallelizable: true, Idempotent: true, DefaultTimeout: defaultTimeout},
		{Kind: KeyFacts, Tier: TierLite, Parallelizable: true, Idempotent: true, DefaultTimeout: defaultTimeout},
		{Kind: Discrepancy, Tier: TierPro, Parallelizable: true, Idempotent: true, DefaultTimeout: defaultTimeout},
		{Kind: Risk, DependsOn: []Kind{Discrepancy}, Tier: TierPro, Parallelizable: false, Idempotent: true, DefaultTimeout: defaultTimeout},
		{Kind: Summary, DependsOn: []Kind{KeyFacts}, Tier: TierPro, Parallelizable: false, Idempotent: true, DefaultTimeout: defaultTimeout},
		{Kind: PrivilegeCheck, DependsOn: []Kind{DocumentClassifier}, Tier: TierPro, Parallelizable: false, Idempotent: true, DefaultTimeout: defaultTimeout},
		{Kind: Relationship, DependsOn: []Kind{EntityExtraction}, Tier: TierPro, Parallelizable: false, Idempotent: true, DefaultTimeout: defaultTimeout},
		{Kind: TabularExtract, Tier: TierPro, Parallelizable: true, Idempotent: false, DefaultTimeout: 300 * time.Second},
		{Kind: DraftEditor, Tier: TierPro, Parallelizable: false, Idempotent: false, DefaultTimeout: defaultTimeout},
		{Kind: DeepReason, Tier: TierPro, Parallelizable: false, Idempotent: true, DefaultTimeout: 240 * time.Second},
	}
}

// IndependentKinds returns the kinds with no declared dependency, i.e. the
// router's "independent" set.
func IndependentKinds(decls []Declaration) []Kind {
	var out []Kind
	for _, d := range decls {
		if len(d.DependsOn) == 0 {
			out = append(out, d.Kind)
		}
	}
	return out
}
