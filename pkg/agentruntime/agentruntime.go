// Package agentruntime implements the one-agent execution pipeline (C6):
// the fixed ten-step sequence spec §4.4 runs for every agent invocation
// (input check, cache probe, retrieval, prompt build, LLM call, parse with
// one repair retry, post-validation, store-or-inline, cache write, and a
// completion event). Grounded on the teacher's pkg/runner/runner.go: the
// same defer-chain-of-side-effects shape (index/summarize/clear-temp after
// the core call completes) generalized here to cache-write/emit after the
// LLM-and-validate core, rebuilt around the spec's fixed pipeline instead
// of the teacher's dynamic agent-tree dispatch. Execute's signature matches
// middleware.Runner exactly so it can be handed directly to
// middleware.Chain(...)(runtime.Execute) as the innermost link.
package agentruntime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sobrief/orchestrator/pkg/agentkind"
	"github.com/sobrief/orchestrator/pkg/cache"
	"github.com/sobrief/orchestrator/pkg/compactor"
	"github.com/sobrief/orchestrator/pkg/evaluation"
	"github.com/sobrief/orchestrator/pkg/event"
	"github.com/sobrief/orchestrator/pkg/faultpolicy"
	"github.com/sobrief/orchestrator/pkg/llm"
	"github.com/sobrief/orchestrator/pkg/middleware"
	"github.com/sobrief/orchestrator/pkg/retrieval"
	"github.com/sobrief/orchestrator/pkg/state"
	"github.com/sobrief/orchestrator/pkg/store"
)

// ErrNoSpec is returned when Execute is asked to run a kind with no
// registered Spec.
var ErrNoSpec = errors.New("agentruntime: no spec registered for kind")

// ErrDependenciesNotSatisfied is step 1's rejection: a required dependency
// slot is still empty.
var ErrDependenciesNotSatisfied = errors.New("agentruntime: dependencies not satisfied")

// Spec declares one agent kind's business behavior: everything the fixed
// pipeline needs that differs per kind. A concrete implementation supplies
// the prompt text, how it turns state into retrieval queries, the
// structured-output schema its LLM call is bound to, and the kind-specific
// post-validation step 7 requires (date normalization, citation checks,
// risk-level enums, etc).
type Spec interface {
	Kind() agentkind.Kind
	Instructions() string
	Queries(s *state.AnalysisState) []string
	Schema() map[string]any
	Validate(result map[string]any) error
}

// Store is the narrow synchronous subset agentruntime needs for step 8's
// store-or-inline offload; store.Backend already satisfies it.
type Store interface {
	Put(ctx context.Context, namespace, key string, value []byte) error
}

var _ Store = store.Backend(nil)

// inlineSizeLimit and inlineItemLimit are step 8's offload thresholds.
const (
	inlineSizeLimit = 10 * 1024
	inlineItemLimit = 100
)

// Config bundles Runtime's collaborators.
type Config struct {
	Registry   *agentkind.Registry
	Cache      *cache.Cache
	Retriever  retrieval.Retriever
	LLM        llm.Client
	Store      Store
	Compactor  *compactor.Compactor
	RetrievalK int
	Emit       func(event.Event)
}

// Runtime executes the fixed ten-step pipeline for whichever Spec is
// registered for the requested kind.
type Runtime struct {
	cfg   Config
	specs map[agentkind.Kind]Spec

	mu        sync.RWMutex
	docHashes map[string]string // case_id -> document_set_hash override
}

// New builds a Runtime. cfg.RetrievalK defaults to 8; cfg.Emit defaults to
// a no-op so callers that don't care about streaming events can omit it.
func New(cfg Config) *Runtime {
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = 8
	}
	if cfg.Emit == nil {
		cfg.Emit = func(event.Event) {}
	}
	return &Runtime{cfg: cfg, specs: make(map[agentkind.Kind]Spec), docHashes: make(map[string]string)}
}

// Register installs spec as the handler for its declared kind.
func (rt *Runtime) Register(spec Spec) {
	rt.specs[spec.Kind()] = spec
}

// SetDocumentSetHash overrides the cache fingerprint's document_set_hash
// component for caseID. Document ingestion is an external collaborator
// (§1) and AnalysisState carries no document list, so the default
// fingerprint component is caseID itself — a case's document set is
// treated as fixed once analysis starts. Callers with finer-grained
// invalidation needs (e.g. a document was added mid-case) call this to
// force every subsequent cache probe for the case to miss.
func (rt *Runtime) SetDocumentSetHash(caseID, hash string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.docHashes[caseID] = hash
}

func (rt *Runtime) documentSetHash(caseID string) string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if h, ok := rt.docHashes[caseID]; ok {
		return h
	}
	return caseID
}

// Execute runs the ten-step pipeline for one agent invocation. Its
// signature matches middleware.Runner so it can be wrapped directly by
// middleware.Chain.
func (rt *Runtime) Execute(ctx context.Context, kind agentkind.Kind, s *state.AnalysisState) (*state.ResultSlot, error) {
	spec, ok := rt.specs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSpec, kind)
	}
	decl, _ := rt.cfg.Registry.Get(string(kind))

	// 1. Input shape check.
	if !s.DependenciesSatisfied(decl.DependsOnStrings()) {
		return nil, fmt.Errorf("%w: %s", ErrDependenciesNotSatisfied, kind)
	}

	// 2. Cache probe.
	cacheKey := cache.Fingerprint(map[string]any{
		"case_id":           s.CaseID,
		"agent_kind":        string(kind),
		"document_set_hash": rt.documentSetHash(s.CaseID),
	})
	if cached, ok := rt.cfg.Cache.Get(cacheKey); ok {
		rt.cfg.Emit(event.Event{Type: event.TypeCacheHit, Timestamp: time.Now(), Agent: string(kind), KeyFingerprint: cacheKey})
		if slot, ok := cached.(*state.ResultSlot); ok {
			return slot, nil
		}
	}

	start := time.Now()
	rt.cfg.Emit(event.Event{Type: event.TypeStepStarted, Timestamp: start, Agent: string(kind)})

	// 3. Retrieval.
	docs, err := rt.retrieveAll(ctx, spec, s)
	if err != nil {
		return nil, fmt.Errorf("agentruntime: %s: retrieve: %w", kind, err)
	}

	// 4. Prompt build.
	summaries, err := rt.loadSummaries(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("agentruntime: %s: load summaries: %w", kind, err)
	}
	system, user := buildPrompt(spec, docs, summaries)

	// 5. LLM call.
	tier := middleware.TierFromContext(ctx)
	toolName := fmt.Sprintf("emit_%s_result", kind)
	req := llm.Request{
		Messages:    []llm.Message{{Role: "system", Content: system}, {Role: "user", Content: user}},
		Tools:       []llm.Tool{{Name: toolName, Description: "Emit the structured result for this analysis step.", Schema: spec.Schema()}},
		Temperature: 0.2,
		ModelTier:   string(tier),
	}
	resp, err := rt.cfg.LLM.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agentruntime: %s: llm call: %w", kind, err)
	}

	// 6. Parse & validate, with one repair retry on failure.
	result, parseErr := parseResult(resp)
	if parseErr != nil {
		repairReq := req
		repairReq.Messages = append(repairReq.Messages, llm.Message{
			Role:    "user",
			Content: fmt.Sprintf("Your previous response could not be parsed (%v). Reissue the %s tool call with valid arguments matching the schema exactly.", parseErr, toolName),
		})
		repairResp, rerr := rt.cfg.LLM.Complete(ctx, repairReq)
		if rerr == nil {
			if repaired, err2 := parseResult(repairResp); err2 == nil {
				result, parseErr = repaired, nil
			}
		}
	}
	if parseErr != nil {
		s.AddError(state.ErrorEntry{Agent: string(kind), Kind: "validation_error", Message: parseErr.Error(), At: time.Now()})
		slot := state.InlineResult(map[string]any{"partial": true})
		rt.cfg.Emit(event.Event{Type: event.TypeStepFailed, Timestamp: time.Now(), Agent: string(kind), ElapsedMs: time.Since(start).Milliseconds(), Kind: "validation_error", Message: parseErr.Error()})
		return slot, nil
	}

	// 7. Post-validation. A validation failure fails the step outright per
	// §4.8's error-classifier table (no retry) rather than falling through
	// as if the step had succeeded: the partial output is still recorded
	// (AddError plus an inline placeholder slot), but the error is returned
	// tagged with faultpolicy.KindValidationError so the caller's
	// faultpolicy.Decide routes it straight to a failed, terminal step
	// instead of a completed one.
	if err := spec.Validate(result); err != nil {
		s.AddError(state.ErrorEntry{Agent: string(kind), Kind: "validation_error", Message: err.Error(), At: time.Now()})
		slot := state.InlineResult(map[string]any{"partial": true, "validation_error": err.Error()})
		return slot, &faultpolicy.KindError{
			Kind: faultpolicy.KindValidationError,
			Err:  fmt.Errorf("agentruntime: %s: post-validation: %w", kind, err),
		}
	}

	// 8. Store or inline.
	slot, err := rt.storeOrInline(ctx, s.CaseID, s.RunID, kind, result)
	if err != nil {
		return nil, fmt.Errorf("agentruntime: %s: persist result: %w", kind, err)
	}

	// 9. Cache write.
	rt.cfg.Cache.Set(cacheKey, s.CaseID, string(kind), slot)

	// 10. Emit completion event.
	rt.cfg.Emit(event.Event{
		Type:      event.TypeStepCompleted,
		Timestamp: time.Now(),
		Agent:     string(kind),
		ElapsedMs: time.Since(start).Milliseconds(),
		Summary:   summaryText(result),
	})

	return slot, nil
}

func (rt *Runtime) retrieveAll(ctx context.Context, spec Spec, s *state.AnalysisState) ([]retrieval.Document, error) {
	queries := spec.Queries(s)
	if len(queries) == 0 {
		queries = []string{s.Understanding.TaskType}
	}
	var docs []retrieval.Document
	for _, q := range queries {
		if strings.TrimSpace(q) == "" {
			continue
		}
		found, err := rt.cfg.Retriever.Retrieve(ctx, s.CaseID, q, rt.cfg.RetrievalK, retrieval.StrategyHybrid, nil)
		if err != nil {
			return nil, err
		}
		docs = append(docs, found...)
	}
	return docs, nil
}

func (rt *Runtime) loadSummaries(ctx context.Context, s *state.AnalysisState) ([]string, error) {
	if rt.cfg.Compactor == nil {
		return nil, nil
	}
	return rt.cfg.Compactor.LoadSummaries(ctx, s)
}

// buildPrompt assembles the system/user turns per spec §4.4 step 4:
// instructions, compacted context, and retrieved excerpts formatted with
// source markers.
func buildPrompt(spec Spec, docs []retrieval.Document, summaries []string) (system, user string) {
	var b strings.Builder
	if len(summaries) > 0 {
		b.WriteString("Prior phase summaries:\n")
		for _, sm := range summaries {
			b.WriteString("- ")
			b.WriteString(sm)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Retrieved excerpts:\n")
	for _, d := range docs {
		name, _ := d.Metadata["name"].(string)
		if name == "" {
			name = "unknown"
		}
		page, _ := d.Metadata["page"].(int)
		fmt.Fprintf(&b, "[doc:%s, p.%d] %s\n", name, page, d.Content)
	}
	return spec.Instructions(), b.String()
}

// parseResult decodes a completion response into the agent's result map:
// a bound tool call's arguments if one was made, else a JSON object parsed
// from the raw text.
func parseResult(resp llm.Response) (map[string]any, error) {
	if len(resp.ToolCalls) > 0 {
		if resp.ToolCalls[0].Arguments == nil {
			return nil, fmt.Errorf("tool call returned no arguments")
		}
		return resp.ToolCalls[0].Arguments, nil
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, fmt.Errorf("empty response")
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("parse response as JSON: %w", err)
	}
	return result, nil
}

// storeOrInline implements step 8's threshold: serialized size over 10kB
// or a produced item list over 100 entries goes to the store, keyed
// agent_results/{case_id}/{agent_kind}_{run_id}; otherwise it stays inline.
func (rt *Runtime) storeOrInline(ctx context.Context, caseID, runID string, kind agentkind.Kind, result map[string]any) (*state.ResultSlot, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	items := evaluation.ExtractItems(result)

	if len(data) <= inlineSizeLimit && len(items) <= inlineItemLimit {
		return state.InlineResult(result), nil
	}

	namespace := store.AgentResultsNamespace(caseID)
	key := fmt.Sprintf("%s_%s", kind, runID)
	if err := rt.cfg.Store.Put(ctx, namespace, key, data); err != nil {
		return nil, fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}
	return state.RefResult(namespace, key, summaryText(result), len(items)), nil
}

func summaryText(result map[string]any) string {
	items := evaluation.ExtractItems(result)
	return fmt.Sprintf("%d item(s) produced", len(items))
}
