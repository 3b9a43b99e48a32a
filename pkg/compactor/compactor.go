// Package compactor implements the context compactor (C9): it watches
// AnalysisState's estimated serialized size, and once it crosses the
// configured token threshold it summarizes already-completed agent results
// into a single low-temperature LLM summary, writes that summary to the
// store's phase_summaries/{case_id} namespace, and replaces the
// corresponding inline result fields with references so state stays under
// budget. Grounded on the teacher's pkg/memory summarization path
// (memory/summarizer.go's LLMSummarizer, memory/summary_buffer.go's
// threshold-triggered summarize-then-truncate shape), generalized from
// chat-turn buffers to completed-agent result slots.
package compactor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sobrief/orchestrator/pkg/llm"
	"github.com/sobrief/orchestrator/pkg/state"
	"github.com/sobrief/orchestrator/pkg/store"
)

// Store is the subset of store.Backend the compactor needs.
type Store interface {
	Put(ctx context.Context, namespace, key string, value []byte) error
	Get(ctx context.Context, namespace, key string) (value []byte, found bool, err error)
	List(ctx context.Context, namespace string) ([]string, error)
}

var _ Store = store.Backend(nil)

// defaultSummarizationPrompt mirrors the teacher's memory summarization
// prompt, narrowed to completed-agent results instead of chat turns and
// capped at the spec's 500-word budget.
const defaultSummarizationPrompt = `You are summarizing completed analysis agent results for a legal document review. Produce a concise summary of at most 500 words covering, per agent: key findings, critical facts, sample entities, and overall themes. Preserve names, dates, amounts, and citations exactly as given. Do not invent information not present below.

Completed agent results:
%s

Summary:`

// Config controls when compaction fires.
type Config struct {
	// TokenThreshold is CONTEXT_COMPACTION_TOKEN_THRESHOLD: estimated
	// tokens (bytes/4) above which the next agent must not run until
	// compaction has completed.
	TokenThreshold int
	// Prompt overrides the default summarization prompt; %s is the
	// formatted agent-results block.
	Prompt string
}

// SetDefaults fills unset fields with spec defaults.
func (c *Config) SetDefaults() {
	if c.TokenThreshold <= 0 {
		c.TokenThreshold = 100_000
	}
	if c.Prompt == "" {
		c.Prompt = defaultSummarizationPrompt
	}
}

// Compactor summarizes completed agent results out of AnalysisState once it
// grows past the configured token threshold.
type Compactor struct {
	config *Config
	store  Store
	llm    llm.Client
}

// New creates a Compactor. cfg may be nil, in which case defaults apply.
func New(cfg *Config, s Store, client llm.Client) *Compactor {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()
	return &Compactor{config: cfg, store: s, llm: client}
}

// EstimateTokens returns the coarse bytes/4 token estimate for s, per the
// spec's purposely-coarse estimator.
func EstimateTokens(s *state.AnalysisState) (int, error) {
	size, err := s.EstimatedSize()
	if err != nil {
		return 0, err
	}
	return size / 4, nil
}

// ShouldCompact reports whether s's estimated size exceeds the configured
// threshold and therefore must be compacted before the next agent runs.
func (c *Compactor) ShouldCompact(s *state.AnalysisState) (bool, error) {
	tokens, err := EstimateTokens(s)
	if err != nil {
		return false, err
	}
	return tokens > c.config.TokenThreshold, nil
}

// alreadySummarized returns the set of agent kinds whose results have
// already been folded into a phase summary, so Compact stays idempotent.
func alreadySummarized(s *state.AnalysisState) map[string]bool {
	done := make(map[string]bool)
	for _, ps := range s.Metadata.CheckpointInfo.PhaseSummaries {
		for _, agent := range ps.Agents {
			done[agent] = true
		}
	}
	return done
}

// candidates returns the sorted agent kinds with an un-summarized inline
// result, stable ordering so the generated summary text is deterministic
// across runs given the same state.
func candidates(s *state.AnalysisState) []string {
	done := alreadySummarized(s)
	var out []string
	for kind, slot := range s.Results {
		if done[kind] || slot == nil || slot.Inline == nil {
			continue
		}
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// Compact summarizes every completed, not-yet-summarized agent result into
// one phase summary, writes it to phase_summaries/{case_id}, replaces the
// corresponding inline results with references, and records the summary in
// metadata.phase_summaries. It is a no-op (idempotent) when there is
// nothing new to summarize.
func (c *Compactor) Compact(ctx context.Context, s *state.AnalysisState) error {
	kinds := candidates(s)
	if len(kinds) == 0 {
		return nil
	}

	var body strings.Builder
	for _, kind := range kinds {
		slot := s.Results[kind]
		payload, err := json.Marshal(slot.Inline)
		if err != nil {
			return fmt.Errorf("compactor: marshal %s result: %w", kind, err)
		}
		fmt.Fprintf(&body, "[%s]: %s\n\n", kind, payload)
	}

	prompt := fmt.Sprintf(c.config.Prompt, body.String())
	resp, err := c.llm.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.1,
		ModelTier:   "lite",
	})
	if err != nil {
		return fmt.Errorf("compactor: summarize: %w", err)
	}
	summary := strings.TrimSpace(resp.Text)

	namespace := store.PhaseSummariesNamespace(s.CaseID)
	key := fmt.Sprintf("%s-%03d", s.RunID, len(s.Metadata.CheckpointInfo.PhaseSummaries))
	if err := c.store.Put(ctx, namespace, key, []byte(summary)); err != nil {
		return fmt.Errorf("compactor: store summary: %w", err)
	}

	for _, kind := range kinds {
		count := 1
		if arr, ok := s.Results[kind].Inline["items"].([]any); ok {
			count = len(arr)
		}
		s.SetResult(kind, state.RefResult(namespace, key, summaryPreview(summary), count))
	}

	s.Metadata.CheckpointInfo.PhaseSummaries = append(s.Metadata.CheckpointInfo.PhaseSummaries, state.PhaseSummary{
		RunID:     s.RunID,
		Agents:    kinds,
		Namespace: namespace,
		Key:       key,
		CreatedAt: time.Now(),
	})

	return nil
}

// LoadSummaries fetches every phase summary recorded for s so far, in
// recording order, for prefixing a subsequent agent's prompt.
func (c *Compactor) LoadSummaries(ctx context.Context, s *state.AnalysisState) ([]string, error) {
	var out []string
	for _, ps := range s.Metadata.CheckpointInfo.PhaseSummaries {
		data, found, err := c.store.Get(ctx, ps.Namespace, ps.Key)
		if err != nil {
			return nil, fmt.Errorf("compactor: load summary %s/%s: %w", ps.Namespace, ps.Key, err)
		}
		if found {
			out = append(out, string(data))
		}
	}
	return out, nil
}

// summaryPreview truncates a summary to a short reference-form preview.
func summaryPreview(summary string) string {
	const maxLen = 280
	if len(summary) <= maxLen {
		return summary
	}
	return summary[:maxLen] + "…"
}
