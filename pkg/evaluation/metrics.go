// Package evaluation scores completed agent results and decides whether a
// run needs to replan (C13). Grounded on the teacher's
// pkg/evaluation/metrics.go: the same EvaluationMetrics-struct-plus-
// keyword-heuristic shape, rebuilt around the four metrics spec §4.11
// names instead of the teacher's RAG metrics (context precision/recall,
// faithfulness), and computed deterministically from result content
// rather than by asking an LLM to self-score.
package evaluation

import (
	"strings"
	"time"
)

// Metrics holds the four per-result scores from spec §4.11 plus their
// weighted aggregate.
type Metrics struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Relevance    float64 `json:"relevance"`
	Consistency  float64 `json:"consistency"`
	Aggregate    float64 `json:"aggregate"`
}

// weight is applied equally across the four metrics; the spec does not
// name a different weighting scheme.
const weight = 0.25

// Evaluate scores one agent's result. items is the list of produced
// entries (see ExtractItems); expectedItems is the caller's heuristic for
// how many items a complete result should have (e.g. document count, or
// a fixed floor when there is no natural per-document cardinality);
// goals are the task keywords from Understanding.Goals used for the
// relevance check.
func Evaluate(items []map[string]any, expectedItems int, goals []string) Metrics {
	m := Metrics{
		Completeness: completenessScore(len(items), expectedItems),
		Accuracy:     accuracyScore(items),
		Relevance:    relevanceScore(items, goals),
		Consistency:  consistencyScore(items),
	}
	m.Aggregate = weight*m.Completeness + weight*m.Accuracy + weight*m.Relevance + weight*m.Consistency
	return m
}

// ExtractItems normalizes a result slot's inline payload into a list of
// item maps. Agents emit their produced entries under one of a few
// conventional list keys; a result with none of them is treated as a
// single item (e.g. a summary agent's one paragraph of prose).
func ExtractItems(inline map[string]any) []map[string]any {
	for _, key := range []string{"items", "events", "entities", "facts", "risks", "results"} {
		raw, ok := inline[key]
		if !ok {
			continue
		}
		list, ok := raw.([]any)
		if !ok {
			continue
		}
		items := make([]map[string]any, 0, len(list))
		for _, v := range list {
			if m, ok := v.(map[string]any); ok {
				items = append(items, m)
			}
		}
		return items
	}
	if len(inline) == 0 {
		return nil
	}
	return []map[string]any{inline}
}

func completenessScore(produced, expected int) float64 {
	if expected <= 0 {
		expected = 1
	}
	score := float64(produced) / float64(expected)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

var citationFields = []string{"source", "citation", "source_page", "source_section", "verbatim_quote"}

func accuracyScore(items []map[string]any) float64 {
	if len(items) == 0 {
		return 0.0
	}
	cited := 0
	for _, item := range items {
		for _, field := range citationFields {
			if hasNonEmpty(item, field) {
				cited++
				break
			}
		}
	}
	return float64(cited) / float64(len(items))
}

var textFields = []string{"text", "value", "description", "summary", "label"}

// relevanceScore averages a keyword check (do the produced items mention
// any of the task's goal words) against a structural check (does each
// item carry a non-empty primary text field at all).
func relevanceScore(items []map[string]any, goals []string) float64 {
	if len(items) == 0 {
		return 0.0
	}
	structural := 0
	for _, item := range items {
		for _, field := range textFields {
			if hasNonEmpty(item, field) {
				structural++
				break
			}
		}
	}
	structuralScore := float64(structural) / float64(len(items))

	if len(goals) == 0 {
		return structuralScore
	}
	keywords := make([]string, len(goals))
	for i, g := range goals {
		keywords[i] = strings.ToLower(g)
	}
	matched := 0
	for _, item := range items {
		text := strings.ToLower(itemText(item))
		for _, kw := range keywords {
			if kw != "" && strings.Contains(text, kw) {
				matched++
				break
			}
		}
	}
	keywordScore := float64(matched) / float64(len(items))
	return (structuralScore + keywordScore) / 2.0
}

// consistencyScore checks two structural invariants when applicable:
// dates are non-decreasing in item order, and ids do not repeat. A check
// that finds no applicable fields is skipped rather than penalized.
func consistencyScore(items []map[string]any) float64 {
	checks := 0
	passed := 0

	if dates, ok := extractDates(items); ok {
		checks++
		if isMonotonic(dates) {
			passed++
		}
	}

	if ids, ok := extractIDs(items); ok {
		checks++
		if !hasDuplicate(ids) {
			passed++
		}
	}

	if checks == 0 {
		return 1.0
	}
	return float64(passed) / float64(checks)
}

func extractDates(items []map[string]any) ([]time.Time, bool) {
	var dates []time.Time
	for _, item := range items {
		raw, ok := item["date"]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			continue
		}
		dates = append(dates, t)
	}
	return dates, len(dates) > 1
}

func isMonotonic(dates []time.Time) bool {
	for i := 1; i < len(dates); i++ {
		if dates[i].Before(dates[i-1]) {
			return false
		}
	}
	return true
}

func extractIDs(items []map[string]any) ([]string, bool) {
	var ids []string
	for _, item := range items {
		raw, ok := item["id"]
		if !ok {
			continue
		}
		if s, ok := raw.(string); ok && s != "" {
			ids = append(ids, s)
		}
	}
	return ids, len(ids) > 1
}

func hasDuplicate(ids []string) bool {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return true
		}
		seen[id] = true
	}
	return false
}

func hasNonEmpty(item map[string]any, field string) bool {
	raw, ok := item[field]
	if !ok {
		return false
	}
	s, ok := raw.(string)
	return ok && strings.TrimSpace(s) != ""
}

func itemText(item map[string]any) string {
	var parts []string
	for _, field := range textFields {
		if s, ok := item[field].(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
