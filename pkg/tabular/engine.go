package tabular

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/sobrief/orchestrator/pkg/event"
	"github.com/sobrief/orchestrator/pkg/llm"
	"github.com/sobrief/orchestrator/pkg/retrieval"
	"github.com/sobrief/orchestrator/pkg/state"
	"github.com/sobrief/orchestrator/pkg/store"
)

// Store is the subset of store.Backend the engine needs to persist cell
// grids and snapshots under tabular/{review_id}.
type Store interface {
	Put(ctx context.Context, namespace, key string, value []byte) error
	Get(ctx context.Context, namespace, key string) (value []byte, found bool, err error)
}

var _ Store = store.Backend(nil)

// snippetsPerCell bounds how many retrieved passages are cross-checked per
// cell for conflict detection.
const snippetsPerCell = 3

// Review describes one tabular extraction request: the set of files and
// column specs to extract, per spec §4.9's inputs.
type Review struct {
	ReviewID string
	CaseID   string
	FileIDs  []string
	Columns  []ColumnSpec
	// ReferenceDate anchors relative date expressions ("yesterday"); zero
	// value defaults to time.Now() at extraction time.
	ReferenceDate time.Time
}

// RunResult is the outcome of one Engine.Run call: either a completed,
// persisted grid, or a suspended run awaiting HITL resolution.
type RunResult struct {
	Cells           []CellExtraction
	Suspended       bool
	PendingFeedback *state.PendingFeedback
}

// Engine runs the tabular sub-graph: validate columns, extract cells,
// detect conflicts, suspend for HITL below the confidence threshold, and
// persist the final grid.
type Engine struct {
	retriever           retrieval.Retriever
	llm                 llm.Client
	store               Store
	confidenceThreshold float64
	hitlEnabled         bool
	cellToolSchema      map[string]any
}

// NewEngine creates a tabular Engine. confidenceThreshold defaults to 0.8
// (HITL_DEFAULT_CONFIDENCE_THRESHOLD) when zero.
func NewEngine(retriever retrieval.Retriever, llmClient llm.Client, s Store, confidenceThreshold float64, hitlEnabled bool) (*Engine, error) {
	if confidenceThreshold <= 0 {
		confidenceThreshold = 0.8
	}
	schema, err := generateCandidateSchema()
	if err != nil {
		return nil, err
	}
	return &Engine{
		retriever:           retriever,
		llm:                 llmClient,
		store:               s,
		confidenceThreshold: confidenceThreshold,
		hitlEnabled:         hitlEnabled,
		cellToolSchema:      schema,
	}, nil
}

// ValidateColumns checks the required-field invariants from spec §4.9 step
// 1 across every column in the set.
func ValidateColumns(columns []ColumnSpec) error {
	if len(columns) == 0 {
		return errColumnField("columns", "at least one column spec is required")
	}
	for _, c := range columns {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CellID builds the stable {file_id}:{column_id} identifier used in
// clarification requests and HITL resume payloads.
func CellID(fileID, columnID string) string {
	return fileID + ":" + columnID
}

// Run extracts every (file, column) cell for review, suspending for HITL if
// any cell falls below the confidence threshold and HITL is enabled,
// otherwise persisting the completed grid.
func (e *Engine) Run(ctx context.Context, review Review) (*RunResult, error) {
	if err := ValidateColumns(review.Columns); err != nil {
		return nil, err
	}
	referenceDate := review.ReferenceDate
	if referenceDate.IsZero() {
		referenceDate = time.Now()
	}

	cells := make([]CellExtraction, 0, len(review.FileIDs)*len(review.Columns))
	for _, fileID := range review.FileIDs {
		for _, col := range review.Columns {
			cell, err := e.extractCell(ctx, review.CaseID, review.ReviewID, fileID, col, referenceDate)
			if err != nil {
				return nil, fmt.Errorf("tabular: extract %s: %w", CellID(fileID, col.ColumnID), err)
			}
			cells = append(cells, cell)
		}
	}

	if needsReview := lowConfidenceCells(cells, e.confidenceThreshold); len(needsReview) > 0 && e.hitlEnabled {
		return &RunResult{
			Cells:           cells,
			Suspended:       true,
			PendingFeedback: buildPendingFeedback(review.ReviewID, needsReview),
		}, nil
	}

	if err := e.Persist(ctx, review.ReviewID, cells); err != nil {
		return nil, err
	}
	return &RunResult{Cells: cells}, nil
}

// Resume applies human decisions from a HITL resume signal, per spec §4.9
// step 4: "Resume replaces values and sets status=manual_override." Each
// changed cell gets an appended history entry, and the grid is persisted.
func (e *Engine) Resume(ctx context.Context, reviewID string, cells []CellExtraction, responses map[string]ReviewResult) ([]CellExtraction, error) {
	for i := range cells {
		id := CellID(cells[i].FileID, cells[i].ColumnID)
		resp, ok := responses[id]
		if !ok || !resp.Confirmed {
			continue
		}
		previous := cells[i].Value
		cells[i].Value = resp.Value
		cells[i].NormalizedValue = resp.Value
		cells[i].Status = StatusManualOverride
		cells[i].appendHistory("human", "manual_override", previous, "HITL resume")
	}

	if err := e.Persist(ctx, reviewID, cells); err != nil {
		return nil, err
	}
	return cells, nil
}

// Persist writes the cell grid to tabular/{review_id} under the "cells" key.
func (e *Engine) Persist(ctx context.Context, reviewID string, cells []CellExtraction) error {
	data, err := json.Marshal(cells)
	if err != nil {
		return fmt.Errorf("tabular: marshal cells: %w", err)
	}
	if err := e.store.Put(ctx, store.TabularNamespace(reviewID), "cells", data); err != nil {
		return fmt.Errorf("tabular: persist cells: %w", err)
	}
	return nil
}

// extractCell runs phase 2 (extract) and phase 3 (conflict detection) for
// one (file, column) pair.
func (e *Engine) extractCell(ctx context.Context, caseID, reviewID, fileID string, col ColumnSpec, referenceDate time.Time) (CellExtraction, error) {
	docs, err := e.retriever.Retrieve(ctx, caseID, col.Prompt, snippetsPerCell, retrieval.StrategySimple, retrieval.Filters{"file_id": fileID})
	if err != nil {
		return CellExtraction{}, err
	}

	cell := CellExtraction{ReviewID: reviewID, FileID: fileID, ColumnID: col.ColumnID}
	if len(docs) == 0 {
		cell.Status = StatusEmpty
		return cell, nil
	}

	var candidates []candidateValue
	var sourceDocs []retrieval.Document
	for _, doc := range docs {
		cv, err := e.extractCandidate(ctx, col, doc)
		if err != nil {
			continue // one failed passage does not fail the whole cell
		}
		candidates = append(candidates, cv)
		sourceDocs = append(sourceDocs, doc)
	}
	if len(candidates) == 0 {
		cell.Status = StatusEmpty
		return cell, nil
	}

	return mergeCandidates(cell, col, candidates, sourceDocs, referenceDate), nil
}

// extractCandidate runs one structured LLM call over a single retrieved
// passage and decodes its tool-call arguments into a candidateValue.
func (e *Engine) extractCandidate(ctx context.Context, col ColumnSpec, doc retrieval.Document) (candidateValue, error) {
	req := llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "Extract structured data from the document excerpt for one table column. Call extract_cell with your answer; never answer in plain prose."},
			{Role: "user", Content: fmt.Sprintf("Column %q (%s): %s\n\nDocument excerpt:\n%s", col.Label, col.Type, col.Prompt, doc.Content)},
		},
		Tools: []llm.Tool{{
			Name:        "extract_cell",
			Description: "Record the extracted value for this column from this document excerpt.",
			Schema:      e.cellToolSchema,
		}},
		Temperature: 0,
	}

	resp, err := e.llm.Complete(ctx, req)
	if err != nil {
		return candidateValue{}, err
	}
	if len(resp.ToolCalls) == 0 {
		return candidateValue{}, fmt.Errorf("no structured response for column %s", col.ColumnID)
	}

	var cv candidateValue
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: &cv})
	if err != nil {
		return candidateValue{}, fmt.Errorf("build candidate decoder: %w", err)
	}
	if err := decoder.Decode(resp.ToolCalls[0].Arguments); err != nil {
		return candidateValue{}, fmt.Errorf("decode candidate: %w", err)
	}
	if cv.SourcePage == 0 {
		if page, ok := doc.Metadata["page"].(int); ok {
			cv.SourcePage = page
		}
	}
	if cv.SourceSection == "" {
		if section, ok := doc.Metadata["section"].(string); ok {
			cv.SourceSection = section
		}
	}
	return cv, nil
}

// mergeCandidates applies per-type normalization to every candidate, then
// implements spec §4.9 step 3: if the normalized values disagree, mark the
// cell conflict with confidence = min of candidates and retain all raw
// values; otherwise the cell is extracted with the corroborating
// candidates' highest confidence.
func mergeCandidates(cell CellExtraction, col ColumnSpec, candidates []candidateValue, docs []retrieval.Document, referenceDate time.Time) CellExtraction {
	type normalized struct {
		candidateValue
		normalizedValue string
		ok              bool
	}
	norms := make([]normalized, len(candidates))
	for i, cv := range candidates {
		value, normalizedValue, ok := normalizeForType(col, cv, docs[i], referenceDate)
		norms[i] = normalized{candidateValue: candidateValue{
			Value:         value,
			VerbatimQuote: cv.VerbatimQuote,
			SourcePage:    cv.SourcePage,
			SourceSection: cv.SourceSection,
			Confidence:    cv.Confidence,
		}, normalizedValue: normalizedValue, ok: ok}
	}

	distinct := map[string]bool{}
	for _, n := range norms {
		distinct[n.normalizedValue] = true
	}

	best := norms[0]
	minConfidence := norms[0].Confidence
	for _, n := range norms[1:] {
		if n.Confidence > best.Confidence {
			best = n
		}
		if n.Confidence < minConfidence {
			minConfidence = n.Confidence
		}
	}

	cell.Value = best.Value
	cell.NormalizedValue = best.normalizedValue
	cell.VerbatimQuote = best.VerbatimQuote
	cell.SourcePage = best.SourcePage
	cell.SourceSection = best.SourceSection

	anyInvalid := false
	for _, n := range norms {
		if !n.ok {
			anyInvalid = true
		}
	}

	switch {
	case len(distinct) > 1:
		cell.Status = StatusConflict
		cell.Confidence = minConfidence
		for _, n := range norms {
			cell.Candidates = append(cell.Candidates, n.Value)
		}
		sort.Strings(cell.Candidates)
	case anyInvalid || !best.ok:
		cell.Status = StatusConflict
		cell.Confidence = 0
		cell.Candidates = []string{best.Value}
	default:
		cell.Status = StatusExtracted
		cell.Confidence = best.Confidence
	}
	return cell
}

// normalizeForType applies the per-type rule from spec §4.9 step 2 and
// reports ok=false when the value fails a type-specific requirement
// (unparseable date, non-derivable verbatim quote).
func normalizeForType(col ColumnSpec, cv candidateValue, doc retrieval.Document, referenceDate time.Time) (value, normalizedValue string, ok bool) {
	switch col.Type {
	case ColumnDate:
		iso, parsed := NormalizeDate(cv.Value, referenceDate)
		if !parsed {
			return cv.Value, "", false
		}
		return cv.Value, iso, true
	case ColumnCurrency:
		value, normalized := NormalizeCurrency(cv.Value)
		return value, normalized, true
	case ColumnYesNo:
		mapped := NormalizeYesNo(cv.Value)
		return mapped, mapped, true
	case ColumnVerbatim:
		if !VerbatimDerivable(cv.VerbatimQuote, doc.Content) {
			return cv.Value, cv.VerbatimQuote, false
		}
		return cv.VerbatimQuote, cv.VerbatimQuote, true
	case ColumnTag, ColumnMultiTag:
		return cv.Value, strings.ToLower(strings.TrimSpace(cv.Value)), true
	default:
		return cv.Value, strings.TrimSpace(cv.Value), true
	}
}

// lowConfidenceCells returns every cell below threshold, in a stable
// (file_id, column_id) order for deterministic clarification requests.
func lowConfidenceCells(cells []CellExtraction, threshold float64) []CellExtraction {
	var out []CellExtraction
	for _, c := range cells {
		if c.Confidence < threshold {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FileID != out[j].FileID {
			return out[i].FileID < out[j].FileID
		}
		return out[i].ColumnID < out[j].ColumnID
	})
	return out
}

// buildPendingFeedback converts low-confidence cells into the state
// package's HITL suspension record.
func buildPendingFeedback(reviewID string, cells []CellExtraction) *state.PendingFeedback {
	requests := make([]state.ClarificationRequest, len(cells))
	for i, c := range cells {
		requests[i] = state.ClarificationRequest{
			CellID:     CellID(c.FileID, c.ColumnID),
			Reason:     fmt.Sprintf("confidence %.2f below threshold", c.Confidence),
			Candidates: append([]string(nil), c.Candidates...),
		}
	}
	return &state.PendingFeedback{ReviewID: reviewID, Requests: requests}
}

// ToEventRequests converts a PendingFeedback into the wire-format
// clarification requests the orchestrator emits as a clarification_request
// event (spec §6).
func ToEventRequests(pf *state.PendingFeedback) []event.ClarificationRequest {
	if pf == nil {
		return nil
	}
	out := make([]event.ClarificationRequest, len(pf.Requests))
	for i, r := range pf.Requests {
		out[i] = event.ClarificationRequest{CellID: r.CellID, Reason: r.Reason, Candidates: r.Candidates}
	}
	return out
}
