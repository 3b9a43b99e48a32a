// Package state defines AnalysisState, the sole mutable value that flows
// through the orchestration graph, along with its nested types (PlanStep,
// ResultSlot, CellExtraction, Patterns) and the invariants the scheduler and
// checkpoint layer rely on.
package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// Complexity classifies the perceived difficulty of a requested analysis,
// derived by UNDERSTAND from task text, document count, and keywords.
type Complexity string

const (
	ComplexitySimple Complexity = "simple"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Understanding is the parsed task produced by the UNDERSTAND phase.
type Understanding struct {
	Goals         []string   `json:"goals,omitempty"`
	Complexity    Complexity `json:"complexity"`
	TaskType      string     `json:"task_type,omitempty"`
	NeedsPlanning bool       `json:"needs_planning"`
	Reasoning     string     `json:"reasoning,omitempty"`
	Confidence    float64    `json:"confidence,omitempty"`
}

// ErrorEntry records one failure against the append-only errors log.
type ErrorEntry struct {
	Agent      string    `json:"agent"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	RetryCount int       `json:"retry_count"`
	At         time.Time `json:"at"`
}

// StateMessage is one entry in the chronological event log used for
// streaming reconstruction and audit.
type StateMessage struct {
	Seq       int            `json:"seq"`
	Type      string         `json:"type"`
	Agent     string         `json:"agent,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// CheckpointInfo tracks the timing metadata middleware uses to decide when
// to trigger a checkpoint (C7) and the compactor uses to decide when it has
// already produced a phase summary (C9).
type CheckpointInfo struct {
	LastCheckpointTime  time.Time      `json:"last_checkpoint_time"`
	OperationStartTime  time.Time      `json:"operation_start_time"`
	CheckpointCount     int            `json:"checkpoint_count"`
	PhaseSummaries      []PhaseSummary `json:"phase_summaries,omitempty"`
}

// PhaseSummary is one compaction record: which agents were summarized, and
// where the summary text lives in the store.
type PhaseSummary struct {
	RunID     string   `json:"run_id"`
	Agents    []string `json:"agents"`
	Namespace string   `json:"namespace"`
	Key       string   `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingFeedback represents a suspended human-in-the-loop question, set
// when the tabular engine (C11) or router needs a user response before the
// run can proceed.
type PendingFeedback struct {
	ReviewID string                 `json:"review_id,omitempty"`
	Requests []ClarificationRequest `json:"requests"`
}

// ClarificationRequest names one cell needing a human decision.
type ClarificationRequest struct {
	CellID     string   `json:"cell_id"`
	Reason     string   `json:"reason"`
	Candidates []string `json:"candidates,omitempty"`
}

// AnalysisState is the sole mutable value flowing through the graph.
// Agents receive a read-mostly view and return a patch; only the
// orchestrator and scheduler mutate the canonical copy. It must always be
// JSON-serializable (invariant iv): every field here is a plain value,
// slice, map, or pointer to one.
type AnalysisState struct {
	CaseID        string   `json:"case_id"`
	UserID        string   `json:"user_id"`
	RunID         string   `json:"run_id"`
	AnalysisTypes []string `json:"analysis_types"`

	Understanding Understanding `json:"understanding"`
	Plan          []*PlanStep   `json:"plan"`

	CompletedSteps map[string]bool `json:"completed_steps"`

	Results map[string]*ResultSlot `json:"results"`

	Errors   []ErrorEntry   `json:"errors,omitempty"`
	Messages []StateMessage `json:"messages,omitempty"`

	Metadata struct {
		CheckpointInfo CheckpointInfo `json:"checkpoint_info"`
	} `json:"metadata"`

	PendingFeedback *PendingFeedback `json:"pending_feedback,omitempty"`
	ReplanCount     int              `json:"replan_count"`

	Terminal bool `json:"terminal"`
}

// New creates a state ready for UNDERSTAND, with empty slot maps so agents
// never need a nil check before writing.
func New(caseID, userID, runID string, analysisTypes []string) *AnalysisState {
	return &AnalysisState{
		CaseID:         caseID,
		UserID:         userID,
		RunID:          runID,
		AnalysisTypes:  analysisTypes,
		CompletedSteps: make(map[string]bool),
		Results:        make(map[string]*ResultSlot),
	}
}

// IsCompleted reports whether agentKind has a non-null result, i.e. whether
// dependency safety (spec Testable Properties) is satisfied for that kind.
func (s *AnalysisState) IsCompleted(agentKind string) bool {
	slot, ok := s.Results[agentKind]
	return ok && slot != nil && !slot.IsEmpty()
}

// DependenciesSatisfied reports whether every entry in deps has a non-null
// result slot — invariant (i).
func (s *AnalysisState) DependenciesSatisfied(deps []string) bool {
	for _, d := range deps {
		if !s.IsCompleted(d) {
			return false
		}
	}
	return true
}

// MarkCompleted records a step id as completed. completed_steps is
// monotonic (invariant ii): once set, a step id is never cleared.
func (s *AnalysisState) MarkCompleted(stepID string) {
	if s.CompletedSteps == nil {
		s.CompletedSteps = make(map[string]bool)
	}
	s.CompletedSteps[stepID] = true
}

// SetResult installs a result slot for agentKind. It is the only mutation
// point for the Results map so callers cannot accidentally violate
// parallel disjointness (each fan-out worker calls this only for its own
// kind).
func (s *AnalysisState) SetResult(agentKind string, slot *ResultSlot) {
	if s.Terminal {
		return // invariant (iii): no mutation once terminal
	}
	if s.Results == nil {
		s.Results = make(map[string]*ResultSlot)
	}
	s.Results[agentKind] = slot
}

// AddError appends an error entry; the log is append-only.
func (s *AnalysisState) AddError(e ErrorEntry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.Errors = append(s.Errors, e)
}

// AppendMessage appends a streaming event to the chronological log.
func (s *AnalysisState) AppendMessage(m StateMessage) {
	m.Seq = len(s.Messages)
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	s.Messages = append(s.Messages, m)
}

// MarkTerminal sets terminal=true. Per invariant (iii), subsequent calls to
// SetResult are no-ops.
func (s *AnalysisState) MarkTerminal() {
	s.Terminal = true
}

// EstimatedSize returns the approximate serialized size in bytes, used by
// the compactor's coarse bytes/4 token estimator and by the state-size-bound
// testable property.
func (s *AnalysisState) EstimatedSize() (int, error) {
	data, err := s.Serialize()
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// Serialize converts the state to JSON, the checkpoint wire format.
func (s *AnalysisState) Serialize() ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("cannot serialize nil state")
	}
	return json.Marshal(s)
}

// Deserialize reconstructs a state from JSON produced by Serialize.
// Checkpoint roundtrip (Testable Properties) requires
// Deserialize(Serialize(s)) to equal s modulo reference offloading, which
// holds here because ResultSlot already carries its own reference form.
func Deserialize(data []byte) (*AnalysisState, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot deserialize empty state")
	}
	var s AnalysisState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal analysis state: %w", err)
	}
	return &s, nil
}

// ThreadID is the checkpoint key for this case, per §6's persisted state
// layout: one latest checkpoint per thread, keyed by case.
func ThreadID(caseID string) string {
	return fmt.Sprintf("case_%s", caseID)
}
