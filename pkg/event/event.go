// Package event defines the streaming event types the orchestrator emits at
// every node boundary (§4.1, §6) and the bounded queue that carries them to
// a transport without ever dropping one (§5).
package event

import "time"

// Type enumerates the required event types from §6's event stream format.
type Type string

const (
	TypePhase               Type = "phase"
	TypeStepStarted         Type = "step_started"
	TypeStepCompleted       Type = "step_completed"
	TypeStepFailed          Type = "step_failed"
	TypeCacheHit            Type = "cache_hit"
	TypePartialToken        Type = "partial_token"
	TypeClarificationRequest Type = "clarification_request"
	TypeError               Type = "error"
	TypeComplete            Type = "complete"
)

// Event is one line of the SSE-equivalent stream: `data: <json>`. Fields not
// relevant to a given Type are left zero; transports marshal the whole
// struct as one JSON object.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// phase
	Phase string `json:"phase,omitempty"`

	// step_started / step_completed / step_failed / cache_hit
	Agent         string `json:"agent,omitempty"`
	StepID        string `json:"step_id,omitempty"`
	ElapsedMs     int64  `json:"elapsed_ms,omitempty"`
	Summary       string `json:"summary,omitempty"`
	KeyFingerprint string `json:"key_fingerprint,omitempty"`

	// partial_token
	TextDelta string `json:"text_delta,omitempty"`

	// clarification_request
	ThreadID string                  `json:"thread_id,omitempty"`
	Requests []ClarificationRequest `json:"requests,omitempty"`

	// error
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`

	// complete
	RunID      string   `json:"run_id,omitempty"`
	ResultRefs []string `json:"result_refs,omitempty"`
}

// ClarificationRequest names one HITL item awaiting a human response.
type ClarificationRequest struct {
	CellID     string   `json:"cell_id"`
	Reason     string   `json:"reason"`
	Candidates []string `json:"candidates,omitempty"`
}

// Done is the literal terminator line the transport writes after the last
// event ("[DONE]" per §6); it is not itself an Event value.
const Done = "[DONE]"
