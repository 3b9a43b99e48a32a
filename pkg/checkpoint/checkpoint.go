// Package checkpoint implements the checkpoint & recovery layer (C8):
// durable snapshots of AnalysisState keyed by thread_id, so a crashed or
// paused run can resume from its last completed step instead of
// restarting the whole case. Rebuilt from the teacher's
// pkg/checkpoint (task/session scoped) against this domain's
// case/run/thread_id model; persistence itself now goes through
// pkg/store rather than session.Service.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sobrief/orchestrator/pkg/state"
)

// Type records why a checkpoint was created.
type Type string

const (
	// TypeInterval is a periodic checkpoint taken during the SCHEDULE loop.
	TypeInterval Type = "interval"
	// TypeLongOperation marks a checkpoint taken right after a step whose
	// run time reached the long-operation threshold.
	TypeLongOperation Type = "long_operation"
	// TypeHITL marks a checkpoint taken while suspended for human review
	// (tabular low-confidence cells, clarification requests).
	TypeHITL Type = "hitl"
	// TypeError marks a checkpoint taken after an agent invocation returned
	// an error.
	TypeError Type = "error"
	// TypeManual is an explicitly requested checkpoint.
	TypeManual Type = "manual"
)

// Checkpoint is a durable snapshot of one case's AnalysisState.
type Checkpoint struct {
	ThreadID  string            `json:"thread_id"`
	RunID     string            `json:"run_id"`
	Type      Type              `json:"checkpoint_type"`
	State     *state.AnalysisState `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
}

// New builds a Checkpoint for the given state.
func New(s *state.AnalysisState, t Type) *Checkpoint {
	return &Checkpoint{
		ThreadID:  state.ThreadID(s.CaseID),
		RunID:     s.RunID,
		Type:      t,
		State:     s,
		CreatedAt: time.Now(),
	}
}

// Serialize converts the Checkpoint to JSON bytes.
func (c *Checkpoint) Serialize() ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("checkpoint: cannot serialize nil checkpoint")
	}
	return json.Marshal(c)
}

// Deserialize reconstructs a Checkpoint from JSON bytes.
func Deserialize(data []byte) (*Checkpoint, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("checkpoint: cannot deserialize empty data")
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal: %w", err)
	}
	return &c, nil
}
