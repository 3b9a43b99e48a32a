package state

import "time"

// CellStatus is the lifecycle of one CellExtraction.
type CellStatus string

const (
	CellPending        CellStatus = "pending"
	CellExtracted      CellStatus = "extracted"
	CellConflict       CellStatus = "conflict"
	CellEmpty          CellStatus = "empty"
	CellManualOverride CellStatus = "manual_override"
)

// CellHistoryEntry is one append-only change record for a cell. The current
// row always reflects the latest entry's resulting value.
type CellHistoryEntry struct {
	ChangedBy    string    `json:"changed_by"`
	ChangeType   string    `json:"change_type"`
	PreviousValue string   `json:"previous_value,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

// CellExtraction is one (file, column) entry in a tabular review (C11).
type CellExtraction struct {
	ReviewID        string             `json:"review_id"`
	FileID          string             `json:"file_id"`
	ColumnID        string             `json:"column_id"`
	Value           string             `json:"value"`
	NormalizedValue string             `json:"normalized_value,omitempty"`
	VerbatimQuote   string             `json:"verbatim_quote,omitempty"`
	SourcePage      int                `json:"source_page,omitempty"`
	SourceSection   string             `json:"source_section,omitempty"`
	Confidence      float64            `json:"confidence"`
	Status          CellStatus         `json:"status"`
	Candidates      []CellCandidate    `json:"candidates,omitempty"`
	History         []CellHistoryEntry `json:"history,omitempty"`
}

// CellCandidate is one disagreeing extraction kept when a conflict is
// detected, so a human reviewer (or a later pass) can see what disagreed.
type CellCandidate struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	SourcePage int     `json:"source_page,omitempty"`
}

// CellID is the stable identifier HITL clarification requests and resume
// payloads key on.
func (c *CellExtraction) CellID() string {
	return c.ReviewID + ":" + c.FileID + ":" + c.ColumnID
}

// AppendHistory records a change and updates the cell's current value.
func (c *CellExtraction) AppendHistory(changedBy, changeType, reason string) {
	c.History = append(c.History, CellHistoryEntry{
		ChangedBy:     changedBy,
		ChangeType:    changeType,
		PreviousValue: c.Value,
		Reason:        reason,
		At:            time.Now(),
	})
}
