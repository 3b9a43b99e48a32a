// Package tabular implements the structured cell-level extraction engine
// (C11): per-(document, column) extraction with typed normalization,
// conflict detection, and HITL suspend/resume at low confidence. Invoked as
// a sub-graph when the requested analysis is structured table building.
// Grounded on original_source's tabular_graph_service.py for phase
// ordering and per-type normalization rules, and on the teacher's use of
// excelize/v2 for the snapshot artifact.
package tabular

import "time"

// ColumnType enumerates the supported cell value types (spec §4.9).
type ColumnType string

const (
	ColumnText         ColumnType = "text"
	ColumnNumber       ColumnType = "number"
	ColumnCurrency     ColumnType = "currency"
	ColumnDate         ColumnType = "date"
	ColumnYesNo        ColumnType = "yes_no"
	ColumnTag          ColumnType = "tag"
	ColumnMultiTag     ColumnType = "multi_tag"
	ColumnVerbatim     ColumnType = "verbatim"
	ColumnBulletedList ColumnType = "bulleted_list"
)

// ColumnSpec describes one column of the requested table.
type ColumnSpec struct {
	ColumnID string     `json:"column_id"`
	Label    string     `json:"label"`
	Type     ColumnType `json:"type"`
	Prompt   string     `json:"prompt"`
	// Config carries type-specific configuration. Only tag/multi_tag's
	// required option list under "options" is read (via Options); date
	// columns take their reference date from Review.ReferenceDate.
	Config map[string]any `json:"config,omitempty"`
}

// Options returns the tag option list declared in Config, if any.
func (c ColumnSpec) Options() []string {
	raw, ok := c.Config["options"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Validate checks the required-field invariants from spec §4.9 step 1.
func (c ColumnSpec) Validate() error {
	if c.ColumnID == "" {
		return errColumnField("column_id", "is required")
	}
	if c.Prompt == "" {
		return errColumnField(c.ColumnID, "prompt must not be empty")
	}
	if (c.Type == ColumnTag || c.Type == ColumnMultiTag) && len(c.Options()) == 0 {
		return errColumnField(c.ColumnID, "tag-typed columns must carry an option list")
	}
	return nil
}

// CellStatus tracks a CellExtraction's lifecycle.
type CellStatus string

const (
	StatusPending        CellStatus = "pending"
	StatusExtracted      CellStatus = "extracted"
	StatusConflict       CellStatus = "conflict"
	StatusEmpty          CellStatus = "empty"
	StatusManualOverride CellStatus = "manual_override"
)

// HistoryEntry records one change made to a cell, per spec §4.9 step 5.
type HistoryEntry struct {
	ChangedBy     string    `json:"changed_by"`
	ChangeType    string    `json:"change_type"`
	PreviousValue string    `json:"previous_value,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

// CellExtraction is the row produced for one (file, column) pair.
type CellExtraction struct {
	ReviewID        string         `json:"review_id"`
	FileID          string         `json:"file_id"`
	ColumnID        string         `json:"column_id"`
	Value           string         `json:"value"`
	NormalizedValue string         `json:"normalized_value,omitempty"`
	VerbatimQuote   string         `json:"verbatim_quote,omitempty"`
	SourcePage      int            `json:"source_page,omitempty"`
	SourceSection   string         `json:"source_section,omitempty"`
	Confidence      float64        `json:"confidence"`
	Status          CellStatus     `json:"status"`
	Candidates      []string       `json:"candidates,omitempty"`
	History         []HistoryEntry `json:"history,omitempty"`
}

// appendHistory records a change, keeping the history append-only per
// invariant: "the current row always reflects the latest."
func (c *CellExtraction) appendHistory(changedBy, changeType, previousValue, reason string) {
	c.History = append(c.History, HistoryEntry{
		ChangedBy:     changedBy,
		ChangeType:    changeType,
		PreviousValue: previousValue,
		Reason:        reason,
		At:            time.Now(),
	})
}

// ReviewResult is the HITL resume payload item: {value, confirmed} keyed by
// cell_id in spec §4.9 step 4.
type ReviewResult struct {
	Value     string
	Confirmed bool
}

type columnFieldError struct {
	field, reason string
}

func (e *columnFieldError) Error() string {
	return "tabular: column " + e.field + " " + e.reason
}

func errColumnField(field, reason string) error {
	return &columnFieldError{field: field, reason: reason}
}
