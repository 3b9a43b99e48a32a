package tabular

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/sobrief/orchestrator/pkg/store"
)

// snapshotSheetName is the single worksheet every review snapshot uses.
const snapshotSheetName = "Review"

// BuildSnapshot renders the cell grid as an .xlsx workbook: one row per
// file, one column per column spec, per SPEC_FULL.md §4.12. It is an
// internal downstream-analyst artifact, not a UI export.
func BuildSnapshot(fileIDs []string, columns []ColumnSpec, cells []CellExtraction) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(snapshotSheetName)
	if err != nil {
		return nil, fmt.Errorf("tabular: new sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	if err := f.SetCellValue(snapshotSheetName, "A1", "file_id"); err != nil {
		return nil, err
	}
	for i, col := range columns {
		ref, err := excelize.CoordinatesToCellName(i+2, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(snapshotSheetName, ref, col.Label); err != nil {
			return nil, err
		}
	}

	byFileAndColumn := make(map[string]map[string]CellExtraction, len(fileIDs))
	for _, c := range cells {
		if byFileAndColumn[c.FileID] == nil {
			byFileAndColumn[c.FileID] = make(map[string]CellExtraction)
		}
		byFileAndColumn[c.FileID][c.ColumnID] = c
	}

	for r, fileID := range fileIDs {
		row := r + 2
		ref, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(snapshotSheetName, ref, fileID); err != nil {
			return nil, err
		}
		for ci, col := range columns {
			cellRef, err := excelize.CoordinatesToCellName(ci+2, row)
			if err != nil {
				return nil, err
			}
			cell, ok := byFileAndColumn[fileID][col.ColumnID]
			if !ok {
				continue
			}
			if err := f.SetCellValue(snapshotSheetName, cellRef, snapshotDisplayValue(cell)); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("tabular: write snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// snapshotDisplayValue prefers the normalized value, falling back to the
// raw extracted value when normalization produced nothing (e.g. an empty
// or conflicted cell).
func snapshotDisplayValue(c CellExtraction) string {
	if c.NormalizedValue != "" {
		return c.NormalizedValue
	}
	return c.Value
}

// snapshotKey is the store key BuildSnapshot's output is written under,
// inside the tabular/{review_id} namespace.
const snapshotKey = "snapshot.xlsx"

// SnapshotLocation returns the namespace/key DELIVER should write a
// BuildSnapshot result to via the store-by-reference mechanism (C8).
func SnapshotLocation(reviewID string) (namespace, key string) {
	return store.TabularNamespace(reviewID), snapshotKey
}
