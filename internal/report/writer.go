// =============================================================================
// Fee Ledger - Error Report Writer
// =============================================================================
//
// Writes the per-run error report next to the summary log. Two formats are
// supported:
//   - csv:  one flat table with the columns Row, Field, Value, Code, Reason
//   - xlsx: an "Errors" sheet with the same columns plus a "Duplicates" sheet
//     listing every receipt that appeared on more than one row
//
// The report is the only place rejected rows are surfaced to the bursar, so
// it is written for every run that has errors, including failed runs.
//
// =============================================================================

package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/feeledger/internal/types"
	"github.com/ginjaninja78/feeledger/pkg/utils"
)

// Supported report formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Sheet names of the xlsx report.
const (
	SheetErrors     = "Errors"
	SheetDuplicates = "Duplicates"
)

var errorColumns = []string{"Row", "Field", "Value", "Code", "Reason"}

// =============================================================================
// DUPLICATE REPORT
// =============================================================================

// DuplicateRow is one spreadsheet row sharing a receipt number with others.
type DuplicateRow struct {
	Row       int    `json:"row"`
	Matricule string `json:"matricule"`
	Name      string `json:"name"`
}

// DuplicateGroup lists all rows carrying the same receipt number.
type DuplicateGroup struct {
	Receipt string         `json:"receipt"`
	Rows    []DuplicateRow `json:"rows"`
}

// RowNumbers returns the row numbers of the group in order.
func (g DuplicateGroup) RowNumbers() []int {
	out := make([]int, len(g.Rows))
	for i, r := range g.Rows {
		out[i] = r.Row
	}
	return out
}

// DuplicateReport is the list of duplicate groups found in one file.
type DuplicateReport []DuplicateGroup

// RowCount returns the number of rows involved in any duplicate group.
func (d DuplicateReport) RowCount() int {
	n := 0
	for _, g := range d {
		n += len(g.Rows)
	}
	return n
}

// =============================================================================
// STREAM WRITERS
// =============================================================================

// WriteCSV writes errs as a CSV table. Duplicate groups are appended as
// rejected rows so the flat report stays complete.
func WriteCSV(w io.Writer, errs []RowError, dups DuplicateReport) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(errorColumns); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}
	for _, e := range mergeDuplicates(errs, dups) {
		if err := cw.Write(errorRecord(e)); err != nil {
			return fmt.Errorf("failed to write report row %d: %w", e.Row, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes the two-sheet workbook to w.
func WriteXLSX(w io.Writer, errs []RowError, dups DuplicateReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetErrors); err != nil {
		return fmt.Errorf("failed to name errors sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetDuplicates); err != nil {
		return fmt.Errorf("failed to create duplicates sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	errRows := make([][]any, 0, len(errs))
	for _, e := range errs {
		errRows = append(errRows, []any{e.Row, string(e.Field), e.Value, e.Code, e.Message})
	}
	if err := writeSheet(f, SheetErrors, toAny(errorColumns), errRows, bold); err != nil {
		return err
	}

	var dupRows [][]any
	for _, g := range dups {
		for _, r := range g.Rows {
			dupRows = append(dupRows, []any{g.Receipt, r.Row, r.Matricule, r.Name})
		}
	}
	dupHeader := []any{"Receipt", "Row", "Matricule", "Name"}
	if err := writeSheet(f, SheetDuplicates, dupHeader, dupRows, bold); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []any, rows [][]any, style int) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, style); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}

func errorRecord(e RowError) []string {
	return []string{strconv.Itoa(e.Row), string(e.Field), e.Value, e.Code, e.Message}
}

// mergeDuplicates adds one entry per duplicated row that errs does not
// already report.
func mergeDuplicates(errs []RowError, dups DuplicateReport) []RowError {
	if len(dups) == 0 {
		return errs
	}
	seen := make(map[int]bool)
	for _, e := range errs {
		if e.Code == ErrCodeDuplicateInFile {
			seen[e.Row] = true
		}
	}

	out := append([]RowError(nil), errs...)
	for _, g := range dups {
		for _, r := range g.Rows {
			if seen[r.Row] {
				continue
			}
			out = append(out, Rejection(r.Row, types.FieldNumRecu, ErrCodeDuplicateInFile,
				fmt.Sprintf("receipt '%s' appears on rows %s", g.Receipt, joinInts(g.RowNumbers())), g.Receipt))
		}
	}
	return sortByRow(out)
}

func sortByRow(errs []RowError) []RowError {
	ec := &ErrorCollection{errors: errs}
	return ec.Errors()
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// =============================================================================
// DIRECTORY WRITER
// =============================================================================

// Writer stores error reports in a directory.
type Writer struct {
	Dir        string
	NameFormat string
	Format     string
}

// NewWriter creates a Writer. An empty format means csv.
func NewWriter(dir, nameFormat, format string) *Writer {
	if nameFormat == "" {
		nameFormat = "{original}_errors_{timestamp}"
	}
	format = strings.ToLower(format)
	if format != FormatXLSX {
		format = FormatCSV
	}
	return &Writer{Dir: dir, NameFormat: nameFormat, Format: format}
}

// Write stores the report for the given source file and returns its path.
//
// PARAMETERS:
//   - source: The name of the imported file; used for the {original} placeholder.
//   - runID: The run id; used for the {run} placeholder.
//   - errs, dups: The report contents.
//
// RETURNS:
//   - The path of the written report.
//   - An error if the file cannot be created or written.
func (w *Writer) Write(source, runID string, errs []RowError, dups DuplicateReport) (string, error) {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	name := utils.GenerateOutputFileName(w.NameFormat, "."+w.Format, map[string]string{
		"original": utils.BaseName(source),
		"run":      runID,
	})
	path := filepath.Join(w.Dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	if w.Format == FormatXLSX {
		err = WriteXLSX(file, errs, dups)
	} else {
		err = WriteCSV(file, errs, dups)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}
