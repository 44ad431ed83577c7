// =============================================================================
// Fee Ledger - Sheet Reader
// =============================================================================
//
// This module turns an uploaded spreadsheet into a stream of raw records.
// It handles:
//   - .xlsx workbooks (excelize), legacy .xls workbooks and .csv exports
//   - Header rows that move between spreadsheet revisions: the header is
//     searched for in the first HeaderWindow rows of each sheet
//   - Column synonyms: "N° Reçu", "Recu" and "NumRecu" all map to NumRecu
//   - Decorative and blank rows, which are skipped
//
// HEADER DETECTION:
//   A row is the header when its cells, folded with canon.FoldKey and mapped
//   through the synonym table, cover every required field. The first sheet
//   with such a row wins. When a field has more than one matching column,
//   the leftmost column is used.
//
// =============================================================================

package sheetreader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ginjaninja78/feeledger/internal/canon"
	"github.com/ginjaninja78/feeledger/internal/config"
	"github.com/ginjaninja78/feeledger/internal/types"
)

var (
	// ErrHeaderNotFound means no row in the header window covers the
	// required fields. It is fatal for the run.
	ErrHeaderNotFound = errors.New("header row not found")

	// ErrUnsupportedFormat means the file is not xlsx, xls or csv.
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")
)

// =============================================================================
// HEADER
// =============================================================================

// Header describes the located header row.
type Header struct {
	// Sheet is the name of the worksheet the header was found in.
	Sheet string

	// Row is the 1-based spreadsheet row of the header.
	Row int

	// Columns maps each recognised field to its 0-based column index.
	Columns map[types.Field]int

	// Unmapped lists non-blank header cells that match no field.
	Unmapped []string
}

// HeaderNotFoundError reports which required fields were missing from the
// best candidate row. It wraps ErrHeaderNotFound.
type HeaderNotFoundError struct {
	Window  int
	Missing []types.Field
}

func (e *HeaderNotFoundError) Error() string {
	return fmt.Sprintf("%v in the first %d rows (closest candidate lacks %v)",
		ErrHeaderNotFound, e.Window, e.Missing)
}

func (e *HeaderNotFoundError) Unwrap() error { return ErrHeaderNotFound }

// LocateHeader scans the first cfg.HeaderWindow rows for the header.
//
// RETURNS:
//   - The header; Sheet is left empty.
//   - A *HeaderNotFoundError when no row covers cfg.RequiredFields.
func LocateHeader(rows [][]string, cfg config.ImportConfig) (Header, error) {
	keys := cfg.HeaderKeys()
	var best []types.Field

	for i := 0; i < len(rows) && i < cfg.HeaderWindow; i++ {
		columns, unmapped := mapColumns(rows[i], keys)
		missing := missingFields(columns, cfg.RequiredFields)
		if len(missing) == 0 {
			return Header{Row: i + 1, Columns: columns, Unmapped: unmapped}, nil
		}
		if len(columns) > 0 && (best == nil || len(missing) < len(best)) {
			best = missing
		}
	}

	if best == nil {
		best = append([]types.Field(nil), cfg.RequiredFields...)
	}
	return Header{}, &HeaderNotFoundError{Window: cfg.HeaderWindow, Missing: best}
}

func mapColumns(row []string, keys map[string]types.Field) (map[types.Field]int, []string) {
	columns := make(map[types.Field]int)
	var unmapped []string

	for idx, cell := range row {
		key := canon.FoldKey(cell)
		if key == "" {
			continue
		}
		field, ok := keys[key]
		if !ok {
			unmapped = append(unmapped, canon.CleanString(cell))
			continue
		}
		if _, seen := columns[field]; !seen {
			columns[field] = idx
		}
	}
	return columns, unmapped
}

func missingFields(columns map[types.Field]int, required []types.Field) []types.Field {
	var missing []types.Field
	for _, f := range required {
		if _, ok := columns[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// =============================================================================
// READER
// =============================================================================

// Reader streams the data rows below the header as raw records.
//
// USAGE:
//
//	r, err := sheetreader.Open(ctx, name, file, cfg)
//	for r.Next() {
//	    rec := r.Record()
//	}
//	if err := r.Err(); err != nil { ... }
type Reader struct {
	format Format
	header Header
	rows   [][]string
	next   int
	cur    types.RawRecord
	ctx    context.Context
	err    error
}

// Open decodes the spreadsheet and locates its header.
//
// PARAMETERS:
//   - ctx: Bounds decoding together with cfg.ReadTimeout.
//   - name: The original file name; its extension selects the format.
//   - src: The spreadsheet bytes.
//   - cfg: The import configuration.
//
// RETURNS:
//   - A Reader positioned before the first data row.
//   - An error wrapping ErrHeaderNotFound, ErrUnsupportedFormat, a decode
//     failure or the context error.
func Open(ctx context.Context, name string, src io.Reader, cfg config.ImportConfig) (*Reader, error) {
	parent := ctx
	if cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ReadTimeout)
		defer cancel()
	}

	type decoded struct {
		format Format
		sheets []grid
		err    error
	}
	done := make(chan decoded, 1)

	go func() {
		data, err := io.ReadAll(src)
		if err != nil {
			done <- decoded{err: fmt.Errorf("failed to read spreadsheet: %w", err)}
			return
		}
		format := DetectFormat(name, data)
		sheets, err := loadSheets(format, data, cfg)
		done <- decoded{format: format, sheets: sheets, err: err}
	}()

	var d decoded
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to read spreadsheet: %w", ctx.Err())
	case d = <-done:
	}
	if d.err != nil {
		return nil, d.err
	}

	var firstErr error
	for _, sheet := range d.sheets {
		header, err := LocateHeader(sheet.rows, cfg)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		header.Sheet = sheet.name
		return &Reader{
			format: d.format,
			header: header,
			rows:   sheet.rows,
			next:   header.Row,
			ctx:    parent,
		}, nil
	}
	if firstErr == nil {
		firstErr = &HeaderNotFoundError{Window: cfg.HeaderWindow, Missing: cfg.RequiredFields}
	}
	return nil, firstErr
}

// Format returns the detected container format.
func (r *Reader) Format() Format { return r.format }

// Header returns the located header.
func (r *Reader) Header() Header { return r.header }

// Next advances to the next non-blank data row.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	for r.next < len(r.rows) {
		if err := r.ctx.Err(); err != nil {
			r.err = err
			return false
		}
		idx := r.next
		r.next++

		rec := r.record(idx)
		if rec.IsBlank() {
			continue
		}
		r.cur = rec
		return true
	}
	return false
}

// Record returns the current record. Valid after Next returned true.
func (r *Reader) Record() types.RawRecord { return r.cur }

// Err returns the error that stopped iteration, if any.
func (r *Reader) Err() error { return r.err }

func (r *Reader) record(idx int) types.RawRecord {
	row := r.rows[idx]
	values := make(map[types.Field]string, len(r.header.Columns))
	for field, col := range r.header.Columns {
		if col < len(row) {
			values[field] = row[col]
		} else {
			values[field] = ""
		}
	}
	return types.RawRecord{Row: idx + 1, Values: values}
}

// ReadAll opens the spreadsheet and collects every data row.
func ReadAll(ctx context.Context, name string, src io.Reader, cfg config.ImportConfig) (Header, []types.RawRecord, error) {
	r, err := Open(ctx, name, src, cfg)
	if err != nil {
		return Header{}, nil, err
	}

	var records []types.RawRecord
	for r.Next() {
		records = append(records, r.Record())
	}
	if err := r.Err(); err != nil {
		return r.Header(), records, err
	}
	return r.Header(), records, nil
}
