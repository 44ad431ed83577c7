package sheetreader

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shakinm/xlsReader/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/ginjaninja78/feeledger/internal/config"
)

// Format identifies the container format of an input spreadsheet.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
	FormatCSV  Format = "csv"
)

var (
	zipMagic = []byte("PK\x03\x04")
	cfbMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
)

// DetectFormat picks the format from the file extension, falling back to
// the leading bytes when the extension is missing or unknown.
func DetectFormat(name string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".xls":
		return FormatXLS
	case ".csv", ".txt":
		return FormatCSV
	}
	switch {
	case bytes.HasPrefix(data, zipMagic):
		return FormatXLSX
	case bytes.HasPrefix(data, cfbMagic):
		return FormatXLS
	}
	return FormatCSV
}

// grid is one worksheet as rows of cell text. Index i holds spreadsheet
// row i+1.
type grid struct {
	name string
	rows [][]string
}

// loadSheets decodes every worksheet of the file.
func loadSheets(format Format, data []byte, cfg config.ImportConfig) ([]grid, error) {
	switch format {
	case FormatXLSX:
		return loadXLSX(data)
	case FormatXLS:
		return loadXLS(data)
	case FormatCSV:
		return loadCSV(data, cfg)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// =============================================================================
// XLSX
// =============================================================================

// loadXLSX reads raw cell values so dates stay Excel serials and amounts
// keep their full precision; the canonicalizer handles both.
func loadXLSX(data []byte) ([]grid, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	var sheets []grid
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
		}
		sheets = append(sheets, grid{name: name, rows: rows})
	}
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return sheets, nil
}

// =============================================================================
// XLS (BIFF)
// =============================================================================

// loadXLS decodes a legacy workbook. The reader only opens paths, so the
// bytes go through a temporary file.
func loadXLS(data []byte) ([]grid, error) {
	tmp, err := os.CreateTemp("", "feeledger-*.xls")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	wb, err := xls.OpenFile(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to open xls: %w", err)
	}

	var sheets []grid
	for i := 0; i < wb.GetNumberSheets(); i++ {
		sheet, err := wb.GetSheet(i)
		if err != nil || sheet == nil {
			continue
		}

		g := grid{name: fmt.Sprintf("Sheet%d", i+1)}
		for _, row := range sheet.GetRows() {
			if row == nil {
				g.rows = append(g.rows, nil)
				continue
			}
			var cells []string
			for _, col := range row.GetCols() {
				if col == nil {
					cells = append(cells, "")
					continue
				}
				cells = append(cells, col.GetString())
			}
			g.rows = append(g.rows, cells)
		}
		sheets = append(sheets, g)
	}
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no readable sheets")
	}
	return sheets, nil
}

// =============================================================================
// CSV
// =============================================================================

func loadCSV(data []byte, cfg config.ImportConfig) ([]grid, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	var src io.Reader = bytes.NewReader(data)
	switch cfg.CSVEncoding {
	case "windows-1252", "cp1252":
		src = transform.NewReader(src, charmap.Windows1252.NewDecoder())
	case "iso-8859-1", "latin1":
		src = transform.NewReader(src, charmap.ISO8859_1.NewDecoder())
	}

	reader := csv.NewReader(bufio.NewReader(src))
	reader.Comma = sniffDelimiter(data, cfg.CSVDelimiter)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return []grid{{name: "csv", rows: rows}}, nil
}

// sniffDelimiter keeps the configured delimiter unless it never occurs in
// the first few kilobytes while ';' does, which is how French-locale Excel
// exports CSV.
func sniffDelimiter(data []byte, configured rune) rune {
	if configured == 0 {
		configured = ','
	}
	head := data
	if len(head) > 8192 {
		head = head[:8192]
	}
	if !bytes.ContainsRune(head, configured) && bytes.ContainsRune(head, ';') {
		return ';'
	}
	return configured
}
