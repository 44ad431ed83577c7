// =============================================================================
// Fee Ledger - File Manager Utility
// =============================================================================
//
// This module provides file management utilities for the importer, including:
//   - Spreadsheet discovery in the input directory
//   - File archival (moving imported spreadsheets)
//   - Report and summary file naming
//   - Run summary generation
//   - Archive retention
//
// ARCHIVAL STRATEGY:
//   - Spreadsheets are moved to input_archive after a successful import
//   - Spreadsheets that can never import as they are move to input_dir/failed
//   - Other failures remain in the input directory for the next run
//   - Error reports and summaries are written to the report directory
//
// =============================================================================

package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for the importer.
type FileManager struct {
	// InputDir is the directory where spreadsheets are dropped.
	InputDir string

	// InputArchiveDir is the directory for imported spreadsheets.
	InputArchiveDir string

	// ReportDir is the directory for error reports and summaries.
	ReportDir string

	// UseTimestampSubdirs creates date-based subdirectories in the archive.
	// Example: input_archive/2025/09/15/paiements.xlsx
	UseTimestampSubdirs bool
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(inputDir, inputArchiveDir, reportDir string) *FileManager {
	return &FileManager{
		InputDir:            inputDir,
		InputArchiveDir:     inputArchiveDir,
		ReportDir:           reportDir,
		UseTimestampSubdirs: true,
	}
}

// EnsureDirectories creates all required directories if they don't exist.
func (fm *FileManager) EnsureDirectories() error {
	for _, dir := range []string{fm.InputDir, fm.InputArchiveDir, fm.ReportDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// DiscoverInputFiles returns the files in the input directory that match any
// of the glob patterns, sorted by name so runs are deterministic.
//
// PARAMETERS:
//   - patterns: Glob patterns such as "*.xlsx". Matching ignores case.
//
// RETURNS:
//   - A slice of file paths.
//   - An error if the directory cannot be read.
func (fm *FileManager) DiscoverInputFiles(patterns ...string) ([]string, error) {
	entries, err := os.ReadDir(fm.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan input directory: %w", err)
	}

	var result []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), "~$") {
			continue
		}
		name := strings.ToLower(entry.Name())
		for _, pattern := range patterns {
			if ok, _ := filepath.Match(strings.ToLower(pattern), name); ok {
				result = append(result, filepath.Join(fm.InputDir, entry.Name()))
				break
			}
		}
	}

	sort.Strings(result)
	return result, nil
}

// =============================================================================
// FILE ARCHIVAL
// =============================================================================

// ArchiveInputFile moves an input file to the archive directory. When a file
// with the same name was archived before, the new copy gets a timestamp
// suffix.
//
// RETURNS:
//   - The path to the archived file.
//   - An error if archival fails.
func (fm *FileManager) ArchiveInputFile(filePath string) (string, error) {
	archivePath := fm.archivePath(filePath, time.Now())
	if err := moveFile(filePath, archivePath); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", filepath.Base(filePath), err)
	}
	return archivePath, nil
}

// FailedDir is the subdirectory of the input directory holding spreadsheets
// set aside by QuarantineInputFile. Discovery does not descend into it.
func (fm *FileManager) FailedDir() string {
	return filepath.Join(fm.InputDir, "failed")
}

// QuarantineInputFile moves an input file that failed for a reason of its own
// (no header, duplicate receipts) to FailedDir, so a watch loop stops
// retrying it. The operator fixes it and drops it back into the input
// directory. Name clashes get a timestamp suffix as in the archive.
//
// RETURNS:
//   - The new path of the file.
//   - An error if the move fails.
func (fm *FileManager) QuarantineInputFile(filePath string) (string, error) {
	failedPath := uniquePath(filepath.Join(fm.FailedDir(), filepath.Base(filePath)), time.Now())
	if err := moveFile(filePath, failedPath); err != nil {
		return "", fmt.Errorf("failed to quarantine %s: %w", filepath.Base(filePath), err)
	}
	return failedPath, nil
}

func (fm *FileManager) archivePath(filePath string, now time.Time) string {
	dir := fm.InputArchiveDir
	if fm.UseTimestampSubdirs {
		dir = filepath.Join(dir,
			fmt.Sprintf("%d", now.Year()),
			fmt.Sprintf("%02d", now.Month()),
			fmt.Sprintf("%02d", now.Day()),
		)
	}

	return uniquePath(filepath.Join(dir, filepath.Base(filePath)), now)
}

func uniquePath(path string, now time.Time) string {
	if FileExists(path) {
		ext := filepath.Ext(path)
		path = strings.TrimSuffix(path, ext) + "_" + now.Format("150405") + ext
	}
	return path
}

// =============================================================================
// OUTPUT FILE NAMING
// =============================================================================

// GenerateOutputFileName generates a unique output file name.
//
// PARAMETERS:
//   - format: The format string for the file name.
//     Placeholders:
//     {uuid}      - A random UUID
//     {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
//     {date}      - Current date (YYYYMMDD)
//     {time}      - Current time (HHMMSS)
//     plus any key in params, e.g. {original} or {run}
//   - ext: The extension to enforce, e.g. ".csv".
//   - params: A map of placeholder values.
//
// EXAMPLE:
//
//	format: "{original}_errors_{timestamp}"
//	params: {"original": "paiements_sept"}
//	output: "paiements_sept_errors_20250915_143022.csv"
func GenerateOutputFileName(format, ext string, params map[string]string) string {
	now := time.Now()

	replacements := map[string]string{
		"{uuid}":      uuid.New().String(),
		"{timestamp}": now.Format("20060102_150405"),
		"{date}":      now.Format("20060102"),
		"{time}":      now.Format("150405"),
	}
	for key, value := range params {
		replacements["{"+key+"}"] = value
	}

	result := format
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}

	if ext != "" && !strings.HasSuffix(strings.ToLower(result), strings.ToLower(ext)) {
		result += ext
	}
	return result
}

// BaseName returns the file name of path without directory or extension.
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// =============================================================================
// RUN SUMMARY
// =============================================================================

// RunSummary contains summary information about one import run.
type RunSummary struct {
	RunID     string
	Source    string
	Status    string
	StartTime time.Time
	EndTime   time.Time

	Rows              int
	StudentsInserted  int
	StudentsUpdated   int
	StudentsUnchanged int
	PaymentsInserted  int
	PaymentsUpdated   int
	PaymentsUnchanged int

	Errors       int
	RejectedRows int
	Duplicates   int
	ErrorReport  string
	FailureCause string
}

// WriteSummaryLog writes a run summary to a text file in outputDir.
//
// RETURNS:
//   - The path to the summary file.
//   - An error if writing fails.
func WriteSummaryLog(summary RunSummary, outputDir string) (string, error) {
	name := fmt.Sprintf("import_summary_%s_%s.txt",
		summary.StartTime.Format("20060102_150405"), shortID(summary.RunID))
	summaryPath := filepath.Join(outputDir, name)

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create summary directory: %w", err)
	}
	file, err := os.Create(summaryPath)
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	rule := "================================================================================\n"

	fmt.Fprintf(writer, "Fee Ledger - Import Summary\n%s\n", rule)
	fmt.Fprintf(writer, "Run Information:\n"+
		"  Run ID:         %s\n"+
		"  Source:         %s\n"+
		"  Status:         %s\n"+
		"  Start Time:     %s\n"+
		"  End Time:       %s\n"+
		"  Duration:       %s\n\n",
		summary.RunID,
		summary.Source,
		summary.Status,
		summary.StartTime.Format("2006-01-02 15:04:05"),
		summary.EndTime.Format("2006-01-02 15:04:05"),
		summary.EndTime.Sub(summary.StartTime).Round(time.Millisecond))

	fmt.Fprintf(writer, "Statistics:\n"+
		"  Rows read:          %d\n"+
		"  Students inserted:  %d\n"+
		"  Students updated:   %d\n"+
		"  Students unchanged: %d\n"+
		"  Payments inserted:  %d\n"+
		"  Payments updated:   %d\n"+
		"  Payments unchanged: %d\n"+
		"  Errors:             %d\n"+
		"  Rejected rows:      %d\n"+
		"  Duplicate receipts: %d\n\n",
		summary.Rows,
		summary.StudentsInserted,
		summary.StudentsUpdated,
		summary.StudentsUnchanged,
		summary.PaymentsInserted,
		summary.PaymentsUpdated,
		summary.PaymentsUnchanged,
		summary.Errors,
		summary.RejectedRows,
		summary.Duplicates)

	if summary.ErrorReport != "" {
		fmt.Fprintf(writer, "Error report: %s\n\n", summary.ErrorReport)
	}
	if summary.FailureCause != "" {
		fmt.Fprintf(writer, "Failure: %s\n\n", summary.FailureCause)
	}

	fmt.Fprintf(writer, "%sEnd of Summary\n", rule)

	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush summary file: %w", err)
	}
	return summaryPath, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// moveFile moves src to dst, creating dst's directory.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		// Rename fails across devices; fall back to copy and delete.
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("failed to copy file: %w", err)
		}
		if err := os.Remove(src); err != nil {
			return fmt.Errorf("failed to remove original file: %w", err)
		}
	}
	return nil
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	return destFile.Sync()
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// CleanOldArchives removes archive files older than maxAge.
//
// RETURNS:
//   - The number of files removed.
//   - An error if cleaning fails.
func CleanOldArchives(archiveDir string, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	err := filepath.Walk(archiveDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to clean archives: %w", err)
	}

	return removed, nil
}
