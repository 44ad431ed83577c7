package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ginjaninja78/feeledger/internal/types"
)

// Import error codes
const (
	// Row-level, recoverable: the field falls back to a safe default.
	ErrCodeInvalidAmount = "ERR_IMPORT_INVALID_AMOUNT"
	ErrCodeInvalidDate   = "ERR_IMPORT_INVALID_DATE"
	ErrCodeInvalidMonth  = "ERR_IMPORT_INVALID_MONTH"
	ErrCodeInvalidClass  = "ERR_IMPORT_INVALID_CLASS"
	ErrCodeInvalidEmail  = "ERR_IMPORT_INVALID_EMAIL"

	// Row-level, rejecting: the row is excluded from the merge.
	ErrCodeMissingMatricule  = "ERR_IMPORT_MISSING_MATRICULE"
	ErrCodeInvalidMatricule  = "ERR_IMPORT_INVALID_MATRICULE"
	ErrCodeMissingReceipt    = "ERR_IMPORT_MISSING_RECEIPT"
	ErrCodeMissingSchoolYear = "ERR_IMPORT_MISSING_SCHOOL_YEAR"
	ErrCodeMissingDate       = "ERR_IMPORT_MISSING_DATE"
	ErrCodeDuplicateInFile   = "ERR_IMPORT_DUPLICATE_IN_FILE"

	// Merge-time.
	ErrCodeReferenceNotFound = "ERR_IMPORT_REFERENCE_NOT_FOUND"
	ErrCodeStoreWrite        = "ERR_IMPORT_STORE_WRITE"
)

// RowError represents an error in a specific spreadsheet row
type RowError struct {
	Row     int         `json:"row"`
	Field   types.Field `json:"field"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Value   string      `json:"value,omitempty"`

	// Rejected is true when the error excluded the row from the merge.
	Rejected bool `json:"rejected"`
}

// Error implements the error interface
func (e RowError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("row %d, column '%s': %s", e.Row, e.Field, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// Recoverable builds an error for a field that fell back to a default
// value. The row still reaches the merge.
func Recoverable(row int, field types.Field, code, message, value string) RowError {
	return RowError{Row: row, Field: field, Code: code, Message: message, Value: value}
}

// Rejection builds an error that excludes the row from the merge.
func Rejection(row int, field types.Field, code, message, value string) RowError {
	return RowError{Row: row, Field: field, Code: code, Message: message, Value: value, Rejected: true}
}

// DuplicateError builds the quarantine error of a row whose receipt appears
// on every row of rows.
func DuplicateError(row int, receipt string, rows []int) RowError {
	return Rejection(row, types.FieldNumRecu, ErrCodeDuplicateInFile,
		fmt.Sprintf("receipt '%s' appears on rows %s; row quarantined", receipt, joinInts(rows)), receipt)
}

// ReferenceError builds the error of a payment whose student could not be
// resolved.
func ReferenceError(row int, matricule, receipt string) RowError {
	return Rejection(row, types.FieldMatricule, ErrCodeReferenceNotFound,
		fmt.Sprintf("student '%s' not found; payment %s not recorded", matricule, receipt), matricule)
}

// StoreWriteError builds the error of a row whose write failed and was
// rolled back to its savepoint.
func StoreWriteError(row int, field types.Field, value string, err error) RowError {
	return Rejection(row, field, ErrCodeStoreWrite, fmt.Sprintf("write failed: %v", err), value)
}

// ErrorCollection gathers row errors for one run. It keeps every error for
// the report; Errors returns at most maxErrors of them.
type ErrorCollection struct {
	errors    []RowError
	maxErrors int
	rejected  map[int]bool
}

// NewErrorCollection creates a new ErrorCollection with a maximum error limit
func NewErrorCollection(maxErrors int) *ErrorCollection {
	if maxErrors <= 0 {
		maxErrors = 1000
	}
	return &ErrorCollection{
		maxErrors: maxErrors,
		rejected:  make(map[int]bool),
	}
}

// Add adds an error to the collection
func (ec *ErrorCollection) Add(err RowError) {
	if err.Rejected {
		ec.rejected[err.Row] = true
	}
	ec.errors = append(ec.errors, err)
}

// AddAll adds several errors in order.
func (ec *ErrorCollection) AddAll(errs []RowError) {
	for _, err := range errs {
		ec.Add(err)
	}
}

// All returns every error sorted by row.
func (ec *ErrorCollection) All() []RowError {
	out := append([]RowError(nil), ec.errors...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	return out
}

// Errors returns the first maxErrors errors by row.
func (ec *ErrorCollection) Errors() []RowError {
	out := ec.All()
	if len(out) > ec.maxErrors {
		out = out[:ec.maxErrors]
	}
	return out
}

// TotalCount returns the number of errors, including those Errors leaves out.
func (ec *ErrorCollection) TotalCount() int {
	return len(ec.errors)
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollection) HasErrors() bool {
	return len(ec.errors) > 0
}

// IsTruncated reports whether Errors leaves some errors out.
func (ec *ErrorCollection) IsTruncated() bool {
	return len(ec.errors) > ec.maxErrors
}

// RejectedRows returns the number of distinct rows excluded from the merge.
func (ec *ErrorCollection) RejectedRows() int {
	return len(ec.rejected)
}

// ErrorSummary returns a count of errors by code
func (ec *ErrorCollection) ErrorSummary() map[string]int {
	summary := make(map[string]int)
	for _, err := range ec.errors {
		summary[err.Code]++
	}
	return summary
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}
