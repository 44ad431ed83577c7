// =============================================================================
// Fee Ledger - Canonicalizer
// =============================================================================
//
// This package turns raw spreadsheet cell values into typed, normalized
// values. Every function here is pure and total: it never panics and never
// returns an error value. Functions that can fail return an explicit ok flag
// and a safe default, and the caller decides whether the failure is
// recoverable or row-rejecting.
//
// FILES:
//   text.go      - accent folding, header keys, whitespace cleanup
//   amount.go    - money amounts
//   date.go      - payment dates
//   month.go     - school-year month codes
//   receipt.go   - receipt numbers
//   classcode.go - class codes and fee tiers
//   identity.go  - matricule, school year, sex, phone, email
//
// =============================================================================

package canon

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// nbsp and nnbsp are the non-breaking spaces spreadsheet exports tend to
// carry inside numbers and names.
const (
	nbsp  = '\u00a0'
	nnbsp = '\u202f'
)

// FoldAccents removes combining marks, so "Février" becomes "Fevrier".
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// FoldKey reduces a label to an accent-free, lowercase, alphanumeric key.
// It is used to compare header cells against synonym tables:
//
//	FoldKey("N° Reçu")        == "nrecu"
//	FoldKey("Date Paiement")  == "datepaiement"
//	FoldKey("ANNÉE_SCOLAIRE") == "anneescolaire"
func FoldKey(s string) string {
	folded := strings.ToLower(FoldAccents(s))
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CleanString trims ordinary and non-breaking whitespace and collapses
// internal runs of whitespace to a single space.
func CleanString(s string) string {
	return strings.Join(strings.FieldsFunc(s, isSpaceRune), " ")
}

// IsBlank reports whether s holds nothing but whitespace.
func IsBlank(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return !isSpaceRune(r) }) < 0
}

func isSpaceRune(r rune) bool {
	return unicode.IsSpace(r) || r == nbsp || r == nnbsp
}
