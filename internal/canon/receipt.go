package canon

import (
	"math"
	"strconv"
)

// NormalizeReceipt canonicalizes a receipt number so that the same receipt
// typed as text or stored as a float compares equal.
//
//	NormalizeReceipt("8670.0") == "8670"
//	NormalizeReceipt(" 8671 ") == "8671"
//	NormalizeReceipt("ABC-12") == "ABC-12"
//	NormalizeReceipt("")       == ""
func NormalizeReceipt(raw string) string {
	s := CleanString(raw)
	if s == "" {
		return ""
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return s
	}
	if f != math.Trunc(f) || math.Abs(f) >= 1e15 {
		return s
	}
	return strconv.FormatInt(int64(f), 10)
}
