package canon

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// NormalizeAmount converts a raw cell value to a decimal amount.
//
// RULES:
//   - nil or blank                  -> (0, true)
//   - numeric Go types              -> passthrough
//   - strings                       -> whitespace and non-breaking spaces are
//     removed, a comma becomes the decimal point, any other character that
//     is not a digit, '.' or '-' is dropped, and the rest is parsed
//   - anything that still fails     -> (0, false)
//
// EXAMPLES:
//
//	NormalizeAmount("1 250,50") -> 1250.50, true
//	NormalizeAmount("80 FCFA")  -> 80, true
//	NormalizeAmount("n/a")      -> 0, false
func NormalizeAmount(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case nil:
		return decimal.Zero, true
	case decimal.Decimal:
		return v, true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case float32:
		return amountFromFloat(float64(v))
	case float64:
		return amountFromFloat(v)
	case string:
		return parseAmount(v)
	default:
		return parseAmount(fmt.Sprint(v))
	}
}

func amountFromFloat(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

func parseAmount(s string) (decimal.Decimal, bool) {
	if IsBlank(s) {
		return decimal.Zero, true
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case isSpaceRune(r):
		case r == ',':
			b.WriteByte('.')
		case (r >= '0' && r <= '9') || r == '.' || r == '-':
			b.WriteRune(r)
		}
	}

	cleaned := b.String()
	if cleaned == "" {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
