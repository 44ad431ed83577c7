package canon

import (
	"regexp"
	"strings"

	"github.com/ginjaninja78/feeledger/internal/types"
)

// partialMarker matches the leading token that flags a partial payment
// ("Ac.Oct", "ac-nov") or a settled balance ("Sld/Dec").
var partialMarker = regexp.MustCompile(`^(ac|sld)[.\-\s/]*`)

// monthRoots is matched by substring in this order; the first hit wins.
var monthRoots = []struct {
	root  string
	month types.Month
}{
	{"sept", types.MonthSept},
	{"oct", types.MonthOct},
	{"nov", types.MonthNov},
	{"dec", types.MonthDec},
	{"janv", types.MonthJanv},
	{"fev", types.MonthFevr},
	{"mars", types.MonthMars},
	{"avr", types.MonthAvr},
	{"mai", types.MonthMai},
	{"juin", types.MonthJuin},
}

// NormalizeMonth maps a free-text month label to one of the ten canonical
// school months.
//
// The label is accent-folded and lowercased, a leading partial or balance
// marker is removed, punctuation is stripped, and the result is matched by
// substring against the month roots. No match returns ("", false).
//
// EXAMPLES:
//
//	NormalizeMonth("Ac.Oct")     -> Oct, true
//	NormalizeMonth("Février")    -> Fevr, true
//	NormalizeMonth("SLD DÉC.")   -> Dec, true
//	NormalizeMonth("Inscription") -> "", false
func NormalizeMonth(raw string) (types.Month, bool) {
	s := strings.ToLower(FoldAccents(CleanString(raw)))
	if s == "" {
		return "", false
	}

	s = partialMarker.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			return r
		}
		return -1
	}, s)

	for _, mr := range monthRoots {
		if strings.Contains(s, mr.root) {
			return mr.month, true
		}
	}
	return "", false
}
