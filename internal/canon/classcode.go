package canon

import (
	"regexp"
	"strings"
)

// classTiers is the fee schedule: canonical class code to monthly fee.
// Its key set is also the whitelist of legal class codes.
var classTiers = map[string]int{
	// Maternelle and primaire.
	"1M": 40, "2M": 40, "3M": 40,
	"1P": 40, "2P": 40, "3P": 40, "4P": 40, "5P": 40, "6P": 40,

	// Education de base and humanites generales.
	"7EB": 45, "8EB": 45,
	"1HP": 45, "2HP": 45, "3HP": 45,
	"1LIT": 45, "2LIT": 45, "3LIT": 45,
	"1SC": 45, "2SC": 45, "3SC": 45,

	// Techniques, years 1 to 3.
	"1CG": 55, "2CG": 55, "3CG": 55,
	"1MG": 55, "2MG": 55, "3MG": 55,
	"1TCC": 55, "2TCC": 55, "3TCC": 55,
	"1EL": 55, "2EL": 55, "3EL": 55,
	"1ELECTRO": 55, "1CONST": 55,

	// Finishing year.
	"4CG": 80, "4MG": 80, "4TCC": 80, "4EL": 80,
	"4HP": 80, "4SC": 80, "4LIT": 80,
}

// sectionSpellings corrects common variants of the alphabetic part.
var sectionSpellings = map[string]string{
	"LITT":       "LIT",
	"LETT":       "LIT",
	"LITTERAIRE": "LIT",
	"SCI":        "SC",
	"SCIE":       "SC",
	"SCIENT":     "SC",
	"ELEC":       "EL",
	"ELECT":      "EL",
	"TC":         "TCC",
	"CONSTR":     "CONST",
	"EDB":        "EB",
}

// ordinalSuffixes are stripped when the first attempt fails, so that
// "1ère SC" and "4ème CG" resolve.
var ordinalSuffixes = []string{"IEME", "EME", "ERE", "ER", "E"}

var classPattern = regexp.MustCompile(`^([0-9]+)([A-Z]+)$`)

// NormalizeClassCode maps a raw class label to a whitelisted class code.
//
// The label is accent-folded and uppercased, everything outside [A-Z0-9] is
// removed, and the result is split into a numeric level and an alphabetic
// section. The section goes through a spelling table and the reassembled
// code is accepted only if it is in the fee schedule. Anything else returns
// ("", false), meaning unclassified.
//
//	NormalizeClassCode("1°P")  -> "1P", true
//	NormalizeClassCode("4°CG") -> "4CG", true
//	NormalizeClassCode("2 Litt") -> "2LIT", true
func NormalizeClassCode(raw string) (string, bool) {
	s := strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, strings.ToUpper(FoldAccents(raw)))

	m := classPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	level, section := m[1], m[2]

	if code, ok := lookupClass(level, section); ok {
		return code, true
	}
	for _, suffix := range ordinalSuffixes {
		rest, found := strings.CutPrefix(section, suffix)
		if !found || rest == "" {
			continue
		}
		if code, ok := lookupClass(level, rest); ok {
			return code, true
		}
	}
	return "", false
}

func lookupClass(level, section string) (string, bool) {
	if fixed, ok := sectionSpellings[section]; ok {
		section = fixed
	}
	code := level + section
	if _, ok := classTiers[code]; !ok {
		return "", false
	}
	return code, true
}

// ClassTier returns the monthly fee for a canonical class code, or 0 when the
// code is unknown or empty.
func ClassTier(code string) int {
	return classTiers[code]
}
