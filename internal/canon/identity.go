package canon

import (
	"net/mail"
	"regexp"
	"strings"
)

var matriculePattern = regexp.MustCompile(`^(PL|LT)[0-9]+$`)

// MatriculeValid reports whether raw, once trimmed, is a well-formed
// matricule (PL or LT followed by digits).
func MatriculeValid(raw string) bool {
	return matriculePattern.MatchString(CleanString(raw))
}

// NormalizeMatricule trims and uppercases a matricule and removes inner
// spaces ("pl 001" -> "PL001"). It does not validate.
func NormalizeMatricule(raw string) string {
	return strings.ToUpper(strings.ReplaceAll(CleanString(raw), " ", ""))
}

var schoolYearPattern = regexp.MustCompile(`^([0-9]{2}|[0-9]{4})\s*[-/]\s*([0-9]{2}|[0-9]{4})$`)

// NormalizeSchoolYear expands school-year labels to the "2025-2026" form.
// Labels that do not look like a year pair are returned trimmed.
//
//	NormalizeSchoolYear("25-26")     == "2025-2026"
//	NormalizeSchoolYear("2025/2026") == "2025-2026"
//	NormalizeSchoolYear("2025-26")   == "2025-2026"
func NormalizeSchoolYear(raw string) string {
	s := CleanString(raw)
	m := schoolYearPattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	return expandYear(m[1]) + "-" + expandYear(m[2])
}

func expandYear(y string) string {
	if len(y) == 2 {
		return "20" + y
	}
	return y
}

// NormalizeSex maps common spellings to "M" or "F". Unknown values are
// returned trimmed and uppercased.
func NormalizeSex(raw string) string {
	s := strings.ToUpper(FoldAccents(CleanString(raw)))
	switch s {
	case "M", "G", "H", "MASCULIN", "GARCON", "HOMME":
		return "M"
	case "F", "FEMININ", "FILLE", "FEMME":
		return "F"
	}
	return s
}

// NormalizeEmail lowercases a valid address. Blank input is valid and
// returns "". An unparsable address returns ("", false).
func NormalizeEmail(raw string) (string, bool) {
	s := CleanString(raw)
	if s == "" {
		return "", true
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}

// PhoneDigits keeps only the digits of a phone number.
func PhoneDigits(raw string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
}

// PhoneSuffix returns the last n digits of a phone number, or all of them if
// there are fewer.
func PhoneSuffix(raw string, n int) string {
	d := PhoneDigits(raw)
	if len(d) > n {
		return d[len(d)-n:]
	}
	return d
}
