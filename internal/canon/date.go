package canon

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ginjaninja78/feeledger/internal/types"
	"github.com/xuri/excelize/v2"
)

// dateLayouts are tried in order; the first layout that parses wins.
// The datetime variants cover cells that a spreadsheet tool rendered from a
// native date value.
var dateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	"02-01-2006",
	"2/1/2006",
	"2-1-2006",
	"2006-1-2",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
	time.RFC3339,
}

// Excel serial numbers accepted as dates: 1950-01-01 through 9999-12-31.
const (
	minExcelSerial = 18264
	maxExcelSerial = 2958465
)

// NormalizeDate converts a raw cell value to a calendar date (midnight UTC).
//
// Accepted inputs are time.Time values, Excel serial numbers (as numbers or
// numeric strings, which is how raw xlsx cells arrive) and strings in the
// layouts listed in dateLayouts.
//
// RETURNS:
//   - (date, true)  when the value parsed
//   - (nil, true)   when the value is blank and policy is DateOptional
//   - (nil, false)  when the value is blank and policy is DateMandatory,
//     or when the value is present but unparsable under either policy
//
// Under DateOptional the caller still admits a row whose date failed to
// parse; it only records the failure.
func NormalizeDate(raw any, policy types.DatePolicy) (*time.Time, bool) {
	var (
		t  time.Time
		ok bool
	)

	switch v := raw.(type) {
	case nil:
		return blankDate(policy)
	case time.Time:
		if v.IsZero() {
			return blankDate(policy)
		}
		t, ok = v, true
	case *time.Time:
		if v == nil || v.IsZero() {
			return blankDate(policy)
		}
		t, ok = *v, true
	case float64:
		t, ok = fromExcelSerial(v)
	case int:
		t, ok = fromExcelSerial(float64(v))
	case int64:
		t, ok = fromExcelSerial(float64(v))
	case string:
		if IsBlank(v) {
			return blankDate(policy)
		}
		t, ok = parseDateString(CleanString(v))
	default:
		return nil, false
	}

	if !ok {
		return nil, false
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d, true
}

func blankDate(policy types.DatePolicy) (*time.Time, bool) {
	return nil, policy == types.DateOptional
}

func parseDateString(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err == nil {
		return fromExcelSerial(f)
	}
	return time.Time{}, false
}

func fromExcelSerial(f float64) (time.Time, bool) {
	if math.IsNaN(f) || f < minExcelSerial || f > maxExcelSerial {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(f, false)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
