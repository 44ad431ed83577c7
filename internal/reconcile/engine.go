// =============================================================================
// Fee Ledger - Reconciliation Engine
// =============================================================================
//
// The engine compares what each student owes against what was paid, month by
// month, using committed payments only. It never writes and keeps no state:
// every call opens a fresh read snapshot and recomputes from scratch.
//
// FEE RULES:
//   - Monthly fee comes from the class tier (40, 45, 55, 80; 0 when the class
//     is unknown)
//   - Expected total = monthly fee x 10 school months
//   - Payments in the same month are summed
//   - A month is unpaid at 0, partial below the fee, paid at or above it
//   - Totals are not capped per month; overpayment gives a negative balance
//
// =============================================================================

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/feeledger/internal/canon"
	"github.com/ginjaninja78/feeledger/internal/types"
)

// ErrStudentNotFound is returned when no student has the requested matricule.
var ErrStudentNotFound = errors.New("student not found")

// ErrInvalidMonth is returned when a month label does not resolve to one of
// the ten school months.
var ErrInvalidMonth = errors.New("invalid month")

// PhoneDigitsMatched is how many trailing digits FindByPhone compares.
const PhoneDigitsMatched = 9

// MonthStatus is the settlement state of one school month.
type MonthStatus string

const (
	StatusUnpaid  MonthStatus = "unpaid"
	StatusPartial MonthStatus = "partial"
	StatusPaid    MonthStatus = "paid"
)

// MonthLine is the reconciliation of one school month.
type MonthLine struct {
	Month  types.Month     `json:"month"`
	Label  string          `json:"label"`
	Paid   decimal.Decimal `json:"paid"`
	Status MonthStatus     `json:"status"`
}

// Result is the reconciliation of one student.
type Result struct {
	Student       StudentInfo     `json:"student"`
	MonthlyFee    decimal.Decimal `json:"monthly_fee"`
	TotalExpected decimal.Decimal `json:"total_expected"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	Balance       decimal.Decimal `json:"balance"`
	Months        []MonthLine     `json:"months"`
}

// PaidLabels lists the labels of paid and partial months in school order
// ("Sept", "Ac.Oct").
func (r *Result) PaidLabels() []string {
	var out []string
	for _, m := range r.Months {
		if m.Status != StatusUnpaid {
			out = append(out, m.Label)
		}
	}
	return out
}

// UnpaidMonths lists the months with nothing paid.
func (r *Result) UnpaidMonths() []types.Month {
	var out []types.Month
	for _, m := range r.Months {
		if m.Status == StatusUnpaid {
			out = append(out, m.Month)
		}
	}
	return out
}

// SectionResult sums payments of every student in a section.
type SectionResult struct {
	Section    string          `json:"section"`
	UpTo       *types.Month    `json:"up_to,omitempty"`
	MonthsSeen []types.Month   `json:"months_seen"`
	TotalPaid  decimal.Decimal `json:"total_paid"`
}

// MonthResult sums payments of one month across all students.
type MonthResult struct {
	Month     types.Month                `json:"month"`
	Total     decimal.Decimal            `json:"total"`
	BySection map[string]decimal.Decimal `json:"by_section"`
}

// ClassReport reconciles every student of one class.
type ClassReport struct {
	Class         string          `json:"class"`
	Students      []Result        `json:"students"`
	TotalExpected decimal.Decimal `json:"total_expected"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	Balance       decimal.Decimal `json:"balance"`
}

// Journal lists the payments recorded on one day.
type Journal struct {
	Date     string          `json:"date"`
	Payments []PaymentInfo   `json:"payments"`
	Total    decimal.Decimal `json:"total"`
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine answers reconciliation queries. It is safe for concurrent use.
type Engine struct {
	src       Source
	threshold decimal.Decimal
}

// NewEngine creates an engine over src.
//
// PARAMETERS:
//   - src: Committed data, usually the store.
//   - threshold: Payments whose amount is at or below it are ignored.
//     Zero drops empty and negative amounts only.
func NewEngine(src Source, threshold decimal.Decimal) *Engine {
	return &Engine{src: src, threshold: threshold}
}

// material reports whether p counts towards reconciliation.
func (e *Engine) material(p PaymentInfo) bool {
	return p.Month != nil && p.Month.Valid() && p.Amount.GreaterThan(e.threshold)
}

// ReconcileStudent computes the month-by-month status of one student.
// The matricule is matched case-insensitively.
func (e *Engine) ReconcileStudent(ctx context.Context, matricule string) (*Result, error) {
	var res *Result
	err := e.src.ReadSnapshot(ctx, func(v View) error {
		st, err := v.FindStudent(ctx, matricule)
		if err != nil {
			return err
		}
		if st == nil {
			return fmt.Errorf("%w: %s", ErrStudentNotFound, canon.NormalizeMatricule(matricule))
		}

		payments, err := v.Payments(ctx, PaymentFilter{Matricules: []string{st.Matricule}})
		if err != nil {
			return err
		}
		r := e.reconcile(*st, payments)
		res = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// reconcile builds a Result from a student and its payments.
func (e *Engine) reconcile(st StudentInfo, payments []PaymentInfo) Result {
	fee := decimal.NewFromInt(int64(canon.ClassTier(st.Class)))

	byMonth := make(map[types.Month]decimal.Decimal, len(types.SchoolMonths))
	for _, p := range payments {
		if e.material(p) {
			byMonth[*p.Month] = byMonth[*p.Month].Add(p.Amount)
		}
	}

	res := Result{
		Student:       st,
		MonthlyFee:    fee,
		TotalExpected: fee.Mul(decimal.NewFromInt(int64(len(types.SchoolMonths)))),
		TotalPaid:     decimal.Zero,
		Months:        make([]MonthLine, 0, len(types.SchoolMonths)),
	}

	for _, m := range types.SchoolMonths {
		paid := byMonth[m]
		line := MonthLine{Month: m, Label: string(m), Paid: paid, Status: StatusUnpaid}
		switch {
		case !paid.IsPositive():
		case paid.LessThan(fee):
			line.Status = StatusPartial
			line.Label = "Ac." + string(m)
		default:
			line.Status = StatusPaid
		}
		res.TotalPaid = res.TotalPaid.Add(paid)
		res.Months = append(res.Months, line)
	}

	res.Balance = res.TotalExpected.Sub(res.TotalPaid)
	return res
}

// ReconcileSection sums payments of every student in section. When upTo is
// set, only months up to and including it count.
func (e *Engine) ReconcileSection(ctx context.Context, section string, upTo *types.Month) (*SectionResult, error) {
	if upTo != nil && !upTo.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMonth, *upTo)
	}

	res := &SectionResult{Section: strings.TrimSpace(section), UpTo: upTo, TotalPaid: decimal.Zero}
	err := e.src.ReadSnapshot(ctx, func(v View) error {
		payments, err := v.Payments(ctx, PaymentFilter{Section: section})
		if err != nil {
			return err
		}

		seen := make(map[types.Month]bool)
		for _, p := range payments {
			if !e.material(p) {
				continue
			}
			if upTo != nil && p.Month.Index() > upTo.Index() {
				continue
			}
			seen[*p.Month] = true
			res.TotalPaid = res.TotalPaid.Add(p.Amount)
		}
		for _, m := range types.SchoolMonths {
			if seen[m] {
				res.MonthsSeen = append(res.MonthsSeen, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReconcileMonth sums payments of one month across all students, grouped by
// section. month may be any spelling NormalizeMonth accepts.
func (e *Engine) ReconcileMonth(ctx context.Context, month string) (*MonthResult, error) {
	m, ok := canon.NormalizeMonth(month)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}

	res := &MonthResult{Month: m, Total: decimal.Zero, BySection: make(map[string]decimal.Decimal)}
	err := e.src.ReadSnapshot(ctx, func(v View) error {
		payments, err := v.Payments(ctx, PaymentFilter{Month: &m})
		if err != nil {
			return err
		}
		for _, p := range payments {
			if !e.material(p) {
				continue
			}
			res.Total = res.Total.Add(p.Amount)
			res.BySection[p.Section] = res.BySection[p.Section].Add(p.Amount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReconcileClass reconciles every student of a class in one snapshot.
// class is canonicalized first; unknown spellings are matched as given.
func (e *Engine) ReconcileClass(ctx context.Context, class string) (*ClassReport, error) {
	code, ok := canon.NormalizeClassCode(class)
	if !ok {
		code = strings.ToUpper(canon.CleanString(class))
	}

	rep := &ClassReport{Class: code, TotalExpected: decimal.Zero, TotalPaid: decimal.Zero}
	err := e.src.ReadSnapshot(ctx, func(v View) error {
		students, err := v.Students(ctx, StudentFilter{Class: code})
		if err != nil {
			return err
		}
		if len(students) == 0 {
			return nil
		}

		matricules := make([]string, len(students))
		for i, st := range students {
			matricules[i] = st.Matricule
		}
		payments, err := v.Payments(ctx, PaymentFilter{Matricules: matricules})
		if err != nil {
			return err
		}

		owned := make(map[string][]PaymentInfo, len(students))
		for _, p := range payments {
			owned[p.Matricule] = append(owned[p.Matricule], p)
		}

		for _, st := range students {
			r := e.reconcile(st, owned[st.Matricule])
			rep.Students = append(rep.Students, r)
			rep.TotalExpected = rep.TotalExpected.Add(r.TotalExpected)
			rep.TotalPaid = rep.TotalPaid.Add(r.TotalPaid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	rep.Balance = rep.TotalExpected.Sub(rep.TotalPaid)
	return rep, nil
}

// DailyJournal lists every payment dated on day, whatever its amount.
func (e *Engine) DailyJournal(ctx context.Context, day time.Time) (*Journal, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	j := &Journal{Date: from.Format("2006-01-02"), Total: decimal.Zero}
	err := e.src.ReadSnapshot(ctx, func(v View) error {
		payments, err := v.Payments(ctx, PaymentFilter{PaidFrom: &from, PaidTo: &to})
		if err != nil {
			return err
		}
		j.Payments = payments
		for _, p := range payments {
			j.Total = j.Total.Add(p.Amount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// FindByPhone returns the matricules of students whose phone number ends
// with the last nine digits of phone.
func (e *Engine) FindByPhone(ctx context.Context, phone string) ([]string, error) {
	suffix := canon.PhoneSuffix(phone, PhoneDigitsMatched)
	if suffix == "" {
		return nil, nil
	}

	var out []string
	err := e.src.ReadSnapshot(ctx, func(v View) error {
		students, err := v.Students(ctx, StudentFilter{PhoneSuffix: suffix})
		if err != nil {
			return err
		}
		for _, st := range students {
			out = append(out, st.Matricule)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Dashboard returns store-wide counters.
func (e *Engine) Dashboard(ctx context.Context) (*Totals, error) {
	var t Totals
	err := e.src.ReadSnapshot(ctx, func(v View) error {
		var err error
		t, err = v.Totals(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}
