// =============================================================================
// Fee Ledger - Row Validator
// =============================================================================
//
// This module turns raw spreadsheet records into candidate Students and
// Payments. Every field is run through the canon package; failures are
// collected per row and never stop the batch.
//
// ROW OUTCOMES:
//   - Admitted: the row yields a Student update and, when it carries any
//     payment column, one Payment
//   - Admitted with recoverable errors: a bad amount, month, class, email or
//     (optional policy) date falls back to 0, null or "unclassified"
//   - Rejected: missing/invalid matricule, blank school year, missing
//     receipt on a payment row, or a date failure under the mandatory policy
//
// A spreadsheet row is a "day + student" record, so one row may produce both
// a Student and a Payment.
//
// CONCURRENCY:
//   ValidateRecord is pure. ValidateAll can spread rows over several workers;
//   outcomes are folded in row order afterwards, so the result does not
//   depend on the worker count.
//
// =============================================================================

package validation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ginjaninja78/feeledger/internal/canon"
	"github.com/ginjaninja78/feeledger/internal/config"
	"github.com/ginjaninja78/feeledger/internal/report"
	"github.com/ginjaninja78/feeledger/internal/types"
)

// =============================================================================
// RESULTS
// =============================================================================

// Outcome is the validation result of one raw record.
type Outcome struct {
	Row      int
	Student  *types.StudentCandidate
	Payment  *types.PaymentCandidate
	Errors   []report.RowError
	Rejected bool
}

// Result is the validation result of a whole batch.
type Result struct {
	// Students holds one candidate per matricule, in order of first
	// appearance.
	Students []types.StudentCandidate

	// Payments holds one candidate per admitted payment row, in row order.
	Payments []types.PaymentCandidate

	// Errors holds every row error in row order.
	Errors []report.RowError

	// Rows is the number of records validated.
	Rows int

	// RejectedRows is the number of records excluded from the merge.
	RejectedRows int

	// Outcomes keeps the per-row results so a later stage can drop rows and
	// fold again.
	Outcomes []Outcome
}

// =============================================================================
// VALIDATOR
// =============================================================================

// Validator applies the import configuration to raw records.
type Validator struct {
	cfg config.ImportConfig
}

// NewValidator creates a Validator for the given import configuration.
func NewValidator(cfg config.ImportConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Validate is a convenience wrapper running a sequential validation.
func Validate(records []types.RawRecord, cfg config.ImportConfig) *Result {
	cfg.Workers = 1
	res, _ := NewValidator(cfg).ValidateAll(context.Background(), records)
	return res
}

// ValidateAll validates every record and folds the outcomes.
//
// PARAMETERS:
//   - ctx: Cancels the validation between rows.
//   - records: The raw records, in spreadsheet order.
//
// RETURNS:
//   - The folded result.
//   - The context error if ctx was cancelled.
func (v *Validator) ValidateAll(ctx context.Context, records []types.RawRecord) (*Result, error) {
	outcomes := make([]Outcome, len(records))

	if v.cfg.Workers <= 1 {
		for i, rec := range records {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			outcomes[i] = v.ValidateRecord(rec)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(v.cfg.Workers)
		for i := range records {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				outcomes[i] = v.ValidateRecord(records[i])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return Fold(outcomes), nil
}

// Fold merges per-row outcomes into a batch result. Student candidates for
// the same matricule are merged; a later non-blank value replaces an earlier
// one.
func Fold(outcomes []Outcome) *Result {
	res := &Result{Rows: len(outcomes), Outcomes: outcomes}
	index := make(map[string]int)

	for _, o := range outcomes {
		res.Errors = append(res.Errors, o.Errors...)
		if o.Rejected {
			res.RejectedRows++
			continue
		}
		if o.Student != nil {
			if i, ok := index[o.Student.Matricule]; ok {
				mergeStudent(&res.Students[i], *o.Student)
			} else {
				index[o.Student.Matricule] = len(res.Students)
				res.Students = append(res.Students, *o.Student)
			}
		}
		if o.Payment != nil {
			res.Payments = append(res.Payments, *o.Payment)
		}
	}
	return res
}

func mergeStudent(dst *types.StudentCandidate, src types.StudentCandidate) {
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.Name, src.Name)
	set(&dst.Sex, src.Sex)
	if src.ClassRaw != "" {
		dst.ClassRaw, dst.Class = src.ClassRaw, src.Class
	}
	set(&dst.Category, src.Category)
	set(&dst.Section, src.Section)
	set(&dst.Phone, src.Phone)
	set(&dst.Email, src.Email)
	dst.Rows = append(dst.Rows, src.Rows...)
}

// =============================================================================
// ROW VALIDATION
// =============================================================================

// ValidateRecord canonicalizes one raw record.
func (v *Validator) ValidateRecord(rec types.RawRecord) Outcome {
	out := Outcome{Row: rec.Row}
	recoverable := func(f types.Field, code, msg string) {
		out.Errors = append(out.Errors, report.Recoverable(rec.Row, f, code, msg, rec.Get(f)))
	}
	reject := func(f types.Field, code, msg string) {
		out.Rejected = true
		out.Errors = append(out.Errors, report.Rejection(rec.Row, f, code, msg, rec.Get(f)))
	}

	// Identity.
	matricule := canon.NormalizeMatricule(rec.Get(types.FieldMatricule))
	switch {
	case matricule == "":
		reject(types.FieldMatricule, report.ErrCodeMissingMatricule, "matricule is required")
	case !canon.MatriculeValid(matricule):
		reject(types.FieldMatricule, report.ErrCodeInvalidMatricule,
			fmt.Sprintf("matricule '%s' does not match PL<digits> or LT<digits>", matricule))
	}

	schoolYear := canon.NormalizeSchoolYear(rec.Get(types.FieldAnneeScolaire))
	if schoolYear == "" {
		reject(types.FieldAnneeScolaire, report.ErrCodeMissingSchoolYear, "school year is required")
	}

	student := v.student(rec, matricule, recoverable)

	var payment *types.PaymentCandidate
	if isPaymentRow(rec) {
		payment = v.payment(rec, matricule, schoolYear, recoverable, reject)
		payment.Name = student.Name
	}

	if out.Rejected {
		return out
	}
	out.Student = student
	out.Payment = payment
	return out
}

type errFunc func(f types.Field, code, msg string)

func (v *Validator) student(rec types.RawRecord, matricule string, recoverable errFunc) *types.StudentCandidate {
	s := &types.StudentCandidate{
		Matricule: matricule,
		Name:      canon.CleanString(rec.Get(types.FieldNom)),
		Sex:       canon.NormalizeSex(rec.Get(types.FieldSexe)),
		ClassRaw:  canon.CleanString(rec.Get(types.FieldClasse)),
		Category:  canon.CleanString(rec.Get(types.FieldCategorie)),
		Section:   canon.CleanString(rec.Get(types.FieldSection)),
		Phone:     canon.CleanString(rec.Get(types.FieldTelephone)),
		Rows:      []int{rec.Row},
	}

	if s.ClassRaw != "" {
		class, ok := canon.NormalizeClassCode(s.ClassRaw)
		if ok {
			s.Class = class
		} else {
			recoverable(types.FieldClasse, report.ErrCodeInvalidClass,
				fmt.Sprintf("class '%s' is not a known class; student left unclassified", s.ClassRaw))
		}
	}

	email, ok := canon.NormalizeEmail(rec.Get(types.FieldEmail))
	if ok {
		s.Email = email
	} else {
		recoverable(types.FieldEmail, report.ErrCodeInvalidEmail, "invalid email address")
	}

	return s
}

func (v *Validator) payment(rec types.RawRecord, matricule, schoolYear string, recoverable, reject errFunc) *types.PaymentCandidate {
	p := &types.PaymentCandidate{
		Row:        rec.Row,
		Receipt:    canon.NormalizeReceipt(rec.Get(types.FieldNumRecu)),
		Matricule:  matricule,
		MonthRaw:   canon.CleanString(rec.Get(types.FieldMois)),
		SchoolYear: schoolYear,
		Obs:        canon.CleanString(rec.Get(types.FieldObs)),
		Jour:       canon.CleanString(rec.Get(types.FieldJour)),
	}

	if p.Receipt == "" {
		reject(types.FieldNumRecu, report.ErrCodeMissingReceipt, "receipt number is required on a payment row")
	}

	if p.MonthRaw == "" {
		recoverable(types.FieldMois, report.ErrCodeInvalidMonth, "month is blank")
	} else if m, ok := canon.NormalizeMonth(p.MonthRaw); ok {
		p.Month = &m
	} else {
		recoverable(types.FieldMois, report.ErrCodeInvalidMonth,
			fmt.Sprintf("month '%s' is not a school month", p.MonthRaw))
	}

	// Amounts are kept to the cent, the precision the store columns hold.
	var ok bool
	if p.FIP, ok = canon.NormalizeAmount(rec.Get(types.FieldFIP)); !ok {
		recoverable(types.FieldFIP, report.ErrCodeInvalidAmount, "invalid amount; 0 used")
	}
	p.FIP = p.FIP.Round(2)
	if p.FF, ok = canon.NormalizeAmount(rec.Get(types.FieldFF)); !ok {
		recoverable(types.FieldFF, report.ErrCodeInvalidAmount, "invalid amount; 0 used")
	}
	p.FF = p.FF.Round(2)
	p.Amount = p.FIP
	if v.cfg.AmountRule == types.AmountFIPPlusFF {
		p.Amount = p.FIP.Add(p.FF)
	}

	rawDate := rec.Get(types.FieldDatePaiement)
	date, ok := canon.NormalizeDate(rawDate, v.cfg.DatePolicy)
	switch {
	case ok:
		p.PaidOn = date
	case v.cfg.DatePolicy == types.DateMandatory && canon.IsBlank(rawDate):
		reject(types.FieldDatePaiement, report.ErrCodeMissingDate, "payment date is required")
	case v.cfg.DatePolicy == types.DateMandatory:
		reject(types.FieldDatePaiement, report.ErrCodeInvalidDate, "payment date could not be parsed")
	default:
		recoverable(types.FieldDatePaiement, report.ErrCodeInvalidDate, "payment date could not be parsed; left empty")
	}

	return p
}

// isPaymentRow reports whether any payment column carries a value.
func isPaymentRow(rec types.RawRecord) bool {
	for _, f := range types.PaymentFields {
		if !canon.IsBlank(rec.Get(f)) {
			return true
		}
	}
	return false
}
