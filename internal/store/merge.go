package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ginjaninja78/feeledger/internal/canon"
	"github.com/ginjaninja78/feeledger/internal/logger"
	"github.com/ginjaninja78/feeledger/internal/report"
	"github.com/ginjaninja78/feeledger/internal/types"
)

// lookupChunk bounds the IN lists used to preload existing rows; SQLite
// builds before 3.32 cap bound parameters at 999.
const lookupChunk = 500

// MergeCounts reports what a merge did.
type MergeCounts struct {
	StudentsInserted  int `json:"students_inserted"`
	StudentsUpdated   int `json:"students_updated"`
	StudentsUnchanged int `json:"students_unchanged"`
	PaymentsInserted  int `json:"payments_inserted"`
	PaymentsUpdated   int `json:"payments_updated"`
	PaymentsUnchanged int `json:"payments_unchanged"`
}

// Changes returns the number of rows written.
func (c MergeCounts) Changes() int {
	return c.StudentsInserted + c.StudentsUpdated + c.PaymentsInserted + c.PaymentsUpdated
}

// Merge upserts admitted students, then payments, in one transaction.
//
// MERGE RULES:
//   - Student, new matricule: insert the full record
//   - Student, known matricule: copy only non-blank incoming values; a
//     populated column is never blanked
//   - Payment, new receipt: insert, linked to the student with the same
//     matricule
//   - Payment, known receipt: overwrite every non-key column
//   - Unchanged rows are not written, so re-running a file is a no-op
//
// POLICY:
//   - strict: any store error rolls the whole batch back and is returned
//   - permissive: each entity is written under its own savepoint; a failing
//     entity is rolled back, reported as a row error and the batch goes on
//
// A payment whose matricule resolves to no student is never written and is
// reported with ErrCodeReferenceNotFound under both policies.
func (s *Store) Merge(ctx context.Context, students []types.StudentCandidate, payments []types.PaymentCandidate, policy types.DuplicatePolicy) (MergeCounts, []report.RowError, error) {
	var (
		counts MergeCounts
		errs   []report.RowError
	)
	log := logger.FromContext(ctx, s.log)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := &merger{tx: tx, policy: policy}

		if err := m.preload(students, payments); err != nil {
			return err
		}
		for i := range students {
			if err := m.mergeStudent(&students[i]); err != nil {
				return err
			}
		}
		for i := range payments {
			if err := m.mergePayment(&payments[i]); err != nil {
				return err
			}
		}

		counts, errs = m.counts, m.errs
		return nil
	})
	if err != nil {
		log.Error("merge rolled back", zap.Error(err))
		return MergeCounts{}, nil, fmt.Errorf("failed to merge batch: %w", err)
	}

	log.Info("merge committed",
		zap.Int("students_inserted", counts.StudentsInserted),
		zap.Int("students_updated", counts.StudentsUpdated),
		zap.Int("payments_inserted", counts.PaymentsInserted),
		zap.Int("payments_updated", counts.PaymentsUpdated),
		zap.Int("row_errors", len(errs)),
	)
	return counts, errs, nil
}

type merger struct {
	tx     *gorm.DB
	policy types.DuplicatePolicy

	students map[string]*Student
	payments map[string]*Payment

	counts MergeCounts
	errs   []report.RowError
}

// preload reads every existing student and payment the batch touches.
func (m *merger) preload(students []types.StudentCandidate, payments []types.PaymentCandidate) error {
	m.students = make(map[string]*Student)
	m.payments = make(map[string]*Payment)

	matricules := make([]string, 0, len(students)+len(payments))
	for _, s := range students {
		matricules = append(matricules, s.Matricule)
	}
	for _, p := range payments {
		matricules = append(matricules, p.Matricule)
	}
	for _, chunk := range chunks(dedupe(matricules)) {
		var found []Student
		if err := m.tx.Where("matricule IN ?", chunk).Find(&found).Error; err != nil {
			return fmt.Errorf("failed to load students: %w", err)
		}
		for i := range found {
			m.students[found[i].Matricule] = &found[i]
		}
	}

	receipts := make([]string, 0, len(payments))
	for _, p := range payments {
		receipts = append(receipts, p.Receipt)
	}
	for _, chunk := range chunks(dedupe(receipts)) {
		var found []Payment
		if err := m.tx.Where("receipt_number IN ?", chunk).Find(&found).Error; err != nil {
			return fmt.Errorf("failed to load payments: %w", err)
		}
		for i := range found {
			m.payments[found[i].ReceiptNumber] = &found[i]
		}
	}
	return nil
}

// write runs fn directly in strict mode and under a savepoint in permissive
// mode. In permissive mode a failure is recorded against rows and nil is
// returned.
func (m *merger) write(rows []int, field types.Field, value string, fn func(tx *gorm.DB) error) (bool, error) {
	if m.policy != types.DuplicatePermissive {
		if err := fn(m.tx); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := m.tx.Transaction(fn); err != nil {
		for _, r := range rows {
			m.errs = append(m.errs, report.StoreWriteError(r, field, value, err))
		}
		return false, nil
	}
	return true, nil
}

// =============================================================================
// STUDENTS
// =============================================================================

func (m *merger) mergeStudent(c *types.StudentCandidate) error {
	existing, ok := m.students[c.Matricule]
	if !ok {
		row := Student{
			Matricule:   c.Matricule,
			Name:        c.Name,
			Sex:         c.Sex,
			ClassRaw:    c.ClassRaw,
			Class:       c.Class,
			Category:    c.Category,
			Section:     c.Section,
			Phone:       c.Phone,
			PhoneDigits: canon.PhoneDigits(c.Phone),
			Email:       c.Email,
		}
		written, err := m.write(c.Rows, types.FieldMatricule, c.Matricule, func(tx *gorm.DB) error {
			return tx.Create(&row).Error
		})
		if err != nil {
			return fmt.Errorf("failed to insert student %s: %w", c.Matricule, err)
		}
		if written {
			m.students[c.Matricule] = &row
			m.counts.StudentsInserted++
		}
		return nil
	}

	changes := studentChanges(existing, c)
	if len(changes) == 0 {
		m.counts.StudentsUnchanged++
		return nil
	}

	written, err := m.write(c.Rows, types.FieldMatricule, c.Matricule, func(tx *gorm.DB) error {
		return tx.Model(&Student{ID: existing.ID}).Updates(changes).Error
	})
	if err != nil {
		return fmt.Errorf("failed to update student %s: %w", c.Matricule, err)
	}
	if written {
		applyStudentChanges(existing, c)
		m.counts.StudentsUpdated++
	}
	return nil
}

// studentChanges returns the columns whose incoming value is non-blank and
// differs from the stored one.
func studentChanges(s *Student, c *types.StudentCandidate) map[string]any {
	changes := make(map[string]any)
	set := func(column, stored, incoming string) {
		if incoming != "" && incoming != stored {
			changes[column] = incoming
		}
	}
	set("name", s.Name, c.Name)
	set("sex", s.Sex, c.Sex)
	// The class label and its code move together: an unrecognized label
	// leaves the student unclassified.
	if c.ClassRaw != "" && (c.ClassRaw != s.ClassRaw || c.Class != s.Class) {
		changes["class_raw"] = c.ClassRaw
		changes["class_code"] = c.Class
	}
	set("category", s.Category, c.Category)
	set("section", s.Section, c.Section)
	set("phone", s.Phone, c.Phone)
	set("phone_digits", s.PhoneDigits, canon.PhoneDigits(c.Phone))
	set("email", s.Email, c.Email)
	return changes
}

func applyStudentChanges(s *Student, c *types.StudentCandidate) {
	apply := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	apply(&s.Name, c.Name)
	apply(&s.Sex, c.Sex)
	if c.ClassRaw != "" {
		s.ClassRaw, s.Class = c.ClassRaw, c.Class
	}
	apply(&s.Category, c.Category)
	apply(&s.Section, c.Section)
	apply(&s.Phone, c.Phone)
	apply(&s.PhoneDigits, canon.PhoneDigits(c.Phone))
	apply(&s.Email, c.Email)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *merger) mergePayment(c *types.PaymentCandidate) error {
	student, ok := m.students[c.Matricule]
	if !ok {
		m.errs = append(m.errs, report.ReferenceError(c.Row, c.Matricule, c.Receipt))
		return nil
	}

	row := paymentRow(c, student.ID)
	existing, known := m.payments[c.Receipt]
	if known && samePayment(existing, &row) {
		m.counts.PaymentsUnchanged++
		return nil
	}

	written, err := m.write([]int{c.Row}, types.FieldNumRecu, c.Receipt, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "receipt_number"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"student_id", "matricule", "month_raw", "month", "fip", "ff",
				"amount", "paid_on", "school_year", "obs", "jour", "updated_at",
			}),
		}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("failed to upsert payment %s: %w", c.Receipt, err)
	}
	if !written {
		return nil
	}

	if known {
		m.counts.PaymentsUpdated++
	} else {
		m.counts.PaymentsInserted++
	}
	m.payments[c.Receipt] = &row
	return nil
}

func paymentRow(c *types.PaymentCandidate, studentID uint) Payment {
	var month *string
	if c.Month != nil {
		v := string(*c.Month)
		month = &v
	}
	return Payment{
		ReceiptNumber: c.Receipt,
		StudentID:     studentID,
		Matricule:     c.Matricule,
		MonthRaw:      c.MonthRaw,
		Month:         month,
		FIP:           c.FIP,
		FF:            c.FF,
		Amount:        c.Amount,
		PaidOn:        c.PaidOn,
		SchoolYear:    c.SchoolYear,
		Obs:           c.Obs,
		Jour:          c.Jour,
	}
}

// samePayment compares every non-key column.
func samePayment(a, b *Payment) bool {
	return a.StudentID == b.StudentID &&
		a.Matricule == b.Matricule &&
		a.MonthRaw == b.MonthRaw &&
		equalStringPtr(a.Month, b.Month) &&
		a.FIP.Equal(b.FIP) &&
		a.FF.Equal(b.FF) &&
		a.Amount.Equal(b.Amount) &&
		sameDay(a, b) &&
		a.SchoolYear == b.SchoolYear &&
		a.Obs == b.Obs &&
		a.Jour == b.Jour
}

func sameDay(a, b *Payment) bool {
	if a.PaidOn == nil || b.PaidOn == nil {
		return a.PaidOn == nil && b.PaidOn == nil
	}
	return a.PaidOn.UTC().Format("2006-01-02") == b.PaidOn.UTC().Format("2006-01-02")
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// =============================================================================
// HELPERS
// =============================================================================

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func chunks(values []string) [][]string {
	var out [][]string
	for len(values) > lookupChunk {
		out = append(out, values[:lookupChunk])
		values = values[lookupChunk:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}
