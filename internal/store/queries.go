package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ginjaninja78/feeledger/internal/canon"
	"github.com/ginjaninja78/feeledger/internal/config"
	"github.com/ginjaninja78/feeledger/internal/reconcile"
	"github.com/ginjaninja78/feeledger/internal/types"
)

// ReadSnapshot runs fn inside a read-only transaction. On PostgreSQL the
// transaction is REPEATABLE READ, so every query fn makes sees the same
// committed state and never a batch that is still being merged.
func (s *Store) ReadSnapshot(ctx context.Context, fn func(reconcile.View) error) error {
	var opts []*sql.TxOptions
	if s.driver == config.DriverPostgres {
		opts = append(opts, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&snapshot{tx: tx})
	}, opts...)
}

var _ reconcile.Source = (*Store)(nil)

// snapshot implements reconcile.View over one transaction.
type snapshot struct {
	tx *gorm.DB
}

func (v *snapshot) FindStudent(ctx context.Context, matricule string) (*reconcile.StudentInfo, error) {
	var rows []Student
	err := v.tx.WithContext(ctx).
		Where("matricule = ?", canon.NormalizeMatricule(matricule)).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find student: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	info := studentInfo(&rows[0])
	return &info, nil
}

func (v *snapshot) Students(ctx context.Context, f reconcile.StudentFilter) ([]reconcile.StudentInfo, error) {
	q := v.tx.WithContext(ctx).Model(&Student{})
	if f.Section != "" {
		q = q.Where("UPPER(section) = ?", strings.ToUpper(strings.TrimSpace(f.Section)))
	}
	if f.Class != "" {
		q = q.Where("class_code = ?", f.Class)
	}
	if f.PhoneSuffix != "" {
		q = q.Where("phone_digits LIKE ?", "%"+f.PhoneSuffix)
	}

	var rows []Student
	if err := q.Order("name, matricule").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	out := make([]reconcile.StudentInfo, len(rows))
	for i := range rows {
		out[i] = studentInfo(&rows[i])
	}
	return out, nil
}

type joinedPayment struct {
	ReceiptNumber string
	Matricule     string
	Name          string
	Section       string
	ClassCode     string
	MonthRaw      string
	Month         *string
	Amount        decimal.Decimal
	PaidOn        *time.Time
	SchoolYear    string
}

func (v *snapshot) Payments(ctx context.Context, f reconcile.PaymentFilter) ([]reconcile.PaymentInfo, error) {
	q := v.tx.WithContext(ctx).
		Table("payments").
		Select("payments.receipt_number, payments.matricule, students.name, students.section, " +
			"students.class_code, payments.month_raw, payments.month, payments.amount, " +
			"payments.paid_on, payments.school_year").
		Joins("JOIN students ON students.id = payments.student_id")

	if len(f.Matricules) > 0 {
		q = q.Where("payments.matricule IN ?", f.Matricules)
	}
	if f.Section != "" {
		q = q.Where("UPPER(students.section) = ?", strings.ToUpper(strings.TrimSpace(f.Section)))
	}
	if f.Month != nil {
		q = q.Where("payments.month = ?", string(*f.Month))
	}
	if f.PaidFrom != nil {
		q = q.Where("payments.paid_on >= ?", *f.PaidFrom)
	}
	if f.PaidTo != nil {
		q = q.Where("payments.paid_on < ?", *f.PaidTo)
	}

	var rows []joinedPayment
	if err := q.Order("payments.paid_on, payments.receipt_number").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	out := make([]reconcile.PaymentInfo, len(rows))
	for i, r := range rows {
		var month *types.Month
		if r.Month != nil {
			m := types.Month(*r.Month)
			month = &m
		}
		out[i] = reconcile.PaymentInfo{
			Receipt:    r.ReceiptNumber,
			Matricule:  r.Matricule,
			Name:       r.Name,
			Section:    r.Section,
			Class:      r.ClassCode,
			MonthRaw:   r.MonthRaw,
			Month:      month,
			Amount:     r.Amount,
			PaidOn:     r.PaidOn,
			SchoolYear: r.SchoolYear,
		}
	}
	return out, nil
}

func (v *snapshot) Totals(ctx context.Context) (reconcile.Totals, error) {
	var t reconcile.Totals
	db := v.tx.WithContext(ctx)

	if err := db.Model(&Student{}).Count(&t.Students).Error; err != nil {
		return t, fmt.Errorf("failed to count students: %w", err)
	}
	if err := db.Model(&Payment{}).Count(&t.Payments).Error; err != nil {
		return t, fmt.Errorf("failed to count payments: %w", err)
	}
	if err := db.Model(&Student{}).Where("class_code <> ''").Distinct("class_code").Count(&t.Classes).Error; err != nil {
		return t, fmt.Errorf("failed to count classes: %w", err)
	}

	var sum decimal.NullDecimal
	if err := db.Model(&Payment{}).Select("SUM(amount)").Row().Scan(&sum); err != nil {
		return t, fmt.Errorf("failed to sum payments: %w", err)
	}
	if sum.Valid {
		t.TotalPaid = sum.Decimal
	}
	return t, nil
}

func studentInfo(s *Student) reconcile.StudentInfo {
	return reconcile.StudentInfo{
		Matricule: s.Matricule,
		Name:      s.Name,
		Sex:       s.Sex,
		ClassRaw:  s.ClassRaw,
		Class:     s.Class,
		Category:  s.Category,
		Section:   s.Section,
		Phone:     s.Phone,
		Email:     s.Email,
	}
}
