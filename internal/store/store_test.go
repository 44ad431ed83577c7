package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ginjaninja78/feeledger/internal/config"
	"github.com/ginjaninja78/feeledger/internal/reconcile"
	"github.com/ginjaninja78/feeledger/internal/report"
	"github.com/ginjaninja78/feeledger/internal/types"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	s := New(db, config.DriverSQLite, zap.NewNop())
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func month(m types.Month) *types.Month { return &m }

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func student(matricule, name string, rows ...int) types.StudentCandidate {
	return types.StudentCandidate{
		Matricule: matricule,
		Name:      name,
		ClassRaw:  "4°CG",
		Class:     "4CG",
		Section:   "Secondaire",
		Phone:     "+243 810 000 001",
		Rows:      rows,
	}
}

func payment(row int, receipt, matricule string, m types.Month, amount string) types.PaymentCandidate {
	a := decimal.RequireFromString(amount)
	return types.PaymentCandidate{
		Row:        row,
		Receipt:    receipt,
		Matricule:  matricule,
		MonthRaw:   string(m),
		Month:      month(m),
		FIP:        a,
		Amount:     a,
		PaidOn:     day(2025, time.September, 15),
		SchoolYear: "2025-2026",
	}
}

func TestMerge_InsertThenIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	students := []types.StudentCandidate{student("PL001", "Amani", 2, 3)}
	payments := []types.PaymentCandidate{
		payment(2, "8670", "PL001", types.MonthSept, "80"),
		payment(3, "8671", "PL001", types.MonthOct, "40.5"),
	}

	counts, errs, err := s.Merge(ctx, students, payments, types.DuplicateStrict)
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, MergeCounts{StudentsInserted: 1, PaymentsInserted: 2}, counts)

	t.Run("second run writes nothing", func(t *testing.T) {
		counts, errs, err := s.Merge(ctx, students, payments, types.DuplicateStrict)
		require.NoError(t, err)
		assert.Empty(t, errs)
		assert.Equal(t, MergeCounts{StudentsUnchanged: 1, PaymentsUnchanged: 2}, counts)
		assert.Zero(t, counts.Changes())
	})

	var n int64
	require.NoError(t, s.DB().Model(&Payment{}).Count(&n).Error)
	assert.Equal(t, int64(2), n)

	var stored Student
	require.NoError(t, s.DB().Where("matricule = ?", "PL001").First(&stored).Error)
	assert.Equal(t, "243810000001", stored.PhoneDigits)
}

func TestMerge_StudentKeepsPopulatedFields(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, _, err := s.Merge(ctx, []types.StudentCandidate{student("PL001", "Amani", 2)}, nil, types.DuplicateStrict)
	require.NoError(t, err)

	update := types.StudentCandidate{Matricule: "PL001", Email: "amani@example.org", Rows: []int{5}}
	counts, _, err := s.Merge(ctx, []types.StudentCandidate{update}, nil, types.DuplicateStrict)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.StudentsUpdated)

	var stored Student
	require.NoError(t, s.DB().Where("matricule = ?", "PL001").First(&stored).Error)
	assert.Equal(t, "Amani", stored.Name)
	assert.Equal(t, "4CG", stored.Class)
	assert.Equal(t, "amani@example.org", stored.Email)
}

func TestMerge_UnrecognizedClassClearsCode(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, _, err := s.Merge(ctx, []types.StudentCandidate{student("PL001", "Amani", 2)}, nil, types.DuplicateStrict)
	require.NoError(t, err)

	moved := student("PL001", "Amani", 7)
	moved.ClassRaw, moved.Class = "Zz", ""
	counts, _, err := s.Merge(ctx, []types.StudentCandidate{moved}, nil, types.DuplicateStrict)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.StudentsUpdated)

	var stored Student
	require.NoError(t, s.DB().Where("matricule = ?", "PL001").First(&stored).Error)
	assert.Equal(t, "Zz", stored.ClassRaw)
	assert.Empty(t, stored.Class)

	t.Run("same unrecognized class again is unchanged", func(t *testing.T) {
		counts, _, err := s.Merge(ctx, []types.StudentCandidate{moved}, nil, types.DuplicateStrict)
		require.NoError(t, err)
		assert.Equal(t, 1, counts.StudentsUnchanged)
		assert.Zero(t, counts.Changes())
	})

	t.Run("blank class keeps the stored pair", func(t *testing.T) {
		blank := types.StudentCandidate{Matricule: "PL001", Name: "Amani", Rows: []int{9}}
		_, _, err := s.Merge(ctx, []types.StudentCandidate{blank}, nil, types.DuplicateStrict)
		require.NoError(t, err)

		var stored Student
		require.NoError(t, s.DB().Where("matricule = ?", "PL001").First(&stored).Error)
		assert.Equal(t, "Zz", stored.ClassRaw)
		assert.Empty(t, stored.Class)
	})
}

func TestMerge_PaymentCorrection(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	students := []types.StudentCandidate{student("PL001", "Amani", 2)}
	_, _, err := s.Merge(ctx, students, []types.PaymentCandidate{payment(2, "8670", "PL001", types.MonthSept, "80")}, types.DuplicateStrict)
	require.NoError(t, err)

	corrected := payment(2, "8670", "PL001", types.MonthOct, "55")
	counts, _, err := s.Merge(ctx, students, []types.PaymentCandidate{corrected}, types.DuplicateStrict)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.PaymentsUpdated)
	assert.Zero(t, counts.PaymentsInserted)

	var stored Payment
	require.NoError(t, s.DB().Where("receipt_number = ?", "8670").First(&stored).Error)
	require.NotNil(t, stored.Month)
	assert.Equal(t, "Oct", *stored.Month)
	assert.True(t, decimal.NewFromInt(55).Equal(stored.Amount))
}

func TestMerge_UnknownStudent(t *testing.T) {
	s := setupTestStore(t)

	counts, errs, err := s.Merge(context.Background(), nil,
		[]types.PaymentCandidate{payment(7, "9000", "PL404", types.MonthSept, "40")}, types.DuplicateStrict)
	require.NoError(t, err)
	assert.Zero(t, counts.PaymentsInserted)

	require.Len(t, errs, 1)
	assert.Equal(t, 7, errs[0].Row)
	assert.Equal(t, report.ErrCodeReferenceNotFound, errs[0].Code)
	assert.True(t, errs[0].Rejected)

	var n int64
	require.NoError(t, s.DB().Model(&Payment{}).Count(&n).Error)
	assert.Zero(t, n)
}

// failStudentInsert makes every insert of the given matricule fail.
func failStudentInsert(t *testing.T, s *Store, matricule string) {
	t.Helper()
	err := s.DB().Callback().Create().Before("gorm:create").Register("test:fail_student", func(tx *gorm.DB) {
		if st, ok := tx.Statement.Dest.(*Student); ok && st.Matricule == matricule {
			tx.AddError(errors.New("injected failure"))
		}
	})
	require.NoError(t, err)
}

func TestMerge_WriteFailure(t *testing.T) {
	students := []types.StudentCandidate{student("PL001", "Amani", 2), student("PL999", "Broken", 3)}
	payments := []types.PaymentCandidate{
		payment(2, "1", "PL001", types.MonthSept, "80"),
		payment(3, "2", "PL999", types.MonthSept, "80"),
	}

	t.Run("strict rolls back the batch", func(t *testing.T) {
		s := setupTestStore(t)
		failStudentInsert(t, s, "PL999")

		_, _, err := s.Merge(context.Background(), students, payments, types.DuplicateStrict)
		require.Error(t, err)

		var n int64
		require.NoError(t, s.DB().Model(&Student{}).Count(&n).Error)
		assert.Zero(t, n)
	})

	t.Run("permissive skips the failing entity", func(t *testing.T) {
		s := setupTestStore(t)
		failStudentInsert(t, s, "PL999")

		counts, errs, err := s.Merge(context.Background(), students, payments, types.DuplicatePermissive)
		require.NoError(t, err)
		assert.Equal(t, 1, counts.StudentsInserted)
		assert.Equal(t, 1, counts.PaymentsInserted)

		codes := map[string]int{}
		for _, e := range errs {
			codes[e.Code]++
		}
		assert.Equal(t, map[string]int{
			report.ErrCodeStoreWrite:        1,
			report.ErrCodeReferenceNotFound: 1,
		}, codes)
	})
}

func TestReadSnapshot(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	primary := student("PL002", "Bora", 4)
	primary.Class = "1P"
	primary.Section = "Primaire"
	primary.Phone = "0991234567"

	_, _, err := s.Merge(ctx,
		[]types.StudentCandidate{student("PL001", "Amani", 2), primary},
		[]types.PaymentCandidate{
			payment(2, "10", "PL001", types.MonthSept, "80"),
			payment(3, "11", "PL001", types.MonthOct, "40"),
			payment(4, "12", "PL002", types.MonthSept, "40"),
		}, types.DuplicateStrict)
	require.NoError(t, err)

	err = s.ReadSnapshot(ctx, func(v reconcile.View) error {
		t.Run("find student", func(t *testing.T) {
			got, err := v.FindStudent(ctx, " pl001 ")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "Amani", got.Name)

			missing, err := v.FindStudent(ctx, "PL404")
			require.NoError(t, err)
			assert.Nil(t, missing)
		})

		t.Run("students by section and phone", func(t *testing.T) {
			got, err := v.Students(ctx, reconcile.StudentFilter{Section: "primaire"})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "PL002", got[0].Matricule)

			got, err = v.Students(ctx, reconcile.StudentFilter{PhoneSuffix: "991234567"})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "PL002", got[0].Matricule)
		})

		t.Run("payments joined with students", func(t *testing.T) {
			got, err := v.Payments(ctx, reconcile.PaymentFilter{Month: month(types.MonthSept)})
			require.NoError(t, err)
			require.Len(t, got, 2)
			for _, p := range got {
				assert.NotEmpty(t, p.Name)
				assert.NotEmpty(t, p.Section)
			}

			got, err = v.Payments(ctx, reconcile.PaymentFilter{Matricules: []string{"PL001"}})
			require.NoError(t, err)
			assert.Len(t, got, 2)
		})

		t.Run("totals", func(t *testing.T) {
			totals, err := v.Totals(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), totals.Students)
			assert.Equal(t, int64(3), totals.Payments)
			assert.Equal(t, int64(2), totals.Classes)
			assert.True(t, decimal.NewFromInt(160).Equal(totals.TotalPaid), totals.TotalPaid.String())
		})
		return nil
	})
	require.NoError(t, err)
}

func TestLocalImportLock(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	release, err := s.AcquireImportLock(ctx, time.Second)
	require.NoError(t, err)

	_, err = s.AcquireImportLock(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrImportInProgress)

	release()
	release()

	again, err := s.AcquireImportLock(ctx, time.Second)
	require.NoError(t, err)
	again()
}

func TestAdvisoryLock(t *testing.T) {
	query := regexp.QuoteMeta("SELECT pg_try_advisory_lock($1)")

	t.Run("polls until granted", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(query).WithArgs(importLockKey).
			WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))
		mock.ExpectQuery(query).WithArgs(importLockKey).
			WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
		mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).WithArgs(importLockKey).
			WillReturnResult(sqlmock.NewResult(0, 0))

		l := &advisoryLock{key: importLockKey, poll: time.Millisecond, log: zap.NewNop()}
		release, err := l.acquire(context.Background(), db)
		require.NoError(t, err)
		release()

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("times out while held elsewhere", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(query).WithArgs(importLockKey).
			WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		l := &advisoryLock{key: importLockKey, poll: time.Second}
		_, err = l.acquire(ctx, db)
		assert.ErrorIs(t, err, ErrImportInProgress)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
