package validation

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/feeledger/internal/config"
	"github.com/ginjaninja78/feeledger/internal/report"
	"github.com/ginjaninja78/feeledger/internal/types"
)

func record(row int, kv ...string) types.RawRecord {
	values := make(map[types.Field]string)
	for i := 0; i+1 < len(kv); i += 2 {
		values[types.Field(kv[i])] = kv[i+1]
	}
	return types.RawRecord{Row: row, Values: values}
}

func paymentRecord(row int, matricule, receipt, month, fip string) types.RawRecord {
	return record(row,
		"Matricule", matricule,
		"Nom", "Kabila Jean",
		"Classe", "4°CG",
		"NumRecu", receipt,
		"Mois", month,
		"FIP", fip,
		"AnneeScolaire", "2025-2026",
	)
}

func codes(errs []report.RowError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateRecord(t *testing.T) {
	v := NewValidator(config.DefaultImportConfig())

	t.Run("clean payment row yields student and payment", func(t *testing.T) {
		rec := paymentRecord(4, " pl001 ", "8670.0", "Ac.Oct", "40")
		rec.Values[types.FieldDatePaiement] = "15/10/2025"
		rec.Values[types.FieldEmail] = "Parent@Example.com"

		o := v.ValidateRecord(rec)
		assert.False(t, o.Rejected)
		assert.Empty(t, o.Errors)

		require.NotNil(t, o.Student)
		assert.Equal(t, "PL001", o.Student.Matricule)
		assert.Equal(t, "4CG", o.Student.Class)
		assert.Equal(t, "4°CG", o.Student.ClassRaw)
		assert.Equal(t, "parent@example.com", o.Student.Email)

		require.NotNil(t, o.Payment)
		assert.Equal(t, "8670", o.Payment.Receipt)
		require.NotNil(t, o.Payment.Month)
		assert.Equal(t, types.MonthOct, *o.Payment.Month)
		assert.Equal(t, "Ac.Oct", o.Payment.MonthRaw)
		assert.True(t, o.Payment.Amount.Equal(decimal.NewFromInt(40)))
		require.NotNil(t, o.Payment.PaidOn)
		assert.Equal(t, "2025-10-15", o.Payment.PaidOn.Format("2006-01-02"))
		assert.Equal(t, "Kabila Jean", o.Payment.Name)
	})

	t.Run("student-only row", func(t *testing.T) {
		o := v.ValidateRecord(record(5, "Matricule", "LT10", "Nom", "Ilunga", "AnneeScolaire", "25-26"))
		assert.False(t, o.Rejected)
		assert.NotNil(t, o.Student)
		assert.Nil(t, o.Payment)
	})

	t.Run("rejections", func(t *testing.T) {
		tests := []struct {
			name string
			rec  types.RawRecord
			code string
		}{
			{"missing matricule", paymentRecord(2, "", "1", "Sept", "40"), report.ErrCodeMissingMatricule},
			{"invalid matricule", paymentRecord(2, "XX12", "1", "Sept", "40"), report.ErrCodeInvalidMatricule},
			{"missing receipt", paymentRecord(2, "PL1", "", "Sept", "40"), report.ErrCodeMissingReceipt},
			{"blank school year", record(2, "Matricule", "PL1", "Nom", "A"), report.ErrCodeMissingSchoolYear},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				o := v.ValidateRecord(tt.rec)
				assert.True(t, o.Rejected)
				assert.Nil(t, o.Student)
				assert.Nil(t, o.Payment)
				assert.Contains(t, codes(o.Errors), tt.code)
			})
		}
	})

	t.Run("recoverable errors keep the row", func(t *testing.T) {
		rec := paymentRecord(6, "PL2", "99", "Brumaire", "quatre-vingt")
		rec.Values[types.FieldClasse] = "9ZZ"
		rec.Values[types.FieldEmail] = "not an email"
		rec.Values[types.FieldDatePaiement] = "31/31/2025"

		o := v.ValidateRecord(rec)
		assert.False(t, o.Rejected)
		assert.ElementsMatch(t, []string{
			report.ErrCodeInvalidClass,
			report.ErrCodeInvalidEmail,
			report.ErrCodeInvalidMonth,
			report.ErrCodeInvalidAmount,
			report.ErrCodeInvalidDate,
		}, codes(o.Errors))

		require.NotNil(t, o.Payment)
		assert.Nil(t, o.Payment.Month)
		assert.True(t, o.Payment.Amount.IsZero())
		assert.Nil(t, o.Payment.PaidOn)
		assert.Equal(t, "", o.Student.Class)
		for _, e := range o.Errors {
			assert.False(t, e.Rejected)
		}
	})

	t.Run("errors carry the raw value", func(t *testing.T) {
		o := v.ValidateRecord(paymentRecord(8, "PL3", "5", "Sept", "12,5,0"))
		require.Len(t, o.Errors, 1)
		assert.Equal(t, 8, o.Errors[0].Row)
		assert.Equal(t, types.FieldFIP, o.Errors[0].Field)
		assert.Equal(t, "12,5,0", o.Errors[0].Value)
	})
}

func TestDatePolicy(t *testing.T) {
	mandatory := NewValidator(config.NewImportConfig(config.WithDatePolicy(types.DateMandatory)))
	optional := NewValidator(config.DefaultImportConfig())

	blank := paymentRecord(3, "PL1", "10", "Sept", "40")
	bad := paymentRecord(3, "PL1", "10", "Sept", "40")
	bad.Values[types.FieldDatePaiement] = "hier"

	t.Run("mandatory rejects blank and bad dates", func(t *testing.T) {
		o := mandatory.ValidateRecord(blank)
		assert.True(t, o.Rejected)
		assert.Contains(t, codes(o.Errors), report.ErrCodeMissingDate)

		o = mandatory.ValidateRecord(bad)
		assert.True(t, o.Rejected)
		assert.Contains(t, codes(o.Errors), report.ErrCodeInvalidDate)
	})

	t.Run("optional admits blank silently and bad with an error", func(t *testing.T) {
		o := optional.ValidateRecord(blank)
		assert.False(t, o.Rejected)
		assert.Empty(t, o.Errors)

		o = optional.ValidateRecord(bad)
		assert.False(t, o.Rejected)
		assert.Equal(t, []string{report.ErrCodeInvalidDate}, codes(o.Errors))
	})

	t.Run("student-only rows ignore the date policy", func(t *testing.T) {
		o := mandatory.ValidateRecord(record(3, "Matricule", "PL1", "AnneeScolaire", "2025-2026"))
		assert.False(t, o.Rejected)
	})
}

func TestAmountRule(t *testing.T) {
	rec := paymentRecord(2, "PL1", "10", "Sept", "40")
	rec.Values[types.FieldFF] = "15"

	fip := NewValidator(config.DefaultImportConfig()).ValidateRecord(rec)
	assert.True(t, fip.Payment.Amount.Equal(decimal.NewFromInt(40)))

	sum := NewValidator(config.NewImportConfig(config.WithAmountRule(types.AmountFIPPlusFF))).ValidateRecord(rec)
	assert.True(t, sum.Payment.Amount.Equal(decimal.NewFromInt(55)))
	assert.True(t, sum.Payment.FF.Equal(decimal.NewFromInt(15)))
}

func TestAmountsKeptToTheCent(t *testing.T) {
	rec := paymentRecord(2, "PL1", "10", "Sept", "80.456")
	rec.Values[types.FieldFF] = "0.004"

	o := NewValidator(config.NewImportConfig(config.WithAmountRule(types.AmountFIPPlusFF))).ValidateRecord(rec)
	require.NotNil(t, o.Payment)
	assert.Equal(t, "80.46", o.Payment.FIP.String())
	assert.True(t, o.Payment.FF.IsZero(), o.Payment.FF.String())
	assert.Equal(t, "80.46", o.Payment.Amount.String())
}

func TestFold_ClassLabelAndCodeMoveTogether(t *testing.T) {
	records := []types.RawRecord{
		record(2, "Matricule", "PL1", "Classe", "4°CG", "AnneeScolaire", "2025-2026"),
		record(3, "Matricule", "PL1", "Classe", "Zz", "AnneeScolaire", "2025-2026"),
		record(4, "Matricule", "PL1", "Nom", "Jean", "AnneeScolaire", "2025-2026"),
	}

	res := Validate(records, config.DefaultImportConfig())
	require.Len(t, res.Students, 1)
	assert.Equal(t, "Zz", res.Students[0].ClassRaw)
	assert.Empty(t, res.Students[0].Class)
	assert.Equal(t, []string{report.ErrCodeInvalidClass}, codes(res.Errors))
}

func TestValidateAll(t *testing.T) {
	records := []types.RawRecord{
		record(2, "Matricule", "PL1", "Nom", "Jean", "Telephone", "", "AnneeScolaire", "2025-2026"),
		paymentRecord(3, "PL1", "100", "Sept", "80"),
		paymentRecord(4, "BAD", "101", "Sept", "80"),
		record(5, "Matricule", "PL1", "Telephone", "+243 81 234 5678", "Nom", "", "AnneeScolaire", "2025-2026"),
		paymentRecord(6, "PL2", "102", "Oct", "40"),
	}

	t.Run("folds students and keeps row order", func(t *testing.T) {
		res := Validate(records, config.DefaultImportConfig())

		assert.Equal(t, 5, res.Rows)
		assert.Equal(t, 1, res.RejectedRows)
		require.Len(t, res.Students, 2)

		pl1 := res.Students[0]
		assert.Equal(t, "PL1", pl1.Matricule)
		assert.Equal(t, "Kabila Jean", pl1.Name)
		assert.Equal(t, "+243 81 234 5678", pl1.Phone)
		assert.Equal(t, "4CG", pl1.Class)
		assert.Equal(t, []int{2, 3, 5}, pl1.Rows)

		require.Len(t, res.Payments, 2)
		assert.Equal(t, "100", res.Payments[0].Receipt)
		assert.Equal(t, "102", res.Payments[1].Receipt)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, 4, res.Errors[0].Row)
	})

	t.Run("parallel workers give the same result", func(t *testing.T) {
		var many []types.RawRecord
		for i := 0; i < 200; i++ {
			many = append(many, paymentRecord(i+2, fmt.Sprintf("PL%d", i%17), fmt.Sprint(i), "Nov", "45"))
		}

		seq := Validate(many, config.DefaultImportConfig())
		par, err := NewValidator(config.NewImportConfig(config.WithWorkers(8))).ValidateAll(context.Background(), many)
		require.NoError(t, err)
		assert.Equal(t, seq, par)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewValidator(config.DefaultImportConfig()).ValidateAll(ctx, records)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
