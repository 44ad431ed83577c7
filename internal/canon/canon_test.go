package canon

import (
	"testing"
	"time"

	"github.com/ginjaninja78/feeledger/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldKey(t *testing.T) {
	assert.Equal(t, "nrecu", FoldKey("N° Reçu"))
	assert.Equal(t, "datepaiement", FoldKey("Date Paiement"))
	assert.Equal(t, "anneescolaire", FoldKey("ANNÉE_SCOLAIRE"))
	assert.Equal(t, "", FoldKey("  --  "))
}

func TestCleanString(t *testing.T) {
	assert.Equal(t, "Jean Mukendi", CleanString("  Jean   Mukendi\t"))
	assert.True(t, IsBlank("  \t"))
	assert.False(t, IsBlank(" x "))
}

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		name   string
		raw    any
		want   string
		wantOK bool
	}{
		{"nil", nil, "0", true},
		{"blank", "  ", "0", true},
		{"nbsp only", "\u00a0", "0", true},
		{"int", 80, "80", true},
		{"float", 40.5, "40.5", true},
		{"plain string", "55", "55", true},
		{"comma decimal", "1 250,50", "1250.5", true},
		{"nbsp thousands", "1\u00a0250", "1250", true},
		{"currency suffix", "80 FCFA", "80", true},
		{"negative", "-15", "-15", true},
		{"garbage", "n/a", "0", false},
		{"two separators", "1.234,50", "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeAmount(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestNormalizeDate(t *testing.T) {
	want := time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)

	t.Run("ordered string layouts", func(t *testing.T) {
		for _, raw := range []string{"15/09/2025", "2025-09-15", "15-09-2025", "2025-09-15 00:00:00"} {
			got, ok := NormalizeDate(raw, types.DateMandatory)
			require.True(t, ok, raw)
			assert.Equal(t, want, *got, raw)
		}
	})

	t.Run("unpadded day and month", func(t *testing.T) {
		sept5 := time.Date(2025, 9, 5, 0, 0, 0, 0, time.UTC)
		for _, raw := range []string{"5/9/2025", "05/9/2025", "5/09/2025", "5-9-2025", "2025-9-5"} {
			got, ok := NormalizeDate(raw, types.DateMandatory)
			require.True(t, ok, raw)
			assert.Equal(t, sept5, *got, raw)
		}
	})

	t.Run("native time value is truncated to the day", func(t *testing.T) {
		got, ok := NormalizeDate(time.Date(2025, 9, 15, 14, 30, 0, 0, time.UTC), types.DateMandatory)
		require.True(t, ok)
		assert.Equal(t, want, *got)
	})

	t.Run("excel serial", func(t *testing.T) {
		jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

		got, ok := NormalizeDate(45658.0, types.DateMandatory)
		require.True(t, ok)
		assert.Equal(t, jan1, *got)

		got, ok = NormalizeDate("45658", types.DateMandatory)
		require.True(t, ok)
		assert.Equal(t, jan1, *got)
	})

	t.Run("small numbers are not serials", func(t *testing.T) {
		got, ok := NormalizeDate("15", types.DateOptional)
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("blank under each policy", func(t *testing.T) {
		got, ok := NormalizeDate("", types.DateOptional)
		assert.True(t, ok)
		assert.Nil(t, got)

		got, ok = NormalizeDate("", types.DateMandatory)
		assert.False(t, ok)
		assert.Nil(t, got)

		got, ok = NormalizeDate(nil, types.DateOptional)
		assert.True(t, ok)
		assert.Nil(t, got)
	})

	t.Run("unparsable fails under both policies", func(t *testing.T) {
		for _, policy := range []types.DatePolicy{types.DateMandatory, types.DateOptional} {
			got, ok := NormalizeDate("le 15 septembre", policy)
			assert.False(t, ok)
			assert.Nil(t, got)
		}
	})
}

func TestNormalizeMonth(t *testing.T) {
	tests := map[string]types.Month{
		"Sept":       types.MonthSept,
		"Septembre":  types.MonthSept,
		"Ac.Oct":     types.MonthOct,
		"ac - nov":   types.MonthNov,
		"Sld/Dec":    types.MonthDec,
		"Décembre":   types.MonthDec,
		"Janvier":    types.MonthJanv,
		"FÉVRIER":    types.MonthFevr,
		"févr.":      types.MonthFevr,
		"Fevr":       types.MonthFevr,
		"mars":       types.MonthMars,
		"Avril":      types.MonthAvr,
		"MAI":        types.MonthMai,
		" juin ":     types.MonthJuin,
		"Ac. Juin 2": types.MonthJuin,
	}

	for raw, want := range tests {
		t.Run(raw, func(t *testing.T) {
			got, ok := NormalizeMonth(raw)
			require.True(t, ok)
			assert.Equal(t, want, got)
		})
	}

	t.Run("no match", func(t *testing.T) {
		for _, raw := range []string{"", "Inscription", "Frais", "13"} {
			got, ok := NormalizeMonth(raw)
			assert.False(t, ok, raw)
			assert.Equal(t, types.Month(""), got)
		}
	})
}

func TestNormalizeMonthIsTotal(t *testing.T) {
	inputs := []string{
		"", " ", " ", "ac", "sld", "ac.", "...", "\x00\xff", "日本語",
		"AC-AC-AC", "sept oct", "Décembre/Janvier", "🙂 mai", "ＳＥＰＴ",
	}
	for _, raw := range inputs {
		assert.NotPanics(t, func() {
			got, ok := NormalizeMonth(raw)
			if ok {
				assert.True(t, got.Valid(), raw)
			} else {
				assert.Equal(t, types.Month(""), got, raw)
			}
		})
	}
}

func TestNormalizeReceipt(t *testing.T) {
	assert.Equal(t, "8670", NormalizeReceipt("8670.0"))
	assert.Equal(t, "8671", NormalizeReceipt(" 8671 "))
	assert.Equal(t, "ABC-12", NormalizeReceipt("ABC-12"))
	assert.Equal(t, "", NormalizeReceipt("   "))
	assert.Equal(t, "12.5", NormalizeReceipt("12.5"))
	assert.Equal(t, "NaN", NormalizeReceipt("NaN"))
}

func TestNormalizeClassCode(t *testing.T) {
	t.Run("equivalent spellings of 1P", func(t *testing.T) {
		for _, raw := range []string{"1°P", "1 P", "1P", "1p", "1ère P"} {
			got, ok := NormalizeClassCode(raw)
			require.True(t, ok, raw)
			assert.Equal(t, "1P", got, raw)
		}
		assert.Equal(t, 40, ClassTier("1P"))
	})

	tests := []struct {
		raw  string
		want string
		tier int
	}{
		{"4°CG", "4CG", 80},
		{"2 Litt", "2LIT", 45},
		{"3 Sci", "3SC", 45},
		{"1 Elec", "1EL", 55},
		{"1 Electro", "1ELECTRO", 55},
		{"2TC", "2TCC", 55},
		{"7 EB", "7EB", 45},
		{"4ème SC", "4SC", 80},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := NormalizeClassCode(tt.raw)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.tier, ClassTier(got))
		})
	}

	t.Run("unclassified", func(t *testing.T) {
		for _, raw := range []string{"", "Prof", "9P", "4", "CG", "2ELECTRO", "1E"} {
			got, ok := NormalizeClassCode(raw)
			assert.False(t, ok, raw)
			assert.Equal(t, "", got, raw)
			assert.Equal(t, 0, ClassTier(got))
		}
	})
}

func TestMatricule(t *testing.T) {
	assert.True(t, MatriculeValid("PL001"))
	assert.True(t, MatriculeValid(" LT42 "))
	assert.False(t, MatriculeValid("pl001"))
	assert.False(t, MatriculeValid("PX001"))
	assert.False(t, MatriculeValid("PL"))
	assert.False(t, MatriculeValid(""))

	assert.Equal(t, "PL001", NormalizeMatricule(" pl 001 "))
	assert.True(t, MatriculeValid(NormalizeMatricule("pl001")))
}

func TestNormalizeSchoolYear(t *testing.T) {
	assert.Equal(t, "2025-2026", NormalizeSchoolYear("25-26"))
	assert.Equal(t, "2025-2026", NormalizeSchoolYear("2025/2026"))
	assert.Equal(t, "2025-2026", NormalizeSchoolYear("2025 - 26"))
	assert.Equal(t, "Annee A", NormalizeSchoolYear(" Annee A "))
	assert.Equal(t, "", NormalizeSchoolYear(""))
}

func TestNormalizeSex(t *testing.T) {
	assert.Equal(t, "M", NormalizeSex("masculin"))
	assert.Equal(t, "M", NormalizeSex("Garçon"))
	assert.Equal(t, "F", NormalizeSex(" f "))
	assert.Equal(t, "F", NormalizeSex("Féminin"))
	assert.Equal(t, "X", NormalizeSex("x"))
}

func TestNormalizeEmail(t *testing.T) {
	got, ok := NormalizeEmail(" Parent@Example.COM ")
	assert.True(t, ok)
	assert.Equal(t, "parent@example.com", got)

	got, ok = NormalizeEmail("")
	assert.True(t, ok)
	assert.Equal(t, "", got)

	_, ok = NormalizeEmail("not an email")
	assert.False(t, ok)
}

func TestPhone(t *testing.T) {
	assert.Equal(t, "243812345678", PhoneDigits("+243 81-234/5678"))
	assert.Equal(t, "812345678", PhoneSuffix("+243 81 234 5678", 9))
	assert.Equal(t, "1234", PhoneSuffix("12-34", 9))
}
