package sheetreader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"github.com/ginjaninja78/feeledger/internal/config"
	"github.com/ginjaninja78/feeledger/internal/types"
)

var paymentHeader = []any{"Matricule", "Nom", "Classe", "N° Reçu", "Mois", "FIP", "Date Paiement", "Année Scolaire"}

// buildWorkbook writes each sheet's rows starting at A1.
func buildWorkbook(t *testing.T, sheets map[string][][]any, order ...string) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			if row == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestOpen_XLSX(t *testing.T) {
	cfg := config.DefaultImportConfig()

	t.Run("header below decorative rows", func(t *testing.T) {
		buf := buildWorkbook(t, map[string][][]any{
			"Paiements": {
				{"COMPLEXE SCOLAIRE LES PAPILLONS"},
				{"Relevé des paiements - Septembre"},
				paymentHeader,
				{"PL001", "Kabila Jean", "4°CG", 8670, "Sept", 80, "15/09/2025", "2025-2026"},
				{"PL002", "Mbuyi Grace", "1P", "8671", "Ac.Oct", 20, "", "2025-2026"},
				nil,
				{"LT010", "Ilunga Paul", "7EB", "8672", "Nov", "45", "", "2025-2026"},
			},
		}, "Paiements")

		r, err := Open(context.Background(), "paiements.xlsx", buf, cfg)
		require.NoError(t, err)
		assert.Equal(t, FormatXLSX, r.Format())

		h := r.Header()
		assert.Equal(t, "Paiements", h.Sheet)
		assert.Equal(t, 3, h.Row)
		assert.Equal(t, 3, h.Columns[types.FieldNumRecu])
		assert.Equal(t, 7, h.Columns[types.FieldAnneeScolaire])

		var rows []int
		var recs []types.RawRecord
		for r.Next() {
			recs = append(recs, r.Record())
			rows = append(rows, r.Record().Row)
		}
		require.NoError(t, r.Err())
		assert.Equal(t, []int{4, 5, 7}, rows)
		assert.Equal(t, "8670", recs[0].Get(types.FieldNumRecu))
		assert.Equal(t, "4°CG", recs[0].Get(types.FieldClasse))
		assert.Equal(t, "Ac.Oct", recs[1].Get(types.FieldMois))
		assert.Equal(t, "", recs[1].Get(types.FieldDatePaiement))
	})

	t.Run("header found on a later sheet", func(t *testing.T) {
		buf := buildWorkbook(t, map[string][][]any{
			"Notes":  {{"Ne pas modifier"}},
			"Ventes": {paymentHeader, {"PL001", "A", "1P", "1", "Sept", 40, "", "2025-2026"}},
		}, "Notes", "Ventes")

		header, recs, err := ReadAll(context.Background(), "book.xlsx", buf, cfg)
		require.NoError(t, err)
		assert.Equal(t, "Ventes", header.Sheet)
		require.Len(t, recs, 1)
		assert.Equal(t, 2, recs[0].Row)
	})

	t.Run("header not found", func(t *testing.T) {
		buf := buildWorkbook(t, map[string][][]any{
			"S": {{"Matricule", "Nom", "Mois"}, {"PL001", "A", "Sept"}},
		}, "S")

		_, err := Open(context.Background(), "x.xlsx", buf, cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrHeaderNotFound))

		var hnf *HeaderNotFoundError
		require.True(t, errors.As(err, &hnf))
		assert.ElementsMatch(t, []types.Field{types.FieldNumRecu, types.FieldFIP, types.FieldAnneeScolaire}, hnf.Missing)
	})

	t.Run("header outside the window", func(t *testing.T) {
		rows := make([][]any, 0, 5)
		for i := 0; i < 4; i++ {
			rows = append(rows, []any{"decor"})
		}
		rows = append(rows, paymentHeader)
		buf := buildWorkbook(t, map[string][][]any{"S": rows}, "S")

		small := config.NewImportConfig(config.WithHeaderWindow(3))
		_, err := Open(context.Background(), "x.xlsx", buf, small)
		assert.ErrorIs(t, err, ErrHeaderNotFound)
	})
}

func TestOpen_CSV(t *testing.T) {
	t.Run("semicolon export in windows-1252", func(t *testing.T) {
		text := "Liste des élèves;;;;;\n" +
			"Matricule;Nom;Reçu;Mois;FIP;Année scolaire\n" +
			"PL001;Kabila Élodie;8670;Février;80,5;25-26\n" +
			";;;;;\n" +
			"PL002;Mbuyi;8671;Mars;40;25-26\n"
		encoded, err := charmap.Windows1252.NewEncoder().String(text)
		require.NoError(t, err)

		cfg := config.NewImportConfig(config.WithCSVEncoding("windows-1252"))
		header, recs, err := ReadAll(context.Background(), "export.csv", strings.NewReader(encoded), cfg)
		require.NoError(t, err)

		assert.Equal(t, 2, header.Row)
		require.Len(t, recs, 2)
		assert.Equal(t, 3, recs[0].Row)
		assert.Equal(t, "Kabila Élodie", recs[0].Get(types.FieldNom))
		assert.Equal(t, "Février", recs[0].Get(types.FieldMois))
		assert.Equal(t, "80,5", recs[0].Get(types.FieldFIP))
		assert.Equal(t, 5, recs[1].Row)
	})

	t.Run("first matching column wins and unmapped cells are listed", func(t *testing.T) {
		text := "Matricule,Nom,NumRecu,Mois,Mois,FIP,AnneeScolaire,Commentaire\n" +
			"PL001,A,1,Sept,Oct,40,2025-2026,ok\n"
		header, recs, err := ReadAll(context.Background(), "a.csv", strings.NewReader(text), config.DefaultImportConfig())
		require.NoError(t, err)

		assert.Equal(t, 3, header.Columns[types.FieldMois])
		assert.Equal(t, []string{"Commentaire"}, header.Unmapped)
		require.Len(t, recs, 1)
		assert.Equal(t, "Sept", recs[0].Get(types.FieldMois))
	})

	t.Run("custom synonyms", func(t *testing.T) {
		text := "Matricule,Nom,Bordereau,Mois,Montant,AnneeScolaire\nPL001,A,77,Sept,40,2025-2026\n"
		cfg := config.NewImportConfig(
			config.WithSynonyms(types.FieldNumRecu, "Bordereau"),
			config.WithSynonyms(types.FieldFIP, "Montant"),
		)
		_, recs, err := ReadAll(context.Background(), "a.csv", strings.NewReader(text), cfg)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "77", recs[0].Get(types.FieldNumRecu))
	})
}

func TestOpen_Cancelled(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Open(ctx, "slow.csv", pr, config.DefaultImportConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatXLSX, DetectFormat("a.XLSX", nil))
	assert.Equal(t, FormatXLS, DetectFormat("a.xls", nil))
	assert.Equal(t, FormatCSV, DetectFormat("a.csv", nil))
	assert.Equal(t, FormatXLSX, DetectFormat("upload", []byte("PK\x03\x04rest")))
	assert.Equal(t, FormatXLS, DetectFormat("upload", []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}))
	assert.Equal(t, FormatCSV, DetectFormat("upload", []byte("Matricule,Nom")))
}

func TestSniffDelimiter(t *testing.T) {
	assert.Equal(t, ';', sniffDelimiter([]byte("a;b;c\n1;2;3"), ','))
	assert.Equal(t, ',', sniffDelimiter([]byte("a,b;c"), ','))
	assert.Equal(t, '\t', sniffDelimiter([]byte("a\tb"), '\t'))
	assert.Equal(t, ',', sniffDelimiter([]byte("abc"), 0))
}
