// =============================================================================
// Fee Ledger - Shared Types
// =============================================================================
//
// This package contains shared types used across multiple modules to avoid
// import cycles. Types defined here are used by:
//   - canon
//   - sheetreader
//   - validation
//   - gate
//   - store
//   - reconcile
//
// =============================================================================

package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CANONICAL FIELDS
// =============================================================================

// Field is the canonical name of a spreadsheet column.
type Field string

const (
	FieldMatricule     Field = "Matricule"
	FieldNom           Field = "Nom"
	FieldSexe          Field = "Sexe"
	FieldClasse        Field = "Classe"
	FieldCategorie     Field = "Categorie"
	FieldSection       Field = "Section"
	FieldTelephone     Field = "Telephone"
	FieldEmail         Field = "Email"
	FieldNumRecu       Field = "NumRecu"
	FieldMois          Field = "Mois"
	FieldFIP           Field = "FIP"
	FieldFF            Field = "FF"
	FieldObs           Field = "Obs"
	FieldJour          Field = "Jour"
	FieldDatePaiement  Field = "DatePaiement"
	FieldAnneeScolaire Field = "AnneeScolaire"
)

// AllFields lists every canonical field in spreadsheet order.
var AllFields = []Field{
	FieldMatricule, FieldNom, FieldSexe, FieldClasse, FieldCategorie,
	FieldSection, FieldTelephone, FieldEmail, FieldNumRecu, FieldMois,
	FieldFIP, FieldFF, FieldObs, FieldJour, FieldDatePaiement,
	FieldAnneeScolaire,
}

// PaymentFields are the fields whose presence makes a row a payment row.
var PaymentFields = []Field{
	FieldNumRecu, FieldMois, FieldFIP, FieldFF, FieldDatePaiement,
}

// =============================================================================
// RAW RECORDS
// =============================================================================

// RawRecord is one spreadsheet row after column mapping and before
// canonicalization.
type RawRecord struct {
	// Row is the 1-based spreadsheet row number.
	Row int

	// Values maps each mapped canonical field to its raw cell text.
	// Fields that have no column in the sheet are absent.
	Values map[Field]string
}

// Get returns the raw value for a field, or "" if the field is absent.
func (r RawRecord) Get(f Field) string {
	if r.Values == nil {
		return ""
	}
	return r.Values[f]
}

// IsBlank reports whether every mapped cell is empty or whitespace.
func (r RawRecord) IsBlank() bool {
	for _, v := range r.Values {
		if !isSpace(v) {
			return false
		}
	}
	return true
}

func isSpace(s string) bool {
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\u00a0':
		default:
			return false
		}
	}
	return true
}

// =============================================================================
// SCHOOL MONTHS
// =============================================================================

// Month is one of the ten canonical school-year month codes.
type Month string

const (
	MonthSept Month = "Sept"
	MonthOct  Month = "Oct"
	MonthNov  Month = "Nov"
	MonthDec  Month = "Dec"
	MonthJanv Month = "Janv"
	MonthFevr Month = "Fevr"
	MonthMars Month = "Mars"
	MonthAvr  Month = "Avr"
	MonthMai  Month = "Mai"
	MonthJuin Month = "Juin"
)

// SchoolMonths is the fixed school-year ordering used for reconciliation.
var SchoolMonths = []Month{
	MonthSept, MonthOct, MonthNov, MonthDec, MonthJanv,
	MonthFevr, MonthMars, MonthAvr, MonthMai, MonthJuin,
}

// Index returns the position of m in SchoolMonths, or -1.
func (m Month) Index() int {
	for i, sm := range SchoolMonths {
		if sm == m {
			return i
		}
	}
	return -1
}

// Valid reports whether m is one of the ten canonical codes.
func (m Month) Valid() bool {
	return m.Index() >= 0
}

// =============================================================================
// POLICIES
// =============================================================================

// DuplicatePolicy controls what the batch gate does with repeated receipts.
type DuplicatePolicy string

const (
	DuplicateStrict     DuplicatePolicy = "strict"
	DuplicatePermissive DuplicatePolicy = "permissive"
)

// DatePolicy controls whether a payment date is required.
type DatePolicy string

const (
	DateMandatory DatePolicy = "mandatory"
	DateOptional  DatePolicy = "optional"
)

// AmountRule selects how a payment amount is composed from the FIP and FF
// columns.
type AmountRule string

const (
	AmountFIP       AmountRule = "fip"
	AmountFIPPlusFF AmountRule = "fip_plus_ff"
)

// =============================================================================
// CANDIDATES
// =============================================================================

// StudentCandidate is a validated student record ready for merging.
// Empty strings mean "no value in this batch".
type StudentCandidate struct {
	Matricule string
	Name      string
	Sex       string
	ClassRaw  string
	Class     string
	Category  string
	Section   string
	Phone     string
	Email     string

	// Rows lists every source row that contributed to this candidate.
	Rows []int
}

// PaymentCandidate is a validated payment record ready for the batch gate.
type PaymentCandidate struct {
	Row        int
	Receipt    string
	Matricule  string
	Name       string
	MonthRaw   string
	Month      *Month
	FIP        decimal.Decimal
	FF         decimal.Decimal
	Amount     decimal.Decimal
	PaidOn     *time.Time
	SchoolYear string
	Obs        string
	Jour       string
}
