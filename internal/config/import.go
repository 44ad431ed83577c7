package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ginjaninja78/feeledger/internal/canon"
	"github.com/ginjaninja78/feeledger/internal/types"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IMPORT SETTINGS (YAML)
// =============================================================================

// ImportSettings is the YAML form of ImportConfig. Every field is optional.
type ImportSettings struct {
	// HeaderWindow is how many leading rows are scanned for the header.
	// Default: 30
	HeaderWindow int `yaml:"header_window"`

	// RequiredFields must all be present in the header row.
	// Default: Matricule, Nom, NumRecu, Mois, FIP, AnneeScolaire
	RequiredFields []string `yaml:"required_fields"`

	// Synonyms adds extra header spellings per canonical field.
	//
	// CUSTOMIZATION: Add the spellings your spreadsheets use.
	// Example:
	//   synonyms:
	//     NumRecu: ["N° Bordereau"]
	//     FIP: ["Montant payé"]
	Synonyms map[string][]string `yaml:"synonyms"`

	// DuplicatePolicy: "strict" or "permissive". Default: "strict"
	DuplicatePolicy string `yaml:"duplicate_policy"`

	// DatePolicy: "mandatory" or "optional". Default: "optional"
	DatePolicy string `yaml:"date_policy"`

	// AmountRule: "fip" or "fip_plus_ff". Default: "fip"
	AmountRule string `yaml:"amount_rule"`

	// MaterialityThreshold: payments at or below it are ignored by
	// reconciliation. Default: "0"
	MaterialityThreshold string `yaml:"materiality_threshold"`

	// Workers is the number of validation workers. Default: 1
	Workers int `yaml:"workers"`

	// MaxErrors caps the errors kept in memory per run. Default: 1000
	MaxErrors int `yaml:"max_errors"`

	// ReadTimeoutSeconds bounds spreadsheet decoding. Default: 60
	ReadTimeoutSeconds int `yaml:"read_timeout_seconds"`

	// CSVDelimiter for .csv inputs: ",", ";", "tab" or "|". Default: ","
	CSVDelimiter string `yaml:"csv_delimiter"`

	// CSVEncoding for .csv inputs: "utf-8", "windows-1252" or "iso-8859-1".
	// Default: "utf-8"
	CSVEncoding string `yaml:"csv_encoding"`
}

// Build turns the YAML settings into a validated ImportConfig.
func (s ImportSettings) Build() (ImportConfig, error) {
	var opts []ImportOption

	if s.HeaderWindow != 0 {
		opts = append(opts, WithHeaderWindow(s.HeaderWindow))
	}
	if len(s.RequiredFields) > 0 {
		fields := make([]types.Field, 0, len(s.RequiredFields))
		for _, name := range s.RequiredFields {
			f, ok := LookupField(name)
			if !ok {
				return ImportConfig{}, fmt.Errorf("unknown required field %q", name)
			}
			fields = append(fields, f)
		}
		opts = append(opts, WithRequiredFields(fields...))
	}
	for name, spellings := range s.Synonyms {
		f, ok := LookupField(name)
		if !ok {
			return ImportConfig{}, fmt.Errorf("unknown synonym field %q", name)
		}
		opts = append(opts, WithSynonyms(f, spellings...))
	}
	if s.DuplicatePolicy != "" {
		opts = append(opts, WithDuplicatePolicy(types.DuplicatePolicy(strings.ToLower(s.DuplicatePolicy))))
	}
	if s.DatePolicy != "" {
		opts = append(opts, WithDatePolicy(types.DatePolicy(strings.ToLower(s.DatePolicy))))
	}
	if s.AmountRule != "" {
		opts = append(opts, WithAmountRule(types.AmountRule(strings.ToLower(s.AmountRule))))
	}
	if s.MaterialityThreshold != "" {
		d, err := decimal.NewFromString(s.MaterialityThreshold)
		if err != nil {
			return ImportConfig{}, fmt.Errorf("invalid materiality threshold %q: %w", s.MaterialityThreshold, err)
		}
		opts = append(opts, WithMaterialityThreshold(d))
	}
	if s.Workers != 0 {
		opts = append(opts, WithWorkers(s.Workers))
	}
	if s.MaxErrors != 0 {
		opts = append(opts, WithMaxErrors(s.MaxErrors))
	}
	if s.ReadTimeoutSeconds != 0 {
		opts = append(opts, WithReadTimeout(time.Duration(s.ReadTimeoutSeconds)*time.Second))
	}
	if s.CSVDelimiter != "" {
		opts = append(opts, WithCSVDelimiter(parseDelimiter(s.CSVDelimiter)))
	}
	if s.CSVEncoding != "" {
		opts = append(opts, WithCSVEncoding(s.CSVEncoding))
	}

	cfg := NewImportConfig(opts...)
	if err := cfg.Validate(); err != nil {
		return ImportConfig{}, err
	}
	return cfg, nil
}

func parseDelimiter(s string) rune {
	switch strings.ToLower(s) {
	case "\\t", "tab":
		return '\t'
	case "pipe":
		return '|'
	case "semicolon":
		return ';'
	}
	return []rune(s)[0]
}

// =============================================================================
// IMPORT CONFIG
// =============================================================================

// ImportConfig drives one import run. Build it with NewImportConfig or
// ImportSettings.Build; the zero value is not usable.
type ImportConfig struct {
	HeaderWindow         int
	RequiredFields       []types.Field
	Synonyms             map[types.Field][]string
	DuplicatePolicy      types.DuplicatePolicy
	DatePolicy           types.DatePolicy
	AmountRule           types.AmountRule
	MaterialityThreshold decimal.Decimal
	Workers              int
	MaxErrors            int
	ReadTimeout          time.Duration
	CSVDelimiter         rune
	CSVEncoding          string
}

// ImportOption customizes an ImportConfig.
type ImportOption func(*ImportConfig)

// DefaultRequiredFields are the header labels that identify the header row.
var DefaultRequiredFields = []types.Field{
	types.FieldMatricule,
	types.FieldNom,
	types.FieldNumRecu,
	types.FieldMois,
	types.FieldFIP,
	types.FieldAnneeScolaire,
}

// defaultSynonyms lists accepted header spellings. They are compared after
// canon.FoldKey, so case, accents and punctuation do not matter.
var defaultSynonyms = map[types.Field][]string{
	types.FieldMatricule:     {"Matricule", "Mat", "Matr", "N° Matricule", "ID Eleve"},
	types.FieldNom:           {"Nom", "Noms", "Nom complet", "Nom et Postnom", "Nom Eleve", "Eleve"},
	types.FieldSexe:          {"Sexe", "Sex", "Genre"},
	types.FieldClasse:        {"Classe", "Class", "Cls"},
	types.FieldCategorie:     {"Categorie", "Cat", "Category"},
	types.FieldSection:       {"Section", "Option", "Filiere"},
	types.FieldTelephone:     {"Telephone", "Tel", "Phone", "Contact", "Tel Parent"},
	types.FieldEmail:         {"Email", "E-mail", "Mail", "Courriel"},
	types.FieldNumRecu:       {"NumRecu", "N° Recu", "Recu", "Numero Recu", "No Recu", "Receipt"},
	types.FieldMois:          {"Mois", "Month", "Mois paye"},
	types.FieldFIP:           {"FIP", "Montant FIP", "Frais FIP"},
	types.FieldFF:            {"FF", "Montant FF", "Frais Fonctionnement"},
	types.FieldObs:           {"Obs", "Observation", "Observations", "Remarque"},
	types.FieldJour:          {"Jour", "Day"},
	types.FieldDatePaiement:  {"DatePaiement", "Date Paiement", "Date de paiement", "Date"},
	types.FieldAnneeScolaire: {"AnneeScolaire", "Annee Scolaire", "Annee", "Annee academique", "School Year"},
}

// DefaultImportConfig returns the built-in import configuration.
func DefaultImportConfig() ImportConfig {
	synonyms := make(map[types.Field][]string, len(defaultSynonyms))
	for f, s := range defaultSynonyms {
		synonyms[f] = append([]string(nil), s...)
	}
	return ImportConfig{
		HeaderWindow:         30,
		RequiredFields:       append([]types.Field(nil), DefaultRequiredFields...),
		Synonyms:             synonyms,
		DuplicatePolicy:      types.DuplicateStrict,
		DatePolicy:           types.DateOptional,
		AmountRule:           types.AmountFIP,
		MaterialityThreshold: decimal.Zero,
		Workers:              1,
		MaxErrors:            1000,
		ReadTimeout:          60 * time.Second,
		CSVDelimiter:         ',',
		CSVEncoding:          "utf-8",
	}
}

// NewImportConfig applies opts on top of DefaultImportConfig.
func NewImportConfig(opts ...ImportOption) ImportConfig {
	cfg := DefaultImportConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithHeaderWindow sets how many rows are scanned for the header.
func WithHeaderWindow(n int) ImportOption {
	return func(c *ImportConfig) { c.HeaderWindow = n }
}

// WithRequiredFields replaces the header's required fields.
func WithRequiredFields(fields ...types.Field) ImportOption {
	return func(c *ImportConfig) { c.RequiredFields = append([]types.Field(nil), fields...) }
}

// WithSynonyms appends header spellings for a field.
func WithSynonyms(f types.Field, spellings ...string) ImportOption {
	return func(c *ImportConfig) { c.Synonyms[f] = append(c.Synonyms[f], spellings...) }
}

// WithDuplicatePolicy sets the batch gate policy.
func WithDuplicatePolicy(p types.DuplicatePolicy) ImportOption {
	return func(c *ImportConfig) { c.DuplicatePolicy = p }
}

// WithDatePolicy sets the payment date policy.
func WithDatePolicy(p types.DatePolicy) ImportOption {
	return func(c *ImportConfig) { c.DatePolicy = p }
}

// WithAmountRule sets how payment amounts are composed.
func WithAmountRule(r types.AmountRule) ImportOption {
	return func(c *ImportConfig) { c.AmountRule = r }
}

// WithMaterialityThreshold sets the reconciliation threshold.
func WithMaterialityThreshold(d decimal.Decimal) ImportOption {
	return func(c *ImportConfig) { c.MaterialityThreshold = d }
}

// WithWorkers sets the number of validation workers.
func WithWorkers(n int) ImportOption {
	return func(c *ImportConfig) { c.Workers = n }
}

// WithMaxErrors caps the collected errors.
func WithMaxErrors(n int) ImportOption {
	return func(c *ImportConfig) { c.MaxErrors = n }
}

// WithReadTimeout bounds spreadsheet decoding.
func WithReadTimeout(d time.Duration) ImportOption {
	return func(c *ImportConfig) { c.ReadTimeout = d }
}

// WithCSVDelimiter sets the CSV field separator.
func WithCSVDelimiter(r rune) ImportOption {
	return func(c *ImportConfig) { c.CSVDelimiter = r }
}

// WithCSVEncoding sets the CSV character encoding.
func WithCSVEncoding(enc string) ImportOption {
	return func(c *ImportConfig) { c.CSVEncoding = strings.ToLower(enc) }
}

// Validate checks policy values and that no header spelling is claimed by
// two fields.
func (c ImportConfig) Validate() error {
	if c.HeaderWindow <= 0 {
		return fmt.Errorf("header window must be positive, got %d", c.HeaderWindow)
	}
	if len(c.RequiredFields) == 0 {
		return fmt.Errorf("at least one required field is needed")
	}
	switch c.DuplicatePolicy {
	case types.DuplicateStrict, types.DuplicatePermissive:
	default:
		return fmt.Errorf("unknown duplicate policy %q", c.DuplicatePolicy)
	}
	switch c.DatePolicy {
	case types.DateMandatory, types.DateOptional:
	default:
		return fmt.Errorf("unknown date policy %q", c.DatePolicy)
	}
	switch c.AmountRule {
	case types.AmountFIP, types.AmountFIPPlusFF:
	default:
		return fmt.Errorf("unknown amount rule %q", c.AmountRule)
	}
	if c.MaterialityThreshold.IsNegative() {
		return fmt.Errorf("materiality threshold must not be negative")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	switch c.CSVEncoding {
	case "", "utf-8", "utf8", "windows-1252", "cp1252", "iso-8859-1", "latin1":
	default:
		return fmt.Errorf("unsupported csv encoding %q", c.CSVEncoding)
	}

	seen := make(map[string]types.Field)
	for f, spellings := range c.Synonyms {
		for _, s := range spellings {
			key := canon.FoldKey(s)
			if key == "" {
				continue
			}
			if other, ok := seen[key]; ok && other != f {
				return fmt.Errorf("header spelling %q maps to both %s and %s", s, other, f)
			}
			seen[key] = f
		}
	}
	return nil
}

// HeaderKeys returns the folded header spelling to field lookup table.
func (c ImportConfig) HeaderKeys() map[string]types.Field {
	keys := make(map[string]types.Field)
	for f, spellings := range c.Synonyms {
		keys[canon.FoldKey(string(f))] = f
		for _, s := range spellings {
			if key := canon.FoldKey(s); key != "" {
				keys[key] = f
			}
		}
	}
	return keys
}

// LookupField resolves a canonical field name, ignoring case and accents.
func LookupField(name string) (types.Field, bool) {
	key := canon.FoldKey(name)
	for _, f := range types.AllFields {
		if canon.FoldKey(string(f)) == key {
			return f, true
		}
	}
	return "", false
}
