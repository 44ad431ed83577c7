package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/feeledger/internal/types"
)

// StudentInfo is the committed state of a student as reconciliation sees it.
type StudentInfo struct {
	Matricule string `json:"matricule"`
	Name      string `json:"name"`
	Sex       string `json:"sex,omitempty"`
	ClassRaw  string `json:"class_raw,omitempty"`
	Class     string `json:"class,omitempty"`
	Category  string `json:"category,omitempty"`
	Section   string `json:"section,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// PaymentInfo is a committed payment joined with its student's name and
// section.
type PaymentInfo struct {
	Receipt    string          `json:"receipt"`
	Matricule  string          `json:"matricule"`
	Name       string          `json:"name"`
	Section    string          `json:"section,omitempty"`
	Class      string          `json:"class,omitempty"`
	MonthRaw   string          `json:"month_raw,omitempty"`
	Month      *types.Month    `json:"month,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	PaidOn     *time.Time      `json:"paid_on,omitempty"`
	SchoolYear string          `json:"school_year,omitempty"`
}

// StudentFilter selects students. Empty fields do not filter.
type StudentFilter struct {
	Section     string
	Class       string
	PhoneSuffix string
}

// PaymentFilter selects payments. Empty fields do not filter.
type PaymentFilter struct {
	Matricules []string
	Section    string
	Month      *types.Month
	PaidFrom   *time.Time
	PaidTo     *time.Time
}

// Totals are store-wide counters for the dashboard.
type Totals struct {
	Students  int64           `json:"students"`
	Payments  int64           `json:"payments"`
	Classes   int64           `json:"classes"`
	TotalPaid decimal.Decimal `json:"total_paid"`
}

// View reads committed data. Every call made through one View sees the
// same snapshot.
type View interface {
	// FindStudent returns nil, nil when the matricule is unknown.
	FindStudent(ctx context.Context, matricule string) (*StudentInfo, error)
	Students(ctx context.Context, filter StudentFilter) ([]StudentInfo, error)
	Payments(ctx context.Context, filter PaymentFilter) ([]PaymentInfo, error)
	Totals(ctx context.Context) (Totals, error)
}

// Source opens read snapshots over committed data.
type Source interface {
	ReadSnapshot(ctx context.Context, fn func(View) error) error
}
