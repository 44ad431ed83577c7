// =============================================================================
// Fee Ledger - Reconcile Command
// =============================================================================
//
// This file defines the 'reconcile' command and its subcommands, which read
// the committed store and report what was owed against what was paid.
//
// COMMAND USAGE:
//   feeledger reconcile student <matricule>
//   feeledger reconcile section <section> [--up-to <month>]
//   feeledger reconcile month <month>
//   feeledger reconcile class <class>
//   feeledger reconcile journal <YYYY-MM-DD>
//
// FLAGS:
//   --json : Print the result as JSON instead of a table
//
// =============================================================================

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/feeledger/internal/canon"
	"github.com/ginjaninja78/feeledger/internal/reconcile"
	"github.com/ginjaninja78/feeledger/internal/types"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	reconcileJSON bool
	sectionUpTo   string
)

// =============================================================================
// RECONCILE COMMAND DEFINITIONS
// =============================================================================

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile committed payments against expected fees",
	Long: `The reconcile command reads the store and reports, per student, section,
month, class or day, what was paid and what is still owed.

Only payments with a recognised school month and an amount above the
materiality threshold count towards a month.`,
}

var reconcileStudentCmd = &cobra.Command{
	Use:   "student <matricule>",
	Short: "Month-by-month status of one student",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e *reconcile.Engine) error {
			res, err := e.ReconcileStudent(ctx, args[0])
			if err != nil {
				return err
			}
			if reconcileJSON {
				return printJSON(res)
			}
			printStudent(res)
			return nil
		})
	},
}

var reconcileSectionCmd = &cobra.Command{
	Use:   "section <section>",
	Short: "Total paid by a section, optionally up to a month",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var upTo *types.Month
		if sectionUpTo != "" {
			m, ok := canon.NormalizeMonth(sectionUpTo)
			if !ok {
				return fmt.Errorf("--up-to %q is not a school month", sectionUpTo)
			}
			upTo = &m
		}

		return withEngine(func(ctx context.Context, e *reconcile.Engine) error {
			res, err := e.ReconcileSection(ctx, args[0], upTo)
			if err != nil {
				return err
			}
			if reconcileJSON {
				return printJSON(res)
			}
			fmt.Printf("Section %s\n", res.Section)
			if res.UpTo != nil {
				fmt.Printf("  up to:       %s\n", *res.UpTo)
			}
			fmt.Printf("  months seen: %s\n", joinMonths(res.MonthsSeen))
			fmt.Printf("  total paid:  %s\n", res.TotalPaid.StringFixed(2))
			return nil
		})
	},
}

var reconcileMonthCmd = &cobra.Command{
	Use:   "month <month>",
	Short: "Total paid for one month, by section",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e *reconcile.Engine) error {
			res, err := e.ReconcileMonth(ctx, args[0])
			if err != nil {
				return err
			}
			if reconcileJSON {
				return printJSON(res)
			}
			fmt.Printf("Month %s\n", res.Month)
			sections := make([]string, 0, len(res.BySection))
			for s := range res.BySection {
				sections = append(sections, s)
			}
			sort.Strings(sections)
			for _, s := range sections {
				label := s
				if label == "" {
					label = "(no section)"
				}
				fmt.Printf("  %-20s %12s\n", label, res.BySection[s].StringFixed(2))
			}
			fmt.Printf("  %-20s %12s\n", "TOTAL", res.Total.StringFixed(2))
			return nil
		})
	},
}

var reconcileClassCmd = &cobra.Command{
	Use:   "class <class>",
	Short: "Balance of every student in a class",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e *reconcile.Engine) error {
			rep, err := e.ReconcileClass(ctx, args[0])
			if err != nil {
				return err
			}
			if reconcileJSON {
				return printJSON(rep)
			}
			fmt.Printf("Class %s (%d students)\n", rep.Class, len(rep.Students))
			for _, r := range rep.Students {
				fmt.Printf("  %-10s %-30s paid %10s  balance %10s\n",
					r.Student.Matricule, r.Student.Name,
					r.TotalPaid.StringFixed(2), r.Balance.StringFixed(2))
			}
			fmt.Printf("  expected %s, paid %s, balance %s\n",
				rep.TotalExpected.StringFixed(2), rep.TotalPaid.StringFixed(2), rep.Balance.StringFixed(2))
			return nil
		})
	},
}

var reconcileJournalCmd = &cobra.Command{
	Use:   "journal <YYYY-MM-DD>",
	Short: "Payments recorded on one day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := time.Parse("2006-01-02", args[0])
		if err != nil {
			return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
		}

		return withEngine(func(ctx context.Context, e *reconcile.Engine) error {
			j, err := e.DailyJournal(ctx, day)
			if err != nil {
				return err
			}
			if reconcileJSON {
				return printJSON(j)
			}
			fmt.Printf("Journal %s (%d payments)\n", j.Date, len(j.Payments))
			for _, p := range j.Payments {
				month := p.MonthRaw
				if p.Month != nil {
					month = string(*p.Month)
				}
				fmt.Printf("  %-12s %-10s %-30s %-6s %10s\n",
					p.Receipt, p.Matricule, p.Name, month, p.Amount.StringFixed(2))
			}
			fmt.Printf("  total: %s\n", j.Total.StringFixed(2))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.AddCommand(
		reconcileStudentCmd,
		reconcileSectionCmd,
		reconcileMonthCmd,
		reconcileClassCmd,
		reconcileJournalCmd,
	)

	reconcileCmd.PersistentFlags().BoolVar(&reconcileJSON, "json", false, "Print the result as JSON")
	reconcileSectionCmd.Flags().StringVar(&sectionUpTo, "up-to", "", "Last month included (any spelling, e.g. Oct or Ac.Oct)")
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// withEngine loads the application, runs fn against a reconciliation engine
// and releases everything afterwards.
func withEngine(fn func(ctx context.Context, e *reconcile.Engine) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	engine, err := a.engine()
	if err != nil {
		return err
	}
	return fn(ctx, engine)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStudent(res *reconcile.Result) {
	st := res.Student
	fmt.Printf("%s  %s\n", st.Matricule, st.Name)
	fmt.Printf("  class:    %s (%s)\n", st.Class, st.Section)
	fmt.Printf("  fee:      %s / month\n", res.MonthlyFee.StringFixed(2))
	fmt.Println()
	for _, m := range res.Months {
		mark := " "
		switch m.Status {
		case reconcile.StatusPaid:
			mark = "✓"
		case reconcile.StatusPartial:
			mark = "~"
		}
		fmt.Printf("  %s %-8s %10s\n", mark, m.Label, m.Paid.StringFixed(2))
	}
	fmt.Println()
	fmt.Printf("  expected: %s\n", res.TotalExpected.StringFixed(2))
	fmt.Printf("  paid:     %s\n", res.TotalPaid.StringFixed(2))
	fmt.Printf("  balance:  %s\n", res.Balance.StringFixed(2))
	if paid := res.PaidLabels(); len(paid) > 0 {
		fmt.Printf("  paid in:  %s\n", strings.Join(paid, ", "))
	}
	if unpaid := res.UnpaidMonths(); len(unpaid) > 0 {
		fmt.Printf("  unpaid:   %s\n", joinMonths(unpaid))
	}
}

func joinMonths(months []types.Month) string {
	if len(months) == 0 {
		return "-"
	}
	parts := make([]string, len(months))
	for i, m := range months {
		parts[i] = string(m)
	}
	return strings.Join(parts, ", ")
}
