// =============================================================================
// Fee Ledger - Lookup and Dashboard Commands
// =============================================================================
//
// COMMAND USAGE:
//   feeledger lookup phone <number>   - Matricules whose phone ends the same
//   feeledger dashboard               - Store-wide counters
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/feeledger/internal/reconcile"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Find students",
}

var lookupPhoneCmd = &cobra.Command{
	Use:   "phone <number>",
	Short: "Find students by phone number",
	Long: fmt.Sprintf(`Find the students whose phone number ends with the same %d digits as
<number>. Spaces, dashes and country prefixes are ignored.`, reconcile.PhoneDigitsMatched),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e *reconcile.Engine) error {
			matricules, err := e.FindByPhone(ctx, args[0])
			if err != nil {
				return err
			}
			if reconcileJSON {
				if matricules == nil {
					matricules = []string{}
				}
				return printJSON(matricules)
			}
			if len(matricules) == 0 {
				fmt.Println("  no student found")
				return nil
			}
			for _, m := range matricules {
				fmt.Printf("  %s\n", m)
			}
			return nil
		})
	},
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show store-wide counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e *reconcile.Engine) error {
			t, err := e.Dashboard(ctx)
			if err != nil {
				return err
			}
			if reconcileJSON {
				return printJSON(t)
			}
			fmt.Println("Fee Ledger")
			fmt.Printf("  students:   %d\n", t.Students)
			fmt.Printf("  classes:    %d\n", t.Classes)
			fmt.Printf("  payments:   %d\n", t.Payments)
			fmt.Printf("  total paid: %s\n", t.TotalPaid.StringFixed(2))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(lookupCmd, dashboardCmd)
	lookupCmd.AddCommand(lookupPhoneCmd)

	lookupCmd.PersistentFlags().BoolVar(&reconcileJSON, "json", false, "Print the result as JSON")
	dashboardCmd.Flags().BoolVar(&reconcileJSON, "json", false, "Print the result as JSON")
}
