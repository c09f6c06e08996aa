package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Inspect and adjust hour balances",
}

var balanceShowCmd = &cobra.Command{
	Use:   "show ACCOUNT",
	Short: "Show one account's balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runBalanceShow,
}

var balanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List balances, highest first",
	Args:  cobra.NoArgs,
	RunE:  runBalanceList,
}

var balanceAdjustCmd = &cobra.Command{
	Use:   "adjust ACCOUNT HOURS",
	Short: "Apply an administrative correction",
	Long: `Credit (positive HOURS) or debit (negative HOURS) an account. The change is
recorded in the ledger as an adjusted entry naming the administrator.`,
	Example: `  timebank balance adjust alice 2.5 --admin root --reason "opening balance"
  timebank balance adjust alice -- -1 --admin root --reason "duplicate claim"`,
	Args: cobra.ExactArgs(2),
	RunE: runBalanceAdjust,
}

func init() {
	balanceCmd.AddCommand(balanceShowCmd)
	balanceCmd.AddCommand(balanceListCmd)
	balanceCmd.AddCommand(balanceAdjustCmd)

	balanceListCmd.Flags().Int("limit", 50, "Number of accounts to show")
	balanceListCmd.Flags().Int("offset", 0, "Number of accounts to skip")

	balanceAdjustCmd.Flags().String("admin", "", "Administrator account making the adjustment")
	balanceAdjustCmd.Flags().String("reason", "", "Reason recorded in the ledger")
}

func runBalanceShow(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(cmd, true)
	if err != nil {
		return err
	}
	defer d.Close()

	b, err := d.Ledger.GetBalance(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s hours\n", b.Account, b.Hours.StringFixed(2))
	return nil
}

func runBalanceList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	d, err := openDaemon(cmd, true)
	if err != nil {
		return err
	}
	defer d.Close()

	page, err := d.Ledger.AllBalances(cmd.Context(), limit, offset)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if page.Total == 0 {
		fmt.Fprintln(out, "No balances yet.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tHOURS\tUPDATED")
	for _, b := range page.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", b.Account, b.Hours.StringFixed(2), b.UpdatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
	fmt.Fprintf(out, "\n%d of %d accounts\n", len(page.Items), page.Total)
	return nil
}

func runBalanceAdjust(cmd *cobra.Command, args []string) error {
	admin, _ := cmd.Flags().GetString("admin")
	reason, _ := cmd.Flags().GetString("reason")

	hours, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("invalid hours %q: %w", args[1], err)
	}

	d, err := openDaemon(cmd, true)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := requireAdmin(d, admin); err != nil {
		return err
	}
	entry, err := d.Ledger.AdjustBalance(cmd.Context(), args[0], hours, reason, admin)
	if err != nil {
		return err
	}
	b, err := d.Ledger.GetBalance(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Adjusted %s by %s hours (entry #%d). New balance: %s\n",
		args[0], hours.StringFixed(2), entry.ID, b.Hours.StringFixed(2))
	return nil
}
