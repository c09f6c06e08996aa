package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mutual-aid/timebank/internal/app/ledger"
	"github.com/mutual-aid/timebank/internal/domain"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Read, verify and post to the public ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger entries, newest first",
	Args:  cobra.NoArgs,
	RunE:  runLedgerList,
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify [ACCOUNT]",
	Short: "Check that balances match the ledger",
	Long: `Recompute each balance from its ledger entries and compare it with the
stored balance. Exits non-zero when any account drifts.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLedgerVerify,
}

var ledgerTransferCmd = &cobra.Command{
	Use:   "transfer FROM TO HOURS",
	Short: "Move hours from a payer to a provider",
	Args:  cobra.ExactArgs(3),
	RunE:  runLedgerTransfer,
}

func init() {
	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerVerifyCmd)
	ledgerCmd.AddCommand(ledgerTransferCmd)

	ledgerListCmd.Flags().String("account", "", "Only entries touching this account")
	ledgerListCmd.Flags().Int("limit", 50, "Number of entries to show")
	ledgerListCmd.Flags().Int("offset", 0, "Number of entries to skip")

	ledgerTransferCmd.Flags().String("description", "", "Entry description")
	ledgerTransferCmd.Flags().String("ref", "", "Reference id, e.g. a service request")
	ledgerTransferCmd.Flags().String("ref-type", "", "Reference type: claim | request")
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	account, _ := cmd.Flags().GetString("account")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	d, err := openDaemon(cmd, true)
	if err != nil {
		return err
	}
	defer d.Close()

	var page domain.Page[domain.Transaction]
	if account != "" {
		page, err = d.Ledger.UserTransactions(cmd.Context(), account, limit, offset)
	} else {
		page, err = d.Ledger.PublicLedger(cmd.Context(), limit, offset)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if page.Total == 0 {
		fmt.Fprintln(out, "Ledger is empty.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tWHEN\tKIND\tFROM\tTO\tHOURS\tDESCRIPTION")
	for _, e := range page.Items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.CreatedAt.Format("2006-01-02 15:04"), e.Kind,
			orDash(e.From), orDash(e.To), e.Hours.StringFixed(2), e.Description)
	}
	tw.Flush()
	fmt.Fprintf(out, "\n%d of %d entries\n", len(page.Items), page.Total)
	return nil
}

func runLedgerVerify(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(cmd, true)
	if err != nil {
		return err
	}
	defer d.Close()

	var results []ledger.Reconciliation
	if len(args) == 1 {
		r, err := d.Ledger.Reconcile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		results = append(results, r)
	} else {
		if results, err = d.Ledger.ReconcileAll(cmd.Context()); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	drift := 0
	for _, r := range results {
		if r.Consistent {
			continue
		}
		drift++
		fmt.Fprintf(out, "❌ %s: balance %s, ledger says %s (%d entries)\n",
			r.Account, r.Balance.StringFixed(2), r.LogSum.StringFixed(2), r.Entries)
	}
	if drift > 0 {
		return fmt.Errorf("%d of %d accounts do not match the ledger", drift, len(results))
	}
	fmt.Fprintf(out, "✅ %d accounts match the ledger\n", len(results))
	return nil
}

func runLedgerTransfer(cmd *cobra.Command, args []string) error {
	description, _ := cmd.Flags().GetString("description")
	ref, _ := cmd.Flags().GetString("ref")
	refType, _ := cmd.Flags().GetString("ref-type")

	hours, err := decimal.NewFromString(args[2])
	if err != nil {
		return fmt.Errorf("invalid hours %q: %w", args[2], err)
	}
	d, err := openDaemon(cmd, true)
	if err != nil {
		return err
	}
	defer d.Close()

	entry, err := d.Ledger.Transfer(cmd.Context(), args[0], args[1], hours, description, ref, domain.ReferenceType(refType))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Moved %s hours from %s to %s (entry #%d)\n",
		entry.Hours.StringFixed(2), entry.From, entry.To, entry.ID)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
