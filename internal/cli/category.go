package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var categoryCmd = &cobra.Command{
	Use:   "category",
	Short: "List service categories and manage earn rates",
}

var categoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List categories with their earn rates",
	Args:  cobra.NoArgs,
	RunE:  runCategoryList,
}

var categorySetRateCmd = &cobra.Command{
	Use:   "set-rate CATEGORY_ID RATE",
	Short: "Change a category's earn rate",
	Long: `Change the multiplier applied to hours claimed in a category. Claims already
submitted keep the rate they were submitted with.`,
	Args: cobra.ExactArgs(2),
	RunE: runCategorySetRate,
}

func init() {
	categoryCmd.AddCommand(categoryListCmd)
	categoryCmd.AddCommand(categorySetRateCmd)

	categorySetRateCmd.Flags().String("admin", "", "Administrator account making the change")
}

func runCategoryList(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(cmd, true)
	if err != nil {
		return err
	}
	defer d.Close()

	cats, err := d.DB.ListCategories(cmd.Context())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tRATE\tDESCRIPTION")
	for _, c := range cats {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.ID, c.Name, c.EarnRate.StringFixed(2), c.Description)
	}
	return tw.Flush()
}

func runCategorySetRate(cmd *cobra.Command, args []string) error {
	admin, _ := cmd.Flags().GetString("admin")

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid category id %q", args[0])
	}
	rate, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("invalid rate %q: %w", args[1], err)
	}

	d, err := openDaemon(cmd, true)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := requireAdmin(d, admin); err != nil {
		return err
	}
	if err := d.DB.SetEarnRate(cmd.Context(), id, rate); err != nil {
		return err
	}
	d.Log.WithField("category_id", id).WithField("earn_rate", rate.String()).
		WithField("admin", admin).Info("earn rate changed")
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Category %d now earns %s× hours\n", id, rate.StringFixed(2))
	return nil
}
