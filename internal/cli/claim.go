package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mutual-aid/timebank/internal/app/claims"
	"github.com/mutual-aid/timebank/internal/daemon"
	"github.com/mutual-aid/timebank/internal/domain"
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Submit and resolve hour claims",
}

var claimSubmitCmd = &cobra.Command{
	Use:     "submit",
	Short:   "Submit a claim for hours of service",
	Example: `  timebank claim submit --account alice --category 5 --hours 2.5 --description "fixed the router"`,
	Args:    cobra.NoArgs,
	RunE:    runClaimSubmit,
}

var claimShowCmd = &cobra.Command{
	Use:   "show CLAIM_ID",
	Short: "Show a claim and its votes",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimShow,
}

var claimListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending, voting, or one member's claims",
	Args:  cobra.NoArgs,
	RunE:  runClaimList,
}

var claimApproveCmd = &cobra.Command{
	Use:   "approve CLAIM_ID",
	Short: "Approve a claim and credit the claimant",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimApprove,
}

var claimRejectCmd = &cobra.Command{
	Use:   "reject CLAIM_ID",
	Short: "Reject a claim",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimReject,
}

var claimVotingCmd = &cobra.Command{
	Use:   "send-to-voting CLAIM_ID",
	Short: "Open a pending claim to community voting",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimVoting,
}

var claimVoteCmd = &cobra.Command{
	Use:   "vote CLAIM_ID",
	Short: "Cast a ballot on a claim in voting",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimVote,
}

func init() {
	claimCmd.AddCommand(claimSubmitCmd)
	claimCmd.AddCommand(claimShowCmd)
	claimCmd.AddCommand(claimListCmd)
	claimCmd.AddCommand(claimApproveCmd)
	claimCmd.AddCommand(claimRejectCmd)
	claimCmd.AddCommand(claimVotingCmd)
	claimCmd.AddCommand(claimVoteCmd)

	claimSubmitCmd.Flags().String("account", "", "Claimant account")
	claimSubmitCmd.Flags().Int64("category", 0, "Category id (see 'timebank category list')")
	claimSubmitCmd.Flags().String("hours", "", "Hours of service, at most two decimal places")
	claimSubmitCmd.Flags().String("description", "", "What was done")
	claimSubmitCmd.Flags().String("evidence", "", "Optional evidence reference")

	claimListCmd.Flags().String("status", "pending", "pending | voting | mine")
	claimListCmd.Flags().String("account", "", "Claimant account for --status mine")
	claimListCmd.Flags().Int("limit", 50, "Number of claims to show")
	claimListCmd.Flags().Int("offset", 0, "Number of claims to skip")

	for _, c := range []*cobra.Command{claimApproveCmd, claimRejectCmd, claimVotingCmd} {
		c.Flags().String("admin", "", "Administrator account resolving the claim")
	}
	claimRejectCmd.Flags().String("reason", "", "Rejection reason")

	claimVoteCmd.Flags().String("voter", "", "Voting account")
	claimVoteCmd.Flags().String("choice", "", "approve | reject | abstain")
	claimVoteCmd.Flags().String("comment", "", "Optional comment")
}

func runClaimSubmit(cmd *cobra.Command, args []string) error {
	account, _ := cmd.Flags().GetString("account")
	category, _ := cmd.Flags().GetInt64("category")
	hoursStr, _ := cmd.Flags().GetString("hours")
	description, _ := cmd.Flags().GetString("description")
	evidence, _ := cmd.Flags().GetString("evidence")

	hours, err := decimal.NewFromString(hoursStr)
	if err != nil {
		return fmt.Errorf("invalid --hours %q: %w", hoursStr, err)
	}

	d, err := openDaemon(cmd, true)
	if err != nil {
		return err
	}
	defer d.Close()

	c, err := d.Claims.Submit(cmd.Context(), account, category, hours, description, evidence)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Claim %s submitted: %s hours claimed, %s hours on approval\n",
		c.ID, c.HoursClaimed.StringFixed(2), c.ActualHoursEarned.StringFixed(2))
	return nil
}

func runClaimShow(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(cmd, true)
	if err != nil {
		return err
	}
	defer d.Close()

	c, err := d.Claims.GetClaim(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	votes, err := d.DB.ListVotes(cmd.Context(), c.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printClaim(out, c)
	if len(votes) > 0 {
		fmt.Fprintln(out, "\nVotes:")
		for _, v := range votes {
			fmt.Fprintf(out, "  %-8s %s", v.Choice, v.Voter)
			if v.Comment != "" {
				fmt.Fprintf(out, "  %q", v.Comment)
			}
			fmt.Fprintln(out)
		}
		t := claims.Tally(votes)
		fmt.Fprintf(out, "  %d approve, %d reject, %d abstain (%d of %d needed)\n",
			t.Approve, t.Reject, t.Abstain, t.Total, d.Claims.RequiredVotes())
	}
	return nil
}

func runClaimList(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	account, _ := cmd.Flags().GetString("account")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	d, err := openDaemon(cmd, true)
	if err != nil {
		return err
	}
	defer d.Close()

	var page domain.Page[domain.Claim]
	switch status {
	case "pending":
		page, err = d.Claims.PendingClaims(cmd.Context(), limit, offset)
	case "voting":
		var voting domain.Page[domain.VotingClaim]
		voting, err = d.Claims.VotingClaims(cmd.Context(), limit, offset)
		page = domain.Page[domain.Claim]{Total: voting.Total, Limit: voting.Limit, Offset: voting.Offset}
		for _, vc := range voting.Items {
			page.Items = append(page.Items, vc.Claim)
		}
	case "mine":
		if account == "" {
			return fmt.Errorf("--account is required with --status mine")
		}
		page, err = d.Claims.UserClaims(cmd.Context(), account, limit, offset)
	default:
		return fmt.Errorf("unknown --status %q: want pending, voting or mine", status)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if page.Total == 0 {
		fmt.Fprintln(out, "No claims.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCLAIMANT\tCATEGORY\tCLAIMED\tEARNS\tSTATUS\tSUBMITTED")
	for _, c := range page.Items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			c.ID, c.Claimant, c.CategoryID, c.HoursClaimed.StringFixed(2),
			c.ActualHoursEarned.StringFixed(2), c.Status, c.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
	fmt.Fprintf(out, "\n%d of %d claims\n", len(page.Items), page.Total)
	return nil
}

func runClaimApprove(cmd *cobra.Command, args []string) error {
	return resolveClaim(cmd, args[0], "approved", func(d *daemon.Daemon, admin string) (domain.Claim, error) {
		return d.Claims.ApproveDirect(cmd.Context(), args[0], admin)
	})
}

func runClaimReject(cmd *cobra.Command, args []string) error {
	reason, _ := cmd.Flags().GetString("reason")
	return resolveClaim(cmd, args[0], "rejected", func(d *daemon.Daemon, admin string) (domain.Claim, error) {
		return d.Claims.RejectDirect(cmd.Context(), args[0], admin, reason)
	})
}

func runClaimVoting(cmd *cobra.Command, args []string) error {
	return resolveClaim(cmd, args[0], "sent to voting", func(d *daemon.Daemon, admin string) (domain.Claim, error) {
		return d.Claims.SendToVoting(cmd.Context(), args[0], admin)
	})
}

func runClaimVote(cmd *cobra.Command, args []string) error {
	voter, _ := cmd.Flags().GetString("voter")
	choice, _ := cmd.Flags().GetString("choice")
	comment, _ := cmd.Flags().GetString("comment")

	d, err := openDaemon(cmd, true)
	if err != nil {
		return err
	}
	defer d.Close()

	res, err := d.Claims.RecordVote(cmd.Context(), args[0], voter, domain.VoteChoice(choice), comment)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✅ Vote recorded: %s on %s\n", choice, args[0])
	if res.Complete {
		fmt.Fprintf(out, "   Quorum reached. Claim %s.\n", res.Result)
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// resolveClaim runs an administrative claim action after checking --admin.
func resolveClaim(cmd *cobra.Command, id, verb string, fn func(d *daemon.Daemon, admin string) (domain.Claim, error)) error {
	admin, _ := cmd.Flags().GetString("admin")

	d, err := openDaemon(cmd, true)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := requireAdmin(d, admin); err != nil {
		return err
	}
	c, err := fn(d, admin)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Claim %s %s by %s\n", id, verb, admin)
	if c.Status == domain.ClaimApproved {
		fmt.Fprintf(cmd.OutOrStdout(), "   %s credited %s hours\n", c.Claimant, c.ActualHoursEarned.StringFixed(2))
	}
	return nil
}

func printClaim(w io.Writer, c domain.Claim) {
	fmt.Fprintf(w, "Claim %s\n", c.ID)
	fmt.Fprintf(w, "  Claimant:  %s\n", c.Claimant)
	fmt.Fprintf(w, "  Category:  %d\n", c.CategoryID)
	fmt.Fprintf(w, "  Hours:     %s claimed, %s earned on approval\n", c.HoursClaimed.StringFixed(2), c.ActualHoursEarned.StringFixed(2))
	fmt.Fprintf(w, "  Status:    %s\n", c.Status)
	fmt.Fprintf(w, "  Submitted: %s\n", c.CreatedAt.Format("2006-01-02 15:04"))
	if c.Description != "" {
		fmt.Fprintf(w, "  About:     %s\n", c.Description)
	}
	if c.EvidenceRef != "" {
		fmt.Fprintf(w, "  Evidence:  %s\n", c.EvidenceRef)
	}
	if c.ResolvedAt != nil {
		fmt.Fprintf(w, "  Resolved:  %s by %s\n", c.ResolvedAt.Format("2006-01-02 15:04"), c.ResolverID)
	}
	if c.RejectionReason != "" {
		fmt.Fprintf(w, "  Reason:    %s\n", c.RejectionReason)
	}
}
