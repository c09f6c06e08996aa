// Package cli implements the timebank command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mutual-aid/timebank/internal/daemon"
	"github.com/mutual-aid/timebank/internal/infra/logging"
)

var rootCmd = &cobra.Command{
	Use:   "timebank",
	Short: "Time bank ledger and claim-resolution engine",
	Long: `timebank keeps the hour balances of a mutual-aid community.

Members submit claims for hours of service; administrators approve or reject
them directly or hand them to a community vote. Every balance change is
recorded in an append-only public ledger.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "timebank.toml", "Path to the TOML config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log at the configured level instead of warnings only")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(categoryCmd)
}

// Execute runs the root command.
func Execute(version string) error {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// openDaemon loads the configuration and opens the engine. One-shot
// commands log warnings only unless --verbose is set.
func openDaemon(cmd *cobra.Command, quiet bool) (*daemon.Daemon, error) {
	path, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := daemon.LoadConfig(path, nil)
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if quiet && !verbose {
		level = "warn"
	}
	logger, err := logging.NewWithOutput(cmd.ErrOrStderr(), level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return daemon.New(cfg, logger)
}

// requireAdmin checks that the acting account is a configured administrator.
func requireAdmin(d *daemon.Daemon, account string) error {
	if account == "" {
		return fmt.Errorf("--admin is required")
	}
	if !d.Config.IsAdmin(account) {
		return fmt.Errorf("%q is not listed in api.admins", account)
	}
	return nil
}
