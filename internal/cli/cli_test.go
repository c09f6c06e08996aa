package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var claimIDPattern = regexp.MustCompile(`Claim ([0-9a-f-]{36}) submitted`)

// newTestConfig writes a config file with one administrator and a private
// data directory.
func newTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "timebank.toml")
	body := fmt.Sprintf(`
[api]
admins = ["root"]

[database]
dir = %q

[log]
level = "error"
format = "text"
`, filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfg}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, cfg string, args ...string) string {
	t.Helper()
	out, err := run(t, cfg, args...)
	require.NoError(t, err, out)
	return out
}

func submitClaim(t *testing.T, cfg, account, hours string) string {
	t.Helper()
	out := mustRun(t, cfg, "claim", "submit", "--account", account, "--category", "5",
		"--hours", hours, "--description", "fixed the router")
	m := claimIDPattern.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	return m[1]
}

func TestCategoryList(t *testing.T) {
	cfg := newTestConfig(t)

	out := mustRun(t, cfg, "category", "list")
	assert.Contains(t, out, "Tech Support")
	assert.Contains(t, out, "1.50")
}

func TestClaimApproveFlow(t *testing.T) {
	cfg := newTestConfig(t)
	id := submitClaim(t, cfg, "alice", "2")

	out := mustRun(t, cfg, "claim", "list", "--status", "pending")
	assert.Contains(t, out, id)

	_, err := run(t, cfg, "claim", "approve", id, "--admin", "mallory")
	require.Error(t, err)
	_, err = run(t, cfg, "claim", "approve", id)
	require.Error(t, err)

	out = mustRun(t, cfg, "claim", "approve", id, "--admin", "root")
	assert.Contains(t, out, "alice credited 3.00 hours")

	out = mustRun(t, cfg, "balance", "show", "alice")
	assert.Contains(t, out, "alice: 3.00 hours")

	out = mustRun(t, cfg, "claim", "show", id)
	assert.Contains(t, out, "approved")
	assert.Contains(t, out, "by root")

	out = mustRun(t, cfg, "ledger", "list")
	assert.Contains(t, out, "earned")
	assert.Contains(t, out, "1 of 1 entries")

	out = mustRun(t, cfg, "ledger", "verify")
	assert.Contains(t, out, "1 accounts match")

	_, err = run(t, cfg, "claim", "reject", id, "--admin", "root", "--reason", "too late")
	require.Error(t, err)
}

func TestClaimVotingFlow(t *testing.T) {
	cfg := newTestConfig(t)
	id := submitClaim(t, cfg, "alice", "1")

	mustRun(t, cfg, "claim", "send-to-voting", id, "--admin", "root")

	out := mustRun(t, cfg, "claim", "list", "--status", "voting")
	assert.Contains(t, out, id)

	_, err := run(t, cfg, "claim", "vote", id, "--voter", "alice", "--choice", "approve")
	require.Error(t, err, "claimants cannot vote on their own claim")

	mustRun(t, cfg, "claim", "vote", id, "--voter", "bob", "--choice", "reject")
	mustRun(t, cfg, "claim", "vote", id, "--voter", "carol", "--choice", "reject", "--comment", "no evidence")

	out = mustRun(t, cfg, "claim", "show", id)
	assert.Contains(t, out, "0 approve, 2 reject, 0 abstain (2 of 3 needed)")
	assert.Contains(t, out, `"no evidence"`)

	out = mustRun(t, cfg, "claim", "vote", id, "--voter", "dave", "--choice", "abstain")
	assert.Contains(t, out, "Quorum reached. Claim rejected.")

	out = mustRun(t, cfg, "claim", "list", "--status", "mine", "--account", "alice")
	assert.Contains(t, out, "rejected")
}

func TestClaimList_BadStatus(t *testing.T) {
	cfg := newTestConfig(t)

	_, err := run(t, cfg, "claim", "list", "--status", "archived")
	require.Error(t, err)
	_, err = run(t, cfg, "claim", "list", "--status", "mine")
	require.Error(t, err)
}

func TestBalanceAdjustAndTransfer(t *testing.T) {
	cfg := newTestConfig(t)

	out := mustRun(t, cfg, "balance", "adjust", "alice", "5", "--admin", "root", "--reason", "opening")
	assert.Contains(t, out, "New balance: 5.00")

	out = mustRun(t, cfg, "balance", "adjust", "--admin", "root", "--reason", "correction", "--", "alice", "-0.5")
	assert.Contains(t, out, "New balance: 4.50")

	_, err := run(t, cfg, "balance", "adjust", "alice", "1", "--admin", "bob")
	require.Error(t, err)

	out = mustRun(t, cfg, "ledger", "transfer", "alice", "bob", "2", "--description", "garden help", "--ref", "req-9", "--ref-type", "request")
	assert.Contains(t, out, "Moved 2.00 hours from alice to bob")

	_, err = run(t, cfg, "ledger", "transfer", "alice", "bob", "10")
	require.Error(t, err)
	_, err = run(t, cfg, "ledger", "transfer", "alice", "bob", "1", "--ref-type", "invoice")
	require.Error(t, err)

	out = mustRun(t, cfg, "balance", "list")
	assert.Contains(t, out, "2 of 2 accounts")

	out = mustRun(t, cfg, "ledger", "list", "--account", "bob")
	assert.Contains(t, out, "Request: garden help")

	out = mustRun(t, cfg, "ledger", "verify", "alice")
	assert.Contains(t, out, "1 accounts match")
}

func TestCategorySetRate(t *testing.T) {
	cfg := newTestConfig(t)

	_, err := run(t, cfg, "category", "set-rate", "5", "2", "--admin", "bob")
	require.Error(t, err)
	_, err = run(t, cfg, "category", "set-rate", "5", "0", "--admin", "root")
	require.Error(t, err)

	mustRun(t, cfg, "category", "set-rate", "5", "2", "--admin", "root")

	out := mustRun(t, cfg, "claim", "submit", "--account", "alice", "--category", "5", "--hours", "1.5")
	assert.Contains(t, out, "3.00 hours on approval")
}

func TestEmptyViews(t *testing.T) {
	cfg := newTestConfig(t)

	assert.Contains(t, mustRun(t, cfg, "balance", "list"), "No balances yet.")
	assert.Contains(t, mustRun(t, cfg, "ledger", "list"), "Ledger is empty.")
	assert.Contains(t, mustRun(t, cfg, "claim", "list", "--status", "pending"), "No claims.")
	assert.Contains(t, mustRun(t, cfg, "ledger", "verify"), "0 accounts match")
}
