package claims

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/mutual-aid/timebank/internal/app/ledger"
	"github.com/mutual-aid/timebank/internal/domain"
	"github.com/mutual-aid/timebank/internal/infra/logging"
	"github.com/mutual-aid/timebank/internal/infra/sqlite"
)

func h(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	db     *sqlite.DB
	dir    string
	ledger *ledger.Service
	wf     *Workflow
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logging.Discard()
	ledgerSvc := ledger.NewService(ledger.DefaultConfig(), db, logger)
	return &fixture{
		db:     db,
		dir:    dir,
		ledger: ledgerSvc,
		wf:     New(cfg, db, db, ledgerSvc, logger),
	}
}

func (f *fixture) category(t *testing.T, name string) domain.Category {
	t.Helper()
	cats, err := f.db.ListCategories(context.Background())
	require.NoError(t, err)
	for _, c := range cats {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("category %q missing", name)
	return domain.Category{}
}

func (f *fixture) submit(t *testing.T, claimant, hours string) domain.Claim {
	t.Helper()
	c, err := f.wf.Submit(context.Background(), claimant, f.category(t, "Other").ID, h(hours), "helped a neighbour", "")
	require.NoError(t, err)
	return c
}

func (f *fixture) balance(t *testing.T, account string) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), account)
	require.NoError(t, err)
	return b.Hours
}

func (f *fixture) earnedEntries(t *testing.T, claimID string) []domain.Transaction {
	t.Helper()
	entries, err := f.db.TransactionsByReference(context.Background(), domain.RefClaim, claimID)
	require.NoError(t, err)
	return entries
}

func (f *fixture) assertReconciles(t *testing.T, account string) {
	t.Helper()
	r, err := f.ledger.Reconcile(context.Background(), account)
	require.NoError(t, err)
	assert.True(t, r.Consistent, "%s: balance %s, log sum %s", account, r.Balance, r.LogSum)
}

// ─── Tally ──────────────────────────────────────────────────────────────────

func TestTallyAndOutcome(t *testing.T) {
	tests := []struct {
		name    string
		choices []domain.VoteChoice
		want    domain.ClaimStatus
		tally   domain.VoteTally
	}{
		{"majority approve", []domain.VoteChoice{"approve", "approve", "reject"}, domain.ClaimApproved, domain.VoteTally{Approve: 2, Reject: 1, Total: 3}},
		{"tie rejects", []domain.VoteChoice{"approve", "reject", "abstain"}, domain.ClaimRejected, domain.VoteTally{Approve: 1, Reject: 1, Abstain: 1, Total: 3}},
		{"all abstain rejects", []domain.VoteChoice{"abstain", "abstain", "abstain"}, domain.ClaimRejected, domain.VoteTally{Abstain: 3, Total: 3}},
		{"approve with abstains", []domain.VoteChoice{"approve", "abstain", "abstain"}, domain.ClaimApproved, domain.VoteTally{Approve: 1, Abstain: 2, Total: 3}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			votes := make([]domain.Vote, len(tt.choices))
			for i, c := range tt.choices {
				votes[i] = domain.Vote{Choice: c}
			}
			got := Tally(votes)
			assert.Equal(t, tt.tally, got)
			assert.Equal(t, tt.want, Outcome(got))
			assert.True(t, QuorumReached(got, 3))
			assert.False(t, QuorumReached(got, 4))
		})
	}
}

// ─── Submit ─────────────────────────────────────────────────────────────────

func TestSubmit_ComputesEarnedHours(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	tech := f.category(t, "Tech Support")

	c, err := f.wf.Submit(context.Background(), "alice", tech.ID, h("2.25"), "fixed laptop", "photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimPending, c.Status)
	assert.True(t, c.ActualHoursEarned.Equal(h("3.38")), "2.25 × 1.5 rounds half up, got %s", c.ActualHoursEarned)
	assert.NotEmpty(t, c.ID)

	stored, err := f.wf.GetClaim(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", stored.EvidenceRef)
	assert.True(t, stored.ActualHoursEarned.Equal(c.ActualHoursEarned))
}

func TestSubmit_Rejects(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	other := f.category(t, "Other").ID

	_, err := f.wf.Submit(ctx, "alice", 9999, h("1"), "x", "")
	assert.ErrorIs(t, err, domain.ErrCategoryNotFound)

	_, err = f.wf.Submit(ctx, "alice", other, h("0"), "x", "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.wf.Submit(ctx, "alice", other, h("1.005"), "x", "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.wf.Submit(ctx, domain.SystemResolver, other, h("1"), "x", "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.wf.Submit(ctx, "", other, h("1"), "x", "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRateCapturedAtSubmission(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	tech := f.category(t, "Tech Support")

	c, err := f.wf.Submit(ctx, "alice", tech.ID, h("2"), "router setup", "")
	require.NoError(t, err)
	require.NoError(t, f.db.SetEarnRate(ctx, tech.ID, h("2.0")))

	_, err = f.wf.ApproveDirect(ctx, c.ID, "admin")
	require.NoError(t, err)
	assert.True(t, f.balance(t, "alice").Equal(h("3")), "credited at 1.5, not 2.0")
}

// ─── Direct Resolution ──────────────────────────────────────────────────────

func TestApproveDirect(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	c := f.submit(t, "alice", "4")

	got, err := f.wf.ApproveDirect(ctx, c.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimApproved, got.Status)
	assert.Equal(t, "admin", got.ResolverID)
	require.NotNil(t, got.ResolvedAt)

	assert.True(t, f.balance(t, "alice").Equal(h("4")))
	entries := f.earnedEntries(t, c.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TxEarned, entries[0].Kind)
	assert.Equal(t, "alice", entries[0].To)
	assert.Empty(t, entries[0].From)
	assert.Equal(t, "Earned: helped a neighbour", entries[0].Description)
	f.assertReconciles(t, "alice")
}

func TestApproveDirect_Failures(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	c := f.submit(t, "alice", "1")

	_, err := f.wf.ApproveDirect(ctx, "missing", "admin")
	assert.ErrorIs(t, err, domain.ErrClaimNotFound)

	_, err = f.wf.ApproveDirect(ctx, c.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "no self-approval")

	_, err = f.wf.ApproveDirect(ctx, c.ID, domain.SystemResolver)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.wf.RejectDirect(ctx, "missing", "admin", "no")
	assert.ErrorIs(t, err, domain.ErrClaimNotFound)
}

func TestRejectDirect(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	c := f.submit(t, "alice", "2")

	got, err := f.wf.RejectDirect(ctx, c.ID, "admin", "no evidence")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimRejected, got.Status)
	assert.Equal(t, "no evidence", got.RejectionReason)
	assert.Equal(t, "admin", got.ResolverID)

	assert.True(t, f.balance(t, "alice").IsZero())
	assert.Empty(t, f.earnedEntries(t, c.ID))
}

func TestTerminalClaimsAreFinal(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	approved := f.submit(t, "alice", "1")
	_, err := f.wf.ApproveDirect(ctx, approved.ID, "admin")
	require.NoError(t, err)

	rejected := f.submit(t, "alice", "1")
	_, err = f.wf.RejectDirect(ctx, rejected.ID, "admin", "no")
	require.NoError(t, err)

	for _, id := range []string{approved.ID, rejected.ID} {
		_, err = f.wf.ApproveDirect(ctx, id, "admin")
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		_, err = f.wf.RejectDirect(ctx, id, "admin", "again")
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		_, err = f.wf.SendToVoting(ctx, id, "admin")
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		_, err = f.wf.RecordVote(ctx, id, "bob", domain.VoteApprove, "")
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	}

	assert.True(t, f.balance(t, "alice").Equal(h("1")), "paid exactly once")
	assert.Len(t, f.earnedEntries(t, approved.ID), 1)
}

func TestApproveDirect_AtomicWithLog(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	c := f.submit(t, "alice", "3")

	raw, err := sql.Open("sqlite", "file:"+filepath.Join(f.dir, sqlite.FileName))
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TRIGGER fail_log BEFORE INSERT ON transactions
		BEGIN SELECT RAISE(ABORT, 'log unavailable'); END`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = f.wf.ApproveDirect(ctx, c.ID, "admin")
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))

	got, err := f.wf.GetClaim(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimPending, got.Status, "status change rolled back")
	assert.Nil(t, got.ResolvedAt)
	assert.True(t, f.balance(t, "alice").IsZero(), "credit rolled back")
}

// ─── Voting ─────────────────────────────────────────────────────────────────

func TestSendToVoting(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	c := f.submit(t, "alice", "1")

	got, err := f.wf.SendToVoting(ctx, c.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimVoting, got.Status)
	assert.Equal(t, "admin", got.ResolverID)

	_, err = f.wf.SendToVoting(ctx, c.ID, "admin")
	assert.ErrorIs(t, err, domain.ErrInvalidState, "only pending claims")

	mine := f.submit(t, "alice", "1")
	_, err = f.wf.SendToVoting(ctx, mine.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSendToVoting_Disabled(t *testing.T) {
	f := newFixture(t, Config{RequiredVotes: 3, VotingEnabled: false})
	c := f.submit(t, "alice", "1")

	_, err := f.wf.SendToVoting(context.Background(), c.ID, "admin")
	assert.ErrorIs(t, err, domain.ErrVotingDisabled)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRecordVote_QuorumApproves(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	c := f.submit(t, "alice", "2.5")
	_, err := f.wf.SendToVoting(ctx, c.ID, "admin")
	require.NoError(t, err)

	res, err := f.wf.RecordVote(ctx, c.ID, "bob", domain.VoteApprove, "saw it")
	require.NoError(t, err)
	assert.Equal(t, domain.VoteResult{}, res)

	res, err = f.wf.RecordVote(ctx, c.ID, "carol", domain.VoteApprove, "")
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.True(t, f.balance(t, "alice").IsZero(), "no payout before quorum")

	res, err = f.wf.RecordVote(ctx, c.ID, "dave", domain.VoteReject, "")
	require.NoError(t, err)
	assert.Equal(t, domain.VoteResult{Complete: true, Result: domain.ClaimApproved}, res)

	got, err := f.wf.GetClaim(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimApproved, got.Status)
	assert.Equal(t, domain.SystemResolver, got.ResolverID)

	assert.True(t, f.balance(t, "alice").Equal(h("2.5")))
	assert.Len(t, f.earnedEntries(t, c.ID), 1)
	f.assertReconciles(t, "alice")
}

func TestRecordVote_TieRejects(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	c := f.submit(t, "alice", "1")
	_, err := f.wf.SendToVoting(ctx, c.ID, "admin")
	require.NoError(t, err)

	var res domain.VoteResult
	for _, v := range []struct {
		voter  string
		choice domain.VoteChoice
	}{{"bob", domain.VoteApprove}, {"carol", domain.VoteReject}, {"dave", domain.VoteAbstain}} {
		res, err = f.wf.RecordVote(ctx, c.ID, v.voter, v.choice, "")
		require.NoError(t, err)
	}
	assert.Equal(t, domain.VoteResult{Complete: true, Result: domain.ClaimRejected}, res)

	got, err := f.wf.GetClaim(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimRejected, got.Status)
	assert.Equal(t, VoteRejectionReason, got.RejectionReason)
	assert.True(t, f.balance(t, "alice").IsZero())
	assert.Empty(t, f.earnedEntries(t, c.ID))
}

func TestRecordVote_Failures(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	c := f.submit(t, "alice", "1")

	_, err := f.wf.RecordVote(ctx, c.ID, "bob", domain.VoteApprove, "")
	assert.ErrorIs(t, err, domain.ErrInvalidState, "pending claims are not open for voting")

	_, err = f.wf.SendToVoting(ctx, c.ID, "admin")
	require.NoError(t, err)

	_, err = f.wf.RecordVote(ctx, c.ID, "alice", domain.VoteApprove, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "no voting on own claim")

	_, err = f.wf.RecordVote(ctx, c.ID, "bob", "maybe", "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.wf.RecordVote(ctx, c.ID, domain.SystemResolver, domain.VoteApprove, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.wf.RecordVote(ctx, "missing", "bob", domain.VoteApprove, "")
	assert.ErrorIs(t, err, domain.ErrClaimNotFound)

	_, err = f.wf.RecordVote(ctx, c.ID, "bob", domain.VoteApprove, "")
	require.NoError(t, err)
	_, err = f.wf.RecordVote(ctx, c.ID, "bob", domain.VoteReject, "changed my mind")
	assert.ErrorIs(t, err, domain.ErrAlreadyVoted)
}

func TestRecordVote_DuplicateAfterResolution(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	c := f.submit(t, "alice", "1")
	_, err := f.wf.SendToVoting(ctx, c.ID, "admin")
	require.NoError(t, err)

	for _, voter := range []string{"bob", "carol", "dave"} {
		_, err := f.wf.RecordVote(ctx, c.ID, voter, domain.VoteApprove, "")
		require.NoError(t, err)
	}

	_, err = f.wf.RecordVote(ctx, c.ID, "bob", domain.VoteApprove, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyVoted)
	_, err = f.wf.RecordVote(ctx, c.ID, "erin", domain.VoteApprove, "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRecordVote_ConcurrentQuorumResolvesOnce(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	c := f.submit(t, "alice", "2")
	_, err := f.wf.SendToVoting(ctx, c.ID, "admin")
	require.NoError(t, err)

	_, err = f.wf.RecordVote(ctx, c.ID, "bob", domain.VoteApprove, "")
	require.NoError(t, err)

	var completed, refused atomic.Int32
	var g errgroup.Group
	for _, voter := range []string{"carol", "dave", "erin", "frank"} {
		voter := voter
		g.Go(func() error {
			res, err := f.wf.RecordVote(ctx, c.ID, voter, domain.VoteApprove, "")
			switch {
			case errors.Is(err, domain.ErrInvalidState):
				refused.Add(1)
				return nil
			case err != nil:
				return err
			}
			if res.Complete {
				completed.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), completed.Load(), "exactly one resolution")
	assert.Equal(t, int32(2), refused.Load(), "late voters see a resolved claim")
	assert.Len(t, f.earnedEntries(t, c.ID), 1, "exactly one ledger entry")
	assert.True(t, f.balance(t, "alice").Equal(h("2")))

	votes, err := f.db.ListVotes(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, votes, 3)
}

func TestRecordVote_ConcurrentDuplicate(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	c := f.submit(t, "alice", "1")
	_, err := f.wf.SendToVoting(ctx, c.ID, "admin")
	require.NoError(t, err)

	var ok, dup atomic.Int32
	var g errgroup.Group
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			_, err := f.wf.RecordVote(ctx, c.ID, "bob", domain.VoteApprove, "")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrAlreadyVoted):
				dup.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(4), dup.Load())
}

// ─── Queries ────────────────────────────────────────────────────────────────

func TestQueries(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	first := f.submit(t, "alice", "1")
	second := f.submit(t, "alice", "2")
	f.submit(t, "bob", "1")

	_, err := f.wf.SendToVoting(ctx, second.ID, "admin")
	require.NoError(t, err)
	_, err = f.wf.RecordVote(ctx, second.ID, "carol", domain.VoteApprove, "")
	require.NoError(t, err)
	_, err = f.wf.RecordVote(ctx, second.ID, "dave", domain.VoteAbstain, "")
	require.NoError(t, err)

	mine, err := f.wf.UserClaims(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, mine.Total)
	require.Len(t, mine.Items, 2)
	assert.Equal(t, second.ID, mine.Items[0].ID, "newest first")
	assert.Equal(t, first.ID, mine.Items[1].ID)

	pending, err := f.wf.PendingClaims(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, pending.Total)
	for _, c := range pending.Items {
		assert.NotEqual(t, second.ID, c.ID)
	}

	voting, err := f.wf.VotingClaims(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, voting.Items, 1)
	vc := voting.Items[0]
	assert.Equal(t, second.ID, vc.ID)
	assert.Len(t, vc.Votes, 2)
	assert.Equal(t, domain.VoteTally{Approve: 1, Abstain: 1, Total: 2}, vc.Tally)

	assert.Equal(t, 3, f.wf.RequiredVotes())
}

func TestSubmit_LongDescriptionTruncatedInLedger(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	c, err := f.wf.Submit(ctx, "alice", f.category(t, "Other").ID, h("1"), strings.Repeat("x", 1200), "")
	require.NoError(t, err)

	_, err = f.wf.ApproveDirect(ctx, c.ID, "admin")
	require.NoError(t, err)

	entries := f.earnedEntries(t, c.ID)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Description, len("Earned: ")+450)
}
