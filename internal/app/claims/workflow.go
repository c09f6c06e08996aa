// Package claims runs the earning-claim state machine.
//
//	pending ──▶ voting ──▶ approved | rejected
//	   └────────────────▶ approved | rejected
//
// Every transition to approved credits the claimant and appends one earned
// entry in the same database transaction as the status change. Votes are
// recorded, tallied and, at quorum, resolved inside a single transaction too,
// so concurrent voters can neither both pass the duplicate check nor resolve
// a claim twice.
package claims

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mutual-aid/timebank/internal/app/ledger"
	"github.com/mutual-aid/timebank/internal/domain"
	"github.com/mutual-aid/timebank/internal/infra/logging"
	"github.com/mutual-aid/timebank/internal/infra/observability"
	"github.com/mutual-aid/timebank/internal/infra/sqlite"
)

// VoteRejectionReason is recorded on claims rejected by a voting quorum.
const VoteRejectionReason = "Rejected by vote"

// Config controls community voting.
type Config struct {
	RequiredVotes int  // Ballots needed to force a decision (default: 3)
	VotingEnabled bool // When false, claims can only be resolved directly
}

// DefaultConfig returns the stock voting policy.
func DefaultConfig() Config {
	return Config{
		RequiredVotes: 3,
		VotingEnabled: true,
	}
}

// Workflow orchestrates claims, votes, balances and the transaction log.
type Workflow struct {
	cfg        Config
	db         *sqlite.DB
	categories domain.CategoryLookup
	ledger     *ledger.Service
	log        logging.Entry
	now        func() time.Time
}

// New creates a claim workflow.
func New(cfg Config, db *sqlite.DB, categories domain.CategoryLookup, ledgerSvc *ledger.Service, logger logging.Logger) *Workflow {
	if cfg.RequiredVotes < 1 {
		cfg.RequiredVotes = DefaultConfig().RequiredVotes
	}
	return &Workflow{
		cfg:        cfg,
		db:         db,
		categories: categories,
		ledger:     ledgerSvc,
		log:        logging.Component(logger, "claims"),
		now:        time.Now,
	}
}

// SetClock replaces the time source.
func (w *Workflow) SetClock(now func() time.Time) { w.now = now }

// actor rejects identities that cannot act as a user.
func actor(id, role string) error {
	if id == "" {
		return fmt.Errorf("%w: missing %s", domain.ErrUnauthorized, role)
	}
	if id == domain.SystemResolver {
		return fmt.Errorf("%w: %q is reserved", domain.ErrUnauthorized, id)
	}
	return nil
}

// ─── Submission ─────────────────────────────────────────────────────────────

// Submit records a new pending claim. The earned amount is computed from the
// category's current rate and never recomputed.
func (w *Workflow) Submit(ctx context.Context, claimant string, categoryID int64, hoursClaimed decimal.Decimal, description, evidenceRef string) (c domain.Claim, err error) {
	defer observability.ObserveOp("submit_claim", time.Now(), &err)

	if err := actor(claimant, "claimant"); err != nil {
		return domain.Claim{}, err
	}
	if err := ledger.ValidateHours(hoursClaimed); err != nil {
		return domain.Claim{}, err
	}
	cat, err := w.categories.GetCategory(ctx, categoryID)
	if err != nil {
		return domain.Claim{}, err
	}
	if !cat.EarnRate.IsPositive() {
		return domain.Claim{}, fmt.Errorf("%w: category %d has rate %s", domain.ErrInvalidAmount, cat.ID, cat.EarnRate)
	}

	earned := hoursClaimed.Mul(cat.EarnRate).Round(domain.HoursScale)
	if !earned.IsPositive() {
		return domain.Claim{}, fmt.Errorf("%w: %s hours earn nothing at rate %s",
			domain.ErrInvalidAmount, hoursClaimed, cat.EarnRate)
	}

	c = domain.Claim{
		ID:                uuid.NewString(),
		Claimant:          claimant,
		CategoryID:        cat.ID,
		HoursClaimed:      hoursClaimed,
		ActualHoursEarned: earned,
		Description:       description,
		EvidenceRef:       evidenceRef,
		Status:            domain.ClaimPending,
		CreatedAt:         w.now(),
	}
	if err := w.db.InTx(ctx, func(tx *sqlite.Tx) error {
		return tx.InsertClaim(ctx, c)
	}); err != nil {
		return domain.Claim{}, err
	}

	observability.ClaimsSubmitted.Inc()
	w.log.WithFields(logging.Fields{
		"claim_id": c.ID, "claimant": claimant, "category": cat.Name, "earned": earned.String(),
	}).Info("claim submitted")
	return c, nil
}

// ─── Direct Resolution ──────────────────────────────────────────────────────

// ApproveDirect approves a pending or voting claim and pays the claimant.
func (w *Workflow) ApproveDirect(ctx context.Context, claimID, approverID string) (c domain.Claim, err error) {
	defer observability.ObserveOp("approve_claim", time.Now(), &err)

	if err := actor(approverID, "approver"); err != nil {
		return domain.Claim{}, err
	}
	err = w.db.InTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		if c, err = tx.GetClaim(ctx, claimID); err != nil {
			return err
		}
		if err := w.checkResolver(c, approverID, domain.ClaimApproved); err != nil {
			return err
		}
		return w.approveTx(ctx, tx, &c, approverID)
	})
	if err != nil {
		return domain.Claim{}, err
	}
	w.resolved(c, "admin")
	return c, nil
}

// RejectDirect rejects a pending or voting claim. Balances are untouched.
func (w *Workflow) RejectDirect(ctx context.Context, claimID, approverID, reason string) (c domain.Claim, err error) {
	defer observability.ObserveOp("reject_claim", time.Now(), &err)

	if err := actor(approverID, "approver"); err != nil {
		return domain.Claim{}, err
	}
	err = w.db.InTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		if c, err = tx.GetClaim(ctx, claimID); err != nil {
			return err
		}
		if err := w.checkResolver(c, approverID, domain.ClaimRejected); err != nil {
			return err
		}
		return w.rejectTx(ctx, tx, &c, approverID, reason)
	})
	if err != nil {
		return domain.Claim{}, err
	}
	w.resolved(c, "admin")
	return c, nil
}

// SendToVoting opens a pending claim to community voting.
func (w *Workflow) SendToVoting(ctx context.Context, claimID, approverID string) (c domain.Claim, err error) {
	defer observability.ObserveOp("send_to_voting", time.Now(), &err)

	if !w.cfg.VotingEnabled {
		return domain.Claim{}, domain.ErrVotingDisabled
	}
	if err := actor(approverID, "approver"); err != nil {
		return domain.Claim{}, err
	}
	err = w.db.InTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		if c, err = tx.GetClaim(ctx, claimID); err != nil {
			return err
		}
		if err := w.checkResolver(c, approverID, domain.ClaimVoting); err != nil {
			return err
		}
		c.Status = domain.ClaimVoting
		c.ResolverID = approverID
		return tx.UpdateClaim(ctx, c)
	})
	if err != nil {
		return domain.Claim{}, err
	}

	w.log.WithFields(logging.Fields{"claim_id": c.ID, "approver": approverID}).Info("claim sent to voting")
	return c, nil
}

func (w *Workflow) checkResolver(c domain.Claim, approverID string, to domain.ClaimStatus) error {
	if !c.Status.CanTransition(to) {
		return fmt.Errorf("%w: claim %s is %s, cannot move to %s", domain.ErrInvalidState, c.ID, c.Status, to)
	}
	if c.Claimant == approverID {
		return fmt.Errorf("%w: %s cannot resolve their own claim", domain.ErrUnauthorized, approverID)
	}
	return nil
}

// approveTx marks c approved, credits the claimant and appends the earned
// entry. All three writes share tx.
func (w *Workflow) approveTx(ctx context.Context, tx *sqlite.Tx, c *domain.Claim, resolver string) error {
	if !c.Status.CanTransition(domain.ClaimApproved) {
		return fmt.Errorf("%w: claim %s is %s", domain.ErrInvalidState, c.ID, c.Status)
	}
	now := w.now()
	c.Status = domain.ClaimApproved
	c.ResolverID = resolver
	c.ResolvedAt = &now
	if err := tx.UpdateClaim(ctx, *c); err != nil {
		return err
	}

	if _, err := w.ledger.Balances().Credit(ctx, tx, c.Claimant, c.ActualHoursEarned); err != nil {
		return fmt.Errorf("credit %s: %w", c.Claimant, err)
	}
	_, err := w.ledger.Log().Append(ctx, tx, domain.Transaction{
		To:            c.Claimant,
		Hours:         c.ActualHoursEarned,
		Description:   ledger.EarnedDescription(c.Description),
		Kind:          domain.TxEarned,
		ReferenceID:   c.ID,
		ReferenceType: domain.RefClaim,
	})
	return err
}

func (w *Workflow) rejectTx(ctx context.Context, tx *sqlite.Tx, c *domain.Claim, resolver, reason string) error {
	if !c.Status.CanTransition(domain.ClaimRejected) {
		return fmt.Errorf("%w: claim %s is %s", domain.ErrInvalidState, c.ID, c.Status)
	}
	now := w.now()
	c.Status = domain.ClaimRejected
	c.ResolverID = resolver
	c.RejectionReason = reason
	c.ResolvedAt = &now
	return tx.UpdateClaim(ctx, *c)
}

func (w *Workflow) resolved(c domain.Claim, via string) {
	observability.ClaimsResolved.WithLabelValues(string(c.Status), via).Inc()
	w.log.WithFields(logging.Fields{
		"claim_id": c.ID, "result": c.Status, "resolver": c.ResolverID, "via": via,
	}).Info("claim resolved")
}

// ─── Voting ─────────────────────────────────────────────────────────────────

// RecordVote casts voter's ballot on a claim in voting. When the ballot
// completes the quorum the claim is resolved by the system resolver in the
// same transaction.
func (w *Workflow) RecordVote(ctx context.Context, claimID, voter string, choice domain.VoteChoice, comment string) (res domain.VoteResult, err error) {
	defer observability.ObserveOp("record_vote", time.Now(), &err)

	if err := actor(voter, "voter"); err != nil {
		return domain.VoteResult{}, err
	}
	if !choice.Valid() {
		return domain.VoteResult{}, fmt.Errorf("%w: unknown vote choice %q", domain.ErrInvalidAmount, choice)
	}

	var c domain.Claim
	err = w.db.InTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		if c, err = tx.GetClaim(ctx, claimID); err != nil {
			return err
		}

		// Duplicate ballots are reported as such even after resolution.
		voted, err := tx.HasVoted(ctx, claimID, voter)
		if err != nil {
			return err
		}
		if voted {
			return fmt.Errorf("%w: %s on claim %s", domain.ErrAlreadyVoted, voter, claimID)
		}
		if c.Status != domain.ClaimVoting {
			return fmt.Errorf("%w: claim %s is %s, not open for voting", domain.ErrInvalidState, c.ID, c.Status)
		}
		if c.Claimant == voter {
			return fmt.Errorf("%w: %s cannot vote on their own claim", domain.ErrUnauthorized, voter)
		}

		if err := tx.InsertVote(ctx, domain.Vote{
			ID:        uuid.NewString(),
			ClaimID:   claimID,
			Voter:     voter,
			Choice:    choice,
			Comment:   comment,
			CreatedAt: w.now(),
		}); err != nil {
			return err
		}

		votes, err := tx.ListVotes(ctx, claimID)
		if err != nil {
			return err
		}
		tally := Tally(votes)
		if !QuorumReached(tally, w.cfg.RequiredVotes) {
			res = domain.VoteResult{}
			return nil
		}

		outcome := Outcome(tally)
		if outcome == domain.ClaimApproved {
			err = w.approveTx(ctx, tx, &c, domain.SystemResolver)
		} else {
			err = w.rejectTx(ctx, tx, &c, domain.SystemResolver, VoteRejectionReason)
		}
		if err != nil {
			return err
		}
		res = domain.VoteResult{Complete: true, Result: outcome}
		return nil
	})
	if err != nil {
		return domain.VoteResult{}, err
	}

	observability.VotesCast.WithLabelValues(string(choice)).Inc()
	w.log.WithFields(logging.Fields{"claim_id": claimID, "voter": voter, "choice": choice}).Debug("vote recorded")
	if res.Complete {
		w.resolved(c, "vote")
	}
	return res, nil
}

// ─── Queries ────────────────────────────────────────────────────────────────

// GetClaim returns one claim.
func (w *Workflow) GetClaim(ctx context.Context, claimID string) (domain.Claim, error) {
	return w.db.GetClaim(ctx, claimID)
}

// UserClaims lists one account's claims, newest first.
func (w *Workflow) UserClaims(ctx context.Context, account string, limit, offset int) (domain.Page[domain.Claim], error) {
	limit, offset = sqlite.NormalizePage(limit, offset)
	items, total, err := w.db.ListClaimsByClaimant(ctx, account, limit, offset)
	if err != nil {
		return domain.Page[domain.Claim]{}, err
	}
	return domain.NewPage(items, total, limit, offset), nil
}

// PendingClaims lists claims awaiting a decision, newest first.
func (w *Workflow) PendingClaims(ctx context.Context, limit, offset int) (domain.Page[domain.Claim], error) {
	limit, offset = sqlite.NormalizePage(limit, offset)
	items, total, err := w.db.ListClaimsByStatus(ctx, domain.ClaimPending, limit, offset)
	if err != nil {
		return domain.Page[domain.Claim]{}, err
	}
	return domain.NewPage(items, total, limit, offset), nil
}

// VotingClaims lists claims open for voting with their ballots and counts.
func (w *Workflow) VotingClaims(ctx context.Context, limit, offset int) (domain.Page[domain.VotingClaim], error) {
	limit, offset = sqlite.NormalizePage(limit, offset)
	items, total, err := w.db.ListClaimsByStatus(ctx, domain.ClaimVoting, limit, offset)
	if err != nil {
		return domain.Page[domain.VotingClaim]{}, err
	}

	ids := make([]string, len(items))
	for i, c := range items {
		ids[i] = c.ID
	}
	votes, err := w.db.VotesForClaims(ctx, ids)
	if err != nil {
		return domain.Page[domain.VotingClaim]{}, err
	}

	out := make([]domain.VotingClaim, len(items))
	for i, c := range items {
		v := votes[c.ID]
		if v == nil {
			v = []domain.Vote{}
		}
		out[i] = domain.VotingClaim{Claim: c, Votes: v, Tally: Tally(v)}
	}
	return domain.NewPage(out, total, limit, offset), nil
}

// RequiredVotes returns the quorum size in effect.
func (w *Workflow) RequiredVotes() int { return w.cfg.RequiredVotes }
