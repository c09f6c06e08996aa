package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Claim Types ────────────────────────────────────────────────────────────

// SystemResolver is the reserved identity recorded on claims resolved by a
// voting quorum. It is never a real account.
const SystemResolver = "voting-system"

// ClaimStatus is the lifecycle state of an earning claim.
type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimVoting   ClaimStatus = "voting"
	ClaimApproved ClaimStatus = "approved"
	ClaimRejected ClaimStatus = "rejected"
)

// Terminal reports whether no further transition is allowed out of s.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimApproved || s == ClaimRejected
}

// CanTransition reports whether s → to is a legal claim transition.
//
//	pending → voting | approved | rejected
//	voting  → approved | rejected
func (s ClaimStatus) CanTransition(to ClaimStatus) bool {
	switch s {
	case ClaimPending:
		return to == ClaimVoting || to == ClaimApproved || to == ClaimRejected
	case ClaimVoting:
		return to == ClaimApproved || to == ClaimRejected
	}
	return false
}

// Claim is a self-reported service record waiting to be converted into balance.
type Claim struct {
	ID                string          `json:"id"`
	Claimant          string          `json:"claimant"`
	CategoryID        int64           `json:"category_id"`
	HoursClaimed      decimal.Decimal `json:"hours_claimed"`
	ActualHoursEarned decimal.Decimal `json:"actual_hours_earned"`
	Description       string          `json:"description"`
	EvidenceRef       string          `json:"evidence_ref,omitempty"`
	Status            ClaimStatus     `json:"status"`
	ResolverID        string          `json:"resolver_id,omitempty"`
	RejectionReason   string          `json:"rejection_reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
}

// ─── Vote Types ─────────────────────────────────────────────────────────────

// VoteChoice is a voter's ternary decision on a claim.
type VoteChoice string

const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
	VoteAbstain VoteChoice = "abstain"
)

// Valid reports whether c is one of the three accepted choices.
func (c VoteChoice) Valid() bool {
	return c == VoteApprove || c == VoteReject || c == VoteAbstain
}

// Vote is one voter's immutable decision on one claim.
type Vote struct {
	ID        string     `json:"id"`
	ClaimID   string     `json:"claim_id"`
	Voter     string     `json:"voter"`
	Choice    VoteChoice `json:"choice"`
	Comment   string     `json:"comment,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// VoteTally holds the per-choice vote counts of a claim.
type VoteTally struct {
	Approve int `json:"approve_count"`
	Reject  int `json:"reject_count"`
	Abstain int `json:"abstain_count"`
	Total   int `json:"total"`
}

// VoteResult is returned after a vote is recorded.
// Result is empty until the vote completes the quorum.
type VoteResult struct {
	Complete bool        `json:"complete"`
	Result   ClaimStatus `json:"result,omitempty"`
}

// VotingClaim is a claim in voting together with its ballots.
type VotingClaim struct {
	Claim
	Votes []Vote    `json:"votes"`
	Tally VoteTally `json:"tally"`
}

// ─── Category ───────────────────────────────────────────────────────────────

// Category is a kind of service with the multiplier applied to claimed hours.
type Category struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	EarnRate    decimal.Decimal `json:"earn_rate"`
	Icon        string          `json:"icon,omitempty"`
}
