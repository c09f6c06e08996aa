package claims

import "github.com/mutual-aid/timebank/internal/domain"

// Tally counts a claim's ballots. It applies no policy.
func Tally(votes []domain.Vote) domain.VoteTally {
	var t domain.VoteTally
	for _, v := range votes {
		switch v.Choice {
		case domain.VoteApprove:
			t.Approve++
		case domain.VoteReject:
			t.Reject++
		case domain.VoteAbstain:
			t.Abstain++
		}
		t.Total++
	}
	return t
}

// QuorumReached reports whether enough ballots were cast to force a decision.
// Abstentions count toward the quorum.
func QuorumReached(t domain.VoteTally, required int) bool {
	return t.Total >= required
}

// Outcome is approved only on a strict approve majority; ties reject.
func Outcome(t domain.VoteTally) domain.ClaimStatus {
	if t.Approve > t.Reject {
		return domain.ClaimApproved
	}
	return domain.ClaimRejected
}
