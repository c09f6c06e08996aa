package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mutual-aid/timebank/internal/domain"
)

type submitClaimRequest struct {
	CategoryID   int64           `json:"category_id"`
	HoursClaimed decimal.Decimal `json:"hours_claimed"`
	Description  string          `json:"description"`
	EvidenceRef  string          `json:"evidence_ref"`
}

// POST /api/claims
// Body: {"category_id": 1, "hours_claimed": "2.5", "description": "...", "evidence_ref": "..."}
func (s *Server) handleSubmitClaim(w http.ResponseWriter, r *http.Request) {
	var req submitClaimRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.claims.Submit(r.Context(), caller(r), req.CategoryID, req.HoursClaimed, req.Description, req.EvidenceRef)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GET /api/claims/{id}
func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	c, err := s.claims.GetClaim(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GET /api/claims/mine?limit=&offset=
func (s *Server) handleMyClaims(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	page, err := s.claims.UserClaims(r.Context(), caller(r), limit, offset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GET /api/claims/pending?limit=&offset=
func (s *Server) handlePendingClaims(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	page, err := s.claims.PendingClaims(r.Context(), limit, offset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GET /api/claims/voting?limit=&offset=
func (s *Server) handleVotingClaims(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	page, err := s.claims.VotingClaims(r.Context(), limit, offset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"required_votes": s.claims.RequiredVotes(),
		"claims":         page,
	})
}

// ─── Resolution ─────────────────────────────────────────────────────────────

// POST /api/claims/{id}/approve
func (s *Server) handleApproveClaim(w http.ResponseWriter, r *http.Request) {
	c, err := s.claims.ApproveDirect(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// POST /api/claims/{id}/reject
// Body: {"reason": "..."}
func (s *Server) handleRejectClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.claims.RejectDirect(r.Context(), chi.URLParam(r, "id"), caller(r), req.Reason)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// POST /api/claims/{id}/voting
func (s *Server) handleSendToVoting(w http.ResponseWriter, r *http.Request) {
	c, err := s.claims.SendToVoting(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type voteRequest struct {
	Choice  domain.VoteChoice `json:"choice"`
	Comment string            `json:"comment"`
}

// POST /api/claims/{id}/votes
// Body: {"choice": "approve", "comment": "..."}
func (s *Server) handleRecordVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.claims.RecordVote(r.Context(), chi.URLParam(r, "id"), caller(r), req.Choice, req.Comment)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
