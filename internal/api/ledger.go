package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mutual-aid/timebank/internal/domain"
)

// ─── Balances ───────────────────────────────────────────────────────────────

// GET /api/balance
func (s *Server) handleMyBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.ledger.GetBalance(r.Context(), caller(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GET /api/balances/{account}
func (s *Server) handleAccountBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.ledger.LookupBalance(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GET /api/balances?limit=&offset=
func (s *Server) handleAllBalances(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	page, err := s.ledger.AllBalances(r.Context(), limit, offset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type adjustRequest struct {
	Hours  decimal.Decimal `json:"hours"`
	Reason string          `json:"reason"`
}

// POST /api/balances/{account}/adjust
// Body: {"hours": "-1.5", "reason": "duplicate claim"}
func (s *Server) handleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := s.ledger.AdjustBalance(r.Context(), chi.URLParam(r, "account"), req.Hours, req.Reason, caller(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// ─── Transactions ───────────────────────────────────────────────────────────

// GET /api/ledger?limit=&offset=
func (s *Server) handlePublicLedger(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	page, err := s.ledger.PublicLedger(r.Context(), limit, offset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GET /api/transactions?limit=&offset=
func (s *Server) handleMyTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	page, err := s.ledger.UserTransactions(r.Context(), caller(r), limit, offset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type transferRequest struct {
	To            string               `json:"to"`
	Hours         decimal.Decimal      `json:"hours"`
	Description   string               `json:"description"`
	ReferenceID   string               `json:"reference_id"`
	ReferenceType domain.ReferenceType `json:"reference_type"`
}

// POST /api/transfers
// Body: {"to": "bob", "hours": "2", "description": "garden help", "reference_id": "req-1", "reference_type": "request"}
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := s.ledger.Transfer(r.Context(), caller(r), req.To, req.Hours, req.Description, req.ReferenceID, req.ReferenceType)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// ─── Categories ─────────────────────────────────────────────────────────────

// GET /api/categories
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.categories.ListCategories(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

// PUT /api/categories/{id}/rate
// Body: {"earn_rate": "1.25"}
func (s *Server) handleSetEarnRate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid category id", "bad_request")
		return
	}
	var req struct {
		EarnRate decimal.Decimal `json:"earn_rate"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.categories.SetEarnRate(r.Context(), id, req.EarnRate); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.log.WithField("category_id", id).WithField("earn_rate", req.EarnRate.String()).
		WithField("admin", caller(r)).Info("earn rate changed")
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "earn_rate": req.EarnRate.StringFixed(domain.HoursScale)})
}
