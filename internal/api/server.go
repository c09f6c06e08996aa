// Package api provides the HTTP server for the time bank engine.
//
// Callers identify themselves with the X-Account-ID header; authentication
// happens upstream. Administrative routes additionally require the caller to
// be listed in the configured admin accounts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/mutual-aid/timebank/internal/app/claims"
	"github.com/mutual-aid/timebank/internal/app/ledger"
	"github.com/mutual-aid/timebank/internal/domain"
	"github.com/mutual-aid/timebank/internal/infra/logging"
	"github.com/mutual-aid/timebank/internal/infra/observability"
)

// AccountHeader carries the caller's account id.
const AccountHeader = "X-Account-ID"

// CategoryStore is the category surface the API exposes.
type CategoryStore interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	SetEarnRate(ctx context.Context, id int64, rate decimal.Decimal) error
}

// Server is the time bank HTTP API server.
type Server struct {
	ledger         *ledger.Service
	claims         *claims.Workflow
	categories     CategoryStore
	admins         map[string]bool
	metricsEnabled bool
	ping           func(context.Context) error
	log            logging.Entry
}

// NewServer creates a new API server.
func NewServer(ledgerSvc *ledger.Service, wf *claims.Workflow, categories CategoryStore, admins []string, logger logging.Logger) *Server {
	s := &Server{
		ledger:     ledgerSvc,
		claims:     wf,
		categories: categories,
		admins:     make(map[string]bool, len(admins)),
		log:        logging.Component(logger, "api"),
	}
	for _, a := range admins {
		s.admins[a] = true
	}
	return s
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealthCheck sets the probe used by /health.
func (s *Server) SetHealthCheck(ping func(context.Context) error) { s.ping = ping }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)
	r.Use(countRequests)

	r.Get("/health", s.handleHealth)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		// Public audit views
		r.Get("/ledger", s.handlePublicLedger)
		r.Get("/balances", s.handleAllBalances)
		r.Get("/balances/{account}", s.handleAccountBalance)
		r.Get("/categories", s.handleCategories)

		r.Group(func(r chi.Router) {
			r.Use(requireAccount)

			r.Get("/balance", s.handleMyBalance)
			r.Get("/transactions", s.handleMyTransactions)
			r.Post("/transfers", s.handleTransfer)

			r.Post("/claims", s.handleSubmitClaim)
			r.Get("/claims/mine", s.handleMyClaims)
			r.Get("/claims/voting", s.handleVotingClaims)
			r.Get("/claims/{id}", s.handleGetClaim)
			r.Post("/claims/{id}/votes", s.handleRecordVote)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)

				r.Get("/claims/pending", s.handlePendingClaims)
				r.Post("/claims/{id}/approve", s.handleApproveClaim)
				r.Post("/claims/{id}/reject", s.handleRejectClaim)
				r.Post("/claims/{id}/voting", s.handleSendToVoting)
				r.Post("/balances/{account}/adjust", s.handleAdjustBalance)
				r.Put("/categories/{id}/rate", s.handleSetEarnRate)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable", "unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Identity ───────────────────────────────────────────────────────────────

type ctxKey struct{}

// requireAccount rejects requests without a caller identity.
func requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := r.Header.Get(AccountHeader)
		if account == "" {
			writeError(w, http.StatusUnauthorized, "missing "+AccountHeader+" header", string(domain.KindUnauthorized))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, account)))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.admins[caller(r)] {
			writeError(w, http.StatusForbidden, "administrator access required", string(domain.KindUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func caller(r *http.Request) string {
	account, _ := r.Context().Value(ctxKey{}).(string)
	return account
}

// ─── Request Helpers ────────────────────────────────────────────────────────

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "bad_request")
		return false
	}
	return true
}

// ─── Response Helpers ───────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    kind,
		},
	})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidState, domain.KindAlreadyVoted, domain.KindInsufficientBalance:
		return http.StatusConflict
	case domain.KindInvalidAmount:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeDomainError reports err by kind. Internal failures are logged and
// replaced by a generic message.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	msg := err.Error()
	if kind == domain.KindInternal {
		s.log.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Error("request failed")
		msg = "internal error"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out"
		}
	}
	writeError(w, statusFor(kind), msg, string(kind))
}

// ─── Middleware ─────────────────────────────────────────────────────────────

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+AccountHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// countRequests records every response by route pattern and status.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}
