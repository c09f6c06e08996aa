// Package observability declares the Prometheus metrics exported on /metrics.
//
// Every metric is registered on the default registry at init through promauto,
// so callers only increment; nothing needs wiring.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/mutual-aid/timebank/internal/domain"
)

const namespace = "timebank"

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// LedgerEntries counts appended transaction-log entries by kind.
var LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "entries_total",
	Help:      "Total transaction-log entries appended, by kind.",
}, []string{"kind"})

// LedgerHours sums the hours moved by appended entries, by kind.
var LedgerHours = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "hours_total",
	Help:      "Total hours recorded in the transaction log, by kind.",
}, []string{"kind"})

// DebitsRejected counts debits refused by the balance floor.
var DebitsRejected = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "debits_rejected_total",
	Help:      "Total debits refused because they would cross the balance floor.",
})

// ReconcileMismatches counts accounts whose balance disagreed with the log.
var ReconcileMismatches = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "reconcile_mismatches_total",
	Help:      "Total reconciliation runs that found a balance diverging from the log.",
})

// ─── Claim Metrics ──────────────────────────────────────────────────────────

// ClaimsSubmitted counts accepted claim submissions.
var ClaimsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "claims",
	Name:      "submitted_total",
	Help:      "Total claims submitted.",
})

// ClaimsResolved counts claims reaching a terminal state.
// via is "admin" or "vote".
var ClaimsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "claims",
	Name:      "resolved_total",
	Help:      "Total claims resolved, by outcome and resolution path.",
}, []string{"result", "via"})

// VotesCast counts recorded ballots by choice.
var VotesCast = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "claims",
	Name:      "votes_total",
	Help:      "Total votes recorded, by choice.",
}, []string{"choice"})

// ─── Operation Metrics ──────────────────────────────────────────────────────

// OperationErrors counts failed engine operations by error kind.
var OperationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "engine",
	Name:      "errors_total",
	Help:      "Total failed operations, by operation and error kind.",
}, []string{"op", "kind"})

// OperationDuration observes engine operation latency.
var OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "engine",
	Name:      "operation_duration_seconds",
	Help:      "Latency of engine operations.",
	Buckets:   prometheus.DefBuckets,
}, []string{"op"})

// ─── API Metrics ────────────────────────────────────────────────────────────

// HTTPRequests counts API requests by route pattern and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "api",
	Name:      "requests_total",
	Help:      "Total HTTP requests, by route and status.",
}, []string{"route", "code"})

// ─── Helpers ────────────────────────────────────────────────────────────────

// RecordEntry records one appended ledger entry.
func RecordEntry(kind domain.TransactionKind, hours decimal.Decimal) {
	LedgerEntries.WithLabelValues(string(kind)).Inc()
	f, _ := hours.Float64()
	LedgerHours.WithLabelValues(string(kind)).Add(f)
}

// ObserveOp records the latency of op and, when err is non-nil, its kind.
// Use as: defer observability.ObserveOp("approve", time.Now(), &err)
func ObserveOp(op string, start time.Time, err *error) {
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil && *err != nil {
		OperationErrors.WithLabelValues(op, string(domain.KindOf(*err))).Inc()
	}
}
