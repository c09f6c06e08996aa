package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mutual-aid/timebank/internal/domain"
	"github.com/mutual-aid/timebank/internal/infra/logging"
	"github.com/mutual-aid/timebank/internal/infra/observability"
	"github.com/mutual-aid/timebank/internal/infra/sqlite"
)

// Service exposes the balance and log operations that open their own atomic
// unit: reads, administrative adjustments, transfers and reconciliation.
type Service struct {
	db       *sqlite.DB
	balances *BalanceLedger
	txlog    *TransactionLog
	log      logging.Entry
}

// NewService creates the ledger service over db.
func NewService(cfg Config, db *sqlite.DB, logger logging.Logger) *Service {
	return &Service{
		db:       db,
		balances: NewBalanceLedger(cfg),
		txlog:    NewTransactionLog(),
		log:      logging.Component(logger, "ledger"),
	}
}

// Balances returns the balance primitive for callers composing their own unit.
func (s *Service) Balances() *BalanceLedger { return s.balances }

// Log returns the transaction-log primitive for callers composing their own unit.
func (s *Service) Log() *TransactionLog { return s.txlog }

// SetClock replaces the time source of both primitives.
func (s *Service) SetClock(now func() time.Time) {
	s.balances.now = now
	s.txlog.now = now
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// GetBalance returns the balance of account, creating it at zero on first read.
func (s *Service) GetBalance(ctx context.Context, account string) (domain.Balance, error) {
	var b domain.Balance
	err := s.db.InTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		b, err = s.balances.Get(ctx, tx, account)
		return err
	})
	return b, err
}

// LookupBalance reads the balance of account without creating it. Unknown
// accounts read as zero.
func (s *Service) LookupBalance(ctx context.Context, account string) (domain.Balance, error) {
	if err := validAccount(account); err != nil {
		return domain.Balance{}, err
	}
	b, found, err := s.db.GetBalance(ctx, account)
	if err != nil {
		return domain.Balance{}, err
	}
	if !found {
		b = domain.Balance{Account: account, Hours: decimal.Zero}
	}
	return b, nil
}

// AllBalances lists balances from highest to lowest.
func (s *Service) AllBalances(ctx context.Context, limit, offset int) (domain.Page[domain.Balance], error) {
	items, total, err := s.db.ListBalances(ctx, limit, offset)
	if err != nil {
		return domain.Page[domain.Balance]{}, err
	}
	return page(items, total, limit, offset), nil
}

// HasSufficientBalance reports whether account could be debited hours.
func (s *Service) HasSufficientBalance(ctx context.Context, account string, hours decimal.Decimal) (bool, error) {
	var ok bool
	err := s.db.InTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		ok, err = s.balances.HasSufficient(ctx, tx, account, hours)
		return err
	})
	return ok, err
}

// PublicLedger returns the global transaction log, newest first.
func (s *Service) PublicLedger(ctx context.Context, limit, offset int) (domain.Page[domain.Transaction], error) {
	items, total, err := s.db.ListTransactions(ctx, limit, offset)
	if err != nil {
		return domain.Page[domain.Transaction]{}, err
	}
	return page(items, total, limit, offset), nil
}

// UserTransactions returns the entries touching account, newest first.
func (s *Service) UserTransactions(ctx context.Context, account string, limit, offset int) (domain.Page[domain.Transaction], error) {
	items, total, err := s.db.ListAccountTransactions(ctx, account, limit, offset)
	if err != nil {
		return domain.Page[domain.Transaction]{}, err
	}
	return page(items, total, limit, offset), nil
}

// ─── Writes ─────────────────────────────────────────────────────────────────

// AdjustBalance applies an administrative correction. Positive hours credit
// the account, negative hours debit it. The balance change and its adjusted
// entry commit together or not at all.
func (s *Service) AdjustBalance(ctx context.Context, account string, signedHours decimal.Decimal, reason, adminID string) (entry domain.Transaction, err error) {
	defer observability.ObserveOp("adjust_balance", time.Now(), &err)

	if adminID == "" || adminID == domain.SystemResolver {
		return domain.Transaction{}, fmt.Errorf("%w: adjustments need an administrator", domain.ErrUnauthorized)
	}
	if account == domain.SystemResolver {
		return domain.Transaction{}, fmt.Errorf("%w: reserved account", domain.ErrUnauthorized)
	}
	amount := signedHours.Abs()
	if err := ValidateHours(amount); err != nil {
		return domain.Transaction{}, err
	}

	e := domain.Transaction{
		Hours:       amount,
		Description: AdjustmentDescription(adminID, reason),
		Kind:        domain.TxAdjusted,
	}
	err = s.db.InTx(ctx, func(tx *sqlite.Tx) error {
		if signedHours.IsPositive() {
			e.To = account
			if _, err := s.balances.Credit(ctx, tx, account, amount); err != nil {
				return err
			}
		} else {
			e.From = account
			if _, err := s.balances.Debit(ctx, tx, account, amount); err != nil {
				return err
			}
		}
		var err error
		entry, err = s.txlog.Append(ctx, tx, e)
		return err
	})
	if err != nil {
		s.log.WithError(err).WithFields(logging.Fields{
			"account": account, "hours": signedHours.String(), "admin": adminID,
		}).Warn("balance adjustment failed")
		return domain.Transaction{}, err
	}

	s.log.WithFields(logging.Fields{
		"account": account, "hours": signedHours.String(), "admin": adminID, "tx_id": entry.ID,
	}).Info("balance adjusted")
	return entry, nil
}

// Transfer moves hours from payer to provider and records one spent entry.
// Request-backed transfers get the "Request: " description prefix.
func (s *Service) Transfer(ctx context.Context, from, to string, hours decimal.Decimal, description, refID string, refType domain.ReferenceType) (entry domain.Transaction, err error) {
	defer observability.ObserveOp("transfer", time.Now(), &err)

	if from == "" || to == "" {
		return domain.Transaction{}, fmt.Errorf("%w: transfer needs both accounts", domain.ErrNotFound)
	}
	if from == to {
		return domain.Transaction{}, fmt.Errorf("%w: cannot transfer to the same account", domain.ErrInvalidState)
	}
	if from == domain.SystemResolver || to == domain.SystemResolver {
		return domain.Transaction{}, fmt.Errorf("%w: reserved account", domain.ErrUnauthorized)
	}
	if err := ValidateHours(hours); err != nil {
		return domain.Transaction{}, err
	}
	if !refType.Valid() {
		return domain.Transaction{}, fmt.Errorf("%w: unknown reference type %q", domain.ErrInvalidAmount, refType)
	}

	desc := description
	if refType == domain.RefRequest {
		desc = RequestDescription(description)
	}
	e := domain.Transaction{
		From:          from,
		To:            to,
		Hours:         hours,
		Description:   fit(desc),
		Kind:          domain.TxSpent,
		ReferenceID:   refID,
		ReferenceType: refType,
	}
	err = s.db.InTx(ctx, func(tx *sqlite.Tx) error {
		if _, err := s.balances.Debit(ctx, tx, from, hours); err != nil {
			return err
		}
		if _, err := s.balances.Credit(ctx, tx, to, hours); err != nil {
			return err
		}
		var err error
		entry, err = s.txlog.Append(ctx, tx, e)
		return err
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.log.WithFields(logging.Fields{
		"from": from, "to": to, "hours": hours.String(), "tx_id": entry.ID,
	}).Info("hours transferred")
	return entry, nil
}

// ─── Reconciliation ─────────────────────────────────────────────────────────

// Reconciliation compares a stored balance with the sum of its log entries.
type Reconciliation struct {
	Account    string          `json:"account"`
	Balance    decimal.Decimal `json:"balance"`
	LogSum     decimal.Decimal `json:"log_sum"`
	Entries    int             `json:"entries"`
	Consistent bool            `json:"consistent"`
}

// Reconcile recomputes account's balance from the log in one snapshot.
func (s *Service) Reconcile(ctx context.Context, account string) (Reconciliation, error) {
	r := Reconciliation{Account: account, Balance: decimal.Zero, LogSum: decimal.Zero}
	err := s.db.InTx(ctx, func(tx *sqlite.Tx) error {
		b, found, err := tx.GetBalance(ctx, account)
		if err != nil {
			return err
		}
		if found {
			r.Balance = b.Hours
		}
		entries, err := tx.AccountTransactions(ctx, account)
		if err != nil {
			return err
		}
		for _, e := range entries {
			r.LogSum = r.LogSum.Add(e.DeltaFor(account))
		}
		r.Entries = len(entries)
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}

	r.Consistent = r.Balance.Equal(r.LogSum)
	if !r.Consistent {
		observability.ReconcileMismatches.Inc()
		s.log.WithFields(logging.Fields{
			"account": account, "balance": r.Balance.String(), "log_sum": r.LogSum.String(),
		}).Error("balance does not reconcile with transaction log")
	}
	return r, nil
}

// ReconcileAll reconciles every account that has a balance.
func (s *Service) ReconcileAll(ctx context.Context) ([]Reconciliation, error) {
	var out []Reconciliation
	for offset := 0; ; offset += sqlite.MaxPageSize {
		items, total, err := s.db.ListBalances(ctx, sqlite.MaxPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, b := range items {
			r, err := s.Reconcile(ctx, b.Account)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		if offset+len(items) >= total || len(items) == 0 {
			return out, nil
		}
	}
}

func page[T any](items []T, total, limit, offset int) domain.Page[T] {
	limit, offset = sqlite.NormalizePage(limit, offset)
	return domain.NewPage(items, total, limit, offset)
}
