// Package ledger owns account balances and the append-only transaction log.
//
// BalanceLedger and TransactionLog are primitives that operate on a Store
// handed to them by the caller. They never open transactions themselves, so a
// workflow can pair a balance change with its log entry inside one atomic unit:
//
//	db.InTx(ctx, func(tx *sqlite.Tx) error {
//	    if _, err := balances.Credit(ctx, tx, account, hours); err != nil {
//	        return err
//	    }
//	    _, err := txlog.Append(ctx, tx, entry)
//	    return err
//	})
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mutual-aid/timebank/internal/domain"
	"github.com/mutual-aid/timebank/internal/infra/observability"
)

// Store is the transactional storage surface the ledger primitives need.
// *sqlite.Tx satisfies it.
type Store interface {
	GetBalance(ctx context.Context, account string) (domain.Balance, bool, error)
	PutBalance(ctx context.Context, b domain.Balance) error
	InsertTransaction(ctx context.Context, e domain.Transaction) (int64, error)
}

// Config controls the balance floor.
type Config struct {
	AllowNegative bool            // Permit balances below zero
	MaxNegative   decimal.Decimal // Lowest allowed balance is -MaxNegative; zero means unbounded
}

// DefaultConfig returns the conservative floor: balances never go below zero.
func DefaultConfig() Config {
	return Config{}
}

// BalanceLedger holds one balance per account and enforces the floor.
type BalanceLedger struct {
	cfg Config
	now func() time.Time
}

// NewBalanceLedger creates a balance ledger with the given floor policy.
func NewBalanceLedger(cfg Config) *BalanceLedger {
	return &BalanceLedger{cfg: cfg, now: time.Now}
}

// Floor returns the lowest balance a debit may leave behind. bounded is false
// when negative balances are allowed without limit.
func (l *BalanceLedger) Floor() (floor decimal.Decimal, bounded bool) {
	if !l.cfg.AllowNegative {
		return decimal.Zero, true
	}
	if l.cfg.MaxNegative.IsZero() {
		return decimal.Zero, false
	}
	return l.cfg.MaxNegative.Abs().Neg(), true
}

// ValidateHours rejects non-positive quantities and quantities finer than
// the stored scale.
func ValidateHours(hours decimal.Decimal) error {
	if !hours.IsPositive() {
		return fmt.Errorf("%w: hours must be positive, got %s", domain.ErrInvalidAmount, hours)
	}
	if !hours.Equal(hours.Round(domain.HoursScale)) {
		return fmt.Errorf("%w: hours %s has more than %d decimal places",
			domain.ErrInvalidAmount, hours, domain.HoursScale)
	}
	return nil
}

func validAccount(account string) error {
	if account == "" {
		return fmt.Errorf("%w: empty account id", domain.ErrNotFound)
	}
	return nil
}

// Get returns the balance of account, creating a zero balance on first read.
func (l *BalanceLedger) Get(ctx context.Context, s Store, account string) (domain.Balance, error) {
	if err := validAccount(account); err != nil {
		return domain.Balance{}, err
	}
	b, found, err := s.GetBalance(ctx, account)
	if err != nil {
		return domain.Balance{}, err
	}
	if found {
		return b, nil
	}
	b = domain.Balance{Account: account, Hours: decimal.Zero, UpdatedAt: l.now()}
	if err := s.PutBalance(ctx, b); err != nil {
		return domain.Balance{}, err
	}
	return b, nil
}

func (l *BalanceLedger) current(ctx context.Context, s Store, account string) (domain.Balance, error) {
	if err := validAccount(account); err != nil {
		return domain.Balance{}, err
	}
	b, found, err := s.GetBalance(ctx, account)
	if err != nil {
		return domain.Balance{}, err
	}
	if !found {
		b = domain.Balance{Account: account, Hours: decimal.Zero}
	}
	return b, nil
}

// Credit adds hours to account and returns the new balance. There is no
// upper bound. The caller must append the matching log entry in the same unit.
func (l *BalanceLedger) Credit(ctx context.Context, s Store, account string, hours decimal.Decimal) (domain.Balance, error) {
	if err := ValidateHours(hours); err != nil {
		return domain.Balance{}, err
	}
	b, err := l.current(ctx, s, account)
	if err != nil {
		return domain.Balance{}, err
	}
	b.Hours = b.Hours.Add(hours)
	b.UpdatedAt = l.now()
	if err := s.PutBalance(ctx, b); err != nil {
		return domain.Balance{}, err
	}
	return b, nil
}

// Debit removes hours from account. It fails with ErrInsufficientBalance,
// leaving the balance untouched, when the result would cross the floor.
func (l *BalanceLedger) Debit(ctx context.Context, s Store, account string, hours decimal.Decimal) (domain.Balance, error) {
	if err := ValidateHours(hours); err != nil {
		return domain.Balance{}, err
	}
	b, err := l.current(ctx, s, account)
	if err != nil {
		return domain.Balance{}, err
	}
	if !l.allows(b.Hours, hours) {
		observability.DebitsRejected.Inc()
		return domain.Balance{}, fmt.Errorf("%w: %s has %s, needs %s",
			domain.ErrInsufficientBalance, account, b.Hours.StringFixed(domain.HoursScale),
			hours.StringFixed(domain.HoursScale))
	}
	b.Hours = b.Hours.Sub(hours)
	b.UpdatedAt = l.now()
	if err := s.PutBalance(ctx, b); err != nil {
		return domain.Balance{}, err
	}
	return b, nil
}

// HasSufficient reports whether Debit(account, hours) would succeed.
func (l *BalanceLedger) HasSufficient(ctx context.Context, s Store, account string, hours decimal.Decimal) (bool, error) {
	if err := ValidateHours(hours); err != nil {
		return false, err
	}
	b, err := l.current(ctx, s, account)
	if err != nil {
		return false, err
	}
	return l.allows(b.Hours, hours), nil
}

func (l *BalanceLedger) allows(balance, hours decimal.Decimal) bool {
	floor, bounded := l.Floor()
	if !bounded {
		return true
	}
	return balance.Sub(hours).GreaterThanOrEqual(floor)
}
