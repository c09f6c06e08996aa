package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Ledger Types ───────────────────────────────────────────────────────────
// Every balance change is backed by exactly one Transaction. Balances are a
// cached projection of the transaction log and must always reconcile with it.

// TransactionKind represents the business reason for a ledger entry.
type TransactionKind string

const (
	TxEarned   TransactionKind = "earned"
	TxSpent    TransactionKind = "spent"
	TxAdjusted TransactionKind = "adjusted"
)

// Valid reports whether k is a known transaction kind.
func (k TransactionKind) Valid() bool {
	switch k {
	case TxEarned, TxSpent, TxAdjusted:
		return true
	}
	return false
}

// ReferenceType names the kind of record a ledger entry originated from.
type ReferenceType string

const (
	RefClaim   ReferenceType = "claim"
	RefRequest ReferenceType = "request"
)

// Valid reports whether r is a known reference type. Unreferenced entries
// carry the empty type.
func (r ReferenceType) Valid() bool {
	switch r {
	case "", RefClaim, RefRequest:
		return true
	}
	return false
}

// MaxDescriptionLength is the hard cap on a ledger entry description, in characters.
const MaxDescriptionLength = 500

// HoursScale is the number of decimal places hours are stored with.
const HoursScale = 2

// Balance is the current spendable hours of one account.
type Balance struct {
	Account   string          `json:"account"`
	Hours     decimal.Decimal `json:"hours"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is a single immutable row in the ledger.
// From is empty for entries that mint hours, To is empty for entries that burn them.
type Transaction struct {
	ID            int64           `json:"id"`
	From          string          `json:"from_account,omitempty"`
	To            string          `json:"to_account,omitempty"`
	Hours         decimal.Decimal `json:"hours"`
	Description   string          `json:"description"`
	Kind          TransactionKind `json:"kind"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	ReferenceType ReferenceType   `json:"reference_type,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Touches reports whether the entry involves account as source or destination.
func (t Transaction) Touches(account string) bool {
	return account != "" && (t.From == account || t.To == account)
}

// DeltaFor returns the signed effect of the entry on account's balance.
func (t Transaction) DeltaFor(account string) decimal.Decimal {
	delta := decimal.Zero
	if t.To == account {
		delta = delta.Add(t.Hours)
	}
	if t.From == account {
		delta = delta.Sub(t.Hours)
	}
	return delta
}

// TruncateDescription shortens s to at most n characters (not bytes).
func TruncateDescription(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Page is one page of a newest-first listing along with the unpaged total.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NewPage builds a page, never returning nil items.
func NewPage[T any](items []T, total, limit, offset int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Total: total, Limit: limit, Offset: offset}
}
