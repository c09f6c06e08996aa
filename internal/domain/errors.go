package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency. Each kind maps to a
// stable identifier via KindOf; callers wrap them with context using %w.

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyVoted        = errors.New("already voted on this claim")
	ErrUnauthorized        = errors.New("unauthorized")

	ErrClaimNotFound    = fmt.Errorf("claim %w", ErrNotFound)
	ErrCategoryNotFound = fmt.Errorf("category %w", ErrNotFound)
	ErrVotingDisabled   = fmt.Errorf("%w: community voting is disabled", ErrInvalidState)
)

// ErrorKind is the stable, user-visible classification of a failure.
type ErrorKind string

const (
	KindNotFound            ErrorKind = "not_found"
	KindInvalidState        ErrorKind = "invalid_state"
	KindInvalidAmount       ErrorKind = "invalid_amount"
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	KindAlreadyVoted        ErrorKind = "already_voted"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindInternal            ErrorKind = "internal"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrNotFound, KindNotFound},
	{ErrInvalidState, KindInvalidState},
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrAlreadyVoted, KindAlreadyVoted},
	{ErrUnauthorized, KindUnauthorized},
}

// KindOf classifies err. Anything not derived from a domain sentinel is internal.
func KindOf(err error) ErrorKind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
