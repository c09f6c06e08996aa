package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mutual-aid/timebank/internal/domain"
	"github.com/mutual-aid/timebank/internal/infra/observability"
)

// ErrMalformedEntry is returned for a log entry whose source and destination
// do not fit its kind. It indicates a caller bug, not user input.
var ErrMalformedEntry = errors.New("malformed ledger entry")

// TransactionLog appends immutable entries. It has no update or delete path.
type TransactionLog struct {
	now func() time.Time
}

// NewTransactionLog creates a transaction log writer.
func NewTransactionLog() *TransactionLog {
	return &TransactionLog{now: time.Now}
}

// ValidateShape checks the source/destination layout of e against its kind:
//
//	earned   → destination only
//	adjusted → exactly one of source or destination
//	spent    → both, and distinct
func ValidateShape(e domain.Transaction) error {
	hasFrom, hasTo := e.From != "", e.To != ""
	switch e.Kind {
	case domain.TxEarned:
		if hasFrom || !hasTo {
			return fmt.Errorf("%w: earned entries need a destination and no source", ErrMalformedEntry)
		}
	case domain.TxAdjusted:
		if hasFrom == hasTo {
			return fmt.Errorf("%w: adjusted entries need exactly one of source or destination", ErrMalformedEntry)
		}
	case domain.TxSpent:
		if !hasFrom || !hasTo {
			return fmt.Errorf("%w: spent entries need both source and destination", ErrMalformedEntry)
		}
		if e.From == e.To {
			return fmt.Errorf("%w: spent entry source equals destination", ErrMalformedEntry)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedEntry, e.Kind)
	}
	return nil
}

// Append validates e, stamps it with the current time and stores it. The
// returned entry carries the assigned id.
func (l *TransactionLog) Append(ctx context.Context, s Store, e domain.Transaction) (domain.Transaction, error) {
	if err := ValidateShape(e); err != nil {
		return domain.Transaction{}, err
	}
	if err := ValidateHours(e.Hours); err != nil {
		return domain.Transaction{}, err
	}
	if n := utf8.RuneCountInString(e.Description); n > domain.MaxDescriptionLength {
		return domain.Transaction{}, fmt.Errorf("%w: description is %d characters, limit %d",
			ErrMalformedEntry, n, domain.MaxDescriptionLength)
	}

	e.CreatedAt = l.now()
	id, err := s.InsertTransaction(ctx, e)
	if err != nil {
		return domain.Transaction{}, err
	}
	e.ID = id
	observability.RecordEntry(e.Kind, e.Hours)
	return e, nil
}

// ─── System Descriptions ────────────────────────────────────────────────────
// Descriptions built from user text are truncated to fit, never rejected.

// EarnedDescription describes a claim payout.
func EarnedDescription(claimDescription string) string {
	return fit("Earned: " + domain.TruncateDescription(claimDescription, 450))
}

// AdjustmentDescription describes an administrative balance adjustment.
func AdjustmentDescription(adminID, reason string) string {
	return fit("Admin adjustment by " + adminID + ": " + domain.TruncateDescription(reason, 400))
}

// RequestDescription describes a spend settling a help request.
func RequestDescription(title string) string {
	return fit("Request: " + domain.TruncateDescription(title, 450))
}

func fit(s string) string {
	return domain.TruncateDescription(s, domain.MaxDescriptionLength)
}
