package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mutual-aid/timebank/internal/domain"
)

// ─── Ledger Schema ──────────────────────────────────────────────────────────

// LedgerMigrations returns the balance and transaction-log schema statements.
// Hours are stored as decimal TEXT, never REAL. Triggers keep the log
// append-only at the storage level.
func LedgerMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS balances (
			account    TEXT PRIMARY KEY,
			hours      TEXT NOT NULL DEFAULT '0',
			updated_at TEXT NOT NULL
		)`,
		`CREATE TRIGGER IF NOT EXISTS balances_no_delete
			BEFORE DELETE ON balances
			BEGIN SELECT RAISE(ABORT, 'balances are never deleted'); END`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			from_account   TEXT,
			to_account     TEXT,
			hours          TEXT NOT NULL,
			description    TEXT NOT NULL CHECK(length(description) <= 500),
			kind           TEXT NOT NULL CHECK(kind IN ('earned', 'spent', 'adjusted')),
			reference_id   TEXT,
			reference_type TEXT,
			created_at     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_from ON transactions(from_account)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_to ON transactions(to_account)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_reference ON transactions(reference_type, reference_id)`,
		`CREATE TRIGGER IF NOT EXISTS transactions_no_update
			BEFORE UPDATE ON transactions
			BEGIN SELECT RAISE(ABORT, 'transactions are append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS transactions_no_delete
			BEFORE DELETE ON transactions
			BEGIN SELECT RAISE(ABORT, 'transactions are append-only'); END`,
	}
}

// ─── Balance Operations ─────────────────────────────────────────────────────

func getBalance(ctx context.Context, q querier, account string) (domain.Balance, bool, error) {
	var (
		b       domain.Balance
		updated string
	)
	err := q.QueryRowContext(ctx, `
		SELECT account, hours, updated_at FROM balances WHERE account = ?
	`, account).Scan(&b.Account, &b.Hours, &updated)
	if err == sql.ErrNoRows {
		return domain.Balance{}, false, nil
	}
	if err != nil {
		return domain.Balance{}, false, fmt.Errorf("get balance %s: %w", account, err)
	}
	b.UpdatedAt = parseTime(updated)
	return b, true, nil
}

// GetBalance reads a balance inside the transaction. found is false when the
// account has never been touched.
func (t *Tx) GetBalance(ctx context.Context, account string) (b domain.Balance, found bool, err error) {
	return getBalance(ctx, t.tx, account)
}

// GetBalance reads a balance outside any transaction.
func (db *DB) GetBalance(ctx context.Context, account string) (b domain.Balance, found bool, err error) {
	return getBalance(ctx, db.db, account)
}

// PutBalance inserts or overwrites an account balance.
func (t *Tx) PutBalance(ctx context.Context, b domain.Balance) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO balances (account, hours, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			hours      = excluded.hours,
			updated_at = excluded.updated_at
	`, b.Account, b.Hours.String(), formatTime(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put balance %s: %w", b.Account, err)
	}
	return nil
}

// ListBalances returns balances ordered from richest to poorest, plus the
// number of accounts.
func (db *DB) ListBalances(ctx context.Context, limit, offset int) ([]domain.Balance, int, error) {
	limit, offset = NormalizePage(limit, offset)

	var total int
	if err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM balances`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count balances: %w", err)
	}

	// CAST only orders rows; values are still read back as exact decimals.
	rows, err := db.db.QueryContext(ctx, `
		SELECT account, hours, updated_at FROM balances
		ORDER BY CAST(hours AS REAL) DESC, account ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var out []domain.Balance
	for rows.Next() {
		var (
			b       domain.Balance
			updated string
		)
		if err := rows.Scan(&b.Account, &b.Hours, &updated); err != nil {
			return nil, 0, err
		}
		b.UpdatedAt = parseTime(updated)
		out = append(out, b)
	}
	return out, total, rows.Err()
}

// ─── Transaction Log Operations ─────────────────────────────────────────────

// InsertTransaction appends a ledger entry and returns its assigned id.
func (t *Tx) InsertTransaction(ctx context.Context, e domain.Transaction) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (from_account, to_account, hours, description, kind, reference_id, reference_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		nullString(e.From),
		nullString(e.To),
		e.Hours.String(),
		e.Description,
		string(e.Kind),
		nullString(e.ReferenceID),
		nullString(string(e.ReferenceType)),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return res.LastInsertId()
}

const txColumns = `id, from_account, to_account, hours, description, kind, reference_id, reference_type, created_at`

func scanTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			e                        domain.Transaction
			from, to, refID, refType sql.NullString
			hours, kind, created     string
		)
		if err := rows.Scan(&e.ID, &from, &to, &hours, &e.Description, &kind, &refID, &refType, &created); err != nil {
			return nil, err
		}
		h, err := decimal.NewFromString(hours)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: bad hours %q: %w", e.ID, hours, err)
		}
		e.Hours = h
		e.From = from.String
		e.To = to.String
		e.Kind = domain.TransactionKind(kind)
		e.ReferenceID = refID.String
		e.ReferenceType = domain.ReferenceType(refType.String)
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListTransactions returns the global ledger newest first, plus the total count.
func (db *DB) ListTransactions(ctx context.Context, limit, offset int) ([]domain.Transaction, int, error) {
	limit, offset = NormalizePage(limit, offset)

	var total int
	if err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	rows, err := db.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	entries, err := scanTransactions(rows)
	return entries, total, err
}

// ListAccountTransactions returns entries where account is source or
// destination, newest first, plus the total count for that account.
func (db *DB) ListAccountTransactions(ctx context.Context, account string, limit, offset int) ([]domain.Transaction, int, error) {
	limit, offset = NormalizePage(limit, offset)

	var total int
	err := db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions WHERE from_account = ? OR to_account = ?
	`, account, account).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions for %s: %w", account, err)
	}

	rows, err := db.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE from_account = ? OR to_account = ?
		 ORDER BY id DESC LIMIT ? OFFSET ?`,
		account, account, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions for %s: %w", account, err)
	}
	entries, err := scanTransactions(rows)
	return entries, total, err
}

// AccountTransactions returns every entry touching account, oldest first.
// Used for reconciliation, so it is not paginated.
func (t *Tx) AccountTransactions(ctx context.Context, account string) ([]domain.Transaction, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE from_account = ? OR to_account = ?
		 ORDER BY id ASC`,
		account, account)
	if err != nil {
		return nil, fmt.Errorf("scan transactions for %s: %w", account, err)
	}
	return scanTransactions(rows)
}

// TransactionsByReference returns the entries that originated from one record.
func (db *DB) TransactionsByReference(ctx context.Context, refType domain.ReferenceType, refID string) ([]domain.Transaction, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE reference_type = ? AND reference_id = ?
		 ORDER BY id ASC`,
		string(refType), refID)
	if err != nil {
		return nil, fmt.Errorf("transactions for %s %s: %w", refType, refID, err)
	}
	return scanTransactions(rows)
}
