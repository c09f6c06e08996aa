package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mutual-aid/timebank/internal/domain"
)

// ─── Claim Schema ───────────────────────────────────────────────────────────

// ClaimMigrations returns the claim and vote schema statements.
func ClaimMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS claims (
			id                  TEXT PRIMARY KEY,
			claimant            TEXT NOT NULL,
			category_id         INTEGER NOT NULL,
			hours_claimed       TEXT NOT NULL,
			actual_hours_earned TEXT NOT NULL,
			description         TEXT NOT NULL,
			evidence_ref        TEXT,
			status              TEXT NOT NULL DEFAULT 'pending'
			                    CHECK(status IN ('pending', 'voting', 'approved', 'rejected')),
			resolver_id         TEXT,
			rejection_reason    TEXT,
			created_at          TEXT NOT NULL,
			resolved_at         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_claimant ON claims(claimant)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(status)`,
		`CREATE TRIGGER IF NOT EXISTS claims_no_delete
			BEFORE DELETE ON claims
			BEGIN SELECT RAISE(ABORT, 'claims are never deleted'); END`,
		`CREATE TRIGGER IF NOT EXISTS claims_terminal
			BEFORE UPDATE ON claims
			WHEN OLD.status IN ('approved', 'rejected')
			BEGIN SELECT RAISE(ABORT, 'claim already resolved'); END`,

		`CREATE TABLE IF NOT EXISTS votes (
			id         TEXT PRIMARY KEY,
			claim_id   TEXT NOT NULL REFERENCES claims(id),
			voter      TEXT NOT NULL,
			choice     TEXT NOT NULL CHECK(choice IN ('approve', 'reject', 'abstain')),
			comment    TEXT,
			created_at TEXT NOT NULL,
			UNIQUE(claim_id, voter)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_votes_claim ON votes(claim_id)`,
		`CREATE TRIGGER IF NOT EXISTS votes_no_update
			BEFORE UPDATE ON votes
			BEGIN SELECT RAISE(ABORT, 'votes are immutable'); END`,
		`CREATE TRIGGER IF NOT EXISTS votes_no_delete
			BEFORE DELETE ON votes
			BEGIN SELECT RAISE(ABORT, 'votes are immutable'); END`,
	}
}

// ─── Claim Operations ───────────────────────────────────────────────────────

const claimColumns = `id, claimant, category_id, hours_claimed, actual_hours_earned, description,
	evidence_ref, status, resolver_id, rejection_reason, created_at, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(r rowScanner) (domain.Claim, error) {
	var (
		c                                 domain.Claim
		status, created                   string
		evidence, resolver, reason, resAt sql.NullString
	)
	err := r.Scan(&c.ID, &c.Claimant, &c.CategoryID, &c.HoursClaimed, &c.ActualHoursEarned,
		&c.Description, &evidence, &status, &resolver, &reason, &created, &resAt)
	if err != nil {
		return domain.Claim{}, err
	}
	c.Status = domain.ClaimStatus(status)
	c.EvidenceRef = evidence.String
	c.ResolverID = resolver.String
	c.RejectionReason = reason.String
	c.CreatedAt = parseTime(created)
	if resAt.Valid {
		t := parseTime(resAt.String)
		c.ResolvedAt = &t
	}
	return c, nil
}

// InsertClaim stores a newly submitted claim.
func (t *Tx) InsertClaim(ctx context.Context, c domain.Claim) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO claims (id, claimant, category_id, hours_claimed, actual_hours_earned,
			description, evidence_ref, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.Claimant, c.CategoryID,
		c.HoursClaimed.String(), c.ActualHoursEarned.String(),
		c.Description, nullString(c.EvidenceRef), string(c.Status),
		formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func getClaim(ctx context.Context, q querier, id string) (domain.Claim, error) {
	c, err := scanClaim(q.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return domain.Claim{}, fmt.Errorf("%w: %s", domain.ErrClaimNotFound, id)
	}
	if err != nil {
		return domain.Claim{}, fmt.Errorf("get claim %s: %w", id, err)
	}
	return c, nil
}

// GetClaim reads a claim inside the transaction.
func (t *Tx) GetClaim(ctx context.Context, id string) (domain.Claim, error) {
	return getClaim(ctx, t.tx, id)
}

// GetClaim reads a claim outside any transaction.
func (db *DB) GetClaim(ctx context.Context, id string) (domain.Claim, error) {
	return getClaim(ctx, db.db, id)
}

// UpdateClaim persists the mutable resolution fields of a claim.
func (t *Tx) UpdateClaim(ctx context.Context, c domain.Claim) error {
	var resolvedAt sql.NullString
	if c.ResolvedAt != nil {
		resolvedAt = sql.NullString{String: formatTime(*c.ResolvedAt), Valid: true}
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE claims
		SET status = ?, resolver_id = ?, rejection_reason = ?, resolved_at = ?
		WHERE id = ?
	`, string(c.Status), nullString(c.ResolverID), nullString(c.RejectionReason), resolvedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update claim %s: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrClaimNotFound, c.ID)
	}
	return nil
}

func (db *DB) listClaims(ctx context.Context, where string, arg any, limit, offset int) ([]domain.Claim, int, error) {
	limit, offset = NormalizePage(limit, offset)

	var total int
	if err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM claims WHERE `+where, arg).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count claims: %w", err)
	}

	rows, err := db.db.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE `+where+`
		 ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		arg, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	var out []domain.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// ListClaimsByStatus returns claims in one status, newest first.
func (db *DB) ListClaimsByStatus(ctx context.Context, status domain.ClaimStatus, limit, offset int) ([]domain.Claim, int, error) {
	return db.listClaims(ctx, "status = ?", string(status), limit, offset)
}

// ListClaimsByClaimant returns one account's claims, newest first.
func (db *DB) ListClaimsByClaimant(ctx context.Context, claimant string, limit, offset int) ([]domain.Claim, int, error) {
	return db.listClaims(ctx, "claimant = ?", claimant, limit, offset)
}

// ─── Vote Operations ────────────────────────────────────────────────────────

// InsertVote records a ballot. A second ballot by the same voter on the same
// claim fails with domain.ErrAlreadyVoted.
func (t *Tx) InsertVote(ctx context.Context, v domain.Vote) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO votes (id, claim_id, voter, choice, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, v.ID, v.ClaimID, v.Voter, string(v.Choice), nullString(v.Comment), formatTime(v.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s on %s", domain.ErrAlreadyVoted, v.Voter, v.ClaimID)
		}
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

// HasVoted reports whether voter already cast a ballot on claimID.
func (t *Tx) HasVoted(ctx context.Context, claimID, voter string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM votes WHERE claim_id = ? AND voter = ?`,
		claimID, voter).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has voted: %w", err)
	}
	return n > 0, nil
}

func listVotes(ctx context.Context, q querier, claimID string) ([]domain.Vote, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, claim_id, voter, choice, comment, created_at
		FROM votes WHERE claim_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, claimID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var out []domain.Vote
	for rows.Next() {
		var (
			v               domain.Vote
			choice, created string
			comment         sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.ClaimID, &v.Voter, &choice, &comment, &created); err != nil {
			return nil, err
		}
		v.Choice = domain.VoteChoice(choice)
		v.Comment = comment.String
		v.CreatedAt = parseTime(created)
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListVotes returns the ballots on a claim in casting order.
func (t *Tx) ListVotes(ctx context.Context, claimID string) ([]domain.Vote, error) {
	return listVotes(ctx, t.tx, claimID)
}

// ListVotes returns the ballots on a claim in casting order.
func (db *DB) ListVotes(ctx context.Context, claimID string) ([]domain.Vote, error) {
	return listVotes(ctx, db.db, claimID)
}

// VotesForClaims returns the ballots of several claims keyed by claim id.
func (db *DB) VotesForClaims(ctx context.Context, claimIDs []string) (map[string][]domain.Vote, error) {
	out := make(map[string][]domain.Vote, len(claimIDs))
	for _, id := range claimIDs {
		votes, err := listVotes(ctx, db.db, id)
		if err != nil {
			return nil, err
		}
		out[id] = votes
	}
	return out, nil
}
