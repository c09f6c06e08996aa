package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mutual-aid/timebank/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func hours(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ─── Open / Migrate ─────────────────────────────────────────────────────────

func TestOpen_Idempotent(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Ping(context.Background()))
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()

	cats, err := db.ListCategories(context.Background())
	require.NoError(t, err)
	assert.Len(t, cats, len(DefaultCategories), "seed must not run twice")
}

// ─── InTx ───────────────────────────────────────────────────────────────────

func TestInTx_RollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.InTx(ctx, func(tx *Tx) error {
		if err := tx.PutBalance(ctx, domain.Balance{Account: "alice", Hours: hours("3"), UpdatedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, found, err := db.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found, "write must not survive a failed transaction")
}

func TestInTx_Commits(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.InTx(ctx, func(tx *Tx) error {
		return tx.PutBalance(ctx, domain.Balance{Account: "alice", Hours: hours("3.25"), UpdatedAt: time.Now()})
	})
	require.NoError(t, err)

	b, found, err := db.GetBalance(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, b.Hours.Equal(hours("3.25")), "got %s", b.Hours)
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, 50, 0},
		{-3, -1, 50, 0},
		{10, 20, 10, 20},
		{MaxPageSize + 1, 0, MaxPageSize, 0},
	}
	for _, tt := range tests {
		l, o := NormalizePage(tt.limit, tt.offset)
		assert.Equal(t, tt.wantLimit, l)
		assert.Equal(t, tt.wantOffset, o)
	}
}
