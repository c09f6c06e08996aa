package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mutual-aid/timebank/internal/domain"
)

// ─── Category Schema ────────────────────────────────────────────────────────

// CategoryMigrations returns the service-category schema statements.
func CategoryMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS categories (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT NOT NULL UNIQUE,
			description TEXT,
			earn_rate   TEXT NOT NULL DEFAULT '1.00',
			icon        TEXT
		)`,
	}
}

// DefaultCategories is the catalogue installed into an empty database.
var DefaultCategories = []domain.Category{
	{Name: "Transportation", Description: "Rides, errands, deliveries", EarnRate: decimal.RequireFromString("1.00"), Icon: "car"},
	{Name: "Childcare", Description: "Babysitting, tutoring children", EarnRate: decimal.RequireFromString("1.00"), Icon: "baby"},
	{Name: "Home Repair", Description: "Fixing, building, maintenance", EarnRate: decimal.RequireFromString("1.20"), Icon: "wrench"},
	{Name: "Gardening", Description: "Yard work, landscaping", EarnRate: decimal.RequireFromString("1.00"), Icon: "flower"},
	{Name: "Tech Support", Description: "Computer help, tech issues", EarnRate: decimal.RequireFromString("1.50"), Icon: "laptop"},
	{Name: "Cooking/Food", Description: "Meal prep, food sharing", EarnRate: decimal.RequireFromString("1.00"), Icon: "food"},
	{Name: "Administrative", Description: "Paperwork, organizing", EarnRate: decimal.RequireFromString("1.00"), Icon: "clipboard"},
	{Name: "Health/Wellness", Description: "Fitness, care, support", EarnRate: decimal.RequireFromString("1.30"), Icon: "heart"},
	{Name: "Education", Description: "Teaching, tutoring, training", EarnRate: decimal.RequireFromString("1.40"), Icon: "book"},
	{Name: "Other", Description: "Miscellaneous services", EarnRate: decimal.RequireFromString("1.00"), Icon: "star"},
}

// seedCategories installs DefaultCategories when the table is empty.
func (db *DB) seedCategories() error {
	var n int
	if err := db.db.QueryRow(`SELECT COUNT(*) FROM categories`).Scan(&n); err != nil {
		return fmt.Errorf("count categories: %w", err)
	}
	if n > 0 {
		return nil
	}
	ctx := context.Background()
	return db.InTx(ctx, func(tx *Tx) error {
		for _, c := range DefaultCategories {
			if _, err := insertCategory(ctx, tx.tx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

// ─── Category Operations ────────────────────────────────────────────────────

func insertCategory(ctx context.Context, q querier, c domain.Category) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO categories (name, description, earn_rate, icon) VALUES (?, ?, ?, ?)
	`, c.Name, nullString(c.Description), c.EarnRate.StringFixed(domain.HoursScale), nullString(c.Icon))
	if err != nil {
		return 0, fmt.Errorf("insert category %s: %w", c.Name, err)
	}
	return res.LastInsertId()
}

// InsertCategory adds a category and returns its id.
func (db *DB) InsertCategory(ctx context.Context, c domain.Category) (int64, error) {
	return insertCategory(ctx, db.db, c)
}

// GetCategory implements domain.CategoryLookup.
func (db *DB) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	var (
		c                 domain.Category
		description, icon sql.NullString
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT id, name, description, earn_rate, icon FROM categories WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &description, &c.EarnRate, &icon)
	if err == sql.ErrNoRows {
		return domain.Category{}, fmt.Errorf("%w: %d", domain.ErrCategoryNotFound, id)
	}
	if err != nil {
		return domain.Category{}, fmt.Errorf("get category %d: %w", id, err)
	}
	c.Description = description.String
	c.Icon = icon.String
	return c, nil
}

// ListCategories returns every category ordered by name.
func (db *DB) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, name, description, earn_rate, icon FROM categories ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		var (
			c                 domain.Category
			description, icon sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &description, &c.EarnRate, &icon); err != nil {
			return nil, err
		}
		c.Description = description.String
		c.Icon = icon.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetEarnRate changes a category's multiplier. Claims already submitted keep
// the earned amount computed at submission.
func (db *DB) SetEarnRate(ctx context.Context, id int64, rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return fmt.Errorf("%w: earn rate must be positive, got %s", domain.ErrInvalidAmount, rate)
	}
	if !rate.Equal(rate.Round(domain.HoursScale)) {
		return fmt.Errorf("%w: earn rate %s has more than %d decimal places", domain.ErrInvalidAmount, rate, domain.HoursScale)
	}
	res, err := db.db.ExecContext(ctx,
		`UPDATE categories SET earn_rate = ? WHERE id = ?`,
		rate.StringFixed(domain.HoursScale), id)
	if err != nil {
		return fmt.Errorf("set earn rate %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", domain.ErrCategoryNotFound, id)
	}
	return nil
}
