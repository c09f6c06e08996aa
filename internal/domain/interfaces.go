package domain

import "context"

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// Boundaries to the parts of the platform the engine does not own.

// CategoryLookup resolves a category and its current earn-rate.
// Implementations return ErrCategoryNotFound for unknown ids.
type CategoryLookup interface {
	GetCategory(ctx context.Context, id int64) (Category, error)
}
