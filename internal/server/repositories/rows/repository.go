package rows

import (
	"context"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/server/models"
)

// Query selects rows of Table changed after Since, ordered by
// (updated_at, id). Empty BranchID and zero Limit mean no filter.
type Query struct {
	Table    string
	BranchID string
	Since    *time.Time
	Offset   int
	Limit    int
}

type Repository interface {
	// Upsert writes r and reports whether it was a new row.
	Upsert(ctx context.Context, table string, r models.Row) (inserted bool, err error)
	// Delete removes id and returns the removed row, if any.
	Delete(ctx context.Context, table, id, branchID string) (models.Row, bool, error)
	Exists(ctx context.Context, table, id string) (bool, error)
	Select(ctx context.Context, q Query) ([]models.Row, error)
}
