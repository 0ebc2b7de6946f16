// Package remote is the sync engine's view of the remote entity store: a
// row-oriented API with upsert-by-id, delete by id (tombstoned server side),
// range-paginated select with an optional timestamp filter, and a liveness
// ping.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/client/wire"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMissingParent is the store refusing a child whose parent row is
	// not there yet.
	ErrMissingParent = errors.New("parent record missing")
	ErrRejected      = errors.New("rejected by server")
)

// Query selects one page of a table.
type Query struct {
	BranchID string
	// Since restricts the page to rows with updated_at strictly after it.
	Since  *time.Time
	Offset int
	Limit  int
}

type Store interface {
	Upsert(ctx context.Context, table models.Table, rows []wire.Row) error
	// Delete removes the rows and writes a tombstone for each id.
	Delete(ctx context.Context, table models.Table, ids []string, branchID string) error
	// Select returns rows ordered by (updated_at, id).
	Select(ctx context.Context, table models.Table, q Query) ([]wire.Row, error)
	Ping(ctx context.Context) error
}

// IsTransient reports whether err is worth retrying later as is.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrMissingParent)
}
