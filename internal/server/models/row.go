// Package models holds the server-side representation of synced rows.
package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/common"
)

// Row is one record as exchanged with clients: snake_case columns with
// string, float64, bool or nil values.
type Row = map[string]any

// Meta is the part of a row the server indexes on. The full row is kept as
// JSON next to it.
type Meta struct {
	ID        string
	BranchID  string
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// ParseMeta extracts and validates the indexed columns of r.
func ParseMeta(r Row) (Meta, error) {
	var m Meta
	var ok bool
	if m.ID, ok = r["id"].(string); !ok || m.ID == "" {
		return Meta{}, fmt.Errorf("%w: missing id", common.ErrInvalidRecord)
	}
	m.BranchID, _ = r["branch_id"].(string)

	ts, _ := r["updated_at"].(string)
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Meta{}, fmt.Errorf("%w: %s: updated_at: %v", common.ErrInvalidRecord, m.ID, err)
	}
	m.UpdatedAt = t.UTC()

	if ds, _ := r["deleted_at"].(string); ds != "" {
		d, err := time.Parse(time.RFC3339Nano, ds)
		if err != nil {
			return Meta{}, fmt.Errorf("%w: %s: deleted_at: %v", common.ErrInvalidRecord, m.ID, err)
		}
		d = d.UTC()
		m.DeletedAt = &d
	}
	return m, nil
}

// Tombstone builds the row recording the deletion of id from table.
func Tombstone(id, table, recordID, branchID string, at time.Time) Row {
	ts := at.UTC().Format(time.RFC3339Nano)
	return Row{
		"id":         id,
		"table_name": table,
		"record_id":  recordID,
		"branch_id":  branchID,
		"deleted_at": ts,
		"updated_at": ts,
	}
}

// Change describes one committed write, as broadcast to realtime
// subscribers. Old is set for deletes.
type Change struct {
	Table  string
	Event  string
	Record Row
	Old    Row
}

// BranchID is the branch the change belongs to.
func (c Change) BranchID() string {
	for _, r := range []Row{c.Record, c.Old} {
		if b, ok := r["branch_id"].(string); ok && b != "" {
			return b
		}
	}
	return ""
}
