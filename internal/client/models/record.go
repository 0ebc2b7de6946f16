package models

import (
	"time"

	"github.com/google/uuid"
)

// Record is any syncable entity.
type Record interface {
	GetID() string
	GetBranchID() string
	GetUpdatedAt() time.Time
	GetDeletedAt() *time.Time
}

// Meta carries the fields every record shares. It is embedded by value so the
// JSON form stays flat.
type Meta struct {
	ID        string     `json:"id"`
	BranchID  string     `json:"branchId"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func (m Meta) GetID() string            { return m.ID }
func (m Meta) GetBranchID() string      { return m.BranchID }
func (m Meta) GetUpdatedAt() time.Time  { return m.UpdatedAt }
func (m Meta) GetDeletedAt() *time.Time { return m.DeletedAt }

// IsDeleted reports whether the record carries a tombstone marker.
func (m Meta) IsDeleted() bool { return m.DeletedAt != nil }

// SoftDelete marks the record deleted at t.
func (m *Meta) SoftDelete(t time.Time) {
	t = t.UTC()
	m.DeletedAt = &t
	m.UpdatedAt = t
}

// ValidID reports whether id is a well-formed UUID.
func ValidID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// NewID returns a fresh random id.
func NewID() string {
	return uuid.NewString()
}

// Active drops soft-deleted records. Business views must only see its output.
func Active[T Record](items []T) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if it.GetDeletedAt() == nil {
			out = append(out, it)
		}
	}
	return out
}

// IDSet is a set of record ids.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Add(id string) { s[id] = struct{}{} }

func (s IDSet) Remove(id string) { delete(s, id) }

// IDsOf collects the ids of items.
func IDsOf[T Record](items []T) IDSet {
	s := make(IDSet, len(items))
	for _, it := range items {
		s.Add(it.GetID())
	}
	return s
}
