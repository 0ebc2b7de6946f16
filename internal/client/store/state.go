package store

import (
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
)

// MaxSyncErrors bounds the diagnostics ring.
const MaxSyncErrors = 50

// State is everything the store holds.
type State struct {
	Snapshot       models.Snapshot
	Queue          []models.Mutation
	PendingCreates models.IDSet
	LastSync       *time.Time
	Errors         []models.SyncErrorRecord
}

func (s State) clone() State {
	out := State{
		Snapshot:       s.Snapshot.Clone(),
		Queue:          append([]models.Mutation(nil), s.Queue...),
		PendingCreates: make(models.IDSet, len(s.PendingCreates)),
		Errors:         append([]models.SyncErrorRecord(nil), s.Errors...),
	}
	for id := range s.PendingCreates {
		out.PendingCreates.Add(id)
	}
	if s.LastSync != nil {
		t := *s.LastSync
		out.LastSync = &t
	}
	return out
}

// RecordError appends to the diagnostics ring, dropping the oldest entries.
func (s *State) RecordError(table models.Table, err error, at time.Time) {
	s.Errors = append(s.Errors, models.SyncErrorRecord{Table: table, Error: err.Error(), At: at.UTC()})
	if n := len(s.Errors); n > MaxSyncErrors {
		s.Errors = append([]models.SyncErrorRecord(nil), s.Errors[n-MaxSyncErrors:]...)
	}
}

// PendingDeletes returns the target ids of queued delete mutations per table.
func (s State) PendingDeletes() map[models.Table]models.IDSet {
	out := make(map[models.Table]models.IDSet)
	for _, m := range s.Queue {
		if !m.Kind.IsDelete() {
			continue
		}
		t := m.Kind.Table()
		if out[t] == nil {
			out[t] = models.IDSet{}
		}
		out[t].Add(m.TargetID)
	}
	return out
}
