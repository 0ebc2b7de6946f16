package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/client/remote"
	"github.com/dmitrijs2005/loancollect/internal/client/store"
	"github.com/dmitrijs2005/loancollect/internal/clock"
	"github.com/dmitrijs2005/loancollect/internal/logging"
	"github.com/patrickmn/go-cache"
)

// ErrDuplicateSuppressed is returned by Enqueue for a second identical
// collection log inside the double-tap window. The first tap is queued, so
// nothing is lost.
var ErrDuplicateSuppressed = errors.New("duplicate collection log suppressed")

// Online reports connectivity.
type Online interface {
	IsOnline() bool
}

// Checker is an Online that can re-validate connectivity on demand.
// connectivity.Monitor implements it.
type Checker interface {
	Check(ctx context.Context) bool
}

type Config struct {
	BatchSize       int
	PushTimeout     time.Duration
	PushAttempts    int
	PushBackoff     time.Duration
	DoubleTapWindow time.Duration
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = 15 * time.Second
	}
	if c.PushAttempts <= 0 {
		c.PushAttempts = 2
	}
	if c.PushBackoff <= 0 {
		c.PushBackoff = 500 * time.Millisecond
	}
	if c.DoubleTapWindow <= 0 {
		c.DoubleTapWindow = 3 * time.Second
	}
}

type Processor struct {
	store  *store.Store
	remote remote.Store
	online Online
	clock  clock.Clock
	log    logging.Logger
	cfg    Config

	recentLogs *cache.Cache

	running   atomic.Int32
	startedAt atomic.Int64
}

func NewProcessor(st *store.Store, rs remote.Store, online Online, c clock.Clock, log logging.Logger, cfg Config) *Processor {
	cfg.setDefaults()
	if c == nil {
		c = clock.Real()
	}
	return &Processor{
		store:      st,
		remote:     rs,
		online:     online,
		clock:      c,
		log:        log.With("module", "queue"),
		cfg:        cfg,
		recentLogs: cache.New(cfg.DoubleTapWindow, 2*cfg.DoubleTapWindow),
	}
}

// Busy reports whether a pass is running and since when.
func (p *Processor) Busy() (bool, time.Time) {
	if p.running.Load() == 0 {
		return false, time.Time{}
	}
	return true, time.Unix(0, p.startedAt.Load())
}

// Enqueue writes rec into the local snapshot and queues its upsert in one
// atomic store update. It never touches the network.
func (p *Processor) Enqueue(ctx context.Context, kind models.Kind, rec models.Record) error {
	if !kind.Valid() || kind.IsDelete() {
		return fmt.Errorf("enqueue: %q is not an upsert kind", kind)
	}

	m, err := p.newMutation(kind, rec)
	if err != nil {
		return err
	}

	tapKey, suppressed := p.doubleTap(kind, rec)
	if suppressed {
		p.log.Info(ctx, "double tap suppressed", "id", rec.GetID())
		return ErrDuplicateSuppressed
	}

	_, err = p.store.Update(ctx, func(st *store.State) error {
		table := kind.Table()
		if !st.Snapshot.Has(table, rec.GetID()) {
			st.PendingCreates.Add(rec.GetID())
		}
		if err := st.Snapshot.Upsert(rec); err != nil {
			return err
		}
		if kind == models.KindUpdateSettings {
			st.Queue = without(st.Queue, func(q models.Mutation) bool {
				return q.Kind == models.KindUpdateSettings && q.TargetID == m.TargetID
			})
		}
		st.Queue = append(st.Queue, m)
		return nil
	})
	if err != nil {
		if tapKey != "" {
			p.recentLogs.Delete(tapKey)
		}
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}

	p.log.Debug(ctx, "mutation enqueued", "kind", kind, "target", m.TargetID)
	return nil
}

// EnqueueDelete soft-deletes the record locally and queues the remote delete.
// Queued creates of the record and of its children are cancelled.
func (p *Processor) EnqueueDelete(ctx context.Context, table models.Table, id, branchID string) error {
	kind, ok := models.DeleteKind(table)
	if !ok {
		return fmt.Errorf("enqueue delete: %w: %s", models.ErrNotDeletable, table)
	}
	now := p.clock.Now().UTC()

	_, err := p.store.Update(ctx, func(st *store.State) error {
		st.Snapshot.SoftDelete(table, id, now)

		cancelled := cancelCreates(st, id)
		st.PendingCreates.Remove(id)
		for _, c := range cancelled {
			st.PendingCreates.Remove(c)
		}
		if len(cancelled) > 0 {
			p.log.Info(ctx, "queued creates cancelled by delete", "id", id, "cancelled", len(cancelled))
		}

		st.Queue = append(st.Queue, models.Mutation{
			ID:         models.NewID(),
			Kind:       kind,
			TargetID:   id,
			BranchID:   branchID,
			EnqueuedAt: now,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return nil
}

// Clear drops every queued mutation. The pending-create ledger and the
// soft-deleted records are kept so RequeueOrphans can rebuild the work later.
func (p *Processor) Clear(ctx context.Context) (int, error) {
	var n int
	_, err := p.store.Update(ctx, func(st *store.State) error {
		n = len(st.Queue)
		st.Queue = nil
		return nil
	})
	if err != nil {
		return 0, err
	}
	p.log.Warn(ctx, "queue cleared", "dropped", n)
	return n, nil
}

// RequeueOrphans rebuilds work a cleared queue lost. Every pending-create id
// with no queued create gets a create built from the record still held in
// the snapshot; ids with no record left are removed from the ledger. Every
// soft-deleted record with no queued delete gets its delete queued again.
func (p *Processor) RequeueOrphans(ctx context.Context) (int, error) {
	var creates, deletes int
	_, err := p.store.Update(ctx, func(st *store.State) error {
		queued := models.IDSet{}
		for _, m := range st.Queue {
			if !m.Kind.IsDelete() {
				queued.Add(m.TargetID)
			}
		}

		for id := range st.PendingCreates {
			if queued.Has(id) {
				continue
			}
			rec, table, ok := st.Snapshot.Find(id)
			if !ok {
				st.PendingCreates.Remove(id)
				continue
			}
			kind, _ := models.CreateKind(table)
			m, err := p.newMutation(kind, rec)
			if err != nil {
				return err
			}
			st.Queue = append(st.Queue, m)
			creates++
		}

		pending := st.PendingDeletes()
		now := p.clock.Now().UTC()
		for _, kind := range models.KindOrder {
			if !kind.IsDelete() {
				continue
			}
			table := kind.Table()
			for _, rec := range st.Snapshot.Deleted(table) {
				if pending[table].Has(rec.GetID()) {
					continue
				}
				st.Queue = append(st.Queue, models.Mutation{
					ID:         models.NewID(),
					Kind:       kind,
					TargetID:   rec.GetID(),
					BranchID:   rec.GetBranchID(),
					EnqueuedAt: now,
				})
				deletes++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if creates+deletes > 0 {
		p.log.Info(ctx, "orphaned mutations requeued", "creates", creates, "deletes", deletes)
	}
	return creates + deletes, nil
}

func (p *Processor) newMutation(kind models.Kind, rec models.Record) (models.Mutation, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return models.Mutation{}, fmt.Errorf("encode payload: %w", err)
	}
	return models.Mutation{
		ID:         models.NewID(),
		Kind:       kind,
		TargetID:   rec.GetID(),
		ParentID:   parentOf(rec),
		BranchID:   rec.GetBranchID(),
		Payload:    payload,
		EnqueuedAt: p.clock.Now().UTC(),
	}, nil
}

// doubleTap registers a new collection log and reports whether an identical
// one was registered inside the window. It returns the cache key to release
// if the enqueue fails.
func (p *Processor) doubleTap(kind models.Kind, rec models.Record) (string, bool) {
	l, ok := rec.(models.CollectionLog)
	if kind != models.KindCreateLog || !ok {
		return "", false
	}
	key := l.LoanID + "|" + l.Amount.String() + "|" + string(l.Type)

	if err := p.recentLogs.Add(key, l.ID, cache.DefaultExpiration); err != nil {
		prev, found := p.recentLogs.Get(key)
		if found && prev.(string) != l.ID {
			return "", true
		}
		// Same record edited again, or the entry just expired.
		p.recentLogs.Set(key, l.ID, cache.DefaultExpiration)
	}
	return key, false
}

func parentOf(rec models.Record) string {
	switch r := rec.(type) {
	case models.Loan:
		return r.ClientID
	case models.Payment:
		return r.LoanID
	case models.CollectionLog:
		return r.LoanID
	}
	return ""
}

// cancelCreates removes queued creates of id and, transitively, of records
// whose parent is being cancelled. It returns the cancelled target ids.
func cancelCreates(st *store.State, id string) []string {
	gone := models.NewIDSet(id)
	var out []string
	for changed := true; changed; {
		changed = false
		kept := st.Queue[:0:0]
		for _, m := range st.Queue {
			if !m.Kind.IsDelete() && (gone.Has(m.TargetID) || (m.ParentID != "" && gone.Has(m.ParentID))) {
				if !gone.Has(m.TargetID) {
					gone.Add(m.TargetID)
					changed = true
				}
				out = appendOnce(out, m.TargetID)
				continue
			}
			kept = append(kept, m)
		}
		st.Queue = kept
	}
	return out
}

func appendOnce(ids []string, id string) []string {
	for _, x := range ids {
		if x == id {
			return ids
		}
	}
	return append(ids, id)
}

func without(q []models.Mutation, drop func(models.Mutation) bool) []models.Mutation {
	out := make([]models.Mutation, 0, len(q))
	for _, m := range q {
		if !drop(m) {
			out = append(out, m)
		}
	}
	return out
}
