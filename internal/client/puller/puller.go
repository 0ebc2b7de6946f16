// Package puller fetches remote state and merges it into the local store.
//
// Pulls are incremental (rows updated after the checkpoint minus a safety
// margin) when a checkpoint exists, full otherwise. Tables are read page by
// page in a fixed order, every page with its own retry budget, and merged in
// one store update so a concurrent queue pass never loses a write.
package puller

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/client/remote"
	"github.com/dmitrijs2005/loancollect/internal/client/store"
	"github.com/dmitrijs2005/loancollect/internal/client/wire"
	"github.com/dmitrijs2005/loancollect/internal/clock"
	"github.com/dmitrijs2005/loancollect/internal/logging"
	"github.com/dmitrijs2005/loancollect/internal/retry"
)

// NoYield turns the pause between pages off.
const NoYield time.Duration = -1

type Config struct {
	BranchID     string
	PageSize     int
	PageAttempts int
	PageBackoff  time.Duration
	PageTimeout  time.Duration
	// YieldDelay is the pause between pages and tables, 50ms when zero.
	// NoYield disables it.
	YieldDelay   time.Duration
	SafetyMargin time.Duration
}

func (c *Config) setDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = 500
	}
	if c.PageAttempts <= 0 {
		c.PageAttempts = 3
	}
	if c.PageBackoff <= 0 {
		c.PageBackoff = time.Second
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 120 * time.Second
	}
	if c.YieldDelay == 0 {
		c.YieldDelay = 50 * time.Millisecond
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = 5 * time.Minute
	}
}

// Result is a merged pull.
type Result struct {
	Snapshot models.Snapshot
	Full     bool
	// Since is the lower bound used for an incremental pull.
	Since      *time.Time
	Rows       map[models.Table]int
	Tombstones int
}

type Puller struct {
	store  *store.Store
	remote remote.Store
	clock  clock.Clock
	log    logging.Logger
	cfg    Config
}

func New(st *store.Store, rs remote.Store, c clock.Clock, log logging.Logger, cfg Config) *Puller {
	cfg.setDefaults()
	if c == nil {
		c = clock.Real()
	}
	return &Puller{store: st, remote: rs, clock: c, log: log.With("module", "puller"), cfg: cfg}
}

type fetched struct {
	settings   []models.BranchSettings
	users      []models.User
	clients    []models.Client
	loans      []models.Loan
	payments   []models.Payment
	logs       []models.CollectionLog
	expenses   []models.Expense
	tombstones map[models.Table]models.IDSet
}

// Pull fetches every table and merges the result. Nothing is merged and the
// checkpoint stays put unless every table was read.
func (p *Puller) Pull(ctx context.Context, full bool) (*Result, error) {
	st, err := p.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	startedAt := p.clock.Now().UTC()
	res := &Result{Full: full || st.LastSync == nil, Rows: map[models.Table]int{}}
	if !res.Full {
		since := st.LastSync.Add(-p.cfg.SafetyMargin)
		res.Since = &since
	}

	var f fetched
	for i, table := range models.PullOrder {
		if i > 0 {
			if err := p.yield(ctx); err != nil {
				return nil, err
			}
		}
		rows, err := p.fetchTable(ctx, table, res.Since)
		if err != nil {
			return nil, fmt.Errorf("pull %s: %w", table, err)
		}
		res.Rows[table] = len(rows)
		p.decode(ctx, table, rows, &f)
	}
	for _, ids := range f.tombstones {
		res.Tombstones += len(ids)
	}

	final, err := p.store.Update(ctx, func(st *store.State) error {
		merge(st, &f, res.Full)
		st.LastSync = &startedAt
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merge pull: %w", err)
	}
	res.Snapshot = final.Snapshot

	p.log.Info(ctx, "pull finished", "full", res.Full, "rows", res.Rows, "tombstones", res.Tombstones)
	return res, nil
}

func (p *Puller) fetchTable(ctx context.Context, table models.Table, since *time.Time) ([]wire.Row, error) {
	var all []wire.Row
	for offset := 0; ; {
		q := remote.Query{BranchID: p.cfg.BranchID, Since: since, Offset: offset, Limit: p.cfg.PageSize}

		var page []wire.Row
		err := retry.Do(ctx, retry.Policy{
			Attempts: p.cfg.PageAttempts,
			Delay:    p.cfg.PageBackoff,
			Timeout:  p.cfg.PageTimeout,
		}, func(ctx context.Context) error {
			var err error
			page, err = p.remote.Select(ctx, table, q)
			return err
		})
		if err != nil {
			return nil, err
		}

		all = append(all, page...)
		if len(page) < p.cfg.PageSize {
			return all, nil
		}
		offset += len(page)

		if err := p.yield(ctx); err != nil {
			return nil, err
		}
	}
}

func (p *Puller) yield(ctx context.Context) error {
	if p.cfg.YieldDelay < 0 {
		return ctx.Err()
	}
	done := make(chan struct{})
	t := p.clock.AfterFunc(p.cfg.YieldDelay, func() { close(done) })
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (p *Puller) decode(ctx context.Context, table models.Table, rows []wire.Row, f *fetched) {
	switch table {
	case models.TableSettings:
		all := decodeEach(ctx, p.log, table, rows, wire.SettingsFromWire)
		for _, s := range all {
			if s.ID == p.cfg.BranchID || p.cfg.BranchID == "" {
				f.settings = append(f.settings, s)
			}
		}
	case models.TableUsers:
		f.users = decodeEach(ctx, p.log, table, rows, wire.UserFromWire)
	case models.TableClients:
		f.clients = decodeEach(ctx, p.log, table, rows, wire.ClientFromWire)
	case models.TableLoans:
		f.loans = decodeEach(ctx, p.log, table, rows, wire.LoanFromWire)
	case models.TablePayments:
		f.payments = decodeEach(ctx, p.log, table, rows, wire.PaymentFromWire)
	case models.TableCollectionLogs:
		f.logs = decodeEach(ctx, p.log, table, rows, wire.CollectionLogFromWire)
	case models.TableExpenses:
		f.expenses = decodeEach(ctx, p.log, table, rows, wire.ExpenseFromWire)
	case models.TableTombstones:
		f.tombstones = make(map[models.Table]models.IDSet)
		for _, t := range decodeEach(ctx, p.log, table, rows, wire.TombstoneFromWire) {
			if f.tombstones[t.Table] == nil {
				f.tombstones[t.Table] = models.IDSet{}
			}
			f.tombstones[t.Table].Add(t.RecordID)
		}
	}
}

// decodeEach skips rows that do not decode; one bad row must not block the
// whole table.
func decodeEach[T any](ctx context.Context, log logging.Logger, table models.Table, rows []wire.Row, from func(wire.Row) (T, error)) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, err := from(r)
		if err != nil {
			log.Warn(ctx, "skipping undecodable row", "table", table, "id", r["id"], "error", err)
			continue
		}
		out = append(out, v)
	}
	return out
}

func merge(st *store.State, f *fetched, full bool) {
	pc := st.PendingCreates
	pd := st.PendingDeletes()
	ts := f.tombstones
	s := &st.Snapshot

	s.Settings = Merge(s.Settings, f.settings, pc, pd[models.TableSettings], ts[models.TableSettings], full)
	s.Users = Merge(s.Users, f.users, pc, pd[models.TableUsers], ts[models.TableUsers], full)
	s.Clients = Merge(s.Clients, f.clients, pc, pd[models.TableClients], ts[models.TableClients], full)
	s.Loans = Merge(s.Loans, f.loans, pc, pd[models.TableLoans], ts[models.TableLoans], full)
	s.Payments = Merge(s.Payments, f.payments, pc, pd[models.TablePayments], ts[models.TablePayments], full)
	s.CollectionLogs = Merge(s.CollectionLogs, f.logs, pc, pd[models.TableCollectionLogs], ts[models.TableCollectionLogs], full)
	s.Expenses = Merge(s.Expenses, f.expenses, pc, pd[models.TableExpenses], ts[models.TableExpenses], full)
}
