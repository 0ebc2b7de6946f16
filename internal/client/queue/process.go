package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/client/remote"
	"github.com/dmitrijs2005/loancollect/internal/client/store"
	"github.com/dmitrijs2005/loancollect/internal/client/wire"
	"github.com/dmitrijs2005/loancollect/internal/retry"
)

const (
	MessagePaused = "Queue paused (offline)"
	msgSyncing    = "Syncing… (%d pending)"
	msgStuck      = "Could not sync %d items, will retry"
)

type Options struct {
	// Force runs even when offline or while another pass is in flight.
	Force bool
	// FullSync is carried through to the Result so the caller pulls
	// everything afterwards.
	FullSync bool
}

// Result summarizes one pass.
type Result struct {
	Skipped  bool
	Paused   bool
	FullSync bool

	Processed int
	Dropped   int
	Deferred  int
	Failed    int
	Remaining int

	ProcessedByTable map[models.Table]int
	FailedByTable    map[models.Table]int

	Message string
}

// NeedsPull reports that the queue drained and the local view should be
// refreshed from the server.
func (r Result) NeedsPull() bool { return r.Remaining == 0 && r.Processed > 0 }

// RetrySoon reports that progress was made but entries remain, so another
// pass may now find their parents confirmed.
func (r Result) RetrySoon() bool { return r.Remaining > 0 && r.Processed > 0 }

type pass struct {
	processed models.IDSet // mutation ids confirmed, superseded ones included
	dropped   models.IDSet
	confirmed models.IDSet // create targets now known remotely
	errors    []batchError
	res       Result
}

type batchError struct {
	table models.Table
	err   error
}

// Process runs one pass over the queue.
func (p *Processor) Process(ctx context.Context, opts Options) (Result, error) {
	if n := p.running.Add(1); n > 1 && !opts.Force {
		p.running.Add(-1)
		return Result{Skipped: true}, nil
	}
	defer p.running.Add(-1)
	p.startedAt.Store(p.clock.Now().UnixNano())

	st, err := p.store.Load(ctx)
	if err != nil {
		return Result{}, err
	}

	if !opts.Force && !p.reachable(ctx, len(st.Queue)) {
		return Result{Paused: true, FullSync: opts.FullSync, Remaining: len(st.Queue), Message: MessagePaused}, nil
	}

	ps := &pass{
		processed: models.IDSet{},
		dropped:   models.IDSet{},
		confirmed: models.IDSet{},
		res: Result{
			FullSync:         opts.FullSync,
			ProcessedByTable: map[models.Table]int{},
			FailedByTable:    map[models.Table]int{},
		},
	}

	groups := p.partition(ctx, st.Queue, ps)
	pendingClients, pendingLoans := pendingParents(groups)

	for _, kind := range models.KindOrder {
		survivors, superseded := latestPerTarget(groups[kind])
		survivors = p.deferChildren(kind, survivors, pendingClients, pendingLoans, ps)
		if len(survivors) == 0 {
			continue
		}
		p.submit(ctx, kind, survivors, superseded, ps)
	}

	final, err := p.store.Update(ctx, func(st *store.State) error {
		st.Queue = without(st.Queue, func(m models.Mutation) bool {
			return ps.processed.Has(m.ID) || ps.dropped.Has(m.ID)
		})
		for id := range ps.confirmed {
			st.PendingCreates.Remove(id)
		}
		now := p.clock.Now()
		for _, be := range ps.errors {
			st.RecordError(be.table, be.err, now)
		}
		return nil
	})
	if err != nil {
		return ps.res, fmt.Errorf("persist queue: %w", err)
	}

	res := ps.res
	res.Remaining = len(final.Queue)
	switch {
	case res.Remaining == 0:
	case res.Processed > 0:
		res.Message = fmt.Sprintf(msgSyncing, res.Remaining)
	default:
		res.Message = fmt.Sprintf(msgStuck, res.Remaining)
	}

	p.log.Info(ctx, "queue pass finished",
		"processed", res.Processed, "failed", res.Failed, "deferred", res.Deferred,
		"dropped", res.Dropped, "remaining", res.Remaining)
	return res, nil
}

// partition groups valid mutations by kind and marks invalid ones dropped.
func (p *Processor) partition(ctx context.Context, q []models.Mutation, ps *pass) map[models.Kind][]models.Mutation {
	groups := make(map[models.Kind][]models.Mutation)
	for _, m := range q {
		if reason := invalid(m); reason != "" {
			p.log.Warn(ctx, "dropping malformed mutation", "id", m.ID, "kind", m.Kind, "target", m.TargetID, "reason", reason)
			ps.dropped.Add(m.ID)
			ps.res.Dropped++
			continue
		}
		groups[m.Kind] = append(groups[m.Kind], m)
	}
	return groups
}

func invalid(m models.Mutation) string {
	if !m.Kind.Valid() {
		return "unknown kind"
	}
	if !models.ValidID(m.TargetID) {
		return "invalid target id"
	}
	if _, child := m.Kind.ParentKind(); child && !models.ValidID(m.ParentID) {
		return "invalid parent id"
	}
	if !m.Kind.IsDelete() && len(m.Payload) == 0 {
		return "missing payload"
	}
	return ""
}

// pendingParents returns the targets of every queued client and loan create.
// Computed before anything is sent, so a parent confirmed in this pass still
// holds its children back until the next one.
func pendingParents(groups map[models.Kind][]models.Mutation) (models.IDSet, models.IDSet) {
	clients := models.IDSet{}
	for _, m := range groups[models.KindCreateClient] {
		clients.Add(m.TargetID)
	}
	loans := models.IDSet{}
	for _, m := range groups[models.KindCreateLoan] {
		loans.Add(m.TargetID)
	}
	return clients, loans
}

// latestPerTarget keeps the most recently enqueued mutation per target, in
// enqueue order. The others are returned keyed by the survivor's id.
func latestPerTarget(group []models.Mutation) ([]models.Mutation, map[string][]string) {
	last := make(map[string]int, len(group))
	for i, m := range group {
		j, seen := last[m.TargetID]
		if !seen || !m.EnqueuedAt.Before(group[j].EnqueuedAt) {
			last[m.TargetID] = i
		}
	}

	var survivors []models.Mutation
	superseded := make(map[string][]string)
	for i, m := range group {
		keep := group[last[m.TargetID]]
		if i == last[m.TargetID] {
			survivors = append(survivors, m)
			continue
		}
		superseded[keep.ID] = append(superseded[keep.ID], m.ID)
	}
	return survivors, superseded
}

func (p *Processor) deferChildren(kind models.Kind, ms []models.Mutation, clients, loans models.IDSet, ps *pass) []models.Mutation {
	parent, ok := kind.ParentKind()
	if !ok {
		return ms
	}
	pending := clients
	if parent == models.KindCreateLoan {
		pending = loans
	}

	out := ms[:0:0]
	for _, m := range ms {
		if pending.Has(m.ParentID) {
			ps.res.Deferred++
			continue
		}
		out = append(out, m)
	}
	return out
}

func (p *Processor) submit(ctx context.Context, kind models.Kind, ms []models.Mutation, superseded map[string][]string, ps *pass) {
	table := kind.Table()

	for start := 0; start < len(ms); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(ms))
		batch := ms[start:end]

		var err error
		if kind.IsDelete() {
			err = p.sendDeletes(ctx, table, batch)
		} else {
			batch, err = p.sendUpserts(ctx, table, batch, ps)
		}

		if err != nil {
			p.log.Warn(ctx, "batch failed", "kind", kind, "size", len(batch), "error", err)
			ps.errors = append(ps.errors, batchError{table: table, err: err})
			ps.res.Failed += len(batch)
			ps.res.FailedByTable[table] += len(batch)
			continue
		}

		for _, m := range batch {
			ps.processed.Add(m.ID)
			for _, old := range superseded[m.ID] {
				ps.processed.Add(old)
			}
			if !kind.IsDelete() {
				ps.confirmed.Add(m.TargetID)
			}
		}
		ps.res.Processed += len(batch)
		ps.res.ProcessedByTable[table] += len(batch)
	}
}

// sendUpserts encodes the batch, dropping entries whose payload cannot be
// encoded, and upserts the rest. It returns the mutations actually sent.
func (p *Processor) sendUpserts(ctx context.Context, table models.Table, batch []models.Mutation, ps *pass) ([]models.Mutation, error) {
	sent := make([]models.Mutation, 0, len(batch))
	rows := make([]wire.Row, 0, len(batch))
	for _, m := range batch {
		row, err := wire.Encode(table, m.Payload)
		if err != nil {
			p.log.Warn(ctx, "dropping mutation with undecodable payload", "id", m.ID, "error", err)
			ps.dropped.Add(m.ID)
			ps.res.Dropped++
			continue
		}
		sent = append(sent, m)
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return sent, nil
	}

	return sent, retry.Do(ctx, p.policy(), func(ctx context.Context) error {
		return permanentUnlessTransient(p.remote.Upsert(ctx, table, rows))
	})
}

func (p *Processor) sendDeletes(ctx context.Context, table models.Table, batch []models.Mutation) error {
	byBranch := make(map[string][]string)
	var order []string
	for _, m := range batch {
		if _, ok := byBranch[m.BranchID]; !ok {
			order = append(order, m.BranchID)
		}
		byBranch[m.BranchID] = append(byBranch[m.BranchID], m.TargetID)
	}

	for _, branch := range order {
		ids := byBranch[branch]
		err := retry.Do(ctx, p.policy(), func(ctx context.Context) error {
			return permanentUnlessTransient(p.remote.Delete(ctx, table, ids, branch))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) policy() retry.Policy {
	return retry.Policy{Attempts: p.cfg.PushAttempts, Delay: p.cfg.PushBackoff, Timeout: p.cfg.PushTimeout}
}

// permanentUnlessTransient stops in-pass retries for errors another attempt
// right now cannot fix. The mutation still stays queued.
func permanentUnlessTransient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, remote.ErrUnauthorized) || errors.Is(err, remote.ErrRejected) || errors.Is(err, remote.ErrMissingParent) {
		return retry.Permanent(err)
	}
	return err
}

// reachable re-checks connectivity when there is work to send and the
// connectivity source can probe; otherwise it trusts the cached state.
func (p *Processor) reachable(ctx context.Context, queued int) bool {
	if c, ok := p.online.(Checker); ok && queued > 0 {
		return c.Check(ctx)
	}
	return p.online.IsOnline()
}
