package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/client/wire"
	"github.com/dmitrijs2005/loancollect/internal/rowstore"
)

// Op names a Store call for fault injection and call counting.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
	OpSelect Op = "select"
	OpPing   Op = "ping"
)

// Change is emitted for every row written or deleted.
type Change struct {
	Table  models.Table
	Event  string // insert, update or delete
	Record wire.Row
}

type fault struct {
	op    Op
	table models.Table
	left  int
	err   error
}

// parentColumns lists the rows a child references, for EnforceParents.
var parentColumns = map[models.Table]struct {
	column string
	table  models.Table
}{
	models.TableLoans:          {"client_id", models.TableClients},
	models.TablePayments:       {"loan_id", models.TableLoans},
	models.TableCollectionLogs: {"loan_id", models.TableLoans},
}

// MemoryStore is an in-process Store. It backs tests and the demo mode.
type MemoryStore struct {
	mu       sync.Mutex
	tables   map[models.Table]map[string]wire.Row
	faults   []*fault
	offline  bool
	calls    map[Op]map[models.Table]int
	onChange func(Change)
	now      func() time.Time

	// EnforceParents makes upserts of loans, payments and logs fail with
	// ErrMissingParent when the referenced row is absent.
	EnforceParents bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[models.Table]map[string]wire.Row),
		calls:  make(map[Op]map[models.Table]int),
		now:    time.Now,
	}
}

// SetNow replaces the clock used for tombstone timestamps.
func (m *MemoryStore) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// OnChange registers fn to be called after every write. fn runs without the
// store lock held.
func (m *MemoryStore) OnChange(fn func(Change)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// FailNext makes the next n calls of op on table return err. An empty table
// matches every table.
func (m *MemoryStore) FailNext(op Op, table models.Table, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, &fault{op: op, table: table, left: n, err: err})
}

// SetOffline makes every call fail with ErrUnavailable until turned off.
func (m *MemoryStore) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Calls returns how many times op reached table, failed calls included.
func (m *MemoryStore) Calls(op Op, table models.Table) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op][table]
}

// Rows returns a copy of table ordered by (updated_at, id).
func (m *MemoryStore) Rows(table models.Table) []wire.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(table)
}

// Get returns one row.
func (m *MemoryStore) Get(table models.Table, id string) (wire.Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.tables[table][id]
	if !ok {
		return nil, false
	}
	return copyRow(r), true
}

// Put seeds a row directly, skipping faults and change hooks.
func (m *MemoryStore) Put(table models.Table, row wire.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(table, row)
}

func (m *MemoryStore) Upsert(ctx context.Context, table models.Table, rows []wire.Row) error {
	m.mu.Lock()
	if err := m.enter(ctx, OpUpsert, table); err != nil {
		m.mu.Unlock()
		return err
	}
	if table == models.TableTombstones {
		m.mu.Unlock()
		return fmt.Errorf("%w: tombstones are written by delete", ErrRejected)
	}

	for _, r := range rows {
		id, _ := r["id"].(string)
		if id == "" {
			m.mu.Unlock()
			return fmt.Errorf("%w: row without id", ErrRejected)
		}
		if dep, ok := parentColumns[table]; ok && m.EnforceParents {
			pid, _ := r[dep.column].(string)
			if _, found := m.tables[dep.table][pid]; !found {
				m.mu.Unlock()
				return fmt.Errorf("%w: %s %s", ErrMissingParent, dep.table, pid)
			}
		}
	}

	changes := make([]Change, 0, len(rows))
	for _, r := range rows {
		id := r["id"].(string)
		event := "insert"
		if _, ok := m.tables[table][id]; ok {
			event = "update"
		}
		m.put(table, r)
		changes = append(changes, Change{Table: table, Event: event, Record: copyRow(r)})
	}
	hook := m.onChange
	m.mu.Unlock()

	notify(hook, changes)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, table models.Table, ids []string, branchID string) error {
	m.mu.Lock()
	if err := m.enter(ctx, OpDelete, table); err != nil {
		m.mu.Unlock()
		return err
	}

	now := m.now().UTC()
	var changes []Change
	for _, id := range ids {
		old, ok := m.tables[table][id]
		if ok {
			delete(m.tables[table], id)
			changes = append(changes, Change{Table: table, Event: "delete", Record: copyRow(old)})
		}
		ts := wire.TombstoneToWire(models.Tombstone{
			ID:        rowstore.TombstoneID(string(table), id),
			Table:     table,
			RecordID:  id,
			BranchID:  branchID,
			DeletedAt: now,
		})
		m.put(models.TableTombstones, ts)
		changes = append(changes, Change{Table: models.TableTombstones, Event: "insert", Record: copyRow(ts)})
	}
	hook := m.onChange
	m.mu.Unlock()

	notify(hook, changes)
	return nil
}

func (m *MemoryStore) Select(ctx context.Context, table models.Table, q Query) ([]wire.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpSelect, table); err != nil {
		return nil, err
	}

	var out []wire.Row
	for _, r := range m.sorted(table) {
		if q.BranchID != "" {
			if b, _ := r["branch_id"].(string); b != q.BranchID {
				continue
			}
		}
		if q.Since != nil && !updatedAt(r).After(*q.Since) {
			continue
		}
		out = append(out, r)
	}

	if q.Offset >= len(out) {
		return []wire.Row{}, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enter(ctx, OpPing, "")
}

// enter counts the call and applies faults. Callers hold m.mu.
func (m *MemoryStore) enter(ctx context.Context, op Op, table models.Table) error {
	if m.calls[op] == nil {
		m.calls[op] = make(map[models.Table]int)
	}
	m.calls[op][table]++

	if err := ctx.Err(); err != nil {
		return err
	}
	if m.offline {
		return ErrUnavailable
	}
	for i, f := range m.faults {
		if f.op != op || (f.table != "" && f.table != table) {
			continue
		}
		f.left--
		if f.left <= 0 {
			m.faults = append(m.faults[:i], m.faults[i+1:]...)
		}
		return f.err
	}
	return nil
}

func (m *MemoryStore) put(table models.Table, row wire.Row) {
	if m.tables[table] == nil {
		m.tables[table] = make(map[string]wire.Row)
	}
	id, _ := row["id"].(string)
	m.tables[table][id] = copyRow(row)
}

func (m *MemoryStore) sorted(table models.Table) []wire.Row {
	rows := make([]wire.Row, 0, len(m.tables[table]))
	for _, r := range m.tables[table] {
		rows = append(rows, copyRow(r))
	}
	sort.Slice(rows, func(i, j int) bool {
		ti, tj := updatedAt(rows[i]), updatedAt(rows[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		a, _ := rows[i]["id"].(string)
		b, _ := rows[j]["id"].(string)
		return a < b
	})
	return rows
}

func updatedAt(r wire.Row) time.Time {
	s, _ := r["updated_at"].(string)
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func copyRow(r wire.Row) wire.Row {
	out := make(wire.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func notify(hook func(Change), changes []Change) {
	if hook == nil {
		return
	}
	for _, c := range changes {
		hook(c)
	}
}
