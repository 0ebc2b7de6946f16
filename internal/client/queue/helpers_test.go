package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/client/remote"
	"github.com/dmitrijs2005/loancollect/internal/client/store"
	"github.com/dmitrijs2005/loancollect/internal/client/wire"
	"github.com/dmitrijs2005/loancollect/internal/clock"
	"github.com/dmitrijs2005/loancollect/internal/logging"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	branch = "0b000000-0000-4000-8000-000000000001"
	c1     = "c1000000-0000-4000-8000-000000000001"
	c2     = "c1000000-0000-4000-8000-000000000002"
	l1     = "11000000-0000-4000-8000-000000000001"
	p1     = "21000000-0000-4000-8000-000000000001"
	g1     = "31000000-0000-4000-8000-000000000001"
	g2     = "31000000-0000-4000-8000-000000000002"
	e1     = "41000000-0000-4000-8000-000000000001"
	u1     = "51000000-0000-4000-8000-000000000001"
)

var t1 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type onlineFlag struct{ v atomic.Bool }

func (o *onlineFlag) IsOnline() bool { return o.v.Load() }

type env struct {
	proc   *Processor
	store  *store.Store
	remote *remote.MemoryStore
	online *onlineFlag
	clock  *clock.Fake
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, nil)
}

// newEnvWith builds a processor whose remote is wrap(memory store) when wrap
// is set.
func newEnvWith(t *testing.T, wrap func(remote.Store) remote.Store) *env {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, ":memory:", logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mem := remote.NewMemoryStore()
	var rs remote.Store = mem
	if wrap != nil {
		rs = wrap(mem)
	}

	on := &onlineFlag{}
	on.v.Store(true)
	fc := clock.NewFake(t1)

	p := NewProcessor(st, rs, on, fc, logging.NewNop(), Config{
		BatchSize:   5,
		PushTimeout: time.Second,
		PushBackoff: time.Millisecond,
	})
	return &env{proc: p, store: st, remote: mem, online: on, clock: fc}
}

func (e *env) queue(t *testing.T) []models.Mutation {
	t.Helper()
	st, err := e.store.Load(context.Background())
	require.NoError(t, err)
	return st.Queue
}

func (e *env) targets(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range e.queue(t) {
		out = append(out, m.TargetID)
	}
	return out
}

func meta(id string) models.Meta {
	return models.Meta{ID: id, BranchID: branch, CreatedAt: t1, UpdatedAt: t1}
}

func client(id string) models.Client {
	return models.Client{Meta: meta(id), Name: "client " + id[:4]}
}

func loan(id, clientID string) models.Loan {
	return models.Loan{Meta: meta(id), ClientID: clientID, Principal: decimal.NewFromInt(1000), Status: models.LoanStatusActive, StartDate: t1}
}

func payment(id, loanID string) models.Payment {
	return models.Payment{Meta: meta(id), LoanID: loanID, ClientID: c1, Amount: decimal.NewFromInt(50), PaidAt: t1}
}

func collectionLog(id, loanID string, amount int64) models.CollectionLog {
	return models.CollectionLog{Meta: meta(id), LoanID: loanID, ClientID: c1, Type: models.LogTypePayment, Amount: decimal.NewFromInt(amount), VisitedAt: t1}
}

// flakyAfterWrite applies the call and then reports a timeout, the classic
// false negative on a slow link.
type flakyAfterWrite struct {
	remote.Store
	mu    sync.Mutex
	fails int
}

func (f *flakyAfterWrite) Upsert(ctx context.Context, table models.Table, rows []wire.Row) error {
	if err := f.Store.Upsert(ctx, table, rows); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return remote.ErrUnavailable
	}
	return nil
}

// gate blocks every Upsert until released.
type gate struct {
	remote.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gate) Upsert(ctx context.Context, table models.Table, rows []wire.Row) error {
	g.entered <- struct{}{}
	<-g.release
	return g.Store.Upsert(ctx, table, rows)
}
