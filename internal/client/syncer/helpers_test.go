package syncer

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/client/puller"
	"github.com/dmitrijs2005/loancollect/internal/client/queue"
	"github.com/dmitrijs2005/loancollect/internal/client/realtime"
	"github.com/dmitrijs2005/loancollect/internal/client/remote"
	"github.com/dmitrijs2005/loancollect/internal/client/store"
	"github.com/dmitrijs2005/loancollect/internal/clock"
	"github.com/dmitrijs2005/loancollect/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	branch = "0b000000-0000-4000-8000-000000000001"
	c1     = "c1000000-0000-4000-8000-000000000001"
	c9     = "c1000000-0000-4000-8000-000000000009"
	l1     = "11000000-0000-4000-8000-000000000001"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

const waitFor = 3 * time.Second

type fakeNet struct {
	mu         sync.Mutex
	online     bool
	subs       []chan bool
	foreground int
}

func (n *fakeNet) IsOnline() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *fakeNet) Subscribe() (<-chan bool, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan bool, 1)
	n.subs = append(n.subs, ch)
	return ch, func() {}
}

func (n *fakeNet) NotifyForeground() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.foreground++
}

func (n *fakeNet) set(up bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.online = up
	for _, ch := range n.subs {
		select {
		case ch <- up:
		default:
		}
	}
}

type setup struct {
	offline     bool
	wrap        func(remote.Store) remote.Store
	dialer      realtime.Dialer
	pushTimeout time.Duration
}

type published struct {
	snap models.Snapshot
	full bool
}

type env struct {
	s       *Syncer
	store   *store.Store
	db      *sql.DB
	remote  *remote.MemoryStore
	net     *fakeNet
	clock   *clock.Fake
	metrics *Metrics
	data    chan published
}

func newEnv(t *testing.T, su setup) *env {
	t.Helper()
	ctx := context.Background()
	log := logging.NewNop()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	st, err := store.New(ctx, db, log)
	require.NoError(t, err)

	fc := clock.NewFake(t0)
	mem := remote.NewMemoryStore()
	mem.SetNow(fc.Now)
	var rs remote.Store = mem
	if su.wrap != nil {
		rs = su.wrap(mem)
	}

	net := &fakeNet{online: !su.offline}
	if su.pushTimeout == 0 {
		su.pushTimeout = time.Second
	}
	proc := queue.NewProcessor(st, rs, net, fc, log, queue.Config{
		PushTimeout: su.pushTimeout,
		PushBackoff: time.Millisecond,
	})
	pl := puller.New(st, rs, fc, log, puller.Config{
		BranchID:    branch,
		PageBackoff: time.Millisecond,
		PageTimeout: time.Second,
		YieldDelay:  puller.NoYield,
	})

	e := &env{
		store:   st,
		db:      db,
		remote:  mem,
		net:     net,
		clock:   fc,
		metrics: NewMetrics(prometheus.NewRegistry()),
		data:    make(chan published, 64),
	}
	e.s = New(Deps{
		Store:   st,
		Queue:   proc,
		Puller:  pl,
		Net:     net,
		Dialer:  su.dialer,
		Clock:   fc,
		Metrics: e.metrics,
		OnDataUpdated: func(snap models.Snapshot, full bool) {
			select {
			case e.data <- published{snap: snap, full: full}:
			default:
			}
		},
	}, log, Config{BranchID: branch})

	t.Cleanup(func() {
		e.s.Stop()
		_ = st.Close()
	})
	return e
}

func (e *env) start(t *testing.T) {
	t.Helper()
	e.s.Start(context.Background())
}

func (e *env) cycles() uint64 {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	return e.s.cycles
}

func (e *env) waitCycles(t *testing.T, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return e.cycles() >= n }, waitFor, time.Millisecond)
}

// eventuallyAdvancing polls cond, moving the fake clock by step between
// polls so delayed timers get their turn.
func (e *env) eventuallyAdvancing(t *testing.T, step time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		e.clock.Advance(step)
		return false
	}, waitFor, 20*time.Millisecond)
}

// nextFull waits for a published snapshot from a full pull.
func (e *env) nextFull(t *testing.T) models.Snapshot {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case p := <-e.data:
			if p.full {
				return p.snap
			}
		case <-deadline:
			t.Fatal("no full snapshot published")
		}
	}
}

func (e *env) hasRemote(table models.Table, id string) func() bool {
	return func() bool {
		_, ok := e.remote.Get(table, id)
		return ok
	}
}

func client(id string) models.Client {
	return models.Client{Meta: models.Meta{ID: id, BranchID: branch}, Name: "client " + id[:4]}
}
