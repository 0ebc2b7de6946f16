// Package syncer composes the queue processor, the puller, the connectivity
// monitor and the realtime listener into one lifecycle.
//
// All work runs on a single worker goroutine. Triggers (timers, network
// changes, realtime events, entry points) only record what they want done;
// requests that arrive while a cycle runs are merged and served by the next
// cycle.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/client/puller"
	"github.com/dmitrijs2005/loancollect/internal/client/queue"
	"github.com/dmitrijs2005/loancollect/internal/client/realtime"
	"github.com/dmitrijs2005/loancollect/internal/client/store"
	"github.com/dmitrijs2005/loancollect/internal/clock"
	"github.com/dmitrijs2005/loancollect/internal/logging"
)

const (
	msgCorrupted = "Local data was damaged and has been reset; reloading from the server"
	msgStuck     = "Sync was stuck for more than %s; %d queued changes were cleared, run a full sync to resend them"
)

// Connectivity is the part of the connectivity monitor the syncer uses.
type Connectivity interface {
	IsOnline() bool
	Subscribe() (<-chan bool, func())
	NotifyForeground()
}

// DataUpdatedFunc receives every snapshot the syncer publishes. isFull is
// set after a full pull.
type DataUpdatedFunc func(snap models.Snapshot, isFull bool)

type Config struct {
	BranchID         string
	BusyInterval     time.Duration
	IdleInterval     time.Duration
	StuckTimeout     time.Duration
	WatchdogInterval time.Duration
	RetryDelay       time.Duration
	Realtime         realtime.Options
}

func (c *Config) setDefaults() {
	if c.BusyInterval <= 0 {
		c.BusyInterval = 15 * time.Second
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = 5 * time.Minute
	}
	if c.StuckTimeout <= 0 {
		c.StuckTimeout = 2 * time.Minute
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 15 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
}

type Deps struct {
	Store  *store.Store
	Queue  *queue.Processor
	Puller *puller.Puller
	Net    Connectivity
	// Dialer enables the realtime listener when set.
	Dialer        realtime.Dialer
	Clock         clock.Clock
	Metrics       *Metrics
	OnDataUpdated DataUpdatedFunc
}

// Status is what the presentation layer shows.
type Status struct {
	IsSyncing     bool
	IsFullSyncing bool
	SyncError     string
	QueueLength   int
	IsOnline      bool
	LastSyncAt    *time.Time
	Message       string
}

// request describes the work a cycle should do. Requests merge by OR.
type request struct {
	process bool
	force   bool
	pull    bool
	full    bool
}

func (r *request) merge(o request) {
	r.process = r.process || o.process
	r.force = r.force || o.force
	r.pull = r.pull || o.pull
	r.full = r.full || o.full
}

type Syncer struct {
	store    *store.Store
	queue    *queue.Processor
	puller   *puller.Puller
	net      Connectivity
	listener *realtime.Listener
	clock    clock.Clock
	metrics  *Metrics
	onData   DataUpdatedFunc
	log      logging.Logger
	cfg      Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wake    chan struct{}
	pending request
	timer   clock.Timer
	retry   clock.Timer
	wg      sync.WaitGroup

	status       Status
	fatal        bool
	queueLen     int
	cycleGen     uint64
	cycles       uint64
	cycleStarted time.Time
	cycleCancel  context.CancelFunc
}

func New(d Deps, log logging.Logger, cfg Config) *Syncer {
	cfg.setDefaults()
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	if d.OnDataUpdated == nil {
		d.OnDataUpdated = func(models.Snapshot, bool) {}
	}

	s := &Syncer{
		store:   d.Store,
		queue:   d.Queue,
		puller:  d.Puller,
		net:     d.Net,
		clock:   d.Clock,
		metrics: d.Metrics,
		onData:  d.OnDataUpdated,
		log:     log.With("module", "syncer"),
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
	}
	if d.Dialer != nil {
		opts := cfg.Realtime
		if opts.BranchID == "" {
			opts.BranchID = cfg.BranchID
		}
		if opts.Clock == nil {
			opts.Clock = d.Clock
		}
		s.listener = realtime.New(d.Dialer, s.requestPull, log, opts)
	}
	return s
}

// Start launches the worker, the watchdog, the network watcher and the
// realtime listener, and queues an initial sync. It returns immediately.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	netCh, unsubscribe := s.net.Subscribe()
	ticker := s.clock.NewTicker(s.cfg.WatchdogInterval)

	s.wg.Add(3)
	go s.worker(ctx)
	go s.watchNetwork(ctx, netCh, unsubscribe)
	go s.watchdog(ctx, ticker)

	s.requestLocked(request{process: true, pull: true})
	s.mu.Unlock()

	s.refresh(ctx)
	if s.listener != nil {
		s.listener.Start(ctx)
	}
	s.log.Info(ctx, "syncer started")
}

// Stop cancels in-flight work and waits for every goroutine the syncer
// started.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Stop()
	}
	s.wg.Wait()
}

func (s *Syncer) Status() Status {
	online := s.net.IsOnline()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.IsOnline = online
	st.QueueLength = s.queueLen
	return st
}

// RealtimeState reports the realtime listener state, or "" when realtime
// is disabled.
func (s *Syncer) RealtimeState() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.State()
}

// ForceSync processes the queue even if the monitor reports offline, then
// pulls.
func (s *Syncer) ForceSync() {
	s.request(request{process: true, force: true, pull: true})
}

// ForceFullSync requeues creates the queue lost track of and schedules a
// forced pass followed by a full pull.
func (s *Syncer) ForceFullSync(ctx context.Context) error {
	if _, err := s.queue.RequeueOrphans(ctx); err != nil {
		if s.recoverIfCorrupted(ctx, err) {
			return nil
		}
		return fmt.Errorf("force full sync: %w", err)
	}
	s.refresh(ctx)
	s.request(request{process: true, force: true, pull: true, full: true})
	return nil
}

// ClearQueue drops every queued mutation and returns how many there were.
func (s *Syncer) ClearQueue(ctx context.Context) (int, error) {
	n, err := s.queue.Clear(ctx)
	if err != nil {
		return 0, err
	}
	s.refresh(ctx)
	s.setMessage("")
	return n, nil
}

// RepairLocalCache discards the local snapshot and reloads everything from
// the server. It also acknowledges a pending local corruption error.
func (s *Syncer) RepairLocalCache(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return fmt.Errorf("repair local cache: %w", err)
	}
	s.mu.Lock()
	s.fatal = false
	s.status.SyncError = ""
	s.mu.Unlock()

	s.refresh(ctx)
	s.request(request{process: true, force: true, pull: true, full: true})
	return nil
}

// NotifyForeground re-validates connectivity and syncs right away.
func (s *Syncer) NotifyForeground() {
	s.net.NotifyForeground()
	s.request(request{process: true, force: true, pull: true})
}

func (s *Syncer) requestPull(full bool) {
	s.request(request{pull: true, full: full})
}

func (s *Syncer) request(r request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestLocked(r)
}

func (s *Syncer) requestLocked(r request) {
	if !s.running {
		return
	}
	s.pending.merge(r)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Syncer) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}

		s.mu.Lock()
		req := s.pending
		s.pending = request{}
		s.mu.Unlock()

		if req != (request{}) {
			s.cycle(ctx, req)
		}
	}
}

func (s *Syncer) watchNetwork(ctx context.Context, ch <-chan bool, unsubscribe func()) {
	defer s.wg.Done()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-ch:
			if up {
				s.log.Info(ctx, "network regained, syncing")
				s.request(request{process: true, force: true, pull: true})
			}
		}
	}
}

// cycle runs one round of work: an optional queue pass, then an optional
// pull, then reschedules the adaptive timer.
func (s *Syncer) cycle(ctx context.Context, req request) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cycleGen++
	gen := s.cycleGen
	s.cycleStarted = s.clock.Now()
	s.cycleCancel = cancel
	s.status.IsSyncing = true
	s.status.IsFullSyncing = req.full
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cycles++
		if s.cycleGen == gen {
			s.status.IsSyncing = false
			s.status.IsFullSyncing = false
			s.cycleCancel = nil
		}
		s.mu.Unlock()
	}()

	pull := req.pull
	if req.process {
		res, err := s.queue.Process(ctx, queue.Options{Force: req.force, FullSync: req.full})
		switch {
		case err != nil:
			if s.recoverIfCorrupted(ctx, err) {
				pull, req.full, req.force = true, true, true
				break
			}
			s.log.Error(ctx, "queue pass failed", "error", err)
		case res.Skipped:
		default:
			s.metrics.observeProcess(res)
			s.setMessage(res.Message)
			pull = pull || res.NeedsPull()
			// Children deferred behind parents confirmed in this pass can go
			// now.
			if res.RetrySoon() {
				s.scheduleRetry(req.force)
			}
		}
	}

	if pull && (req.force || s.net.IsOnline()) && ctx.Err() == nil {
		s.pull(ctx, req.full)
	}

	if s.abandoned(gen) {
		return
	}
	s.refresh(ctx)
	s.reschedule()
}

// abandoned reports whether the watchdog gave up on cycle gen.
func (s *Syncer) abandoned(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycleGen != gen
}

func (s *Syncer) pull(ctx context.Context, full bool) {
	started := s.clock.Now()
	res, err := s.puller.Pull(ctx, full)
	if err != nil {
		if s.recoverIfCorrupted(ctx, err) {
			s.request(request{pull: true, full: true, force: true})
			return
		}
		s.metrics.PullFailures.Inc()
		s.log.Warn(ctx, "pull failed", "full", full, "error", err)
		s.mu.Lock()
		if !s.fatal {
			s.status.SyncError = err.Error()
		}
		s.mu.Unlock()
		return
	}
	s.metrics.observePull(res.Full, s.clock.Now().Sub(started))

	s.mu.Lock()
	if !s.fatal || res.Full {
		s.fatal = false
		s.status.SyncError = ""
	}
	s.mu.Unlock()

	s.onData(res.Snapshot, res.Full)
}

// recoverIfCorrupted resets the store when err reports undecodable local
// data. The error stays visible until a full pull succeeds or the user
// repairs the cache.
func (s *Syncer) recoverIfCorrupted(ctx context.Context, err error) bool {
	if !errors.Is(err, store.ErrCorrupted) {
		return false
	}
	s.log.Error(ctx, "local store corrupted, resetting", "error", err)
	if rerr := s.store.Reset(ctx); rerr != nil {
		s.log.Error(ctx, "reset failed", "error", rerr)
	}
	s.mu.Lock()
	s.fatal = true
	s.status.SyncError = msgCorrupted
	s.mu.Unlock()
	return true
}

func (s *Syncer) watchdog(ctx context.Context, ticker clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.checkStuck(ctx)
		}
	}
}

// checkStuck abandons a cycle running longer than StuckTimeout and clears
// the queue. The records stay in the snapshot and the pending-create ledger,
// so a full sync requeues them.
func (s *Syncer) checkStuck(ctx context.Context) {
	s.mu.Lock()
	if !s.status.IsSyncing || s.clock.Now().Sub(s.cycleStarted) < s.cfg.StuckTimeout {
		s.mu.Unlock()
		return
	}
	cancel := s.cycleCancel
	s.cycleGen++
	s.cycleCancel = nil
	s.status.IsSyncing = false
	s.status.IsFullSyncing = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.metrics.WatchdogResets.Inc()

	n, err := s.queue.Clear(ctx)
	if err != nil {
		s.log.Error(ctx, "watchdog could not clear queue", "error", err)
		return
	}
	s.log.Warn(ctx, "sync stuck, queue cleared", "timeout", s.cfg.StuckTimeout, "dropped", n)

	s.mu.Lock()
	s.status.SyncError = fmt.Sprintf(msgStuck, s.cfg.StuckTimeout, n)
	s.mu.Unlock()
	s.refresh(ctx)
	s.reschedule()
}

func (s *Syncer) reschedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	d := s.cfg.IdleInterval
	if s.queueLen > 0 {
		d = s.cfg.BusyInterval
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.AfterFunc(d, func() {
		s.request(request{process: true, pull: true})
	})
}

// scheduleRetry queues another pass after RetryDelay. At most one retry
// timer is outstanding.
func (s *Syncer) scheduleRetry(force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if s.retry != nil {
		s.retry.Stop()
	}
	s.retry = s.clock.AfterFunc(s.cfg.RetryDelay, func() {
		s.request(request{process: true, force: force})
	})
}

// refresh reloads the cached queue length and checkpoint.
func (s *Syncer) refresh(ctx context.Context) {
	st, err := s.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Warn(ctx, "could not read local state", "error", err)
		}
		return
	}
	s.mu.Lock()
	s.queueLen = len(st.Queue)
	s.status.LastSyncAt = st.LastSync
	s.mu.Unlock()
	s.metrics.QueueLength.Set(float64(len(st.Queue)))
}

func (s *Syncer) setMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Message = msg
}
