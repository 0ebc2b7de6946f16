// Package realtime keeps a subscription to the server's change channel and
// turns change notifications into pull requests.
//
// The subscription moves through three states: disconnected, connecting and
// subscribed. An acknowledged subscription always asks for a full pull since
// events may have been missed while disconnected. A delete on a critical
// table asks for a full pull right away; every other change asks for an
// incremental pull once the channel has been quiet for the debounce window.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/clock"
	"github.com/dmitrijs2005/loancollect/internal/debounce"
	"github.com/dmitrijs2005/loancollect/internal/logging"
	"github.com/dmitrijs2005/loancollect/internal/wsproto"
	"github.com/looplab/fsm"
)

const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateSubscribed   = "subscribed"

	eventSubscribe = "subscribe"
	eventAck       = "ack"
	eventDrop      = "drop"
)

var ErrChannelClosed = errors.New("realtime channel closed")

// Channel is one established connection.
type Channel interface {
	Send(ctx context.Context, m wsproto.Message) error
	Receive(ctx context.Context) (wsproto.Message, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

type DialerFunc func(ctx context.Context) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context) (Channel, error) { return f(ctx) }

// PullFunc requests a pull. It must not block.
type PullFunc func(full bool)

type Options struct {
	BranchID         string
	Tables           []models.Table
	SubscribeTimeout time.Duration
	ReconnectDelay   time.Duration
	DebounceWindow   time.Duration
	HealthInterval   time.Duration
	Clock            clock.Clock
}

func (o *Options) setDefaults() {
	if len(o.Tables) == 0 {
		o.Tables = models.PullOrder
	}
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = 20 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 2 * time.Second
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 2 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
}

type Listener struct {
	dialer Dialer
	pull   PullFunc
	log    logging.Logger
	opts   Options

	mu         sync.Mutex
	machine    *fsm.FSM
	running    bool
	ctx        context.Context
	cancel     context.CancelFunc
	gen        uint64
	conn       Channel
	cancelConn context.CancelFunc
	reconnect  clock.Timer
	debounce   *debounce.Debouncer
	wg         sync.WaitGroup
}

func New(d Dialer, pull PullFunc, log logging.Logger, opts Options) *Listener {
	opts.setDefaults()
	l := &Listener{
		dialer: d,
		pull:   pull,
		log:    log.With("module", "realtime"),
		opts:   opts,
	}
	l.machine = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: eventSubscribe, Src: []string{StateDisconnected}, Dst: StateConnecting},
			{Name: eventAck, Src: []string{StateConnecting}, Dst: StateSubscribed},
			{Name: eventDrop, Src: []string{StateConnecting, StateSubscribed}, Dst: StateDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				l.log.Debug(ctx, "realtime state changed", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
	return l
}

// Start subscribes and starts the health check. It returns immediately.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.debounce = debounce.New(l.opts.Clock, l.opts.DebounceWindow, func() { l.pull(false) })

	ticker := l.opts.Clock.NewTicker(l.opts.HealthInterval)
	l.wg.Add(1)
	go l.healthLoop(l.ctx, ticker)

	l.subscribeLocked()
}

// Stop closes the channel, cancels every timer and waits for the
// listener's goroutines.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.gen++
	l.cancel()
	l.closeConnLocked()
	if l.reconnect != nil {
		l.reconnect.Stop()
		l.reconnect = nil
	}
	l.debounce.Stop()
	l.machine.SetState(StateDisconnected)
	l.mu.Unlock()

	l.wg.Wait()
}

// Subscribe starts a connection attempt unless one is open or in progress.
func (l *Listener) Subscribe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribeLocked()
}

func (l *Listener) State() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.machine.Current()
}

func (l *Listener) subscribeLocked() {
	if !l.running || !l.machine.Can(eventSubscribe) {
		return
	}
	_ = l.machine.Event(context.Background(), eventSubscribe)

	l.gen++
	ctx, cancel := context.WithCancel(l.ctx)
	l.cancelConn = cancel

	l.wg.Add(1)
	go l.run(ctx, l.gen)
}

func (l *Listener) run(ctx context.Context, gen uint64) {
	defer l.wg.Done()

	ch, err := l.handshake(ctx)
	if err != nil {
		l.drop(gen, err)
		return
	}

	l.mu.Lock()
	if gen != l.gen || !l.running {
		l.mu.Unlock()
		_ = ch.Close()
		return
	}
	l.conn = ch
	_ = l.machine.Event(context.Background(), eventAck)
	l.mu.Unlock()

	l.log.Info(ctx, "realtime subscribed", "tables", len(l.opts.Tables))
	l.pull(true)

	for {
		m, err := ch.Receive(ctx)
		if err != nil {
			l.drop(gen, err)
			return
		}
		switch m.Type {
		case wsproto.TypeChange:
			l.handleChange(ctx, m)
		case wsproto.TypeError:
			l.drop(gen, fmt.Errorf("server error: %s", m.Error))
			return
		}
	}
}

// handshake dials and waits for the subscription ack.
func (l *Listener) handshake(ctx context.Context) (Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.SubscribeTimeout)
	defer cancel()

	ch, err := l.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tables := make([]string, 0, len(l.opts.Tables))
	for _, t := range l.opts.Tables {
		tables = append(tables, string(t))
	}
	if err := ch.Send(ctx, wsproto.Subscribe(l.opts.BranchID, tables)); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	for {
		m, err := ch.Receive(ctx)
		if err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("wait for ack: %w", err)
		}
		switch m.Type {
		case wsproto.TypeSubscribed:
			return ch, nil
		case wsproto.TypeError:
			_ = ch.Close()
			return nil, fmt.Errorf("subscribe rejected: %s", m.Error)
		}
	}
}

func (l *Listener) handleChange(ctx context.Context, m wsproto.Message) {
	table, err := models.ParseTable(m.Table)
	if err != nil {
		l.log.Warn(ctx, "ignoring change", "table", m.Table, "error", err)
		return
	}
	if m.Event == wsproto.EventDelete && table.Critical() {
		l.log.Info(ctx, "critical delete, requesting full pull", "table", table)
		l.pull(true)
		return
	}
	l.debounce.Trigger()
}

// drop moves to disconnected and schedules a reconnect. Reports from a
// connection that has already been replaced are ignored.
func (l *Listener) drop(gen uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen || !l.running {
		return
	}
	l.closeConnLocked()
	if l.machine.Can(eventDrop) {
		_ = l.machine.Event(context.Background(), eventDrop)
	}
	l.log.Warn(l.ctx, "realtime channel lost", "error", err, "retry_in", l.opts.ReconnectDelay)
	l.scheduleReconnectLocked()
}

func (l *Listener) scheduleReconnectLocked() {
	if l.reconnect != nil {
		return
	}
	l.reconnect = l.opts.Clock.AfterFunc(l.opts.ReconnectDelay, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.reconnect = nil
		l.subscribeLocked()
	})
}

func (l *Listener) closeConnLocked() {
	if l.cancelConn != nil {
		l.cancelConn()
		l.cancelConn = nil
	}
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
}

func (l *Listener) healthLoop(ctx context.Context, ticker clock.Ticker) {
	defer l.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			l.checkHealth()
		}
	}
}

// checkHealth forces a resubscribe when the channel is not subscribed and
// no reconnect is scheduled. Some network stacks drop the channel without
// reporting an error or close.
func (l *Listener) checkHealth() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running || l.machine.Current() == StateSubscribed || l.reconnect != nil {
		return
	}
	l.log.Warn(l.ctx, "realtime channel unhealthy, resubscribing", "state", l.machine.Current())
	l.gen++
	l.closeConnLocked()
	l.machine.SetState(StateDisconnected)
	l.subscribeLocked()
}
