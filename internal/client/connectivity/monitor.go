// Package connectivity tracks whether the remote store is reachable.
//
// The platform network status is trusted as soon as it arrives. Because a
// radio can drop traffic while the platform still reports "connected", the
// monitor also probes the backend every interval and whenever the app comes
// back to the foreground.
package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/clock"
	"github.com/dmitrijs2005/loancollect/internal/logging"
)

// Prober checks that the backend answers.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// TCPProber dials Addr.
type TCPProber struct {
	Addr string
}

func (p TCPProber) Probe(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

type Options struct {
	// Interval between re-validations. Defaults to 30s.
	Interval time.Duration
	// ProbeTimeout bounds one probe. Defaults to 3s.
	ProbeTimeout time.Duration
	// Platform delivers OS-level connected/disconnected events. Optional.
	Platform <-chan bool
	Clock    clock.Clock
}

type Monitor struct {
	prober       Prober
	interval     time.Duration
	probeTimeout time.Duration
	platform     <-chan bool
	clock        clock.Clock
	log          logging.Logger

	mu         sync.Mutex
	online     bool
	platformUp bool
	subs       map[int]chan bool
	nextSub    int

	foreground chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}
}

func New(prober Prober, log logging.Logger, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Monitor{
		prober:       prober,
		interval:     opts.Interval,
		probeTimeout: opts.ProbeTimeout,
		platform:     opts.Platform,
		clock:        opts.Clock,
		log:          log.With("module", "connectivity"),
		platformUp:   true,
		subs:         make(map[int]chan bool),
		foreground:   make(chan struct{}, 1),
	}
}

// Start probes once and then watches in the background until Stop or ctx
// cancellation.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	ticker := m.clock.NewTicker(m.interval)
	m.Check(ctx)
	go m.run(ctx, ticker)
}

func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}

func (m *Monitor) run(ctx context.Context, ticker clock.Ticker) {
	defer close(m.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-m.platform:
			if !ok {
				m.platform = nil
				continue
			}
			m.SetPlatformStatus(up)
		case <-ticker.C():
			m.Check(ctx)
		case <-m.foreground:
			m.Check(ctx)
		}
	}
}

// IsOnline is a best-effort answer, not a guarantee.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns a channel receiving every change of the online flag. The
// channel keeps only the latest value for slow readers.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// NotifyForeground asks for an immediate re-validation.
func (m *Monitor) NotifyForeground() {
	select {
	case m.foreground <- struct{}{}:
	default:
	}
}

// SetPlatformStatus applies an OS-level event without probing.
func (m *Monitor) SetPlatformStatus(up bool) {
	m.mu.Lock()
	m.platformUp = up
	m.mu.Unlock()

	m.set(context.Background(), up, "platform")
}

// Check re-validates now and returns the resulting state. A platform that
// reports disconnected is believed without probing.
func (m *Monitor) Check(ctx context.Context) bool {
	m.mu.Lock()
	up := m.platformUp
	m.mu.Unlock()

	if !up {
		m.set(ctx, false, "platform")
		return false
	}

	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.prober.Probe(pctx)
	cancel()

	if err != nil {
		m.log.Debug(ctx, "probe failed", "error", err)
	}
	m.set(ctx, err == nil, "probe")
	return err == nil
}

func (m *Monitor) set(ctx context.Context, online bool, source string) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	var subs []chan bool
	if changed {
		for _, ch := range m.subs {
			subs = append(subs, ch)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	m.log.Info(ctx, "connectivity changed", "online", online, "source", source)
	for _, ch := range subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- online:
		default:
		}
	}
}
