// Package realtime pushes committed row changes to subscribed collectors
// over websockets.
//
// A collector connects to /realtime with its access token, sends one
// subscribe message naming its branch and tables, and then receives a
// change message for every matching write. A subscriber that cannot keep up
// is disconnected; it reconnects and resyncs with a full pull.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/common"
	"github.com/dmitrijs2005/loancollect/internal/logging"
	"github.com/dmitrijs2005/loancollect/internal/server/auth"
	"github.com/dmitrijs2005/loancollect/internal/server/models"
	"github.com/dmitrijs2005/loancollect/internal/wsproto"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Authenticator resolves an access token into claims.
type Authenticator func(token string) (*auth.Claims, error)

type Options struct {
	BufferSize       int
	SubscribeTimeout time.Duration
	WriteTimeout     time.Duration
}

func (o *Options) setDefaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = 256
	}
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
}

type Hub struct {
	authenticate Authenticator
	log          logging.Logger
	opts         Options
	upgrader     websocket.Upgrader

	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	connected prometheus.Gauge
	evicted   prometheus.Counter
}

type subscriber struct {
	conn     *websocket.Conn
	branchID string
	tables   []string
	send     chan wsproto.Message
	done     chan struct{}
	once     sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *subscriber) wants(c models.Change) bool {
	return c.BranchID() == s.branchID && slices.Contains(s.tables, c.Table)
}

func NewHub(authn Authenticator, log logging.Logger, reg prometheus.Registerer, opts Options) *Hub {
	opts.setDefaults()
	f := promauto.With(reg)
	return &Hub{
		authenticate: authn,
		log:          log.With("module", "realtime_hub"),
		opts:         opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "loancollect",
			Subsystem: "realtime",
			Name:      "subscribers",
			Help:      "Connected realtime subscribers.",
		}),
		evicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "loancollect",
			Subsystem: "realtime",
			Name:      "evicted_total",
			Help:      "Subscribers disconnected for falling behind.",
		}),
	}
}

// Publish forwards c to every matching subscriber without blocking.
func (h *Hub) Publish(c models.Change) {
	msg := wsproto.Change(c.Table, wsproto.Event(c.Event), c.Record, c.Old)

	h.mu.RLock()
	var slow []*subscriber
	for s := range h.subs {
		if !s.wants(c) {
			continue
		}
		select {
		case s.send <- msg:
		case <-s.done:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.log.Warn(context.Background(), "evicting slow subscriber", "branch_id", s.branchID)
		h.evicted.Inc()
		h.remove(s)
	}
}

// Count returns the number of subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.Header.Get(common.AccessTokenHeaderName)
	if token == "" {
		token = r.URL.Query().Get(common.AccessTokenHeaderName)
	}
	claims, err := h.authenticate(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(ctx, "websocket upgrade failed", "error", err)
		return
	}

	s, err := h.handshake(conn, claims)
	if err != nil {
		h.log.Info(ctx, "subscribe rejected", "error", err)
		h.write(conn, wsproto.Error(err.Error()))
		_ = conn.Close()
		return
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	h.connected.Inc()
	h.log.Info(ctx, "subscribed", "branch_id", s.branchID, "tables", s.tables)

	go h.writeLoop(s)
	h.readLoop(s)
	h.remove(s)
}

func (h *Hub) handshake(conn *websocket.Conn, claims *auth.Claims) (*subscriber, error) {
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.SubscribeTimeout))
	_, b, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	msg, err := wsproto.Decode(b)
	if err != nil {
		return nil, err
	}
	if msg.Type != wsproto.TypeSubscribe || msg.BranchID == "" {
		return nil, common.ErrInvalidRecord
	}
	if !claims.Allows(msg.BranchID) {
		return nil, common.ErrBranchScope
	}

	tables := msg.Tables
	if len(tables) == 0 {
		tables = models.Tables
	}
	for _, t := range tables {
		if err := models.CheckTable(t); err != nil {
			return nil, err
		}
	}

	if err := h.write(conn, wsproto.Subscribed(tables)); err != nil {
		return nil, err
	}
	return &subscriber{
		conn:     conn,
		branchID: msg.BranchID,
		tables:   tables,
		send:     make(chan wsproto.Message, h.opts.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// readLoop drains control frames until the peer goes away.
func (h *Hub) readLoop(s *subscriber) {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(s *subscriber) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			if err := h.write(s.conn, msg); err != nil {
				h.remove(s)
				return
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, msg wsproto.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()

	if ok {
		h.connected.Dec()
	}
	s.close()
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		h.remove(s)
	}
}
