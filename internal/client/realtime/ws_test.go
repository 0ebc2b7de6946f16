package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/remote"
	"github.com/dmitrijs2005/loancollect/internal/common"
	"github.com/dmitrijs2005/loancollect/internal/wsproto"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWSServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(common.AccessTokenHeaderName) != token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub wsproto.Message
		if err := conn.ReadJSON(&sub); err != nil || sub.Type != wsproto.TypeSubscribe {
			return
		}
		_ = conn.WriteJSON(wsproto.Subscribed(sub.Tables))
		_ = conn.WriteJSON(wsproto.Change("loans", wsproto.EventDelete, nil, map[string]any{"id": "l1"}))
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSDialer_RoundTrip(t *testing.T) {
	srv := newWSServer(t, "secret")
	d := &WSDialer{URL: wsURL(srv), AccessToken: "secret"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := d.Dial(ctx)
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Send(ctx, wsproto.Subscribe("b1", []string{"loans"})))

	m, err := ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, wsproto.TypeSubscribed, m.Type)
	assert.Equal(t, []string{"loans"}, m.Tables)

	m, err = ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, wsproto.EventDelete, m.Event)
	assert.Equal(t, "l1", m.OldRecord["id"])
}

func TestWSDialer_Unauthorized(t *testing.T) {
	srv := newWSServer(t, "secret")
	d := &WSDialer{URL: wsURL(srv), AccessToken: "wrong"}

	_, err := d.Dial(context.Background())
	require.ErrorIs(t, err, remote.ErrUnauthorized)
}

func TestWSChannel_ReceiveHonoursContext(t *testing.T) {
	srv := newWSServer(t, "")
	d := &WSDialer{URL: wsURL(srv)}

	ch, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = ch.Receive(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestListener_OverWebsocket(t *testing.T) {
	srv := newWSServer(t, "secret")
	pulls := make(chan bool, 4)
	l := New(&WSDialer{URL: wsURL(srv), AccessToken: "secret"}, func(full bool) { pulls <- full }, nopLogger(), Options{BranchID: "b1"})
	l.Start(context.Background())
	defer l.Stop()

	for i := 0; i < 2; i++ {
		select {
		case full := <-pulls:
			assert.True(t, full)
		case <-time.After(5 * time.Second):
			t.Fatal("expected a full pull")
		}
	}
}
