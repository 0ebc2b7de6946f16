package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/remote"
	"github.com/dmitrijs2005/loancollect/internal/common"
	"github.com/dmitrijs2005/loancollect/internal/wsproto"
	"github.com/gorilla/websocket"
)

// WSDialer connects to the server's websocket endpoint.
type WSDialer struct {
	URL         string
	AccessToken string
	Dialer      *websocket.Dialer
}

func (d *WSDialer) Dial(ctx context.Context) (Channel, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	if d.AccessToken != "" {
		header.Set(common.AccessTokenHeaderName, d.AccessToken)
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("dial %s: %w", d.URL, remote.ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *wsChannel) Send(ctx context.Context, m wsproto.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(m)
}

func (c *wsChannel) Receive(ctx context.Context) (wsproto.Message, error) {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return wsproto.Message{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, b, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return wsproto.Message{}, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return wsproto.Message{}, ErrChannelClosed
		}
		return wsproto.Message{}, err
	}
	return wsproto.Decode(b)
}

func (c *wsChannel) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}
