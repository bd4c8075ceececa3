package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Conn is the transport the session drives. Production connections wrap
// gorilla/websocket; tests substitute in-memory pipes.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a transport connection. Errors are never surfaced to Send
// callers; they only feed the reconnect state machine.
type Dialer func(ctx context.Context) (Conn, error)

// WebSocketDialer returns a Dialer for a relay endpoint. The token rides in
// the query string because browsers cannot set headers on WebSocket upgrades
// and the relay accepts both.
func WebSocketDialer(url, token string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		target := url
		if token != "" {
			target += "?token=" + token
		}
		wsc, resp, err := websocket.DefaultDialer.DialContext(ctx, target, http.Header{})
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return newWSConn(wsc), nil
	}
}

// wsConn keeps the read deadline fresh with a ping loop and serializes
// writes, since gorilla allows at most one concurrent writer.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{ws: ws, done: make(chan struct{})}
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.pingLoop()
	return c
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *wsConn) ReadJSON(v any) error {
	return c.ws.ReadJSON(v)
}

func (c *wsConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *wsConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.ws.Close()
}
