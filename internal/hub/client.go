package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/weheal/lifeline/internal/protocol"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameBytes = 512 * 1024 // image messages ride inline
	sendQueueSize = 64
)

// Client is one WebSocket connection as the hub sees it. claimUserID and
// claimRole come from the JWT at upgrade time; userID/role/authed are set by
// the authenticate frame.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan protocol.Frame

	claimUserID string
	claimRole   string

	userID string
	role   string
	authed bool
}

// NewClient registers the connection and starts its pumps.
func NewClient(h *Hub, conn *websocket.Conn, claimUserID, claimRole string) *Client {
	c := &Client{
		hub:         h,
		conn:        conn,
		send:        make(chan protocol.Frame, sendQueueSize),
		claimUserID: claimUserID,
		claimRole:   claimRole,
	}
	h.register <- c
	go c.writePump()
	go c.readPump()
	return c
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame protocol.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("user", c.claimUserID).Msg("client read error")
			}
			return
		}
		c.hub.inbound <- inbound{client: c, frame: frame}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
