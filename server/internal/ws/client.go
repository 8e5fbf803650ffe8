package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout bounds a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long a client may stay silent before it is considered
	// gone. pingPeriod must stay below it.
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// sendBufSize is the per-client outgoing message queue depth.
	sendBufSize = 16

	// maxClientMessage caps frames read from clients; they only send control
	// frames.
	maxClientMessage = 512
)

// client is one WebSocket connection. The hub writes to send; writePump
// drains it.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan []byte, sendBufSize)}
}

// writePump forwards queued messages and keeps the connection alive with
// pings. It exits when send is closed or a write fails.
func (c *client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames so pongs extend the read deadline, and
// returns once the peer goes away.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxClientMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
