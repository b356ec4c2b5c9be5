package api

import (
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// wsConn adapts a gorilla connection to the hub's transport handle. The hub
// guarantees a single writer, so no extra locking is needed here.
type wsConn struct {
	socket *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{socket: conn}
}

func (c *wsConn) Write(data []byte) error {
	c.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.socket.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.socket.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.socket.Close()
}
