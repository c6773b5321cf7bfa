// Package signal runs one chat socket per member: it decodes client
// frames, forwards room traffic and keeps the member in the room for the
// lifetime of the connection.
package signal

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one message-oriented client transport. ReadMessage returns
// io.EOF when the peer closed normally.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSConn is a Conn over a gorilla websocket.
type WSConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Upgrade switches an HTTP request to a websocket.
func Upgrade(w http.ResponseWriter, r *http.Request, readLimit int64, writeTimeout time.Duration) (*WSConn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWSConn(ws, readLimit, writeTimeout), nil
}

func NewWSConn(ws *websocket.Conn, readLimit int64, writeTimeout time.Duration) *WSConn {
	if readLimit > 0 {
		ws.SetReadLimit(readLimit)
	}
	return &WSConn{conn: ws, writeTimeout: writeTimeout}
}

// ReadMessage blocks until a frame arrives. Cancel by closing the conn.
func (c *WSConn) ReadMessage(_ context.Context) ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil, io.EOF
			}
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *WSConn) WriteMessage(ctx context.Context, data []byte) error {
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
