package delivery

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSConn is a surface connected over a websocket. Writes are serialized;
// once the peer is gone every Send returns ErrRecipientGone.
type WSConn struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
	done    chan struct{}
}

func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{
		id:   uuid.NewString(),
		conn: conn,
		done: make(chan struct{}),
	}
}

func (c *WSConn) ID() string { return c.id }

// Done is closed once the connection is closed.
func (c *WSConn) Done() <-chan struct{} { return c.done }

func (c *WSConn) Send(ctx context.Context, msg any) error {
	if c.isClosed() {
		return ErrRecipientGone
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(msg); err != nil {
		if isGone(err) {
			c.Close()
			return ErrRecipientGone
		}
		return err
	}
	return nil
}

// ReadJSON reads the next message from the peer. It must only be called
// from one goroutine.
func (c *WSConn) ReadJSON(v any) error {
	return c.conn.ReadJSON(v)
}

// KeepAlive pings the peer until the connection closes and arms the read
// deadline so a silent peer is eventually dropped.
func (c *WSConn) KeepAlive() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				c.writeMu.Lock()
				err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				c.writeMu.Unlock()
				if err != nil {
					c.Close()
					return
				}
			}
		}
	}()
}

func (c *WSConn) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	_ = c.conn.Close()
}

func (c *WSConn) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}

func isGone(err error) bool {
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && !ne.Timeout()
}
