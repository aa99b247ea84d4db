package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"realtime-service/internal/auth"
)

// Client is one live WebSocket connection. All per-connection state that
// other components need is keyed by the client id, not held here.
type Client struct {
	id         string
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	identity   *auth.Identity
	remoteAddr string
	userAgent  string

	ctx    context.Context
	cancel context.CancelFunc
	closed int32

	// Unix timestamp of the last frame or pong seen from the peer.
	lastActivity int64

	wg sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, identity *auth.Identity, remoteAddr, userAgent string) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		id:         uuid.New().String(),
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.opts.SendBuffer),
		identity:   identity,
		remoteAddr: remoteAddr,
		userAgent:  userAgent,
		ctx:        ctx,
		cancel:     cancel,
	}
	c.touch()
	return c
}

func (c *Client) ID() string { return c.id }

func (c *Client) Identity() *auth.Identity { return c.identity }

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// close marks the client closed and cancels the pump context. The send
// channel is never closed so late enqueues stay safe.
func (c *Client) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.cancel()
	}
}

func (c *Client) touch() {
	atomic.StoreInt64(&c.lastActivity, time.Now().Unix())
}

// LastActivity reports when the peer was last heard from.
func (c *Client) LastActivity() time.Time {
	return time.Unix(atomic.LoadInt64(&c.lastActivity), 0)
}

// enqueue queues an already-marshalled frame for delivery. A full buffer
// drops the frame rather than blocking the caller.
func (c *Client) enqueue(data []byte) bool {
	if c.isClosed() {
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.ctx.Done():
		return false
	default:
		c.hub.metrics.SendDropped()
		c.hub.logger.Warn("send buffer full, dropping frame", "clientID", c.id)
		return false
	}
}

func (c *Client) readPump() {
	c.wg.Add(1)
	defer func() {
		c.wg.Done()
		c.close()
		c.hub.Remove(c.id)
		if err := c.conn.Close(); err != nil {
			c.hub.logger.Debug("error closing connection", "clientID", c.id, "error", err)
		}
	}()

	// The peer has pongWait to answer each ping, so a dead connection is
	// detected within interval + timeout.
	pongWait := c.hub.opts.HeartbeatInterval + c.hub.opts.HeartbeatTimeout

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if c.isClosed() {
			return websocket.ErrCloseSent
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "clientID", c.id, "error", err)
			} else {
				c.hub.logger.Debug("websocket connection closed", "clientID", c.id, "error", err)
			}
			return
		}

		// Only pongs extend the read deadline. A peer that streams
		// frames but never answers pings is a half-open socket and
		// still times out.
		c.hub.HandleMessage(c, messageBytes)
	}
}

func (c *Client) writePump() {
	c.wg.Add(1)
	ticker := time.NewTicker(c.hub.opts.HeartbeatInterval)
	defer func() {
		c.wg.Done()
		ticker.Stop()
	}()

	for {
		select {
		case message := <-c.send:
			if c.isClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("error writing message", "clientID", c.id, "error", err)
				c.close()
				return
			}
			c.hub.metrics.MessageSent()

		case <-ticker.C:
			if c.isClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("error sending ping", "clientID", c.id, "error", err)
				c.close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// waitForGoroutines blocks until both pumps exit or the timeout elapses.
func (c *Client) waitForGoroutines(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		c.hub.logger.Warn("timeout waiting for client goroutines", "clientID", c.id)
	}
}
