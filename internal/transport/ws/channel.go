// Package ws carries job envelopes to clients over websocket connections.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"TopicPulse/internal/domain"
	"TopicPulse/internal/stream"
)

// Channel adapts a websocket connection to stream.Channel. Writes are
// serialized; Close may run concurrently and unblocks a pending write.
type Channel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ stream.Channel = (*Channel)(nil)

// NewChannel wraps conn.
func NewChannel(conn *websocket.Conn, writeTimeout time.Duration) *Channel {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Channel{conn: conn, writeTimeout: writeTimeout}
}

// Send writes env as one JSON text frame.
func (c *Channel) Send(ctx context.Context, env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(env)
}

// Close sends a close frame and releases the connection.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
