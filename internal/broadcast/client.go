// Package broadcast maintains the registry of live TCP sessions and fans
// server events out to them. A session joins the registry on accept, is
// bound to a username after successful authentication, and is evicted on
// disconnect or on the first failed write.
package broadcast

import (
	"net"
	"sync"

	"github.com/tbourn/go-chat-server/internal/protocol"
)

// Client is one live TCP session. Writes are serialized with a per-client
// mutex so concurrent fan-outs never interleave frames on the wire.
type Client struct {
	// ID is the registry-unique session id, assigned on accept.
	ID int64

	conn net.Conn

	writeMu sync.Mutex

	nameMu   sync.RWMutex
	username string
}

// NewClient wraps an accepted connection. The session is anonymous until the
// registry binds a username to it.
func NewClient(id int64, conn net.Conn) *Client {
	return &Client{ID: id, conn: conn}
}

// Username returns the bound username, or "" while unauthenticated.
func (c *Client) Username() string {
	c.nameMu.RLock()
	defer c.nameMu.RUnlock()
	return c.username
}

func (c *Client) setUsername(name string) {
	c.nameMu.Lock()
	c.username = name
	c.nameMu.Unlock()
}

// Send encodes the envelope as one frame and writes it to the session.
func (c *Client) Send(env protocol.Envelope) error {
	line, err := protocol.EncodeLine(env)
	if err != nil {
		return err
	}
	return c.SendRaw(line)
}

// SendRaw writes an already-encoded frame. Fan-out paths encode the frame
// once and reuse the bytes for every recipient.
func (c *Client) SendRaw(line []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(line)
	return err
}

// RemoteAddr reports the peer address for logging.
func (c *Client) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Client) Close() error {
	return c.conn.Close()
}
