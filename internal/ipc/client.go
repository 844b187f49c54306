package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/signalcove/pixelwatch/internal/record"
)

// Client is Edge's persistent connection to the Worker's IPC server. A
// single Client is shared across request goroutines; writes are
// serialized, matching the "FIFO per connection" ordering guarantee (§5).
type Client struct {
	addr        string
	dialTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

func NewClient(addr string, dialTimeout time.Duration) *Client {
	return &Client{addr: addr, dialTimeout: dialTimeout}
}

// Send encodes rec as one JSON line and writes it to the persistent
// connection, dialing lazily (and redialing after a prior failure). The
// overall attempt is bounded by the configured timeout (§4.1's "bounded
// timeout 1s" on the primary IPC write).
func (c *Client) Send(rec record.TrackingRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.dialLocked(); err != nil {
			return err
		}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ipc client: encoding record: %w", err)
	}
	line = append(line, '\n')

	c.conn.SetWriteDeadline(time.Now().Add(c.dialTimeout))
	if _, err := c.conn.Write(line); err != nil {
		c.conn.Close()
		c.conn = nil
		return fmt.Errorf("ipc client: write failed: %w", err)
	}
	return nil
}

func (c *Client) dialLocked() error {
	network, address := networkFor(c.addr)
	conn, err := net.DialTimeout(network, address, c.dialTimeout)
	if err != nil {
		return fmt.Errorf("ipc client: dial %s: %w", c.addr, err)
	}
	c.conn = conn
	return nil
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
