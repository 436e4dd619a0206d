package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/p2tas-community/p2tas-dev-tools/internal/logger"
)

var (
	// ErrNotConnected is returned when the game cannot be reached.
	ErrNotConnected = errors.New("not connected to game")
	// ErrNoFile is returned by Play when no script is selected.
	ErrNoFile = errors.New("no script selected")
)

type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

const writeTimeout = 5 * time.Second

// Client sends playback commands to the game's TAS server. Commands are
// written as plain text without a terminator.
type Client struct {
	Addr string

	mu     sync.Mutex
	conn   net.Conn
	subs   map[int]chan Status
	nextID int
}

func New(addr string) *Client {
	return &Client{
		Addr: addr,
		subs: make(map[int]chan Status),
	}
}

// Connect dials the game unless a connection is already open.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	c.conn = conn
	logger.Printf("Connected to game at %s", c.Addr)
	c.notifyLocked(StatusConnected)
	go c.watch(conn)
	return nil
}

// watch drains the connection so a close from the game side is noticed.
func (c *Client) watch(conn net.Conn) {
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			logger.Debugf("relay: received %q", buf[:n])
		}
		if err != nil {
			break
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.dropLocked()
	}
}

func (c *Client) dropLocked() {
	c.conn.Close()
	c.conn = nil
	logger.Printf("Disconnected from game")
	c.notifyLocked(StatusDisconnected)
}

// Disconnect closes the connection. It is a no-op when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.dropLocked()
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Play asks the game to play the named script.
func (c *Client) Play(ctx context.Context, filename string) error {
	if filename == "" {
		return ErrNoFile
	}
	return c.send(ctx, "play "+filename)
}

// Stop asks the game to stop the running script.
func (c *Client) Stop(ctx context.Context) error {
	return c.send(ctx, "stop")
}

func (c *Client) send(ctx context.Context, msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return err
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if _, err := c.conn.Write([]byte(msg)); err != nil {
		c.dropLocked()
		return fmt.Errorf("sending %q: %w", msg, err)
	}
	logger.Debugf("relay: sent %q", msg)
	return nil
}

// Subscribe returns a channel receiving status changes and a function that
// cancels the subscription. Slow subscribers miss updates.
func (c *Client) Subscribe() (<-chan Status, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	ch := make(chan Status, 4)
	c.subs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

func (c *Client) notifyLocked(s Status) {
	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
		}
	}
}
