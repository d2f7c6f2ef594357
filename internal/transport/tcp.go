package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout bounds a single request/reply exchange
	DefaultTimeout = time.Second
	// DefaultRetries is the number of reconnect attempts after a failed exchange
	DefaultRetries = 2
)

// Conn is a line oriented TCP connection. Every request line gets one
// reply line. Exchanges are serialized. Unread replies left over from a
// previous exchange are discarded, and an error reply drops the connection.
type Conn struct {
	address string
	timeout time.Duration
	retries int

	// backoff bounds
	minWait time.Duration
	maxWait time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	log    *logrus.Entry
}

// NewConn creates a connection to host:port. Nothing is dialed until the
// first exchange.
func NewConn(host string, port int, timeout time.Duration, retries int) *Conn {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if retries < 0 {
		retries = 0
	}
	address := net.JoinHostPort(host, strconv.Itoa(port))
	return &Conn{
		address: address,
		timeout: timeout,
		retries: retries,
		minWait: 50 * time.Millisecond,
		maxWait: time.Second,
		log:     logrus.WithField("peer", address),
	}
}

// Address returns the host:port this connection talks to
func (c *Conn) Address() string {
	return c.address
}

// Open dials the device if not connected yet
func (c *Conn) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

// Close drops the connection. A later exchange dials again.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

// WriteLinesReadLines sends every line and returns one reply per line.
// On failure the connection is re-established and the whole exchange is
// retried.
func (c *Conn) WriteLinesReadLines(ctx context.Context, lines []string) ([]string, error) {
	if len(lines) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b := &backoff.Backoff{
		Min:    c.minWait,
		Max:    c.maxWait,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(b.Duration())
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		replies, err := c.exchangeLocked(ctx, lines)
		if err == nil {
			if hasErrorReply(replies) {
				// late duplicate answers would shift every following reply
				c.log.Debug("Device returned an error, dropping the connection")
				c.closeLocked()
			}
			return replies, nil
		}
		if ctx.Err() != nil {
			c.closeLocked()
			return nil, ctx.Err()
		}

		lastErr = err
		c.log.Debugf("Exchange failed (attempt %d/%d), reconnecting: %v", attempt+1, c.retries+1, err)
		c.closeLocked()
	}

	errType := models.ErrCommunication
	if ne, ok := lastErr.(net.Error); ok && ne.Timeout() {
		errType = models.ErrTimeout
	}
	return nil, &models.AlbaEMError{
		Type:    errType,
		Command: strings.Join(lines, "; "),
		Err:     fmt.Errorf("unable to communicate with %s: %w", c.address, lastErr),
	}
}

func (c *Conn) exchangeLocked(ctx context.Context, lines []string) ([]string, error) {
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	// the device may answer a failed command more than once
	if n := c.reader.Buffered(); n > 0 {
		stale, _ := c.reader.Peek(n)
		c.log.Debugf("Discarding stale reply %q", stale)
		c.reader.Discard(n)
	}

	var req strings.Builder
	for _, line := range lines {
		req.WriteString(line)
		req.WriteByte('\n')
	}
	if _, err := c.conn.Write([]byte(req.String())); err != nil {
		return nil, err
	}

	replies := make([]string, 0, len(lines))
	for range lines {
		raw, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		replies = append(replies, cleanReply(raw))
	}
	return replies, nil
}

// hasErrorReply reports whether the device refused one of the commands
func hasErrorReply(replies []string) bool {
	for _, r := range replies {
		if strings.HasPrefix(r, "ERROR") {
			return true
		}
	}
	return false
}

func (c *Conn) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return err
	}

	c.log.Debug("Connected")
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

func (c *Conn) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// cleanReply strips the line terminator and the optional ';' the device
// appends to every answer
func cleanReply(raw string) string {
	reply := strings.TrimSpace(raw)
	reply = strings.TrimSuffix(reply, ";")
	return strings.TrimSpace(reply)
}
