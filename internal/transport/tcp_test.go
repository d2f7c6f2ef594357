package transport

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve answers every line with handler(line); handler returning false
// drops the connection without answering
func serve(t *testing.T, handler func(conn int, line string) (string, bool)) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var conns int32
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			n := int(atomic.AddInt32(&conns, 1))
			go func(c net.Conn, n int) {
				defer c.Close()
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					reply, ok := handler(n, strings.TrimSpace(line))
					if !ok {
						return
					}
					c.Write([]byte(reply + ";\r\n"))
				}
			}(c, n)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestWriteLinesReadLines(t *testing.T) {
	host, port := serve(t, func(_ int, line string) (string, bool) {
		return strings.ToUpper(line), true
	})

	c := NewConn(host, port, time.Second, 0)
	defer c.Close()

	replies, err := c.WriteLinesReadLines(context.Background(), []string{"acqu:stat?", "*idn?"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ACQU:STAT?", "*IDN?"}, replies)

	replies, err = c.WriteLinesReadLines(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, replies)
}

func TestReconnectAfterDroppedConnection(t *testing.T) {
	host, port := serve(t, func(conn int, line string) (string, bool) {
		if conn == 1 {
			return "", false
		}
		return "pong", true
	})

	c := NewConn(host, port, 500*time.Millisecond, 2)
	c.minWait = time.Millisecond
	c.maxWait = 5 * time.Millisecond
	defer c.Close()

	replies, err := c.WriteLinesReadLines(context.Background(), []string{"ping"})
	require.NoError(t, err)
	assert.Equal(t, []string{"pong"}, replies)
}

func TestErrorReplyResetsConnection(t *testing.T) {
	host, port := serve(t, func(conn int, line string) (string, bool) {
		if line == "bad" {
			// a refused command may be answered twice
			return "ERROR: bad;\r\nERROR: bad", true
		}
		return strings.ToUpper(line) + "@" + strconv.Itoa(conn), true
	})

	c := NewConn(host, port, time.Second, 0)
	defer c.Close()
	ctx := context.Background()

	replies, err := c.WriteLinesReadLines(ctx, []string{"bad"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ERROR: bad"}, replies)

	replies, err = c.WriteLinesReadLines(ctx, []string{"ping"})
	require.NoError(t, err)
	assert.Equal(t, []string{"PING@2"}, replies)
}

func TestStaleRepliesAreDiscarded(t *testing.T) {
	host, port := serve(t, func(_ int, line string) (string, bool) {
		if line == "twice" {
			return "ONE;\r\nTWO", true
		}
		return strings.ToUpper(line), true
	})

	c := NewConn(host, port, time.Second, 0)
	defer c.Close()
	ctx := context.Background()

	replies, err := c.WriteLinesReadLines(ctx, []string{"twice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ONE"}, replies)

	replies, err = c.WriteLinesReadLines(ctx, []string{"ping"})
	require.NoError(t, err)
	assert.Equal(t, []string{"PING"}, replies)
}

func TestUnreachableDevice(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := NewConn("127.0.0.1", port, 200*time.Millisecond, 1)
	c.minWait = time.Millisecond
	c.maxWait = time.Millisecond

	_, err = c.WriteLinesReadLines(context.Background(), []string{"*idn?"})
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrCommunication) || models.IsType(err, models.ErrTimeout))
}

func TestSilentDeviceTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)

	c := NewConn("127.0.0.1", addr.Port, 50*time.Millisecond, 0)
	defer c.Close()

	_, err = c.WriteLinesReadLines(context.Background(), []string{"*idn?"})
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrTimeout))
}

func TestCleanReply(t *testing.T) {
	assert.Equal(t, "STATE_ON", cleanReply("STATE_ON;\r\n"))
	assert.Equal(t, "1mA", cleanReply("  1mA\n"))
	assert.Equal(t, "", cleanReply(";\n"))
}
