// +build aix darwin dragonfly freebsd linux netbsd openbsd solaris

package cards

import (
	"bytes"
	"net"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrBufferOverflow is returned by Recv when a peer sends more bytes
// than maxInbound without ever completing a line (spec.md §9: "keep
// it, and make the cap a tunable").
var ErrBufferOverflow = errors.New("cards: inbound line buffer overflow")

// maxOutboundQueue bounds the number of queued-but-unsent outbound
// lines per connection; past this the connection is treated as "peer
// too slow" and dropped (spec.md §9's event-loop backpressure note).
const maxOutboundQueue = 4096

// Connection wraps one accepted socket: a reactor handle, an inbound
// byte buffer split on CRLF, and an outbound FIFO of whole lines
// (spec.md §4.7.1). It owns its descriptor uniquely; closing it closes
// the fd (the "ownership of descriptors" redesign note).
type Connection struct {
	reactor *Reactor
	handle  Handle
	fd      int

	localAddr string
	peerAddr  string

	inbuf      []byte
	maxInbound int

	outq   [][]byte
	outPos int

	closed bool

	transcript *Transcript
}

// NewConnection duplicates conn's file descriptor, registers it with
// reactor for read-readiness, and takes over its lifetime; conn itself
// is closed since the Connection now owns the raw fd exclusively.
func NewConnection(reactor *Reactor, conn net.Conn, maxInbound int, transcript *Transcript) (*Connection, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		conn.Close()
		return nil, errors.New("cards: connection does not expose a raw fd")
	}
	fd, err := dupFD(sc)
	local, peer := conn.LocalAddr().String(), conn.RemoteAddr().String()
	conn.Close()
	if err != nil {
		return nil, errors.Wrap(err, "cards: dup fd")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "cards: set nonblocking")
	}

	c := &Connection{
		reactor:    reactor,
		fd:         fd,
		localAddr:  local,
		peerAddr:   peer,
		maxInbound: maxInbound,
		transcript: transcript,
	}
	c.handle = reactor.Add(fd)
	reactor.SetEvents(c.handle, EventRead)
	return c, nil
}

// dupFD duplicates the raw descriptor behind c so the reactor can poll
// it directly without racing the Go runtime's own netpoller.
func dupFD(c syscall.Conn) (int, error) {
	rc, err := c.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	var dupErr error
	if err := rc.Control(func(ufd uintptr) {
		fd, dupErr = unix.Dup(int(ufd))
	}); err != nil {
		return -1, err
	}
	if dupErr != nil {
		return -1, dupErr
	}
	return fd, nil
}

// Handle returns the connection's reactor handle.
func (c *Connection) Handle() Handle { return c.handle }

// SetDeadline arms the connection's reactor deadline.
func (c *Connection) SetDeadline(ms int) { c.reactor.SetDeadline(c.handle, ms) }

// ClearDeadline disarms the connection's reactor deadline.
func (c *Connection) ClearDeadline() { c.reactor.ClearDeadline(c.handle) }

// TimedOut reports whether the connection's deadline has elapsed and
// has not been re-armed or cleared since.
func (c *Connection) TimedOut() bool { return c.reactor.TimedOut(c.handle) }

// HasDeadline reports whether a move deadline is currently armed for
// this connection (mirrors the reference server's send_if_no_timeout
// guard, inout.hpp).
func (c *Connection) HasDeadline() bool { return c.reactor.HasDeadline(c.handle) }

// Closed reports whether the peer hung up, errored, overflowed the
// outbound queue, or the local side has already closed this connection.
func (c *Connection) Closed() bool { return c.closed }

// PauseIO clears both read and write interest without forgetting
// queued bytes (used while a seat is empty, per spec.md §4.8.1).
func (c *Connection) PauseIO() {
	c.reactor.UnsetEvents(c.handle, EventRead|EventWrite)
}

// ResumeIO restores read interest, and write interest if anything is
// still queued.
func (c *Connection) ResumeIO() {
	c.reactor.SetEvents(c.handle, EventRead)
	if len(c.outq) > 0 {
		c.reactor.SetEvents(c.handle, EventWrite)
	}
}

// Recv drains any readable bytes, splits complete CRLF-terminated
// lines off the front of the buffer, and forwards each to the
// transcript logger. The trailing partial line, if any, is retained.
func (c *Connection) Recv() ([]string, error) {
	if c.closed {
		return nil, nil
	}
	revents := c.reactor.Events(c.handle)
	if revents&(EventHangUp|EventErr) != 0 {
		c.closed = true
		return nil, nil
	}
	if revents&EventRead == 0 {
		return nil, nil
	}

	var buf [8192]byte
	for {
		n, err := unix.Read(c.fd, buf[:])
		if n > 0 {
			c.inbuf = append(c.inbuf, buf[:n]...)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			c.closed = true
			break
		}
		if n == 0 {
			c.closed = true
			break
		}
		if n < len(buf) {
			break
		}
	}

	var lines []string
	for {
		i := bytes.Index(c.inbuf, []byte("\r\n"))
		if i < 0 {
			break
		}
		line := string(c.inbuf[:i])
		c.inbuf = c.inbuf[i+2:]
		if c.transcript != nil {
			c.transcript.LogInbound(c.peerAddr, c.localAddr, line)
		}
		lines = append(lines, line)
	}
	if len(c.inbuf) > c.maxInbound {
		return lines, ErrBufferOverflow
	}
	return lines, nil
}

// Send appends line+CRLF to the outbound FIFO and enables
// write-readiness. If the peer is too slow to drain (the outbound queue
// cap has been exceeded), the connection is marked closed and an error
// is returned.
func (c *Connection) Send(line string) error {
	if c.closed {
		return nil
	}
	if len(c.outq) >= maxOutboundQueue {
		c.closed = true
		return errors.New("cards: outbound queue overflow, peer too slow")
	}
	c.outq = append(c.outq, []byte(line+"\r\n"))
	c.reactor.SetEvents(c.handle, EventWrite)
	return nil
}

// Pending reports whether any outbound bytes remain queued.
func (c *Connection) Pending() bool { return len(c.outq) > 0 }

// Flush writes as much of the front of the outbound FIFO as the socket
// will currently accept, in FIFO order (spec.md's invariant 4: A's
// bytes fully leave before any of B's). Each fully-sent line is
// forwarded to the transcript logger.
func (c *Connection) Flush() error {
	if c.closed {
		return nil
	}
	revents := c.reactor.Events(c.handle)
	if revents&(EventHangUp|EventErr) != 0 {
		c.closed = true
		return nil
	}
	if revents&EventWrite == 0 {
		return nil
	}

	for len(c.outq) > 0 {
		buf := c.outq[0][c.outPos:]
		n, err := unix.Write(c.fd, buf)
		if n > 0 {
			c.outPos += n
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			c.closed = true
			return nil
		}
		if c.outPos == len(c.outq[0]) {
			if c.transcript != nil {
				line := bytes.TrimSuffix(c.outq[0], []byte("\r\n"))
				c.transcript.LogOutbound(c.localAddr, c.peerAddr, string(line))
			}
			c.outq = c.outq[1:]
			c.outPos = 0
			continue
		}
		// Partial write accepted as much as the socket would take.
		return nil
	}
	c.reactor.UnsetEvents(c.handle, EventWrite)
	return nil
}

// Close removes the connection from the reactor and closes its fd.
func (c *Connection) Close() error {
	if c.fd == emptyFD {
		return nil
	}
	c.reactor.Remove(c.handle)
	fd := c.fd
	c.fd = emptyFD
	c.closed = true
	return unix.Close(fd)
}

// LocalAddr and PeerAddr expose the address snapshots captured at
// construction, used by the transcript logger.
func (c *Connection) LocalAddr() string { return c.localAddr }
func (c *Connection) PeerAddr() string  { return c.peerAddr }
