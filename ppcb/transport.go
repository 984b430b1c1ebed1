package ppcb

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// maxDatagram is the platform-independent upper bound the datagram
// transport allocates for one incoming UDP packet.
const maxDatagram = 65535

// Transport is the deadline-aware contract C2 provides to the session
// engine (C3). Both the stream and datagram implementations share it;
// C3 chooses its variant-specific handling from its own UsesStream and
// HasRetransmit booleans (the uses_stream boolean is carried by the
// session, not duplicated here).
type Transport interface {
	// ReadExact blocks until exactly n bytes have been read, the
	// transport's deadline elapses (ErrTimeout), or a fatal I/O error
	// occurs.
	ReadExact(n int) ([]byte, error)
	// Rewind seeks back to the start of the current message so a
	// peek-and-decide header read can be replayed.
	Rewind()
	// Send delivers buf in its entirety.
	Send(buf []byte) error
	// SetDeadline overrides the absolute deadline for the next wait.
	SetDeadline(t time.Time)
	// Addr returns the transport's notion of "the current peer" —
	// the connected remote for a stream, the source of the last
	// received datagram for a datagram transport.
	Addr() net.Addr
	Close() error
}

// streamTransport implements Transport over an ordered, reliable byte
// pipe (TCP).
type streamTransport struct {
	conn     net.Conn
	deadline time.Time

	// replay holds one message's worth of bytes read since the last
	// Rewind, so peek-and-decide parsing can re-read the header.
	replay    []byte
	replaying bool
	replayPos int
}

// NewStreamTransport wraps an established stream connection with a
// wait budget extending to deadline.
func NewStreamTransport(conn net.Conn, deadline time.Time) Transport {
	return &streamTransport{conn: conn, deadline: deadline}
}

func (t *streamTransport) SetDeadline(d time.Time) { t.deadline = d }
func (t *streamTransport) Addr() net.Addr          { return t.conn.RemoteAddr() }
func (t *streamTransport) Close() error            { return t.conn.Close() }

func (t *streamTransport) Rewind() {
	t.replaying = true
	t.replayPos = 0
}

func (t *streamTransport) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0

	if t.replaying {
		c := copy(buf, t.replay[t.replayPos:])
		got += c
		t.replayPos += c
		if t.replayPos >= len(t.replay) {
			t.replaying = false
		}
		if got == n {
			t.replay = append(t.replay, buf[:got]...)
			return buf, nil
		}
	}

	if !t.deadline.IsZero() {
		if err := t.conn.SetReadDeadline(t.deadline); err != nil {
			return nil, errors.Wrap(err, "ppcb: set read deadline")
		}
	}
	for got < n {
		nn, err := t.conn.Read(buf[got:])
		got += nn
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, ErrTimeout
			}
			if err == io.EOF && got == 0 {
				return nil, io.EOF
			}
			return nil, errors.Wrap(err, "ppcb: stream read")
		}
	}
	t.replay = append(t.replay, buf...)
	return buf, nil
}

func (t *streamTransport) Send(buf []byte) error {
	if !t.deadline.IsZero() {
		if err := t.conn.SetWriteDeadline(t.deadline); err != nil {
			return errors.Wrap(err, "ppcb: set write deadline")
		}
	}
	for len(buf) > 0 {
		n, err := t.conn.Write(buf)
		if err != nil {
			return errors.Wrap(err, "ppcb: stream write")
		}
		buf = buf[n:]
	}
	return nil
}

// datagramTransport implements Transport over a single UDP datagram
// captured at construction; ReadExact walks a cursor across it.
type datagramTransport struct {
	conn     net.PacketConn
	deadline time.Time

	buf    []byte
	pos    int
	peer   net.Addr
	wrote  bool
}

// NewDatagramTransport performs exactly one receive on conn (blocking up
// to deadline) and returns a Transport positioned at the start of that
// datagram. Used by servers, which learn their peer from the first
// inbound packet.
func NewDatagramTransport(conn net.PacketConn, deadline time.Time) (Transport, error) {
	t := &datagramTransport{conn: conn, deadline: deadline}
	if err := t.receiveOne(); err != nil {
		return nil, err
	}
	return t, nil
}

// NewDatagramClientTransport wraps conn for a client that already knows
// its peer (the server address given on the command line) and has not
// sent or received anything yet, unlike NewDatagramTransport.
func NewDatagramClientTransport(conn net.PacketConn, peer net.Addr, deadline time.Time) Transport {
	return &datagramTransport{conn: conn, deadline: deadline, peer: peer}
}

func (t *datagramTransport) receiveOne() error {
	// Always applied: a zero deadline clears any deadline a previous
	// session left on a shared PacketConn.
	if err := t.conn.SetReadDeadline(t.deadline); err != nil {
		return errors.Wrap(err, "ppcb: set read deadline")
	}
	buf := make([]byte, maxDatagram)
	n, addr, err := t.conn.ReadFrom(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return ErrTimeout
		}
		return errors.Wrap(err, "ppcb: datagram read")
	}
	t.buf = buf[:n]
	t.pos = 0
	t.peer = addr
	return nil
}

func (t *datagramTransport) SetDeadline(d time.Time) { t.deadline = d }
func (t *datagramTransport) Addr() net.Addr          { return t.peer }
func (t *datagramTransport) Close() error            { return nil }
func (t *datagramTransport) Rewind()                 { t.pos = 0 }

func (t *datagramTransport) ReadExact(n int) ([]byte, error) {
	if len(t.buf)-t.pos < n {
		return nil, ErrTruncatedPacket
	}
	b := t.buf[t.pos : t.pos+n]
	t.pos += n
	return b, nil
}

// ReceiveNext discards the current datagram and blocks for the next one,
// used by the session engine's read loop on the datagram variants.
func (t *datagramTransport) ReceiveNext() error { return t.receiveOne() }

func (t *datagramTransport) Send(buf []byte) error {
	if len(buf) > maxDatagram {
		panic("ppcb: oversized datagram write")
	}
	if err := t.conn.SetWriteDeadline(t.deadline); err != nil {
		return errors.Wrap(err, "ppcb: set write deadline")
	}
	_, err := t.conn.WriteTo(buf, t.peer)
	if err != nil {
		return errors.Wrap(err, "ppcb: datagram write")
	}
	t.wrote = true
	return nil
}

// SendTo writes buf to an explicit address — used by the server to
// answer a stranger (CONNRJT / RJT to a non-session peer) without
// disturbing the transport's notion of the active session's peer.
func (t *datagramTransport) SendTo(buf []byte, addr net.Addr) error {
	_, err := t.conn.WriteTo(buf, addr)
	return errors.Wrap(err, "ppcb: datagram write")
}
