package ppcb

import (
	"io"
	"net"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// StreamServer accepts TCP connections, running ServeStreamConn on each
// in its own goroutine. Its accept loop is the same temporary-error
// backoff pattern the reference library uses for its generic Server,
// adapted so each connection's failure is scoped to that connection.
type StreamServer struct {
	out func() io.Writer
	log *zap.Logger
}

// NewStreamServer wires a TCP server engine; out is invoked once per
// accepted connection to obtain its output sink.
func NewStreamServer(out func() io.Writer, log *zap.Logger) *StreamServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamServer{out: out, log: log}
}

// Serve accepts connections from l until a non-temporary error occurs.
func (srv *StreamServer) Serve(l net.Listener) error {
	defer l.Close()
	var tempDelay time.Duration
	for {
		c, err := l.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				srv.log.Warn("accept error, retrying", zap.Error(err), zap.Duration("delay", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0
		go func() {
			if err := ServeStreamConn(c, srv.out(), srv.log); err != nil {
				srv.log.Error("stream session ended with error", zap.Error(err))
			}
		}()
	}
}

// ErrProtocolMismatch means a CONN's declared Protocol does not match
// the transport it arrived on (e.g. a "tcp" CONN over a UDP socket).
var ErrProtocolMismatch = errors.New("ppcb: CONN protocol does not match transport")

// acceptDeadline bounds how long the server waits for the first CONN on
// a freshly accepted stream connection.
const acceptDeadline = 30 * time.Second

// ServeStreamConn runs the server side of one PPCB transfer over an
// accepted TCP connection: read CONN, answer CONNACC/CONNRJT, stream
// DATA into out, answer RCVD. Per spec.md §7, an error here terminates
// only this session/connection; the caller's accept loop is unaffected.
func ServeStreamConn(conn net.Conn, out io.Writer, log *zap.Logger) error {
	defer conn.Close()
	if log == nil {
		log = zap.NewNop()
	}

	tr := NewStreamTransport(conn, time.Now().Add(acceptDeadline))
	first, err := readPacket(tr)
	if err != nil {
		return errors.Wrap(err, "ppcb: read CONN")
	}
	c, ok := first.(*Conn)
	if !ok {
		return ErrUnexpectedPacket{Want: KindConn, Got: first.Kind()}
	}
	log.Info("accepted stream CONN", zap.Uint64("session", uint64(c.SessionID)), zap.Uint64("data_len", c.DataLen))

	if c.Proto != ProtoTCP {
		_ = sendRaw(tr, &ConnRjt{SessionID: c.SessionID})
		return errors.Wrapf(ErrProtocolMismatch, "CONN declared %s over a stream transport", c.Proto)
	}

	if err := sendRaw(tr, &ConnAcc{SessionID: c.SessionID}); err != nil {
		return err
	}

	s := NewSession(uint64(c.SessionID), tr, conn.RemoteAddr(), true, false, true, log)
	return runReceiveLoop(s, out, c.DataLen, log)
}

// sendRaw writes a single packet without going through a Session (used
// before the session object exists, e.g. to answer or reject the very
// first CONN).
func sendRaw(tr Transport, p Packet) error {
	buf, err := Encode(nil, p)
	if err != nil {
		return err
	}
	return tr.Send(buf)
}

// runReceiveLoop consumes dataLen bytes of DATA packets in order,
// writing each payload to out, then answers RCVD. Shared by the stream
// and datagram server paths.
func runReceiveLoop(s *Session, out io.Writer, dataLen uint64, log *zap.Logger) error {
	consumer := NewConsumer(out)
	var received uint64

	if dataLen == 0 {
		return s.Send(&Rcvd{SessionID: SessionID(s.ID)})
	}

	for received < dataLen {
		// Skip late duplicates per spec.md §4.3.2/interface.hpp's
		// get_next<CONN, DATA>: a retransmitted CONN (CONNACC lost) or a
		// retransmitted DATA(k < expected) (ACC(k) lost) is discarded
		// rather than treated as a protocol violation.
		ss := SkipSet{
			{Kind: KindConn},
			{Kind: KindData, Expected: consumer.expected},
		}
		p, err := s.GetNext(ss)
		if err != nil {
			return err
		}
		d, ok := p.(*Data)
		if !ok {
			return ErrUnexpectedPacket{Want: KindData, Got: p.Kind()}
		}
		zeroOutOfBounds := len(d.Bytes) == 0 && dataLen != 0
		if d.PacketNum != consumer.expected || received+uint64(len(d.Bytes)) > dataLen || zeroOutOfBounds {
			if s.HasRetransmit {
				if err := s.tr.Send(mustEncode(&Rjt{SessionID: SessionID(s.ID), PacketNum: d.PacketNum})); err != nil {
					return err
				}
				continue
			}
			return errors.Errorf("ppcb: protocol error: unexpected packet_no %d (expected %d)", d.PacketNum, consumer.expected)
		}
		if err := consumer.Accept(d.PacketNum, d.Bytes); err != nil {
			return err
		}
		received += uint64(len(d.Bytes))
		log.Debug("accepted DATA", zap.Uint64("session", s.ID), zap.Uint32("packet_no", d.PacketNum))

		if s.HasRetransmit {
			if err := s.tr.Send(mustEncode(&Acc{SessionID: SessionID(s.ID), PacketNum: d.PacketNum})); err != nil {
				return err
			}
		}
	}
	log.Info("transfer received", zap.Uint64("session", s.ID), zap.Uint64("bytes", received))
	return s.Send(&Rcvd{SessionID: SessionID(s.ID)})
}

// DatagramServer runs the single-active-session UDP engine that serves
// both the plain-datagram and the retransmit-datagram variants on one
// shared socket, selected per spec.md §6.3 by the protocol field inside
// each client's CONN. One transfer is served to completion before the
// next CONN is accepted, matching the reference server's sequential
// design; concurrent strangers are rejected per spec.md §4.3.2.
type DatagramServer struct {
	pc  net.PacketConn
	out func() io.Writer // called once per accepted session to obtain its output sink
	log *zap.Logger

	closed *cache.Cache
}

// NewDatagramServer wires a UDP server engine. out is invoked once per
// accepted transfer (typically returning os.Stdout, matching spec.md
// §6.3's "writes received bytes to standard output").
func NewDatagramServer(pc net.PacketConn, out func() io.Writer, log *zap.Logger) *DatagramServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &DatagramServer{
		pc:     pc,
		out:    out,
		log:    log,
		closed: cache.New(2*time.Minute, 5*time.Minute),
	}
}

// Serve runs until ctx-less forever loop encounters a fatal socket
// error (a failed listener is the only fatal condition for the Task 1
// server, per spec.md §7).
func (d *DatagramServer) Serve() error {
	for {
		if err := d.serveOne(); err != nil {
			return err
		}
	}
}

func (d *DatagramServer) serveOne() error {
	tr, err := NewDatagramTransport(d.pc, time.Time{})
	if err != nil {
		return errors.Wrap(err, "ppcb: datagram receive")
	}
	p, err := readPacket(tr)
	if err != nil {
		d.log.Debug("discarding malformed datagram", zap.Error(err))
		return nil
	}
	c, ok := p.(*Conn)
	if !ok {
		// Not a CONN and no active session: silently discard (§4.3.2).
		if _, seen := d.closed.Get(sessionCacheKey(p.Session())); seen {
			d.log.Debug("discarding packet for recently closed session", zap.Uint64("session", p.Session()))
		}
		return nil
	}
	if c.Proto != ProtoUDP && c.Proto != ProtoUDPR {
		_ = sendRaw(tr, &ConnRjt{SessionID: c.SessionID})
		return nil
	}

	hasRetransmit := c.Proto == ProtoUDPR
	d.log.Info("accepted datagram CONN", zap.Uint64("session", uint64(c.SessionID)),
		zap.Bool("retransmit", hasRetransmit), zap.Uint64("data_len", c.DataLen))

	if err := sendRaw(tr, &ConnAcc{SessionID: c.SessionID}); err != nil {
		return errors.Wrap(err, "ppcb: send CONNACC")
	}

	s := NewSession(uint64(c.SessionID), tr, tr.Addr(), false, hasRetransmit, true, d.log)
	s.SetClosedCache(d.closed)
	if err := runReceiveLoop(s, d.out(), c.DataLen, d.log); err != nil {
		d.log.Error("session ended with error", zap.Uint64("session", uint64(c.SessionID)), zap.Error(err))
	}
	s.Close()
	return nil
}
