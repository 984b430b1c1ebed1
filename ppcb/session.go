package ppcb

import (
	"net"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Implementation constants from spec.md §6.1.
var (
	// MaxWait is the idle-wait budget for one logical read.
	MaxWait = 5 * time.Second
	// RMax is the total number of retransmissions attempted on the
	// retransmit variant before a timeout is treated as fatal.
	RMax = 4
)

// SkipRule is one entry of a get_next skip-set (spec.md §4.3.2).
type SkipRule struct {
	Kind     Kind
	Expected uint32 // meaningful only when Kind.Numbered()
}

// SkipSet is the collection of skip rules passed to GetNext.
type SkipSet []SkipRule

func (ss SkipSet) match(p Packet) bool {
	for _, r := range ss {
		if r.Kind != p.Kind() {
			continue
		}
		if no, ok := p.PacketNo(); ok {
			if no < r.Expected {
				return true
			}
			continue
		}
		// Unnumbered kind present in the skip-set: any occurrence is a
		// late duplicate.
		return true
	}
	return false
}

// Session is one PPCB transfer's state machine, shared by client and
// server, generalised over the three link variants by two booleans
// instead of the source's template parameterisation (§9).
type Session struct {
	ID            uint64
	UsesStream    bool
	HasRetransmit bool
	IsServer      bool

	tr   Transport
	peer net.Addr // datagram variant only: the session's established peer
	log  *zap.Logger

	lastSent    []byte
	retriesLeft int

	closedCache *cache.Cache // server-side: recently-closed session ids, log-quality only
}

// NewSession constructs a session engine around an already-connected
// Transport. id and peer (datagram only) identify which inbound frames
// belong to this session.
func NewSession(id uint64, tr Transport, peer net.Addr, usesStream, hasRetransmit, isServer bool, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		ID:            id,
		UsesStream:    usesStream,
		HasRetransmit: hasRetransmit,
		IsServer:      isServer,
		tr:            tr,
		peer:          peer,
		log:           log,
	}
}

// SetClosedCache installs the server-side dedupe cache (ambient; never
// changes protocol behaviour, only log classification — SPEC_FULL.md).
func (s *Session) SetClosedCache(c *cache.Cache) { s.closedCache = c }

// Close releases the transport and, on the server, marks the session id
// as recently-closed for log classification.
func (s *Session) Close() error {
	if s.closedCache != nil {
		s.closedCache.SetDefault(sessionCacheKey(s.ID), struct{}{})
	}
	return s.tr.Close()
}

func sessionCacheKey(id uint64) string {
	return "sess:" + itoa64(id)
}

func itoa64(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Send marshals and transmits p, arming the retransmission budget if
// this is the retransmit variant.
func (s *Session) Send(p Packet) error {
	buf, err := Encode(nil, p)
	if err != nil {
		return errors.Wrap(err, "ppcb: encode")
	}
	if err := s.tr.Send(buf); err != nil {
		return err
	}
	if s.HasRetransmit {
		s.lastSent = buf
		s.retriesLeft = RMax
	}
	return nil
}

// armDeadline starts (or restarts) one logical wait of MaxWait.
func (s *Session) armDeadline() {
	s.tr.SetDeadline(time.Now().Add(MaxWait))
}

// GetNext reads the next protocol frame intended for this session,
// applying transport-dependent filtering and skip-set semantics
// (spec.md §4.3.2), and driving the retransmission loop (§4.3.3) when
// the read times out.
func (s *Session) GetNext(ss SkipSet) (Packet, error) {
	s.armDeadline()
	for {
		p, fromAddr, err := s.readOnce()
		if err != nil {
			if err == ErrTimeout {
				if s.HasRetransmit && s.lastSent != nil && s.retriesLeft > 0 {
					s.retriesLeft--
					if werr := s.tr.Send(s.lastSent); werr != nil {
						return nil, werr
					}
					s.armDeadline()
					continue
				}
				return nil, ErrTimeout
			}
			return nil, err
		}
		if p == nil {
			// Non-fatal discard (mis-routed stranger handled already); keep waiting.
			continue
		}
		if s.UsesStream {
			// session id mismatch on stream is fatal, enforced in readOnce.
			if ss.match(p) {
				continue
			}
			s.lastSent = nil
			return p, nil
		}

		// Datagram variants: only frames from the established peer reach here.
		_ = fromAddr
		if ss.match(p) {
			continue
		}
		s.lastSent = nil
		return p, nil
	}
}

// readOnce performs one transport-level receive and applies the
// mis-routed-packet rules of spec.md §4.3.2. On the datagram variants it
// handles strangers and malformed datagrams itself and keeps receiving
// until a packet from this session's peer arrives or an error occurs.
func (s *Session) readOnce() (Packet, net.Addr, error) {
	if s.UsesStream {
		p, err := readPacket(s.tr)
		if err != nil {
			return nil, nil, err
		}
		if p.Session() != s.ID {
			return nil, nil, ErrSessionMismatch
		}
		return p, s.tr.Addr(), nil
	}

	dt, ok := s.tr.(*datagramTransport)
	if !ok {
		// Non-datagram Transport used in a non-stream variant (e.g. tests
		// with a fake transport): fall back to plain matching.
		p, err := readPacket(s.tr)
		if err != nil {
			return nil, nil, err
		}
		return p, s.tr.Addr(), nil
	}

	for {
		if err := dt.ReceiveNext(); err != nil {
			return nil, nil, err
		}
		p, err := readPacket(dt)
		if err != nil {
			// A malformed stranger datagram: discard and keep waiting.
			s.log.Debug("discarding malformed datagram", zap.Error(err))
			continue
		}
		if p.Session() == s.ID && sameAddr(dt.peer, s.peer) {
			return p, dt.peer, nil
		}

		// Mis-routed packet handling (server-side only).
		if s.IsServer {
			switch c := p.(type) {
			case *Conn:
				s.log.Info("rejecting CONN from stranger", zap.Uint64("session", uint64(c.SessionID)))
				_ = dt.SendTo(mustEncode(&ConnRjt{SessionID: c.SessionID}), dt.peer)
				continue
			case *Data:
				s.log.Info("rejecting DATA from stranger", zap.Uint64("session", uint64(c.SessionID)))
				_ = dt.SendTo(mustEncode(&Rjt{SessionID: c.SessionID, PacketNum: c.PacketNum}), dt.peer)
				continue
			}
		}
		// Otherwise silently discard.
	}
}

func sameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

func mustEncode(p Packet) []byte {
	b, err := Encode(nil, p)
	if err != nil {
		panic(err)
	}
	return b
}

// readPacket reads one full frame (kind tag, session id, and any
// kind-specific fields) directly off tr, field by field, the way
// spec.md's get_next describes rather than by slurping a fixed-size
// buffer and handing it to Decode.
func readPacket(tr Transport) (Packet, error) {
	hdr, err := tr.ReadExact(1 + 8)
	if err != nil {
		return nil, err
	}
	kind := Kind(hdr[0])
	id := SessionID(beUint64(hdr[1:9]))

	switch kind {
	case KindConnAcc:
		return &ConnAcc{SessionID: id}, nil
	case KindConnRjt:
		return &ConnRjt{SessionID: id}, nil
	case KindRcvd:
		return &Rcvd{SessionID: id}, nil
	case KindConn:
		b, err := tr.ReadExact(9)
		if err != nil {
			return nil, err
		}
		return &Conn{SessionID: id, Proto: Protocol(b[0]), DataLen: beUint64(b[1:9])}, nil
	case KindAcc:
		b, err := tr.ReadExact(4)
		if err != nil {
			return nil, err
		}
		return &Acc{SessionID: id, PacketNum: beUint32(b)}, nil
	case KindRjt:
		b, err := tr.ReadExact(4)
		if err != nil {
			return nil, err
		}
		return &Rjt{SessionID: id, PacketNum: beUint32(b)}, nil
	case KindData:
		b, err := tr.ReadExact(4 + 8)
		if err != nil {
			return nil, err
		}
		no := beUint32(b[:4])
		n := beUint64(b[4:12])
		if n > DMax {
			return nil, errors.Wrapf(ErrMalformedData{PacketNo: no}, "byte_count %d exceeds DMAX", n)
		}
		payload, err := tr.ReadExact(int(n))
		if err != nil {
			if err == ErrTruncatedPacket {
				return nil, errors.Wrapf(ErrMalformedData{PacketNo: no}, "truncated payload")
			}
			return nil, err
		}
		return &Data{SessionID: id, PacketNum: no, Bytes: payload}, nil
	default:
		return nil, errors.Errorf("ppcb: unknown packet kind %d", byte(kind))
	}
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
