// Package ppcb implements the PPCB file-transfer protocol: framing,
// session management and the three link variants (stream, datagram,
// datagram-with-retransmit).
package ppcb

import (
	"github.com/pkg/errors"
)

// Kind is the one-byte wire tag that discriminates a PPCB packet.
type Kind byte

// Wire kind tags, per the published PPCB frame format.
const (
	KindConn    Kind = 1
	KindConnAcc Kind = 2
	KindConnRjt Kind = 3
	KindData    Kind = 4
	KindAcc     Kind = 5
	KindRjt     Kind = 6
	KindRcvd    Kind = 7
)

func (k Kind) String() string {
	switch k {
	case KindConn:
		return "CONN"
	case KindConnAcc:
		return "CONNACC"
	case KindConnRjt:
		return "CONNRJT"
	case KindData:
		return "DATA"
	case KindAcc:
		return "ACC"
	case KindRjt:
		return "RJT"
	case KindRcvd:
		return "RCVD"
	default:
		return "UNKNOWN"
	}
}

// Numbered reports whether packets of this kind carry a packet_no field.
func (k Kind) Numbered() bool {
	switch k {
	case KindData, KindAcc, KindRjt:
		return true
	default:
		return false
	}
}

// Protocol identifies the link variant carried in a CONN packet.
type Protocol uint8

const (
	ProtoTCP  Protocol = 1
	ProtoUDP  Protocol = 2
	ProtoUDPR Protocol = 3
)

func (p Protocol) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoUDPR:
		return "udpr"
	default:
		return "unknown"
	}
}

// Protocol-level limits (§6.1).
const (
	// DMax is the maximum number of payload bytes a single DATA packet may carry.
	DMax = 64000
	// Optimal is the chunk size a producer should emit per DATA packet.
	Optimal = 1400
	// hdrLen is the size in bytes of kind+session_id, common to every packet.
	hdrLen = 1 + 8
)

var errBadPacket = errors.New("malformed packet")

// Packet is implemented by every one of the seven PPCB frame kinds. The
// sum type is realised as an interface over seven concrete structs
// instead of a class hierarchy: there is no virtual dispatch on the hot
// path, only a kind tag plus two accessors, per the "tagged union over
// inheritance" design note.
type Packet interface {
	Kind() Kind
	Session() uint64
	// PacketNo returns the packet number and true for numbered kinds
	// (DATA, ACC, RJT); it returns (0, false) otherwise.
	PacketNo() (uint32, bool)
	marshal(b []byte) ([]byte, error)
	unmarshal(b []byte) error
}

// SessionID is a 64-bit PPCB session identifier.
type SessionID uint64

// Conn opens a transfer.
type Conn struct {
	SessionID SessionID
	Proto     Protocol
	DataLen   uint64
}

func (c Conn) Kind() Kind                { return KindConn }
func (c Conn) Session() uint64           { return uint64(c.SessionID) }
func (c Conn) PacketNo() (uint32, bool)  { return 0, false }

func (c Conn) marshal(b []byte) ([]byte, error) {
	b = appendUint64(b, uint64(c.SessionID))
	b = append(b, byte(c.Proto))
	b = appendUint64(b, c.DataLen)
	return b, nil
}

func (c *Conn) unmarshal(b []byte) error {
	r := readBuf(b)
	if len(r) < 9 {
		return errBadPacket
	}
	c.SessionID = SessionID(r.uint64())
	c.Proto = Protocol(r.byte())
	if len(r) < 8 {
		return errBadPacket
	}
	c.DataLen = r.uint64()
	return nil
}

// ConnAcc is the server's acceptance of a CONN.
type ConnAcc struct{ SessionID SessionID }

func (c ConnAcc) Kind() Kind               { return KindConnAcc }
func (c ConnAcc) Session() uint64          { return uint64(c.SessionID) }
func (c ConnAcc) PacketNo() (uint32, bool) { return 0, false }
func (c ConnAcc) marshal(b []byte) ([]byte, error) {
	return appendUint64(b, uint64(c.SessionID)), nil
}
func (c *ConnAcc) unmarshal(b []byte) error {
	r := readBuf(b)
	if len(r) < 8 {
		return errBadPacket
	}
	c.SessionID = SessionID(r.uint64())
	return nil
}

// ConnRjt is the server's rejection of a CONN.
type ConnRjt struct{ SessionID SessionID }

func (c ConnRjt) Kind() Kind               { return KindConnRjt }
func (c ConnRjt) Session() uint64          { return uint64(c.SessionID) }
func (c ConnRjt) PacketNo() (uint32, bool) { return 0, false }
func (c ConnRjt) marshal(b []byte) ([]byte, error) {
	return appendUint64(b, uint64(c.SessionID)), nil
}
func (c *ConnRjt) unmarshal(b []byte) error {
	r := readBuf(b)
	if len(r) < 8 {
		return errBadPacket
	}
	c.SessionID = SessionID(r.uint64())
	return nil
}

// Data is one payload chunk.
type Data struct {
	SessionID SessionID
	PacketNum uint32
	Bytes     []byte
}

func (d Data) Kind() Kind               { return KindData }
func (d Data) Session() uint64          { return uint64(d.SessionID) }
func (d Data) PacketNo() (uint32, bool) { return d.PacketNum, true }

func (d Data) marshal(b []byte) ([]byte, error) {
	if len(d.Bytes) > DMax {
		return b, errors.Errorf("DATA payload %d exceeds DMAX %d", len(d.Bytes), DMax)
	}
	b = appendUint64(b, uint64(d.SessionID))
	b = appendUint32(b, d.PacketNum)
	b = appendUint64(b, uint64(len(d.Bytes)))
	b = append(b, d.Bytes...)
	return b, nil
}

func (d *Data) unmarshal(b []byte) error {
	r := readBuf(b)
	if len(r) < 8 {
		return errBadPacket
	}
	d.SessionID = SessionID(r.uint64())
	if len(r) < 4 {
		return errBadPacket
	}
	d.PacketNum = r.uint32()
	if len(r) < 8 {
		return errBadPacket
	}
	n := r.uint64()
	if n > DMax {
		return errors.Wrapf(ErrMalformedData{PacketNo: d.PacketNum}, "byte_count %d exceeds DMAX", n)
	}
	if uint64(len(r)) < n {
		return ErrTruncatedPacket
	}
	d.Bytes = r.bytes(int(n))
	return nil
}

// Acc acknowledges one DATA packet (retransmit variant only).
type Acc struct {
	SessionID SessionID
	PacketNum uint32
}

func (a Acc) Kind() Kind               { return KindAcc }
func (a Acc) Session() uint64          { return uint64(a.SessionID) }
func (a Acc) PacketNo() (uint32, bool) { return a.PacketNum, true }
func (a Acc) marshal(b []byte) ([]byte, error) {
	b = appendUint64(b, uint64(a.SessionID))
	b = appendUint32(b, a.PacketNum)
	return b, nil
}
func (a *Acc) unmarshal(b []byte) error {
	r := readBuf(b)
	if len(r) < 8 {
		return errBadPacket
	}
	a.SessionID = SessionID(r.uint64())
	if len(r) < 4 {
		return errBadPacket
	}
	a.PacketNum = r.uint32()
	return nil
}

// Rjt rejects one DATA packet (retransmit variant only).
type Rjt struct {
	SessionID SessionID
	PacketNum uint32
}

func (j Rjt) Kind() Kind               { return KindRjt }
func (j Rjt) Session() uint64          { return uint64(j.SessionID) }
func (j Rjt) PacketNo() (uint32, bool) { return j.PacketNum, true }
func (j Rjt) marshal(b []byte) ([]byte, error) {
	b = appendUint64(b, uint64(j.SessionID))
	b = appendUint32(b, j.PacketNum)
	return b, nil
}
func (j *Rjt) unmarshal(b []byte) error {
	r := readBuf(b)
	if len(r) < 8 {
		return errBadPacket
	}
	j.SessionID = SessionID(r.uint64())
	if len(r) < 4 {
		return errBadPacket
	}
	j.PacketNum = r.uint32()
	return nil
}

// Rcvd acknowledges receipt of the whole file.
type Rcvd struct{ SessionID SessionID }

func (r Rcvd) Kind() Kind               { return KindRcvd }
func (r Rcvd) Session() uint64          { return uint64(r.SessionID) }
func (r Rcvd) PacketNo() (uint32, bool) { return 0, false }
func (r Rcvd) marshal(b []byte) ([]byte, error) {
	return appendUint64(b, uint64(r.SessionID)), nil
}
func (r *Rcvd) unmarshal(b []byte) error {
	rd := readBuf(b)
	if len(rd) < 8 {
		return errBadPacket
	}
	r.SessionID = SessionID(rd.uint64())
	return nil
}

// Encode appends the wire encoding of p (kind tag + body) to b.
func Encode(b []byte, p Packet) ([]byte, error) {
	b = append(b, byte(p.Kind()))
	return p.marshal(b)
}

// Decode parses a complete, kind-tag-prefixed frame.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < 1 {
		return nil, errBadPacket
	}
	p, err := newByKind(Kind(buf[0]))
	if err != nil {
		return nil, err
	}
	if err := p.unmarshal(buf[1:]); err != nil {
		return nil, err
	}
	return p, nil
}

// newByKind returns a zero-valued, addressable Packet for the given kind
// so its unmarshal method can be called.
func newByKind(k Kind) (Packet, error) {
	switch k {
	case KindConn:
		return &Conn{}, nil
	case KindConnAcc:
		return &ConnAcc{}, nil
	case KindConnRjt:
		return &ConnRjt{}, nil
	case KindData:
		return &Data{}, nil
	case KindAcc:
		return &Acc{}, nil
	case KindRjt:
		return &Rjt{}, nil
	case KindRcvd:
		return &Rcvd{}, nil
	default:
		return nil, errors.Errorf("unknown packet kind %d", byte(k))
	}
}

// readBuf is a cursor over an undecoded packet body, mirroring the
// teacher's big-endian field-extraction helper.
type readBuf []byte

func (b *readBuf) byte() byte {
	c := (*b)[0]
	*b = (*b)[1:]
	return c
}

func (b *readBuf) uint32() uint32 {
	n := uint32(b.byte())<<24 | uint32(b.byte())<<16 | uint32(b.byte())<<8 | uint32(b.byte())
	return n
}

func (b *readBuf) uint64() uint64 {
	var n uint64
	for i := 0; i < 8; i++ {
		n = n<<8 | uint64(b.byte())
	}
	return n
}

func (b *readBuf) bytes(n int) []byte {
	buf := append([]byte(nil), (*b)[:n]...)
	*b = (*b)[n:]
	return buf
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendUint64(b []byte, v uint64) []byte {
	return append(b,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
