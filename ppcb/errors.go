package ppcb

import (
	"fmt"

	"github.com/pkg/errors"
)

// The error taxonomy of spec.md §7, realised as sentinel values and
// small wrapper types so callers can classify a failure with
// errors.Is/errors.As over a github.com/pkg/errors-wrapped chain.
var (
	// ErrTimeout means no forward progress was made within the budget.
	ErrTimeout = errors.New("ppcb: timeout")
	// ErrTruncatedPacket means a datagram payload was shorter than declared.
	ErrTruncatedPacket = errors.New("ppcb: truncated packet")
	// ErrSessionMismatch is fatal on the stream variant: an inbound frame
	// carried a session id that does not match the connection's session.
	ErrSessionMismatch = errors.New("ppcb: session mismatch")
)

// ErrUnexpectedPacket means a frame of the wrong kind or wrong packet
// number arrived where an exact kind/number was expected.
type ErrUnexpectedPacket struct {
	Want Kind
	Got  Kind
}

func (e ErrUnexpectedPacket) Error() string {
	return fmt.Sprintf("ppcb: unexpected packet: want %s, got %s", e.Want, e.Got)
}

// ErrRejectedData means the peer sent RJT(k) for a chunk this side sent.
type ErrRejectedData struct{ PacketNo uint32 }

func (e ErrRejectedData) Error() string {
	return fmt.Sprintf("ppcb: data packet %d rejected by peer", e.PacketNo)
}

// ErrMalformedData means a DATA packet's declared byte_count exceeded
// DMAX or its payload was shorter than declared.
type ErrMalformedData struct{ PacketNo uint32 }

func (e ErrMalformedData) Error() string {
	return fmt.Sprintf("ppcb: malformed data packet %d", e.PacketNo)
}
