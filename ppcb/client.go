package ppcb

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ClientTransfer drives the whole client side of one PPCB transfer
// (spec.md §4.3.1's common frame sequence) over an already-connected
// Transport: it reads r fully to learn data_len, sends CONN, waits for
// the server's decision, streams DATA chunks (awaiting per-chunk ACC/RJT
// only on the retransmit variant), and waits for the closing RCVD.
//
// Any error is fatal for the transfer (spec.md §7): the caller is
// expected to report it and exit non-zero, except when the error is
// ErrConnRejected, which is a clean, successful termination (Open
// Question 2: CONNRJT on the client exits 0).
func ClientTransfer(tr Transport, id uint64, proto Protocol, usesStream, hasRetransmit bool, r io.Reader, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "ppcb: read input")
	}

	s := NewSession(id, tr, tr.Addr(), usesStream, hasRetransmit, false, log)

	if err := s.Send(&Conn{SessionID: SessionID(id), Proto: proto, DataLen: uint64(len(data))}); err != nil {
		return err
	}
	log.Debug("sent CONN", zap.Uint64("session", id), zap.Int("data_len", len(data)))

	reply, err := s.GetNext(nil)
	if err != nil {
		return err
	}
	switch r := reply.(type) {
	case *ConnRjt:
		log.Info("server rejected CONN", zap.Uint64("session", id))
		return ErrConnRejected
	case *ConnAcc:
		_ = r
	default:
		return ErrUnexpectedPacket{Want: KindConnAcc, Got: reply.Kind()}
	}

	producer := NewProducer(bytes.NewReader(data))
	var lastSkip SkipSet
	for {
		chunk, no, perr := producer.Next()
		if perr == io.EOF {
			break
		}
		if perr != nil {
			return perr
		}
		if err := s.Send(&Data{SessionID: SessionID(id), PacketNum: no, Bytes: chunk}); err != nil {
			return err
		}
		log.Debug("sent DATA", zap.Uint64("session", id), zap.Uint32("packet_no", no))

		if hasRetransmit {
			ack, err := s.GetNext(SkipSet{{Kind: KindConnAcc}})
			if err != nil {
				return err
			}
			switch a := ack.(type) {
			case *Acc:
				if a.PacketNum != no {
					return ErrUnexpectedPacket{Want: KindAcc, Got: ack.Kind()}
				}
			case *Rjt:
				return ErrRejectedData{PacketNo: a.PacketNum}
			default:
				return ErrUnexpectedPacket{Want: KindAcc, Got: ack.Kind()}
			}
			lastSkip = SkipSet{{Kind: KindAcc, Expected: no + 1}, {Kind: KindRjt, Expected: no + 1}}
		}
	}

	final, err := s.GetNext(append(SkipSet{{Kind: KindConnAcc}}, lastSkip...))
	if err != nil {
		return err
	}
	if final.Kind() != KindRcvd {
		return ErrUnexpectedPacket{Want: KindRcvd, Got: final.Kind()}
	}
	log.Info("transfer complete", zap.Uint64("session", id), zap.Int("bytes", len(data)))
	return nil
}

// ErrConnRejected is returned by ClientTransfer when the server answers
// CONN with CONNRJT; callers should treat this as a clean exit (status 0).
var ErrConnRejected = errors.New("ppcb: connection rejected by server")
