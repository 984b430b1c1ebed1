package ppcb

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

func TestStreamTransferRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := bytes.Repeat([]byte("hello ppcb "), 500) // > Optimal, multiple DATA packets

	serverErr := make(chan error, 1)
	var received bytes.Buffer
	go func() {
		serverErr <- ServeStreamConn(server, &received, nil)
	}()

	clientErr := make(chan error, 1)
	go func() {
		tr := NewStreamTransport(client, time.Time{})
		clientErr <- ClientTransfer(tr, 7, ProtoTCP, true, false, bytes.NewReader(payload), nil)
	}()

	if err := <-clientErr; err != nil {
		t.Fatalf("ClientTransfer: %v", err)
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("ServeStreamConn: %v", err)
	}
	if !bytes.Equal(received.Bytes(), payload) {
		t.Fatalf("received %d bytes, want %d bytes, mismatch", received.Len(), len(payload))
	}
}

func TestStreamTransferEmptyFile(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverErr := make(chan error, 1)
	var received bytes.Buffer
	go func() {
		serverErr <- ServeStreamConn(server, &received, nil)
	}()

	clientErr := make(chan error, 1)
	go func() {
		tr := NewStreamTransport(client, time.Time{})
		clientErr <- ClientTransfer(tr, 1, ProtoTCP, true, false, bytes.NewReader(nil), nil)
	}()

	if err := <-clientErr; err != nil {
		t.Fatalf("ClientTransfer: %v", err)
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("ServeStreamConn: %v", err)
	}
	if received.Len() != 0 {
		t.Fatalf("expected empty transfer, got %d bytes", received.Len())
	}
}

func runDatagramTransfer(t *testing.T, proto Protocol, hasRetransmit bool) {
	t.Helper()

	serverPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer serverPC.Close()

	clientPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer clientPC.Close()

	payload := bytes.Repeat([]byte("x"), Optimal*3+9)
	var received bytes.Buffer

	srv := NewDatagramServer(serverPC, func() io.Writer { return &received }, nil)
	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.serveOne() }()

	clientTr := NewDatagramClientTransport(clientPC, serverPC.LocalAddr(), time.Time{})
	if err := ClientTransfer(clientTr, 99, proto, false, hasRetransmit, bytes.NewReader(payload), nil); err != nil {
		t.Fatalf("ClientTransfer: %v", err)
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("datagram server: %v", err)
	}
	if !bytes.Equal(received.Bytes(), payload) {
		t.Fatalf("received %d bytes, want %d bytes", received.Len(), len(payload))
	}
}

func TestDatagramTransferRoundTrip(t *testing.T) {
	runDatagramTransfer(t, ProtoUDP, false)
}

func TestDatagramRetransmitTransferRoundTrip(t *testing.T) {
	runDatagramTransfer(t, ProtoUDPR, true)
}

// TestServerSkipsDuplicateConnAndData exercises spec.md §8 scenario 2:
// a retransmitted CONN (CONNACC lost) and a retransmitted DATA(k)
// (ACC(k)/RJT(k) lost) must both be silently discarded by get_next's
// skip-set rather than aborting the session or drawing a spurious RJT.
func TestServerSkipsDuplicateConnAndData(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := []byte("ab") // dataLen = 2, two one-byte DATA packets
	serverErr := make(chan error, 1)
	var received bytes.Buffer
	go func() {
		serverErr <- ServeStreamConn(server, &received, nil)
	}()

	ctr := NewStreamTransport(client, time.Time{})
	if err := sendRaw(ctr, &Conn{SessionID: 11, Proto: ProtoTCP, DataLen: uint64(len(payload))}); err != nil {
		t.Fatalf("send CONN: %v", err)
	}
	p, err := readPacket(ctr)
	if err != nil {
		t.Fatalf("read CONNACC: %v", err)
	}
	if _, ok := p.(*ConnAcc); !ok {
		t.Fatalf("expected CONNACC, got %T", p)
	}

	// Retransmitted CONN, as if the client never saw the CONNACC above.
	if err := sendRaw(ctr, &Conn{SessionID: 11, Proto: ProtoTCP, DataLen: uint64(len(payload))}); err != nil {
		t.Fatalf("resend CONN: %v", err)
	}
	// The real DATA(0).
	if err := sendRaw(ctr, &Data{SessionID: 11, PacketNum: 0, Bytes: payload[:1]}); err != nil {
		t.Fatalf("send DATA(0): %v", err)
	}
	// Retransmitted DATA(0), as if the client never saw the prior ACC/RJT.
	if err := sendRaw(ctr, &Data{SessionID: 11, PacketNum: 0, Bytes: payload[:1]}); err != nil {
		t.Fatalf("resend DATA(0): %v", err)
	}
	// DATA(1) completes the transfer; the server answers RCVD.
	if err := sendRaw(ctr, &Data{SessionID: 11, PacketNum: 1, Bytes: payload[1:]}); err != nil {
		t.Fatalf("send DATA(1): %v", err)
	}
	p, err = readPacket(ctr)
	if err != nil {
		t.Fatalf("read RCVD: %v", err)
	}
	if _, ok := p.(*Rcvd); !ok {
		t.Fatalf("expected RCVD, got %T", p)
	}

	if err := <-serverErr; err != nil {
		t.Fatalf("ServeStreamConn: %v", err)
	}
	if !bytes.Equal(received.Bytes(), payload) {
		t.Fatalf("received %q, want %q (duplicates must not be written twice)", received.Bytes(), payload)
	}
}

// TestServerRejectsZeroByteDataWhenDataLenNonzero covers spec.md §8's
// boundary rule: a zero-length DATA is only valid when data_len == 0
// at CONN time; with a nonzero data_len it must be answered with RJT,
// not silently accepted as a no-op that advances the sequence.
func TestServerRejectsZeroByteDataWhenDataLenNonzero(t *testing.T) {
	serverPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer serverPC.Close()
	clientPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer clientPC.Close()

	var received bytes.Buffer
	srv := NewDatagramServer(serverPC, func() io.Writer { return &received }, nil)
	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.serveOne() }()

	ctr := NewDatagramClientTransport(clientPC, serverPC.LocalAddr(), time.Now().Add(2*time.Second))
	if err := sendRaw(ctr, &Conn{SessionID: 22, Proto: ProtoUDPR, DataLen: 3}); err != nil {
		t.Fatalf("send CONN: %v", err)
	}
	if err := ctr.(*datagramTransport).ReceiveNext(); err != nil {
		t.Fatalf("receive CONNACC: %v", err)
	}
	p, err := readPacket(ctr)
	if err != nil {
		t.Fatalf("decode CONNACC: %v", err)
	}
	if _, ok := p.(*ConnAcc); !ok {
		t.Fatalf("expected CONNACC, got %T", p)
	}

	if err := sendRaw(ctr, &Data{SessionID: 22, PacketNum: 0, Bytes: nil}); err != nil {
		t.Fatalf("send zero-byte DATA: %v", err)
	}
	if err := ctr.(*datagramTransport).ReceiveNext(); err != nil {
		t.Fatalf("receive reply: %v", err)
	}
	reply, err := readPacket(ctr)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if _, ok := reply.(*Rjt); !ok {
		t.Fatalf("expected RJT for zero-byte DATA against nonzero data_len, got %T", reply)
	}

	// Now send the real 3-byte DATA(0) to let the server finish cleanly.
	if err := sendRaw(ctr, &Data{SessionID: 22, PacketNum: 0, Bytes: []byte("xyz")}); err != nil {
		t.Fatalf("send DATA(0): %v", err)
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("datagram server: %v", err)
	}
	if received.String() != "xyz" {
		t.Fatalf("received %q, want %q", received.String(), "xyz")
	}
}

func TestClientReceivesConnRjt(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		tr := NewStreamTransport(server, time.Time{})
		p, err := readPacket(tr)
		if err != nil {
			return
		}
		c, ok := p.(*Conn)
		if !ok {
			return
		}
		_ = sendRaw(tr, &ConnRjt{SessionID: c.SessionID})
		server.Close()
	}()

	tr := NewStreamTransport(client, time.Time{})
	err := ClientTransfer(tr, 5, ProtoTCP, true, false, bytes.NewReader([]byte("data")), nil)
	if err != ErrConnRejected {
		t.Fatalf("ClientTransfer error = %v, want ErrConnRejected", err)
	}
}
