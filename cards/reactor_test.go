package cards

import (
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (aFD, bFD int, cleanup func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server := <-accepted

	af, err := dupFD(client.(*net.TCPConn))
	if err != nil {
		t.Fatalf("dup client: %v", err)
	}
	bf, err := dupFD(server.(*net.TCPConn))
	if err != nil {
		t.Fatalf("dup server: %v", err)
	}
	client.Close()
	server.Close()
	return af, bf, func() { unix.Close(af); unix.Close(bf) }
}

func TestReactorReportsReadReadiness(t *testing.T) {
	a, b, cleanup := socketpair(t)
	defer cleanup()

	r := NewReactor()
	ha := r.Add(a)
	hb := r.Add(b)
	r.SetEvents(ha, EventRead)
	r.SetEvents(hb, EventRead)

	if _, err := unix.Write(a, []byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Events(hb)&EventRead == 0 {
		t.Error("expected read-ready on b")
	}
	if r.Events(ha)&EventRead != 0 {
		t.Error("did not expect read-ready on a")
	}
}

func TestReactorDeadlineExpires(t *testing.T) {
	a, b, cleanup := socketpair(t)
	defer cleanup()

	r := NewReactor()
	ha := r.Add(a)
	_ = r.Add(b)
	r.SetDeadline(ha, 20)

	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !r.TimedOut(ha) {
		t.Error("expected ha to report timed out")
	}
}

func TestReactorSlotReuseAfterRemove(t *testing.T) {
	r := NewReactor()
	h1 := r.Add(1)
	r.Remove(h1)
	h2 := r.Add(2)
	if h1 != h2 {
		t.Errorf("expected freed slot reuse: h1=%d h2=%d", h1, h2)
	}
}

func TestReactorClearDeadlineDisarms(t *testing.T) {
	r := NewReactor()
	h := r.Add(1)
	other := r.Add(2)
	r.SetDeadline(h, 5)
	r.ClearDeadline(h)
	r.SetDeadline(other, 20) // gives Run something to wait on besides h

	start := time.Now()
	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("Run returned suspiciously early")
	}
	if r.TimedOut(h) {
		t.Error("cleared deadline should not fire")
	}
	if !r.TimedOut(other) {
		t.Error("expected other to time out")
	}
}
