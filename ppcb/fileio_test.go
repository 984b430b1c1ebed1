package ppcb

import (
	"bytes"
	"io"
	"testing"
)

func TestProducerChunking(t *testing.T) {
	data := make([]byte, Optimal*2+17)
	for i := range data {
		data[i] = byte(i)
	}
	p := NewProducer(bytes.NewReader(data))

	var got []byte
	var lastNo uint32
	count := 0
	for {
		chunk, no, err := p.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if no != uint32(count) {
			t.Fatalf("packet_no = %d, want %d", no, count)
		}
		lastNo = no
		got = append(got, chunk...)
		count++
	}
	if !bytes.Equal(got, data) {
		t.Fatal("reassembled data does not match input")
	}
	if count != 3 {
		t.Fatalf("expected 3 chunks, got %d", count)
	}
	if lastNo != 2 {
		t.Fatalf("last packet_no = %d, want 2", lastNo)
	}
}

func TestProducerEmptyInput(t *testing.T) {
	p := NewProducer(bytes.NewReader(nil))
	if _, _, err := p.Next(); err != io.EOF {
		t.Fatalf("Next on empty input: %v, want io.EOF", err)
	}
}

func TestConsumerEnforcesOrder(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsumer(&buf)
	if err := c.Accept(0, []byte("abc")); err != nil {
		t.Fatalf("Accept(0): %v", err)
	}
	if err := c.Accept(2, []byte("xyz")); err == nil {
		t.Fatal("expected error accepting out-of-order packet")
	}
	if err := c.Accept(1, []byte("def")); err != nil {
		t.Fatalf("Accept(1): %v", err)
	}
	if buf.String() != "abcdef" {
		t.Fatalf("consumer wrote %q, want %q", buf.String(), "abcdef")
	}
}

func TestProducerConsumerRoundTrip(t *testing.T) {
	data := make([]byte, Optimal*3+1)
	for i := range data {
		data[i] = byte(i * 7)
	}
	p := NewProducer(bytes.NewReader(data))
	var out bytes.Buffer
	c := NewConsumer(&out)
	for {
		chunk, no, err := p.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if err := c.Accept(no, chunk); err != nil {
			t.Fatalf("Accept(%d): %v", no, err)
		}
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatal("round trip mismatch")
	}
}
