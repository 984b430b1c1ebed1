package ppcb

import (
	"io"

	"github.com/pkg/errors"
)

// Producer emits DATA-sized chunks from an input byte stream. It is a
// pure iterator: it carries no protocol state, matching spec.md §4.4.
type Producer struct {
	r         io.Reader
	chunkSize int
	packetNo  uint32
	done      bool
}

// NewProducer wraps r, chunking reads into Optimal-sized pieces.
func NewProducer(r io.Reader) *Producer {
	return &Producer{r: r, chunkSize: Optimal}
}

// Next returns the next chunk and its packet number, or (nil, 0, io.EOF)
// once the input stream is exhausted.
func (p *Producer) Next() ([]byte, uint32, error) {
	if p.done {
		return nil, 0, io.EOF
	}
	buf := make([]byte, p.chunkSize)
	n, err := io.ReadFull(p.r, buf)
	switch {
	case err == nil:
		no := p.packetNo
		p.packetNo++
		return buf, no, nil
	case err == io.ErrUnexpectedEOF || err == io.EOF:
		p.done = true
		if n == 0 {
			return nil, 0, io.EOF
		}
		no := p.packetNo
		p.packetNo++
		return buf[:n], no, nil
	default:
		return nil, 0, errors.Wrap(err, "ppcb: producer read")
	}
}

// Consumer writes accepted DATA payloads to an output stream in order,
// flushing (if the writer supports it) after each write.
type Consumer struct {
	w        io.Writer
	expected uint32
}

// NewConsumer wraps w.
func NewConsumer(w io.Writer) *Consumer { return &Consumer{w: w} }

// flusher is implemented by writers that buffer and can be told to push
// bytes out immediately (e.g. *bufio.Writer).
type flusher interface{ Flush() error }

// Accept writes one DATA payload, enforcing in-order delivery.
func (c *Consumer) Accept(packetNo uint32, data []byte) error {
	if packetNo != c.expected {
		return errors.Errorf("ppcb: consumer expected packet %d, got %d", c.expected, packetNo)
	}
	if _, err := c.w.Write(data); err != nil {
		return errors.Wrap(err, "ppcb: consumer write")
	}
	if f, ok := c.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return errors.Wrap(err, "ppcb: consumer flush")
		}
	}
	c.expected++
	return nil
}
