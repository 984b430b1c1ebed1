package cards

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Transcript is the writer-only connection logger of spec.md §4.9: one
// line per accepted inbound or successfully transmitted outbound wire
// line, strictly ordered, best-effort (a write failure here never
// aborts the game).
type Transcript struct {
	w   io.Writer
	now func() time.Time
}

// NewTranscript wraps w (typically a dup of standard output, or any
// sink an entry shell chooses to wire in).
func NewTranscript(w io.Writer) *Transcript {
	return &Transcript{w: w, now: time.Now}
}

// LogInbound records one accepted inbound line: src is the peer that
// sent it, dst is the local socket that received it.
func (t *Transcript) LogInbound(src, dst, payload string) {
	t.log(src, dst, payload)
}

// LogOutbound records one fully-transmitted outbound line: src is the
// local socket, dst is the peer it was sent to.
func (t *Transcript) LogOutbound(src, dst, payload string) {
	t.log(src, dst, payload)
}

func (t *Transcript) log(src, dst, payload string) {
	if t == nil || t.w == nil {
		return
	}
	line := fmt.Sprintf("[%s,%s,%s] %s\n", src, dst, t.now().UTC().Format("2006-01-02T15:04:05.000Z"), escapeCRLF(payload))
	_, _ = t.w.Write([]byte(line))
}

// escapeCRLF renders CR and LF visibly (other control characters pass
// through unchanged), matching the "payload
// including CRLF escapes" wording of spec.md §4.9 (the wire payload
// itself never contains CR or LF once the line codec has split it, but
// a malformed peer's raw bytes might reach here via a parse-error path).
func escapeCRLF(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
