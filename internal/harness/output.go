package harness

import "strings"

// limitedBuffer captures snippet print output up to a byte cap. Diagnostic
// output past the cap is dropped and the truncation is flagged; unlike the
// reply body, diagnostics may be cut without failing the request.
type limitedBuffer struct {
	buf       strings.Builder
	remaining int
	truncated bool
}

func newLimitedBuffer(limit int) *limitedBuffer {
	return &limitedBuffer{remaining: limit}
}

func (b *limitedBuffer) WriteLine(s string) {
	if b.remaining <= 0 {
		b.truncated = true
		return
	}
	if len(s)+1 > b.remaining {
		// The newline below spends one byte of the budget too.
		s = s[:b.remaining-1]
		b.truncated = true
	}
	b.buf.WriteString(s)
	b.buf.WriteByte('\n')
	b.remaining -= len(s) + 1
}

func (b *limitedBuffer) String() string { return b.buf.String() }

func (b *limitedBuffer) Truncated() bool { return b.truncated }
