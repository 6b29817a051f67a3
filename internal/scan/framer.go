package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrSourceDisconnected is returned when the underlying byte stream ends or fails.
var ErrSourceDisconnected = errors.New("scan source disconnected")

// Framer splits a newline-delimited byte stream into tokens.
// Reads are not assumed to line up with token boundaries.
type Framer struct {
	buf bytes.Buffer
}

// Feed appends p to the pending buffer and returns every token completed by it.
func (f *Framer) Feed(p []byte) []string {
	var tokens []string
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			f.buf.Write(p)
			break
		}
		f.buf.Write(p[:i])
		p = p[i+1:]
		if tok := strings.TrimSpace(f.buf.String()); tok != "" {
			tokens = append(tokens, tok)
		}
		f.buf.Reset()
	}
	return tokens
}

// Pending reports how many unterminated bytes are buffered.
func (f *Framer) Pending() int { return f.buf.Len() }

// Reset drops any unterminated input.
func (f *Framer) Reset() { f.buf.Reset() }

// Run reads r until it fails, calling emit for each token in arrival order.
// It always returns a non-nil error: ctx.Err() on cancellation, otherwise an
// error matching ErrSourceDisconnected. A partial token left in the buffer
// at that point is discarded.
func (f *Framer) Run(ctx context.Context, r io.Reader, emit func(string)) error {
	chunk := make([]byte, 256)
	defer f.Reset()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			for _, tok := range f.Feed(chunk[:n]) {
				emit(tok)
			}
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, io.EOF) {
				return ErrSourceDisconnected
			}
			return fmt.Errorf("%w: %v", ErrSourceDisconnected, err)
		}
	}
}
