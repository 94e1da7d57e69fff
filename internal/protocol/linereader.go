package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrNoData is returned by LineReader.ReadLine when a read window
// elapses without any bytes arriving.
var ErrNoData = errors.New("no data within read window")

// LineReader yields newline-terminated lines from a serial-style
// reader: one whose Read blocks up to a configured timeout and returns
// n == 0 with a nil error when the window elapses. Partial lines are
// buffered across calls.
type LineReader struct {
	r       io.Reader
	pending []byte
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: r}
}

// ReadLine returns the next line without its terminator. An empty read
// window produces ErrNoData; the caller decides whether that is a
// retryable lull or a timeout.
func (lr *LineReader) ReadLine() (string, error) {
	for {
		if i := bytes.IndexByte(lr.pending, '\n'); i >= 0 {
			line := string(bytes.TrimSuffix(lr.pending[:i], []byte{'\r'}))
			lr.pending = lr.pending[i+1:]
			return line, nil
		}

		chunk := make([]byte, 256)
		n, err := lr.r.Read(chunk)
		if err != nil {
			return "", fmt.Errorf("reading line: %w", err)
		}
		if n == 0 {
			return "", ErrNoData
		}

		lr.pending = append(lr.pending, chunk[:n]...)
	}
}
