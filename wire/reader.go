// Package wire frames the mail protocols on top of a chunked byte stream.
//
// LineReader turns transport chunks into CRLF-terminated lines and
// exact-count literals, Writer serializes outgoing writes, and Decoder
// tokenizes an assembled IMAP response.
package wire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// Source produces chunks of bytes; transport.Transport satisfies it.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
}

// ErrLineTooLong is returned when no CRLF is seen within the line limit.
var ErrLineTooLong = errors.New("wire: line too long")

// LineReader reads CRLF-terminated lines and raw literals from a Source.
// It owns its buffer and is not safe for concurrent use.
type LineReader struct {
	src     Source
	buf     []byte
	eof     bool
	maxLine int
}

// NewLineReader returns a reader over src. maxLine bounds the length of a
// single line; zero means unlimited.
func NewLineReader(src Source, maxLine int) *LineReader {
	return &LineReader{src: src, maxLine: maxLine}
}

// ReadLine returns the next line without its CRLF. A final partial line at
// end of stream is returned once; after that ReadLine returns io.EOF.
func (r *LineReader) ReadLine(ctx context.Context) (string, error) {
	scanned := 0
	for {
		if i := bytes.Index(r.buf[scanned:], crlf); i >= 0 {
			end := scanned + i
			line := string(r.buf[:end])
			r.consume(end + 2)
			return line, nil
		}
		if r.eof {
			if len(r.buf) == 0 {
				return "", io.EOF
			}
			line := string(r.buf)
			r.buf = r.buf[:0]
			return line, nil
		}
		if r.maxLine > 0 && len(r.buf) > r.maxLine {
			return "", fmt.Errorf("%w: more than %d bytes", ErrLineTooLong, r.maxLine)
		}
		// A CR at the very end may pair with an LF in the next chunk.
		scanned = max(len(r.buf)-1, 0)
		if err := r.fill(ctx); err != nil {
			return "", err
		}
	}
}

// ReadLiteral consumes exactly n bytes, taking what is already buffered
// first. At most keep bytes are retained and returned; the rest is
// discarded. A negative keep retains everything.
func (r *LineReader) ReadLiteral(ctx context.Context, n, keep int64) ([]byte, error) {
	if keep < 0 || keep > n {
		keep = n
	}
	out := make([]byte, 0, keep)
	remaining := n
	for remaining > 0 {
		if len(r.buf) == 0 {
			if r.eof {
				return out, io.ErrUnexpectedEOF
			}
			if err := r.fill(ctx); err != nil {
				return out, err
			}
			continue
		}
		take := min(int64(len(r.buf)), remaining)
		if room := keep - int64(len(out)); room > 0 {
			out = append(out, r.buf[:min(take, room)]...)
		}
		r.consume(int(take))
		remaining -= take
	}
	return out, nil
}

// Buffered returns the number of bytes read from the source but not yet
// consumed.
func (r *LineReader) Buffered() int {
	return len(r.buf)
}

func (r *LineReader) fill(ctx context.Context) error {
	chunk, err := r.src.Read(ctx)
	if len(chunk) > 0 {
		r.buf = append(r.buf, chunk...)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.eof = true
			return nil
		}
		return err
	}
	return nil
}

func (r *LineReader) consume(n int) {
	rest := copy(r.buf, r.buf[n:])
	r.buf = r.buf[:rest]
}

var crlf = []byte("\r\n")
