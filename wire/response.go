package wire

import (
	"context"
	"strconv"
	"strings"
)

// Literal is one literal taken from a response.
type Literal struct {
	// Data holds the retained bytes, at most the keep limit passed to
	// ReadResponse.
	Data []byte
	// Size is the byte count the server declared.
	Size int64
}

// Truncated reports whether bytes were discarded.
func (l Literal) Truncated() bool {
	return int64(len(l.Data)) < l.Size
}

// Response is one logical server response: the first line plus any lines
// that follow literals. Text keeps every "{n}" marker in place, immediately
// followed by the text of the line after the literal; Literals holds the
// payloads in order.
type Response struct {
	Text     string
	Literals []Literal
}

// ReadResponse reads the next response from r. Literal payloads beyond keep
// bytes are consumed but not retained; a negative keep retains everything.
func ReadResponse(ctx context.Context, r *LineReader, keep int64) (*Response, error) {
	var (
		resp Response
		text strings.Builder
	)
	for {
		line, err := r.ReadLine(ctx)
		if err != nil {
			return nil, err
		}
		text.WriteString(line)
		size, ok := LiteralSize(line)
		if !ok {
			break
		}
		data, err := r.ReadLiteral(ctx, size, keep)
		if err != nil {
			return nil, err
		}
		resp.Literals = append(resp.Literals, Literal{Data: data, Size: size})
	}
	resp.Text = text.String()
	return &resp, nil
}

// LiteralSize reports the byte count of a literal marker ("{n}" or "{n+}")
// ending line.
func LiteralSize(line string) (int64, bool) {
	if !strings.HasSuffix(line, "}") {
		return 0, false
	}
	open := strings.LastIndexByte(line, '{')
	if open < 0 {
		return 0, false
	}
	digits := strings.TrimSuffix(line[open+1:len(line)-1], "+")
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, false
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
