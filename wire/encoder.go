package wire

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/meszmate/mailcore/wire/utf7"
)

// DateTimeLayout is the IMAP date-time format used by APPEND.
const DateTimeLayout = "02-Jan-2006 15:04:05 -0700"

// ErrUnquotable is reported for a string that a quoted string cannot carry.
var ErrUnquotable = errors.New("wire: CR, LF or NUL in quoted string")

// Encoder builds a single IMAP command line.
// It provides a fluent API; Bytes returns the line including CRLF. Check Err
// before sending.
type Encoder struct {
	b   strings.Builder
	err error
}

// NewEncoder starts a command with the given tag and name.
func NewEncoder(tag, name string) *Encoder {
	e := &Encoder{}
	e.b.WriteString(tag)
	e.b.WriteByte(' ')
	e.b.WriteString(name)
	return e
}

// SP writes a space.
func (e *Encoder) SP() *Encoder {
	e.b.WriteByte(' ')
	return e
}

// Atom writes s verbatim.
func (e *Encoder) Atom(s string) *Encoder {
	e.b.WriteString(s)
	return e
}

// Number writes an unsigned number.
func (e *Encoder) Number(n uint64) *Encoder {
	e.b.WriteString(strconv.FormatUint(n, 10))
	return e
}

// QuotedString writes s as a quoted string, escaping backslash and quote.
// A string that fails CanQuote is not written and sets Err.
func (e *Encoder) QuotedString(s string) *Encoder {
	if !CanQuote(s) {
		if e.err == nil {
			e.err = ErrUnquotable
		}
		return e
	}
	e.b.WriteString(Quote(s))
	return e
}

// Mailbox writes a mailbox name encoded in modified UTF-7 and quoted.
func (e *Encoder) Mailbox(name string) *Encoder {
	return e.QuotedString(utf7.Encode(name))
}

// List writes a parenthesized, space-separated list of atoms.
func (e *Encoder) List(items []string) *Encoder {
	e.b.WriteByte('(')
	e.b.WriteString(strings.Join(items, " "))
	e.b.WriteByte(')')
	return e
}

// DateTime writes a quoted IMAP date-time.
func (e *Encoder) DateTime(t time.Time) *Encoder {
	return e.QuotedString(t.Format(DateTimeLayout))
}

// LiteralHeader writes a literal marker "{n}" or, for non-synchronizing
// literals, "{n+}". The caller sends the payload after the line.
func (e *Encoder) LiteralHeader(size int64, nonSync bool) *Encoder {
	e.b.WriteByte('{')
	e.b.WriteString(strconv.FormatInt(size, 10))
	if nonSync {
		e.b.WriteByte('+')
	}
	e.b.WriteByte('}')
	return e
}

// Err returns the first argument that could not be encoded.
func (e *Encoder) Err() error {
	return e.err
}

// String returns the command without CRLF.
func (e *Encoder) String() string {
	return e.b.String()
}

// Bytes returns the command terminated by CRLF.
func (e *Encoder) Bytes() []byte {
	return []byte(e.b.String() + "\r\n")
}

// CanQuote reports whether s fits in a quoted string. CR and LF would end
// the command line and NUL is not allowed anywhere in IMAP.
func CanQuote(s string) bool {
	return !strings.ContainsAny(s, "\r\n\x00")
}

// Quote returns s as an IMAP quoted string. s must satisfy CanQuote.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}
