package wire

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Decoder tokenizes an assembled IMAP response. Literal markers in the text
// resolve to the response's literals in order.
type Decoder struct {
	s    string
	pos  int
	lits []Literal
	next int
}

// NewDecoder returns a Decoder over resp.
func NewDecoder(resp *Response) *Decoder {
	return &Decoder{s: resp.Text, lits: resp.Literals}
}

// NewStringDecoder returns a Decoder over a response without literals.
func NewStringDecoder(s string) *Decoder {
	return &Decoder{s: s}
}

// AtEnd reports whether all input was consumed.
func (d *Decoder) AtEnd() bool {
	return d.pos >= len(d.s)
}

// PeekByte returns the next byte without consuming it.
func (d *Decoder) PeekByte() (byte, error) {
	if d.AtEnd() {
		return 0, io.ErrUnexpectedEOF
	}
	return d.s[d.pos], nil
}

// ExpectByte reads a byte and returns an error if it doesn't match.
func (d *Decoder) ExpectByte(expected byte) error {
	b, err := d.PeekByte()
	if err != nil {
		return err
	}
	if b != expected {
		return fmt.Errorf("imap: expected %q, got %q at %d", expected, b, d.pos)
	}
	d.pos++
	return nil
}

// ReadSP reads a single space character.
func (d *Decoder) ReadSP() error {
	return d.ExpectByte(' ')
}

// SkipSpaces consumes any run of spaces.
func (d *Decoder) SkipSpaces() {
	for d.pos < len(d.s) && d.s[d.pos] == ' ' {
		d.pos++
	}
}

// ReadAtom reads an atom (a sequence of non-special characters).
func (d *Decoder) ReadAtom() (string, error) {
	start := d.pos
	for d.pos < len(d.s) && isAtomChar(d.s[d.pos]) {
		d.pos++
	}
	if d.pos == start {
		if d.AtEnd() {
			return "", io.ErrUnexpectedEOF
		}
		return "", fmt.Errorf("imap: expected atom at %d", start)
	}
	return d.s[start:d.pos], nil
}

// ReadQuotedString reads a quoted string, resolving backslash escapes.
func (d *Decoder) ReadQuotedString() (string, error) {
	if err := d.ExpectByte('"'); err != nil {
		return "", err
	}
	var b strings.Builder
	for d.pos < len(d.s) {
		ch := d.s[d.pos]
		d.pos++
		switch ch {
		case '"':
			return b.String(), nil
		case '\\':
			if d.AtEnd() {
				return "", io.ErrUnexpectedEOF
			}
			b.WriteByte(d.s[d.pos])
			d.pos++
		default:
			b.WriteByte(ch)
		}
	}
	return "", fmt.Errorf("imap: unterminated quoted string")
}

// ReadLiteral reads a literal marker like {42} or {42+} and returns the
// corresponding literal.
func (d *Decoder) ReadLiteral() (Literal, error) {
	if err := d.ExpectByte('{'); err != nil {
		return Literal{}, err
	}
	end := strings.IndexByte(d.s[d.pos:], '}')
	if end < 0 {
		return Literal{}, fmt.Errorf("imap: unterminated literal marker")
	}
	digits := strings.TrimSuffix(d.s[d.pos:d.pos+end], "+")
	size, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return Literal{}, fmt.Errorf("imap: invalid literal size: %w", err)
	}
	d.pos += end + 1
	if d.next >= len(d.lits) {
		return Literal{}, fmt.Errorf("imap: literal {%d} without payload", size)
	}
	lit := d.lits[d.next]
	d.next++
	if lit.Size != size {
		return Literal{}, fmt.Errorf("imap: literal size mismatch: marker %d, payload %d", size, lit.Size)
	}
	return lit, nil
}

// ReadString reads either a quoted string, literal, or atom.
func (d *Decoder) ReadString() (string, error) {
	b, err := d.PeekByte()
	if err != nil {
		return "", err
	}
	switch b {
	case '"':
		return d.ReadQuotedString()
	case '{':
		lit, err := d.ReadLiteral()
		if err != nil {
			return "", err
		}
		return string(lit.Data), nil
	default:
		return d.ReadAtom()
	}
}

// ReadNString reads a nstring (NIL or string). Returns empty string and false for NIL.
func (d *Decoder) ReadNString() (string, bool, error) {
	if d.peekNIL() {
		d.pos += 3
		return "", false, nil
	}
	s, err := d.ReadString()
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

func (d *Decoder) peekNIL() bool {
	if len(d.s)-d.pos < 3 || !strings.EqualFold(d.s[d.pos:d.pos+3], "NIL") {
		return false
	}
	return d.pos+3 == len(d.s) || !isAtomChar(d.s[d.pos+3])
}

// ReadNumber reads an unsigned number.
func (d *Decoder) ReadNumber() (uint32, error) {
	atom, err := d.ReadAtom()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(atom, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("imap: invalid number %q: %w", atom, err)
	}
	return uint32(n), nil
}

// ReadNumber64 reads a 64-bit unsigned number.
func (d *Decoder) ReadNumber64() (uint64, error) {
	atom, err := d.ReadAtom()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(atom, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("imap: invalid number %q: %w", atom, err)
	}
	return n, nil
}

// ReadList reads a parenthesized list and calls fn for each element.
// Elements may be separated by one or more spaces.
func (d *Decoder) ReadList(fn func() error) error {
	if err := d.ExpectByte('('); err != nil {
		return err
	}
	for {
		d.SkipSpaces()
		b, err := d.PeekByte()
		if err != nil {
			return err
		}
		if b == ')' {
			d.pos++
			return nil
		}
		if err := fn(); err != nil {
			return err
		}
	}
}

// ReadFlag reads a flag such as \Seen, \* or $Forwarded.
func (d *Decoder) ReadFlag() (string, error) {
	if b, _ := d.PeekByte(); b == '\\' {
		d.pos++
		if b, _ := d.PeekByte(); b == '*' {
			d.pos++
			return `\*`, nil
		}
		atom, err := d.ReadAtom()
		if err != nil {
			return "", err
		}
		return `\` + atom, nil
	}
	return d.ReadAtom()
}

// ReadFlags reads a parenthesized list of flags.
func (d *Decoder) ReadFlags() ([]string, error) {
	var flags []string
	err := d.ReadList(func() error {
		flag, err := d.ReadFlag()
		if err != nil {
			return err
		}
		flags = append(flags, flag)
		return nil
	})
	return flags, err
}

// ReadFetchKey reads a FETCH data item name, including any section and
// partial suffix, e.g. "BODY[HEADER.FIELDS (DATE SUBJECT)]" or "BODY[1]<0>".
func (d *Decoder) ReadFetchKey() (string, error) {
	key, err := d.readBracketed()
	return strings.ToUpper(key), err
}

// readBracketed reads an atom that may carry a bracketed section.
func (d *Decoder) readBracketed() (string, error) {
	start := d.pos
	depth := 0
	for d.pos < len(d.s) {
		ch := d.s[d.pos]
		if depth == 0 && (ch == ' ' || ch == '(' || ch == ')') {
			break
		}
		switch ch {
		case '[':
			depth++
		case ']':
			depth--
		}
		d.pos++
	}
	if d.pos == start {
		return "", fmt.Errorf("imap: expected fetch item at %d", start)
	}
	return d.s[start:d.pos], nil
}

// ReadResponseCode reads a bracketed response code like "[UIDNEXT 42]".
// It returns ok=false, consuming nothing, when no code is present.
func (d *Decoder) ReadResponseCode() (code, arg string, ok bool, err error) {
	if b, _ := d.PeekByte(); b != '[' {
		return "", "", false, nil
	}
	end := strings.IndexByte(d.s[d.pos:], ']')
	if end < 0 {
		return "", "", false, fmt.Errorf("imap: unterminated response code")
	}
	inner := d.s[d.pos+1 : d.pos+end]
	d.pos += end + 1
	d.SkipSpaces()
	code, arg, _ = strings.Cut(inner, " ")
	return strings.ToUpper(code), arg, true, nil
}

// ReadValue reads any value: NIL (nil), an atom or quoted string (string),
// a literal (Literal) or a parenthesized list ([]any).
func (d *Decoder) ReadValue() (any, error) {
	b, err := d.PeekByte()
	if err != nil {
		return nil, err
	}
	switch b {
	case '(':
		var list []any
		err := d.ReadList(func() error {
			v, err := d.ReadValue()
			if err != nil {
				return err
			}
			list = append(list, v)
			return nil
		})
		return list, err
	case '"':
		return d.ReadQuotedString()
	case '{':
		return d.ReadLiteral()
	case '\\':
		return d.ReadFlag()
	}
	if d.peekNIL() {
		d.pos += 3
		return nil, nil
	}
	return d.readBracketed()
}

// ReadRest returns the unconsumed input.
func (d *Decoder) ReadRest() string {
	rest := d.s[d.pos:]
	d.pos = len(d.s)
	return rest
}

// ValueString returns the text of a string or literal value and "" otherwise.
func ValueString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case Literal:
		return string(v.Data)
	}
	return ""
}

// isAtomChar returns true if the byte is a valid atom character.
// Atom characters are any CHAR except atom-specials.
func isAtomChar(b byte) bool {
	if b < 0x20 || b > 0x7e {
		return false
	}
	switch b {
	case '(', ')', '{', ' ', '%', '*', '"', '\\', ']':
		return false
	}
	return true
}
