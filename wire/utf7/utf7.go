// Package utf7 implements the modified UTF-7 encoding IMAP uses for mailbox
// names (RFC 3501 section 5.1.3).
//
// Printable ASCII stands for itself except "&", which becomes "&-". Any other
// run of characters is written as UTF-16BE in base64 with "," in place of "/",
// between "&" and "-".
package utf7

import (
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

var b64 = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+,").WithPadding(base64.NoPadding)

// ErrInvalid is returned for malformed modified UTF-7 input.
var ErrInvalid = errors.New("utf7: invalid modified UTF-7")

func printable(r rune) bool {
	return r >= 0x20 && r <= 0x7e
}

// Encode converts a UTF-8 mailbox name to modified UTF-7.
func Encode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var run []rune
	shift := func() {
		if len(run) == 0 {
			return
		}
		units := utf16.Encode(run)
		raw := make([]byte, 0, 2*len(units))
		for _, u := range units {
			raw = append(raw, byte(u>>8), byte(u))
		}
		b.WriteByte('&')
		b.WriteString(b64.EncodeToString(raw))
		b.WriteByte('-')
		run = run[:0]
	}
	for _, r := range s {
		if !printable(r) {
			run = append(run, r)
			continue
		}
		shift()
		if r == '&' {
			b.WriteString("&-")
		} else {
			b.WriteRune(r)
		}
	}
	shift()
	return b.String()
}

// Decode converts a modified UTF-7 mailbox name to UTF-8.
func Decode(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for len(s) > 0 {
		amp := strings.IndexByte(s, '&')
		if amp < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:amp])
		s = s[amp+1:]

		end := strings.IndexByte(s, '-')
		if end < 0 {
			return "", ErrInvalid
		}
		if end == 0 {
			b.WriteByte('&')
			s = s[1:]
			continue
		}
		text, err := decodeRun(s[:end])
		if err != nil {
			return "", err
		}
		b.WriteString(text)
		s = s[end+1:]
	}
	return b.String(), nil
}

// DecodeLenient is Decode, but returns s unchanged when it is not valid
// modified UTF-7. Servers do send raw UTF-8 names.
func DecodeLenient(s string) string {
	out, err := Decode(s)
	if err != nil {
		return s
	}
	return out
}

func decodeRun(enc string) (string, error) {
	raw, err := b64.DecodeString(enc)
	if err != nil || len(raw)%2 != 0 {
		return "", ErrInvalid
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = uint16(raw[2*i])<<8 | uint16(raw[2*i+1])
	}
	runes := utf16.Decode(units)
	for _, r := range runes {
		// Printable ASCII must not be shifted, and broken surrogates decode
		// to the replacement character.
		if printable(r) || r == utf8.RuneError {
			return "", ErrInvalid
		}
	}
	return string(runes), nil
}
